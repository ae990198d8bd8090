package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FieldIssue is one problem found while validating a configuration
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every configuration problem found, not just
// the first one.
type ValidationError struct {
	Issues []FieldIssue `json:"issues"`
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = fmt.Sprintf("%s: %s", issue.Field, issue.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends an issue
func (e *ValidationError) Add(field, message string) {
	e.Issues = append(e.Issues, FieldIssue{Field: field, Message: message})
}

// Addf appends a formatted issue
func (e *ValidationError) Addf(field, format string, args ...interface{}) {
	e.Add(field, fmt.Sprintf(format, args...))
}

// OrNil returns the error if any issue was recorded, nil otherwise
func (e *ValidationError) OrNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

// DataError wraps failures fetching or normalizing market data
type DataError struct {
	Op     string // "fetch", "normalize", "gap"
	Symbol string
	Err    error
}

func (e *DataError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("data %s %s: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("data %s: %v", e.Op, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// StrategyError wraps a strategy failure at a specific bar. The engine
// records it and degrades the bar to HOLD instead of aborting the run.
type StrategyError struct {
	Strategy  string
	Timestamp time.Time
	Err       error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s at %s: %v", e.Strategy, e.Timestamp.Format(time.RFC3339), e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// BacktestingError wraps engine-level failures that abort a run
type BacktestingError struct {
	RunID string
	Phase string // "load", "simulate", "metrics"
	Err   error
}

func (e *BacktestingError) Error() string {
	return fmt.Sprintf("backtest %s (%s): %v", e.RunID, e.Phase, e.Err)
}

func (e *BacktestingError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDataError reports whether err is (or wraps) a DataError
func IsDataError(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}
