package types

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validConfig() *BacktestConfig {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &BacktestConfig{
		Symbols:        []string{"BTC/USDT"},
		Timeframe:      Timeframe1d,
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 30),
		InitialCapital: decimal.NewFromInt(10000),
	}
}

func TestBacktestConfigValid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestBacktestConfigCollectsAllIssues(t *testing.T) {
	config := &BacktestConfig{
		Symbols:        nil,
		StartDate:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital: decimal.Zero,
		Leverage:       decimal.NewFromFloat(0.5),
	}

	err := config.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	// symbols, end-before-start, capital, leverage at minimum
	if len(ve.Issues) < 4 {
		t.Fatalf("issues = %d (%v), want every problem reported", len(ve.Issues), ve.Issues)
	}
}

func TestBacktestConfigRiskFractions(t *testing.T) {
	config := validConfig()
	config.Risk.MaxDrawdown = decimal.NewFromFloat(1.5)

	if err := config.Validate(); !IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for fraction above 1", err)
	}
}

func TestBacktestConfigUnknownModels(t *testing.T) {
	config := validConfig()
	config.Commission.Model = "banana"
	config.Slippage.Model = "mango"

	err := config.Validate()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(ve.Issues) != 2 {
		t.Fatalf("issues = %v, want both unknown models reported", ve.Issues)
	}
}

func TestBacktestConfigTieredCommission(t *testing.T) {
	config := validConfig()
	config.Commission.Model = CommissionTiered
	config.Commission.Tiers = []CommissionTier{
		{Threshold: decimal.NewFromInt(100), Rate: decimal.NewFromFloat(0.002)},
		{Threshold: decimal.NewFromInt(50), Rate: decimal.NewFromFloat(0.001)},
	}

	if err := config.Validate(); !IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for non-ascending tiers", err)
	}

	config.Commission.Tiers = []CommissionTier{
		{Threshold: decimal.Zero, Rate: decimal.NewFromFloat(0.002)},
		{Threshold: decimal.NewFromInt(100000), Rate: decimal.NewFromFloat(0.001)},
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestOptimizationConfigValidate(t *testing.T) {
	schema := []ParameterSpec{
		{Name: "period", Type: ParamInteger, Min: 2, Max: 50, Default: 14},
	}

	good := &OptimizationConfig{Method: MethodRandom, Objective: "sharpeRatio"}
	if err := good.Validate(schema); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := (&OptimizationConfig{Objective: "sharpeRatio"}).Validate(schema); !IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for missing method", err)
	}
	if err := (&OptimizationConfig{Method: "hillclimb", Objective: "x"}).Validate(schema); !IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for unknown method", err)
	}
	if err := good.Validate(nil); !IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for empty schema", err)
	}

	genetic := &OptimizationConfig{
		Method:       MethodGenetic,
		Objective:    "sharpeRatio",
		MutationRate: 1.5,
	}
	if err := genetic.Validate(schema); !IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for mutation rate above 1", err)
	}

	broken := []ParameterSpec{
		{Name: "period", Type: ParamInteger, Min: 50, Max: 2},
	}
	if err := good.Validate(broken); !IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for max below min", err)
	}
}

func TestComparisonConfigValidate(t *testing.T) {
	if err := (&ComparisonConfig{}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	good := &ComparisonConfig{
		Weights: map[string]float64{"sharpeRatio": 0.6, "winRate": 0.4},
		Alpha:   0.01,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := &ComparisonConfig{Weights: map[string]float64{"sharpeRatio": 0.5}}
	if err := bad.Validate(); !IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for weights not summing to 1", err)
	}

	if err := (&ComparisonConfig{Alpha: 1}).Validate(); !IsValidation(err) {
		t.Fatal("alpha = 1 accepted, want rejection")
	}
	if err := (&ComparisonConfig{Alpha: -0.1}).Validate(); !IsValidation(err) {
		t.Fatal("negative alpha accepted, want rejection")
	}
}

func TestTimeframeDuration(t *testing.T) {
	if Timeframe1d.Duration() != 24*time.Hour {
		t.Error("1d duration wrong")
	}
	if Timeframe5m.Duration() != 5*time.Minute {
		t.Error("5m duration wrong")
	}
	if Timeframe1d.Intraday() {
		t.Error("1d reported intraday")
	}
	if !Timeframe1h.Intraday() {
		t.Error("1h not reported intraday")
	}
}
