package types

import (
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Validate checks the whole config and reports every problem found.
// Returns nil or a *ValidationError.
func (c *BacktestConfig) Validate() error {
	ve := &ValidationError{}

	if len(c.Symbols) == 0 {
		ve.Add("symbols", "at least one symbol is required")
	}
	for i, s := range c.Symbols {
		if s == "" {
			ve.Addf("symbols", "symbol %d is empty", i)
		}
	}
	if c.Timeframe.Duration() <= 0 {
		ve.Add("timeframe", "unknown timeframe")
	}
	if c.StartDate.IsZero() {
		ve.Add("startDate", "start date is required")
	}
	if c.EndDate.IsZero() {
		ve.Add("endDate", "end date is required")
	}
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && !c.EndDate.After(c.StartDate) {
		ve.Add("endDate", "end date must be after start date")
	}
	if c.InitialCapital.LessThanOrEqual(decimal.Zero) {
		ve.Add("initialCapital", "initial capital must be positive")
	}
	if !c.Leverage.IsZero() && c.Leverage.LessThan(one) {
		ve.Add("leverage", "leverage must be >= 1")
	}

	c.Commission.validate(ve)
	c.Slippage.validate(ve)
	c.Risk.validate(ve)

	if c.WalkForward != nil {
		c.WalkForward.validate(ve)
	}

	return ve.OrNil()
}

func (c *CommissionConfig) validate(ve *ValidationError) {
	switch c.Model {
	case CommissionPercentage:
		if c.Rate.IsNegative() {
			ve.Add("commission.rate", "rate must be non-negative")
		}
	case CommissionFixed:
		if c.Fixed.IsNegative() {
			ve.Add("commission.fixed", "fixed fee must be non-negative")
		}
	case CommissionTiered:
		if len(c.Tiers) == 0 {
			ve.Add("commission.tiers", "tiered model requires at least one tier")
		}
		for i, tier := range c.Tiers {
			if tier.Rate.IsNegative() {
				ve.Addf("commission.tiers", "tier %d rate must be non-negative", i)
			}
			if i > 0 && !tier.Threshold.GreaterThan(c.Tiers[i-1].Threshold) {
				ve.Addf("commission.tiers", "tier %d threshold must exceed tier %d", i, i-1)
			}
		}
	case "":
		// commission disabled
	default:
		ve.Addf("commission.model", "unknown model %q", c.Model)
	}
}

func (s *SlippageConfig) validate(ve *ValidationError) {
	switch s.Model {
	case SlippagePercentage:
		if s.Bps.IsNegative() {
			ve.Add("slippage.bps", "basis points must be non-negative")
		}
	case SlippageFixed:
		if s.Fixed.IsNegative() {
			ve.Add("slippage.fixed", "fixed offset must be non-negative")
		}
	case SlippageAdaptive:
		if s.ImpactFactor.IsNegative() {
			ve.Add("slippage.impactFactor", "impact factor must be non-negative")
		}
	case "":
		// slippage disabled
	default:
		ve.Addf("slippage.model", "unknown model %q", s.Model)
	}
}

func (r *RiskConfig) validate(ve *ValidationError) {
	checkFraction := func(field string, v decimal.Decimal) {
		if v.IsNegative() || v.GreaterThan(one) {
			ve.Addf(field, "must be a fraction in [0,1], got %s", v)
		}
	}
	checkFraction("risk.maxPositionSize", r.MaxPositionSize)
	checkFraction("risk.maxDrawdown", r.MaxDrawdown)
	checkFraction("risk.maxDailyLoss", r.MaxDailyLoss)
	checkFraction("risk.stopLoss", r.StopLoss)
	if r.TakeProfit.IsNegative() {
		ve.Add("risk.takeProfit", "take profit must be non-negative")
	}
}

func (w *WalkForwardConfig) validate(ve *ValidationError) {
	if w.WindowSize <= 0 {
		ve.Add("walkForward.windowSize", "window size must be positive")
	}
	if w.TestSize <= 0 {
		ve.Add("walkForward.testSize", "test size must be positive")
	}
	if w.StepSize <= 0 {
		ve.Add("walkForward.stepSize", "step size must be positive")
	}
}

// Validate checks the optimization config against a parameter schema
func (c *OptimizationConfig) Validate(schema []ParameterSpec) error {
	ve := &ValidationError{}

	switch c.Method {
	case MethodGrid, MethodRandom, MethodBayesian, MethodGenetic:
	case "":
		ve.Add("method", "optimization method is required")
	default:
		ve.Addf("method", "unknown method %q", c.Method)
	}
	if c.Objective == "" {
		ve.Add("objective", "objective metric is required")
	}
	if c.Iterations < 0 {
		ve.Add("iterations", "iterations must be non-negative")
	}
	if c.Workers < 0 {
		ve.Add("workers", "workers must be non-negative")
	}
	if c.Method == MethodGenetic {
		if c.MutationRate < 0 || c.MutationRate > 1 {
			ve.Add("mutationRate", "mutation rate must be in [0,1]")
		}
		if c.CrossoverRate < 0 || c.CrossoverRate > 1 {
			ve.Add("crossoverRate", "crossover rate must be in [0,1]")
		}
	}

	if len(schema) == 0 {
		ve.Add("schema", "parameter schema is empty")
	}
	for _, spec := range schema {
		if spec.Name == "" {
			ve.Add("schema", "parameter with empty name")
			continue
		}
		switch spec.Type {
		case ParamContinuous, ParamInteger:
			if spec.Max < spec.Min {
				ve.Addf("schema."+spec.Name, "max %v below min %v", spec.Max, spec.Min)
			}
		case ParamCategorical:
			if len(spec.Choices) == 0 {
				ve.Addf("schema."+spec.Name, "categorical parameter has no choices")
			}
		default:
			ve.Addf("schema."+spec.Name, "unknown parameter type %q", spec.Type)
		}
	}

	return ve.OrNil()
}

// Validate checks comparison weights sum roughly to one when supplied
func (c *ComparisonConfig) Validate() error {
	ve := &ValidationError{}

	if len(c.Weights) > 0 {
		var sum float64
		for name, w := range c.Weights {
			if w < 0 {
				ve.Addf("weights."+name, "weight must be non-negative, got %v", w)
			}
			sum += w
		}
		if sum < 0.99 || sum > 1.01 {
			ve.Addf("weights", "weights must sum to 1.0, got %v", sum)
		}
	}
	if c.Alpha < 0 || c.Alpha >= 1 {
		ve.Add("alpha", "alpha must be in [0,1)")
	}

	return ve.OrNil()
}
