package strategy

import (
	"fmt"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// MovingAverage trades simple moving average crossovers. It is the
// reference strategy: a BUY when the fast average crosses above the slow
// one on the current bar, a SELL on the opposite cross, HOLD otherwise.
type MovingAverage struct{}

// NewMovingAverage creates the crossover strategy
func NewMovingAverage() *MovingAverage {
	return &MovingAverage{}
}

func (s *MovingAverage) Name() string { return "moving_average" }

func (s *MovingAverage) Description() string {
	return "Trades fast/slow simple moving average crossovers"
}

// ParameterSchema declares the tunable periods
func (s *MovingAverage) ParameterSchema() []types.ParameterSpec {
	return []types.ParameterSpec{
		{Name: "fast_period", Type: types.ParamInteger, Min: 2, Max: 100, Step: 1, Default: 10},
		{Name: "slow_period", Type: types.ParamInteger, Min: 5, Max: 300, Step: 1, Default: 30},
	}
}

// GenerateSignal emits a signal only on the bar where the cross happens
func (s *MovingAverage) GenerateSignal(bars []types.OHLCV, params map[string]float64) (*types.Signal, error) {
	fastF, ok := params["fast_period"]
	if !ok {
		return nil, errMissingParam("fast_period")
	}
	slowF, ok := params["slow_period"]
	if !ok {
		return nil, errMissingParam("slow_period")
	}
	fast, slow := int(fastF), int(slowF)
	if fast >= slow {
		return nil, fmt.Errorf("fast_period %d must be below slow_period %d", fast, slow)
	}

	// Need one bar beyond the slow window to compare against the prior cross state
	last := len(bars) - 1
	if last < slow {
		return nil, nil
	}

	fastNow := sma(bars, last, fast)
	slowNow := sma(bars, last, slow)
	fastPrev := sma(bars, last-1, fast)
	slowPrev := sma(bars, last-1, slow)

	wasAbove := fastPrev.GreaterThan(slowPrev)
	isAbove := fastNow.GreaterThan(slowNow)
	if wasAbove == isAbove {
		return nil, nil
	}

	bar := bars[last]
	spread, _ := fastNow.Sub(slowNow).Abs().Div(slowNow).Float64()
	strength := clamp01(spread * 50)

	direction := types.SignalSell
	reasoning := "fast SMA crossed below slow SMA"
	if isAbove {
		direction = types.SignalBuy
		reasoning = "fast SMA crossed above slow SMA"
	}

	return &types.Signal{
		Timestamp:  bar.Timestamp,
		Direction:  direction,
		Strength:   strength,
		Confidence: 0.5 + strength/2,
		Price:      bar.Close,
		Reasoning:  reasoning,
	}, nil
}
