package strategy

import (
	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// Momentum trades when the net return over a lookback window exceeds a
// threshold in either direction.
type Momentum struct{}

// NewMomentum creates the momentum strategy
func NewMomentum() *Momentum {
	return &Momentum{}
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) Description() string {
	return "Trades sustained price momentum over a lookback window"
}

// ParameterSchema declares lookback and trigger threshold
func (s *Momentum) ParameterSchema() []types.ParameterSpec {
	return []types.ParameterSpec{
		{Name: "period", Type: types.ParamInteger, Min: 5, Max: 100, Step: 1, Default: 14},
		{Name: "threshold", Type: types.ParamContinuous, Min: 0.001, Max: 0.1, Step: 0.001, Default: 0.02},
	}
}

// GenerateSignal fires while momentum exceeds the threshold
func (s *Momentum) GenerateSignal(bars []types.OHLCV, params map[string]float64) (*types.Signal, error) {
	period := int(params["period"])
	if period < 1 {
		return nil, errMissingParam("period")
	}
	threshold := params["threshold"]

	last := len(bars) - 1
	if last < period {
		return nil, nil
	}

	past := closeAt(bars, last-period)
	current := closeAt(bars, last)
	if past == 0 {
		return nil, nil
	}
	momentum := (current - past) / past

	bar := bars[last]
	switch {
	case momentum > threshold:
		strength := clamp01(momentum / (threshold * 3))
		return &types.Signal{
			Timestamp:  bar.Timestamp,
			Direction:  types.SignalBuy,
			Strength:   strength,
			Confidence: 0.5 + strength/2,
			Price:      bar.Close,
			Reasoning:  "positive momentum above threshold",
		}, nil
	case momentum < -threshold:
		strength := clamp01(-momentum / (threshold * 3))
		return &types.Signal{
			Timestamp:  bar.Timestamp,
			Direction:  types.SignalSell,
			Strength:   strength,
			Confidence: 0.5 + strength/2,
			Price:      bar.Close,
			Reasoning:  "negative momentum below threshold",
		}, nil
	}

	return nil, nil
}
