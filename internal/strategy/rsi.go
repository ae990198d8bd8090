package strategy

import (
	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// RSI trades oversold/overbought extremes of the relative strength index
// using Wilder smoothing.
type RSI struct{}

// NewRSI creates the RSI strategy
func NewRSI() *RSI {
	return &RSI{}
}

func (s *RSI) Name() string { return "rsi" }

func (s *RSI) Description() string {
	return "Buys oversold and sells overbought RSI extremes"
}

// ParameterSchema declares period and band levels
func (s *RSI) ParameterSchema() []types.ParameterSpec {
	return []types.ParameterSpec{
		{Name: "period", Type: types.ParamInteger, Min: 2, Max: 50, Step: 1, Default: 14},
		{Name: "oversold", Type: types.ParamContinuous, Min: 5, Max: 45, Step: 5, Default: 30},
		{Name: "overbought", Type: types.ParamContinuous, Min: 55, Max: 95, Step: 5, Default: 70},
	}
}

// GenerateSignal fires when RSI crosses back out of an extreme band
func (s *RSI) GenerateSignal(bars []types.OHLCV, params map[string]float64) (*types.Signal, error) {
	period := int(params["period"])
	if period < 2 {
		return nil, errMissingParam("period")
	}
	oversold := params["oversold"]
	overbought := params["overbought"]

	last := len(bars) - 1
	if last < period+1 {
		return nil, nil
	}

	rsiNow := wilderRSI(bars, last, period)
	rsiPrev := wilderRSI(bars, last-1, period)

	bar := bars[last]
	switch {
	case rsiPrev < oversold && rsiNow >= oversold:
		strength := clamp01((oversold - rsiPrev) / oversold)
		return &types.Signal{
			Timestamp:  bar.Timestamp,
			Direction:  types.SignalBuy,
			Strength:   strength,
			Confidence: 0.5 + strength/2,
			Price:      bar.Close,
			Reasoning:  "RSI recovered from oversold",
		}, nil
	case rsiPrev > overbought && rsiNow <= overbought:
		strength := clamp01((rsiPrev - overbought) / (100 - overbought))
		return &types.Signal{
			Timestamp:  bar.Timestamp,
			Direction:  types.SignalSell,
			Strength:   strength,
			Confidence: 0.5 + strength/2,
			Price:      bar.Close,
			Reasoning:  "RSI fell back from overbought",
		}, nil
	}

	return nil, nil
}

// wilderRSI computes the RSI at index end using Wilder smoothing over the
// whole available history up to end
func wilderRSI(bars []types.OHLCV, end, period int) float64 {
	if end < period {
		return 50
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closeAt(bars, i) - closeAt(bars, i-1)
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	p := float64(period)
	for i := period + 1; i <= end; i++ {
		change := closeAt(bars, i) - closeAt(bars, i-1)
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
