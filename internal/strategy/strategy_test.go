package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

func closesToBars(closes []float64) []types.OHLCV {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.OHLCV, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bars[i] = types.OHLCV{
			Symbol:    "BTC/USDT",
			Timeframe: types.Timeframe1d,
			Timestamp: start.AddDate(0, 0, i),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(100),
		}
	}
	return bars
}

func TestRegistryBuiltins(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	for _, name := range []string{"moving_average", "rsi", "momentum"} {
		strat, ok := registry.Create(name)
		if !ok {
			t.Fatalf("builtin %q not registered", name)
		}
		if strat.Name() != name {
			t.Errorf("Name() = %q, want %q", strat.Name(), name)
		}
		if len(strat.ParameterSchema()) == 0 {
			t.Errorf("%q has no parameter schema", name)
		}
	}

	if _, ok := registry.Create("nope"); ok {
		t.Error("unknown strategy resolved")
	}
	if got := len(registry.List()); got != 3 {
		t.Errorf("List() = %d entries, want 3", got)
	}
}

func TestResolveParamsDefaults(t *testing.T) {
	schema := NewMovingAverage().ParameterSchema()

	params, err := ResolveParams(schema, nil)
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if params["fast_period"] != 10 || params["slow_period"] != 30 {
		t.Fatalf("defaults = %v, want fast 10 slow 30", params)
	}
}

func TestResolveParamsRangeCheck(t *testing.T) {
	schema := NewMovingAverage().ParameterSchema()

	_, err := ResolveParams(schema, map[string]float64{"fast_period": 1000})
	if !types.IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for out-of-range value", err)
	}
}

func TestResolveParamsUnknown(t *testing.T) {
	schema := NewMovingAverage().ParameterSchema()

	_, err := ResolveParams(schema, map[string]float64{"mystery": 1})
	if !types.IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for unknown parameter", err)
	}
}

func TestResolveParamsIntegerTruncation(t *testing.T) {
	schema := NewMovingAverage().ParameterSchema()

	params, err := ResolveParams(schema, map[string]float64{"fast_period": 12.9})
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if params["fast_period"] != 12 {
		t.Fatalf("fast_period = %v, want truncated 12", params["fast_period"])
	}
}

func TestResolveParamsCategorical(t *testing.T) {
	schema := []types.ParameterSpec{
		{Name: "mode", Type: types.ParamCategorical, Choices: []float64{1, 2, 4}, Default: 1},
	}

	if _, err := ResolveParams(schema, map[string]float64{"mode": 3}); !types.IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError for invalid choice", err)
	}
	params, err := ResolveParams(schema, map[string]float64{"mode": 4})
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if params["mode"] != 4 {
		t.Fatalf("mode = %v, want 4", params["mode"])
	}
}

func TestMovingAverageCrossFiresOnce(t *testing.T) {
	// Flat, then a jump and steady rise: the fast average crosses above the
	// slow exactly once and stays above
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
		if i >= 20 {
			closes[i] = 110 + float64(i-20)
		}
	}
	bars := closesToBars(closes)
	params := map[string]float64{"fast_period": 3, "slow_period": 10}
	strat := NewMovingAverage()

	var signals []*types.Signal
	for i := 11; i <= len(bars); i++ {
		sig, err := strat.GenerateSignal(bars[:i], params)
		if err != nil {
			t.Fatalf("GenerateSignal at %d: %v", i, err)
		}
		if sig != nil {
			signals = append(signals, sig)
		}
	}

	if len(signals) != 1 {
		t.Fatalf("signals = %d, want exactly one cross", len(signals))
	}
	sig := signals[0]
	if sig.Direction != types.SignalBuy {
		t.Fatalf("direction = %s, want BUY", sig.Direction)
	}
	if sig.Strength < 0 || sig.Strength > 1 {
		t.Fatalf("strength = %v outside [0,1]", sig.Strength)
	}
	if sig.Confidence < 0 || sig.Confidence > 1 {
		t.Fatalf("confidence = %v outside [0,1]", sig.Confidence)
	}
}

func TestMovingAverageNoSignalBeforeWarmup(t *testing.T) {
	bars := closesToBars([]float64{100, 101, 102, 103, 104})
	params := map[string]float64{"fast_period": 3, "slow_period": 10}

	sig, err := NewMovingAverage().GenerateSignal(bars, params)
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if sig != nil {
		t.Fatalf("signal before slow window filled: %+v", sig)
	}
}

func TestMovingAverageRejectsInvertedPeriods(t *testing.T) {
	bars := closesToBars(make([]float64, 50))
	params := map[string]float64{"fast_period": 30, "slow_period": 10}

	_, err := NewMovingAverage().GenerateSignal(bars, params)
	if err == nil {
		t.Fatal("expected error when fast period exceeds slow period")
	}
}

func TestRSISignals(t *testing.T) {
	strat := NewRSI()
	params, err := ResolveParams(strat.ParameterSchema(), nil)
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}

	// A long decline pins RSI deep in oversold; the recovery crossing back
	// above the band fires a BUY
	closes := make([]float64, 35)
	for i := range closes {
		if i < 25 {
			closes[i] = 200 - 3*float64(i)
		} else {
			closes[i] = closes[24] + 5*float64(i-24)
		}
	}
	bars := closesToBars(closes)

	var sawBuy, sawSell bool
	for i := 17; i <= len(bars); i++ {
		sig, err := strat.GenerateSignal(bars[:i], params)
		if err != nil {
			t.Fatalf("GenerateSignal at %d: %v", i, err)
		}
		if sig != nil && sig.Direction == types.SignalBuy {
			sawBuy = true
		}
		if sig != nil && sig.Direction == types.SignalSell {
			sawSell = true
		}
	}
	if !sawBuy {
		t.Fatal("no BUY on the recovery out of oversold")
	}
	if sawSell {
		t.Fatal("SELL fired without an overbought excursion")
	}
}

func TestMomentumSignals(t *testing.T) {
	strat := NewMomentum()
	params, err := ResolveParams(strat.ParameterSchema(), nil)
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}

	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 * math.Pow(1.02, float64(i))
	}
	bars := closesToBars(closes)

	var sawBuy bool
	for i := 20; i <= len(bars); i++ {
		sig, err := strat.GenerateSignal(bars[:i], params)
		if err != nil {
			t.Fatalf("GenerateSignal at %d: %v", i, err)
		}
		if sig != nil && sig.Direction == types.SignalBuy {
			sawBuy = true
		}
	}
	if !sawBuy {
		t.Fatal("no BUY in a strong sustained uptrend")
	}
}
