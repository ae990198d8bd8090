package dataprovider

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

func bar(ts time.Time, open, high, low, close float64) types.OHLCV {
	return types.OHLCV{
		Symbol:    "BTC/USDT",
		Timeframe: types.Timeframe1d,
		Timestamp: ts,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromInt(100),
	}
}

func TestNormalizeSortsAndDedupes(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 0, 1)
	t2 := t0.AddDate(0, 0, 2)

	bars := []types.OHLCV{
		bar(t2, 102, 103, 101, 102),
		bar(t0, 100, 101, 99, 100),
		bar(t1, 101, 102, 100, 101),
		bar(t1, 150, 151, 149, 150), // duplicate timestamp, must win
	}

	out, err := Normalize(zap.NewNop(), "BTC/USDT", bars)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("bars = %d, want 3 after dedupe", len(out))
	}
	for i := 1; i < len(out); i++ {
		if !out[i].Timestamp.After(out[i-1].Timestamp) {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
	}
	if !out[1].Close.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("dedupe kept close %s, want the last write 150", out[1].Close)
	}
}

func TestNormalizeRepairsHighLow(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// High below the close, low above the open
	broken := []types.OHLCV{bar(t0, 100, 90, 105, 110)}

	out, err := Normalize(zap.NewNop(), "BTC/USDT", broken)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	b := out[0]
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		t.Errorf("high %s not raised to cover open/close", b.High)
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
		t.Errorf("low %s not lowered to cover open/close", b.Low)
	}
}

func TestNormalizeRejectsNegativePrice(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := Normalize(zap.NewNop(), "BTC/USDT", []types.OHLCV{bar(t0, -1, 1, -2, 1)})
	if !types.IsDataError(err) {
		t.Fatalf("error = %v, want DataError", err)
	}
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	_, err := Normalize(zap.NewNop(), "BTC/USDT", nil)
	if !types.IsDataError(err) {
		t.Fatalf("error = %v, want DataError for empty series", err)
	}
}

func TestDetectGaps(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []types.OHLCV{
		bar(t0, 100, 101, 99, 100),
		bar(t0.AddDate(0, 0, 1), 100, 101, 99, 100),
		bar(t0.AddDate(0, 0, 5), 100, 101, 99, 100), // 4-day gap
		bar(t0.AddDate(0, 0, 6), 100, 101, 99, 100),
	}

	gaps := DetectGaps(bars, types.Timeframe1d, 1.5)
	if len(gaps) != 1 || gaps[0] != 2 {
		t.Fatalf("gaps = %v, want [2]", gaps)
	}

	if got := DetectGaps(bars[:1], types.Timeframe1d, 1.5); got != nil {
		t.Errorf("gaps on single bar = %v, want nil", got)
	}
	if got := DetectGaps(bars, types.Timeframe1d, 0); got != nil {
		t.Errorf("gaps with zero tolerance = %v, want nil", got)
	}
}

func TestFilterRange(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []types.OHLCV
	for i := 0; i < 10; i++ {
		bars = append(bars, bar(t0.AddDate(0, 0, i), 100, 101, 99, 100))
	}

	got := FilterRange(bars, t0.AddDate(0, 0, 2), t0.AddDate(0, 0, 5))
	if len(got) != 4 {
		t.Fatalf("filtered = %d bars, want 4 inclusive of both ends", len(got))
	}
	if !got[0].Timestamp.Equal(t0.AddDate(0, 0, 2)) {
		t.Errorf("first = %v, want start boundary", got[0].Timestamp)
	}
	if !got[3].Timestamp.Equal(t0.AddDate(0, 0, 5)) {
		t.Errorf("last = %v, want end boundary", got[3].Timestamp)
	}
}
