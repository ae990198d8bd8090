package dataprovider

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

func TestSyntheticDeterminism(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 60)

	a, err := NewSyntheticProvider(zap.NewNop(), 7).GetOHLCV(context.Background(), "BTC/USDT", types.Timeframe1d, start, end)
	if err != nil {
		t.Fatalf("GetOHLCV: %v", err)
	}
	b, err := NewSyntheticProvider(zap.NewNop(), 7).GetOHLCV(context.Background(), "BTC/USDT", types.Timeframe1d, start, end)
	if err != nil {
		t.Fatalf("GetOHLCV: %v", err)
	}

	if len(a) != len(b) || len(a) == 0 {
		t.Fatalf("lengths = %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Close.Equal(b[i].Close) || !a[i].Volume.Equal(b[i].Volume) {
			t.Fatalf("bar %d differs between identically seeded providers", i)
		}
	}
}

func TestSyntheticSymbolsDiverge(t *testing.T) {
	p := NewSyntheticProvider(zap.NewNop(), 7)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)

	btc, err := p.GetOHLCV(context.Background(), "BTC/USDT", types.Timeframe1d, start, end)
	if err != nil {
		t.Fatalf("GetOHLCV: %v", err)
	}
	eth, err := p.GetOHLCV(context.Background(), "ETH/USDT", types.Timeframe1d, start, end)
	if err != nil {
		t.Fatalf("GetOHLCV: %v", err)
	}

	same := true
	for i := range btc {
		if !btc[i].Close.Div(btc[0].Close).Equal(eth[i].Close.Div(eth[0].Close)) {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different symbols produced the same normalized path")
	}
}

func TestSyntheticBarsAreCoherent(t *testing.T) {
	p := NewSyntheticProvider(zap.NewNop(), 42)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 90)

	bars, err := p.GetOHLCV(context.Background(), "SOL/USDT", types.Timeframe1d, start, end)
	if err != nil {
		t.Fatalf("GetOHLCV: %v", err)
	}
	if len(bars) == 0 {
		t.Fatal("no bars generated")
	}

	for i, bar := range bars {
		if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) {
			t.Fatalf("bar %d high below body", i)
		}
		if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
			t.Fatalf("bar %d low above body", i)
		}
		if !bar.Close.IsPositive() {
			t.Fatalf("bar %d close not positive", i)
		}
		if i > 0 && !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
	}
}

func TestSyntheticEmptyRange(t *testing.T) {
	p := NewSyntheticProvider(zap.NewNop(), 1)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := p.GetOHLCV(context.Background(), "BTC/USDT", types.Timeframe1d, at, at); !types.IsDataError(err) {
		t.Fatalf("error = %v, want DataError for an empty range", err)
	}
}

func TestSyntheticHonorsContext(t *testing.T) {
	p := NewSyntheticProvider(zap.NewNop(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := p.GetOHLCV(ctx, "BTC/USDT", types.Timeframe1d, start, start.AddDate(0, 0, 10)); err == nil {
		t.Fatal("cancelled context accepted")
	}
}

func TestSyntheticAvailableSymbols(t *testing.T) {
	p := NewSyntheticProvider(zap.NewNop(), 1)

	symbols, err := p.GetAvailableSymbols(context.Background())
	if err != nil {
		t.Fatalf("GetAvailableSymbols: %v", err)
	}
	want := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}
	if len(symbols) != len(want) {
		t.Fatalf("symbols = %v, want %v", symbols, want)
	}
	for i := range want {
		if symbols[i] != want[i] {
			t.Fatalf("symbols = %v, want %v", symbols, want)
		}
	}
}

func TestSyntheticMarketContext(t *testing.T) {
	p := NewSyntheticProvider(zap.NewNop(), 9)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mc, err := p.GetMarketContext(context.Background(), "BTC/USDT", at)
	if err != nil {
		t.Fatalf("GetMarketContext: %v", err)
	}
	if mc.Symbol != "BTC/USDT" {
		t.Errorf("symbol = %q", mc.Symbol)
	}
	if mc.Regime == types.RegimeUnknown {
		t.Error("regime unknown for a 30-day window")
	}
}
