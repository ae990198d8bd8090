// Package dataprovider supplies normalized historical market data to the
// engine. Providers return bars sorted, deduplicated, and range-checked;
// consumers never see raw feed quirks.
package dataprovider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

var errEmptyRange = errors.New("end must be after start")

// Provider is the read interface for historical market data
type Provider interface {
	// GetOHLCV returns bars in [start, end], sorted ascending
	GetOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error)

	// GetSentiment returns scored news events in [start, end]
	GetSentiment(ctx context.Context, symbol string, start, end time.Time) ([]types.SentimentEvent, error)

	// GetEconomicEvents returns calendar entries for a currency in [start, end]
	GetEconomicEvents(ctx context.Context, currency string, start, end time.Time) ([]types.EconomicEvent, error)

	// GetMarketContext derives the market state for a symbol at a point in time
	GetMarketContext(ctx context.Context, symbol string, at time.Time) (*types.MarketContext, error)

	// GetAvailableSymbols lists the symbols the provider can serve, sorted
	GetAvailableSymbols(ctx context.Context) ([]string, error)
}

// Normalize sorts bars, drops exact-duplicate timestamps keeping the last
// occurrence, and repairs high/low bounds. It returns a DataError when the
// series is unusable (empty after cleaning, or negative prices).
func Normalize(logger *zap.Logger, symbol string, bars []types.OHLCV) ([]types.OHLCV, error) {
	if len(bars) == 0 {
		return nil, &types.DataError{Op: "normalize", Symbol: symbol, Err: fmt.Errorf("empty series")}
	}

	sorted := make([]types.OHLCV, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := sorted[:0]
	dropped := 0
	for i := range sorted {
		bar := sorted[i]

		if bar.Close.IsNegative() || bar.Open.IsNegative() ||
			bar.High.IsNegative() || bar.Low.IsNegative() {
			return nil, &types.DataError{
				Op:     "normalize",
				Symbol: symbol,
				Err:    fmt.Errorf("negative price at %s", bar.Timestamp.Format(time.RFC3339)),
			}
		}
		if bar.Volume.IsNegative() {
			bar.Volume = bar.Volume.Abs()
		}

		// Repair inverted high/low against open/close
		hi := bar.Open
		if bar.Close.GreaterThan(hi) {
			hi = bar.Close
		}
		lo := bar.Open
		if bar.Close.LessThan(lo) {
			lo = bar.Close
		}
		if bar.High.LessThan(hi) {
			bar.High = hi
		}
		if bar.Low.GreaterThan(lo) || bar.Low.IsZero() {
			bar.Low = lo
		}

		// Duplicate timestamp: last write wins
		if len(out) > 0 && out[len(out)-1].Timestamp.Equal(bar.Timestamp) {
			out[len(out)-1] = bar
			dropped++
			continue
		}
		out = append(out, bar)
	}

	if dropped > 0 && logger != nil {
		logger.Warn("dropped duplicate bars",
			zap.String("symbol", symbol),
			zap.Int("dropped", dropped),
		)
	}

	return out, nil
}

// DetectGaps reports index positions where the spacing between consecutive
// bars exceeds tolerance times the expected interval. Gaps are logged, not
// fatal; weekends and holidays produce them routinely.
func DetectGaps(bars []types.OHLCV, timeframe types.Timeframe, tolerance float64) []int {
	if len(bars) < 2 || tolerance <= 0 {
		return nil
	}
	limit := time.Duration(float64(timeframe.Duration()) * tolerance)

	var gaps []int
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Sub(bars[i-1].Timestamp) > limit {
			gaps = append(gaps, i)
		}
	}
	return gaps
}

// FilterRange returns the bars within [start, end] inclusive
func FilterRange(bars []types.OHLCV, start, end time.Time) []types.OHLCV {
	var filtered []types.OHLCV
	for _, bar := range bars {
		if (bar.Timestamp.Equal(start) || bar.Timestamp.After(start)) &&
			(bar.Timestamp.Equal(end) || bar.Timestamp.Before(end)) {
			filtered = append(filtered, bar)
		}
	}
	return filtered
}
