// Package regime classifies market regimes from price series.
package regime

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// Config holds classification thresholds. Volatility thresholds are
// annualized; the trend threshold is a net return over the window.
type Config struct {
	Window         int     // bars per classification window
	HighVol        float64 // annualized vol above this is volatile
	LowVol         float64 // annualized vol below this is low_volatility
	TrendThreshold float64 // net return magnitude that counts as trending
	PeriodsPerYear float64 // annualization factor for the bar interval
}

// DefaultConfig returns thresholds tuned for daily bars
func DefaultConfig() *Config {
	return &Config{
		Window:         20,
		HighVol:        0.40,
		LowVol:         0.10,
		TrendThreshold: 0.05,
		PeriodsPerYear: 252,
	}
}

// Classifier labels windows of bars with a market regime
type Classifier struct {
	logger *zap.Logger
	config *Config
}

// NewClassifier creates a regime classifier
func NewClassifier(logger *zap.Logger, config *Config) *Classifier {
	if config == nil {
		config = DefaultConfig()
	}
	return &Classifier{
		logger: logger,
		config: config,
	}
}

// Classify labels a single window of bars. Volatility takes precedence
// over trend so that a violent rally is reported volatile, not trending.
func (c *Classifier) Classify(bars []types.OHLCV) types.MarketRegime {
	if len(bars) < 2 {
		return types.RegimeUnknown
	}

	returns := barReturns(bars)
	vol := annualizedVol(returns, c.config.PeriodsPerYear)

	first, _ := bars[0].Close.Float64()
	last, _ := bars[len(bars)-1].Close.Float64()
	var trend float64
	if first != 0 {
		trend = (last - first) / first
	}

	switch {
	case vol > c.config.HighVol:
		return types.RegimeVolatile
	case vol < c.config.LowVol:
		return types.RegimeLowVolatility
	case trend > c.config.TrendThreshold:
		return types.RegimeTrendingUp
	case trend < -c.config.TrendThreshold:
		return types.RegimeTrendingDown
	default:
		return types.RegimeRanging
	}
}

// Span is a contiguous run of bars sharing one regime
type Span struct {
	Regime types.MarketRegime
	Start  time.Time
	End    time.Time
	First  int // index of first bar in the span
	Last   int // index of last bar, inclusive
}

// Segment walks the series in rolling windows and merges adjacent windows
// with the same label into spans. Bars before the first full window share
// the first window's label.
func (c *Classifier) Segment(bars []types.OHLCV) []Span {
	w := c.config.Window
	if len(bars) < w {
		if len(bars) == 0 {
			return nil
		}
		return []Span{{
			Regime: c.Classify(bars),
			Start:  bars[0].Timestamp,
			End:    bars[len(bars)-1].Timestamp,
			First:  0,
			Last:   len(bars) - 1,
		}}
	}

	labels := make([]types.MarketRegime, len(bars))
	for i := range bars {
		lo := i - w + 1
		if lo < 0 {
			lo = 0
		}
		labels[i] = c.Classify(bars[lo : i+1])
	}

	var spans []Span
	cur := Span{Regime: labels[0], Start: bars[0].Timestamp, First: 0}
	for i := 1; i < len(bars); i++ {
		if labels[i] == cur.Regime {
			continue
		}
		cur.End = bars[i-1].Timestamp
		cur.Last = i - 1
		spans = append(spans, cur)
		cur = Span{Regime: labels[i], Start: bars[i].Timestamp, First: i}
	}
	cur.End = bars[len(bars)-1].Timestamp
	cur.Last = len(bars) - 1
	spans = append(spans, cur)

	if c.logger != nil {
		c.logger.Debug("regime segmentation complete",
			zap.Int("bars", len(bars)),
			zap.Int("spans", len(spans)),
		)
	}

	return spans
}

// Context derives the market context for the most recent window
func (c *Classifier) Context(symbol string, bars []types.OHLCV) *types.MarketContext {
	if len(bars) == 0 {
		return &types.MarketContext{Symbol: symbol, Regime: types.RegimeUnknown}
	}

	w := c.config.Window
	lo := len(bars) - w
	if lo < 0 {
		lo = 0
	}
	window := bars[lo:]
	returns := barReturns(window)

	return &types.MarketContext{
		Timestamp:  bars[len(bars)-1].Timestamp,
		Symbol:     symbol,
		Regime:     c.Classify(window),
		Volatility: annualizedVol(returns, c.config.PeriodsPerYear),
		Liquidity:  relativeVolume(window),
	}
}

func barReturns(bars []types.OHLCV) []float64 {
	if len(bars) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev, _ := bars[i-1].Close.Float64()
		cur, _ := bars[i].Close.Float64()
		if prev != 0 {
			returns = append(returns, (cur-prev)/prev)
		}
	}
	return returns
}

func annualizedVol(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	variance := sq / float64(len(returns)-1)
	return math.Sqrt(variance) * math.Sqrt(periodsPerYear)
}

// relativeVolume compares the last bar's volume to the window average,
// squashed into [0,1].
func relativeVolume(bars []types.OHLCV) float64 {
	if len(bars) == 0 {
		return 0
	}
	var total float64
	for _, b := range bars {
		v, _ := b.Volume.Float64()
		total += v
	}
	avg := total / float64(len(bars))
	if avg == 0 {
		return 0
	}
	last, _ := bars[len(bars)-1].Volume.Float64()
	ratio := last / avg
	return ratio / (1 + ratio)
}
