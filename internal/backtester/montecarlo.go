package backtester

import (
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// MonteCarloConfig controls bootstrap resampling of a trade sequence
type MonteCarloConfig struct {
	Iterations    int
	RuinThreshold float64 // equity fraction treated as ruin, default 0.5
	Seed          int64
}

// MonteCarloSimulator reshuffles realized trade returns to estimate how
// much of a result is sequencing luck.
type MonteCarloSimulator struct {
	logger *zap.Logger
	config MonteCarloConfig
	rng    *rand.Rand
}

// NewMonteCarloSimulator creates a simulator. Seed 0 falls back to a
// fixed default so results stay reproducible.
func NewMonteCarloSimulator(logger *zap.Logger, config MonteCarloConfig) *MonteCarloSimulator {
	if config.Iterations <= 0 {
		config.Iterations = 1000
	}
	if config.RuinThreshold <= 0 {
		config.RuinThreshold = 0.5
	}
	seed := config.Seed
	if seed == 0 {
		seed = 1
	}
	return &MonteCarloSimulator{
		logger: logger,
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Run resamples the trade order. Per-trade returns are taken as fractions
// of initial capital so paths compound comparably.
func (mc *MonteCarloSimulator) Run(trades []types.Trade, initialCapital float64) *types.MonteCarloResult {
	if len(trades) == 0 || initialCapital <= 0 {
		return &types.MonteCarloResult{}
	}

	returns := make([]float64, 0, len(trades))
	for _, trade := range trades {
		if !trade.Closed() {
			continue
		}
		pnl, _ := trade.PnL.Float64()
		returns = append(returns, pnl/initialCapital)
	}
	if len(returns) == 0 {
		return &types.MonteCarloResult{}
	}

	iterations := mc.config.Iterations
	simulated := make([]float64, iterations)
	drawdowns := make([]float64, iterations)
	ruinCount := 0

	for i := 0; i < iterations; i++ {
		shuffled := mc.shuffle(returns)
		total, maxDD, ruined := mc.simulatePath(shuffled)
		simulated[i] = total
		drawdowns[i] = maxDD
		if ruined {
			ruinCount++
		}
	}

	sort.Float64s(simulated)
	sort.Float64s(drawdowns)

	result := &types.MonteCarloResult{
		Iterations:      iterations,
		MedianReturn:    percentile(simulated, 50),
		P5Return:        percentile(simulated, 5),
		P95Return:       percentile(simulated, 95),
		MaxDrawdownP95:  percentile(drawdowns, 95),
		ProbabilityRuin: float64(ruinCount) / float64(iterations),
	}

	mc.logger.Info("monte carlo complete",
		zap.Int("iterations", iterations),
		zap.Float64("medianReturn", result.MedianReturn),
		zap.Float64("probabilityRuin", result.ProbabilityRuin),
	)

	return result
}

func (mc *MonteCarloSimulator) shuffle(returns []float64) []float64 {
	shuffled := make([]float64, len(returns))
	copy(shuffled, returns)
	mc.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// simulatePath compounds one reshuffled sequence and tracks its drawdown
func (mc *MonteCarloSimulator) simulatePath(returns []float64) (totalReturn, maxDrawdown float64, ruined bool) {
	equity := 1.0
	peak := equity
	maxDD := 0.0

	for _, ret := range returns {
		equity *= 1 + ret
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
		if equity <= mc.config.RuinThreshold {
			return equity - 1, maxDD, true
		}
	}
	return equity - 1, maxDD, false
}

// percentile interpolates the p-th percentile of sorted values
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
