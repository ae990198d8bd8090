package evaluator

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/internal/backtester"
	"github.com/atlas-desktop/strategy-eval/internal/strategy"
	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// defaultWeights rank strategies when no metric weights are configured
var defaultWeights = map[string]float64{
	"sharpeRatio":  0.40,
	"calmarRatio":  0.20,
	"winRate":      0.20,
	"profitFactor": 0.20,
}

const defaultAlpha = 0.05

// Compare runs each strategy independently over the same config, ranks
// them by weighted composite score, and optionally tests pairwise
// significance and regime-specific winners. The composite score is a pure
// function of each strategy's own result, so the ranking does not depend
// on input order.
func (e *Evaluator) Compare(ctx context.Context, strategies []strategy.Strategy, config *types.BacktestConfig, cmpConfig *types.ComparisonConfig) (*types.ComparisonResult, error) {
	if cmpConfig == nil {
		cmpConfig = &types.ComparisonConfig{Significance: true}
	}
	if err := cmpConfig.Validate(); err != nil {
		return nil, err
	}
	weights := cmpConfig.Weights
	if len(weights) == 0 {
		weights = defaultWeights
	}
	alpha := cmpConfig.Alpha
	if alpha == 0 {
		alpha = defaultAlpha
	}

	results := make([]*types.BacktestResult, len(strategies))
	for i, strat := range strategies {
		if ctx.Err() != nil {
			break
		}
		result, err := e.runBacktest(ctx, strat, config)
		if err != nil {
			e.logger.Error("comparison run failed",
				zap.String("strategy", strat.Name()),
				zap.Error(err),
			)
			continue
		}
		results[i] = result
	}

	comparison := &types.ComparisonResult{}
	for i, strat := range strategies {
		if results[i] == nil {
			continue
		}
		comparison.Rankings = append(comparison.Rankings, types.StrategyScore{
			Strategy:       strat.Name(),
			Result:         results[i],
			CompositeScore: compositeScore(results[i].Metrics, weights),
		})
	}

	sort.Slice(comparison.Rankings, func(i, j int) bool {
		a, b := comparison.Rankings[i], comparison.Rankings[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		return a.Strategy < b.Strategy
	})
	if len(comparison.Rankings) > 0 {
		comparison.Best = comparison.Rankings[0].Strategy
	}

	if cmpConfig.Significance {
		comparison.Significance = significanceMatrix(comparison.Rankings, alpha)
	}
	if cmpConfig.RegimeAnalysis {
		winners, err := e.regimeWinners(ctx, strategies, config)
		if err != nil {
			e.logger.Warn("regime analysis failed", zap.Error(err))
		} else {
			comparison.RegimeWinners = winners
		}
	}

	e.logger.Info("comparison finished",
		zap.Int("strategies", len(comparison.Rankings)),
		zap.String("best", comparison.Best),
	)

	return comparison, nil
}

// compositeScore is the weighted sum of squashed metric components
func compositeScore(metrics *types.PerformanceMetrics, weights map[string]float64) float64 {
	if metrics == nil {
		return 0
	}
	var score float64
	for name, weight := range weights {
		score += weight * metricComponent(metrics, name)
	}
	return score
}

// metricComponent squashes a metric into [0,1] so differently scaled
// metrics can share one weighted sum. Ratio metrics divide by a nominal
// excellent value; fraction metrics pass through.
func metricComponent(m *types.PerformanceMetrics, name string) float64 {
	switch name {
	case "sharpeRatio":
		return clampUnit(m.SharpeRatio / 3)
	case "sortinoRatio":
		return clampUnit(m.SortinoRatio / 4)
	case "calmarRatio":
		return clampUnit(m.CalmarRatio / 3)
	case "profitFactor":
		return clampUnit(m.ProfitFactor / 3)
	case "winRate":
		return clampUnit(m.WinRate)
	case "maxDrawdown":
		return clampUnit(1 - math.Abs(m.MaxDrawdown))
	case "totalReturn":
		return clampUnit(m.TotalReturn)
	default:
		return 0
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// significanceMatrix runs Welch's t-test and Mann-Whitney U on each pair
// of per-period return series
func significanceMatrix(rankings []types.StrategyScore, alpha float64) []types.SignificanceTest {
	var tests []types.SignificanceTest
	for i := 0; i < len(rankings); i++ {
		for j := i + 1; j < len(rankings); j++ {
			a, b := rankings[i], rankings[j]
			returnsA := backtester.PeriodReturns(a.Result.EquityCurve)
			returnsB := backtester.PeriodReturns(b.Result.EquityCurve)

			tStat, tP := welchTTest(returnsA, returnsB)
			uStat, uP := mannWhitneyU(returnsA, returnsB)

			test := types.SignificanceTest{
				StrategyA:   a.Strategy,
				StrategyB:   b.Strategy,
				TStatistic:  tStat,
				TPValue:     tP,
				UStatistic:  uStat,
				UPValue:     uP,
				Significant: tP < alpha || uP < alpha,
			}
			if test.Significant {
				meanA, _ := meanVariance(returnsA)
				meanB, _ := meanVariance(returnsB)
				if meanA >= meanB {
					test.BetterStrategy = a.Strategy
				} else {
					test.BetterStrategy = b.Strategy
				}
			}
			tests = append(tests, test)
		}
	}
	return tests
}

// regimeWinners re-runs every strategy restricted to the bars of each
// regime and records the best Sharpe per regime
func (e *Evaluator) regimeWinners(ctx context.Context, strategies []strategy.Strategy, config *types.BacktestConfig) (map[types.MarketRegime]string, error) {
	winners := make(map[types.MarketRegime]string)

	for _, rg := range types.AllRegimes {
		bestSharpe := math.Inf(-1)
		var best string

		for _, strat := range strategies {
			if ctx.Err() != nil {
				return winners, ctx.Err()
			}
			metrics, err := e.regimeRun(ctx, strat, config, rg)
			if err != nil || metrics == nil {
				continue
			}
			if metrics.SharpeRatio > bestSharpe {
				bestSharpe = metrics.SharpeRatio
				best = strat.Name()
			}
		}
		if best != "" {
			winners[rg] = best
		}
	}
	return winners, nil
}
