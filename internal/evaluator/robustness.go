package evaluator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/internal/strategy"
	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// Component weights of a condition's robustness score
const (
	weightSharpe   = 0.30
	weightSortino  = 0.20
	weightPF       = 0.20
	weightWinRate  = 0.15
	weightDrawdown = 0.15
)

const (
	weaknessBelow = 0.5
	strengthAbove = 0.8
)

// robustness re-runs the strategy under perturbed conditions and scores
// each run on a weighted composite of risk-adjusted metrics
func (e *Evaluator) robustness(ctx context.Context, strat strategy.Strategy, config *types.BacktestConfig) *types.RobustnessReport {
	report := &types.RobustnessReport{}

	for _, cond := range e.robustnessConditions(config) {
		if ctx.Err() != nil {
			break
		}

		var metrics *types.PerformanceMetrics
		var err error
		if cond.regime != "" {
			metrics, err = e.regimeRun(ctx, strat, cond.config, cond.regime)
		} else {
			var result *types.BacktestResult
			result, err = e.runBacktest(ctx, strat, cond.config)
			if result != nil {
				metrics = result.Metrics
			}
		}
		if err != nil {
			e.logger.Debug("robustness condition skipped",
				zap.String("condition", cond.name),
				zap.Error(err),
			)
			continue
		}

		report.Conditions = append(report.Conditions, types.RobustnessCondition{
			Condition: cond.name,
			Score:     robustnessScore(metrics),
			Metrics:   metrics,
		})
	}

	var total float64
	for _, cond := range report.Conditions {
		total += cond.Score
		if cond.Score < weaknessBelow {
			report.Weaknesses = append(report.Weaknesses, cond.Condition)
		}
		if cond.Score > strengthAbove {
			report.Strengths = append(report.Strengths, cond.Condition)
		}
	}
	if len(report.Conditions) > 0 {
		report.OverallScore = total / float64(len(report.Conditions))
	}

	return report
}

type robustnessCase struct {
	name   string
	config *types.BacktestConfig
	regime types.MarketRegime // empty for non-regime conditions
}

// robustnessConditions builds the perturbed configs: each market regime,
// doubled trading costs, and one faster or slower timeframe
func (e *Evaluator) robustnessConditions(config *types.BacktestConfig) []robustnessCase {
	var cases []robustnessCase

	cases = append(cases, robustnessCase{name: "baseline", config: config})

	for _, rg := range types.AllRegimes {
		cases = append(cases, robustnessCase{
			name:   "regime_" + string(rg),
			config: config,
			regime: rg,
		})
	}

	two := decimal.NewFromInt(2)
	costs := *config
	costs.ID = ""
	costs.Commission.Rate = config.Commission.Rate.Mul(two)
	costs.Commission.Fixed = config.Commission.Fixed.Mul(two)
	costs.Slippage.Bps = config.Slippage.Bps.Mul(two)
	costs.Slippage.Fixed = config.Slippage.Fixed.Mul(two)
	cases = append(cases, robustnessCase{name: "double_costs", config: &costs})

	if alt := alternateTimeframe(config.Timeframe); alt != "" {
		tfCfg := *config
		tfCfg.ID = ""
		tfCfg.Timeframe = alt
		cases = append(cases, robustnessCase{
			name:   fmt.Sprintf("timeframe_%s", alt),
			config: &tfCfg,
		})
	}

	return cases
}

func alternateTimeframe(tf types.Timeframe) types.Timeframe {
	switch tf {
	case types.Timeframe1d:
		return types.Timeframe4h
	case types.Timeframe4h:
		return types.Timeframe1d
	case types.Timeframe1h:
		return types.Timeframe4h
	default:
		return types.Timeframe1h
	}
}

// robustnessScore combines squashed metric components: Sharpe 30%,
// Sortino 20%, profit factor 20%, win rate 15%, drawdown headroom 15%
func robustnessScore(m *types.PerformanceMetrics) float64 {
	if m == nil {
		return 0
	}
	return weightSharpe*metricComponent(m, "sharpeRatio") +
		weightSortino*metricComponent(m, "sortinoRatio") +
		weightPF*metricComponent(m, "profitFactor") +
		weightWinRate*metricComponent(m, "winRate") +
		weightDrawdown*metricComponent(m, "maxDrawdown")
}

// gradeFor maps the headline metrics onto a letter grade. Each metric
// contributes grade points on a 0..4 scale; the average picks the letter.
func gradeFor(m *types.PerformanceMetrics) string {
	if m == nil {
		return "F"
	}

	points := gradePoints(m.SharpeRatio, 2.0, 1.5, 1.0, 0.5) +
		gradePoints(1-m.MaxDrawdown, 0.95, 0.90, 0.80, 0.70) +
		gradePoints(m.WinRate, 0.60, 0.55, 0.50, 0.40) +
		gradePoints(m.ProfitFactor, 2.0, 1.75, 1.5, 1.1)
	avg := points / 4

	switch {
	case avg >= 3.9:
		return "A+"
	case avg >= 3.5:
		return "A"
	case avg >= 3.0:
		return "B+"
	case avg >= 2.5:
		return "B"
	case avg >= 2.0:
		return "C+"
	case avg >= 1.5:
		return "C"
	case avg >= 1.0:
		return "D"
	default:
		return "F"
	}
}

// gradePoints scores one metric against descending thresholds
func gradePoints(v, a, b, c, d float64) float64 {
	switch {
	case v >= a:
		return 4
	case v >= b:
		return 3
	case v >= c:
		return 2
	case v >= d:
		return 1
	default:
		return 0
	}
}

// recommendations derives qualitative guidance from the report
func recommendations(report *types.EvaluationReport) []string {
	var recs []string
	m := report.Backtest.Metrics
	if m == nil {
		return nil
	}

	if m.MaxDrawdown > 0.2 {
		recs = append(recs, "Maximum drawdown exceeds 20%: reduce position size or tighten stop losses.")
	}
	if m.SharpeRatio < 0.5 {
		recs = append(recs, "Sharpe ratio below 0.5: risk-adjusted returns are weak for the volatility taken.")
	}
	if m.ProfitFactor < 1 && m.TotalTrades > 0 {
		recs = append(recs, "Profit factor below 1.0: gross losses exceed gross profits.")
	}
	if m.WinRate < 0.4 && m.TotalTrades > 0 {
		recs = append(recs, "Win rate below 40%: consider stricter entry filters or wider profit targets.")
	}
	if m.TotalTrades > 0 && m.TotalTrades < 30 {
		recs = append(recs, "Fewer than 30 trades: results may not be statistically meaningful, extend the test period.")
	}
	if m.TotalTrades == 0 {
		recs = append(recs, "No trades executed: verify parameters allow signals to fire in this period.")
	}

	if wf := report.WalkForward; wf != nil && len(wf.Windows) >= 2 && wf.Stability < 0.5 {
		recs = append(recs, "Walk-forward stability below 0.5: out-of-sample performance varies widely across windows.")
	}
	if mc := report.MonteCarlo; mc != nil && mc.ProbabilityRuin > 0.05 {
		recs = append(recs, "Monte Carlo probability of ruin above 5%: the trade sequence carries material tail risk.")
	}
	if rb := report.Robustness; rb != nil && len(rb.Weaknesses) > 0 {
		recs = append(recs, fmt.Sprintf("Weak under %d of %d tested conditions: performance is regime-dependent.",
			len(rb.Weaknesses), len(rb.Conditions)))
	}

	if len(recs) == 0 {
		recs = append(recs, "No structural issues detected in this evaluation.")
	}
	return recs
}
