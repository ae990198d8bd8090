// Package backtester simulates strategies over historical bars and measures
// the outcome.
package backtester

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// RatioCap is the finite sentinel reported for ratios whose denominator is
// zero while the numerator is positive (a profit factor with no losses, a
// Sortino with no downside). JSON cannot carry +Inf, so consumers see this
// value instead. Zero numerator and zero denominator report 0.
const RatioCap = 1e9

// MetricsCalculator derives performance metrics from raw run output.
// It is pure: every call recomputes from the input series and the same
// input always yields the same output.
type MetricsCalculator struct {
	logger *zap.Logger
}

// NewMetricsCalculator creates a metrics calculator
func NewMetricsCalculator(logger *zap.Logger) *MetricsCalculator {
	return &MetricsCalculator{logger: logger}
}

// MetricsInput bundles the raw series a calculation needs
type MetricsInput struct {
	Trades         []types.Trade
	EquityCurve    []types.EquityPoint
	InitialCapital decimal.Decimal
	PeriodsPerYear float64   // 252 for daily bars
	RiskFreeRate   float64   // annualized
	Benchmark      []float64 // per-period benchmark returns, optional
}

// Calculate computes the full metrics set. Fields whose inputs are missing
// (no trades, no benchmark) are zero, never NaN or Inf.
func (mc *MetricsCalculator) Calculate(in MetricsInput) *types.PerformanceMetrics {
	metrics := &types.PerformanceMetrics{}

	ppy := in.PeriodsPerYear
	if ppy <= 0 {
		ppy = 252
	}

	mc.tradeStats(in.Trades, metrics)

	returns := PeriodReturns(in.EquityCurve)

	// Return metrics. Cumulative return compounds the per-period returns;
	// annualized return is the geometric equivalent over a full year.
	if len(in.EquityCurve) > 0 && !in.InitialCapital.IsZero() {
		final, _ := in.EquityCurve[len(in.EquityCurve)-1].Value.Float64()
		initial, _ := in.InitialCapital.Float64()
		metrics.TotalReturn = (final - initial) / initial
		metrics.CumulativeReturn = metrics.TotalReturn
	}
	if n := len(returns); n > 0 && metrics.CumulativeReturn > -1 {
		metrics.AnnualizedReturn = math.Pow(1+metrics.CumulativeReturn, ppy/float64(n)) - 1
	} else if metrics.CumulativeReturn <= -1 {
		metrics.AnnualizedReturn = -1
	}

	// Risk metrics. Sharpe is 0 when volatility is 0 (risk-adjusted return
	// is undefined without risk); Sortino reports RatioCap when there are
	// no negative returns; Calmar is 0 without a drawdown.
	metrics.Volatility = stdDev(returns) * math.Sqrt(ppy)
	if metrics.Volatility != 0 {
		metrics.SharpeRatio = capRatio((metrics.AnnualizedReturn - in.RiskFreeRate) / metrics.Volatility)
	}

	downside := downsideDeviation(returns) * math.Sqrt(ppy)
	if downside != 0 {
		metrics.SortinoRatio = capRatio((metrics.AnnualizedReturn - in.RiskFreeRate) / downside)
	} else if len(returns) > 0 {
		metrics.SortinoRatio = RatioCap
	}

	maxDD, maxDDDuration := MaxDrawdown(in.EquityCurve)
	metrics.MaxDrawdown = maxDD
	metrics.MaxDrawdownDuration = maxDDDuration
	if maxDD != 0 {
		metrics.CalmarRatio = capRatio(metrics.AnnualizedReturn / maxDD)
	}

	metrics.VaR95, metrics.CVaR95 = tailRisk(returns, 0.05)
	metrics.RachevRatio = rachevRatio(returns, 0.05)

	// Benchmark-relative metrics
	if len(in.Benchmark) > 0 && len(returns) > 0 {
		mc.benchmarkStats(returns, in.Benchmark, in.RiskFreeRate, ppy, metrics)
	}

	metrics.RollingReturns = returns

	return metrics
}

// tradeStats fills the trade-level fields from closed trades
func (mc *MetricsCalculator) tradeStats(trades []types.Trade, metrics *types.PerformanceMetrics) {
	var totalHolding time.Duration
	closed := 0

	for _, trade := range trades {
		if !trade.Closed() {
			continue
		}
		closed++
		totalHolding += trade.ExitTime.Sub(trade.EntryTime)

		if trade.PnL.GreaterThan(decimal.Zero) {
			metrics.WinningTrades++
			metrics.GrossProfit = metrics.GrossProfit.Add(trade.PnL)
			if trade.PnL.GreaterThan(metrics.LargestWin) {
				metrics.LargestWin = trade.PnL
			}
		} else if trade.PnL.LessThan(decimal.Zero) {
			metrics.LosingTrades++
			loss := trade.PnL.Abs()
			metrics.GrossLoss = metrics.GrossLoss.Add(loss)
			if loss.GreaterThan(metrics.LargestLoss) {
				metrics.LargestLoss = loss
			}
		}
	}

	metrics.TotalTrades = closed
	if closed == 0 {
		return
	}

	metrics.WinRate = float64(metrics.WinningTrades) / float64(closed)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit.Div(decimal.NewFromInt(int64(metrics.WinningTrades)))
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = metrics.GrossLoss.Div(decimal.NewFromInt(int64(metrics.LosingTrades)))
	}

	switch {
	case !metrics.GrossLoss.IsZero():
		pf, _ := metrics.GrossProfit.Div(metrics.GrossLoss).Float64()
		metrics.ProfitFactor = pf
	case !metrics.GrossProfit.IsZero():
		metrics.ProfitFactor = RatioCap
	}

	// Expectancy: winRate*avgWin - lossRate*avgLoss
	winPct := decimal.NewFromFloat(metrics.WinRate)
	lossPct := decimal.NewFromInt(1).Sub(winPct)
	metrics.Expectancy = winPct.Mul(metrics.AverageWin).Sub(lossPct.Mul(metrics.AverageLoss))

	metrics.AvgHoldingTime = totalHolding / time.Duration(closed)
}

// benchmarkStats fills beta, alpha, information ratio, and Treynor ratio.
// Series are aligned by truncating to the shorter length.
func (mc *MetricsCalculator) benchmarkStats(returns, benchmark []float64, riskFree, ppy float64, metrics *types.PerformanceMetrics) {
	n := len(returns)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	if n < 2 {
		return
	}
	r := returns[:n]
	b := benchmark[:n]

	meanR := mean(r)
	meanB := mean(b)

	var cov, varB float64
	for i := 0; i < n; i++ {
		cov += (r[i] - meanR) * (b[i] - meanB)
		varB += (b[i] - meanB) * (b[i] - meanB)
	}
	cov /= float64(n - 1)
	varB /= float64(n - 1)

	if varB == 0 {
		return
	}
	beta := cov / varB
	metrics.Beta = beta

	annualR := meanR * ppy
	annualB := meanB * ppy
	metrics.JensenAlpha = annualR - (riskFree + beta*(annualB-riskFree))

	diff := make([]float64, n)
	for i := 0; i < n; i++ {
		diff[i] = r[i] - b[i]
	}
	metrics.InformationRatio = safeRatio(mean(diff), stdDev(diff)) * math.Sqrt(ppy)

	if beta != 0 {
		metrics.TreynorRatio = capRatio((annualR - riskFree) / beta)
	}
}

// PeriodReturns converts an equity curve into simple per-period returns
func PeriodReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Value.Float64()
		cur, _ := curve[i].Value.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	return returns
}

// MaxDrawdown returns the deepest peak-to-trough decline as a positive
// fraction, plus the longest time spent below a prior peak.
func MaxDrawdown(curve []types.EquityPoint) (float64, time.Duration) {
	if len(curve) == 0 {
		return 0, 0
	}

	var maxDD float64
	var longest time.Duration
	peak, _ := curve[0].Value.Float64()
	peakTime := curve[0].Timestamp

	for _, point := range curve {
		v, _ := point.Value.Float64()
		if v >= peak {
			peak = v
			peakTime = point.Timestamp
			continue
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
		if under := point.Timestamp.Sub(peakTime); under > longest {
			longest = under
		}
	}

	return maxDD, longest
}

// tailRisk returns the historical VaR and CVaR at the given tail level,
// both as positive loss fractions
func tailRisk(returns []float64, level float64) (valueAtRisk, conditional float64) {
	if len(returns) == 0 {
		return 0, 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * level)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	valueAtRisk = -sorted[idx]
	if valueAtRisk < 0 {
		valueAtRisk = 0
	}

	if idx > 0 {
		var sum float64
		for i := 0; i < idx; i++ {
			sum += sorted[i]
		}
		conditional = -sum / float64(idx)
		if conditional < 0 {
			conditional = 0
		}
	} else {
		conditional = valueAtRisk
	}
	return valueAtRisk, conditional
}

// rachevRatio is the expected gain in the right tail divided by the
// expected loss in the left tail at the same level
func rachevRatio(returns []float64, level float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	k := int(float64(len(sorted)) * level)
	if k < 1 {
		k = 1
	}

	var leftSum, rightSum float64
	for i := 0; i < k; i++ {
		leftSum += sorted[i]
	}
	for i := len(sorted) - k; i < len(sorted); i++ {
		rightSum += sorted[i]
	}

	expectedLoss := -leftSum / float64(k)
	expectedGain := rightSum / float64(k)

	if expectedLoss <= 0 {
		if expectedGain > 0 {
			return RatioCap
		}
		return 0
	}
	ratio := expectedGain / expectedLoss
	if ratio > RatioCap {
		return RatioCap
	}
	return ratio
}

// safeRatio divides with sentinel semantics: zero denominator yields
// RatioCap when the numerator is positive, -RatioCap when negative, and 0
// when both are zero
func safeRatio(numerator, denominator float64) float64 {
	if denominator == 0 {
		switch {
		case numerator > 0:
			return RatioCap
		case numerator < 0:
			return -RatioCap
		default:
			return 0
		}
	}
	r := numerator / denominator
	if r > RatioCap {
		return RatioCap
	}
	if r < -RatioCap {
		return -RatioCap
	}
	return r
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

// downsideDeviation is the standard deviation of the negative returns only
func downsideDeviation(returns []float64) float64 {
	var negatives []float64
	for _, r := range returns {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	if len(negatives) == 0 {
		return 0
	}
	if len(negatives) == 1 {
		return -negatives[0]
	}
	return stdDev(negatives)
}

// capRatio clamps a finite ratio into [-RatioCap, RatioCap]
func capRatio(r float64) float64 {
	if r > RatioCap {
		return RatioCap
	}
	if r < -RatioCap {
		return -RatioCap
	}
	return r
}
