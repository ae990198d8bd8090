// Package evaluator orchestrates backtests, walk-forward validation,
// optimization, robustness checks, and statistical comparison into graded
// strategy reports.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/internal/backtester"
	"github.com/atlas-desktop/strategy-eval/internal/dataprovider"
	"github.com/atlas-desktop/strategy-eval/internal/optimization"
	"github.com/atlas-desktop/strategy-eval/internal/regime"
	"github.com/atlas-desktop/strategy-eval/internal/strategy"
	"github.com/atlas-desktop/strategy-eval/pkg/types"
	"github.com/atlas-desktop/strategy-eval/pkg/utils"
)

// Evaluator runs full strategy evaluations against one data provider
type Evaluator struct {
	logger     *zap.Logger
	provider   dataprovider.Provider
	classifier *regime.Classifier
	workers    int
}

// NewEvaluator creates an evaluator. workers bounds the parallelism of
// walk-forward windows and optimization trials.
func NewEvaluator(logger *zap.Logger, provider dataprovider.Provider, workers int) *Evaluator {
	if workers <= 0 {
		workers = 4
	}
	return &Evaluator{
		logger:     logger,
		provider:   provider,
		classifier: regime.NewClassifier(logger, nil),
		workers:    workers,
	}
}

// Backtest runs a single backtest for a strategy
func (e *Evaluator) Backtest(ctx context.Context, strat strategy.Strategy, config *types.BacktestConfig) (*types.BacktestResult, error) {
	return e.runBacktest(ctx, strat, config)
}

// WalkForward runs rolling out-of-sample validation
func (e *Evaluator) WalkForward(ctx context.Context, strat strategy.Strategy, config *types.BacktestConfig) (*types.WalkForwardResult, error) {
	validator := backtester.NewWalkForwardValidator(e.logger, e.provider, e.workers)
	return validator.Run(ctx, strat, config)
}

// Optimize searches the strategy's parameter space over the given config
func (e *Evaluator) Optimize(ctx context.Context, strat strategy.Strategy, config *types.BacktestConfig, optConfig *types.OptimizationConfig) (*types.OptimizationResult, error) {
	if optConfig == nil {
		optConfig = &types.OptimizationConfig{
			Method:     types.MethodRandom,
			Objective:  "sharpeRatio",
			Iterations: 50,
		}
	}
	if optConfig.Workers == 0 {
		optConfig.Workers = e.workers
	}

	objective := func(ctx context.Context, params map[string]float64) (*types.PerformanceMetrics, error) {
		cfg := *config
		cfg.ID = ""
		cfg.Params = params
		result, err := e.runBacktest(ctx, strat, &cfg)
		if err != nil {
			return nil, err
		}
		return result.Metrics, nil
	}

	opt, err := optimization.New(e.logger, optConfig, strat.ParameterSchema(), objective)
	if err != nil {
		return nil, err
	}
	return opt.Run(ctx)
}

// Evaluate produces the full graded report for one strategy
func (e *Evaluator) Evaluate(ctx context.Context, strat strategy.Strategy, config *types.BacktestConfig, evalConfig *types.EvaluationConfig) (*types.EvaluationReport, error) {
	if evalConfig == nil {
		evalConfig = &types.EvaluationConfig{}
	}

	report := &types.EvaluationReport{
		ID:       utils.GenerateID("eval"),
		Strategy: strat.Name(),
	}

	backtest, err := e.runBacktest(ctx, strat, config)
	if err != nil {
		return nil, err
	}
	report.Backtest = backtest

	if evalConfig.WalkForward {
		if config.WalkForward == nil {
			e.logger.Warn("walk-forward requested without window config, skipping")
		} else {
			wf, err := e.WalkForward(ctx, strat, config)
			if err != nil {
				e.logger.Error("walk-forward failed", zap.Error(err))
			} else {
				report.WalkForward = wf
			}
		}
	}

	if evalConfig.Optimize {
		opt, err := e.Optimize(ctx, strat, config, evalConfig.Optimization)
		if err != nil {
			e.logger.Error("optimization failed", zap.Error(err))
		} else {
			if !evalConfig.Sensitivity {
				opt.Sensitivity = nil
			}
			report.Optimization = opt
		}
	}

	if evalConfig.MonteCarlo {
		capital, _ := config.InitialCapital.Float64()
		sim := backtester.NewMonteCarloSimulator(e.logger, backtester.MonteCarloConfig{
			Iterations: evalConfig.MonteCarloIterations,
		})
		report.MonteCarlo = sim.Run(backtest.Trades, capital)
	}

	if evalConfig.Robustness {
		report.Robustness = e.robustness(ctx, strat, config)
	}

	if evalConfig.RegimeAnalysis {
		report.RegimePerformance = e.regimePerformance(ctx, strat, config)
	}

	report.Grade = gradeFor(backtest.Metrics)
	report.Recommendations = recommendations(report)
	report.GeneratedAt = time.Now().UTC()

	e.logger.Info("evaluation finished",
		zap.String("strategy", strat.Name()),
		zap.String("grade", report.Grade),
		zap.Int("recommendations", len(report.Recommendations)),
	)

	return report, nil
}

func (e *Evaluator) runBacktest(ctx context.Context, strat strategy.Strategy, config *types.BacktestConfig) (*types.BacktestResult, error) {
	engine, err := backtester.NewEngine(e.logger, e.provider, strat, config)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx)
}

// regimeRun backtests a strategy restricted to the bars labeled with one
// regime. Returns nil metrics when the regime never occurs in the range.
func (e *Evaluator) regimeRun(ctx context.Context, strat strategy.Strategy, config *types.BacktestConfig, rg types.MarketRegime) (*types.PerformanceMetrics, error) {
	filtered := &regimeProvider{
		Provider:   e.provider,
		classifier: e.classifier,
		regime:     rg,
	}

	cfg := *config
	cfg.ID = ""
	cfg.WalkForward = nil

	engine, err := backtester.NewEngine(e.logger, filtered, strat, &cfg)
	if err != nil {
		return nil, err
	}
	result, err := engine.Run(ctx)
	if err != nil {
		return nil, err
	}
	return result.Metrics, nil
}

// regimePerformance maps each regime to the strategy's metrics on bars of
// that regime
func (e *Evaluator) regimePerformance(ctx context.Context, strat strategy.Strategy, config *types.BacktestConfig) map[types.MarketRegime]*types.PerformanceMetrics {
	out := make(map[types.MarketRegime]*types.PerformanceMetrics)
	for _, rg := range types.AllRegimes {
		if ctx.Err() != nil {
			break
		}
		metrics, err := e.regimeRun(ctx, strat, config, rg)
		if err != nil {
			e.logger.Debug("regime run skipped",
				zap.String("regime", string(rg)),
				zap.Error(err),
			)
			continue
		}
		if metrics != nil && metrics.TotalTrades > 0 {
			out[rg] = metrics
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// regimeProvider restricts OHLCV results to bars whose rolling regime
// label matches one regime
type regimeProvider struct {
	dataprovider.Provider
	classifier *regime.Classifier
	regime     types.MarketRegime
}

func (p *regimeProvider) GetOHLCV(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	bars, err := p.Provider.GetOHLCV(ctx, symbol, tf, start, end)
	if err != nil {
		return nil, err
	}

	spans := p.classifier.Segment(bars)
	var filtered []types.OHLCV
	for _, span := range spans {
		if span.Regime == p.regime {
			filtered = append(filtered, bars[span.First:span.Last+1]...)
		}
	}
	if len(filtered) == 0 {
		return nil, &types.DataError{
			Op:     "regime_filter",
			Symbol: symbol,
			Err:    fmt.Errorf("no %s bars in range", p.regime),
		}
	}
	return filtered, nil
}
