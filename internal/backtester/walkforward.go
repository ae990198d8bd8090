package backtester

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/internal/dataprovider"
	"github.com/atlas-desktop/strategy-eval/internal/strategy"
	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// WalkForwardValidator measures out-of-sample consistency by rolling a
// train/test split across the configured range and backtesting each test
// slice independently.
type WalkForwardValidator struct {
	logger   *zap.Logger
	provider dataprovider.Provider
	workers  int
}

// NewWalkForwardValidator creates a validator. workers <= 0 runs windows
// sequentially.
func NewWalkForwardValidator(logger *zap.Logger, provider dataprovider.Provider, workers int) *WalkForwardValidator {
	if workers <= 0 {
		workers = 1
	}
	return &WalkForwardValidator{
		logger:   logger,
		provider: provider,
		workers:  workers,
	}
}

// GenerateWindows derives the rolling splits. Window count is
// floor((totalDays - windowSize - testSize)/stepSize) + 1; a non-positive
// count is a ValidationError.
func GenerateWindows(start, end time.Time, wf *types.WalkForwardConfig) ([]types.WalkForwardWindow, error) {
	ve := &types.ValidationError{}
	if wf == nil {
		ve.Add("walkForward", "walk-forward config is required")
		return nil, ve
	}
	if wf.WindowSize <= 0 {
		ve.Add("walkForward.windowSize", "window size must be positive")
	}
	if wf.TestSize <= 0 {
		ve.Add("walkForward.testSize", "test size must be positive")
	}
	if wf.StepSize <= 0 {
		ve.Add("walkForward.stepSize", "step size must be positive")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	totalDays := int(end.Sub(start).Hours() / 24)
	count := (totalDays-wf.WindowSize-wf.TestSize)/wf.StepSize + 1
	if totalDays-wf.WindowSize-wf.TestSize < 0 || count <= 0 {
		ve.Addf("walkForward", "range of %d days too short for windowSize=%d testSize=%d stepSize=%d",
			totalDays, wf.WindowSize, wf.TestSize, wf.StepSize)
		return nil, ve
	}

	day := 24 * time.Hour
	windows := make([]types.WalkForwardWindow, 0, count)
	for i := 0; i < count; i++ {
		trainStart := start.Add(time.Duration(i*wf.StepSize) * day)
		trainEnd := trainStart.Add(time.Duration(wf.WindowSize) * day)
		testEnd := trainEnd.Add(time.Duration(wf.TestSize) * day)
		windows = append(windows, types.WalkForwardWindow{
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    testEnd,
		})
	}
	return windows, nil
}

// Run executes the walk-forward validation. Windows run concurrently;
// cancellation between windows returns the windows completed so far.
func (v *WalkForwardValidator) Run(ctx context.Context, strat strategy.Strategy, config *types.BacktestConfig) (*types.WalkForwardResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	windows, err := GenerateWindows(config.StartDate, config.EndDate, config.WalkForward)
	if err != nil {
		return nil, err
	}

	v.logger.Info("walk-forward started",
		zap.String("strategy", strat.Name()),
		zap.Int("windows", len(windows)),
	)

	var wg sync.WaitGroup
	sem := make(chan struct{}, v.workers)
	results := make([]*types.BacktestResult, len(windows))
	trainMetrics := make([]*types.PerformanceMetrics, len(windows))

	for i := range windows {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, w types.WalkForwardWindow) {
			defer wg.Done()
			defer func() { <-sem }()

			cfg := *config
			cfg.ID = ""
			cfg.StartDate = w.TestStart
			cfg.EndDate = w.TestEnd
			cfg.WalkForward = nil

			engine, err := NewEngine(v.logger, v.provider, strat, &cfg)
			if err != nil {
				v.logger.Error("window setup failed", zap.Int("window", idx), zap.Error(err))
				return
			}
			result, err := engine.Run(ctx)
			if err != nil {
				v.logger.Error("window run failed", zap.Int("window", idx), zap.Error(err))
				return
			}
			results[idx] = result
			trainMetrics[idx] = v.trainSliceMetrics(ctx, strat, config, w)
		}(i, windows[i])
	}

	wg.Wait()

	// Concatenate in window order so the aggregate equity series keeps
	// non-decreasing timestamps regardless of goroutine completion order
	var allTrades []types.Trade
	var concatenated []types.EquityPoint
	var done []types.WalkForwardWindow
	for i, res := range results {
		if res == nil {
			continue
		}
		windows[i].TestMetrics = res.Metrics
		windows[i].TrainMetrics = trainMetrics[i]
		allTrades = append(allTrades, res.Trades...)
		concatenated = append(concatenated, res.EquityCurve...)
		done = append(done, windows[i])
	}

	calc := NewMetricsCalculator(v.logger)
	aggregate := calc.Calculate(MetricsInput{
		Trades:         allTrades,
		EquityCurve:    concatenated,
		InitialCapital: config.InitialCapital,
		PeriodsPerYear: PeriodsPerYear(config.Timeframe),
		RiskFreeRate:   config.RiskFreeRate,
	})

	result := &types.WalkForwardResult{
		Windows:          done,
		AggregateMetrics: aggregate,
		Stability:        stabilityScore(done),
	}

	v.logger.Info("walk-forward finished",
		zap.Int("completedWindows", len(done)),
		zap.Float64("stability", result.Stability),
	)

	return result, nil
}

// trainSliceMetrics backtests the window's train slice so each window can
// report in-sample alongside out-of-sample performance. A failure here is
// logged and leaves the train metrics unset; the test result stands.
func (v *WalkForwardValidator) trainSliceMetrics(ctx context.Context, strat strategy.Strategy, config *types.BacktestConfig, w types.WalkForwardWindow) *types.PerformanceMetrics {
	cfg := *config
	cfg.ID = ""
	cfg.StartDate = w.TrainStart
	cfg.EndDate = w.TrainEnd
	cfg.WalkForward = nil

	engine, err := NewEngine(v.logger, v.provider, strat, &cfg)
	if err != nil {
		v.logger.Warn("train slice setup failed", zap.Error(err))
		return nil
	}
	result, err := engine.Run(ctx)
	if err != nil {
		v.logger.Warn("train slice run failed", zap.Error(err))
		return nil
	}
	return result.Metrics
}

// stabilityScore is 1 - stdev(window Sharpe)/mean(|window Sharpe|),
// clamped to [0,1]. Fewer than two windows score 0.
func stabilityScore(windows []types.WalkForwardWindow) float64 {
	var sharpes []float64
	for _, w := range windows {
		if w.TestMetrics != nil {
			sharpes = append(sharpes, w.TestMetrics.SharpeRatio)
		}
	}
	if len(sharpes) < 2 {
		return 0
	}

	var absSum float64
	for _, s := range sharpes {
		absSum += math.Abs(s)
	}
	meanAbs := absSum / float64(len(sharpes))
	if meanAbs == 0 {
		return 0
	}

	score := 1 - stdDev(sharpes)/meanAbs
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
