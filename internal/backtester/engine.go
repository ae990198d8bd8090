package backtester

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/internal/dataprovider"
	"github.com/atlas-desktop/strategy-eval/internal/strategy"
	"github.com/atlas-desktop/strategy-eval/pkg/types"
	"github.com/atlas-desktop/strategy-eval/pkg/utils"
)

// Engine runs one backtest: a single-threaded chronological scan over the
// configured symbols' bars. A strategy only ever sees bars up to and
// including the current one.
type Engine struct {
	logger   *zap.Logger
	provider dataprovider.Provider
	strategy strategy.Strategy
	config   *types.BacktestConfig
	params   map[string]float64

	mu        sync.Mutex
	status    types.RunStatus
	cancelled atomic.Bool

	progressCh chan types.BacktestProgress
}

// NewEngine validates the config and resolves strategy parameters before
// anything runs. A ValidationError here means no simulation was started.
func NewEngine(logger *zap.Logger, provider dataprovider.Provider, strat strategy.Strategy, config *types.BacktestConfig) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	params, err := strategy.ResolveParams(strat.ParameterSchema(), config.Params)
	if err != nil {
		return nil, err
	}

	return &Engine{
		logger:     logger,
		provider:   provider,
		strategy:   strat,
		config:     config,
		params:     params,
		status:     types.StatusConfigured,
		progressCh: make(chan types.BacktestProgress, 16),
	}, nil
}

// Status returns the current run state
func (e *Engine) Status() types.RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatus(s types.RunStatus) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// Cancel requests cooperative cancellation; the current bar finishes
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// Progress exposes point-in-time snapshots of a running backtest
func (e *Engine) Progress() <-chan types.BacktestProgress {
	return e.progressCh
}

// symbolSeries pairs one symbol's bars with the scan cursor
type symbolSeries struct {
	symbol string
	bars   []types.OHLCV
	cursor int
}

// Run executes the backtest and returns the result. Cancellation returns
// the partial result with status cancelled; data exhaustion and engine
// faults return a BacktestingError with status failed.
func (e *Engine) Run(ctx context.Context) (*types.BacktestResult, error) {
	runID := e.config.ID
	if runID == "" {
		runID = utils.GenerateRunID()
	}

	result := &types.BacktestResult{
		ID:        runID,
		Strategy:  e.strategy.Name(),
		Config:    e.config,
		StartedAt: time.Now(),
	}

	e.setStatus(types.StatusRunning)
	e.logger.Info("backtest started",
		zap.String("id", runID),
		zap.String("strategy", e.strategy.Name()),
		zap.Strings("symbols", e.config.Symbols),
	)

	series, err := e.loadSeries(ctx)
	if err != nil {
		e.setStatus(types.StatusFailed)
		result.Status = types.StatusFailed
		return result, &types.BacktestingError{RunID: runID, Phase: "load", Err: err}
	}

	sim := newSimulation(e, runID)
	status := sim.run(ctx, series)

	result.Status = status
	result.Trades = sim.trades
	result.EquityCurve = sim.equityCurve
	result.BarsProcessed = sim.barsProcessed
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	calc := NewMetricsCalculator(e.logger)
	result.Metrics = calc.Calculate(MetricsInput{
		Trades:         sim.trades,
		EquityCurve:    sim.equityCurve,
		InitialCapital: e.config.InitialCapital,
		PeriodsPerYear: PeriodsPerYear(e.config.Timeframe),
		RiskFreeRate:   e.config.RiskFreeRate,
		Benchmark:      e.config.Benchmark,
	})

	e.setStatus(status)
	e.logger.Info("backtest finished",
		zap.String("id", runID),
		zap.String("status", string(status)),
		zap.Uint64("bars", sim.barsProcessed),
		zap.Int("trades", len(sim.trades)),
	)

	return result, nil
}

// loadSeries fetches bars for every symbol. Failures are isolated per
// symbol; the run only fails when no symbol has data.
func (e *Engine) loadSeries(ctx context.Context) ([]*symbolSeries, error) {
	var series []*symbolSeries
	var lastErr error

	for _, symbol := range e.config.Symbols {
		bars, err := e.provider.GetOHLCV(ctx, symbol, e.config.Timeframe, e.config.StartDate, e.config.EndDate)
		if err != nil {
			e.logger.Error("failed to load symbol, skipping",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if len(bars) == 0 {
			lastErr = &types.DataError{Op: "fetch", Symbol: symbol, Err: fmt.Errorf("no bars in range")}
			continue
		}
		series = append(series, &symbolSeries{symbol: symbol, bars: bars})
	}

	if len(series) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no symbols configured")
		}
		return nil, lastErr
	}
	return series, nil
}

// simulation owns all mutable state of one run
type simulation struct {
	engine     *Engine
	runID      string
	portfolio  *Portfolio
	risk       *RiskManager
	commission CommissionModel
	slippage   SlippageModel

	trades        []types.Trade
	open          map[string]*types.Trade // open trade per symbol
	equityCurve   []types.EquityPoint
	barsProcessed uint64
	totalBars     uint64
}

func newSimulation(e *Engine, runID string) *simulation {
	commission, _ := NewCommissionModel(e.config.Commission)
	slippage, _ := NewSlippageModel(e.config.Slippage)

	return &simulation{
		engine:     e,
		runID:      runID,
		portfolio:  NewPortfolio(e.config.InitialCapital),
		risk:       NewRiskManager(e.logger, e.config.Risk),
		commission: commission,
		slippage:   slippage,
		open:       make(map[string]*types.Trade),
	}
}

// run scans all series in global chronological order
func (s *simulation) run(ctx context.Context, series []*symbolSeries) types.RunStatus {
	for _, ss := range series {
		s.totalBars += uint64(len(ss.bars))
	}

	for {
		next := pickNext(series)
		if next == nil {
			break
		}
		if ctx.Err() != nil || s.engine.cancelled.Load() {
			s.flattenAll(series, types.CloseReasonEndOfData)
			return types.StatusCancelled
		}

		bar := next.bars[next.cursor]
		next.cursor++
		s.processBar(next, bar)
		s.barsProcessed++

		if s.barsProcessed%256 == 0 {
			s.reportProgress(bar.Timestamp)
		}
	}

	s.flattenAll(series, types.CloseReasonEndOfData)
	s.reportProgress(time.Time{})
	return types.StatusCompleted
}

// pickNext returns the series whose next bar is earliest, nil when done
func pickNext(series []*symbolSeries) *symbolSeries {
	var next *symbolSeries
	for _, ss := range series {
		if ss.cursor >= len(ss.bars) {
			continue
		}
		if next == nil || ss.bars[ss.cursor].Timestamp.Before(next.bars[next.cursor].Timestamp) {
			next = ss
		}
	}
	return next
}

// processBar advances the simulation by one bar
func (s *simulation) processBar(ss *symbolSeries, bar types.OHLCV) {
	s.portfolio.Mark(ss.symbol, bar.Close)

	// Exits first: protective levels use intrabar extremes
	if pos := s.portfolio.Position(ss.symbol); pos != nil {
		s.checkProtectiveLevels(ss.symbol, pos, bar)
	}

	// Kill switch: a breach flattens everything and stays flat
	if s.risk.Check(bar.Timestamp, s.portfolio.Equity(), s.portfolio.Peak()) {
		s.flattenSymbols(types.CloseReasonKillSwitch, bar.Timestamp)
	}

	if !s.risk.Killed() {
		signal := s.generateSignal(ss)
		if signal != nil && signal.Direction != types.SignalHold {
			s.handleSignal(ss.symbol, signal, bar)
		}
	}

	equity := s.portfolio.Equity()
	peak := s.portfolio.Peak()
	drawdown := decimal.Zero
	if !peak.IsZero() {
		drawdown = peak.Sub(equity).Div(peak)
	}
	s.equityCurve = append(s.equityCurve, types.EquityPoint{
		Timestamp: bar.Timestamp,
		Value:     equity,
		Drawdown:  drawdown,
	})
}

// generateSignal invokes the strategy with panic recovery. A failing or
// malformed bar degrades to HOLD; the run continues.
func (s *simulation) generateSignal(ss *symbolSeries) (signal *types.Signal) {
	defer func() {
		if r := recover(); r != nil {
			s.logStrategyError(ss, fmt.Errorf("panic: %v", r))
			signal = nil
		}
	}()

	window := ss.bars[:ss.cursor]
	sig, err := s.engine.strategy.GenerateSignal(window, s.engine.params)
	if err != nil {
		s.logStrategyError(ss, err)
		return nil
	}
	if sig != nil && !validSignal(sig) {
		s.logStrategyError(ss, fmt.Errorf("malformed signal %+v", sig))
		return nil
	}
	return sig
}

func (s *simulation) logStrategyError(ss *symbolSeries, err error) {
	serr := &types.StrategyError{
		Strategy:  s.engine.strategy.Name(),
		Timestamp: ss.bars[ss.cursor-1].Timestamp,
		Err:       err,
	}
	s.engine.logger.Warn("strategy error, holding for this bar", zap.Error(serr))
}

func validSignal(sig *types.Signal) bool {
	switch sig.Direction {
	case types.SignalBuy, types.SignalSell, types.SignalHold:
	default:
		return false
	}
	if sig.Strength < 0 || sig.Strength > 1 || sig.Strength != sig.Strength {
		return false
	}
	if sig.Confidence < 0 || sig.Confidence > 1 || sig.Confidence != sig.Confidence {
		return false
	}
	return true
}

// handleSignal opens or flips a position on a BUY/SELL signal
func (s *simulation) handleSignal(symbol string, signal *types.Signal, bar types.OHLCV) {
	pos := s.portfolio.Position(symbol)

	if pos != nil {
		if pos.Direction == signal.Direction {
			return // already positioned this way
		}
		s.closePosition(symbol, pos, bar.Close, bar, types.CloseReasonSignal, bar.Timestamp)
	}

	fill := s.slippage.Fill(bar.Close, decimal.Zero, bar.Volume, signal.Direction)
	size := s.risk.PositionSize(s.portfolio.Equity(), fill, s.engine.config.Leverage)
	if size.IsZero() {
		return
	}
	// Re-derive the adaptive fill now that the size is known
	fill = s.slippage.Fill(bar.Close, size, bar.Volume, signal.Direction)

	notional := size.Mul(fill)
	commission := s.commission.Charge(notional)
	stopLoss, takeProfit := s.risk.Levels(signal, fill, signal.Direction)

	s.portfolio.Open(symbol, signal.Direction, size, fill, commission, stopLoss, takeProfit, bar.Timestamp)

	slip := fill.Sub(bar.Close).Abs().Mul(size)
	s.open[symbol] = &types.Trade{
		ID:         utils.GenerateTradeID(),
		Symbol:     symbol,
		Direction:  signal.Direction,
		EntryTime:  bar.Timestamp,
		EntryPrice: fill,
		Size:       size,
		Commission: commission,
		Slippage:   slip,
	}
}

// checkProtectiveLevels closes a position whose stop or target was touched
// inside the bar. The stop is checked first.
func (s *simulation) checkProtectiveLevels(symbol string, pos *types.Position, bar types.OHLCV) {
	long := pos.Direction == types.SignalBuy

	if !pos.StopLoss.IsZero() {
		touched := (long && bar.Low.LessThanOrEqual(pos.StopLoss)) ||
			(!long && bar.High.GreaterThanOrEqual(pos.StopLoss))
		if touched {
			s.closePosition(symbol, pos, pos.StopLoss, bar, types.CloseReasonStopLoss, bar.Timestamp)
			return
		}
	}
	if !pos.TakeProfit.IsZero() {
		touched := (long && bar.High.GreaterThanOrEqual(pos.TakeProfit)) ||
			(!long && bar.Low.LessThanOrEqual(pos.TakeProfit))
		if touched {
			s.closePosition(symbol, pos, pos.TakeProfit, bar, types.CloseReasonTakeProfit, bar.Timestamp)
		}
	}
}

// closePosition exits at the given reference price with slippage and
// commission applied, and finalizes the trade record
func (s *simulation) closePosition(symbol string, pos *types.Position, refPrice decimal.Decimal, bar types.OHLCV, reason types.CloseReason, at time.Time) {
	exitDirection := types.SignalSell
	if pos.Direction == types.SignalSell {
		exitDirection = types.SignalBuy
	}

	fill := s.slippage.Fill(refPrice, pos.Size, bar.Volume, exitDirection)
	commission := s.commission.Charge(pos.Size.Mul(fill))
	pnl := s.portfolio.Close(symbol, fill, commission)

	trade, ok := s.open[symbol]
	if !ok {
		return
	}
	delete(s.open, symbol)

	exitAt := at
	entryCommission := trade.Commission
	trade.ExitTime = &exitAt
	trade.ExitPrice = fill
	trade.CloseReason = reason
	trade.Commission = entryCommission.Add(commission)
	trade.Slippage = trade.Slippage.Add(fill.Sub(refPrice).Abs().Mul(pos.Size))
	// pnl already nets the exit commission; charge the entry leg here
	trade.PnL = pnl.Sub(entryCommission)
	s.trades = append(s.trades, *trade)
}

// flattenSymbols closes every open position at its current mark
func (s *simulation) flattenSymbols(reason types.CloseReason, at time.Time) {
	for symbol := range s.open {
		pos := s.portfolio.Position(symbol)
		if pos == nil {
			delete(s.open, symbol)
			continue
		}
		bar := types.OHLCV{Volume: decimal.Zero}
		s.closePosition(symbol, pos, pos.MarkPrice, bar, reason, at)
	}
}

// flattenAll closes remaining positions at each symbol's last seen bar
func (s *simulation) flattenAll(series []*symbolSeries, reason types.CloseReason) {
	for _, ss := range series {
		pos := s.portfolio.Position(ss.symbol)
		if pos == nil {
			continue
		}
		idx := ss.cursor - 1
		if idx < 0 {
			idx = 0
		}
		bar := ss.bars[idx]
		s.closePosition(ss.symbol, pos, bar.Close, bar, reason, bar.Timestamp)
	}
}

func (s *simulation) reportProgress(current time.Time) {
	var pct float64
	if s.totalBars > 0 {
		pct = float64(s.barsProcessed) / float64(s.totalBars) * 100
	}
	progress := types.BacktestProgress{
		ID:             s.runID,
		Status:         types.StatusRunning,
		Progress:       pct,
		BarsProcessed:  s.barsProcessed,
		TotalBars:      s.totalBars,
		CurrentDate:    current,
		TradesExecuted: len(s.trades),
		CurrentEquity:  s.portfolio.Equity(),
	}
	select {
	case s.engine.progressCh <- progress:
	default:
	}
}

// PeriodsPerYear maps a timeframe to its annualization factor
func PeriodsPerYear(tf types.Timeframe) float64 {
	switch tf {
	case types.Timeframe1d:
		return 252
	case types.Timeframe4h:
		return 252 * 6
	case types.Timeframe1h:
		return 252 * 24
	case types.Timeframe15m:
		return 252 * 24 * 4
	case types.Timeframe5m:
		return 252 * 24 * 12
	case types.Timeframe1m:
		return 252 * 24 * 60
	default:
		return 252
	}
}
