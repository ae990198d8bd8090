// Package types provides shared value objects for the strategy evaluation engine.
// Everything here is plain data and JSON-serializable so the engine can be
// embedded behind any CLI, API, or scheduler.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalDirection represents the direction of a trading signal
type SignalDirection string

const (
	SignalBuy  SignalDirection = "BUY"
	SignalSell SignalDirection = "SELL"
	SignalHold SignalDirection = "HOLD"
)

// Timeframe represents bar intervals
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the bar interval as a time.Duration
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Intraday reports whether the timeframe is shorter than a day
func (tf Timeframe) Intraday() bool {
	return tf.Duration() < 24*time.Hour
}

// MarketRegime is a qualitative classification of price behavior
type MarketRegime string

const (
	RegimeTrendingUp    MarketRegime = "trending_up"
	RegimeTrendingDown  MarketRegime = "trending_down"
	RegimeRanging       MarketRegime = "ranging"
	RegimeVolatile      MarketRegime = "volatile"
	RegimeLowVolatility MarketRegime = "low_volatility"
	RegimeUnknown       MarketRegime = "unknown"
)

// AllRegimes lists the regimes considered by regime-specific analysis
var AllRegimes = []MarketRegime{
	RegimeTrendingUp,
	RegimeTrendingDown,
	RegimeRanging,
	RegimeVolatile,
	RegimeLowVolatility,
}

// OHLCV represents a single candlestick.
// Invariant after provider normalization: Low <= Open,Close <= High,
// Volume >= 0, and timestamps strictly increase within a series.
type OHLCV struct {
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Signal is the per-bar output of a strategy. A nil signal and a HOLD
// signal are equivalent to the engine.
type Signal struct {
	Timestamp  time.Time       `json:"timestamp"`
	Direction  SignalDirection `json:"direction"`
	Strength   float64         `json:"strength"`   // 0..1
	Confidence float64         `json:"confidence"` // 0..1
	Price      decimal.Decimal `json:"price"`
	StopLoss   decimal.Decimal `json:"stopLoss,omitempty"`   // zero = unset
	TakeProfit decimal.Decimal `json:"takeProfit,omitempty"` // zero = unset
	Reasoning  string          `json:"reasoning,omitempty"`
}

// CloseReason records why a trade was closed
type CloseReason string

const (
	CloseReasonSignal     CloseReason = "signal"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonKillSwitch CloseReason = "kill_switch"
	CloseReasonEndOfData  CloseReason = "end_of_data"
)

// Trade represents a round trip, or a still-open position while ExitTime is nil.
// Invariant: ExitTime >= EntryTime when present.
type Trade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Direction   SignalDirection `json:"direction"`
	EntryTime   time.Time       `json:"entryTime"`
	ExitTime    *time.Time      `json:"exitTime,omitempty"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	ExitPrice   decimal.Decimal `json:"exitPrice,omitempty"`
	Size        decimal.Decimal `json:"size"`
	Commission  decimal.Decimal `json:"commission"`
	Slippage    decimal.Decimal `json:"slippage"`
	PnL         decimal.Decimal `json:"pnl,omitempty"`
	CloseReason CloseReason     `json:"closeReason,omitempty"`
}

// Closed reports whether the trade has been exited
func (t *Trade) Closed() bool { return t.ExitTime != nil }

// Position is the current open exposure for a symbol. The engine holds at
// most one net position per symbol.
type Position struct {
	Symbol     string          `json:"symbol"`
	Direction  SignalDirection `json:"direction"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	MarkPrice  decimal.Decimal `json:"markPrice"`
	StopLoss   decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit decimal.Decimal `json:"takeProfit,omitempty"`
	OpenedAt   time.Time       `json:"openedAt"`
}

// EquityPoint is one sample of the equity curve.
// Invariant: timestamps non-decreasing.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
	Drawdown  decimal.Decimal `json:"drawdown"`
}

// SentimentImpact grades the expected market impact of an event
type SentimentImpact string

const (
	ImpactLow    SentimentImpact = "low"
	ImpactMedium SentimentImpact = "medium"
	ImpactHigh   SentimentImpact = "high"
)

// SentimentEvent is a scored news item for a symbol
type SentimentEvent struct {
	Timestamp  time.Time       `json:"timestamp"`
	Symbol     string          `json:"symbol"`
	Sentiment  float64         `json:"sentiment"`  // -1..1
	Confidence float64         `json:"confidence"` // 0..1
	Impact     SentimentImpact `json:"impact"`
	Headline   string          `json:"headline,omitempty"`
}

// EconomicEvent is a calendar entry for a currency
type EconomicEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Currency  string          `json:"currency"`
	Name      string          `json:"name"`
	Impact    SentimentImpact `json:"impact"`
	Actual    float64         `json:"actual,omitempty"`
	Forecast  float64         `json:"forecast,omitempty"`
	Previous  float64         `json:"previous,omitempty"`
}

// MarketContext is the derived market state at a point in time
type MarketContext struct {
	Timestamp   time.Time    `json:"timestamp"`
	Symbol      string       `json:"symbol"`
	Regime      MarketRegime `json:"regime"`
	Volatility  float64      `json:"volatility"`  // annualized
	Liquidity   float64      `json:"liquidity"`   // 0..1
	Sentiment   float64      `json:"sentiment"`   // -1..1
	Correlation float64      `json:"correlation"` // vs. reference basket
}

// PerformanceMetrics is a pure value object recomputed from raw series,
// never mutated incrementally. Ratio fields use RatioCap as the documented
// sentinel instead of +Inf and never carry NaN.
type PerformanceMetrics struct {
	// Return metrics
	TotalReturn      float64   `json:"totalReturn"`
	AnnualizedReturn float64   `json:"annualizedReturn"`
	CumulativeReturn float64   `json:"cumulativeReturn"`
	RollingReturns   []float64 `json:"rollingReturns,omitempty"`

	// Risk metrics
	Volatility          float64       `json:"volatility"`
	SharpeRatio         float64       `json:"sharpeRatio"`
	SortinoRatio        float64       `json:"sortinoRatio"`
	CalmarRatio         float64       `json:"calmarRatio"`
	MaxDrawdown         float64       `json:"maxDrawdown"`
	MaxDrawdownDuration time.Duration `json:"maxDrawdownDuration"`
	VaR95               float64       `json:"var95"`
	CVaR95              float64       `json:"cvar95"`
	RachevRatio         float64       `json:"rachevRatio"`

	// Trade metrics
	TotalTrades    int             `json:"totalTrades"`
	WinningTrades  int             `json:"winningTrades"`
	LosingTrades   int             `json:"losingTrades"`
	WinRate        float64         `json:"winRate"`
	ProfitFactor   float64         `json:"profitFactor"`
	GrossProfit    decimal.Decimal `json:"grossProfit"`
	GrossLoss      decimal.Decimal `json:"grossLoss"`
	AverageWin     decimal.Decimal `json:"averageWin"`
	AverageLoss    decimal.Decimal `json:"averageLoss"`
	LargestWin     decimal.Decimal `json:"largestWin"`
	LargestLoss    decimal.Decimal `json:"largestLoss"`
	Expectancy     decimal.Decimal `json:"expectancy"`
	AvgHoldingTime time.Duration   `json:"avgHoldingTime"`

	// Benchmark-relative metrics, zero when no benchmark supplied
	Beta             float64 `json:"beta"`
	JensenAlpha      float64 `json:"jensenAlpha"`
	InformationRatio float64 `json:"informationRatio"`
	TreynorRatio     float64 `json:"treynorRatio"`
}

// RunStatus tracks the engine state machine
type RunStatus string

const (
	StatusConfigured RunStatus = "configured"
	StatusRunning    RunStatus = "running"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
	StatusCancelled  RunStatus = "cancelled"
)

// BacktestResult is the output of a single engine run
type BacktestResult struct {
	ID            string              `json:"id"`
	Strategy      string              `json:"strategy"`
	Config        *BacktestConfig     `json:"config"`
	Status        RunStatus           `json:"status"`
	Metrics       *PerformanceMetrics `json:"metrics"`
	EquityCurve   []EquityPoint       `json:"equityCurve"`
	Trades        []Trade             `json:"trades"`
	StartedAt     time.Time           `json:"startedAt"`
	CompletedAt   time.Time           `json:"completedAt"`
	Duration      time.Duration       `json:"duration"`
	BarsProcessed uint64              `json:"barsProcessed"`
}

// BacktestProgress is a point-in-time snapshot of a running backtest
type BacktestProgress struct {
	ID             string          `json:"id"`
	Status         RunStatus       `json:"status"`
	Progress       float64         `json:"progress"` // 0-100
	BarsProcessed  uint64          `json:"barsProcessed"`
	TotalBars      uint64          `json:"totalBars"`
	CurrentDate    time.Time       `json:"currentDate"`
	TradesExecuted int             `json:"tradesExecuted"`
	CurrentEquity  decimal.Decimal `json:"currentEquity"`
	Error          string          `json:"error,omitempty"`
}

// WalkForwardWindow is one rolling train/test split
type WalkForwardWindow struct {
	TrainStart   time.Time           `json:"trainStart"`
	TrainEnd     time.Time           `json:"trainEnd"`
	TestStart    time.Time           `json:"testStart"`
	TestEnd      time.Time           `json:"testEnd"`
	TrainMetrics *PerformanceMetrics `json:"trainMetrics,omitempty"`
	TestMetrics  *PerformanceMetrics `json:"testMetrics"`
}

// WalkForwardResult aggregates rolling out-of-sample windows.
// Stability = 1 - stdev(test Sharpe)/mean(|test Sharpe|), clamped to [0,1].
type WalkForwardResult struct {
	Windows          []WalkForwardWindow `json:"windows"`
	AggregateMetrics *PerformanceMetrics `json:"aggregateMetrics"`
	Stability        float64             `json:"stability"`
}

// MonteCarloResult summarizes bootstrap resampling of the trade sequence
type MonteCarloResult struct {
	Iterations      int     `json:"iterations"`
	MedianReturn    float64 `json:"medianReturn"`
	P5Return        float64 `json:"p5Return"`
	P95Return       float64 `json:"p95Return"`
	MaxDrawdownP95  float64 `json:"maxDrawdownP95"`
	ProbabilityRuin float64 `json:"probabilityRuin"`
}

// OptimizationTrial is a single parameter evaluation
type OptimizationTrial struct {
	Iteration int                 `json:"iteration"`
	Params    map[string]float64  `json:"params"`
	Score     float64             `json:"score"`
	Metrics   *PerformanceMetrics `json:"metrics,omitempty"`
	Violated  bool                `json:"violated,omitempty"` // failed a constraint
	Duration  time.Duration       `json:"duration"`
}

// ParameterSensitivity describes how much one parameter moves the objective.
// OptimalLow/OptimalHigh bound the sampled values scoring at least 90% of
// the best observed score.
type ParameterSensitivity struct {
	Name        string  `json:"name"`
	Impact      float64 `json:"impact"`
	OptimalLow  float64 `json:"optimalLow"`
	OptimalHigh float64 `json:"optimalHigh"`
}

// OptimizationResult is the output of a parameter search
type OptimizationResult struct {
	Method      string                 `json:"method"`
	Objective   string                 `json:"objective"`
	BestParams  map[string]float64     `json:"bestParams"`
	BestScore   float64                `json:"bestScore"`
	BestMetrics *PerformanceMetrics    `json:"bestMetrics,omitempty"`
	Trials      []OptimizationTrial    `json:"trials"`
	Convergence []float64              `json:"convergence"`
	Sensitivity []ParameterSensitivity `json:"sensitivity,omitempty"`
	Iterations  int                    `json:"iterations"`
	Duration    time.Duration          `json:"duration"`
}

// StrategyScore is one entry in a comparison ranking
type StrategyScore struct {
	Strategy       string          `json:"strategy"`
	Result         *BacktestResult `json:"result"`
	CompositeScore float64         `json:"compositeScore"`
}

// SignificanceTest reports one pairwise statistical comparison of daily
// return series. Both tests are reported independently; Significant is
// true when either p-value falls below the configured alpha.
type SignificanceTest struct {
	StrategyA      string  `json:"strategyA"`
	StrategyB      string  `json:"strategyB"`
	TStatistic     float64 `json:"tStatistic"`
	TPValue        float64 `json:"tPValue"`
	UStatistic     float64 `json:"uStatistic"`
	UPValue        float64 `json:"uPValue"`
	Significant    bool    `json:"significant"`
	BetterStrategy string  `json:"betterStrategy,omitempty"`
}

// ComparisonResult ranks strategies run over the same period
type ComparisonResult struct {
	Rankings      []StrategyScore         `json:"rankings"`
	Best          string                  `json:"best"`
	Significance  []SignificanceTest      `json:"significance,omitempty"`
	RegimeWinners map[MarketRegime]string `json:"regimeWinners,omitempty"`
}

// RobustnessCondition scores one perturbed re-run
type RobustnessCondition struct {
	Condition string              `json:"condition"`
	Score     float64             `json:"score"`
	Metrics   *PerformanceMetrics `json:"metrics,omitempty"`
}

// RobustnessReport is the weighted composite across perturbed conditions
type RobustnessReport struct {
	OverallScore float64               `json:"overallScore"`
	Conditions   []RobustnessCondition `json:"conditions"`
	Weaknesses   []string              `json:"weaknesses,omitempty"`
	Strengths    []string              `json:"strengths,omitempty"`
}

// EvaluationReport is the graded top-level output of the evaluator
type EvaluationReport struct {
	ID                string                               `json:"id"`
	Strategy          string                               `json:"strategy"`
	Backtest          *BacktestResult                      `json:"backtest"`
	WalkForward       *WalkForwardResult                   `json:"walkForward,omitempty"`
	Optimization      *OptimizationResult                  `json:"optimization,omitempty"`
	MonteCarlo        *MonteCarloResult                    `json:"monteCarlo,omitempty"`
	Robustness        *RobustnessReport                    `json:"robustness,omitempty"`
	RegimePerformance map[MarketRegime]*PerformanceMetrics `json:"regimePerformance,omitempty"`
	Grade             string                               `json:"grade"`
	Recommendations   []string                             `json:"recommendations"`
	GeneratedAt       time.Time                            `json:"generatedAt"`
}

// ParamType describes the kind of a strategy parameter
type ParamType string

const (
	ParamContinuous  ParamType = "continuous"
	ParamInteger     ParamType = "integer"
	ParamCategorical ParamType = "categorical"
)

// ParameterSpec declares one tunable strategy parameter
type ParameterSpec struct {
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Min     float64   `json:"min,omitempty"`
	Max     float64   `json:"max,omitempty"`
	Step    float64   `json:"step,omitempty"`
	Default float64   `json:"default"`
	Choices []float64 `json:"choices,omitempty"` // for categorical
}
