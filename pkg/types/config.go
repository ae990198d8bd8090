package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionModel selects how per-fill commission is charged
type CommissionModel string

const (
	CommissionPercentage CommissionModel = "percentage"
	CommissionFixed      CommissionModel = "fixed"
	CommissionTiered     CommissionModel = "tiered"
)

// CommissionTier is one volume band of a tiered commission schedule.
// Bands are matched against cumulative traded notional.
type CommissionTier struct {
	Threshold decimal.Decimal `json:"threshold"` // notional at which this rate starts
	Rate      decimal.Decimal `json:"rate"`      // fraction of notional
}

// CommissionConfig configures the commission model for a run
type CommissionConfig struct {
	Model CommissionModel  `json:"model"`
	Rate  decimal.Decimal  `json:"rate,omitempty"`  // percentage model, fraction of notional
	Fixed decimal.Decimal  `json:"fixed,omitempty"` // fixed model, cash per fill
	Tiers []CommissionTier `json:"tiers,omitempty"` // tiered model, ascending thresholds
}

// SlippageModel selects how fill prices are degraded
type SlippageModel string

const (
	SlippagePercentage SlippageModel = "percentage"
	SlippageFixed      SlippageModel = "fixed"
	SlippageAdaptive   SlippageModel = "adaptive"
)

// SlippageConfig configures the slippage model for a run
type SlippageConfig struct {
	Model        SlippageModel   `json:"model"`
	Bps          decimal.Decimal `json:"bps,omitempty"`          // percentage model, basis points
	Fixed        decimal.Decimal `json:"fixed,omitempty"`        // fixed model, absolute price offset
	ImpactFactor decimal.Decimal `json:"impactFactor,omitempty"` // adaptive model, scales sqrt participation
}

// RiskConfig sets per-run risk limits. The drawdown and daily loss limits
// trigger the kill switch; fractions of equity in [0,1].
type RiskConfig struct {
	MaxPositionSize decimal.Decimal `json:"maxPositionSize"` // fraction of equity per position
	MaxDrawdown     decimal.Decimal `json:"maxDrawdown"`
	MaxDailyLoss    decimal.Decimal `json:"maxDailyLoss"`
	StopLoss        decimal.Decimal `json:"stopLoss,omitempty"`   // default fraction below entry
	TakeProfit      decimal.Decimal `json:"takeProfit,omitempty"` // default fraction above entry
}

// WalkForwardConfig sets rolling validation window sizes, in days
type WalkForwardConfig struct {
	WindowSize int `json:"windowSize"` // training span
	TestSize   int `json:"testSize"`   // out-of-sample span
	StepSize   int `json:"stepSize"`   // roll increment
}

// BacktestConfig fully describes one simulation run
type BacktestConfig struct {
	ID             string             `json:"id"`
	Symbols        []string           `json:"symbols"`
	Timeframe      Timeframe          `json:"timeframe"`
	StartDate      time.Time          `json:"startDate"`
	EndDate        time.Time          `json:"endDate"`
	InitialCapital decimal.Decimal    `json:"initialCapital"`
	Leverage       decimal.Decimal    `json:"leverage,omitempty"` // 1 when zero
	Commission     CommissionConfig   `json:"commission"`
	Slippage       SlippageConfig     `json:"slippage"`
	Risk           RiskConfig         `json:"risk"`
	RiskFreeRate   float64            `json:"riskFreeRate,omitempty"` // annualized
	Benchmark      []float64          `json:"benchmark,omitempty"`    // daily benchmark returns
	WalkForward    *WalkForwardConfig `json:"walkForward,omitempty"`
	Params         map[string]float64 `json:"params,omitempty"` // strategy parameter overrides
}

// OptimizationMethod selects the search algorithm
type OptimizationMethod string

const (
	MethodGrid     OptimizationMethod = "grid"
	MethodRandom   OptimizationMethod = "random"
	MethodBayesian OptimizationMethod = "bayesian"
	MethodGenetic  OptimizationMethod = "genetic"
)

// OptimizationConstraints filters out unacceptable parameter sets.
// A violating trial keeps its metrics but scores negative infinity.
type OptimizationConstraints struct {
	MaxDrawdown float64 `json:"maxDrawdown,omitempty"` // 0 = unconstrained
	MinTrades   int     `json:"minTrades,omitempty"`
}

// OptimizationConfig configures a parameter search
type OptimizationConfig struct {
	Method      OptimizationMethod      `json:"method"`
	Objective   string                  `json:"objective"` // metric name, e.g. "sharpeRatio"
	Iterations  int                     `json:"iterations,omitempty"`
	Constraints OptimizationConstraints `json:"constraints,omitempty"`
	Workers     int                     `json:"workers,omitempty"` // 0 = NumCPU
	Seed        int64                   `json:"seed,omitempty"`    // 0 = time-seeded

	// Genetic method
	PopulationSize int     `json:"populationSize,omitempty"`
	Generations    int     `json:"generations,omitempty"`
	MutationRate   float64 `json:"mutationRate,omitempty"`
	CrossoverRate  float64 `json:"crossoverRate,omitempty"`
	EliteCount     int     `json:"eliteCount,omitempty"`

	// Bayesian method
	InitialSamples int `json:"initialSamples,omitempty"`
	Candidates     int `json:"candidates,omitempty"` // acquisition pool per step
}

// ComparisonConfig configures multi-strategy comparison
type ComparisonConfig struct {
	Weights        map[string]float64 `json:"weights,omitempty"` // metric name -> weight
	Significance   bool               `json:"significance"`
	Alpha          float64            `json:"alpha,omitempty"` // default 0.05
	RegimeAnalysis bool               `json:"regimeAnalysis"`
}

// EvaluationConfig configures a full strategy evaluation
type EvaluationConfig struct {
	WalkForward          bool                `json:"walkForward"`
	Optimize             bool                `json:"optimize"`
	Optimization         *OptimizationConfig `json:"optimization,omitempty"`
	Sensitivity          bool                `json:"sensitivity"`
	MonteCarlo           bool                `json:"monteCarlo"`
	MonteCarloIterations int                 `json:"monteCarloIterations,omitempty"`
	Robustness           bool                `json:"robustness"`
	RegimeAnalysis       bool                `json:"regimeAnalysis"`
}

// ServerConfig holds runtime settings for the embedding HTTP server
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"readTimeout"`
	WriteTimeout    time.Duration `json:"writeTimeout"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout"`
	AllowedOrigins  []string      `json:"allowedOrigins"`
}
