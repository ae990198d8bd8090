package backtester

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// RiskManager enforces per-run risk limits. Once the kill switch trips the
// run stays flat; it never re-arms within the same run.
type RiskManager struct {
	logger *zap.Logger
	config types.RiskConfig

	killed      bool
	killedAt    time.Time
	dayStart    time.Time
	dayOpenEq   decimal.Decimal
	initialized bool
}

// NewRiskManager creates a risk manager for one run
func NewRiskManager(logger *zap.Logger, config types.RiskConfig) *RiskManager {
	return &RiskManager{
		logger: logger,
		config: config,
	}
}

// Killed reports whether the kill switch has tripped
func (rm *RiskManager) Killed() bool { return rm.killed }

// Check evaluates drawdown and daily-loss limits against current equity.
// Returns true when the kill switch trips on this call.
func (rm *RiskManager) Check(timestamp time.Time, equity, peakEquity decimal.Decimal) bool {
	if rm.killed {
		return false
	}

	day := timestamp.Truncate(24 * time.Hour)
	if !rm.initialized || day.After(rm.dayStart) {
		rm.dayStart = day
		rm.dayOpenEq = equity
		rm.initialized = true
	}

	if !rm.config.MaxDrawdown.IsZero() && !peakEquity.IsZero() {
		dd := peakEquity.Sub(equity).Div(peakEquity)
		if dd.GreaterThanOrEqual(rm.config.MaxDrawdown) {
			rm.trip(timestamp, "max drawdown breached", dd)
			return true
		}
	}

	if !rm.config.MaxDailyLoss.IsZero() && !rm.dayOpenEq.IsZero() {
		dayLoss := rm.dayOpenEq.Sub(equity).Div(rm.dayOpenEq)
		if dayLoss.GreaterThanOrEqual(rm.config.MaxDailyLoss) {
			rm.trip(timestamp, "max daily loss breached", dayLoss)
			return true
		}
	}

	return false
}

func (rm *RiskManager) trip(timestamp time.Time, reason string, level decimal.Decimal) {
	rm.killed = true
	rm.killedAt = timestamp
	if rm.logger != nil {
		rm.logger.Warn("risk kill switch tripped",
			zap.String("reason", reason),
			zap.String("level", level.String()),
			zap.Time("at", timestamp),
		)
	}
}

// PositionSize returns the quantity to open for a signal: a fixed fraction
// of current equity scaled by leverage, converted at the fill price.
func (rm *RiskManager) PositionSize(equity, fillPrice, leverage decimal.Decimal) decimal.Decimal {
	if fillPrice.IsZero() || rm.killed {
		return decimal.Zero
	}

	fraction := rm.config.MaxPositionSize
	if fraction.IsZero() {
		fraction = decimal.NewFromFloat(0.1)
	}
	if leverage.IsZero() {
		leverage = decimal.NewFromInt(1)
	}

	notional := equity.Mul(fraction).Mul(leverage)
	return notional.Div(fillPrice)
}

// Levels derives stop-loss and take-profit prices for a new position from
// the config defaults, honoring explicit levels on the signal.
func (rm *RiskManager) Levels(signal *types.Signal, fillPrice decimal.Decimal, direction types.SignalDirection) (stopLoss, takeProfit decimal.Decimal) {
	stopLoss = signal.StopLoss
	takeProfit = signal.TakeProfit

	one := decimal.NewFromInt(1)
	if stopLoss.IsZero() && !rm.config.StopLoss.IsZero() {
		if direction == types.SignalBuy {
			stopLoss = fillPrice.Mul(one.Sub(rm.config.StopLoss))
		} else {
			stopLoss = fillPrice.Mul(one.Add(rm.config.StopLoss))
		}
	}
	if takeProfit.IsZero() && !rm.config.TakeProfit.IsZero() {
		if direction == types.SignalBuy {
			takeProfit = fillPrice.Mul(one.Add(rm.config.TakeProfit))
		} else {
			takeProfit = fillPrice.Mul(one.Sub(rm.config.TakeProfit))
		}
	}
	return stopLoss, takeProfit
}
