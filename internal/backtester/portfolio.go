package backtester

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// Portfolio tracks simulated cash and open positions for one run. It holds
// at most one net position per symbol; short positions carry the sale
// proceeds in cash and a negative exposure in equity.
type Portfolio struct {
	mu          sync.RWMutex
	cash        decimal.Decimal
	initialCash decimal.Decimal
	positions   map[string]*types.Position
	peakEquity  decimal.Decimal
}

// NewPortfolio creates a portfolio with starting cash
func NewPortfolio(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[string]*types.Position),
		peakEquity:  initialCash,
	}
}

// Cash returns available cash
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Equity returns cash plus signed position exposure
func (p *Portfolio) Equity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked()
}

// Peak returns the highest equity seen so far
func (p *Portfolio) Peak() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.peakEquity
}

// Position returns the open position for a symbol, or nil
func (p *Portfolio) Position(symbol string) *types.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pos, ok := p.positions[symbol]; ok {
		cp := *pos
		return &cp
	}
	return nil
}

// Mark updates the mark price for a symbol and refreshes the equity peak
func (p *Portfolio) Mark(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pos, ok := p.positions[symbol]; ok {
		pos.MarkPrice = price
	}
	p.refreshPeakLocked()
}

// Open opens a position. fillPrice already includes slippage; commission
// is charged from cash.
func (p *Portfolio) Open(symbol string, direction types.SignalDirection, size, fillPrice, commission decimal.Decimal, stopLoss, takeProfit decimal.Decimal, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	notional := size.Mul(fillPrice)
	if direction == types.SignalBuy {
		p.cash = p.cash.Sub(notional).Sub(commission)
	} else {
		p.cash = p.cash.Add(notional).Sub(commission)
	}

	p.positions[symbol] = &types.Position{
		Symbol:     symbol,
		Direction:  direction,
		Size:       size,
		EntryPrice: fillPrice,
		MarkPrice:  fillPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   at,
	}
	p.refreshPeakLocked()
}

// Close flattens the position for a symbol and returns the realized PnL
// net of the exit commission. Returns zero when no position is open.
func (p *Portfolio) Close(symbol string, fillPrice, commission decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return decimal.Zero
	}

	notional := pos.Size.Mul(fillPrice)
	var pnl decimal.Decimal
	if pos.Direction == types.SignalBuy {
		p.cash = p.cash.Add(notional).Sub(commission)
		pnl = fillPrice.Sub(pos.EntryPrice).Mul(pos.Size).Sub(commission)
	} else {
		p.cash = p.cash.Sub(notional).Sub(commission)
		pnl = pos.EntryPrice.Sub(fillPrice).Mul(pos.Size).Sub(commission)
	}

	delete(p.positions, symbol)
	p.refreshPeakLocked()
	return pnl
}

// equityLocked computes equity; caller holds at least a read lock
func (p *Portfolio) equityLocked() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		value := pos.Size.Mul(pos.MarkPrice)
		if pos.Direction == types.SignalBuy {
			equity = equity.Add(value)
		} else {
			equity = equity.Sub(value)
		}
	}
	return equity
}

func (p *Portfolio) refreshPeakLocked() {
	if eq := p.equityLocked(); eq.GreaterThan(p.peakEquity) {
		p.peakEquity = eq
	}
}

// TotalPnL returns equity minus starting cash
func (p *Portfolio) TotalPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked().Sub(p.initialCash)
}
