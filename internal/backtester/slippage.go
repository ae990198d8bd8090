package backtester

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// SlippageModel degrades fill prices against the trader
type SlippageModel interface {
	// Fill returns the executed price for an order of the given size at the
	// quoted price. Buys fill above the quote, sells below.
	Fill(price, size, barVolume decimal.Decimal, direction types.SignalDirection) decimal.Decimal
}

// NewSlippageModel builds a model from config. An empty model fills at
// the quote.
func NewSlippageModel(config types.SlippageConfig) (SlippageModel, error) {
	switch config.Model {
	case types.SlippagePercentage:
		return &PercentageSlippage{Bps: config.Bps}, nil
	case types.SlippageFixed:
		return &FixedSlippage{Offset: config.Fixed}, nil
	case types.SlippageAdaptive:
		return &AdaptiveSlippage{ImpactFactor: config.ImpactFactor}, nil
	case "":
		return &FixedSlippage{}, nil
	default:
		return nil, fmt.Errorf("unknown slippage model %q", config.Model)
	}
}

var tenThousand = decimal.NewFromInt(10000)

// PercentageSlippage moves the price by a fixed number of basis points
type PercentageSlippage struct {
	Bps decimal.Decimal
}

func (s *PercentageSlippage) Fill(price, size, barVolume decimal.Decimal, direction types.SignalDirection) decimal.Decimal {
	offset := price.Mul(s.Bps).Div(tenThousand)
	return applyOffset(price, offset, direction)
}

// FixedSlippage moves the price by an absolute offset
type FixedSlippage struct {
	Offset decimal.Decimal
}

func (s *FixedSlippage) Fill(price, size, barVolume decimal.Decimal, direction types.SignalDirection) decimal.Decimal {
	return applyOffset(price, s.Offset, direction)
}

// AdaptiveSlippage scales impact with the square root of the order's share
// of bar volume, the standard market-impact approximation.
type AdaptiveSlippage struct {
	ImpactFactor decimal.Decimal
}

func (s *AdaptiveSlippage) Fill(price, size, barVolume decimal.Decimal, direction types.SignalDirection) decimal.Decimal {
	if barVolume.IsZero() {
		return price
	}
	participation, _ := size.Div(barVolume).Float64()
	if participation < 0 {
		participation = 0
	}
	impact := decimal.NewFromFloat(math.Sqrt(participation)).Mul(s.ImpactFactor)
	offset := price.Mul(impact)
	return applyOffset(price, offset, direction)
}

func applyOffset(price, offset decimal.Decimal, direction types.SignalDirection) decimal.Decimal {
	if direction == types.SignalBuy {
		return price.Add(offset)
	}
	return price.Sub(offset)
}
