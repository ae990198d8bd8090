package backtester

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// CommissionModel charges a fee per fill
type CommissionModel interface {
	// Charge returns the fee for a fill of the given notional value
	Charge(notional decimal.Decimal) decimal.Decimal
}

// NewCommissionModel builds a model from config. An empty model means no
// commission.
func NewCommissionModel(config types.CommissionConfig) (CommissionModel, error) {
	switch config.Model {
	case types.CommissionPercentage:
		return &PercentageCommission{Rate: config.Rate}, nil
	case types.CommissionFixed:
		return &FixedCommission{Fee: config.Fixed}, nil
	case types.CommissionTiered:
		if len(config.Tiers) == 0 {
			return nil, fmt.Errorf("tiered commission requires tiers")
		}
		return &TieredCommission{Tiers: config.Tiers}, nil
	case "":
		return &FixedCommission{}, nil
	default:
		return nil, fmt.Errorf("unknown commission model %q", config.Model)
	}
}

// PercentageCommission charges a fraction of notional per fill
type PercentageCommission struct {
	Rate decimal.Decimal
}

func (c *PercentageCommission) Charge(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(c.Rate)
}

// FixedCommission charges a flat cash fee per fill
type FixedCommission struct {
	Fee decimal.Decimal
}

func (c *FixedCommission) Charge(notional decimal.Decimal) decimal.Decimal {
	return c.Fee
}

// TieredCommission charges a rate that depends on cumulative traded
// notional within the run. Tiers are ascending; the highest tier whose
// threshold has been reached applies.
type TieredCommission struct {
	Tiers      []types.CommissionTier
	cumulative decimal.Decimal
}

func (c *TieredCommission) Charge(notional decimal.Decimal) decimal.Decimal {
	rate := c.Tiers[0].Rate
	for _, tier := range c.Tiers {
		if c.cumulative.GreaterThanOrEqual(tier.Threshold) {
			rate = tier.Rate
		}
	}
	c.cumulative = c.cumulative.Add(notional)
	return notional.Mul(rate)
}
