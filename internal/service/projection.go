package service

import (
	"github.com/shopspring/decimal"
)

// MarginProjection is the outcome of a pricing viability check.
type MarginProjection struct {
	Volume        decimal.Decimal `json:"volume"`
	Cost          decimal.Decimal `json:"cost"`
	Revenue       decimal.Decimal `json:"revenue"`
	Profit        decimal.Decimal `json:"profit"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
	Viable        bool            `json:"viable"`
}

// ProjectMargin projects cost, revenue and margin for an expected volume
// at the given per-unit cost and price. Pure computation, no I/O: it is
// meant for pricing decisions before any usage exists.
func ProjectMargin(volume, unitCost, unitPrice, marginThresholdPercent decimal.Decimal) MarginProjection {
	cost := volume.Mul(unitCost)
	revenue := volume.Mul(unitPrice)
	profit := revenue.Sub(cost)

	marginPercent := decimal.Zero
	if revenue.IsPositive() {
		marginPercent = profit.Div(revenue).Mul(decimal.NewFromInt(100))
	}

	return MarginProjection{
		Volume:        volume,
		Cost:          cost,
		Revenue:       revenue,
		Profit:        profit,
		MarginPercent: marginPercent,
		Viable:        marginPercent.GreaterThanOrEqual(marginThresholdPercent),
	}
}
