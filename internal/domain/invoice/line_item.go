package invoice

import (
	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
)

// AdjustmentService is the service label of the synthetic line item that
// carries the residual left by rounding each real line to minor units.
// Its presence guarantees the invoice total reconciles exactly against
// the reserved event set.
const AdjustmentService = "rounding_adjustment"

// LineItem is one aggregated service line on an invoice.
type LineItem struct {
	InvoiceID string `json:"invoice_id,omitempty"`
	// Position preserves line ordering; line items are an ordered sequence.
	Position int             `json:"position"`
	Service  string          `json:"service"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
	// UnitPrice is the last observed unit price for the service within
	// the period; display only, the subtotal is folded per event.
	UnitPrice decimal.Decimal `json:"unit_price"`
	// AmountMinorUnits is the subtotal rounded half-even to minor units.
	AmountMinorUnits int64 `json:"amount_minor_units"`
}

func (li *LineItem) Validate() error {
	if li.Service == "" {
		return ierr.NewError("line item service is required").
			WithHint("Line item service is required").
			Mark(ierr.ErrValidation)
	}
	if li.Quantity.IsNegative() && li.Service != AdjustmentService {
		return ierr.NewError("line item quantity must be non negative").
			WithHintf("Line item %q has negative quantity", li.Service).
			Mark(ierr.ErrValidation)
	}
	return nil
}
