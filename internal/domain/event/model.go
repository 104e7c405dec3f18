package event

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// UsageEvent is one billable unit of work recorded against a customer.
// Events are immutable once written; only the billing state fields change,
// and only through the repository's reserve/commit/release operations.
type UsageEvent struct {
	// ID is assigned by the store at insertion and increases monotonically.
	ID         int64           `json:"id"`
	CustomerID string          `json:"customer_id"`
	Service    string          `json:"service"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Metadata   types.Metadata  `json:"metadata,omitempty"`

	// CreatedAt is set by the store. It is clock-based, so it is not
	// guaranteed monotonic per customer; ordering ties break on ID.
	CreatedAt time.Time `json:"created_at"`

	BillingState types.BillingState `json:"billing_state"`
	// ReservationID is set while the event is claimed by an in-flight
	// invoice generation, and kept on billed rows so a duplicate commit
	// with the same token can be detected as a no-op.
	ReservationID *string    `json:"reservation_id,omitempty"`
	ReservedAt    *time.Time `json:"reserved_at,omitempty"`
	// InvoiceRef points at the invoice that billed this event.
	InvoiceRef *string `json:"invoice_ref,omitempty"`
}

// New builds an unbilled event from caller input. ID and CreatedAt are
// left for the store to assign.
func New(customerID, service string, quantity decimal.Decimal, unit string, unitPrice decimal.Decimal, metadata types.Metadata) *UsageEvent {
	return &UsageEvent{
		CustomerID:   customerID,
		Service:      service,
		Quantity:     quantity,
		Unit:         unit,
		UnitPrice:    unitPrice,
		Metadata:     metadata.Copy(),
		BillingState: types.BillingStateUnbilled,
	}
}

// Validate checks the recording invariants: identifiers present, quantity
// and unit price non-negative.
func (e *UsageEvent) Validate() error {
	if e.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Customer ID is required").
			Mark(ierr.ErrValidation)
	}
	if e.Service == "" {
		return ierr.NewError("service is required").
			WithHint("Service is required").
			Mark(ierr.ErrValidation)
	}
	if e.Quantity.IsNegative() {
		return ierr.NewError("quantity must be non negative").
			WithHint("Quantity must be zero or positive").
			WithReportableDetails(map[string]any{
				"quantity": e.Quantity.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	if e.UnitPrice.IsNegative() {
		return ierr.NewError("unit_price must be non negative").
			WithHint("Unit price must be zero or positive").
			WithReportableDetails(map[string]any{
				"unit_price": e.UnitPrice.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// LineTotal is quantity x unit price for this single event. Line item
// subtotals are folded from per-event totals rather than summed quantity
// times one price, so a unit price change mid-period bills correctly.
func (e *UsageEvent) LineTotal() decimal.Decimal {
	return e.Quantity.Mul(e.UnitPrice)
}
