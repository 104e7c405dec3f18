package invoice

import (
	"time"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Invoice represents one billing cycle outcome for a customer.
type Invoice struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`

	// PeriodStart and PeriodEnd are the aggregation window the invoice
	// covers.
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	// ExternalRef is the identifier assigned by the payment gateway once
	// the invoice exists upstream.
	ExternalRef *string `json:"external_ref,omitempty"`
	// HostedURL is the gateway's hosted payment page, when available.
	HostedURL *string `json:"hosted_url,omitempty"`

	Currency string `json:"currency"`
	// AmountMinorUnits is the total in the smallest currency unit.
	// Monetary totals never live in floats.
	AmountMinorUnits int64 `json:"amount_minor_units"`

	Status types.InvoiceStatus `json:"status"`

	// IdempotencyKey is deterministic over (customer, period) so a
	// retried generation can find the record a crashed run left behind.
	IdempotencyKey *string `json:"idempotency_key,omitempty"`

	LineItems []*LineItem `json:"line_items,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

func (i *Invoice) Validate() error {
	if i.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Customer ID is required").
			Mark(ierr.ErrValidation)
	}
	if !i.Status.Validate() {
		return ierr.NewError("invalid invoice status").
			WithHintf("Unknown invoice status %q", i.Status).
			Mark(ierr.ErrValidation)
	}
	if i.AmountMinorUnits < 0 {
		return ierr.NewError("amount must be non negative").
			WithHint("Invoice amount must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	if i.PeriodEnd.Before(i.PeriodStart) {
		return ierr.NewError("period_end before period_start").
			WithHint("Period end must not be before period start").
			Mark(ierr.ErrValidation)
	}

	// sum of line item subtotals must equal the invoice total
	var sum int64
	for _, item := range i.LineItems {
		if err := item.Validate(); err != nil {
			return err
		}
		sum += item.AmountMinorUnits
	}
	if len(i.LineItems) > 0 && sum != i.AmountMinorUnits {
		return ierr.NewError("line items do not sum to invoice total").
			WithReportableDetails(map[string]any{
				"line_item_sum": sum,
				"amount":        i.AmountMinorUnits,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// CanTransitionTo reports whether the status change is legal. Paid and
// void are terminal.
func (i *Invoice) CanTransitionTo(next types.InvoiceStatus) bool {
	if i.Status.IsTerminal() {
		return false
	}
	return next.Validate()
}
