package gateway

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/types"
)

// LineItem is one invoice line as presented to the payment gateway.
// Amounts are integer minor units; the gateway never sees floats.
type LineItem struct {
	Description      string
	AmountMinorUnits int64
}

// Invoice is the gateway's view of a created invoice.
type Invoice struct {
	ExternalID          string
	HostedURL           string
	AmountDueMinorUnits int64
	Status              types.InvoiceStatus
	DueDate             *time.Time
}

// InvoiceStatus is the gateway's current view of an invoice's payment state.
type InvoiceStatus struct {
	ExternalID           string
	Status               types.InvoiceStatus
	AmountPaidMinorUnits int64
	AmountDueMinorUnits  int64
}

// Subscription is the gateway's view of a recurring billing setup.
type Subscription struct {
	SubscriptionID string
	Status         string
	// ClientSecret completes the first payment on the customer's side,
	// when the provider issues one.
	ClientSecret string
}

// Gateway is the external payment processor consumed by the billing
// orchestrator. Implementations must surface every failure marked with
// ErrGateway; the orchestrator treats them all as retryable unless the
// attached Error reports a permanent rejection.
type Gateway interface {
	// CreateCustomer returns the gateway's reference for the customer
	// with the given email, creating one if none exists.
	CreateCustomer(ctx context.Context, email string) (string, error)

	// CreateInvoice creates, finalizes and sends an invoice for the
	// given line items, due in dueDays days.
	CreateInvoice(ctx context.Context, customerRef string, items []LineItem, dueDays int) (*Invoice, error)

	// GetInvoiceStatus fetches the current payment state of an invoice.
	GetInvoiceStatus(ctx context.Context, externalID string) (*InvoiceStatus, error)

	// CreateSubscription sets up recurring billing at a fixed amount per
	// interval.
	CreateSubscription(ctx context.Context, customerRef string, amountMinorUnits int64, interval types.PaymentInterval) (*Subscription, error)

	// CreatePaymentLink returns a hosted URL collecting a one-time
	// payment for the given amount.
	CreatePaymentLink(ctx context.Context, description string, amountMinorUnits int64) (string, error)
}
