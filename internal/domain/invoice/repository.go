package invoice

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/types"
)

// Repository defines the interface for invoice persistence operations
type Repository interface {
	// Create creates a new invoice together with its line items,
	// assigning CreatedAt/UpdatedAt.
	Create(ctx context.Context, inv *Invoice) error

	// Get retrieves an invoice with line items by ID
	Get(ctx context.Context, id string) (*Invoice, error)

	// GetByExternalRef retrieves an invoice by the gateway's identifier
	GetByExternalRef(ctx context.Context, externalRef string) (*Invoice, error)

	// GetByIdempotencyKey retrieves an invoice by idempotency key,
	// ErrNotFound when absent
	GetByIdempotencyKey(ctx context.Context, key string) (*Invoice, error)

	// List retrieves a customer's invoices, newest first
	List(ctx context.Context, customerID string) ([]*Invoice, error)

	// UpdateStatus transitions the invoice status. It fails with
	// ErrValidation for transitions away from a terminal status.
	UpdateStatus(ctx context.Context, id string, status types.InvoiceStatus, paidAt *time.Time) error
}
