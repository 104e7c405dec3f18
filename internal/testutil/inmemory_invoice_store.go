package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/invoice"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryInvoiceStore implements invoice.Repository
type InMemoryInvoiceStore struct {
	mu       sync.Mutex
	invoices map[string]*invoice.Invoice
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		invoices: make(map[string]*invoice.Invoice),
	}
}

func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	if inv == nil {
		return nil
	}
	out := *inv
	if inv.ExternalRef != nil {
		ref := *inv.ExternalRef
		out.ExternalRef = &ref
	}
	if inv.HostedURL != nil {
		url := *inv.HostedURL
		out.HostedURL = &url
	}
	if inv.IdempotencyKey != nil {
		key := *inv.IdempotencyKey
		out.IdempotencyKey = &key
	}
	if inv.PaidAt != nil {
		t := *inv.PaidAt
		out.PaidAt = &t
	}
	out.LineItems = make([]*invoice.LineItem, len(inv.LineItems))
	for i, item := range inv.LineItems {
		itemCopy := *item
		out.LineItems[i] = &itemCopy
	}
	return &out
}

func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	if err := inv.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == "" {
		inv.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE)
	}
	if _, exists := s.invoices[inv.ID]; exists {
		return ierr.NewError("invoice already exists").
			WithHintf("Invoice %s already exists", inv.ID).
			Mark(ierr.ErrAlreadyExists)
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	for i, item := range inv.LineItems {
		item.InvoiceID = inv.ID
		item.Position = i
	}
	s.invoices[inv.ID] = copyInvoice(inv)
	return nil
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, ierr.NewError("invoice not found").
			WithHintf("No invoice with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	return copyInvoice(inv), nil
}

func (s *InMemoryInvoiceStore) GetByExternalRef(ctx context.Context, externalRef string) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range s.invoices {
		if inv.ExternalRef != nil && *inv.ExternalRef == externalRef {
			return copyInvoice(inv), nil
		}
	}
	return nil, ierr.NewError("invoice not found").
		WithHintf("No invoice with external ref %s", externalRef).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryInvoiceStore) GetByIdempotencyKey(ctx context.Context, key string) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range s.invoices {
		if inv.IdempotencyKey != nil && *inv.IdempotencyKey == key {
			return copyInvoice(inv), nil
		}
	}
	return nil, ierr.NewError("invoice not found").
		WithHint("No invoice with the given idempotency key").
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryInvoiceStore) List(ctx context.Context, customerID string) ([]*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*invoice.Invoice
	for _, inv := range s.invoices {
		if inv.CustomerID == customerID {
			out = append(out, copyInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *InMemoryInvoiceStore) UpdateStatus(ctx context.Context, id string, status types.InvoiceStatus, paidAt *time.Time) error {
	if !status.Validate() {
		return ierr.NewError("invalid invoice status").
			WithHintf("Unknown invoice status %q", status).
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return ierr.NewError("invoice not found").
			WithHintf("No invoice with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	if inv.Status.IsTerminal() {
		if inv.Status == status {
			return nil
		}
		return ierr.NewError("invoice status is terminal").
			WithHintf("Cannot transition invoice from %s to %s", inv.Status, status).
			Mark(ierr.ErrValidation)
	}

	inv.Status = status
	if paidAt != nil {
		t := paidAt.UTC()
		inv.PaidAt = &t
	}
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

// Clear removes all invoices from the store
func (s *InMemoryInvoiceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = make(map[string]*invoice.Invoice)
}
