package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/gateway"
	"github.com/meterline/meterline/internal/types"
)

// MockGateway is a scripted gateway.Gateway for service tests. It hands
// out deterministic identifiers, remembers every call, and can be told
// to fail the next N invoice creations or status fetches.
type MockGateway struct {
	mu sync.Mutex

	nextInvoice      int
	nextSubscription int

	// FailInvoices makes the next N CreateInvoice calls fail.
	FailInvoices int
	// FailStatuses makes the next N GetInvoiceStatus calls fail.
	FailStatuses int
	// PermanentFailure marks scripted failures as permanent rejections.
	PermanentFailure bool

	// Statuses overrides the status returned per external invoice id.
	Statuses map[string]types.InvoiceStatus
	// MissingInvoices simulates the gateway not knowing an invoice id.
	MissingInvoices map[string]bool

	CreatedInvoices []CreatedInvoice
	Customers       map[string]string
}

// CreatedInvoice records one successful CreateInvoice call.
type CreatedInvoice struct {
	ExternalID  string
	CustomerRef string
	LineItems   []gateway.LineItem
	DueDays     int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		Statuses:        make(map[string]types.InvoiceStatus),
		MissingInvoices: make(map[string]bool),
		Customers:       make(map[string]string),
	}
}

func (g *MockGateway) CreateCustomer(ctx context.Context, email string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ref, ok := g.Customers[email]; ok {
		return ref, nil
	}
	ref := fmt.Sprintf("cus_mock_%d", len(g.Customers)+1)
	g.Customers[email] = ref
	return ref, nil
}

func (g *MockGateway) CreateInvoice(ctx context.Context, customerRef string, items []gateway.LineItem, dueDays int) (*gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailInvoices > 0 {
		g.FailInvoices--
		return nil, gateway.NewError("api_error", "scripted invoice failure", g.PermanentFailure)
	}

	g.nextInvoice++
	externalID := fmt.Sprintf("in_mock_%d", g.nextInvoice)

	var total int64
	for _, item := range items {
		total += item.AmountMinorUnits
	}
	g.CreatedInvoices = append(g.CreatedInvoices, CreatedInvoice{
		ExternalID:  externalID,
		CustomerRef: customerRef,
		LineItems:   append([]gateway.LineItem(nil), items...),
		DueDays:     dueDays,
	})

	due := time.Now().UTC().AddDate(0, 0, dueDays)
	return &gateway.Invoice{
		ExternalID:          externalID,
		HostedURL:           "https://pay.example.com/" + externalID,
		AmountDueMinorUnits: total,
		Status:              types.InvoiceStatusSent,
		DueDate:             &due,
	}, nil
}

func (g *MockGateway) GetInvoiceStatus(ctx context.Context, externalID string) (*gateway.InvoiceStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailStatuses > 0 {
		g.FailStatuses--
		return nil, gateway.NewError("api_error", "scripted status failure", g.PermanentFailure)
	}
	if g.MissingInvoices[externalID] {
		return nil, gateway.NewError("resource_missing", "no such invoice", true)
	}

	status, ok := g.Statuses[externalID]
	if !ok {
		status = types.InvoiceStatusSent
	}

	var amountDue, amountPaid int64
	for _, created := range g.CreatedInvoices {
		if created.ExternalID != externalID {
			continue
		}
		for _, item := range created.LineItems {
			amountDue += item.AmountMinorUnits
		}
	}
	if status == types.InvoiceStatusPaid {
		amountPaid = amountDue
		amountDue = 0
	}

	return &gateway.InvoiceStatus{
		ExternalID:           externalID,
		Status:               status,
		AmountPaidMinorUnits: amountPaid,
		AmountDueMinorUnits:  amountDue,
	}, nil
}

func (g *MockGateway) CreateSubscription(ctx context.Context, customerRef string, amountMinorUnits int64, interval types.PaymentInterval) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextSubscription++
	return &gateway.Subscription{
		SubscriptionID: fmt.Sprintf("sub_mock_%d", g.nextSubscription),
		Status:         "incomplete",
		ClientSecret:   fmt.Sprintf("pi_mock_%d_secret", g.nextSubscription),
	}, nil
}

func (g *MockGateway) CreatePaymentLink(ctx context.Context, description string, amountMinorUnits int64) (string, error) {
	return fmt.Sprintf("https://pay.example.com/link/%d", amountMinorUnits), nil
}

// LastInvoice returns the most recently created invoice, or nil.
func (g *MockGateway) LastInvoice() *CreatedInvoice {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.CreatedInvoices) == 0 {
		return nil
	}
	return &g.CreatedInvoices[len(g.CreatedInvoices)-1]
}
