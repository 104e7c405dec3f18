package service

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/domain/event"
	"github.com/meterline/meterline/internal/domain/invoice"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type BillingServiceSuite struct {
	testutil.BaseServiceTestSuite
	billing  BillingService
	metering MeteringService
}

func TestBillingService(t *testing.T) {
	suite.Run(t, new(BillingServiceSuite))
}

func (s *BillingServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := ServiceParams{
		Logger:      s.GetLogger(),
		Config:      s.GetConfig(),
		EventRepo:   s.GetStores().EventRepo,
		InvoiceRepo: s.GetStores().InvoiceRepo,
		Gateway:     s.GetGateway(),
	}
	s.billing = NewBillingService(params)
	s.metering = NewMeteringService(params)
}

func (s *BillingServiceSuite) recordUsage(customerID, service string, quantity float64, unit string, unitPrice float64) *event.UsageEvent {
	ev, err := s.metering.RecordUsage(s.GetContext(), RecordUsageRequest{
		CustomerID: customerID,
		Service:    service,
		Quantity:   quantity,
		Unit:       unit,
		UnitPrice:  unitPrice,
	})
	s.NoError(err)
	return ev
}

func (s *BillingServiceSuite) generateRequest(customerID string) GenerateInvoiceRequest {
	return GenerateInvoiceRequest{
		CustomerID:    customerID,
		CustomerEmail: customerID + "@example.com",
		PeriodStart:   time.Now().UTC().Add(-time.Hour),
		PeriodEnd:     time.Now().UTC().Add(time.Hour),
	}
}

func (s *BillingServiceSuite) TestGenerateInvoice() {
	// 1000 api calls at $0.01 plus 2.5 GB at $5.00 comes to $22.50
	s.recordUsage("cust-1", "api_calls", 1000, "call", 0.01)
	s.recordUsage("cust-1", "storage", 2.5, "GB", 5.00)

	inv, err := s.billing.GenerateInvoice(s.GetContext(), s.generateRequest("cust-1"))
	s.NoError(err)
	s.Equal(int64(2250), inv.AmountMinorUnits)
	s.Equal(types.InvoiceStatusSent, inv.Status)
	s.Equal("usd", inv.Currency)
	s.NotNil(inv.ExternalRef)
	s.Len(inv.LineItems, 2)
	s.Equal("api_calls", inv.LineItems[0].Service)
	s.Equal(int64(1000), inv.LineItems[0].AmountMinorUnits)
	s.Equal("storage", inv.LineItems[1].Service)
	s.Equal(int64(1250), inv.LineItems[1].AmountMinorUnits)

	// line items must sum to the invoice total
	var sum int64
	for _, item := range inv.LineItems {
		sum += item.AmountMinorUnits
	}
	s.Equal(inv.AmountMinorUnits, sum)

	// every event moved to billed and references the invoice
	for _, id := range []int64{1, 2} {
		ev, err := s.GetStores().EventRepo.Get(s.GetContext(), id)
		s.NoError(err)
		s.Equal(types.BillingStateBilled, ev.BillingState)
		s.NotNil(ev.InvoiceRef)
		s.Equal(inv.ID, *ev.InvoiceRef)
	}

	// the gateway saw one invoice with the same total
	created := s.GetGateway().LastInvoice()
	s.NotNil(created)
	var gwTotal int64
	for _, item := range created.LineItems {
		gwTotal += item.AmountMinorUnits
	}
	s.Equal(int64(2250), gwTotal)
}

func (s *BillingServiceSuite) TestGenerateInvoiceNoUsage() {
	inv, err := s.billing.GenerateInvoice(s.GetContext(), s.generateRequest("cust-empty"))
	s.Nil(inv)
	s.Error(err)
	s.True(ierr.IsNoUsage(err))
	s.Equal(0, ierr.ExitCodeFromErr(err))
}

func (s *BillingServiceSuite) TestGenerateInvoiceValidation() {
	_, err := s.billing.GenerateInvoice(s.GetContext(), GenerateInvoiceRequest{})
	s.True(ierr.IsValidation(err))

	req := s.generateRequest("cust-1")
	req.PeriodEnd = req.PeriodStart.Add(-time.Minute)
	_, err = s.billing.GenerateInvoice(s.GetContext(), req)
	s.True(ierr.IsValidation(err))
}

func (s *BillingServiceSuite) TestGenerateInvoiceIdempotentPerPeriod() {
	s.recordUsage("cust-1", "api_calls", 100, "call", 0.01)

	req := s.generateRequest("cust-1")
	first, err := s.billing.GenerateInvoice(s.GetContext(), req)
	s.NoError(err)

	// same period again: the existing record comes back, the gateway is
	// not billed a second time
	second, err := s.billing.GenerateInvoice(s.GetContext(), req)
	s.NoError(err)
	s.Equal(first.ID, second.ID)
	s.Len(s.GetGateway().CreatedInvoices, 1)
}

func (s *BillingServiceSuite) TestGenerateInvoiceGatewayFailureReleasesEvents() {
	s.recordUsage("cust-1", "api_calls", 100, "call", 0.01)
	s.GetGateway().FailInvoices = 1

	req := s.generateRequest("cust-1")
	_, err := s.billing.GenerateInvoice(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsGateway(err))

	// the reservation was rolled back, so a retry bills the same events
	ev, err := s.GetStores().EventRepo.Get(s.GetContext(), 1)
	s.NoError(err)
	s.Equal(types.BillingStateUnbilled, ev.BillingState)
	s.Nil(ev.ReservationID)

	inv, err := s.billing.GenerateInvoice(s.GetContext(), req)
	s.NoError(err)
	s.Equal(int64(100), inv.AmountMinorUnits)
}

func (s *BillingServiceSuite) TestGenerateInvoiceConcurrent() {
	s.recordUsage("cust-1", "api_calls", 1000, "call", 0.01)
	s.recordUsage("cust-1", "storage", 2.5, "GB", 5.00)

	req := s.generateRequest("cust-1")

	var wg sync.WaitGroup
	results := make([]*invoice.Invoice, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.billing.GenerateInvoice(s.GetContext(), req)
		}(i)
	}
	wg.Wait()

	// every success refers to the same invoice; losers either lost the
	// reservation race or read the window after the winner committed; the
	// gateway was billed exactly once
	var invoiceID string
	for i := range results {
		if errs[i] != nil {
			s.True(ierr.IsConflict(errs[i]) || ierr.IsNoUsage(errs[i]),
				"unexpected error: %v", errs[i])
			continue
		}
		if invoiceID == "" {
			invoiceID = results[i].ID
		}
		s.Equal(invoiceID, results[i].ID)
	}
	s.NotEmpty(invoiceID)
	s.Len(s.GetGateway().CreatedInvoices, 1)

	for _, id := range []int64{1, 2} {
		ev, err := s.GetStores().EventRepo.Get(s.GetContext(), id)
		s.NoError(err)
		s.Equal(types.BillingStateBilled, ev.BillingState)
		s.Equal(invoiceID, *ev.InvoiceRef)
	}
}

func (s *BillingServiceSuite) TestGenerateInvoiceScopesToPeriod() {
	old := s.recordUsage("cust-1", "api_calls", 50, "call", 0.01)

	req := s.generateRequest("cust-1")
	req.PeriodStart = time.Now().UTC().Add(time.Minute)
	req.PeriodEnd = req.PeriodStart.Add(time.Hour)

	_, err := s.billing.GenerateInvoice(s.GetContext(), req)
	s.True(ierr.IsNoUsage(err))

	ev, err := s.GetStores().EventRepo.Get(s.GetContext(), old.ID)
	s.NoError(err)
	s.Equal(types.BillingStateUnbilled, ev.BillingState)
}

func (s *BillingServiceSuite) TestReconcilePaymentStatusPaid() {
	s.recordUsage("cust-1", "api_calls", 100, "call", 0.01)
	inv, err := s.billing.GenerateInvoice(s.GetContext(), s.generateRequest("cust-1"))
	s.NoError(err)

	s.GetGateway().Statuses[*inv.ExternalRef] = types.InvoiceStatusPaid

	reconciled, err := s.billing.ReconcilePaymentStatus(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, reconciled.Status)
	s.NotNil(reconciled.PaidAt)

	// terminal statuses short-circuit: the gateway is not consulted again
	s.GetGateway().FailStatuses = 10
	again, err := s.billing.ReconcilePaymentStatus(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, again.Status)
}

func (s *BillingServiceSuite) TestReconcileRetriesTransientFailures() {
	s.recordUsage("cust-1", "api_calls", 100, "call", 0.01)
	inv, err := s.billing.GenerateInvoice(s.GetContext(), s.generateRequest("cust-1"))
	s.NoError(err)

	s.GetGateway().Statuses[*inv.ExternalRef] = types.InvoiceStatusPaid
	s.GetGateway().FailStatuses = 2

	reconciled, err := s.billing.ReconcilePaymentStatus(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, reconciled.Status)
	s.Equal(0, s.GetGateway().FailStatuses)
}

func (s *BillingServiceSuite) TestReconcileUnknownExternalInvoice() {
	s.recordUsage("cust-1", "api_calls", 100, "call", 0.01)
	inv, err := s.billing.GenerateInvoice(s.GetContext(), s.generateRequest("cust-1"))
	s.NoError(err)

	s.GetGateway().MissingInvoices[*inv.ExternalRef] = true

	_, err = s.billing.ReconcilePaymentStatus(s.GetContext(), inv.ID)
	s.Error(err)
	s.True(ierr.IsIntegrity(err))

	// the local record is left untouched for the operator
	unchanged, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusSent, unchanged.Status)
}

func (s *BillingServiceSuite) TestReconcileUnknownInvoiceID() {
	_, err := s.billing.ReconcilePaymentStatus(s.GetContext(), "inv_missing")
	s.True(ierr.IsNotFound(err))
}

func (s *BillingServiceSuite) TestSweepStaleReservations() {
	ev1 := s.recordUsage("cust-1", "api_calls", 10, "call", 0.01)
	ev2 := s.recordUsage("cust-1", "api_calls", 20, "call", 0.01)
	fresh := s.recordUsage("cust-1", "api_calls", 30, "call", 0.01)

	// a reservation abandoned an hour ago and one taken just now
	staleToken := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	err := s.GetStores().EventRepo.Reserve(s.GetContext(), []int64{ev1.ID, ev2.ID}, staleToken, time.Now().UTC().Add(-time.Hour))
	s.NoError(err)
	freshToken := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	err = s.GetStores().EventRepo.Reserve(s.GetContext(), []int64{fresh.ID}, freshToken, time.Now().UTC())
	s.NoError(err)

	released, err := s.billing.SweepStaleReservations(s.GetContext())
	s.NoError(err)
	s.Equal(int64(2), released)

	for _, id := range []int64{ev1.ID, ev2.ID} {
		ev, err := s.GetStores().EventRepo.Get(s.GetContext(), id)
		s.NoError(err)
		s.Equal(types.BillingStateUnbilled, ev.BillingState)
		s.Nil(ev.ReservationID)
	}
	held, err := s.GetStores().EventRepo.Get(s.GetContext(), fresh.ID)
	s.NoError(err)
	s.Equal(types.BillingStateReserved, held.BillingState)

	// recovered events are billable again once the live reservation clears
	s.NoError(s.GetStores().EventRepo.Release(s.GetContext(), freshToken))
	inv, err := s.billing.GenerateInvoice(s.GetContext(), s.generateRequest("cust-1"))
	s.NoError(err)
	s.Equal(int64(60), inv.AmountMinorUnits)
}

func (s *BillingServiceSuite) TestSetupRecurringBilling() {
	sub, err := s.billing.SetupRecurringBilling(s.GetContext(), RecurringBillingRequest{
		CustomerEmail:    "cust-1@example.com",
		AmountMinorUnits: 4900,
		Interval:         types.PaymentIntervalMonth,
	})
	s.NoError(err)
	s.NotEmpty(sub.SubscriptionID)
	s.NotEmpty(sub.ClientSecret)

	_, err = s.billing.SetupRecurringBilling(s.GetContext(), RecurringBillingRequest{
		CustomerEmail:    "cust-1@example.com",
		AmountMinorUnits: -1,
		Interval:         types.PaymentIntervalMonth,
	})
	s.True(ierr.IsValidation(err))

	_, err = s.billing.SetupRecurringBilling(s.GetContext(), RecurringBillingRequest{
		CustomerEmail:    "cust-1@example.com",
		AmountMinorUnits: 4900,
		Interval:         types.PaymentInterval("weekly"),
	})
	s.True(ierr.IsValidation(err))
}

func TestAggregateLineItems(t *testing.T) {
	newEvent := func(service string, quantity, unitPrice string) *event.UsageEvent {
		return &event.UsageEvent{
			Service:   service,
			Unit:      "unit",
			Quantity:  decimal.RequireFromString(quantity),
			UnitPrice: decimal.RequireFromString(unitPrice),
		}
	}

	t.Run("per event subtotals survive a mid-period price change", func(t *testing.T) {
		items, total := aggregateLineItems([]*event.UsageEvent{
			newEvent("api_calls", "100", "0.01"),
			newEvent("api_calls", "100", "0.02"),
		})
		if len(items) != 1 {
			t.Fatalf("expected 1 line item, got %d", len(items))
		}
		// 100 x 0.01 + 100 x 0.02, not 200 x either price
		if items[0].AmountMinorUnits != 300 {
			t.Errorf("expected 300 minor units, got %d", items[0].AmountMinorUnits)
		}
		if !items[0].Quantity.Equal(decimal.RequireFromString("200")) {
			t.Errorf("expected quantity 200, got %s", items[0].Quantity)
		}
		if total != 300 {
			t.Errorf("expected total 300, got %d", total)
		}
	})

	t.Run("rounding residual rides on an adjustment line", func(t *testing.T) {
		// each line rounds 12.5 half-even down to 12, the exact total is 25
		items, total := aggregateLineItems([]*event.UsageEvent{
			newEvent("alpha", "1", "0.125"),
			newEvent("beta", "1", "0.125"),
		})
		if total != 25 {
			t.Fatalf("expected total 25, got %d", total)
		}
		if len(items) != 3 {
			t.Fatalf("expected 2 lines plus adjustment, got %d", len(items))
		}
		if items[2].Service != invoice.AdjustmentService {
			t.Fatalf("expected adjustment line, got %s", items[2].Service)
		}
		var sum int64
		for _, item := range items {
			sum += item.AmountMinorUnits
		}
		if sum != total {
			t.Errorf("line items sum to %d, total is %d", sum, total)
		}
	})

	t.Run("half even rounding", func(t *testing.T) {
		items, _ := aggregateLineItems([]*event.UsageEvent{
			newEvent("alpha", "1", "0.125"),
		})
		// 12.5 rounds to the even neighbour 12, not 13
		if items[0].AmountMinorUnits != 12 {
			t.Errorf("expected 12 minor units, got %d", items[0].AmountMinorUnits)
		}
	})

	t.Run("first seen order is preserved", func(t *testing.T) {
		items, _ := aggregateLineItems([]*event.UsageEvent{
			newEvent("zeta", "1", "1"),
			newEvent("alpha", "1", "1"),
			newEvent("zeta", "1", "1"),
		})
		if items[0].Service != "zeta" || items[1].Service != "alpha" {
			t.Errorf("expected first-seen order [zeta alpha], got [%s %s]", items[0].Service, items[1].Service)
		}
	})
}
