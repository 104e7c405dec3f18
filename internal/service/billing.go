package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/event"
	"github.com/meterline/meterline/internal/domain/invoice"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/gateway"
	"github.com/meterline/meterline/internal/idempotency"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

// minorUnitFactor converts major currency units to minor units (cents).
var minorUnitFactor = decimal.NewFromInt(100)

// BillingService turns accumulated usage into invoices and keeps local
// invoice records in step with the payment gateway.
type BillingService interface {
	// GenerateInvoice aggregates the customer's unbilled usage inside the
	// period, creates an invoice at the gateway, and marks the events
	// billed. Fails with ErrNoUsage when there is nothing to bill,
	// ErrConflict when a concurrent generation claimed part of the event
	// set, and ErrGateway when the gateway call failed (events stay
	// unbilled, the call is safe to retry).
	GenerateInvoice(ctx context.Context, req GenerateInvoiceRequest) (*invoice.Invoice, error)

	// ReconcilePaymentStatus refreshes the local invoice record from the
	// gateway's view. Terminal statuses are never left.
	ReconcilePaymentStatus(ctx context.Context, invoiceID string) (*invoice.Invoice, error)

	// SweepStaleReservations releases reservations older than the
	// configured staleness window, returning events abandoned by a
	// crashed orchestrator to the unbilled pool.
	SweepStaleReservations(ctx context.Context) (int64, error)

	// SetupRecurringBilling creates a fixed-amount subscription at the
	// gateway.
	SetupRecurringBilling(ctx context.Context, req RecurringBillingRequest) (*gateway.Subscription, error)
}

// GenerateInvoiceRequest identifies the customer and aggregation window.
type GenerateInvoiceRequest struct {
	CustomerID    string    `json:"customer_id"`
	CustomerEmail string    `json:"customer_email"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
}

func (r GenerateInvoiceRequest) Validate() error {
	if r.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Customer ID is required").
			Mark(ierr.ErrValidation)
	}
	if r.CustomerEmail == "" {
		return ierr.NewError("customer_email is required").
			WithHint("Customer email is required to bill through the gateway").
			Mark(ierr.ErrValidation)
	}
	if r.PeriodEnd.Before(r.PeriodStart) {
		return ierr.NewError("period_end before period_start").
			WithHint("Billing period end must not be before its start").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// RecurringBillingRequest sets up subscription billing for a customer.
type RecurringBillingRequest struct {
	CustomerEmail    string                `json:"customer_email"`
	AmountMinorUnits int64                 `json:"amount_minor_units"`
	Interval         types.PaymentInterval `json:"interval"`
}

func (r RecurringBillingRequest) Validate() error {
	if r.CustomerEmail == "" {
		return ierr.NewError("customer_email is required").
			WithHint("Customer email is required").
			Mark(ierr.ErrValidation)
	}
	if r.AmountMinorUnits <= 0 {
		return ierr.NewError("amount must be positive").
			WithHint("Subscription amount must be positive").
			Mark(ierr.ErrValidation)
	}
	if !r.Interval.Validate() {
		return ierr.NewError("invalid interval").
			WithHintf("Interval must be %s or %s", types.PaymentIntervalMonth, types.PaymentIntervalYear).
			Mark(ierr.ErrValidation)
	}
	return nil
}

type billingService struct {
	logger      *logger.Logger
	config      *config.Configuration
	eventRepo   event.Repository
	invoiceRepo invoice.Repository
	gw          gateway.Gateway
	idempGen    *idempotency.Generator
}

// NewBillingService creates the billing orchestrator.
func NewBillingService(params ServiceParams) BillingService {
	return &billingService{
		logger:      params.Logger,
		config:      params.Config,
		eventRepo:   params.EventRepo,
		invoiceRepo: params.InvoiceRepo,
		gw:          params.Gateway,
		idempGen:    idempotency.NewGenerator(),
	}
}

func (s *billingService) GenerateInvoice(ctx context.Context, req GenerateInvoiceRequest) (*invoice.Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// A retried generation for the same window must find the record a
	// crashed run left behind rather than bill the gateway twice.
	idempKey := s.idempGen.GenerateKey(idempotency.ScopeUsageInvoice, map[string]interface{}{
		"customer_id":  req.CustomerID,
		"period_start": req.PeriodStart.UTC().Unix(),
		"period_end":   req.PeriodEnd.UTC().Unix(),
	})
	if existing, err := s.invoiceRepo.GetByIdempotencyKey(ctx, idempKey); err == nil {
		s.logger.Warnw("returning existing invoice for billing period",
			"invoice_id", existing.ID,
			"idempotency_key", idempKey)
		return existing, nil
	} else if !ierr.IsNotFound(err) {
		return nil, err
	}

	// 1. read the unbilled window
	events, err := s.eventRepo.ListUnbilled(ctx, req.CustomerID, &req.PeriodStart)
	if err != nil {
		return nil, err
	}
	events = lo.Filter(events, func(ev *event.UsageEvent, _ int) bool {
		return !ev.CreatedAt.After(req.PeriodEnd)
	})

	// 2. nothing to bill is a normal outcome, not a failure
	if len(events) == 0 {
		return nil, ierr.NewError("no unbilled usage in period").
			WithHintf("Customer %s has no unbilled usage between %s and %s",
				req.CustomerID, req.PeriodStart.Format(time.RFC3339), req.PeriodEnd.Format(time.RFC3339)).
			Mark(ierr.ErrNoUsage)
	}

	// 3. aggregate into line items
	lineItems, totalMinorUnits := aggregateLineItems(events)

	// 4. claim the event set; a conflict means the period's usage changed
	// concurrently and the caller should retry with a fresh read
	token := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	ids := lo.Map(events, func(ev *event.UsageEvent, _ int) int64 { return ev.ID })
	if err := s.eventRepo.Reserve(ctx, ids, token, time.Now().UTC()); err != nil {
		return nil, err
	}

	committed := false
	defer func() {
		// every exit path between a taken reservation and a successful
		// commit must put the events back
		if !committed {
			if relErr := s.eventRepo.Release(context.WithoutCancel(ctx), token); relErr != nil {
				s.logger.Errorw("failed to release reservation, sweep will recover it",
					"reservation_id", token,
					"error", relErr)
			}
		}
	}()

	// 5. the gateway call runs outside any ledger lock; the reservation
	// flag alone guards the event set while we wait on the network
	customerRef, err := s.gw.CreateCustomer(ctx, req.CustomerEmail)
	if err != nil {
		return nil, err
	}
	gwInvoice, err := s.gw.CreateInvoice(ctx, customerRef, toGatewayLineItems(lineItems), s.config.Billing.DueDays)
	if err != nil {
		return nil, err
	}

	// 6. persist the local record, then commit the billed transition
	inv := &invoice.Invoice{
		CustomerID:       req.CustomerID,
		PeriodStart:      req.PeriodStart.UTC(),
		PeriodEnd:        req.PeriodEnd.UTC(),
		ExternalRef:      &gwInvoice.ExternalID,
		Currency:         s.config.Billing.Currency,
		AmountMinorUnits: totalMinorUnits,
		Status:           types.InvoiceStatusSent,
		IdempotencyKey:   &idempKey,
		LineItems:        lineItems,
	}
	if gwInvoice.HostedURL != "" {
		inv.HostedURL = &gwInvoice.HostedURL
	}
	if err := s.invoiceRepo.Create(ctx, inv); err != nil {
		return nil, err
	}

	if err := s.eventRepo.Commit(ctx, token, inv.ID); err != nil {
		// the invoice record exists but the events are still reserved;
		// surfaced for the operator, the sweep must not silently re-bill
		s.logger.Errorw("invoice created but billing commit failed",
			"invoice_id", inv.ID,
			"reservation_id", token,
			"error", err)
		return nil, err
	}
	committed = true

	s.logger.Infow("generated invoice",
		"invoice_id", inv.ID,
		"external_ref", gwInvoice.ExternalID,
		"customer_id", req.CustomerID,
		"amount_minor_units", totalMinorUnits,
		"events", len(events))
	return inv, nil
}

// aggregateLineItems folds the event sequence into one line item per
// service, in first-seen order. Each line's subtotal is the sum of the
// per-event quantity x unit price, so a price change mid-period bills
// correctly, rounded half-even to minor units. The residual between the
// rounded lines and the rounded exact total rides on a final adjustment
// line so the invoice reconciles to the event set exactly.
func aggregateLineItems(events []*event.UsageEvent) ([]*invoice.LineItem, int64) {
	var order []string
	lines := make(map[string]*invoice.LineItem)
	subtotals := make(map[string]decimal.Decimal)

	for _, ev := range events {
		line, ok := lines[ev.Service]
		if !ok {
			line = &invoice.LineItem{
				Service:  ev.Service,
				Unit:     ev.Unit,
				Quantity: decimal.Zero,
			}
			lines[ev.Service] = line
			subtotals[ev.Service] = decimal.Zero
			order = append(order, ev.Service)
		}
		line.Quantity = line.Quantity.Add(ev.Quantity)
		line.UnitPrice = ev.UnitPrice
		subtotals[ev.Service] = subtotals[ev.Service].Add(ev.LineTotal())
	}

	exactTotal := decimal.Zero
	var roundedSum int64
	items := make([]*invoice.LineItem, 0, len(order)+1)
	for _, service := range order {
		line := lines[service]
		exact := subtotals[service]
		line.AmountMinorUnits = exact.Mul(minorUnitFactor).RoundBank(0).IntPart()
		roundedSum += line.AmountMinorUnits
		exactTotal = exactTotal.Add(exact)
		items = append(items, line)
	}

	totalMinorUnits := exactTotal.Mul(minorUnitFactor).RoundBank(0).IntPart()
	if residual := totalMinorUnits - roundedSum; residual != 0 {
		items = append(items, &invoice.LineItem{
			Service:          invoice.AdjustmentService,
			Quantity:         decimal.Zero,
			UnitPrice:        decimal.Zero,
			AmountMinorUnits: residual,
		})
	}
	return items, totalMinorUnits
}

func toGatewayLineItems(items []*invoice.LineItem) []gateway.LineItem {
	return lo.Map(items, func(item *invoice.LineItem, _ int) gateway.LineItem {
		description := item.Service
		if item.Service != invoice.AdjustmentService {
			description = fmt.Sprintf("%s: %s %s @ %s/%s",
				item.Service, item.Quantity.String(), item.Unit,
				item.UnitPrice.String(), item.Unit)
		}
		return gateway.LineItem{
			Description:      description,
			AmountMinorUnits: item.AmountMinorUnits,
		}
	})
}

func (s *billingService) ReconcilePaymentStatus(ctx context.Context, invoiceID string) (*invoice.Invoice, error) {
	inv, err := s.invoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if inv.Status.IsTerminal() {
		return inv, nil
	}
	if inv.ExternalRef == nil {
		return nil, ierr.NewError("invoice has no gateway reference").
			WithHint("The invoice was never created at the gateway").
			Mark(ierr.ErrValidation)
	}

	// transient gateway failures are retried with exponential backoff;
	// permanent rejections abort immediately
	var status *gateway.InvoiceStatus
	operation := func() error {
		var opErr error
		status, opErr = s.gw.GetInvoiceStatus(ctx, *inv.ExternalRef)
		if opErr != nil && gateway.IsPermanent(opErr) {
			return backoff.Permanent(opErr)
		}
		return opErr
	}
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(30*time.Second)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		var gerr *gateway.Error
		if ierr.As(err, &gerr) && gerr.Code == "resource_missing" {
			// local record says the invoice was sent, the gateway says it
			// does not exist: operator-facing integrity failure, never
			// auto-corrected
			return nil, ierr.WithError(err).
				WithHintf("Invoice %s references gateway invoice %s which the gateway does not know",
					inv.ID, *inv.ExternalRef).
				Mark(ierr.ErrIntegrity)
		}
		return nil, err
	}

	if status.Status == inv.Status {
		return inv, nil
	}

	var paidAt *time.Time
	if status.Status == types.InvoiceStatusPaid {
		now := time.Now().UTC()
		paidAt = &now
	}
	if err := s.invoiceRepo.UpdateStatus(ctx, inv.ID, status.Status, paidAt); err != nil {
		return nil, err
	}

	s.logger.Infow("reconciled invoice payment status",
		"invoice_id", inv.ID,
		"external_ref", *inv.ExternalRef,
		"from", inv.Status,
		"to", status.Status,
		"amount_paid_minor_units", status.AmountPaidMinorUnits)
	return s.invoiceRepo.Get(ctx, inv.ID)
}

func (s *billingService) SweepStaleReservations(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.config.Billing.ReservationStaleness)
	released, err := s.eventRepo.ReleaseStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if released > 0 {
		s.logger.Infow("swept stale billing reservations",
			"events_released", released,
			"cutoff", cutoff)
	}
	return released, nil
}

func (s *billingService) SetupRecurringBilling(ctx context.Context, req RecurringBillingRequest) (*gateway.Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	customerRef, err := s.gw.CreateCustomer(ctx, req.CustomerEmail)
	if err != nil {
		return nil, err
	}
	sub, err := s.gw.CreateSubscription(ctx, customerRef, req.AmountMinorUnits, req.Interval)
	if err != nil {
		return nil, err
	}

	s.logger.Infow("set up recurring billing",
		"customer_email", req.CustomerEmail,
		"subscription_id", sub.SubscriptionID,
		"status", sub.Status)
	return sub, nil
}
