package service

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/event"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

// MeteringService is the recording side of the ledger: usage producers
// call RecordUsage concurrently, readers ask for the unbilled backlog.
type MeteringService interface {
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*event.UsageEvent, error)
	UnbilledEvents(ctx context.Context, customerID string, since *time.Time) ([]*event.UsageEvent, error)
	UnbilledTotal(ctx context.Context, customerID string, since *time.Time) (decimal.Decimal, error)
}

// RecordUsageRequest carries one billable usage event from a producer.
type RecordUsageRequest struct {
	CustomerID string         `json:"customer_id"`
	Service    string         `json:"service"`
	Quantity   float64        `json:"quantity"`
	Unit       string         `json:"unit"`
	UnitPrice  float64        `json:"unit_price"`
	Metadata   types.Metadata `json:"metadata,omitempty"`
}

// Validate rejects non-finite or negative numeric input before it gets
// anywhere near the ledger.
func (r RecordUsageRequest) Validate() error {
	if math.IsNaN(r.Quantity) || math.IsInf(r.Quantity, 0) {
		return ierr.NewError("quantity must be finite").
			WithHint("Quantity must be a finite number").
			Mark(ierr.ErrValidation)
	}
	if math.IsNaN(r.UnitPrice) || math.IsInf(r.UnitPrice, 0) {
		return ierr.NewError("unit_price must be finite").
			WithHint("Unit price must be a finite number").
			Mark(ierr.ErrValidation)
	}
	return nil
}

type meteringService struct {
	logger    *logger.Logger
	eventRepo event.Repository
}

// NewMeteringService creates the usage recording service.
func NewMeteringService(params ServiceParams) MeteringService {
	return &meteringService{
		logger:    params.Logger,
		eventRepo: params.EventRepo,
	}
}

func (s *meteringService) RecordUsage(ctx context.Context, req RecordUsageRequest) (*event.UsageEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ev := event.New(
		req.CustomerID,
		req.Service,
		decimal.NewFromFloat(req.Quantity),
		req.Unit,
		decimal.NewFromFloat(req.UnitPrice),
		req.Metadata,
	)
	if err := s.eventRepo.Insert(ctx, ev); err != nil {
		return nil, err
	}

	s.logger.Debugw("recorded usage event",
		"event_id", ev.ID,
		"customer_id", ev.CustomerID,
		"service", ev.Service,
		"quantity", ev.Quantity.String())
	return ev, nil
}

func (s *meteringService) UnbilledEvents(ctx context.Context, customerID string, since *time.Time) ([]*event.UsageEvent, error) {
	if customerID == "" {
		return nil, ierr.NewError("customer_id is required").
			WithHint("Customer ID is required").
			Mark(ierr.ErrValidation)
	}
	return s.eventRepo.ListUnbilled(ctx, customerID, since)
}

// UnbilledTotal sums quantity x unit price over the unbilled backlog.
func (s *meteringService) UnbilledTotal(ctx context.Context, customerID string, since *time.Time) (decimal.Decimal, error) {
	events, err := s.UnbilledEvents(ctx, customerID, since)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, ev := range events {
		total = total.Add(ev.LineTotal())
	}
	return total, nil
}
