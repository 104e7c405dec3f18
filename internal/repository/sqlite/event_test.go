package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/event"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

type EventRepositorySuite struct {
	suite.Suite
	ctx    context.Context
	client *Client
	repo   event.Repository
}

func TestEventRepository(t *testing.T) {
	suite.Run(t, new(EventRepositorySuite))
}

func (s *EventRepositorySuite) SetupTest() {
	s.ctx = context.Background()

	cfg := config.GetDefaultConfig()
	log, err := logger.NewLogger(cfg)
	s.Require().NoError(err)

	s.client, err = NewClient(cfg, log)
	s.Require().NoError(err)
	s.repo = NewEventRepository(s.client, log)
}

func (s *EventRepositorySuite) TearDownTest() {
	s.NoError(s.client.Close())
}

func (s *EventRepositorySuite) insertEvent(customerID, service string, quantity, unitPrice string) *event.UsageEvent {
	ev := event.New(customerID, service,
		decimal.RequireFromString(quantity), "unit",
		decimal.RequireFromString(unitPrice), nil)
	s.Require().NoError(s.repo.Insert(s.ctx, ev))
	return ev
}

func (s *EventRepositorySuite) TestInsertAssignsMonotonicIDs() {
	first := s.insertEvent("cust-1", "api_calls", "10", "0.01")
	second := s.insertEvent("cust-1", "api_calls", "20", "0.01")

	s.Equal(int64(1), first.ID)
	s.Equal(int64(2), second.ID)
	s.Equal(types.BillingStateUnbilled, first.BillingState)
	s.False(first.CreatedAt.IsZero())
}

func (s *EventRepositorySuite) TestInsertRoundTripsMetadataAndDecimals() {
	ev := event.New("cust-1", "storage",
		decimal.RequireFromString("2.5"), "GB",
		decimal.RequireFromString("5.00"),
		types.Metadata{"region": "eu-west-1"})
	s.Require().NoError(s.repo.Insert(s.ctx, ev))

	loaded, err := s.repo.Get(s.ctx, ev.ID)
	s.NoError(err)
	s.True(loaded.Quantity.Equal(decimal.RequireFromString("2.5")))
	s.True(loaded.UnitPrice.Equal(decimal.RequireFromString("5.00")))
	s.Equal("eu-west-1", loaded.Metadata["region"])
	s.True(loaded.LineTotal().Equal(decimal.RequireFromString("12.5")))
}

func (s *EventRepositorySuite) TestInsertRejectsInvalidEvents() {
	ev := event.New("cust-1", "api_calls",
		decimal.RequireFromString("-1"), "call",
		decimal.RequireFromString("0.01"), nil)
	err := s.repo.Insert(s.ctx, ev)
	s.True(ierr.IsValidation(err))
}

func (s *EventRepositorySuite) TestGetNotFound() {
	_, err := s.repo.Get(s.ctx, 999)
	s.True(ierr.IsNotFound(err))
}

func (s *EventRepositorySuite) TestListUnbilledIncludesReserved() {
	a := s.insertEvent("cust-1", "api_calls", "1", "0.01")
	b := s.insertEvent("cust-1", "api_calls", "2", "0.01")
	s.insertEvent("cust-2", "api_calls", "3", "0.01")

	token := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	s.Require().NoError(s.repo.Reserve(s.ctx, []int64{a.ID}, token, time.Now()))

	events, err := s.repo.ListUnbilled(s.ctx, "cust-1", nil)
	s.NoError(err)
	s.Len(events, 2)
	s.Equal(a.ID, events[0].ID)
	s.Equal(b.ID, events[1].ID)
	s.Equal(types.BillingStateReserved, events[0].BillingState)

	// billed rows drop out
	s.Require().NoError(s.repo.Commit(s.ctx, token, "inv_1"))
	events, err = s.repo.ListUnbilled(s.ctx, "cust-1", nil)
	s.NoError(err)
	s.Len(events, 1)
	s.Equal(b.ID, events[0].ID)
}

func (s *EventRepositorySuite) TestReserveIsAllOrNothing() {
	a := s.insertEvent("cust-1", "api_calls", "1", "0.01")
	b := s.insertEvent("cust-1", "api_calls", "2", "0.01")

	first := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	s.Require().NoError(s.repo.Reserve(s.ctx, []int64{a.ID}, first, time.Now()))

	// the second claim overlaps on event a, so nothing may change
	second := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	err := s.repo.Reserve(s.ctx, []int64{a.ID, b.ID}, second, time.Now())
	s.True(ierr.IsConflict(err))

	loaded, err := s.repo.Get(s.ctx, b.ID)
	s.NoError(err)
	s.Equal(types.BillingStateUnbilled, loaded.BillingState)
	s.Nil(loaded.ReservationID)

	held, err := s.repo.Get(s.ctx, a.ID)
	s.NoError(err)
	s.Equal(types.BillingStateReserved, held.BillingState)
	s.Equal(first, *held.ReservationID)
}

func (s *EventRepositorySuite) TestReserveRequiresIDs() {
	err := s.repo.Reserve(s.ctx, nil, "resv_x", time.Now())
	s.True(ierr.IsValidation(err))
}

func (s *EventRepositorySuite) TestCommitIsIdempotentPerToken() {
	ev := s.insertEvent("cust-1", "api_calls", "1", "0.01")

	token := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	s.Require().NoError(s.repo.Reserve(s.ctx, []int64{ev.ID}, token, time.Now()))
	s.Require().NoError(s.repo.Commit(s.ctx, token, "inv_1"))

	// second commit with the same token is a no-op, not an error
	s.NoError(s.repo.Commit(s.ctx, token, "inv_1"))

	loaded, err := s.repo.Get(s.ctx, ev.ID)
	s.NoError(err)
	s.Equal(types.BillingStateBilled, loaded.BillingState)
	s.Equal("inv_1", *loaded.InvoiceRef)
}

func (s *EventRepositorySuite) TestCommitUnknownToken() {
	err := s.repo.Commit(s.ctx, "resv_never_taken", "inv_1")
	s.True(ierr.IsNotFound(err))
}

func (s *EventRepositorySuite) TestReleaseReturnsEventsToPool() {
	ev := s.insertEvent("cust-1", "api_calls", "1", "0.01")

	token := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	s.Require().NoError(s.repo.Reserve(s.ctx, []int64{ev.ID}, token, time.Now()))
	s.Require().NoError(s.repo.Release(s.ctx, token))

	loaded, err := s.repo.Get(s.ctx, ev.ID)
	s.NoError(err)
	s.Equal(types.BillingStateUnbilled, loaded.BillingState)
	s.Nil(loaded.ReservationID)
	s.Nil(loaded.ReservedAt)

	// the freed event is reservable again
	next := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	s.NoError(s.repo.Reserve(s.ctx, []int64{ev.ID}, next, time.Now()))
}

func (s *EventRepositorySuite) TestReleaseDoesNotTouchBilledRows() {
	ev := s.insertEvent("cust-1", "api_calls", "1", "0.01")

	token := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	s.Require().NoError(s.repo.Reserve(s.ctx, []int64{ev.ID}, token, time.Now()))
	s.Require().NoError(s.repo.Commit(s.ctx, token, "inv_1"))
	s.Require().NoError(s.repo.Release(s.ctx, token))

	loaded, err := s.repo.Get(s.ctx, ev.ID)
	s.NoError(err)
	s.Equal(types.BillingStateBilled, loaded.BillingState)
}

func (s *EventRepositorySuite) TestReleaseStale() {
	stale := s.insertEvent("cust-1", "api_calls", "1", "0.01")
	fresh := s.insertEvent("cust-1", "api_calls", "2", "0.01")

	staleToken := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	s.Require().NoError(s.repo.Reserve(s.ctx, []int64{stale.ID}, staleToken, time.Now().Add(-time.Hour)))
	freshToken := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION)
	s.Require().NoError(s.repo.Reserve(s.ctx, []int64{fresh.ID}, freshToken, time.Now()))

	released, err := s.repo.ReleaseStale(s.ctx, time.Now().Add(-30*time.Minute))
	s.NoError(err)
	s.Equal(int64(1), released)

	recovered, err := s.repo.Get(s.ctx, stale.ID)
	s.NoError(err)
	s.Equal(types.BillingStateUnbilled, recovered.BillingState)

	held, err := s.repo.Get(s.ctx, fresh.ID)
	s.NoError(err)
	s.Equal(types.BillingStateReserved, held.BillingState)
}
