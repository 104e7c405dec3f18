package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/event"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryEventStore implements event.Repository with the same
// reservation state machine as the sqlite store.
type InMemoryEventStore struct {
	mu     sync.Mutex
	nextID int64
	events map[int64]*event.UsageEvent
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		nextID: 1,
		events: make(map[int64]*event.UsageEvent),
	}
}

func copyEvent(ev *event.UsageEvent) *event.UsageEvent {
	if ev == nil {
		return nil
	}
	out := *ev
	out.Metadata = ev.Metadata.Copy()
	if ev.ReservationID != nil {
		token := *ev.ReservationID
		out.ReservationID = &token
	}
	if ev.ReservedAt != nil {
		t := *ev.ReservedAt
		out.ReservedAt = &t
	}
	if ev.InvoiceRef != nil {
		ref := *ev.InvoiceRef
		out.InvoiceRef = &ref
	}
	return &out
}

func (s *InMemoryEventStore) Insert(ctx context.Context, ev *event.UsageEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = s.nextID
	s.nextID++
	ev.CreatedAt = time.Now().UTC()
	ev.BillingState = types.BillingStateUnbilled
	s.events[ev.ID] = copyEvent(ev)
	return nil
}

func (s *InMemoryEventStore) Get(ctx context.Context, id int64) (*event.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, ierr.NewError("usage event not found").
			WithHintf("No usage event with id %d", id).
			Mark(ierr.ErrNotFound)
	}
	return copyEvent(ev), nil
}

func (s *InMemoryEventStore) ListUnbilled(ctx context.Context, customerID string, since *time.Time) ([]*event.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*event.UsageEvent
	for _, ev := range s.events {
		if ev.CustomerID != customerID || ev.BillingState == types.BillingStateBilled {
			continue
		}
		if since != nil && ev.CreatedAt.Before(*since) {
			continue
		}
		out = append(out, copyEvent(ev))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryEventStore) Reserve(ctx context.Context, ids []int64, token string, now time.Time) error {
	if len(ids) == 0 {
		return ierr.NewError("no event ids to reserve").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// all-or-nothing: verify before mutating
	for _, id := range ids {
		ev, ok := s.events[id]
		if !ok || ev.BillingState != types.BillingStateUnbilled {
			return ierr.NewError("events already reserved or billed").
				WithHint("Another invoice generation claimed part of this event set").
				Mark(ierr.ErrConflict)
		}
	}
	reservedAt := now.UTC()
	for _, id := range ids {
		ev := s.events[id]
		ev.BillingState = types.BillingStateReserved
		tok := token
		ev.ReservationID = &tok
		t := reservedAt
		ev.ReservedAt = &t
	}
	return nil
}

func (s *InMemoryEventStore) Commit(ctx context.Context, token string, invoiceRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reserved, billed int
	for _, ev := range s.events {
		if ev.ReservationID == nil || *ev.ReservationID != token {
			continue
		}
		switch ev.BillingState {
		case types.BillingStateReserved:
			reserved++
		case types.BillingStateBilled:
			billed++
		}
	}
	if reserved == 0 {
		if billed > 0 {
			// already committed with this token, no-op
			return nil
		}
		return ierr.NewError("no reservation for token").
			Mark(ierr.ErrNotFound)
	}

	for _, ev := range s.events {
		if ev.ReservationID != nil && *ev.ReservationID == token && ev.BillingState == types.BillingStateReserved {
			ev.BillingState = types.BillingStateBilled
			ref := invoiceRef
			ev.InvoiceRef = &ref
			ev.ReservedAt = nil
		}
	}
	return nil
}

func (s *InMemoryEventStore) Release(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events {
		if ev.ReservationID != nil && *ev.ReservationID == token && ev.BillingState == types.BillingStateReserved {
			ev.BillingState = types.BillingStateUnbilled
			ev.ReservationID = nil
			ev.ReservedAt = nil
		}
	}
	return nil
}

func (s *InMemoryEventStore) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for _, ev := range s.events {
		if ev.BillingState == types.BillingStateReserved && ev.ReservedAt != nil && ev.ReservedAt.Before(cutoff) {
			ev.BillingState = types.BillingStateUnbilled
			ev.ReservationID = nil
			ev.ReservedAt = nil
			released++
		}
	}
	return released, nil
}

// Clear removes all events from the store
func (s *InMemoryEventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[int64]*event.UsageEvent)
	s.nextID = 1
}
