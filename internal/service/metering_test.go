package service

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type MeteringServiceSuite struct {
	testutil.BaseServiceTestSuite
	metering MeteringService
}

func TestMeteringService(t *testing.T) {
	suite.Run(t, new(MeteringServiceSuite))
}

func (s *MeteringServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.metering = NewMeteringService(ServiceParams{
		Logger:    s.GetLogger(),
		EventRepo: s.GetStores().EventRepo,
	})
}

func (s *MeteringServiceSuite) TestRecordUsage() {
	ev, err := s.metering.RecordUsage(s.GetContext(), RecordUsageRequest{
		CustomerID: "cust-1",
		Service:    "api_calls",
		Quantity:   1000,
		Unit:       "call",
		UnitPrice:  0.01,
		Metadata:   types.Metadata{"region": "eu-west-1"},
	})
	s.NoError(err)
	s.Equal(int64(1), ev.ID)
	s.Equal(types.BillingStateUnbilled, ev.BillingState)
	s.False(ev.CreatedAt.IsZero())
	s.Equal("eu-west-1", ev.Metadata["region"])
	s.True(ev.LineTotal().Equal(decimal.RequireFromString("10")))
}

func (s *MeteringServiceSuite) TestRecordUsageValidation() {
	cases := []RecordUsageRequest{
		{CustomerID: "", Service: "api_calls", Quantity: 1, Unit: "call", UnitPrice: 0.01},
		{CustomerID: "cust-1", Service: "", Quantity: 1, Unit: "call", UnitPrice: 0.01},
		{CustomerID: "cust-1", Service: "api_calls", Quantity: -1, Unit: "call", UnitPrice: 0.01},
		{CustomerID: "cust-1", Service: "api_calls", Quantity: 1, Unit: "call", UnitPrice: -0.01},
		{CustomerID: "cust-1", Service: "api_calls", Quantity: math.NaN(), Unit: "call", UnitPrice: 0.01},
		{CustomerID: "cust-1", Service: "api_calls", Quantity: 1, Unit: "call", UnitPrice: math.Inf(1)},
	}
	for _, req := range cases {
		_, err := s.metering.RecordUsage(s.GetContext(), req)
		s.Error(err, "request %+v should be rejected", req)
		s.True(ierr.IsValidation(err))
	}

	events, err := s.metering.UnbilledEvents(s.GetContext(), "cust-1", nil)
	s.NoError(err)
	s.Empty(events)
}

func (s *MeteringServiceSuite) TestUnbilledEventsOrdering() {
	for i := 0; i < 5; i++ {
		_, err := s.metering.RecordUsage(s.GetContext(), RecordUsageRequest{
			CustomerID: "cust-1",
			Service:    "api_calls",
			Quantity:   float64(i + 1),
			Unit:       "call",
			UnitPrice:  0.01,
		})
		s.NoError(err)
	}

	events, err := s.metering.UnbilledEvents(s.GetContext(), "cust-1", nil)
	s.NoError(err)
	s.Len(events, 5)
	for i, ev := range events {
		s.Equal(int64(i+1), ev.ID)
		if i > 0 {
			s.False(ev.CreatedAt.Before(events[i-1].CreatedAt))
		}
	}
}

func (s *MeteringServiceSuite) TestUnbilledEventsScopedToCustomer() {
	_, err := s.metering.RecordUsage(s.GetContext(), RecordUsageRequest{
		CustomerID: "cust-1", Service: "api_calls", Quantity: 1, Unit: "call", UnitPrice: 0.01,
	})
	s.NoError(err)
	_, err = s.metering.RecordUsage(s.GetContext(), RecordUsageRequest{
		CustomerID: "cust-2", Service: "api_calls", Quantity: 2, Unit: "call", UnitPrice: 0.01,
	})
	s.NoError(err)

	events, err := s.metering.UnbilledEvents(s.GetContext(), "cust-1", nil)
	s.NoError(err)
	s.Len(events, 1)
	s.Equal("cust-1", events[0].CustomerID)

	_, err = s.metering.UnbilledEvents(s.GetContext(), "", nil)
	s.True(ierr.IsValidation(err))
}

func (s *MeteringServiceSuite) TestUnbilledEventsSince() {
	_, err := s.metering.RecordUsage(s.GetContext(), RecordUsageRequest{
		CustomerID: "cust-1", Service: "api_calls", Quantity: 1, Unit: "call", UnitPrice: 0.01,
	})
	s.NoError(err)

	future := time.Now().UTC().Add(time.Minute)
	events, err := s.metering.UnbilledEvents(s.GetContext(), "cust-1", &future)
	s.NoError(err)
	s.Empty(events)
}

func (s *MeteringServiceSuite) TestUnbilledTotal() {
	_, err := s.metering.RecordUsage(s.GetContext(), RecordUsageRequest{
		CustomerID: "cust-1", Service: "api_calls", Quantity: 1000, Unit: "call", UnitPrice: 0.01,
	})
	s.NoError(err)
	_, err = s.metering.RecordUsage(s.GetContext(), RecordUsageRequest{
		CustomerID: "cust-1", Service: "storage", Quantity: 2.5, Unit: "GB", UnitPrice: 5.00,
	})
	s.NoError(err)

	total, err := s.metering.UnbilledTotal(s.GetContext(), "cust-1", nil)
	s.NoError(err)
	s.True(total.Equal(decimal.RequireFromString("22.5")), "got %s", total)
}

func (s *MeteringServiceSuite) TestConcurrentRecording() {
	var wg sync.WaitGroup
	const writers = 10
	const perWriter = 20
	errCh := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.metering.RecordUsage(s.GetContext(), RecordUsageRequest{
					CustomerID: "cust-1",
					Service:    "api_calls",
					Quantity:   1,
					Unit:       "call",
					UnitPrice:  0.01,
				})
				if err != nil {
					errCh <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		s.NoError(err)
	}

	events, err := s.metering.UnbilledEvents(s.GetContext(), "cust-1", nil)
	s.NoError(err)
	s.Len(events, writers*perWriter)

	// ids are unique and strictly increasing in list order
	seen := make(map[int64]bool, len(events))
	for i, ev := range events {
		s.False(seen[ev.ID], "duplicate id %d", ev.ID)
		seen[ev.ID] = true
		if i > 0 {
			s.Greater(ev.ID, events[i-1].ID)
		}
	}
}
