package pricing

import (
	"context"
	"sync"
	"time"

	"neighborhood-digest/internal/domain"
)

type memBookings struct {
	mu        sync.Mutex
	bookings  []domain.Booking
	globalErr error
	listErr   error
	deleteErr error
	deletes   int
}

func (m *memBookings) BookingsFor(_ context.Context, nid *string, placement domain.PlacementType, from, to time.Time) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	lo, hi := from.Format(domain.DateLayout), to.Format(domain.DateLayout)
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.PlacementType != placement {
			continue
		}
		if (nid == nil) != (b.NeighborhoodID == nil) {
			continue
		}
		if nid != nil && *nid != *b.NeighborhoodID {
			continue
		}
		d := b.StartDate.Format(domain.DateLayout)
		if d < lo || d > hi {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *memBookings) GlobalTakeoverOn(_ context.Context, date, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.globalErr != nil {
		return false, m.globalErr
	}
	day := date.Format(domain.DateLayout)
	for _, b := range m.bookings {
		if b.IsGlobalTakeover && b.StartDate.Format(domain.DateLayout) == day && b.Holds(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBookings) DeleteStaleHolds(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	kept := m.bookings[:0]
	var deleted int64
	for _, b := range m.bookings {
		if b.Status == domain.BookingPendingPayment && b.CreatedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, b)
	}
	m.bookings = kept
	return deleted, nil
}

type stubSeasons struct {
	windows []domain.SeasonalWindow
	err     error
	calls   int
}

func (s *stubSeasons) ListSeasonalWindows(context.Context) ([]domain.SeasonalWindow, error) {
	s.calls++
	return s.windows, s.err
}

func ptr(s string) *string { return &s }

func day(value string) time.Time {
	t, err := time.Parse(domain.DateLayout, value)
	if err != nil {
		panic(err)
	}
	return t
}
