package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
	"neighborhood-digest/internal/usecase/schedule"
)

const maxMonths = 12

// GuardConfig задаёт окно бронирования.
type GuardConfig struct {
	LeadHours int
	MaxDays   int
	Location  *time.Location
}

// Guard не допускает двойных броней и чистит брошенные неоплаченные брони.
type Guard struct {
	bookings domain.BookingRepo
	cfg      GuardConfig
	log      zerolog.Logger
	now      func() time.Time
}

// NewGuard создаёт guard.
func NewGuard(bookings domain.BookingRepo, cfg GuardConfig, logger zerolog.Logger) *Guard {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Guard{bookings: bookings, cfg: cfg, log: logger, now: time.Now}
}

// ReapExpiredHolds удаляет брони pending_payment старше часа. Операция
// идемпотентна и безопасна при параллельном запуске.
func (g *Guard) ReapExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := g.bookings.DeleteStaleHolds(ctx, now.Add(-domain.StaleHoldAfter))
	if err != nil {
		return 0, fmt.Errorf("удаление брошенных броней: %w", err)
	}
	if deleted > 0 {
		metrics.HoldsReapedTotal.Add(float64(deleted))
		g.log.Info().Int64("deleted", deleted).Msg("pricing: удалены брошенные брони")
	}
	return deleted, nil
}

// Window возвращает окно бронирования относительно now.
func (g *Guard) Window(now time.Time) domain.BookingWindow {
	return domain.BookingWindow{
		Start: now.Add(time.Duration(g.cfg.LeadHours) * time.Hour).In(g.cfg.Location),
		End:   now.AddDate(0, 0, g.cfg.MaxDays).In(g.cfg.Location),
	}
}

// ComputeAvailability строит календарь занятости.
//
// Побочный эффект: перед расчётом явно вызывается ReapExpiredHolds, поэтому
// чтение календаря также удаляет брошенные брони. Если очистка не удалась,
// устаревшие брони всё равно не считаются занятыми (см. domain.Booking.Holds).
func (g *Guard) ComputeAvailability(ctx context.Context, neighborhoodID string, placement domain.PlacementType, rng domain.MonthRange) (domain.Availability, error) {
	if !placement.Valid() {
		return domain.Availability{}, domain.ErrInvalidPlacement
	}
	now := g.now()
	reaped, err := g.ReapExpiredHolds(ctx, now)
	if err != nil {
		g.log.Warn().Err(err).Msg("pricing: очистка брошенных броней не удалась, продолжаем")
	}

	from, to := g.monthBounds(rng)
	booked, err := g.bookedDates(ctx, neighborhoodID, placement, from, to, now)
	if err != nil {
		return domain.Availability{}, err
	}

	window := g.Window(now)
	var blocked []string
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if !g.bookable(day, placement, window) {
			blocked = append(blocked, day.Format(domain.DateLayout))
		}
	}

	return domain.Availability{
		NeighborhoodID: neighborhoodID,
		PlacementType:  placement,
		BookedDates:    booked,
		BlockedDates:   blocked,
		BookingWindow:  window,
		HoldsReaped:    reaped,
	}, nil
}

// CheckSlot проверяет, что слот свободен и дата внутри окна бронирования.
// Пустой neighborhoodID означает глобальную бронь.
func (g *Guard) CheckSlot(ctx context.Context, neighborhoodID string, placement domain.PlacementType, date time.Time) error {
	if !placement.Valid() {
		return domain.ErrInvalidPlacement
	}
	now := g.now()
	day := schedule.LocalDate(date, g.cfg.Location)
	if !g.bookable(day, placement, g.Window(now)) {
		return domain.ErrOutsideBookingWindow
	}
	if _, err := g.ReapExpiredHolds(ctx, now); err != nil {
		g.log.Warn().Err(err).Msg("pricing: очистка брошенных броней не удалась, продолжаем")
	}
	booked, err := g.bookedDates(ctx, neighborhoodID, placement, day, day, now)
	if err != nil {
		return err
	}
	if len(booked) > 0 {
		return domain.ErrSlotUnavailable
	}
	return nil
}

func (g *Guard) bookable(day time.Time, placement domain.PlacementType, window domain.BookingWindow) bool {
	if day.Before(window.Start) || day.After(window.End) {
		return false
	}
	if placement == domain.PlacementSundayEdition && day.Weekday() != time.Sunday {
		return false
	}
	return true
}

// bookedDates объединяет брони района и глобальные брони того же типа.
func (g *Guard) bookedDates(ctx context.Context, neighborhoodID string, placement domain.PlacementType, from, to, now time.Time) ([]string, error) {
	var bookings []domain.Booking
	if neighborhoodID != "" {
		nid := neighborhoodID
		local, err := g.bookings.BookingsFor(ctx, &nid, placement, from, to)
		if err != nil {
			return nil, fmt.Errorf("брони района: %w", err)
		}
		bookings = append(bookings, local...)
	}
	global, err := g.bookings.BookingsFor(ctx, nil, placement, from, to)
	if err != nil {
		return nil, fmt.Errorf("глобальные брони: %w", err)
	}
	for _, b := range global {
		if b.IsGlobalTakeover || b.NeighborhoodID == nil {
			bookings = append(bookings, b)
		}
	}

	set := make(map[string]struct{})
	for _, b := range bookings {
		if !b.Holds(now) {
			continue
		}
		// StartDate — календарная дата без пояса (DATE в хранилище).
		set[b.StartDate.Format(domain.DateLayout)] = struct{}{}
	}
	dates := make([]string, 0, len(set))
	for d := range set {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}

func (g *Guard) monthBounds(rng domain.MonthRange) (time.Time, time.Time) {
	months := rng.Months
	if months <= 0 {
		months = 1
	}
	if months > maxMonths {
		months = maxMonths
	}
	base := rng.From
	if base.IsZero() {
		base = g.now()
	}
	base = base.In(g.cfg.Location)
	from := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, g.cfg.Location)
	to := from.AddDate(0, months, -1)
	return from, to
}
