package domain

import (
	"testing"
	"time"
)

func TestSeasonalWindowContains(t *testing.T) {
	winter := SeasonalWindow{StartMonth: time.November, StartDay: 1, EndMonth: time.April, EndDay: 30, PeakTier: Tier1}
	summer := SeasonalWindow{StartMonth: time.June, StartDay: 15, EndMonth: time.August, EndDay: 31, PeakTier: Tier1}

	tests := []struct {
		name   string
		window SeasonalWindow
		date   string
		want   bool
	}{
		{name: "wrap december", window: winter, date: "2025-12-25", want: true},
		{name: "wrap march", window: winter, date: "2026-03-01", want: true},
		{name: "wrap july", window: winter, date: "2026-07-01", want: false},
		{name: "wrap first day", window: winter, date: "2026-11-01", want: true},
		{name: "wrap last day", window: winter, date: "2026-04-30", want: true},
		{name: "wrap day after", window: winter, date: "2026-05-01", want: false},
		{name: "wrap day before", window: winter, date: "2026-10-31", want: false},
		{name: "wrap new year", window: winter, date: "2027-01-01", want: true},
		{name: "plain inside", window: summer, date: "2026-07-04", want: true},
		{name: "plain start", window: summer, date: "2026-06-15", want: true},
		{name: "plain before", window: summer, date: "2026-06-14", want: false},
		{name: "plain after", window: summer, date: "2026-09-01", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, err := time.Parse(DateLayout, tt.date)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got := tt.window.Contains(date); got != tt.want {
				t.Fatalf("Contains(%s) = %v, want %v", tt.date, got, tt.want)
			}
		})
	}
}

func TestSeasonalWindowWrapEveryYear(t *testing.T) {
	winter := SeasonalWindow{StartMonth: time.November, StartDay: 1, EndMonth: time.April, EndDay: 30}
	for year := 1990; year <= 2100; year++ {
		if !winter.Contains(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("%d: 25 декабря должно быть в сезоне", year)
		}
		if !winter.Contains(time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("%d: 1 марта должно быть в сезоне", year)
		}
		if winter.Contains(time.Date(year, time.July, 1, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("%d: 1 июля не должно быть в сезоне", year)
		}
	}
}

func TestBookingHolds(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		booking Booking
		want    bool
	}{
		{name: "active", booking: Booking{Status: BookingActive, CreatedAt: now.Add(-48 * time.Hour)}, want: true},
		{name: "fresh hold", booking: Booking{Status: BookingPendingPayment, CreatedAt: now.Add(-30 * time.Minute)}, want: true},
		{name: "stale hold", booking: Booking{Status: BookingPendingPayment, CreatedAt: now.Add(-90 * time.Minute)}, want: false},
		{name: "rejected", booking: Booking{Status: BookingRejected, CreatedAt: now}, want: false},
		{name: "expired", booking: Booking{Status: BookingExpired, CreatedAt: now}, want: false},
		{name: "cancelled", booking: Booking{Status: BookingCancelled, CreatedAt: now}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.booking.Holds(now); got != tt.want {
				t.Fatalf("Holds() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecipientHasPausedTopic(t *testing.T) {
	r := Recipient{PausedTopics: map[string]struct{}{"crime": {}}}
	if !r.HasPausedTopic(" Crime ") {
		t.Fatalf("ожидали совпадение без учёта регистра")
	}
	if r.HasPausedTopic("food") {
		t.Fatalf("не ожидали паузу для food")
	}
}

func TestPlacementFor(t *testing.T) {
	sunday := time.Date(2026, 5, 17, 0, 0, 0, 0, time.UTC)
	if PlacementFor(sunday) != PlacementSundayEdition {
		t.Fatalf("в воскресенье выходит sunday_edition")
	}
	if PlacementFor(sunday.AddDate(0, 0, 1)) != PlacementDailyBrief {
		t.Fatalf("в понедельник выходит daily_brief")
	}
}
