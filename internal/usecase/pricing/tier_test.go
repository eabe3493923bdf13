package pricing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"neighborhood-digest/internal/domain"
)

var testPrices = Prices{
	Tier1:  domain.TierPrice{DailyBriefCents: 50000, SundayEditionCents: 75000},
	Tier2:  domain.TierPrice{DailyBriefCents: 30000, SundayEditionCents: 45000},
	Tier3:  domain.TierPrice{DailyBriefCents: 15000, SundayEditionCents: 25000},
	Global: domain.TierPrice{DailyBriefCents: 1000000, SundayEditionCents: 1500000},
}

func newTierResolver(bookings domain.BookingRepo, seasons domain.SeasonRepo) *Resolver {
	r := NewResolver(bookings, seasons, Config{
		Tier1:  []string{"soho", "tribeca"},
		Tier2:  []string{"harlem"},
		Prices: testPrices,
	}, zerolog.Nop())
	r.now = func() time.Time { return time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestResolveTierDefaultsToTier3(t *testing.T) {
	r := newTierResolver(&memBookings{}, &stubSeasons{})
	got := r.ResolveTier(context.Background(), "astoria", day("2026-07-01"))
	want := domain.TierAssignment{Tier: domain.Tier3, DailyBriefCents: 15000, SundayEditionCents: 25000}
	if got != want {
		t.Fatalf("ResolveTier = %+v, want %+v", got, want)
	}
}

func TestResolveTierPrecedence(t *testing.T) {
	bookings := &memBookings{bookings: []domain.Booking{
		{ID: "g1", PlacementType: domain.PlacementDailyBrief, StartDate: day("2026-12-25"), Status: domain.BookingActive, IsGlobalTakeover: true},
	}}
	seasons := &stubSeasons{windows: []domain.SeasonalWindow{
		{NeighborhoodID: "aspen", StartMonth: time.November, StartDay: 1, EndMonth: time.April, EndDay: 30, PeakTier: domain.Tier1},
		{NeighborhoodID: "harlem", StartMonth: time.June, StartDay: 1, EndMonth: time.June, EndDay: 30, PeakTier: domain.Tier1},
		{NeighborhoodID: "soho", StartMonth: time.August, StartDay: 1, EndMonth: time.August, EndDay: 31, PeakTier: domain.Tier2},
	}}
	r := newTierResolver(bookings, seasons)
	ctx := context.Background()

	tests := []struct {
		name string
		nid  string
		date string
		want domain.Tier
	}{
		{name: "global beats season", nid: "aspen", date: "2026-12-25", want: domain.TierGlobal},
		{name: "global beats static", nid: "soho", date: "2026-12-25", want: domain.TierGlobal},
		{name: "season wrap march", nid: "aspen", date: "2026-03-01", want: domain.Tier1},
		{name: "season wrap december", nid: "aspen", date: "2026-12-24", want: domain.Tier1},
		{name: "out of season", nid: "aspen", date: "2026-07-01", want: domain.Tier3},
		{name: "season beats tier2", nid: "harlem", date: "2026-06-15", want: domain.Tier1},
		{name: "static tier2", nid: "harlem", date: "2026-07-15", want: domain.Tier2},
		{name: "season overrides tier1 downwards", nid: "soho", date: "2026-08-10", want: domain.Tier2},
		{name: "static tier1", nid: "tribeca", date: "2026-08-10", want: domain.Tier1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ResolveTier(ctx, tt.nid, day(tt.date))
			if got.Tier != tt.want {
				t.Fatalf("ResolveTier(%s, %s) = %s, want %s", tt.nid, tt.date, got.Tier, tt.want)
			}
			if got.IsGlobal != (tt.want == domain.TierGlobal) {
				t.Fatalf("IsGlobal не согласован с уровнем")
			}
			price := testPrices.For(tt.want)
			if got.DailyBriefCents != price.DailyBriefCents || got.SundayEditionCents != price.SundayEditionCents {
				t.Fatalf("цены не соответствуют уровню: %+v", got)
			}
		})
	}
	if seasons.calls != 1 {
		t.Fatalf("сезонные окна должны кэшироваться, загрузок: %d", seasons.calls)
	}
}

func TestResolveTierStaleGlobalHoldIgnored(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	bookings := &memBookings{bookings: []domain.Booking{
		{ID: "g1", PlacementType: domain.PlacementDailyBrief, StartDate: day("2026-06-01"), Status: domain.BookingPendingPayment, IsGlobalTakeover: true, CreatedAt: now.Add(-2 * time.Hour)},
	}}
	r := newTierResolver(bookings, nil)
	if got := r.ResolveTier(context.Background(), "soho", day("2026-06-01")); got.Tier != domain.Tier1 {
		t.Fatalf("брошенная глобальная бронь не должна влиять на уровень, получили %s", got.Tier)
	}
}

func TestResolveTierIsTotalUnderFailures(t *testing.T) {
	bookings := &memBookings{globalErr: errors.New("db down")}
	seasons := &stubSeasons{err: errors.New("db down")}
	r := newTierResolver(bookings, seasons)

	valid := map[domain.Tier]bool{domain.Tier1: true, domain.Tier2: true, domain.Tier3: true, domain.TierGlobal: true}
	start := day("2026-01-01")
	for i := 0; i < 400; i++ {
		nid := fmt.Sprintf("n%d", i%7)
		if i%5 == 0 {
			nid = "soho"
		}
		got := r.ResolveTier(context.Background(), nid, start.AddDate(0, 0, i))
		if !valid[got.Tier] {
			t.Fatalf("неизвестный уровень %q", got.Tier)
		}
	}
	if got := r.ResolveTier(context.Background(), "soho", start); got.Tier != domain.Tier1 {
		t.Fatalf("при сбоях хранилища статические наборы должны работать, получили %s", got.Tier)
	}
	if got := r.ResolveTier(context.Background(), "", start); got.Tier != domain.Tier3 {
		t.Fatalf("пустой район получает Tier3, получили %s", got.Tier)
	}
}

func TestResolveTierUsesPlatformTimezone(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	seasons := &stubSeasons{windows: []domain.SeasonalWindow{
		{NeighborhoodID: "astoria", StartMonth: time.July, StartDay: 1, EndMonth: time.July, EndDay: 31, PeakTier: domain.Tier2},
	}}
	r := NewResolver(nil, seasons, Config{Prices: testPrices, Location: ny}, zerolog.Nop())
	// 1 августа 02:00 UTC — в Нью-Йорке ещё 31 июля.
	got := r.ResolveTier(context.Background(), "astoria", time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC))
	if got.Tier != domain.Tier2 {
		t.Fatalf("ожидали сезон по местной дате платформы, получили %s", got.Tier)
	}
}
