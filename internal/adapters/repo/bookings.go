package repo

import (
	"context"
	"time"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
)

// BookingsFor реализует domain.BookingRepo. Завершённые брони не возвращаются.
func (p *Postgres) BookingsFor(ctx context.Context, neighborhoodID *string, placement domain.PlacementType, from, to time.Time) ([]domain.Booking, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id::text, neighborhood_id, placement_type, start_date, status, is_global_takeover, created_at
FROM ad_bookings
WHERE placement_type = $1
  AND start_date BETWEEN $2::date AND $3::date
  AND status IN ('active', 'pending_payment')
  AND (($4::text IS NULL AND neighborhood_id IS NULL) OR neighborhood_id = $4::text)
ORDER BY start_date, created_at
`, string(placement), from.Format(domain.DateLayout), to.Format(domain.DateLayout), neighborhoodID)
	metrics.ObserveNetworkRequest("postgres", "bookings_list", "ad_bookings", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		var (
			b         domain.Booking
			placement string
			status    string
		)
		if err := rows.Scan(&b.ID, &b.NeighborhoodID, &placement, &b.StartDate, &status, &b.IsGlobalTakeover, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.PlacementType = domain.PlacementType(placement)
		b.Status = domain.BookingStatus(status)
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GlobalTakeoverOn реализует domain.BookingRepo.
func (p *Postgres) GlobalTakeoverOn(ctx context.Context, date time.Time, now time.Time) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM ad_bookings
  WHERE is_global_takeover AND start_date = $1::date
    AND (status = 'active' OR (status = 'pending_payment' AND created_at >= $2))
)
`, date.Format(domain.DateLayout), now.Add(-domain.StaleHoldAfter)).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "bookings_global_takeover", "ad_bookings", start, err)
	return exists, err
}

// DeleteStaleHolds реализует domain.BookingRepo. Обычный DELETE по статусу и
// возрасту: повторный или параллельный вызов безопасен.
func (p *Postgres) DeleteStaleHolds(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM ad_bookings WHERE status = 'pending_payment' AND created_at < $1
`, olderThan)
	metrics.ObserveNetworkRequest("postgres", "bookings_delete_stale", "ad_bookings", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ActiveCreatives реализует domain.AdStore. По воскресеньям выбираются
// креативы sunday_edition, в остальные дни daily_brief.
func (p *Postgres) ActiveCreatives(ctx context.Context, scope domain.AdScope, date time.Time) ([]domain.Ad, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT b.id::text, c.slot, c.sponsor, c.headline, COALESCE(c.body, ''), COALESCE(c.image_url, ''), c.click_url
FROM ad_creatives c
JOIN ad_bookings b ON b.id = c.booking_id
WHERE b.status = 'active' AND c.approved
  AND b.start_date = $1::date
  AND b.placement_type = $2
  AND CASE WHEN $3::bool THEN b.is_global_takeover ELSE b.neighborhood_id = $4 END
ORDER BY b.created_at, c.id
`, date.Format(domain.DateLayout), string(domain.PlacementFor(date)), scope.Global, scope.NeighborhoodID)
	metrics.ObserveNetworkRequest("postgres", "creatives_active", "ad_creatives", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ads []domain.Ad
	for rows.Next() {
		var (
			ad   domain.Ad
			slot string
		)
		if err := rows.Scan(&ad.BookingID, &slot, &ad.Sponsor, &ad.Headline, &ad.Body, &ad.ImageURL, &ad.ClickURL); err != nil {
			return nil, err
		}
		ad.Slot = domain.AdSlot(slot)
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}
