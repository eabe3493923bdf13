package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.SubscriberDirectory = (*Postgres)(nil)
	_ domain.ContentStore        = (*Postgres)(nil)
	_ domain.BookingRepo         = (*Postgres)(nil)
	_ domain.SeasonRepo          = (*Postgres)(nil)
	_ domain.AdStore             = (*Postgres)(nil)
	_ domain.AuditSink           = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// ListRegisteredSubscribers реализует domain.SubscriberDirectory.
func (p *Postgres) ListRegisteredSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	return p.listSubscribers(ctx, "subscribers_list_registered", "users", `
SELECT id::text, email, COALESCE(timezone, ''), COALESCE(neighborhood_ids, '{}'),
       COALESCE(paused_topics, '{}'), COALESCE(unsubscribe_token, '')
FROM users
WHERE digest_enabled AND email_verified
ORDER BY created_at, id
`)
}

// ListAnonymousSubscribers реализует domain.SubscriberDirectory.
func (p *Postgres) ListAnonymousSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	return p.listSubscribers(ctx, "subscribers_list_anonymous", "newsletter_subscribers", `
SELECT id::text, email, COALESCE(timezone, ''), COALESCE(neighborhood_ids, '{}'),
       COALESCE(paused_topics, '{}'), COALESCE(unsubscribe_token, '')
FROM newsletter_subscribers
WHERE status = 'active'
ORDER BY created_at, id
`)
}

func (p *Postgres) listSubscribers(ctx context.Context, op, table, query string) ([]domain.Subscriber, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query)
	metrics.ObserveNetworkRequest("postgres", op, table, start, err)
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", table, err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.ID, &s.Email, &s.Timezone, &s.SubscriptionIDs, &s.PausedTopics, &s.UnsubscribeToken); err != nil {
			return nil, err
		}
		s.Email = strings.TrimSpace(s.Email)
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// ListSeasonalWindows реализует domain.SeasonRepo.
func (p *Postgres) ListSeasonalWindows(ctx context.Context) ([]domain.SeasonalWindow, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT neighborhood_id, start_month, start_day, end_month, end_day, peak_tier
FROM seasonal_windows
ORDER BY neighborhood_id, start_month, start_day
`)
	metrics.ObserveNetworkRequest("postgres", "seasonal_windows_list", "seasonal_windows", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []domain.SeasonalWindow
	for rows.Next() {
		var (
			w                    domain.SeasonalWindow
			startMonth, endMonth int
			tier                 string
		)
		if err := rows.Scan(&w.NeighborhoodID, &startMonth, &w.StartDay, &endMonth, &w.EndDay, &tier); err != nil {
			return nil, err
		}
		w.StartMonth = time.Month(startMonth)
		w.EndMonth = time.Month(endMonth)
		w.PeakTier = domain.Tier(tier)
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
