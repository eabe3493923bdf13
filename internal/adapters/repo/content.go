package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
)

// LatestDigestFor реализует domain.ContentStore. Возвращает nil, если
// за последние withinHours выпуска не было.
func (p *Postgres) LatestDigestFor(ctx context.Context, neighborhoodID string, withinHours int) (*domain.DigestSource, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		src     domain.DigestSource
		stories []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT n.id, n.name, COALESCE(n.city, ''), COALESCE(n.country, ''), COALESCE(n.timezone, ''),
       COALESCE(n.latitude, 0), COALESCE(n.longitude, 0), c.stories, c.published_at
FROM daily_content c
JOIN neighborhoods n ON n.id = c.neighborhood_id
WHERE c.neighborhood_id = $1 AND c.published_at >= now() - make_interval(hours => $2::int)
ORDER BY c.published_at DESC
LIMIT 1
`, neighborhoodID, withinHours).Scan(&src.NeighborhoodID, &src.NeighborhoodName, &src.City, &src.Country, &src.Timezone,
		&src.Latitude, &src.Longitude, &stories, &src.PublishedAt)
	if isNoRows(err) {
		metrics.ObserveNetworkRequest("postgres", "content_latest", "daily_content", start, nil)
		return nil, nil
	}
	metrics.ObserveNetworkRequest("postgres", "content_latest", "daily_content", start, err)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeStories(stories)
	if err != nil {
		return nil, fmt.Errorf("истории района %s: %w", neighborhoodID, err)
	}
	src.Stories = decoded
	return &src, nil
}

func decodeStories(raw []byte) ([]domain.Story, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var stories []domain.Story
	if err := json.Unmarshal(raw, &stories); err != nil {
		return nil, err
	}
	return stories, nil
}
