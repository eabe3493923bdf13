package pricing

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
)

const seasonsCacheKey = "seasonal_windows"

// Prices — статические цены по уровням.
type Prices struct {
	Tier1  domain.TierPrice
	Tier2  domain.TierPrice
	Tier3  domain.TierPrice
	Global domain.TierPrice
}

// For возвращает цены уровня. Неизвестный уровень получает цены Tier3.
func (p Prices) For(tier domain.Tier) domain.TierPrice {
	switch tier {
	case domain.Tier1:
		return p.Tier1
	case domain.Tier2:
		return p.Tier2
	case domain.TierGlobal:
		return p.Global
	default:
		return p.Tier3
	}
}

// Config задаёт статические наборы районов и цены.
type Config struct {
	Tier1          []string
	Tier2          []string
	Prices         Prices
	Location       *time.Location
	SeasonCacheTTL time.Duration
}

// Resolver определяет ценовой уровень района на дату.
type Resolver struct {
	bookings domain.BookingRepo
	seasons  domain.SeasonRepo
	tier1    map[string]struct{}
	tier2    map[string]struct{}
	prices   Prices
	loc      *time.Location
	cache    *gocache.Cache
	log      zerolog.Logger
	now      func() time.Time
}

// NewResolver создаёт резолвер уровней.
func NewResolver(bookings domain.BookingRepo, seasons domain.SeasonRepo, cfg Config, logger zerolog.Logger) *Resolver {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	ttl := cfg.SeasonCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{
		bookings: bookings,
		seasons:  seasons,
		tier1:    toSet(cfg.Tier1),
		tier2:    toSet(cfg.Tier2),
		prices:   cfg.Prices,
		loc:      loc,
		cache:    gocache.New(ttl, 2*ttl),
		log:      logger,
		now:      time.Now,
	}
}

// ResolveTier всегда возвращает ровно один уровень. Порядок:
// глобальная бронь → сезонное окно → статический Tier1 → Tier2 → Tier3.
// Ошибки хранилища логируются, и проверка переходит к следующему шагу.
func (r *Resolver) ResolveTier(ctx context.Context, neighborhoodID string, date time.Time) domain.TierAssignment {
	tier := r.resolve(ctx, neighborhoodID, date.In(r.loc))
	metrics.TierResolutionsTotal.WithLabelValues(string(tier)).Inc()
	price := r.prices.For(tier)
	return domain.TierAssignment{
		Tier:               tier,
		DailyBriefCents:    price.DailyBriefCents,
		SundayEditionCents: price.SundayEditionCents,
		IsGlobal:           tier == domain.TierGlobal,
	}
}

func (r *Resolver) resolve(ctx context.Context, neighborhoodID string, date time.Time) domain.Tier {
	if r.bookings != nil {
		global, err := r.bookings.GlobalTakeoverOn(ctx, date, r.now())
		if err != nil {
			r.log.Warn().Err(err).Str("date", date.Format(domain.DateLayout)).Msg("pricing: не удалось проверить глобальную бронь")
		} else if global {
			return domain.TierGlobal
		}
	}

	if tier, ok := r.seasonalTier(ctx, neighborhoodID, date); ok {
		return tier
	}
	if _, ok := r.tier1[neighborhoodID]; ok {
		return domain.Tier1
	}
	if _, ok := r.tier2[neighborhoodID]; ok {
		return domain.Tier2
	}
	return domain.DefaultTier
}

// seasonalTier выбирает самый дорогой уровень среди активных окон района.
func (r *Resolver) seasonalTier(ctx context.Context, neighborhoodID string, date time.Time) (domain.Tier, bool) {
	windows := r.seasonalWindows(ctx)
	best, found := domain.Tier3, false
	for _, w := range windows {
		if w.NeighborhoodID != neighborhoodID || !w.Contains(date) {
			continue
		}
		if rank(w.PeakTier) == 0 {
			continue
		}
		if !found || rank(w.PeakTier) < rank(best) {
			best, found = w.PeakTier, true
		}
	}
	return best, found
}

func (r *Resolver) seasonalWindows(ctx context.Context) []domain.SeasonalWindow {
	if r.seasons == nil {
		return nil
	}
	if cached, ok := r.cache.Get(seasonsCacheKey); ok {
		return cached.([]domain.SeasonalWindow)
	}
	windows, err := r.seasons.ListSeasonalWindows(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("pricing: не удалось загрузить сезонные окна")
		return nil
	}
	r.cache.SetDefault(seasonsCacheKey, windows)
	return windows
}

// rank — порядок уровней по стоимости; 0 для уровней, недопустимых в сезонном окне.
func rank(tier domain.Tier) int {
	switch tier {
	case domain.Tier1:
		return 1
	case domain.Tier2:
		return 2
	case domain.Tier3:
		return 3
	default:
		return 0
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
