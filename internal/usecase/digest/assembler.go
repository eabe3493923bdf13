package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
	"neighborhood-digest/internal/usecase/schedule"
)

// TierResolver определяет ценовой уровень района на дату.
type TierResolver interface {
	ResolveTier(ctx context.Context, neighborhoodID string, date time.Time) domain.TierAssignment
}

// Config задаёт параметры сборки дайджеста.
type Config struct {
	LookbackHours int
	// Location — часовой пояс платформы, в нём считается «сегодня» для рекламы.
	Location *time.Location
}

// Assembler собирает персональный дайджест получателя из нескольких источников.
type Assembler struct {
	content  domain.ContentStore
	weather  domain.WeatherService
	tiers    TierResolver
	ads      domain.AdStore
	lookback int
	loc      *time.Location
	log      zerolog.Logger
}

// NewAssembler создаёт сборщик. weather, tiers и ads могут быть nil.
func NewAssembler(content domain.ContentStore, weather domain.WeatherService, tiers TierResolver, ads domain.AdStore, cfg Config, logger zerolog.Logger) *Assembler {
	lookback := cfg.LookbackHours
	if lookback <= 0 {
		lookback = 24
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Assembler{content: content, weather: weather, tiers: tiers, ads: ads, lookback: lookback, loc: loc, log: logger}
}

// AssembleDigest собирает дайджест получателя.
//
// Основной район не подменяется устаревшим контентом: если свежего выпуска нет,
// Primary остаётся nil, и решение об отправке принимает вызывающий код. Ошибка
// хранилища для основного района возвращается. Районы-спутники, погода и реклама
// деградируют молча. Темы на паузе вырезаются последним шагом.
func (a *Assembler) AssembleDigest(ctx context.Context, r domain.Recipient, now time.Time) (domain.DigestContent, error) {
	start := time.Now()
	defer func() { metrics.DigestBuildSeconds.Observe(time.Since(start).Seconds()) }()

	primaryID := r.PrimaryNeighborhoodID
	if primaryID == "" && len(r.SubscribedNeighborhoodIDs) > 0 {
		primaryID = r.SubscribedNeighborhoodIDs[0]
	}

	var content domain.DigestContent
	if primaryID != "" {
		src, err := a.content.LatestDigestFor(ctx, primaryID, a.lookback)
		if err != nil {
			return domain.DigestContent{}, fmt.Errorf("контент основного района %s: %w", primaryID, err)
		}
		if src != nil {
			section := toSection(src)
			section.Weather = a.fetchWeather(ctx, src)
			content.Primary = &section
		}
	}

	for _, id := range r.SubscribedNeighborhoodIDs {
		if id == primaryID {
			continue
		}
		src, err := a.content.LatestDigestFor(ctx, id, a.lookback)
		if err != nil {
			a.log.Warn().Err(err).Str("neighborhood", id).Msg("digest: район-спутник пропущен")
			continue
		}
		if src == nil {
			continue
		}
		content.Satellites = append(content.Satellites, toSection(src))
	}

	if primaryID != "" {
		content.HeaderAd, content.NativeAd = a.resolveAds(ctx, primaryID, now)
	}

	applyPausedTopics(&content, r)
	return content, nil
}

func (a *Assembler) fetchWeather(ctx context.Context, src *domain.DigestSource) *domain.Weather {
	if a.weather == nil {
		return nil
	}
	w, err := a.weather.FetchWeather(ctx, src.Latitude, src.Longitude, src.Timezone, src.Country)
	if err != nil {
		a.log.Warn().Err(err).Str("neighborhood", src.NeighborhoodID).Msg("digest: погода недоступна")
		return nil
	}
	return w
}

func (a *Assembler) resolveAds(ctx context.Context, neighborhoodID string, now time.Time) (*domain.Ad, *domain.Ad) {
	if a.tiers == nil || a.ads == nil {
		return nil, nil
	}
	today := schedule.LocalDate(now, a.loc)
	tier := a.tiers.ResolveTier(ctx, neighborhoodID, today)
	scope := domain.AdScope{NeighborhoodID: neighborhoodID, Global: tier.IsGlobal}
	creatives, err := a.ads.ActiveCreatives(ctx, scope, today)
	if err != nil {
		a.log.Warn().Err(err).Str("neighborhood", neighborhoodID).Str("tier", string(tier.Tier)).Msg("digest: креативы недоступны")
		return nil, nil
	}

	var header, native *domain.Ad
	for i := range creatives {
		ad := creatives[i]
		switch ad.Slot {
		case domain.AdSlotHeader:
			if header == nil {
				header = &ad
			}
		case domain.AdSlotNative:
			if native == nil {
				native = &ad
			}
		}
	}
	return header, native
}

func toSection(src *domain.DigestSource) domain.Section {
	stories := make([]domain.Story, len(src.Stories))
	copy(stories, src.Stories)
	return domain.Section{
		NeighborhoodID:   src.NeighborhoodID,
		NeighborhoodName: src.NeighborhoodName,
		Stories:          stories,
	}
}

func applyPausedTopics(content *domain.DigestContent, r domain.Recipient) {
	if len(r.PausedTopics) == 0 {
		return
	}
	if content.Primary != nil {
		content.Primary.Stories = filterStories(content.Primary.Stories, r)
	}
	for i := range content.Satellites {
		content.Satellites[i].Stories = filterStories(content.Satellites[i].Stories, r)
	}
}

func filterStories(stories []domain.Story, r domain.Recipient) []domain.Story {
	kept := stories[:0]
	for _, s := range stories {
		if hasPaused(s, r) {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

func hasPaused(s domain.Story, r domain.Recipient) bool {
	for _, topic := range s.Topics {
		if r.HasPausedTopic(topic) {
			return true
		}
	}
	return false
}
