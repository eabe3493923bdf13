package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"neighborhood-digest/internal/adapters/auditlog"
	"neighborhood-digest/internal/adapters/mailer"
	"neighborhood-digest/internal/adapters/repo"
	"neighborhood-digest/internal/adapters/telegram"
	"neighborhood-digest/internal/adapters/weather"
	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/cache"
	"neighborhood-digest/internal/infra/config"
	"neighborhood-digest/internal/infra/db"
	"neighborhood-digest/internal/infra/queue"
	"neighborhood-digest/internal/infra/sidechannel"
	"neighborhood-digest/internal/usecase/audit"
	"neighborhood-digest/internal/usecase/digest"
	"neighborhood-digest/internal/usecase/dispatch"
	"neighborhood-digest/internal/usecase/pipeline"
	"neighborhood-digest/internal/usecase/pricing"
	"neighborhood-digest/internal/usecase/recipients"
)

// App собирает все зависимости процесса из конфига.
type App struct {
	Config    config.AppConfig
	Log       zerolog.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Repo      *repo.Postgres
	Tiers     *pricing.Resolver
	Guard     *pricing.Guard
	Recorder  *audit.Recorder
	Pipeline  *pipeline.Pipeline
	SideTasks *sidechannel.Runner
	// Events заполнен, только если EVENTS_DRIVER=redis.
	Events *queue.RedisRunQueue

	closers []func() error
}

// Build подключается к БД и брокерам и собирает конвейер.
func Build(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*App, error) {
	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a := &App{Config: cfg, Log: logger, Pool: pool}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, a.Redis.Close)
	}

	loc := cfg.Location()
	a.Repo = repo.NewPostgres(pool)
	a.SideTasks = sidechannel.NewRunner(logger.With().Str("component", "sidechannel").Logger(), cfg.Audit.Timeout)

	a.Tiers = pricing.NewResolver(a.Repo, a.Repo, pricing.Config{
		Tier1:          cfg.Pricing.Tier1Neighborhoods,
		Tier2:          cfg.Pricing.Tier2Neighborhoods,
		Prices:         pricesFrom(cfg),
		Location:       loc,
		SeasonCacheTTL: cfg.Pricing.SeasonCacheTTL,
	}, logger.With().Str("component", "pricing").Logger())
	a.Guard = pricing.NewGuard(a.Repo, pricing.GuardConfig{
		LeadHours: cfg.Booking.LeadHours,
		MaxDays:   cfg.Booking.MaxDays,
		Location:  loc,
	}, logger.With().Str("component", "availability").Logger())

	sink, err := a.auditSink()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Recorder = audit.NewRecorder(sink, a.SideTasks, logger.With().Str("component", "audit").Logger())

	publisher, err := a.publisher()
	if err != nil {
		a.Close()
		return nil, err
	}

	transport, err := mailer.New(cfg.Mailer.BaseURL, cfg.Mailer.APIKey, cfg.Mailer.From,
		mailer.WithTimeout(cfg.Mailer.Timeout),
		mailer.WithLogger(logger.With().Str("component", "mailer").Logger()),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init mailer: %w", err)
	}

	var weatherCache weather.Cache
	if a.Redis != nil {
		weatherCache = cache.NewRedis(a.Redis, "digest:")
	}
	weatherClient := weather.NewOpenMeteo(weather.Config{
		BaseURL:  cfg.Weather.BaseURL,
		Timeout:  cfg.Weather.Timeout,
		CacheTTL: cfg.Weather.CacheTTL,
	}, weatherCache, logger.With().Str("component", "weather").Logger())

	deps := pipeline.Deps{
		Resolver:   recipients.NewResolver(a.Repo, cfg.Digest.DefaultNeighborhoods, logger.With().Str("component", "recipients").Logger()),
		Assembler:  digest.NewAssembler(a.Repo, weatherClient, a.Tiers, a.Repo, digest.Config{LookbackHours: cfg.Digest.LookbackHours, Location: loc}, logger.With().Str("component", "assembler").Logger()),
		Renderer:   digest.NewRenderer(cfg.Digest.UnsubscribeBaseURL),
		Transport:  transport,
		Dispatcher: dispatch.NewDispatcher(logger.With().Str("component", "dispatch").Logger()),
		Recorder:   a.Recorder,
		SideTasks:  a.SideTasks,
		Publisher:  publisher,
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.AlertChatID != 0 {
		alerter, err := telegram.NewAlerter(cfg.Telegram.Token, cfg.Telegram.AlertChatID, logger.With().Str("component", "alerter").Logger())
		if err != nil {
			logger.Warn().Err(err).Msg("app: оповещения в Telegram отключены")
		} else {
			deps.Alerter = alerter
		}
	}

	a.Pipeline = pipeline.New(deps, pipeline.Config{
		MaxBatch:           cfg.Digest.MaxBatch,
		SendDelay:          cfg.Digest.SendDelay,
		Concurrency:        cfg.Digest.AssemblyConcurrency,
		SkipWithoutPrimary: cfg.Digest.SkipWithoutPrimary,
	}, logger.With().Str("component", "pipeline").Logger())
	return a, nil
}

func (a *App) auditSink() (domain.AuditSink, error) {
	switch strings.ToLower(a.Config.Audit.Driver) {
	case "", "postgres":
		return a.Repo, nil
	case "sqlite":
		store, err := auditlog.Open(a.Config.Audit.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open audit sqlite: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown audit driver %q", a.Config.Audit.Driver)
	}
}

func (a *App) publisher() (domain.EventPublisher, error) {
	switch strings.ToLower(a.Config.Events.Driver) {
	case "":
		return nil, nil
	case "redis":
		if a.Redis == nil {
			return nil, fmt.Errorf("events driver redis requires REDIS_ADDR")
		}
		a.Events = queue.NewRedisRunQueue(a.Redis, a.Config.Events.RedisKey)
		return a.Events, nil
	case "amqp":
		p, err := queue.NewAMQPRunPublisher(a.Config.Events.AMQPURL, a.Config.Events.Exchange)
		if err != nil {
			return nil, fmt.Errorf("init amqp publisher: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", a.Config.Events.Driver)
	}
}

// RunDigest запускает конвейер с таймаутом из конфига.
func (a *App) RunDigest(ctx context.Context, req domain.RunRequest) (pipeline.RunReport, error) {
	if a.Config.Digest.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.Digest.RunTimeout)
		defer cancel()
	}
	return a.Pipeline.Run(ctx, req)
}

// ReapHolds удаляет брошенные брони и пишет запуск в журнал.
func (a *App) ReapHolds(ctx context.Context) (int64, error) {
	return ReapAndRecord(ctx, a.Guard, a.Recorder, time.Now())
}

// Reaper удаляет брошенные брони.
type Reaper interface {
	ReapExpiredHolds(ctx context.Context, now time.Time) (int64, error)
}

// Appender сохраняет запись журнала.
type Appender interface {
	Append(rec domain.ExecutionRecord)
}

// ReapAndRecord выполняет очистку броней и сохраняет запись журнала при любом исходе.
func ReapAndRecord(ctx context.Context, reaper Reaper, rec Appender, now time.Time) (int64, error) {
	started := now.UTC()
	deleted, err := reaper.ReapExpiredHolds(ctx, started)
	record := domain.ExecutionRecord{
		ID:             uuid.NewString(),
		JobName:        domain.JobReapHolds,
		StartedAt:      started,
		CompletedAt:    time.Now().UTC(),
		Success:        err == nil,
		ItemsProcessed: int(deleted),
		Errors:         []string{},
		Metadata:       map[string]any{"deleted": deleted},
	}
	if err != nil {
		record.Errors = []string{err.Error()}
	}
	rec.Append(record)
	return deleted, err
}

// Close дожидается фоновых задач и закрывает соединения в обратном порядке.
func (a *App) Close() {
	if a.SideTasks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.SideTasks.Wait(ctx); err != nil {
			a.Log.Warn().Err(err).Msg("app: фоновые задачи не завершились")
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn().Err(err).Msg("app: ошибка при закрытии")
		}
	}
	a.closers = nil
}

func pricesFrom(cfg config.AppConfig) pricing.Prices {
	p := cfg.Pricing
	return pricing.Prices{
		Tier1:  domain.TierPrice{DailyBriefCents: p.Tier1DailyCents, SundayEditionCents: p.Tier1SundayCents},
		Tier2:  domain.TierPrice{DailyBriefCents: p.Tier2DailyCents, SundayEditionCents: p.Tier2SundayCents},
		Tier3:  domain.TierPrice{DailyBriefCents: p.Tier3DailyCents, SundayEditionCents: p.Tier3SundayCents},
		Global: domain.TierPrice{DailyBriefCents: p.GlobalDailyCents, SundayEditionCents: p.GlobalSundayCents},
	}
}
