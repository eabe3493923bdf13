package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"neighborhood-digest/internal/app"
	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/config"
	applog "neighborhood-digest/internal/infra/log"
	"neighborhood-digest/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "scheduler")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось собрать зависимости")
	}
	defer a.Close()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	cronLogger := logger.With().Str("component", "cron").Logger()
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
		cron.WithLogger(cron.PrintfLogger(&cronLogger)),
	)

	if _, err := c.AddFunc(cfg.Digest.Schedule, func() {
		req := domain.RunRequest{TargetHour: cfg.Digest.TargetHour}
		report, err := a.RunDigest(ctx, req)
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: запуск рассылки завершился системной ошибкой")
			return
		}
		logger.Info().
			Str("run_id", report.Result.RunID).
			Int("sent", report.Result.Sent).
			Int("failed", report.Result.Failed).
			Int("skipped", report.Result.Skipped).
			Msg("scheduler: рассылка выполнена")
	}); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Digest.Schedule).Msg("scheduler: неверное расписание рассылки")
	}

	reap := cron.NewChain(cron.SkipIfStillRunning(cron.PrintfLogger(&cronLogger))).Then(cron.FuncJob(func() {
		deleted, err := a.ReapHolds(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: очистка броней не удалась")
			return
		}
		logger.Info().Int64("deleted", deleted).Msg("scheduler: брошенные брони удалены")
	}))
	if _, err := c.AddJob(cfg.Digest.ReapSchedule, reap); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Digest.ReapSchedule).Msg("scheduler: неверное расписание очистки")
	}

	c.Start()
	logger.Info().
		Str("digest", cfg.Digest.Schedule).
		Str("reap", cfg.Digest.ReapSchedule).
		Int("target_hour", cfg.Digest.TargetHour).
		Msg("scheduler: старт")

	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка")
	<-c.Stop().Done()
}
