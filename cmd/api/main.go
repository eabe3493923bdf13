package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"neighborhood-digest/internal/adapters/httpapi"
	"neighborhood-digest/internal/app"
	"neighborhood-digest/internal/infra/config"
	httpinfra "neighborhood-digest/internal/infra/http"
	applog "neighborhood-digest/internal/infra/log"
	"neighborhood-digest/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось собрать зависимости")
	}
	defer a.Close()

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	handler := &httpapi.Handler{
		Runner:     a,
		Executions: a.Recorder,
		Tiers:      a.Tiers,
		Guard:      a.Guard,
		Reaper:     a,
		Location:   cfg.Location(),
		Log:        logger,
	}
	handler.Register(srv.Router, cfg.AdminToken)

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
