package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	PipelineRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_pipeline_runs_total",
		Help: "Запуски конвейера рассылки",
	}, []string{"mode", "status"})
	PipelineRunSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_pipeline_run_seconds",
		Help:    "Длительность запуска конвейера",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	})
	RecipientsResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_recipients_resolved_total",
		Help: "Получатели, попавшие в окно рассылки, по пулам",
	}, []string{"source"})
	DigestBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_build_seconds",
		Help:    "Время сборки дайджеста одного получателя",
		Buckets: prometheus.DefBuckets,
	})
	DigestSendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_sends_total",
		Help: "Итоги отправки писем",
	}, []string{"status"})
	TierResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_tier_resolutions_total",
		Help: "Разрешения ценового уровня",
	}, []string{"tier"})
	HoldsReapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booking_stale_holds_reaped_total",
		Help: "Удалённые брошенные брони",
	})
	SideChannelErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "side_channel_errors_total",
		Help: "Ошибки фоновых задач, не влияющих на результат запуска",
	}, []string{"task"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PipelineRunsTotal,
		PipelineRunSeconds,
		RecipientsResolved,
		DigestBuildSeconds,
		DigestSendsTotal,
		TierResolutionsTotal,
		HoldsReapedTotal,
		SideChannelErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveRun фиксирует завершение запуска конвейера.
func ObserveRun(dryRun, success bool, started time.Time) {
	mode := "live"
	if dryRun {
		mode = "dry_run"
	}
	status := "success"
	if !success {
		status = "failure"
	}
	PipelineRunsTotal.WithLabelValues(mode, status).Inc()
	PipelineRunSeconds.Observe(time.Since(started).Seconds())
}
