package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"neighborhood-digest/internal/domain"
	httpinfra "neighborhood-digest/internal/infra/http"
	"neighborhood-digest/internal/usecase/pipeline"
)

const maxRequestBody = 1 << 20

// DigestRunner запускает конвейер рассылки.
type DigestRunner interface {
	RunDigest(ctx context.Context, req domain.RunRequest) (pipeline.RunReport, error)
}

// ExecutionLister читает журнал запусков.
type ExecutionLister interface {
	List(ctx context.Context, jobName string, from, to time.Time) ([]domain.ExecutionRecord, error)
}

// TierResolver определяет уровень района на дату.
type TierResolver interface {
	ResolveTier(ctx context.Context, neighborhoodID string, date time.Time) domain.TierAssignment
}

// SlotGuard считает календарь занятости и проверяет слоты.
type SlotGuard interface {
	ComputeAvailability(ctx context.Context, neighborhoodID string, placement domain.PlacementType, rng domain.MonthRange) (domain.Availability, error)
	CheckSlot(ctx context.Context, neighborhoodID string, placement domain.PlacementType, date time.Time) error
}

// HoldReaper удаляет брошенные брони.
type HoldReaper interface {
	ReapHolds(ctx context.Context) (int64, error)
}

// Handler обслуживает административный API.
type Handler struct {
	Runner     DigestRunner
	Executions ExecutionLister
	Tiers      TierResolver
	Guard      SlotGuard
	Reaper     HoldReaper
	Location   *time.Location
	Log        zerolog.Logger

	now func() time.Time
}

// Register подключает маршруты к роутеру. Все маршруты требуют токен оператора.
func (h *Handler) Register(r chi.Router, adminToken string) {
	r.Group(func(protected chi.Router) {
		protected.Use(httpinfra.AdminAuthMiddleware(adminToken))

		protected.Post("/api/v1/digest/runs", h.runDigest)
		protected.Get("/api/v1/executions", h.listExecutions)
		protected.Get("/api/v1/pricing/tier", h.resolveTier)
		protected.Get("/api/v1/availability", h.availability)
		protected.Get("/api/v1/slots/check", h.checkSlot)
		protected.Post("/api/v1/holds/reap", h.reapHolds)
	})
}

func (h *Handler) location() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

func (h *Handler) runDigest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req domain.RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetHour < 0 || req.TargetHour > 23 {
		httpinfra.WriteError(w, http.StatusBadRequest, "target_hour must be in [0, 23]")
		return
	}
	report, err := h.Runner.RunDigest(r.Context(), req)
	if err != nil {
		h.Log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Msg("api: запуск рассылки не удался")
		httpinfra.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  err.Error(),
			"result": report.Result,
		})
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	job := strings.TrimSpace(q.Get("job"))
	if job == "" {
		job = domain.JobDailyDigest
	}
	to := h.clock().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
	}
	if to.Before(from) {
		httpinfra.WriteError(w, http.StatusBadRequest, "to is before from")
		return
	}
	records, err := h.Executions.List(r.Context(), job, from, to)
	if err != nil {
		h.Log.Error().Err(err).Msg("api: чтение журнала не удалось")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if records == nil {
		records = []domain.ExecutionRecord{}
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"job": job, "executions": records})
}

func (h *Handler) resolveTier(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	neighborhood := strings.TrimSpace(q.Get("neighborhood"))
	if neighborhood == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, "neighborhood is required")
		return
	}
	date := h.clock()
	if v := q.Get("date"); v != "" {
		parsed, err := time.ParseInLocation(domain.DateLayout, v, h.location())
		if err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	httpinfra.WriteJSON(w, http.StatusOK, h.Tiers.ResolveTier(r.Context(), neighborhood, date))
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	placement := domain.PlacementType(q.Get("placement"))
	if placement == "" {
		placement = domain.PlacementDailyBrief
	}
	rng := domain.MonthRange{From: h.clock().In(h.location()), Months: 1}
	if v := q.Get("from"); v != "" {
		parsed, err := time.ParseInLocation(domain.MonthLayout, v, h.location())
		if err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "from must be YYYY-MM")
			return
		}
		rng.From = parsed
	}
	if v := q.Get("months"); v != "" {
		months, err := strconv.Atoi(v)
		if err != nil || months <= 0 {
			httpinfra.WriteError(w, http.StatusBadRequest, "months must be a positive integer")
			return
		}
		rng.Months = months
	}
	avail, err := h.Guard.ComputeAvailability(r.Context(), strings.TrimSpace(q.Get("neighborhood")), placement, rng)
	if err != nil {
		h.writeSlotError(w, err)
		return
	}
	if avail.BookedDates == nil {
		avail.BookedDates = []string{}
	}
	if avail.BlockedDates == nil {
		avail.BlockedDates = []string{}
	}
	httpinfra.WriteJSON(w, http.StatusOK, avail)
}

func (h *Handler) checkSlot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := time.ParseInLocation(domain.DateLayout, q.Get("date"), h.location())
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	placement := domain.PlacementType(q.Get("placement"))
	if placement == "" {
		placement = domain.PlacementFor(date)
	}
	if err := h.Guard.CheckSlot(r.Context(), strings.TrimSpace(q.Get("neighborhood")), placement, date); err != nil {
		h.writeSlotError(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"available": true})
}

func (h *Handler) reapHolds(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.Reaper.ReapHolds(r.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("api: очистка броней не удалась")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to reap holds")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (h *Handler) writeSlotError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidPlacement):
		httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSlotUnavailable), errors.Is(err, domain.ErrOutsideBookingWindow):
		httpinfra.WriteJSON(w, http.StatusConflict, map[string]any{"available": false, "error": err.Error()})
	default:
		h.Log.Error().Err(err).Msg("api: ошибка календаря броней")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to read bookings")
	}
}
