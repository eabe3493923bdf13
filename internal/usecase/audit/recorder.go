package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/sidechannel"
)

// MaxMessageRunes ограничивает длину одного сообщения об ошибке в журнале.
const MaxMessageRunes = 500

// ErrNoSink возвращается из List, если хранилище журнала не настроено.
var ErrNoSink = errors.New("audit sink is not configured")

// Recorder пишет журнал запусков через фоновый канал. Record ничего не
// возвращает: сбой записи журнала не влияет на исход самого запуска.
type Recorder struct {
	sink   domain.AuditSink
	runner *sidechannel.Runner
	log    zerolog.Logger
}

// NewRecorder создаёт рекордер. sink может быть nil: тогда запись только логируется.
func NewRecorder(sink domain.AuditSink, runner *sidechannel.Runner, logger zerolog.Logger) *Recorder {
	return &Recorder{sink: sink, runner: runner, log: logger}
}

// Record сохраняет итог запуска конвейера.
func (r *Recorder) Record(jobName string, result domain.RunResult) {
	r.Append(BuildRecord(jobName, result))
}

// Append сохраняет готовую запись журнала.
func (r *Recorder) Append(rec domain.ExecutionRecord) {
	rec = sanitize(rec)
	r.log.Info().
		Str("job", rec.JobName).
		Str("id", rec.ID).
		Bool("success", rec.Success).
		Int("items", rec.ItemsProcessed).
		Int("errors", len(rec.Errors)).
		Msg("audit: запуск завершён")
	if r.sink == nil {
		return
	}
	r.runner.Go("audit_append", func(ctx context.Context) error {
		if err := r.sink.Append(ctx, rec); err != nil {
			return fmt.Errorf("запись журнала %s: %w", rec.ID, err)
		}
		return nil
	})
}

// List возвращает записи журнала задачи за интервал [from, to].
func (r *Recorder) List(ctx context.Context, jobName string, from, to time.Time) ([]domain.ExecutionRecord, error) {
	if r.sink == nil {
		return nil, ErrNoSink
	}
	return r.sink.ListExecutions(ctx, jobName, from, to)
}

// BuildRecord превращает итог запуска в запись журнала.
func BuildRecord(jobName string, res domain.RunResult) domain.ExecutionRecord {
	id := res.RunID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	poolErrors := res.PoolErrors
	if poolErrors == nil {
		poolErrors = []string{}
	}
	return domain.ExecutionRecord{
		ID:             id,
		JobName:        jobName,
		StartedAt:      res.StartedAt,
		CompletedAt:    res.CompletedAt,
		Success:        res.Success,
		ItemsProcessed: res.ItemsProcessed(),
		Errors:         res.Errors,
		Metadata: map[string]any{
			"run_id":             id,
			"recipients_found":   res.RecipientsFound,
			"duplicates_dropped": res.DuplicatesDropped,
			"pool_errors":        poolErrors,
			"assembled":          res.Assembled,
			"sent":               res.Sent,
			"failed":             res.Failed,
			"skipped":            res.Skipped,
			"dry_run":            res.Request.DryRun,
			"target_hour":        res.Request.TargetHour,
			"forced_recipient":   res.Request.ForceRecipient != "",
		},
	}
}

func sanitize(rec domain.ExecutionRecord) domain.ExecutionRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}
	rec.Errors = TruncateErrors(rec.Errors)
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	return rec
}

// TruncateErrors оставляет первые domain.MaxRecordedErrors сообщений и обрезает каждое.
func TruncateErrors(errs []string) []string {
	n := len(errs)
	if n > domain.MaxRecordedErrors {
		n = domain.MaxRecordedErrors
	}
	out := make([]string, 0, n)
	for _, msg := range errs[:n] {
		out = append(out, truncate(msg, MaxMessageRunes))
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
