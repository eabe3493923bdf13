package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
)

// Append реализует domain.AuditSink. Журнал только дополняется.
func (p *Postgres) Append(ctx context.Context, rec domain.ExecutionRecord) error {
	errs, meta, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO cron_executions (id, job_name, started_at, completed_at, success, items_processed, errors, metadata)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
`, rec.ID, rec.JobName, rec.StartedAt, rec.CompletedAt, rec.Success, rec.ItemsProcessed, errs, meta)
	metrics.ObserveNetworkRequest("postgres", "executions_insert", "cron_executions", start, err)
	return err
}

// ListExecutions реализует domain.AuditSink.
func (p *Postgres) ListExecutions(ctx context.Context, jobName string, from, to time.Time) ([]domain.ExecutionRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id::text, job_name, started_at, completed_at, success, items_processed, errors, metadata
FROM cron_executions
WHERE job_name = $1 AND started_at BETWEEN $2 AND $3
ORDER BY started_at DESC
`, jobName, from, to)
	metrics.ObserveNetworkRequest("postgres", "executions_list", "cron_executions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec        domain.ExecutionRecord
			errs, meta []byte
		)
		if err := rows.Scan(&rec.ID, &rec.JobName, &rec.StartedAt, &rec.CompletedAt, &rec.Success, &rec.ItemsProcessed, &errs, &meta); err != nil {
			return nil, err
		}
		if err := decodeRecord(&rec, errs, meta); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func encodeRecord(rec domain.ExecutionRecord) ([]byte, []byte, error) {
	errList := rec.Errors
	if errList == nil {
		errList = []string{}
	}
	errs, err := json.Marshal(errList)
	if err != nil {
		return nil, nil, fmt.Errorf("кодирование ошибок: %w", err)
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("кодирование метаданных: %w", err)
	}
	return errs, meta, nil
}

func decodeRecord(rec *domain.ExecutionRecord, errs, meta []byte) error {
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &rec.Errors); err != nil {
			return fmt.Errorf("ошибки записи %s: %w", rec.ID, err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return fmt.Errorf("метаданные записи %s: %w", rec.ID, err)
		}
	}
	return nil
}
