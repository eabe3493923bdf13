package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
)

// SQLite — локальный журнал запусков для окружений без Postgres.
type SQLite struct {
	db *sql.DB
}

var _ domain.AuditSink = (*SQLite)(nil)

// Open открывает файл журнала и создаёт схему при необходимости.
func Open(path string) (*SQLite, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS cron_executions (
  id              TEXT PRIMARY KEY,
  job_name        TEXT NOT NULL,
  started_at      INTEGER NOT NULL,
  completed_at    INTEGER NOT NULL,
  success         INTEGER NOT NULL CHECK (success IN (0,1)),
  items_processed INTEGER NOT NULL DEFAULT 0,
  errors          TEXT NOT NULL DEFAULT '[]',
  metadata        TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_executions_job_started ON cron_executions(job_name, started_at);
`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("схема журнала: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close закрывает базу.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append реализует domain.AuditSink.
func (s *SQLite) Append(ctx context.Context, rec domain.ExecutionRecord) error {
	errList := rec.Errors
	if errList == nil {
		errList = []string{}
	}
	errs, err := json.Marshal(errList)
	if err != nil {
		return err
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = s.db.ExecContext(ctx, `INSERT INTO cron_executions(id, job_name, started_at, completed_at, success, items_processed, errors, metadata) VALUES(?,?,?,?,?,?,?,?)`,
		rec.ID, rec.JobName, rec.StartedAt.UTC().UnixNano(), rec.CompletedAt.UTC().UnixNano(), boolToInt(rec.Success), rec.ItemsProcessed, string(errs), string(meta))
	metrics.ObserveNetworkRequest("sqlite", "executions_insert", "cron_executions", start, err)
	return err
}

// ListExecutions реализует domain.AuditSink. Новые записи идут первыми.
func (s *SQLite) ListExecutions(ctx context.Context, jobName string, from, to time.Time) ([]domain.ExecutionRecord, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT id, job_name, started_at, completed_at, success, items_processed, errors, metadata FROM cron_executions WHERE job_name = ? AND started_at BETWEEN ? AND ? ORDER BY started_at DESC`,
		jobName, from.UTC().UnixNano(), to.UTC().UnixNano())
	metrics.ObserveNetworkRequest("sqlite", "executions_list", "cron_executions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec                domain.ExecutionRecord
			started, completed int64
			success            int
			errs, meta         string
		)
		if err := rows.Scan(&rec.ID, &rec.JobName, &started, &completed, &success, &rec.ItemsProcessed, &errs, &meta); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(0, started).UTC()
		rec.CompletedAt = time.Unix(0, completed).UTC()
		rec.Success = success == 1
		if err := json.Unmarshal([]byte(errs), &rec.Errors); err != nil {
			return nil, fmt.Errorf("ошибки записи %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("метаданные записи %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
