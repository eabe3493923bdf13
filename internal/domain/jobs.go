package domain

import "time"

// JobDailyDigest — имя задачи ежечасной рассылки в журнале запусков.
const JobDailyDigest = "daily_digest"

// JobReapHolds — имя задачи очистки брошенных броней.
const JobReapHolds = "reap_stale_holds"

// MaxRecordedErrors ограничивает размер списка ошибок в журнале.
const MaxRecordedErrors = 10

// RunRequest — параметры одного запуска конвейера.
type RunRequest struct {
	TargetHour     int    `json:"target_hour"`
	DryRun         bool   `json:"dry_run"`
	ForceRecipient string `json:"force_recipient,omitempty"`
	BypassTimezone bool   `json:"bypass_timezone,omitempty"`
}

// RunResult — счётчики запуска, которые попадают в журнал.
type RunResult struct {
	RunID             string
	StartedAt         time.Time
	CompletedAt       time.Time
	Success           bool
	RecipientsFound   int
	DuplicatesDropped int
	Assembled         int
	Sent              int
	Failed            int
	Skipped           int
	Errors            []string
	PoolErrors        []string
	Request           RunRequest
}

// ItemsProcessed возвращает число обработанных получателей.
func (r RunResult) ItemsProcessed() int {
	if r.Request.DryRun {
		return r.Assembled
	}
	return r.Sent
}

// ExecutionRecord — строка журнала запусков. После записи не меняется.
type ExecutionRecord struct {
	ID             string         `json:"id"`
	JobName        string         `json:"job_name"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	Success        bool           `json:"success"`
	ItemsProcessed int            `json:"items_processed"`
	Errors         []string       `json:"errors"`
	Metadata       map[string]any `json:"metadata"`
}

// RunEvent публикуется после каждого запуска.
type RunEvent struct {
	RunID       string    `json:"run_id"`
	JobName     string    `json:"job_name"`
	Success     bool      `json:"success"`
	DryRun      bool      `json:"dry_run"`
	TargetHour  int       `json:"target_hour"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	CompletedAt time.Time `json:"completed_at"`
}
