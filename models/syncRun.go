package models

import "time"

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredPubSub = "pubsub"
	SyncTriggeredCLI    = "cli"
)

const (
	JobTypeSync    = "sync"
	JobTypeSummary = "summary"
	JobTypeCleanup = "cleanup"
)

// SyncRun records one ETL sync job.
type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Status        string     `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	CorrelationId string     `gorm:"size:64" json:"correlation_id"`
	BrandFilter   string     `gorm:"size:32" json:"brand_filter"`
	CountryFilter string     `gorm:"size:8" json:"country_filter"`
	Force         bool       `json:"force"`
	TablesTotal   int        `json:"tables_total"`
	TablesFailed  int        `json:"tables_failed"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRunTable is the per-source-table outcome of a SyncRun.
type SyncRunTable struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	SyncRunId      uint       `gorm:"index;not null" json:"sync_run_id"`
	SourceTable    string     `gorm:"size:128;index:idx_srt_table_success,priority:1" json:"source_table"`
	TargetTable    string     `gorm:"size:128" json:"target_table"`
	BrandCode      string     `gorm:"size:32" json:"brand_code"`
	CountryCode    string     `gorm:"size:8" json:"country_code"`
	ProcessedCount int        `json:"processed_count"`
	FailedCount    int        `json:"failed_count"`
	Success        bool       `gorm:"index:idx_srt_table_success,priority:2" json:"success"`
	Error          string     `gorm:"type:text" json:"error"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// SyncRunError is one source row that failed to upsert.
type SyncRunError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	SourceTable string    `gorm:"size:128" json:"source_table"`
	OrderNo     string    `gorm:"size:64" json:"order_no"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
