package models

import "time"

// CleanupRun records one orphan-summary cleanup.
type CleanupRun struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	Status         string     `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy    string     `gorm:"size:40" json:"triggered_by"`
	CorrelationId  string     `gorm:"size:64" json:"correlation_id"`
	OrphansRemoved int        `gorm:"not null;default:0" json:"orphans_removed"`
	RowsDeleted    int64      `gorm:"not null;default:0" json:"rows_deleted"`
	UnbalancedRows int64      `gorm:"not null;default:0" json:"unbalanced_rows"`
	Error          *string    `gorm:"type:text" json:"error"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
}
