package etlsync

import "encoding/json"

// Request selects which source tables a sync job covers.
type Request struct {
	Brand       string `json:"brand" validate:"omitempty,alphanum,max=32"`
	Country     string `json:"country" validate:"omitempty,alpha,min=2,max=3"`
	Force       bool   `json:"force"`
	Async       bool   `json:"async"`
	TriggeredBy string `json:"-"`
	// RunId resumes a queued run created by the trigger endpoint.
	RunId uint `json:"-"`
}

// TableResult is the outcome of syncing one source table.
type TableResult struct {
	SourceTable    string `json:"source_table"`
	TargetTable    string `json:"target_table"`
	Brand          string `json:"brand"`
	Country        string `json:"country"`
	ProcessedCount int    `json:"processed_count"`
	FailedCount    int    `json:"failed_count"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

// Result aggregates a whole sync job.
type Result struct {
	RunId         uint          `json:"run_id"`
	Status        string        `json:"status"`
	Tables        []TableResult `json:"tables"`
	TablesTotal   int           `json:"tables_total"`
	TablesSuccess int           `json:"tables_success"`
	TablesFailed  int           `json:"tables_failed"`
	RecordsSynced int           `json:"records_synced"`
	RecordsFailed int           `json:"records_failed"`
	DurationMs    int64         `json:"duration_ms"`
	CorrelationId string        `json:"correlation_id,omitempty"`
	Canceled      bool          `json:"canceled,omitempty"`
}

// HasFailures reports whether any table or row failed.
func (r Result) HasFailures() bool {
	return r.TablesFailed > 0 || r.RecordsFailed > 0
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Status        string  `json:"status"`
	TriggeredBy   string  `json:"triggered_by"`
	CorrelationId string  `json:"correlation_id"`
	Brand         string  `json:"brand,omitempty"`
	Country       string  `json:"country,omitempty"`
	Force         bool    `json:"force"`
	TablesTotal   int     `json:"tables_total"`
	TablesFailed  int     `json:"tables_failed"`
	RecordsSynced int     `json:"records_synced"`
	ErrorCount    int     `json:"error_count"`
	StartedAt     *string `json:"started_at"`
	FinishedAt    *string `json:"finished_at"`
	DurationMs    int64   `json:"duration_ms"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Tables []TableResult       `json:"tables"`
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID          uint   `json:"id"`
	SourceTable string `json:"source_table"`
	OrderNo     string `json:"order_no"`
	ErrorCode   string `json:"error_code"`
	Message     string `json:"message"`
}

// PubSubPushEnvelope is the body Pub/Sub push subscriptions POST.
type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageId  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func decodeEnvelope(body []byte) (PubSubPushEnvelope, error) {
	var env PubSubPushEnvelope
	err := json.Unmarshal(body, &env)
	return env, err
}
