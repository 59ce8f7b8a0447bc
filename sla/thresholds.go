package sla

// Thresholds is the parsed, per brand/country TAT configuration.
// All durations are minutes; percentages are of the target TAT.
type Thresholds struct {
	ProcessedMinutes int `json:"processed_minutes"`
	ShippedMinutes   int `json:"shipped_minutes"`
	DeliveredMinutes int `json:"delivered_minutes"`

	RiskPct     float64 `json:"risk_pct"`
	UrgentPct   float64 `json:"urgent_pct"`
	CriticalPct float64 `json:"critical_pct"`

	PendingNotProcessedMinutes int `json:"pending_not_processed_minutes"`
	PendingProcessedMinutes    int `json:"pending_processed_minutes"`
	PendingShippedMinutes      int `json:"pending_shipped_minutes"`
}

// TargetFor returns the configured TAT for completing stage s.
func (th Thresholds) TargetFor(s Stage) int {
	switch s {
	case StageProcessed:
		return th.ProcessedMinutes
	case StageShipped:
		return th.ShippedMinutes
	case StageDelivered:
		return th.DeliveredMinutes
	}
	return 0
}

// PendingLimitFor returns the allowed dwell time while sitting in s.
func (th Thresholds) PendingLimitFor(s Stage) int {
	switch s {
	case StageNotProcessed:
		return th.PendingNotProcessedMinutes
	case StageProcessed:
		return th.PendingProcessedMinutes
	case StageShipped:
		return th.PendingShippedMinutes
	}
	return 0
}
