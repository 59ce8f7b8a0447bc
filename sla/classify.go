package sla

import "time"

// Classification is the per-order result every read path shares.
// It depends on now and is never persisted.
type Classification struct {
	Stage          Stage         `json:"stage"`
	SlaStatus      Status        `json:"sla_status"`
	PendingStatus  PendingStatus `json:"pending_status"`
	PendingHours   float64       `json:"pending_hours"`
	BreachSeverity Severity      `json:"breach_severity"`
}

// Classify runs stage resolution, SLA status, breach severity and pending
// detection for one order. th may be nil when no config exists.
func Classify(t Timeline, th *Thresholds, now time.Time) Classification {
	stage := ResolveStage(t)
	pending := DetectPending(t, now, th)
	return Classification{
		Stage:          stage,
		SlaStatus:      ClassifyStatus(stage, t, now, th),
		PendingStatus:  pending.Status,
		PendingHours:   pending.Hours,
		BreachSeverity: ClassifySeverity(stage, t, now, th),
	}
}

// Tally counts classifications; OnTime+AtRisk+Breached+Unknown always equals Total.
type Tally struct {
	Total    int `json:"total"`
	OnTime   int `json:"on_time"`
	AtRisk   int `json:"at_risk"`
	Breached int `json:"breached"`
	Unknown  int `json:"unknown"`
}

func (t *Tally) Add(s Status) {
	t.Total++
	switch s {
	case StatusOnTime:
		t.OnTime++
	case StatusAtRisk:
		t.AtRisk++
	case StatusBreached:
		t.Breached++
	default:
		t.Unknown++
	}
}

// OnTimeRate is the on-time share of classified (non-unknown) orders, 0..100.
func (t Tally) OnTimeRate() float64 {
	known := t.Total - t.Unknown
	if known <= 0 {
		return 0
	}
	return float64(t.OnTime) * 100 / float64(known)
}
