package sla

import "time"

type Status string

const (
	StatusOnTime   Status = "On Time"
	StatusAtRisk   Status = "At Risk"
	StatusBreached Status = "Breached"
	StatusUnknown  Status = "Unknown"
)

func (s Status) String() string { return string(s) }

type Severity string

const (
	SeverityNone     Severity = "None"
	SeverityUrgent   Severity = "Urgent"
	SeverityCritical Severity = "Critical"
)

func (s Severity) String() string { return string(s) }

// NextDeadline is the stage whose target TAT an order in s is judged against.
// Delivered orders are judged against their own, already realized, delivery.
func NextDeadline(s Stage) (Stage, bool) {
	switch s {
	case StageNotProcessed:
		return StageProcessed, true
	case StageProcessed:
		return StageShipped, true
	case StageShipped, StageDelivered:
		return StageDelivered, true
	}
	return "", false
}

// ClassifyStatus judges an order's current risk against its next unmet deadline.
// In-flight orders use elapsed time from placed to now; delivered orders use
// the realized delivery TAT. A nil config, a missing placed time or a zero
// target degrade to StatusUnknown.
func ClassifyStatus(stage Stage, t Timeline, now time.Time, th *Thresholds) Status {
	if th == nil || t.Placed.IsZero() {
		return StatusUnknown
	}
	deadline, ok := NextDeadline(stage)
	if !ok {
		return StatusUnknown
	}
	target := th.TargetFor(deadline)
	if target <= 0 {
		return StatusUnknown
	}

	var observed int
	switch stage {
	case StageDelivered:
		realized, reached := t.RealizedMinutes(StageDelivered)
		if !reached {
			return StatusUnknown
		}
		observed = realized
	case StageNotProcessed, StageProcessed, StageShipped:
		observed = t.ElapsedMinutes(now)
	default:
		return StatusUnknown
	}
	return compareToTarget(observed, target, th.RiskPct)
}

// ClassifyRealized judges how an order performed at the moment it crossed
// stage, using the realized TAT rather than the current time. delay is the
// overrun past the target, zero when on time or at risk.
func ClassifyRealized(stage Stage, t Timeline, th *Thresholds) (status Status, delay time.Duration, ok bool) {
	at := t.StageTime(stage)
	if at == nil || stage == StageNotProcessed {
		return "", 0, false
	}
	if th == nil || t.Placed.IsZero() {
		return StatusUnknown, 0, true
	}
	target := th.TargetFor(stage)
	if target <= 0 {
		return StatusUnknown, 0, true
	}
	realized, _ := t.RealizedMinutes(stage)
	status = compareToTarget(realized, target, th.RiskPct)
	if elapsed := at.Sub(t.Placed); elapsed > time.Duration(target)*time.Minute {
		delay = elapsed - time.Duration(target)*time.Minute
	}
	return status, delay, true
}

// ClassifySeverity escalates in-flight orders by how far elapsed time has
// consumed the next target: above critical_pct is Critical, above urgent_pct
// is Urgent. Delivered orders and unknown configs are None.
func ClassifySeverity(stage Stage, t Timeline, now time.Time, th *Thresholds) Severity {
	if th == nil || t.Placed.IsZero() || stage == StageDelivered {
		return SeverityNone
	}
	deadline, ok := NextDeadline(stage)
	if !ok {
		return SeverityNone
	}
	target := th.TargetFor(deadline)
	if target <= 0 {
		return SeverityNone
	}
	elapsed := float64(t.ElapsedMinutes(now))
	switch {
	case th.CriticalPct > 0 && elapsed > float64(target)*th.CriticalPct/100:
		return SeverityCritical
	case th.UrgentPct > 0 && elapsed > float64(target)*th.UrgentPct/100:
		return SeverityUrgent
	default:
		return SeverityNone
	}
}

func compareToTarget(observed, target int, riskPct float64) Status {
	if observed > target {
		return StatusBreached
	}
	if riskPct > 0 && float64(observed) > float64(target)*riskPct/100 {
		return StatusAtRisk
	}
	return StatusOnTime
}
