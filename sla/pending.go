package sla

import (
	"math"
	"time"
)

type PendingStatus string

const (
	PendingStatusPending PendingStatus = "pending"
	PendingStatusNormal  PendingStatus = "normal"
)

type PendingResult struct {
	Status PendingStatus
	// Hours spent in the stalled stage, rounded to two decimals. Zero when normal.
	Hours float64
	Stage Stage
}

func (p PendingResult) IsPending() bool { return p.Status == PendingStatusPending }

// DetectPending flags an order that has sat in its current incomplete stage
// longer than the configured dwell time for that stage. A zero dwell time
// disables the check for that stage.
func DetectPending(t Timeline, now time.Time, th *Thresholds) PendingResult {
	normal := PendingResult{Status: PendingStatusNormal}
	if th == nil || t.Delivered != nil {
		return normal
	}

	var (
		since time.Time
		stage Stage
	)
	switch {
	case t.Shipped != nil:
		since, stage = *t.Shipped, StageShipped
	case t.Processed != nil:
		since, stage = *t.Processed, StageProcessed
	case !t.Placed.IsZero():
		since, stage = t.Placed, StageNotProcessed
	default:
		return normal
	}
	normal.Stage = stage

	limit := th.PendingLimitFor(stage)
	if limit <= 0 {
		return normal
	}
	dwell := now.Sub(since)
	if dwell <= time.Duration(limit)*time.Minute {
		return normal
	}
	return PendingResult{
		Status: PendingStatusPending,
		Hours:  math.Round(dwell.Hours()*100) / 100,
		Stage:  stage,
	}
}
