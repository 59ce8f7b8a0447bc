package sla

import "time"

type Stage string

const (
	StageNotProcessed Stage = "Not Processed"
	StageProcessed    Stage = "Processed"
	StageShipped      Stage = "Shipped"
	StageDelivered    Stage = "Delivered"
)

// Stages lists the lifecycle stages in order.
var Stages = []Stage{StageNotProcessed, StageProcessed, StageShipped, StageDelivered}

func (s Stage) String() string { return string(s) }

// Rank orders stages; unknown values rank below NotProcessed.
func (s Stage) Rank() int {
	switch s {
	case StageNotProcessed:
		return 0
	case StageProcessed:
		return 1
	case StageShipped:
		return 2
	case StageDelivered:
		return 3
	default:
		return -1
	}
}

// Timeline holds the four lifecycle timestamps of an order.
// Placed is required; the others are nil until reached.
type Timeline struct {
	Placed    time.Time
	Processed *time.Time
	Shipped   *time.Time
	Delivered *time.Time
}

// ResolveStage returns the most advanced stage with a timestamp.
// Skipped intermediate stamps do not hold an order back.
func ResolveStage(t Timeline) Stage {
	switch {
	case t.Delivered != nil:
		return StageDelivered
	case t.Shipped != nil:
		return StageShipped
	case t.Processed != nil:
		return StageProcessed
	default:
		return StageNotProcessed
	}
}

// SkippedProcessing reports a shipped/delivered order with no processed stamp.
func (t Timeline) SkippedProcessing() bool {
	return t.Processed == nil && (t.Shipped != nil || t.Delivered != nil)
}

// StageTime returns the timestamp at which the order entered s.
func (t Timeline) StageTime(s Stage) *time.Time {
	switch s {
	case StageNotProcessed:
		if t.Placed.IsZero() {
			return nil
		}
		p := t.Placed
		return &p
	case StageProcessed:
		return t.Processed
	case StageShipped:
		return t.Shipped
	case StageDelivered:
		return t.Delivered
	}
	return nil
}

// ElapsedMinutes is the whole minutes from placed to at, never negative.
func (t Timeline) ElapsedMinutes(at time.Time) int {
	if t.Placed.IsZero() || at.Before(t.Placed) {
		return 0
	}
	return int(at.Sub(t.Placed) / time.Minute)
}

// RealizedMinutes is the observed TAT from placed to the stage timestamp,
// ok=false when the stage was not reached.
func (t Timeline) RealizedMinutes(s Stage) (int, bool) {
	at := t.StageTime(s)
	if at == nil || t.Placed.IsZero() {
		return 0, false
	}
	return t.ElapsedMinutes(*at), true
}
