package sla

import (
	"testing"
	"time"
)

func TestDetectPending(t *testing.T) {
	th := &Thresholds{
		PendingNotProcessedMinutes: 120,
		PendingProcessedMinutes:    240,
		PendingShippedMinutes:      240,
	}
	now := base.Add(3 * time.Hour)

	cases := []struct {
		name     string
		tl       Timeline
		pending  bool
		hours    float64
		expStage Stage
	}{
		{"placed three hours ago", Timeline{Placed: base}, true, 3, StageNotProcessed},
		{"processed recently", Timeline{Placed: base, Processed: at(120)}, false, 0, StageProcessed},
		{"processed long ago", Timeline{Placed: base.Add(-5 * time.Hour), Processed: at(-90)}, true, 4.5, StageProcessed},
		{"shipped five hours ago", Timeline{Placed: base.Add(-6 * time.Hour), Shipped: at(-120)}, true, 5, StageShipped},
		{"delivered never pending", Timeline{Placed: base.Add(-30 * time.Hour), Delivered: at(-60)}, false, 0, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectPending(tc.tl, now, th)
			if got.IsPending() != tc.pending {
				t.Fatalf("expected pending=%v, got %+v", tc.pending, got)
			}
			if got.Hours != tc.hours {
				t.Fatalf("expected %.2f hours, got %.2f", tc.hours, got.Hours)
			}
			if got.Stage != tc.expStage {
				t.Fatalf("expected stage %q, got %q", tc.expStage, got.Stage)
			}
		})
	}
}

func TestDetectPending_DisabledThreshold(t *testing.T) {
	got := DetectPending(Timeline{Placed: base}, base.Add(48*time.Hour), &Thresholds{})
	if got.IsPending() {
		t.Fatalf("zero dwell time must disable pending, got %+v", got)
	}
	if got := DetectPending(Timeline{Placed: base}, base.Add(48*time.Hour), nil); got.IsPending() {
		t.Fatalf("nil config must not be pending")
	}
}

func TestClassify_TalliesAlwaysBalance(t *testing.T) {
	th := &Thresholds{ProcessedMinutes: 60, ShippedMinutes: 120, DeliveredMinutes: 180, RiskPct: 80}
	now := *at(400)
	var tally Tally
	for i := 0; i < 300; i += 7 {
		tl := Timeline{Placed: base.Add(time.Duration(i) * time.Minute)}
		if i%3 == 0 {
			tl.Processed = at(i + 5)
		}
		if i%5 == 0 {
			tl.Shipped = at(i + 40)
		}
		if i%11 == 0 {
			tl.Delivered = at(i + 170)
		}
		cfg := th
		if i%13 == 0 {
			cfg = nil
		}
		tally.Add(Classify(tl, cfg, now).SlaStatus)
	}
	if tally.OnTime+tally.AtRisk+tally.Breached+tally.Unknown != tally.Total {
		t.Fatalf("tally does not balance: %+v", tally)
	}
	if tally.Unknown == 0 {
		t.Fatalf("expected some unknown classifications, got %+v", tally)
	}
}

func TestClassify_PendingScenario(t *testing.T) {
	th := &Thresholds{ProcessedMinutes: 60, PendingNotProcessedMinutes: 120, RiskPct: 80}
	c := Classify(Timeline{Placed: base}, th, base.Add(3*time.Hour))
	if c.Stage != StageNotProcessed || c.PendingStatus != PendingStatusPending || c.PendingHours != 3 {
		t.Fatalf("unexpected classification: %+v", c)
	}
	if c.SlaStatus != StatusBreached {
		t.Fatalf("expected Breached, got %s", c.SlaStatus)
	}
}
