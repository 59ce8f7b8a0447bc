package summary

import (
	"sort"
	"time"

	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/sla"
)

// summaryStages are the checkpoints an order crosses; NotProcessed is a
// starting state, not a checkpoint, and is never summarized.
var summaryStages = []sla.Stage{sla.StageProcessed, sla.StageShipped, sla.StageDelivered}

type bucketKey struct {
	day   time.Time
	stage sla.Stage
}

type bucket struct {
	tally      sla.Tally
	delaySum   time.Duration
	delayCount int
}

// Builder accumulates orders of one order table into daily summary rows.
type Builder struct {
	Brand       string
	Country     string
	Thresholds  *sla.Thresholds
	Location    *time.Location
	RefreshedAt time.Time

	buckets map[bucketKey]*bucket
	scanned int
}

func NewBuilder(table models.OrderTable, th *sla.Thresholds, loc *time.Location, refreshedAt time.Time) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{
		Brand:       table.Brand,
		Country:     table.Country,
		Thresholds:  th,
		Location:    loc,
		RefreshedAt: refreshedAt,
		buckets:     map[bucketKey]*bucket{},
	}
}

// Add classifies every stage the order has crossed against that stage's own
// target, bucketed by the local calendar day of the stage timestamp.
func (b *Builder) Add(o models.Order) {
	b.scanned++
	tl := o.Timeline()
	for _, stage := range summaryStages {
		status, delay, ok := sla.ClassifyRealized(stage, tl, b.Thresholds)
		if !ok {
			continue
		}
		key := bucketKey{day: localDay(*tl.StageTime(stage), b.Location), stage: stage}
		bk := b.buckets[key]
		if bk == nil {
			bk = &bucket{}
			b.buckets[key] = bk
		}
		bk.tally.Add(status)
		if status == sla.StatusBreached {
			bk.delaySum += delay
			bk.delayCount++
		}
	}
}

// Scanned is the number of orders added.
func (b *Builder) Scanned() int { return b.scanned }

// Rows returns the summary rows sorted by day then stage. Unknown orders
// (no TatConfig) are counted in orders_total only. avg_delay_sec averages
// the overrun of breached orders.
func (b *Builder) Rows() []models.SlaDailySummary {
	rows := make([]models.SlaDailySummary, 0, len(b.buckets))
	for key, bk := range b.buckets {
		avg := 0.0
		if bk.delayCount > 0 {
			avg = bk.delaySum.Seconds() / float64(bk.delayCount)
		}
		rows = append(rows, models.SlaDailySummary{
			SummaryDate:    key.day,
			BrandCode:      b.Brand,
			CountryCode:    b.Country,
			Stage:          key.stage.String(),
			OrdersTotal:    bk.tally.Total,
			OrdersOnTime:   bk.tally.OnTime,
			OrdersOnRisk:   bk.tally.AtRisk,
			OrdersBreached: bk.tally.Breached,
			AvgDelaySec:    avg,
			RefreshedAt:    b.RefreshedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].SummaryDate.Equal(rows[j].SummaryDate) {
			return rows[i].SummaryDate.Before(rows[j].SummaryDate)
		}
		return sla.Stage(rows[i].Stage).Rank() < sla.Stage(rows[j].Stage).Rank()
	})
	return rows
}

// localDay is the calendar day of t in loc, as midnight UTC so it compares
// equal regardless of the database session time zone.
func localDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
