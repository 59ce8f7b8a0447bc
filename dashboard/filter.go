package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/sla_dashboard/sla"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	dateLayout      = "2006-01-02"
)

// OrderFilter is the query string shared by the KPI, drill-down and export
// endpoints. From and To are inclusive local calendar days on placed_time.
type OrderFilter struct {
	Brand          string `form:"brand" json:"brand" validate:"omitempty,alphanum,max=32"`
	Country        string `form:"country" json:"country" validate:"omitempty,alpha,min=2,max=3"`
	Stage          string `form:"stage" json:"stage" validate:"omitempty,oneof='Not Processed' 'Processed' 'Shipped' 'Delivered'"`
	SlaStatus      string `form:"sla_status" json:"sla_status" validate:"omitempty,oneof='On Time' 'At Risk' 'Breached' 'Unknown'"`
	PendingStatus  string `form:"pending_status" json:"pending_status" validate:"omitempty,oneof=pending normal"`
	BreachSeverity string `form:"breach_severity" json:"breach_severity" validate:"omitempty,oneof=None Urgent Critical"`
	From           string `form:"from" json:"from" validate:"omitempty,datetime=2006-01-02"`
	To             string `form:"to" json:"to" validate:"omitempty,datetime=2006-01-02"`
	Page           int    `form:"page" json:"page" validate:"omitempty,min=1"`
	PageSize       int    `form:"page_size" json:"page_size" validate:"omitempty,min=1,max=500"`
}

// placedRange converts From/To into a half-open [from, to) window in loc.
func (f OrderFilter) placedRange(loc *time.Location) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if f.From != "" {
		d, err := time.ParseInLocation(dateLayout, f.From, loc)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid from date %q: %w", f.From, err)
		}
		d = d.UTC()
		from = &d
	}
	if f.To != "" {
		d, err := time.ParseInLocation(dateLayout, f.To, loc)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid to date %q: %w", f.To, err)
		}
		d = d.AddDate(0, 0, 1).UTC()
		to = &d
	}
	if from != nil && to != nil && !from.Before(*to) {
		return nil, nil, fmt.Errorf("from %s is after to %s", f.From, f.To)
	}
	return from, to, nil
}

// stageScope narrows a query to the rows whose timestamps resolve to the
// requested stage, mirroring sla.ResolveStage. No stage means no condition.
func (f OrderFilter) stageScope(db *gorm.DB) *gorm.DB {
	switch sla.Stage(f.Stage) {
	case sla.StageDelivered:
		return db.Where("delivered_time IS NOT NULL")
	case sla.StageShipped:
		return db.Where("delivered_time IS NULL AND shipped_time IS NOT NULL")
	case sla.StageProcessed:
		return db.Where("delivered_time IS NULL AND shipped_time IS NULL AND processed_time IS NOT NULL")
	case sla.StageNotProcessed:
		return db.Where("delivered_time IS NULL AND shipped_time IS NULL AND processed_time IS NULL")
	}
	return db
}

// Matches applies the classification filters. Brand, country, dates and
// stage are already narrowed in SQL by the loader.
func (f OrderFilter) Matches(c sla.Classification) bool {
	if f.Stage != "" && !strings.EqualFold(f.Stage, c.Stage.String()) {
		return false
	}
	if f.SlaStatus != "" && !strings.EqualFold(f.SlaStatus, c.SlaStatus.String()) {
		return false
	}
	if f.PendingStatus != "" && !strings.EqualFold(f.PendingStatus, string(c.PendingStatus)) {
		return false
	}
	if f.BreachSeverity != "" && !strings.EqualFold(f.BreachSeverity, c.BreachSeverity.String()) {
		return false
	}
	return true
}

func (f OrderFilter) page() (page, size int) {
	page, size = f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
