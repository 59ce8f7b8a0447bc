package models

import (
	"strings"
	"time"

	"github.com/mmdatafocus/sla_dashboard/sla"
	"github.com/shopspring/decimal"
)

// DefaultConfirmedMarker is the confirmation_status value that counts an order toward SLA metrics.
const DefaultConfirmedMarker = "Confirmed"

// Order is one fulfilled order in a per brand/country analytics table
// (orders_<brand>_<country>). It has no fixed table name; callers always go
// through an OrderTable from the registry.
//
// processed_tat / shipped_tat / delivered_tat hold the realized turnaround
// formatted as "<d> d, <h> h, <m> m", derived at sync time. SLA classification
// is never stored here because it depends on the current time.
type Order struct {
	OrderNo            string          `gorm:"column:order_no;primaryKey;size:64" json:"order_no"`
	OrderStatus        string          `gorm:"column:order_status;size:64" json:"order_status"`
	ShippingStatus     string          `gorm:"column:shipping_status;size:64" json:"shipping_status"`
	ConfirmationStatus string          `gorm:"column:confirmation_status;size:64" json:"confirmation_status"`
	BrandCode          string          `gorm:"column:brand_code;size:32" json:"brand_code"`
	CountryCode        string          `gorm:"column:country_code;size:8" json:"country_code"`
	PlacedTime         time.Time       `gorm:"column:placed_time;not null" json:"placed_time"`
	ProcessedTime      *time.Time      `gorm:"column:processed_time" json:"processed_time"`
	ShippedTime        *time.Time      `gorm:"column:shipped_time" json:"shipped_time"`
	DeliveredTime      *time.Time      `gorm:"column:delivered_time" json:"delivered_time"`
	ProcessedTat       *string         `gorm:"column:processed_tat;size:32" json:"processed_tat"`
	ShippedTat         *string         `gorm:"column:shipped_tat;size:32" json:"shipped_tat"`
	DeliveredTat       *string         `gorm:"column:delivered_tat;size:32" json:"delivered_tat"`
	Amount             decimal.Decimal `gorm:"column:amount;type:decimal(20,4);default:0" json:"amount"`
	Currency           string          `gorm:"column:currency;size:8" json:"currency"`
	UpdatedAt          time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

// Timeline returns the lifecycle timestamps for classification.
func (o Order) Timeline() sla.Timeline {
	return sla.Timeline{
		Placed:    o.PlacedTime,
		Processed: o.ProcessedTime,
		Shipped:   o.ShippedTime,
		Delivered: o.DeliveredTime,
	}
}

// IsConfirmed compares confirmation_status to marker, ignoring case and padding.
func (o Order) IsConfirmed(marker string) bool {
	if strings.TrimSpace(marker) == "" {
		marker = DefaultConfirmedMarker
	}
	return strings.EqualFold(strings.TrimSpace(o.ConfirmationStatus), strings.TrimSpace(marker))
}

// DeriveRealizedTat fills processed/shipped/delivered TAT from the timestamps.
// Unreached stages are left nil.
func (o *Order) DeriveRealizedTat() {
	tl := o.Timeline()
	o.ProcessedTat = realizedTat(tl, sla.StageProcessed)
	o.ShippedTat = realizedTat(tl, sla.StageShipped)
	o.DeliveredTat = realizedTat(tl, sla.StageDelivered)
}

func realizedTat(tl sla.Timeline, stage sla.Stage) *string {
	minutes, ok := tl.RealizedMinutes(stage)
	if !ok {
		return nil
	}
	s := sla.FormatTat(minutes)
	return &s
}
