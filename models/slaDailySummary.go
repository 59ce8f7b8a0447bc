package models

import "time"

// SlaDailySummary is derived data: per (date, brand, country, stage) counts of
// orders classified by their realized TAT when they crossed the stage.
//
// Healthy rows satisfy orders_on_time + orders_on_risk + orders_breached == orders_total;
// orders without a TatConfig are counted in orders_total only, so a missing
// config shows up as an imbalance.
//
// Rows for a (brand, country) are always regenerated together, never patched.
type SlaDailySummary struct {
	SummaryDate    time.Time `gorm:"primaryKey;type:date;index:idx_sds_brand_country_date,priority:3" json:"summary_date"`
	BrandCode      string    `gorm:"primaryKey;size:32;index:idx_sds_brand_country_date,priority:1" json:"brand_code"`
	CountryCode    string    `gorm:"primaryKey;size:8;index:idx_sds_brand_country_date,priority:2" json:"country_code"`
	Stage          string    `gorm:"primaryKey;size:32" json:"stage"`
	OrdersTotal    int       `gorm:"not null;default:0" json:"orders_total"`
	OrdersOnTime   int       `gorm:"not null;default:0" json:"orders_on_time"`
	OrdersOnRisk   int       `gorm:"not null;default:0" json:"orders_on_risk"`
	OrdersBreached int       `gorm:"not null;default:0" json:"orders_breached"`
	AvgDelaySec    float64   `gorm:"not null;default:0" json:"avg_delay_sec"`
	RefreshedAt    time.Time `json:"refreshed_at"`
}

// Balanced reports whether the status counts add up to the total.
func (s SlaDailySummary) Balanced() bool {
	return s.OrdersOnTime+s.OrdersOnRisk+s.OrdersBreached == s.OrdersTotal
}
