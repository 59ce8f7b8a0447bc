package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/sla"
)

const maxSummaryRows = 5000

type SummaryFilter struct {
	Brand   string `form:"brand" validate:"omitempty,alphanum,max=32"`
	Country string `form:"country" validate:"omitempty,alpha,min=2,max=3"`
	Stage   string `form:"stage" validate:"omitempty,oneof=Processed Shipped Delivered"`
	From    string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To      string `form:"to" validate:"omitempty,datetime=2006-01-02"`
}

type SummaryResponse struct {
	SummaryDate    string  `json:"summary_date"`
	BrandCode      string  `json:"brand_code"`
	CountryCode    string  `json:"country_code"`
	Stage          string  `json:"stage"`
	OrdersTotal    int     `json:"orders_total"`
	OrdersOnTime   int     `json:"orders_on_time"`
	OrdersOnRisk   int     `json:"orders_on_risk"`
	OrdersBreached int     `json:"orders_breached"`
	AvgDelaySec    float64 `json:"avg_delay_sec"`
	Balanced       bool    `json:"balanced"`
	RefreshedAt    string  `json:"refreshed_at"`
}

type SummaryListResponse struct {
	Items []SummaryResponse `json:"items"`
}

// Summaries reads stored daily summary rows, oldest day first.
func (s *Service) Summaries(ctx context.Context, f SummaryFilter) (SummaryListResponse, error) {
	query := s.DB.WithContext(ctx).Model(&models.SlaDailySummary{})
	if f.Brand != "" {
		query = query.Where("UPPER(brand_code) = ?", strings.ToUpper(f.Brand))
	}
	if f.Country != "" {
		query = query.Where("UPPER(country_code) = ?", strings.ToUpper(f.Country))
	}
	if f.Stage != "" {
		query = query.Where("stage = ?", f.Stage)
	}
	if f.From != "" {
		d, err := time.Parse(dateLayout, f.From)
		if err != nil {
			return SummaryListResponse{}, fmt.Errorf("invalid from date %q: %w", f.From, err)
		}
		query = query.Where("summary_date >= ?", d)
	}
	if f.To != "" {
		d, err := time.Parse(dateLayout, f.To)
		if err != nil {
			return SummaryListResponse{}, fmt.Errorf("invalid to date %q: %w", f.To, err)
		}
		query = query.Where("summary_date < ?", d.AddDate(0, 0, 1))
	}

	var rows []models.SlaDailySummary
	if err := query.Order("summary_date, brand_code, country_code, stage").Limit(maxSummaryRows).Find(&rows).Error; err != nil {
		return SummaryListResponse{}, fmt.Errorf("load summaries: %w", err)
	}

	resp := SummaryListResponse{Items: make([]SummaryResponse, 0, len(rows))}
	for _, r := range rows {
		resp.Items = append(resp.Items, SummaryResponse{
			SummaryDate:    r.SummaryDate.Format(dateLayout),
			BrandCode:      r.BrandCode,
			CountryCode:    r.CountryCode,
			Stage:          r.Stage,
			OrdersTotal:    r.OrdersTotal,
			OrdersOnTime:   r.OrdersOnTime,
			OrdersOnRisk:   r.OrdersOnRisk,
			OrdersBreached: r.OrdersBreached,
			AvgDelaySec:    r.AvgDelaySec,
			Balanced:       r.Balanced(),
			RefreshedAt:    formatTime(r.RefreshedAt),
		})
	}
	return resp, nil
}

// TatConfigResponse shows a config next to the minutes it parses to, so a
// malformed duration (parsed as 0) is visible.
type TatConfigResponse struct {
	models.TatConfig
	Minutes    sla.Thresholds    `json:"minutes"`
	Formatted  map[string]string `json:"formatted"`
	OrderTable *string           `json:"order_table"`
}

// TatConfigs lists every TatConfig with its parsed thresholds and the order
// table it applies to, if one exists.
func (s *Service) TatConfigs(ctx context.Context) ([]TatConfigResponse, error) {
	idx, err := models.LoadTatConfigIndex(ctx, s.DB, s.Redis, s.Settings.TatCacheTTL)
	if err != nil {
		return nil, err
	}
	registry, err := models.DiscoverOrderTables(ctx, s.DB)
	if err != nil {
		return nil, fmt.Errorf("discover order tables: %w", err)
	}

	rows := idx.Rows()
	out := make([]TatConfigResponse, 0, len(rows))
	for _, c := range rows {
		th := c.Thresholds()
		item := TatConfigResponse{
			TatConfig: c,
			Minutes:   th,
			Formatted: map[string]string{
				"processed": sla.FormatTat(th.ProcessedMinutes),
				"shipped":   sla.FormatTat(th.ShippedMinutes),
				"delivered": sla.FormatTat(th.DeliveredMinutes),
			},
		}
		if t, ok := registry.Lookup(c.BrandCode, c.CountryCode); ok {
			name := t.Name
			item.OrderTable = &name
		}
		out = append(out, item)
	}
	return out, nil
}
