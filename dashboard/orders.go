package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/mmdatafocus/sla_dashboard/models"
)

// OrderResponse is one drill-down row.
type OrderResponse struct {
	Table          string  `json:"table"`
	OrderNo        string  `json:"order_no"`
	BrandCode      string  `json:"brand_code"`
	CountryCode    string  `json:"country_code"`
	OrderStatus    string  `json:"order_status"`
	ShippingStatus string  `json:"shipping_status"`
	PlacedTime     string  `json:"placed_time"`
	ProcessedTime  *string `json:"processed_time"`
	ShippedTime    *string `json:"shipped_time"`
	DeliveredTime  *string `json:"delivered_time"`
	ProcessedTat   *string `json:"processed_tat"`
	ShippedTat     *string `json:"shipped_tat"`
	DeliveredTat   *string `json:"delivered_tat"`
	Amount         string  `json:"amount"`
	Currency       string  `json:"currency"`
	Stage          string  `json:"stage"`
	SlaStatus      string  `json:"sla_status"`
	PendingStatus  string  `json:"pending_status"`
	PendingHours   float64 `json:"pending_hours"`
	BreachSeverity string  `json:"breach_severity"`
}

type OrderListResponse struct {
	Items    []OrderResponse `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	AsOf     string          `json:"as_of"`
}

// FindOrders returns every confirmed order in scope that matches f, newest
// placed first.
func (s *Service) FindOrders(ctx context.Context, f OrderFilter) ([]ClassifiedOrder, error) {
	matched, _, err := s.collectOrders(ctx, f, 0)
	return matched, err
}

// collectOrders streams the orders matching f and keeps only the newest
// limit of them (all when limit <= 0), so memory stays bounded by the page
// being served rather than by table size. total counts every match.
func (s *Service) collectOrders(ctx context.Context, f OrderFilter, limit int) ([]ClassifiedOrder, int, error) {
	kept := make([]ClassifiedOrder, 0)
	total := 0
	err := s.eachOrder(ctx, f, func(_ models.OrderTable, co ClassifiedOrder) {
		if !f.Matches(co.Classification) {
			return
		}
		total++
		kept = append(kept, co)
		if limit > 0 && len(kept) >= 2*limit {
			sortNewestFirst(kept)
			kept = kept[:limit]
		}
	})
	if err != nil {
		return nil, 0, err
	}
	sortNewestFirst(kept)
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, total, nil
}

func sortNewestFirst(orders []ClassifiedOrder) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].PlacedTime.Equal(orders[j].PlacedTime) {
			return orders[i].PlacedTime.After(orders[j].PlacedTime)
		}
		if orders[i].Table != orders[j].Table {
			return orders[i].Table < orders[j].Table
		}
		return orders[i].OrderNo < orders[j].OrderNo
	})
}

// ListOrders is FindOrders with pagination.
func (s *Service) ListOrders(ctx context.Context, f OrderFilter) (OrderListResponse, error) {
	page, size := f.page()
	kept, total, err := s.collectOrders(ctx, f, page*size)
	if err != nil {
		return OrderListResponse{}, err
	}
	resp := OrderListResponse{
		Items:    make([]OrderResponse, 0, size),
		Total:    total,
		Page:     page,
		PageSize: size,
		AsOf:     formatTime(s.now()),
	}
	start := (page - 1) * size
	if start >= len(kept) {
		return resp, nil
	}
	for _, co := range kept[start:] {
		resp.Items = append(resp.Items, mapOrderToResponse(co))
	}
	return resp, nil
}

func mapOrderToResponse(co ClassifiedOrder) OrderResponse {
	return OrderResponse{
		Table:          co.Table,
		OrderNo:        co.OrderNo,
		BrandCode:      co.BrandCode,
		CountryCode:    co.CountryCode,
		OrderStatus:    co.OrderStatus,
		ShippingStatus: co.ShippingStatus,
		PlacedTime:     formatTime(co.PlacedTime),
		ProcessedTime:  formatTimePtr(co.ProcessedTime),
		ShippedTime:    formatTimePtr(co.ShippedTime),
		DeliveredTime:  formatTimePtr(co.DeliveredTime),
		ProcessedTat:   co.ProcessedTat,
		ShippedTat:     co.ShippedTat,
		DeliveredTat:   co.DeliveredTat,
		Amount:         co.Amount.StringFixed(2),
		Currency:       co.Currency,
		Stage:          co.Stage.String(),
		SlaStatus:      co.SlaStatus.String(),
		PendingStatus:  string(co.PendingStatus),
		PendingHours:   co.PendingHours,
		BreachSeverity: co.BreachSeverity.String(),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := formatTime(*t)
	return &s
}
