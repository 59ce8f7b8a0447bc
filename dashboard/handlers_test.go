package dashboard

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newDashboardRouter(s *Service) *gin.Engine {
	r := gin.New()
	RegisterRoutes(r.Group("/api/sla"), s)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestKpiHandler(t *testing.T) {
	s, _ := newTestService(t)
	r := newDashboardRouter(s)

	w := get(r, "/api/sla/kpis?country=my")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	var resp KpiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Overall.Sla.Total != 4 || len(resp.Groups) != 1 || resp.AsOf != "2025-07-01T10:00:00Z" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestOrdersHandler_RejectsInvalidQuery(t *testing.T) {
	s, _ := newTestService(t)
	r := newDashboardRouter(s)

	tests := []struct {
		name string
		path string
	}{
		{"unknown status", "/api/sla/orders?sla_status=Late"},
		{"bad date", "/api/sla/orders?from=01-07-2025"},
		{"page size", "/api/sla/orders?page_size=1000"},
		{"country", "/api/sla/orders?country=m-y"},
		{"page type", "/api/sla/orders?page=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.path)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestOrdersHandler_FiltersByStatus(t *testing.T) {
	s, _ := newTestService(t)
	r := newDashboardRouter(s)

	w := get(r, "/api/sla/orders?sla_status=At%20Risk&page_size=1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	var resp OrderListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || len(resp.Items) != 1 || resp.Items[0].OrderNo != "N-1" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Items[0].SlaStatus != "At Risk" || resp.Items[0].Stage != "Not Processed" || resp.Items[0].ProcessedTime != nil {
		t.Fatalf("item = %+v", resp.Items[0])
	}
}

func TestExportOrdersHandler_WritesWorkbook(t *testing.T) {
	s, _ := newTestService(t)
	r := newDashboardRouter(s)

	w := get(r, "/api/sla/orders/export?brand=vs")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Fatalf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment; filename=sla_orders_") {
		t.Fatalf("content disposition = %q", cd)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want header + 4", len(rows))
	}
	if rows[0][1] != "Order No" || rows[1][1] != "N-1" || rows[4][1] != "D-1" {
		t.Fatalf("rows = %v", rows)
	}
	if rows[3][16] != "Breached" || rows[3][19] != "Critical" {
		t.Fatalf("P-1 row = %v", rows[3])
	}
}

func TestSummariesHandler_RejectsNotProcessedStage(t *testing.T) {
	s, _ := newTestService(t)
	r := newDashboardRouter(s)

	if w := get(r, "/api/sla/summaries?stage=Not%20Processed"); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	w := get(r, "/api/sla/summaries?stage=Shipped")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	var resp SummaryListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Items == nil || len(resp.Items) != 0 {
		t.Fatalf("items = %+v", resp.Items)
	}
}

func TestTatConfigsHandler(t *testing.T) {
	s, _ := newTestService(t)
	r := newDashboardRouter(s)

	w := get(r, "/api/sla/tat-configs")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Items []TatConfigResponse `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].BrandCode != "VS" || resp.Items[0].Minutes.DeliveredMinutes != 1440 {
		t.Fatalf("items = %+v", resp.Items)
	}
}
