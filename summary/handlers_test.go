package summary

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sla_dashboard/models"
)

func newSummaryRouter(a *Aggregator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/sla/summaries/generate", GenerateHandler(a))
	r.POST("/api/sla/summaries/cleanup", CleanupHandler(a))
	r.GET("/api/sla/summaries/integrity", IntegrityHandler(a))
	r.GET("/api/sla/summaries/cleanup/runs", CleanupRunsHandler(a))
	return r
}

func send(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGenerateHandler(t *testing.T) {
	a, db := newTestAggregator(t)
	seedConfig(t, db, "VS", "MY")
	seedOrders(t, db, vsMy, testOrders())
	r := newSummaryRouter(a)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid country", `{"country":"m-y"}`, http.StatusBadRequest},
		{"malformed body", `{"force":`, http.StatusBadRequest},
		{"empty body", "", http.StatusOK},
		{"forced", `{"force":true,"brand":"vs"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := send(r, http.MethodPost, "/api/sla/summaries/generate", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if rows := loadSummaries(t, db, "VS"); len(rows) != 3 {
		t.Fatalf("got %d summary rows, want 3", len(rows))
	}
}

func TestCleanupHandler_RecordsRun(t *testing.T) {
	a, db := newTestAggregator(t)
	stale := models.SlaDailySummary{SummaryDate: day(2025, 6, 1), BrandCode: "ZZ", CountryCode: "SG", Stage: "Processed", OrdersTotal: 1, OrdersOnTime: 1, RefreshedAt: refreshNow}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("insert stale: %v", err)
	}
	r := newSummaryRouter(a)

	w := send(r, http.MethodPost, "/api/sla/summaries/cleanup", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	var result CleanupResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.RowsDeleted != 1 || result.RunId == 0 {
		t.Fatalf("result = %+v", result)
	}

	w = send(r, http.MethodGet, "/api/sla/summaries/cleanup/runs?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("runs status = %d", w.Code)
	}
	var runs struct {
		Items []models.CleanupRun `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs.Items) != 1 || runs.Items[0].RowsDeleted != 1 || runs.Items[0].TriggeredBy != models.SyncTriggeredManual {
		t.Fatalf("runs = %+v", runs.Items)
	}

	w = send(r, http.MethodGet, "/api/sla/summaries/integrity", "")
	if w.Code != http.StatusOK {
		t.Fatalf("integrity status = %d", w.Code)
	}
	var report IntegrityReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.SummaryRows != 0 || len(report.Orphans) != 0 {
		t.Fatalf("report = %+v", report)
	}
}
