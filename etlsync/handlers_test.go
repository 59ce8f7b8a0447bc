package etlsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newSyncRouter(s *Synchronizer, publish Publisher) *gin.Engine {
	r := gin.New()
	r.POST("/api/sla/sync", TriggerSyncHandler(s, publish))
	r.GET("/api/sla/sync/runs", SyncHistoryHandler(s.Target))
	r.GET("/api/sla/sync/runs/:id", SyncRunDetailHandler(s.Target))
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerSyncHandler_PartialFailureReturns207(t *testing.T) {
	s, source, _ := newTestSynchronizer(t)
	seedAliasTable(t, source)
	mustExec(t, source, `CREATE TABLE orders_ab_sg (reference TEXT, created_at DATETIME)`)
	r := newSyncRouter(s, nil)

	w := doJSON(r, http.MethodPost, "/api/sla/sync", map[string]interface{}{"force": true})
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d, want 207; body %s", w.Code, w.Body.String())
	}
	var res Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Tables) != 2 || res.TablesFailed != 1 {
		t.Fatalf("result = %+v", res)
	}

	w = doJSON(r, http.MethodGet, "/api/sla/sync/runs/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detail status = %d", w.Code)
	}
	var detail SyncRunDetailResponse
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Status != models.SyncRunStatusPartial || len(detail.Tables) != 2 {
		t.Fatalf("detail = %+v", detail)
	}
}

func TestTriggerSyncHandler_SuccessReturns200(t *testing.T) {
	s, source, _ := newTestSynchronizer(t)
	seedAliasTable(t, source)
	r := newSyncRouter(s, nil)

	w := doJSON(r, http.MethodPost, "/api/sla/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/api/sla/sync/runs?limit=5", nil)
	var history SyncHistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history.Items) != 1 || history.Items[0].RecordsSynced != 3 {
		t.Fatalf("history = %+v", history)
	}
}

func TestTriggerSyncHandler_RejectsInvalidFilters(t *testing.T) {
	s, _, _ := newTestSynchronizer(t)
	r := newSyncRouter(s, nil)

	w := doJSON(r, http.MethodPost, "/api/sla/sync", map[string]interface{}{"country": "m-y"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestTriggerSyncHandler_AsyncQueuesAndPublishes(t *testing.T) {
	s, _, target := newTestSynchronizer(t)
	var published []config.JobMessage
	publish := func(ctx context.Context, msg config.JobMessage) (string, error) {
		published = append(published, msg)
		return "msg-1", nil
	}
	r := newSyncRouter(s, publish)

	w := doJSON(r, http.MethodPost, "/api/sla/sync", map[string]interface{}{"async": true, "brand": "VS"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(published) != 1 || published[0].Job != models.JobTypeSync || published[0].RunId == 0 || published[0].Brand != "VS" {
		t.Fatalf("published = %+v", published)
	}
	var run models.SyncRun
	if err := target.Take(&run, published[0].RunId).Error; err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.Status != models.SyncRunStatusQueued {
		t.Fatalf("run status = %s, want queued", run.Status)
	}
}

func TestTriggerSyncHandler_PublishFailureMarksRunFailed(t *testing.T) {
	s, _, target := newTestSynchronizer(t)
	publish := func(ctx context.Context, msg config.JobMessage) (string, error) {
		return "", errors.New("topic not found")
	}
	r := newSyncRouter(s, publish)

	w := doJSON(r, http.MethodPost, "/api/sla/sync", map[string]interface{}{"async": true})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	var run models.SyncRun
	if err := target.Order("id desc").Take(&run).Error; err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.Status != models.SyncRunStatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
}

func pushBody(t *testing.T, msg config.JobMessage) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return map[string]interface{}{
		"message":      map[string]interface{}{"data": data, "messageId": "1"},
		"subscription": "projects/p/subscriptions/sla-jobs-push",
	}
}

func TestPubSubPushHandler_RunsQueuedSyncOnce(t *testing.T) {
	s, source, target := newTestSynchronizer(t)
	seedAliasTable(t, source)
	run := models.SyncRun{Status: models.SyncRunStatusQueued, TriggeredBy: models.SyncTriggeredPubSub}
	if err := target.Create(&run).Error; err != nil {
		t.Fatalf("create run: %v", err)
	}

	r := gin.New()
	r.POST("/pubsub/sla-jobs", PubSubPushHandler(nil, map[string]JobHandler{models.JobTypeSync: s.RunJob}))
	body := pushBody(t, config.JobMessage{Job: models.JobTypeSync, RunId: run.ID, CorrelationId: "c-1"})

	for i := 0; i < 2; i++ {
		w := doJSON(r, http.MethodPost, "/pubsub/sla-jobs", body)
		if w.Code != http.StatusNoContent {
			t.Fatalf("delivery %d: status = %d, want 204", i, w.Code)
		}
	}

	if err := target.Take(&run, run.ID).Error; err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if run.Status != models.SyncRunStatusSuccess || run.RecordsSynced != 3 {
		t.Fatalf("run = %+v", run)
	}
	var tables int64
	target.Model(&models.SyncRunTable{}).Where("sync_run_id = ?", run.ID).Count(&tables)
	if tables != 1 {
		t.Fatalf("redelivery ran the job again: %d table records", tables)
	}
}

func TestPubSubPushHandler_IgnoresGarbage(t *testing.T) {
	called := false
	r := gin.New()
	r.POST("/pubsub/sla-jobs", PubSubPushHandler(nil, map[string]JobHandler{
		models.JobTypeSync: func(ctx context.Context, msg config.JobMessage) error {
			called = true
			return nil
		},
	}))

	for _, body := range []interface{}{
		"not an envelope",
		pushBody(t, config.JobMessage{Job: "reindex"}),
	} {
		w := doJSON(r, http.MethodPost, "/pubsub/sla-jobs", body)
		if w.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", w.Code)
		}
	}
	if called {
		t.Fatalf("handler ran for an invalid delivery")
	}
}
