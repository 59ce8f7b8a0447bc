package etlsync

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/utils"
	"gorm.io/gorm"
)

// Publisher hands a job to the async worker; config.PublishJob in production.
type Publisher func(ctx context.Context, msg config.JobMessage) (string, error)

// TriggerSyncHandler runs a sync job. With "async": true the run is queued and
// published instead, and the handler answers 202 with the run id.
// Synchronous runs answer 200, or 207 when any table or row failed.
func TriggerSyncHandler(s *Synchronizer, publish Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		if err := utils.ValidateStruct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		ctx := c.Request.Context()
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

		if req.Async && publish != nil {
			run := models.SyncRun{
				Status:        models.SyncRunStatusQueued,
				TriggeredBy:   models.SyncTriggeredPubSub,
				CorrelationId: correlationId,
				BrandFilter:   req.Brand,
				CountryFilter: req.Country,
				Force:         req.Force,
			}
			if err := s.Target.WithContext(ctx).Create(&run).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if _, err := publish(ctx, config.JobMessage{
				Job:           models.JobTypeSync,
				Brand:         req.Brand,
				Country:       req.Country,
				Force:         req.Force,
				CorrelationId: correlationId,
				RunId:         run.ID,
			}); err != nil {
				config.LogError(s.logger(), "handlers.go", "TriggerSyncHandler", "publish", run.ID, err)
				s.Target.WithContext(ctx).Model(&run).Update("status", models.SyncRunStatusFailed)
				c.JSON(http.StatusBadGateway, gin.H{"error": "could not queue sync job"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"id": run.ID, "status": run.Status})
			return
		}

		req.TriggeredBy = models.SyncTriggeredManual
		result, err := s.Run(ctx, req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "run_id": result.RunId})
			return
		}
		status := http.StatusOK
		if result.HasFailures() || result.Canceled {
			status = http.StatusMultiStatus
		}
		c.JSON(status, result)
	}
}

func SyncHistoryHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		query := db.WithContext(c.Request.Context()).Order("id desc").Limit(limit)
		if status := strings.TrimSpace(c.Query("status")); status != "" {
			query = query.Where("status = ?", status)
		}
		var runs []models.SyncRun
		if err := query.Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		tx := db.WithContext(c.Request.Context())

		var run models.SyncRun
		if err := tx.Where("id = ?", id).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var tables []models.SyncRunTable
		if err := tx.Where("sync_run_id = ?", run.ID).Order("id").Find(&tables).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		var errs []models.SyncRunError
		if err := tx.Where("sync_run_id = ?", run.ID).Order("id desc").Limit(500).Find(&errs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Tables:          mapTables(tables),
			Errors:          mapErrors(errs),
		})
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		TriggeredBy:   run.TriggeredBy,
		CorrelationId: run.CorrelationId,
		Brand:         run.BrandFilter,
		Country:       run.CountryFilter,
		Force:         run.Force,
		TablesTotal:   run.TablesTotal,
		TablesFailed:  run.TablesFailed,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
	}
}

func mapTables(rows []models.SyncRunTable) []TableResult {
	out := make([]TableResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, TableResult{
			SourceTable:    r.SourceTable,
			TargetTable:    r.TargetTable,
			Brand:          r.BrandCode,
			Country:        r.CountryCode,
			ProcessedCount: r.ProcessedCount,
			FailedCount:    r.FailedCount,
			Success:        r.Success,
			Error:          r.Error,
		})
	}
	return out
}

func mapErrors(errorsList []models.SyncRunError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:          errItem.ID,
			SourceTable: errItem.SourceTable,
			OrderNo:     errItem.OrderNo,
			ErrorCode:   errItem.ErrorCode,
			Message:     errItem.Message,
		})
	}
	return out
}
