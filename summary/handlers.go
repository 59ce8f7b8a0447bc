package summary

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/utils"
)

// GenerateHandler answers 200 when every table generated or was skipped,
// 207 when some table failed.
func GenerateHandler(a *Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GenerateRequest
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

		result, err := a.Generate(c.Request.Context(), req)
		if err != nil {
			config.LogError(a.logger(), "handlers.go", "GenerateHandler", "Generate", req, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		status := http.StatusOK
		if result.TablesFailed > 0 || result.Canceled {
			status = http.StatusMultiStatus
		}
		c.JSON(status, result)
	}
}

func CleanupHandler(a *Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := a.Cleanup(c.Request.Context())
		if err != nil {
			if errors.Is(err, utils.ErrJobLocked) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			config.LogError(a.logger(), "handlers.go", "CleanupHandler", "Cleanup", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func IntegrityHandler(a *Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := a.Integrity(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// CleanupRunsHandler lists recent cleanup runs, newest first.
func CleanupRunsHandler(a *Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		runs := make([]models.CleanupRun, 0)
		if err := a.DB.WithContext(c.Request.Context()).Order("id desc").Limit(limit).Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": runs})
	}
}
