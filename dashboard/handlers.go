package dashboard

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// bindQuery binds and validates query parameters into dst, answering 400 on failure.
func bindQuery(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query", "fields": utils.ProcessValidationErrors(err)})
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query", "fields": utils.ProcessValidationErrors(err)})
		return false
	}
	return true
}

func KpiHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f OrderFilter
		if !bindQuery(c, &f) {
			return
		}
		resp, err := s.Kpis(c.Request.Context(), f)
		if err != nil {
			config.LogError(s.logger(), "handlers.go", "KpiHandler", "Kpis", f, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func OrdersHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f OrderFilter
		if !bindQuery(c, &f) {
			return
		}
		resp, err := s.ListOrders(c.Request.Context(), f)
		if err != nil {
			config.LogError(s.logger(), "handlers.go", "OrdersHandler", "ListOrders", f, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ExportOrdersHandler streams the drill-down as an xlsx attachment. The
// workbook is built in memory first so a failure still yields a JSON error.
func ExportOrdersHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f OrderFilter
		if !bindQuery(c, &f) {
			return
		}
		var buf bytes.Buffer
		if _, err := s.ExportOrders(c.Request.Context(), f, &buf); err != nil {
			config.LogError(s.logger(), "handlers.go", "ExportOrdersHandler", "ExportOrders", f, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		filename := fmt.Sprintf("sla_orders_%s.xlsx", s.now().In(s.location()).Format("20060102_150405"))
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
	}
}

func SummariesHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f SummaryFilter
		if !bindQuery(c, &f) {
			return
		}
		resp, err := s.Summaries(c.Request.Context(), f)
		if err != nil {
			config.LogError(s.logger(), "handlers.go", "SummariesHandler", "Summaries", f, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func TatConfigsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := s.TatConfigs(c.Request.Context())
		if err != nil {
			config.LogError(s.logger(), "handlers.go", "TatConfigsHandler", "TatConfigs", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// RegisterRoutes mounts the read APIs on group.
func RegisterRoutes(group *gin.RouterGroup, s *Service) {
	group.GET("/kpis", KpiHandler(s))
	group.GET("/orders", OrdersHandler(s))
	group.GET("/orders/export", ExportOrdersHandler(s))
	group.GET("/summaries", SummariesHandler(s))
	group.GET("/tat-configs", TatConfigsHandler(s))
}
