package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/dashboard"
	"github.com/mmdatafocus/sla_dashboard/etlsync"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/summary"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newRouter(d *deps) *gin.Engine {
	synchronizer := etlsync.NewSynchronizer(d.master, d.analytics, d.locker, d.settings, d.logger)
	aggregator := summary.NewAggregator(d.analytics, d.redis, d.locker, d.settings, d.logger)
	service := dashboard.NewService(d.analytics, d.redis, d.settings, d.logger)

	r := gin.New()
	r.Use(correlationIdMiddleware())
	r.Use(cors.New(corsConfig()))
	if config.EnvBoolDefault("RATE_LIMIT_ENABLED", false) {
		limit := config.IntFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)
		window := time.Duration(config.IntFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
		r.Use(NewRateLimiter(d.redis, int64(limit), window).RateLimitMiddleware)
	}
	r.Use(requestLogger(d.logger))
	r.Use(customErrorLogger(d.logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/sla")
	dashboard.RegisterRoutes(api, service)

	api.POST("/sync", etlsync.TriggerSyncHandler(synchronizer, config.PublishJob))
	api.GET("/sync/runs", etlsync.SyncHistoryHandler(d.analytics))
	api.GET("/sync/runs/:id", etlsync.SyncRunDetailHandler(d.analytics))

	api.POST("/summaries/generate", summary.GenerateHandler(aggregator))
	api.POST("/summaries/cleanup", summary.CleanupHandler(aggregator))
	api.GET("/summaries/integrity", summary.IntegrityHandler(aggregator))
	api.GET("/summaries/cleanup/runs", summary.CleanupRunsHandler(aggregator))

	r.POST("/pubsub/sla-jobs", etlsync.PubSubPushHandler(d.logger, map[string]etlsync.JobHandler{
		models.JobTypeSync:    synchronizer.RunJob,
		models.JobTypeSummary: aggregator.RunGenerateJob,
		models.JobTypeCleanup: aggregator.RunCleanupJob,
	}))

	r.NoRoute(customNotFoundHandler)
	return r
}

// corsConfig requires an explicit CORS_ALLOWED_ORIGINS allowlist in
// production and allows all origins elsewhere.
func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// deny all; an empty AllowOrigins list fails cors validation
			cfg.AllowOriginFunc = func(string) bool { return false }
		} else {
			cfg.AllowOrigins = config.SplitAndTrim(allowedOrigins)
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", "Authorization", correlationIdHeader)
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition", correlationIdHeader)
	cfg.AllowCredentials = !cfg.AllowAllOrigins
	return cfg
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}
