// Command sla-worker runs SLA jobs delivered by Pub/Sub push without the
// dashboard read APIs, so long syncs do not share instances with readers.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/etlsync"
	"github.com/mmdatafocus/sla_dashboard/metrics"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/summary"
	"github.com/mmdatafocus/sla_dashboard/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("SLA_WORKER_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	target, err := config.ConnectDatabaseWithRetry(sigCtx, config.AnalyticsDatabaseSettings())
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "startup"}).Error(err.Error())
		return
	}
	defer config.CloseDatabase(target)
	source, err := config.ConnectDatabaseWithRetry(sigCtx, config.MasterDatabaseSettings())
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "startup"}).Error(err.Error())
		return
	}
	defer config.CloseDatabase(source)
	rdb, locker, err := config.ConnectRedisWithRetry(sigCtx, os.Getenv("REDIS_ADDRESS"))
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "startup"}).Error(err.Error())
		return
	}
	defer rdb.Close()
	defer config.ClosePubSubClient()

	if !config.EnvBoolDefault("SKIP_MIGRATIONS", false) {
		if err := models.MigrateTable(target); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Error(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}
	metrics.Register()

	settings := config.LoadSettings()
	synchronizer := etlsync.NewSynchronizer(source, target, locker, settings, logger)
	aggregator := summary.NewAggregator(target, rdb, locker, settings, logger)

	if os.Getenv("GO_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/sla/sync/runs", etlsync.SyncHistoryHandler(target))
	r.GET("/api/sla/sync/runs/:id", etlsync.SyncRunDetailHandler(target))
	r.POST("/pubsub/sla-jobs", etlsync.PubSubPushHandler(logger, map[string]etlsync.JobHandler{
		models.JobTypeSync:    synchronizer.RunJob,
		models.JobTypeSummary: aggregator.RunGenerateJob,
		models.JobTypeCleanup: aggregator.RunCleanupJob,
	}))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{"port": port}).Info("sla worker ready")

	select {
	case <-sigCtx.Done():
		// Push deliveries in flight finish or hit their job timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
