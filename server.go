package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/metrics"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

// deps are the connections built once at startup and injected into every service.
type deps struct {
	master    *gorm.DB
	analytics *gorm.DB
	redis     *redis.Client
	locker    *redislock.Client
	settings  config.Settings
	logger    *logrus.Logger
}

// swapHandler serves a startup handler until the real router is installed.
type swapHandler struct {
	current atomic.Value
}

func (h *swapHandler) set(next http.Handler) { h.current.Store(&next) }

func (h *swapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*h.current.Load().(*http.Handler)).ServeHTTP(w, r)
}

// startupHandler answers the health check while dependencies connect.
func startupHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start listening immediately; until dependencies are ready every
	// endpoint except /healthz answers 503.
	handler := &swapHandler{}
	handler.set(startupHandler())
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	d, err := connect(sigCtx, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "startup"}).Error(err.Error())
		shutdown(srv, logger)
		return
	}
	defer d.close()

	// AutoMigrate can run blocking DDL; allow running it as a separate job instead.
	if !config.EnvBoolDefault("SKIP_MIGRATIONS", false) {
		if err := models.MigrateTable(d.analytics); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Error(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	metrics.Register()
	handler.set(newRouter(d))

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
		"port": port,
	}).Info("sla dashboard api ready")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}
	shutdown(srv, logger)
}

// connect opens the master and analytics databases and redis, retrying until ctx ends.
func connect(ctx context.Context, logger *logrus.Logger) (*deps, error) {
	d := &deps{settings: config.LoadSettings(), logger: logger}

	var err error
	if d.analytics, err = config.ConnectDatabaseWithRetry(ctx, config.AnalyticsDatabaseSettings()); err != nil {
		return nil, err
	}
	if d.master, err = config.ConnectDatabaseWithRetry(ctx, config.MasterDatabaseSettings()); err != nil {
		config.CloseDatabase(d.analytics)
		return nil, err
	}
	if d.redis, d.locker, err = config.ConnectRedisWithRetry(ctx, os.Getenv("REDIS_ADDRESS")); err != nil {
		config.CloseDatabase(d.analytics)
		config.CloseDatabase(d.master)
		return nil, err
	}
	return d, nil
}

func (d *deps) close() {
	config.ClosePubSubClient()
	if d.redis != nil {
		_ = d.redis.Close()
	}
	config.CloseDatabase(d.master)
	config.CloseDatabase(d.analytics)
}

func shutdown(srv *http.Server, logger *logrus.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
