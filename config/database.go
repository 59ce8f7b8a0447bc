package config

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DatabaseSettings describes one MySQL connection.
type DatabaseSettings struct {
	Label    string
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// AnalyticsDatabaseSettings reads DB_* (the analytics store this service owns).
func AnalyticsDatabaseSettings() DatabaseSettings {
	return databaseSettingsFromEnv("analytics", "DB_")
}

// MasterDatabaseSettings reads MASTER_DB_* (the operational source of order tables).
func MasterDatabaseSettings() DatabaseSettings {
	return databaseSettingsFromEnv("master", "MASTER_DB_")
}

func databaseSettingsFromEnv(label, prefix string) DatabaseSettings {
	return DatabaseSettings{
		Label:    label,
		User:     os.Getenv(prefix + "USER"),
		Password: os.Getenv(prefix + "PASSWORD"),
		Host:     os.Getenv(prefix + "HOST"),
		Port:     os.Getenv(prefix + "PORT"),
		Name:     os.Getenv(prefix + "NAME"),
	}
}

// DSN builds the go-sql-driver/mysql data source name.
func (s DatabaseSettings) DSN() string {
	network := "tcp"
	address := fmt.Sprintf("%s:%s", s.Host, s.Port)

	// Cloud SQL: DB_HOST=/cloudsql/<CONNECTION_NAME> connects over the proxy's unix socket.
	if strings.HasPrefix(s.Host, "/cloudsql/") {
		network = "unix"
		address = s.Host
	}
	return fmt.Sprintf("%s:%s@%s(%s)/%s?multiStatements=true&parseTime=true&loc=UTC",
		s.User,
		s.Password,
		network,
		address,
		s.Name,
	)
}

// ConnectDatabaseWithRetry opens s with exponential backoff until it succeeds or ctx ends.
// The caller owns the returned handle and closes it at shutdown.
func ConnectDatabaseWithRetry(ctx context.Context, s DatabaseSettings) (*gorm.DB, error) {
	var attempt int
	for {
		attempt++
		db, err := gorm.Open(mysql.Open(s.DSN()), initConfig())
		if err == nil {
			if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
				err = sqlDB.PingContext(ctx)
			}
		}
		if err == nil {
			tunePool(db)
			if pluginErr := db.Use(otelgorm.NewPlugin(otelgorm.WithDBName(s.Name))); pluginErr != nil {
				log.Printf("db %s connected but failed to install otelgorm plugin: %v", s.Label, pluginErr)
			}
			log.Printf("connected to %s database (attempt=%d)", s.Label, attempt)
			return db, nil
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect %s database (attempt=%d): %v; retrying in %s", s.Label, attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect %s database: %w", s.Label, ctx.Err())
		case <-time.After(sleep):
		}
	}
}

// CloseDatabase closes the pool behind db, if any.
func CloseDatabase(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// Env overrides (optional):
// - DB_MAX_OPEN_CONNS (default 50)
// - DB_MAX_IDLE_CONNS (default 25)
// - DB_CONN_MAX_LIFETIME_SECONDS (default 300)
// - DB_CONN_MAX_IDLE_TIME_SECONDS (default 60)
func tunePool(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil || sqlDB == nil {
		return
	}
	maxOpen := IntFromEnv("DB_MAX_OPEN_CONNS", 50)
	maxIdle := IntFromEnv("DB_MAX_IDLE_CONNS", 25)
	connMaxLife := time.Duration(IntFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second
	connMaxIdle := time.Duration(IntFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second

	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if connMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(connMaxLife)
	}
	if connMaxIdle > 0 {
		sqlDB.SetConnMaxIdleTime(connMaxIdle)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// GormConfig is shared by every connection, including test databases.
func GormConfig() *gorm.Config {
	return initConfig()
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         WriteGormLog(),
		NamingStrategy: initNamingStrategy(),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// InitLog Connection Log Configuration
func initLog() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:                  false,
			LogLevel:                  logger.Error,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}

// WriteGormLog logs every statement to GORM_LOG when set; otherwise errors go to stdout.
func WriteGormLog() logger.Interface {
	logFile := os.Getenv("GORM_LOG")
	if logFile == "" {
		return initLog()
	}
	f, err := os.Create(logFile)
	if err != nil {
		return initLog()
	}
	return logger.New(log.New(io.MultiWriter(f), "\r\n", log.LstdFlags), logger.Config{
		Colorful:      true,
		LogLevel:      logger.Info,
		SlowThreshold: time.Second,
	})
}
