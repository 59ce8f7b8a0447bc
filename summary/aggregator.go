package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/metrics"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const moduleName = "summary"

// readBatchSize is the number of orders loaded per FindInBatches page.
const readBatchSize = 1000

// Aggregator regenerates SlaDailySummary rows from the analytics order tables
// and removes summaries whose order table is gone.
type Aggregator struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Locker   *redislock.Client
	Settings config.Settings
	Logger   *logrus.Logger
	Now      func() time.Time
}

func NewAggregator(db *gorm.DB, rdb *redis.Client, locker *redislock.Client, settings config.Settings, logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		DB:       db,
		Redis:    rdb,
		Locker:   locker,
		Settings: settings,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (a *Aggregator) now() time.Time {
	if a.Now == nil {
		return time.Now().UTC()
	}
	return a.Now().UTC()
}

func (a *Aggregator) logger() *logrus.Logger {
	if a.Logger == nil {
		return config.GetLogger()
	}
	return a.Logger
}

type GenerateRequest struct {
	Brand   string `json:"brand" validate:"omitempty,alphanum,max=32"`
	Country string `json:"country" validate:"omitempty,alpha,min=2,max=3"`
	Force   bool   `json:"force"`
}

// TableSummary is the outcome of generating summaries for one order table.
type TableSummary struct {
	Table         string `json:"table"`
	Brand         string `json:"brand"`
	Country       string `json:"country"`
	OrdersScanned int    `json:"orders_scanned"`
	RowsWritten   int    `json:"rows_written"`
	RowsReplaced  int64  `json:"rows_replaced"`
	Skipped       bool   `json:"skipped"`
	HasTatConfig  bool   `json:"has_tat_config"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

type GenerateResult struct {
	Tables          []TableSummary `json:"tables"`
	TablesTotal     int            `json:"tables_total"`
	TablesGenerated int            `json:"tables_generated"`
	TablesSkipped   int            `json:"tables_skipped"`
	TablesFailed    int            `json:"tables_failed"`
	RowsWritten     int            `json:"rows_written"`
	DurationMs      int64          `json:"duration_ms"`
	Canceled        bool           `json:"canceled,omitempty"`
}

// Generate regenerates summaries for every order table matching the filters.
// A table that already has summary rows is skipped unless req.Force is set.
func (a *Aggregator) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	ctx, span := otel.Tracer(moduleName).Start(ctx, "summary.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("sla.brand", req.Brand), attribute.String("sla.country", req.Country), attribute.Bool("sla.force", req.Force))

	if a.Settings.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Settings.JobTimeout)
		defer cancel()
	}
	started := a.now()
	var result GenerateResult

	registry, err := models.DiscoverOrderTables(ctx, a.DB)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("discover order tables: %w", err)
	}
	configs, err := models.LoadTatConfigIndex(ctx, a.DB, a.Redis, a.Settings.TatCacheTTL)
	if err != nil {
		span.RecordError(err)
		return result, err
	}

	tables := registry.Filter(req.Brand, req.Country)
	result.TablesTotal = len(tables)
	for _, table := range tables {
		if ctx.Err() != nil {
			result.Canceled = true
			break
		}
		ts := a.GenerateTable(ctx, table, configs, req.Force)
		result.Tables = append(result.Tables, ts)
		switch {
		case !ts.Success:
			result.TablesFailed++
		case ts.Skipped:
			result.TablesSkipped++
		default:
			result.TablesGenerated++
			result.RowsWritten += ts.RowsWritten
		}
	}
	if result.Canceled {
		result.TablesFailed = result.TablesTotal - result.TablesGenerated - result.TablesSkipped
	}

	status := "success"
	if result.TablesFailed > 0 {
		status = "partial"
	}
	result.DurationMs = a.now().Sub(started).Milliseconds()
	metrics.JobDuration.WithLabelValues(models.JobTypeSummary, status).Observe(a.now().Sub(started).Seconds())

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	a.logger().WithFields(logrus.Fields{
		"module":           moduleName,
		"tables_total":     result.TablesTotal,
		"tables_generated": result.TablesGenerated,
		"tables_skipped":   result.TablesSkipped,
		"tables_failed":    result.TablesFailed,
		"rows_written":     result.RowsWritten,
		"correlation_id":   correlationId,
	}).Info("summary generation finished")
	return result, nil
}

// GenerateTable rebuilds all summary rows of one table in a single
// transaction: existing rows for the table's brand/country are replaced,
// never patched, so repeated runs over unchanged data write identical rows.
func (a *Aggregator) GenerateTable(ctx context.Context, table models.OrderTable, configs *models.TatConfigIndex, force bool) TableSummary {
	ts := TableSummary{
		Table:        table.Name,
		Brand:        table.Brand,
		Country:      table.Country,
		HasTatConfig: configs.Has(table.Brand, table.Country),
	}
	err := a.generateTable(ctx, table, configs, force, &ts)
	if err != nil {
		ts.Error = err.Error()
		config.LogError(a.logger(), "aggregator.go", "GenerateTable", table.Name, ts, err)
		return ts
	}
	ts.Success = true
	return ts
}

func (a *Aggregator) generateTable(ctx context.Context, table models.OrderTable, configs *models.TatConfigIndex, force bool, ts *TableSummary) error {
	release, err := utils.ObtainJobLock(ctx, a.Locker, models.JobTypeSummary, table.Name, a.Settings.LockTTL)
	if err != nil {
		return err
	}
	defer release()

	db := a.DB.WithContext(ctx)
	scope := db.Model(&models.SlaDailySummary{}).Where("brand_code = ? AND country_code = ?", table.Brand, table.Country)
	if !force {
		var existing int64
		if err := scope.Count(&existing).Error; err != nil {
			return fmt.Errorf("count summaries: %w", err)
		}
		if existing > 0 {
			ts.Skipped = true
			return nil
		}
	}

	marker := a.Settings.ConfirmedMarker
	if marker == "" {
		marker = models.DefaultConfirmedMarker
	}
	builder := NewBuilder(table, configs.Lookup(table.Brand, table.Country), a.Settings.Location, a.now())

	var batch []models.Order
	res := table.Query(db).
		Where("LOWER(confirmation_status) = ?", strings.ToLower(strings.TrimSpace(marker))).
		FindInBatches(&batch, readBatchSize, func(tx *gorm.DB, _ int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, o := range batch {
				if o.IsConfirmed(marker) {
					builder.Add(o)
				}
			}
			return nil
		})
	if res.Error != nil {
		return fmt.Errorf("read %s: %w", table.Name, res.Error)
	}

	rows := builder.Rows()
	ts.OrdersScanned = builder.Scanned()
	err = db.Transaction(func(tx *gorm.DB) error {
		del := tx.Where("brand_code = ? AND country_code = ?", table.Brand, table.Country).Delete(&models.SlaDailySummary{})
		if del.Error != nil {
			return del.Error
		}
		ts.RowsReplaced = del.RowsAffected
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rows, 200).Error
	})
	if err != nil {
		return fmt.Errorf("write summaries: %w", err)
	}
	ts.RowsWritten = len(rows)
	metrics.SummaryRowsWritten.WithLabelValues(table.Name).Add(float64(len(rows)))

	a.logger().WithFields(logrus.Fields{
		"module":   moduleName,
		"table":    table.Name,
		"orders":   ts.OrdersScanned,
		"rows":     ts.RowsWritten,
		"replaced": ts.RowsReplaced,
		"force":    force,
	}).Info("summaries regenerated")
	return nil
}

// RunGenerateJob adapts Generate to a Pub/Sub job.
func (a *Aggregator) RunGenerateJob(ctx context.Context, msg config.JobMessage) error {
	_, err := a.Generate(ctx, GenerateRequest{Brand: msg.Brand, Country: msg.Country, Force: msg.Force})
	return err
}

// RunCleanupJob adapts Cleanup to a Pub/Sub job.
func (a *Aggregator) RunCleanupJob(ctx context.Context, _ config.JobMessage) error {
	_, err := a.Cleanup(ctx)
	return err
}
