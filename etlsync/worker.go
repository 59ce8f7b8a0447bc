package etlsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/metrics"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const moduleName = "etlsync"

// ErrRunFinished is returned when a redelivered job points at a run that already completed.
var ErrRunFinished = errors.New("sync run already finished")

// Synchronizer copies per brand/country order tables from the master
// database into normalized order tables in the analytics database.
type Synchronizer struct {
	Source   *gorm.DB
	Target   *gorm.DB
	Locker   *redislock.Client
	Settings config.Settings
	Logger   *logrus.Logger
	Now      func() time.Time
}

func NewSynchronizer(source, target *gorm.DB, locker *redislock.Client, settings config.Settings, logger *logrus.Logger) *Synchronizer {
	return &Synchronizer{
		Source:   source,
		Target:   target,
		Locker:   locker,
		Settings: settings,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (s *Synchronizer) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Synchronizer) logger() *logrus.Logger {
	if s.Logger == nil {
		return config.GetLogger()
	}
	return s.Logger
}

// Run syncs every source table matching the request filters. Table and row
// failures are recorded on the result; only failing to reach the databases
// or list the source catalog returns an error.
func (s *Synchronizer) Run(ctx context.Context, req Request) (Result, error) {
	ctx, span := otel.Tracer(moduleName).Start(ctx, "etlsync.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("sla.brand", req.Brand),
		attribute.String("sla.country", req.Country),
		attribute.Bool("sla.force", req.Force),
	)

	if s.Settings.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Settings.JobTimeout)
		defer cancel()
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	run, err := s.startRun(ctx, req, correlationId)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	result := Result{RunId: run.ID, CorrelationId: correlationId}
	startedAt := *run.StartedAt

	registry, err := models.DiscoverOrderTables(ctx, s.Source)
	if err != nil {
		s.finishRun(ctx, run, &result, startedAt, models.SyncRunStatusFailed)
		span.RecordError(err)
		return result, fmt.Errorf("discover source tables: %w", err)
	}

	tables := registry.Filter(req.Brand, req.Country)
	result.TablesTotal = len(tables)
	for _, table := range tables {
		if ctx.Err() != nil {
			result.Canceled = true
			break
		}
		tr := s.syncTable(ctx, run.ID, table, req.Force)
		result.Tables = append(result.Tables, tr)
		result.RecordsSynced += tr.ProcessedCount
		result.RecordsFailed += tr.FailedCount
		if tr.Success {
			result.TablesSuccess++
			metrics.SyncTablesTotal.WithLabelValues("success").Inc()
		} else {
			result.TablesFailed++
			metrics.SyncTablesTotal.WithLabelValues("failed").Inc()
		}
	}
	// Tables never reached because of cancellation count as failed.
	if result.Canceled {
		result.TablesFailed = result.TablesTotal - result.TablesSuccess
	}

	status := models.SyncRunStatusSuccess
	errorCount := result.TablesFailed + result.RecordsFailed
	if errorCount > 0 && result.RecordsSynced == 0 && result.TablesSuccess == 0 {
		status = models.SyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.SyncRunStatusPartial
	}
	s.finishRun(ctx, run, &result, startedAt, status)

	s.logger().WithFields(logrus.Fields{
		"module":         moduleName,
		"run_id":         run.ID,
		"status":         status,
		"tables_total":   result.TablesTotal,
		"tables_failed":  result.TablesFailed,
		"records_synced": result.RecordsSynced,
		"records_failed": result.RecordsFailed,
		"correlation_id": correlationId,
	}).Info("sync finished")
	return result, nil
}

func (s *Synchronizer) startRun(ctx context.Context, req Request, correlationId string) (*models.SyncRun, error) {
	db := s.Target.WithContext(ctx)
	now := s.now()

	var run models.SyncRun
	if req.RunId != 0 {
		if err := db.Where("id = ?", req.RunId).Take(&run).Error; err != nil {
			return nil, fmt.Errorf("load sync run %d: %w", req.RunId, err)
		}
		if run.Status != models.SyncRunStatusQueued && run.Status != models.SyncRunStatusRunning {
			return nil, ErrRunFinished
		}
		if err := db.Model(&run).Updates(map[string]interface{}{
			"status":     models.SyncRunStatusRunning,
			"started_at": now,
		}).Error; err != nil {
			return nil, err
		}
		run.StartedAt = &now
		return &run, nil
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = models.SyncTriggeredManual
	}
	run = models.SyncRun{
		Status:        models.SyncRunStatusRunning,
		TriggeredBy:   triggeredBy,
		CorrelationId: correlationId,
		BrandFilter:   req.Brand,
		CountryFilter: req.Country,
		Force:         req.Force,
		StartedAt:     &now,
	}
	if err := db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}
	return &run, nil
}

// finishRun persists the final counters. It uses a detached context so a
// cancelled or timed out job still records its outcome.
func (s *Synchronizer) finishRun(ctx context.Context, run *models.SyncRun, result *Result, startedAt time.Time, status string) {
	finishedAt := s.now()
	result.Status = status
	result.DurationMs = finishedAt.Sub(startedAt).Milliseconds()
	metrics.JobDuration.WithLabelValues(models.JobTypeSync, status).Observe(finishedAt.Sub(startedAt).Seconds())

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.Target.WithContext(saveCtx).Model(run).Updates(map[string]interface{}{
		"status":         status,
		"tables_total":   result.TablesTotal,
		"tables_failed":  result.TablesFailed,
		"records_synced": result.RecordsSynced,
		"error_count":    result.TablesFailed + result.RecordsFailed,
		"finished_at":    finishedAt,
		"duration_ms":    result.DurationMs,
	}).Error; err != nil {
		config.LogError(s.logger(), "worker.go", "finishRun", "update sync run", run.ID, err)
	}
}

// syncTable copies one source table. Errors are folded into the returned result.
func (s *Synchronizer) syncTable(ctx context.Context, runId uint, source models.OrderTable, force bool) TableResult {
	startedAt := s.now()
	tr := TableResult{SourceTable: source.Name, Brand: source.Brand, Country: source.Country}

	target, err := models.NewOrderTable(source.Brand, source.Country)
	if err == nil {
		tr.TargetTable = target.Name
		err = s.copyTable(ctx, runId, source, target, force, &tr)
	}
	if err != nil {
		tr.Error = err.Error()
		config.LogError(s.logger(), "worker.go", "syncTable", source.Name, tr, err)
	} else {
		tr.Success = true
	}
	s.recordTable(ctx, runId, tr, startedAt)
	return tr
}

func (s *Synchronizer) copyTable(ctx context.Context, runId uint, source, target models.OrderTable, force bool, tr *TableResult) error {
	release, err := utils.ObtainJobLock(ctx, s.Locker, models.JobTypeSync, target.Name, s.Settings.LockTTL)
	if err != nil {
		return err
	}
	defer release()

	columns, err := SourceColumns(ctx, s.Source, source.Name)
	if err != nil {
		return err
	}
	colMap, err := MapColumns(columns)
	if err != nil {
		return fmt.Errorf("%s: %w", source.Name, err)
	}
	if err := models.EnsureOrderTable(ctx, s.Target, target); err != nil {
		return err
	}

	since, err := s.incrementalSince(ctx, source.Name, colMap, force)
	if err != nil {
		return err
	}

	batchSize := s.Settings.SyncBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	var processed, failed int64
	for offset := 0; ; offset += batchSize {
		if err := ctx.Err(); err != nil {
			tr.ProcessedCount, tr.FailedCount = int(processed), int(failed)
			return err
		}

		query := source.Query(s.Source.WithContext(ctx)).
			Order(clause.OrderByColumn{Column: clause.Column{Name: colMap[FieldOrderNo]}}).
			Offset(offset).
			Limit(batchSize)
		if since != nil {
			query = query.Where(clause.Gte{Column: clause.Column{Name: colMap[FieldUpdatedAt]}, Value: *since})
		}
		var rows []map[string]interface{}
		if err := query.Find(&rows).Error; err != nil {
			tr.ProcessedCount, tr.FailedCount = int(processed), int(failed)
			return fmt.Errorf("read %s: %w", source.Name, err)
		}
		if len(rows) == 0 {
			break
		}

		ok, bad := s.upsertBatch(ctx, runId, source, target, colMap, rows)
		processed += ok
		failed += bad
		if len(rows) < batchSize {
			break
		}
	}

	tr.ProcessedCount, tr.FailedCount = int(processed), int(failed)
	return nil
}

// incrementalSince returns the start of the last table sync that finished
// without any failed row, or nil when everything must be copied. A run with
// row failures never becomes the checkpoint, so its failed rows are read again.
func (s *Synchronizer) incrementalSince(ctx context.Context, sourceTable string, colMap ColumnMap, force bool) (*time.Time, error) {
	if force || !colMap.Has(FieldUpdatedAt) {
		return nil, nil
	}
	var last models.SyncRunTable
	err := s.Target.WithContext(ctx).
		Where("source_table = ? AND success = ? AND failed_count = ?", sourceTable, true, 0).
		Order("id desc").
		Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return last.StartedAt, nil
}

// upsertBatch writes rows with at most SyncWorkers concurrent upserts.
// A failing row is recorded and skipped; it never stops the batch.
func (s *Synchronizer) upsertBatch(ctx context.Context, runId uint, source, target models.OrderTable, colMap ColumnMap, rows []map[string]interface{}) (int64, int64) {
	workers := s.Settings.SyncWorkers
	if workers <= 0 {
		workers = 1
	}
	var ok, bad atomic.Int64
	var errMu sync.Mutex
	var rowErrs []models.SyncRunError

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, row := range rows {
		if gctx.Err() != nil {
			break
		}
		row := row
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			order, code, err := s.buildOrder(row, source, colMap)
			if err == nil {
				if err = upsertOrder(gctx, s.Target, target, &order); err != nil {
					code = "upsert_failed"
				}
			}
			if err != nil {
				bad.Add(1)
				metrics.SyncRowsTotal.WithLabelValues(source.Name, "failed").Inc()
				errMu.Lock()
				rowErrs = append(rowErrs, models.SyncRunError{
					SyncRunId:   runId,
					SourceTable: source.Name,
					OrderNo:     order.OrderNo,
					ErrorCode:   code,
					Message:     err.Error(),
				})
				errMu.Unlock()
				return nil
			}
			ok.Add(1)
			metrics.SyncRowsTotal.WithLabelValues(source.Name, "success").Inc()
			return nil
		})
	}
	_ = g.Wait()

	if len(rowErrs) > 0 {
		for _, e := range rowErrs {
			config.LogError(s.logger(), "worker.go", "upsertBatch", e.SourceTable, e.OrderNo, errors.New(e.Message))
		}
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.Target.WithContext(saveCtx).CreateInBatches(&rowErrs, 100).Error; err != nil {
			config.LogError(s.logger(), "worker.go", "upsertBatch", "save row errors", source.Name, err)
		}
	}
	return ok.Load(), bad.Load()
}

// upsertOrder inserts order or overwrites the row with the same order_no.
func upsertOrder(ctx context.Context, db *gorm.DB, target models.OrderTable, order *models.Order) error {
	return target.Query(db.WithContext(ctx)).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: FieldOrderNo}},
			UpdateAll: true,
		}).
		Create(order).Error
}

// buildOrder maps one source row onto the normalized Order. Missing brand and
// country columns fall back to the values encoded in the table name.
func (s *Synchronizer) buildOrder(row map[string]interface{}, source models.OrderTable, colMap ColumnMap) (models.Order, string, error) {
	get := func(field string) interface{} {
		col, ok := colMap[field]
		if !ok {
			return nil
		}
		return row[col]
	}
	loc := s.Settings.Location

	order := models.Order{
		OrderNo:        asString(get(FieldOrderNo)),
		OrderStatus:    asString(get(FieldOrderStatus)),
		ShippingStatus: asString(get(FieldShippingStatus)),
		BrandCode:      asString(get(FieldBrandCode)),
		CountryCode:    asString(get(FieldCountryCode)),
		Amount:         asDecimal(get(FieldAmount)),
		Currency:       asString(get(FieldCurrency)),
		UpdatedAt:      s.now(),
	}
	if order.OrderNo == "" {
		return order, "missing_order_no", errors.New("order identifier is empty")
	}
	if len(order.OrderNo) > 64 {
		return order, "invalid_order_no", fmt.Errorf("order identifier longer than 64 characters")
	}

	marker := s.Settings.ConfirmedMarker
	if marker == "" {
		marker = models.DefaultConfirmedMarker
	}
	order.ConfirmationStatus = confirmationValue(get(FieldConfirmationStatus), marker)
	if order.BrandCode == "" {
		order.BrandCode = source.Brand
	}
	if order.CountryCode == "" {
		order.CountryCode = source.Country
	}

	placed, err := asTime(get(FieldPlacedTime), loc)
	if err != nil {
		return order, "invalid_placed_time", err
	}
	if placed == nil {
		return order, "missing_placed_time", errors.New("placed time is empty")
	}
	order.PlacedTime = *placed

	for _, f := range []struct {
		field string
		dest  **time.Time
	}{
		{FieldProcessedTime, &order.ProcessedTime},
		{FieldShippedTime, &order.ShippedTime},
		{FieldDeliveredTime, &order.DeliveredTime},
	} {
		t, err := asTime(get(f.field), loc)
		if err != nil {
			return order, "invalid_" + f.field, err
		}
		*f.dest = t
	}

	order.DeriveRealizedTat()
	return order, "", nil
}

func (s *Synchronizer) recordTable(ctx context.Context, runId uint, tr TableResult, startedAt time.Time) {
	finishedAt := s.now()
	rec := models.SyncRunTable{
		SyncRunId:      runId,
		SourceTable:    tr.SourceTable,
		TargetTable:    tr.TargetTable,
		BrandCode:      tr.Brand,
		CountryCode:    tr.Country,
		ProcessedCount: tr.ProcessedCount,
		FailedCount:    tr.FailedCount,
		Success:        tr.Success,
		Error:          tr.Error,
		StartedAt:      &startedAt,
		FinishedAt:     &finishedAt,
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.Target.WithContext(saveCtx).Create(&rec).Error; err != nil {
		config.LogError(s.logger(), "worker.go", "recordTable", tr.SourceTable, runId, err)
	}
}
