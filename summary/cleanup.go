package summary

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/metrics"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

// maxUnbalancedSamples caps the unbalanced rows returned in a report.
const maxUnbalancedSamples = 50

// Orphan is a brand/country that has summary rows but no order table.
type Orphan struct {
	Brand       string `json:"brand"`
	Country     string `json:"country"`
	SummaryRows int64  `json:"summary_rows"`
	Reason      string `json:"reason"`
}

// IntegrityReport describes the health of the summary store against the
// order tables and TAT configuration.
type IntegrityReport struct {
	SummaryRows         int64                    `json:"summary_rows"`
	UnbalancedRows      int64                    `json:"unbalanced_rows"`
	UnbalancedSamples   []models.SlaDailySummary `json:"unbalanced_samples"`
	OrderTables         int                      `json:"order_tables"`
	TablesWithoutConfig []models.OrderTable      `json:"tables_without_config"`
	Orphans             []Orphan                 `json:"orphans"`
}

type CleanupResult struct {
	RunId       uint            `json:"run_id,omitempty"`
	Orphans     []Orphan        `json:"orphans"`
	RowsDeleted int64           `json:"rows_deleted"`
	Integrity   IntegrityReport `json:"integrity"`
	DurationMs  int64           `json:"duration_ms"`
}

type summaryCombo struct {
	BrandCode   string
	CountryCode string
	SummaryRows int64
}

// findOrphans lists brand/country combinations in the summary store whose
// order table is missing from registry.
func findOrphans(ctx context.Context, db *gorm.DB, registry *models.OrderTableRegistry) ([]Orphan, error) {
	var combos []summaryCombo
	if err := db.WithContext(ctx).Model(&models.SlaDailySummary{}).
		Select("brand_code, country_code, COUNT(*) AS summary_rows").
		Group("brand_code, country_code").
		Scan(&combos).Error; err != nil {
		return nil, fmt.Errorf("list summary combinations: %w", err)
	}

	orphans := make([]Orphan, 0)
	for _, c := range combos {
		if _, ok := registry.Lookup(c.BrandCode, c.CountryCode); ok {
			continue
		}
		var reason string
		if t, err := models.NewOrderTable(c.BrandCode, c.CountryCode); err == nil {
			reason = fmt.Sprintf("order table %s not found", t.Name)
		} else {
			reason = "brand/country does not form a valid order table name"
		}
		orphans = append(orphans, Orphan{
			Brand:       c.BrandCode,
			Country:     c.CountryCode,
			SummaryRows: c.SummaryRows,
			Reason:      reason,
		})
	}
	sort.Slice(orphans, func(i, j int) bool {
		if orphans[i].Brand != orphans[j].Brand {
			return orphans[i].Brand < orphans[j].Brand
		}
		return orphans[i].Country < orphans[j].Country
	})
	return orphans, nil
}

// Cleanup deletes summary rows whose order table no longer exists and
// reports what was removed along with post-cleanup integrity metrics. Each
// call that obtains the lock is recorded as a CleanupRun.
func (a *Aggregator) Cleanup(ctx context.Context) (CleanupResult, error) {
	ctx, span := otel.Tracer(moduleName).Start(ctx, "summary.Cleanup")
	defer span.End()

	if a.Settings.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Settings.JobTimeout)
		defer cancel()
	}
	started := a.now()

	release, err := utils.ObtainJobLock(ctx, a.Locker, models.JobTypeCleanup, "summaries", a.Settings.LockTTL)
	if err != nil {
		return CleanupResult{}, err
	}
	defer release()

	run := a.startCleanupRun(ctx, started)
	result, err := a.cleanup(ctx)
	if err != nil {
		span.RecordError(err)
	}
	result.DurationMs = a.now().Sub(started).Milliseconds()
	a.finishCleanupRun(ctx, run, &result, err)

	status := models.SyncRunStatusSuccess
	if err != nil {
		status = models.SyncRunStatusFailed
	}
	metrics.JobDuration.WithLabelValues(models.JobTypeCleanup, status).Observe(a.now().Sub(started).Seconds())
	return result, err
}

func (a *Aggregator) cleanup(ctx context.Context) (CleanupResult, error) {
	var result CleanupResult

	registry, err := models.DiscoverOrderTables(ctx, a.DB)
	if err != nil {
		return result, fmt.Errorf("discover order tables: %w", err)
	}
	orphans, err := findOrphans(ctx, a.DB, registry)
	if err != nil {
		return result, err
	}

	err = a.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range orphans {
			res := tx.Where("brand_code = ? AND country_code = ?", o.Brand, o.Country).Delete(&models.SlaDailySummary{})
			if res.Error != nil {
				return res.Error
			}
			result.RowsDeleted += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("delete orphan summaries: %w", err)
	}
	result.Orphans = orphans
	metrics.OrphanSummariesDeleted.Add(float64(result.RowsDeleted))

	for _, o := range orphans {
		a.logger().WithFields(logrus.Fields{
			"module":  moduleName,
			"brand":   o.Brand,
			"country": o.Country,
			"rows":    o.SummaryRows,
			"reason":  o.Reason,
		}).Warn("orphan summaries removed")
	}

	report, err := a.integrity(ctx, registry)
	if err != nil {
		return result, err
	}
	result.Integrity = report
	return result, nil
}

// startCleanupRun persists a running CleanupRun. A bookkeeping failure is
// logged and the cleanup still runs.
func (a *Aggregator) startCleanupRun(ctx context.Context, started time.Time) *models.CleanupRun {
	actor, ok := utils.GetJobActorFromContext(ctx)
	if !ok || actor == "" {
		actor = models.SyncTriggeredManual
	}
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	run := &models.CleanupRun{
		Status:        models.SyncRunStatusRunning,
		TriggeredBy:   actor,
		CorrelationId: cid,
		StartedAt:     started,
	}
	if err := a.DB.WithContext(ctx).Create(run).Error; err != nil {
		config.LogError(a.logger(), "cleanup.go", "startCleanupRun", "Create", nil, err)
		return nil
	}
	return run
}

func (a *Aggregator) finishCleanupRun(ctx context.Context, run *models.CleanupRun, result *CleanupResult, runErr error) {
	if run == nil {
		return
	}
	// the job context may already be canceled
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	finished := a.now()
	run.FinishedAt = &finished
	run.OrphansRemoved = len(result.Orphans)
	run.RowsDeleted = result.RowsDeleted
	run.UnbalancedRows = result.Integrity.UnbalancedRows
	run.Status = models.SyncRunStatusSuccess
	if runErr != nil {
		msg := runErr.Error()
		run.Status = models.SyncRunStatusFailed
		run.Error = &msg
	}
	if err := a.DB.WithContext(saveCtx).Save(run).Error; err != nil {
		config.LogError(a.logger(), "cleanup.go", "finishCleanupRun", "Save", run.ID, err)
		return
	}
	result.RunId = run.ID
}

// Integrity reports unbalanced summary rows, order tables without a
// TatConfig and orphaned summaries, without changing anything.
func (a *Aggregator) Integrity(ctx context.Context) (IntegrityReport, error) {
	registry, err := models.DiscoverOrderTables(ctx, a.DB)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("discover order tables: %w", err)
	}
	return a.integrity(ctx, registry)
}

func (a *Aggregator) integrity(ctx context.Context, registry *models.OrderTableRegistry) (IntegrityReport, error) {
	db := a.DB.WithContext(ctx)
	report := IntegrityReport{
		OrderTables:         len(registry.Tables()),
		TablesWithoutConfig: make([]models.OrderTable, 0),
		UnbalancedSamples:   make([]models.SlaDailySummary, 0),
	}

	if err := db.Model(&models.SlaDailySummary{}).Count(&report.SummaryRows).Error; err != nil {
		return report, fmt.Errorf("count summaries: %w", err)
	}
	unbalanced := "orders_on_time + orders_on_risk + orders_breached <> orders_total"
	if err := db.Model(&models.SlaDailySummary{}).Where(unbalanced).Count(&report.UnbalancedRows).Error; err != nil {
		return report, fmt.Errorf("count unbalanced summaries: %w", err)
	}
	if report.UnbalancedRows > 0 {
		if err := db.Where(unbalanced).
			Order("summary_date desc, brand_code, country_code, stage").
			Limit(maxUnbalancedSamples).
			Find(&report.UnbalancedSamples).Error; err != nil {
			return report, fmt.Errorf("load unbalanced summaries: %w", err)
		}
	}
	metrics.UnbalancedSummaries.Set(float64(report.UnbalancedRows))

	configs, err := models.LoadTatConfigIndex(ctx, a.DB, a.Redis, a.Settings.TatCacheTTL)
	if err != nil {
		return report, err
	}
	for _, t := range registry.Tables() {
		if !configs.Has(t.Brand, t.Country) {
			report.TablesWithoutConfig = append(report.TablesWithoutConfig, t)
		}
	}

	orphans, err := findOrphans(ctx, a.DB, registry)
	if err != nil {
		return report, err
	}
	report.Orphans = orphans
	return report, nil
}
