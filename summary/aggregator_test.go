package summary

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var refreshNow = time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestAggregator(t *testing.T) (*Aggregator, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	a := NewAggregator(db, nil, nil, config.Settings{
		ConfirmedMarker: "Confirmed",
		Location:        time.UTC,
	}, nil)
	a.Now = func() time.Time { return refreshNow }
	return a, db
}

func seedOrders(t *testing.T, db *gorm.DB, table models.OrderTable, orders []models.Order) {
	t.Helper()
	if err := models.EnsureOrderTable(context.Background(), db, table); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	for i := range orders {
		if err := table.Query(db).Create(&orders[i]).Error; err != nil {
			t.Fatalf("insert %s: %v", orders[i].OrderNo, err)
		}
	}
}

func seedConfig(t *testing.T, db *gorm.DB, brand, country string) {
	t.Helper()
	cfg := models.TatConfig{
		BrandCode:    brand,
		CountryCode:  country,
		ProcessedTat: "10 m",
		ShippedTat:   "4 h",
		DeliveredTat: "1 d",
		RiskPct:      80,
		UrgentPct:    90,
		CriticalPct:  100,
	}
	if err := db.Create(&cfg).Error; err != nil {
		t.Fatalf("insert config: %v", err)
	}
}

func loadSummaries(t *testing.T, db *gorm.DB, brand string) []models.SlaDailySummary {
	t.Helper()
	var rows []models.SlaDailySummary
	if err := db.Where("brand_code = ?", brand).Order("summary_date, stage").Find(&rows).Error; err != nil {
		t.Fatalf("load summaries: %v", err)
	}
	return rows
}

func TestGenerate_SkipsExistingUnlessForced(t *testing.T) {
	a, db := newTestAggregator(t)
	orders := testOrders()
	orders = append(orders, models.Order{
		OrderNo:            "U-1",
		ConfirmationStatus: "Pending",
		PlacedTime:         placed,
		ProcessedTime:      after(time.Hour),
	})
	// config keys are matched case-insensitively
	seedConfig(t, db, "vs", "my")
	seedOrders(t, db, vsMy, orders)

	first, err := a.Generate(context.Background(), GenerateRequest{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if first.TablesGenerated != 1 || first.RowsWritten != 3 {
		t.Fatalf("first = %+v", first)
	}
	if first.Tables[0].OrdersScanned != 3 || !first.Tables[0].HasTatConfig {
		t.Fatalf("unconfirmed order was summarized or config missed: %+v", first.Tables[0])
	}
	before := loadSummaries(t, db, "VS")

	second, err := a.Generate(context.Background(), GenerateRequest{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if second.TablesSkipped != 1 || second.RowsWritten != 0 {
		t.Fatalf("second = %+v, want skipped", second)
	}

	a.Now = func() time.Time { return refreshNow.Add(time.Hour) }
	forced, err := a.Generate(context.Background(), GenerateRequest{Force: true})
	if err != nil {
		t.Fatalf("Generate force: %v", err)
	}
	if forced.TablesGenerated != 1 || forced.Tables[0].RowsReplaced != 3 {
		t.Fatalf("forced = %+v", forced)
	}
	regenerated := loadSummaries(t, db, "VS")
	if len(regenerated) != len(before) {
		t.Fatalf("forced run changed row count: %d -> %d", len(before), len(regenerated))
	}
	for i := range before {
		b, f := before[i], regenerated[i]
		if !b.SummaryDate.Equal(f.SummaryDate) || b.Stage != f.Stage ||
			b.OrdersTotal != f.OrdersTotal || b.OrdersOnTime != f.OrdersOnTime ||
			b.OrdersOnRisk != f.OrdersOnRisk || b.OrdersBreached != f.OrdersBreached ||
			b.AvgDelaySec != f.AvgDelaySec {
			t.Fatalf("row %d changed: %+v -> %+v", i, b, f)
		}
		if !f.RefreshedAt.After(b.RefreshedAt) {
			t.Fatalf("row %d refreshed_at not updated", i)
		}
	}
}

func TestGenerate_TableWithoutConfigIsUnbalanced(t *testing.T) {
	a, db := newTestAggregator(t)
	seedOrders(t, db, vsMy, testOrders())

	result, err := a.Generate(context.Background(), GenerateRequest{Brand: "VS"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.TablesGenerated != 1 || result.Tables[0].HasTatConfig {
		t.Fatalf("result = %+v", result)
	}

	report, err := a.Integrity(context.Background())
	if err != nil {
		t.Fatalf("Integrity: %v", err)
	}
	if report.UnbalancedRows != 3 || len(report.UnbalancedSamples) != 3 {
		t.Fatalf("unbalanced = %d, want 3", report.UnbalancedRows)
	}
	if len(report.TablesWithoutConfig) != 1 || report.TablesWithoutConfig[0].Name != "orders_vs_my" {
		t.Fatalf("tables without config = %+v", report.TablesWithoutConfig)
	}
}

func TestGenerate_FiltersTables(t *testing.T) {
	a, db := newTestAggregator(t)
	ab, _ := models.NewOrderTable("ab", "sg")
	seedOrders(t, db, vsMy, testOrders())
	seedOrders(t, db, ab, testOrders())

	result, err := a.Generate(context.Background(), GenerateRequest{Country: "sg"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.TablesTotal != 1 || result.Tables[0].Table != "orders_ab_sg" {
		t.Fatalf("result = %+v", result)
	}
	if rows := loadSummaries(t, db, "VS"); len(rows) != 0 {
		t.Fatalf("filtered-out table got %d summary rows", len(rows))
	}
}

func TestCleanup_RemovesSummariesWithoutOrderTable(t *testing.T) {
	a, db := newTestAggregator(t)
	seedConfig(t, db, "VS", "MY")
	seedOrders(t, db, vsMy, testOrders())
	if _, err := a.Generate(context.Background(), GenerateRequest{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	stale := []models.SlaDailySummary{
		{SummaryDate: day(2025, 6, 1), BrandCode: "ZZ", CountryCode: "SG", Stage: "Processed", OrdersTotal: 4, OrdersOnTime: 4, RefreshedAt: refreshNow},
		{SummaryDate: day(2025, 6, 2), BrandCode: "ZZ", CountryCode: "SG", Stage: "Shipped", OrdersTotal: 1, OrdersBreached: 1, RefreshedAt: refreshNow},
	}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("insert stale: %v", err)
	}

	result, err := a.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(result.Orphans) != 1 || result.RowsDeleted != 2 {
		t.Fatalf("result = %+v", result)
	}
	o := result.Orphans[0]
	if o.Brand != "ZZ" || o.Country != "SG" || o.SummaryRows != 2 || o.Reason != "order table orders_zz_sg not found" {
		t.Fatalf("orphan = %+v", o)
	}
	if rows := loadSummaries(t, db, "ZZ"); len(rows) != 0 {
		t.Fatalf("orphan rows left: %d", len(rows))
	}
	if rows := loadSummaries(t, db, "VS"); len(rows) != 3 {
		t.Fatalf("live rows deleted: %d left", len(rows))
	}
	if result.Integrity.SummaryRows != 3 || result.Integrity.UnbalancedRows != 0 || len(result.Integrity.Orphans) != 0 {
		t.Fatalf("integrity = %+v", result.Integrity)
	}

	var run models.CleanupRun
	if err := db.First(&run, result.RunId).Error; err != nil {
		t.Fatalf("load cleanup run %d: %v", result.RunId, err)
	}
	if run.Status != models.SyncRunStatusSuccess || run.RowsDeleted != 2 || run.OrphansRemoved != 1 || run.FinishedAt == nil {
		t.Fatalf("cleanup run = %+v", run)
	}
}
