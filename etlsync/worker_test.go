package etlsync

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var syncNow = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

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
	// one connection keeps every statement on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestSynchronizer(t *testing.T) (*Synchronizer, *gorm.DB, *gorm.DB) {
	t.Helper()
	source := openTestDB(t)
	target := openTestDB(t)
	if err := models.MigrateTable(target); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := NewSynchronizer(source, target, nil, config.Settings{
		SyncWorkers:     4,
		SyncBatchSize:   2,
		ConfirmedMarker: "Confirmed",
		Location:        time.UTC,
	}, nil)
	s.Now = func() time.Time { return syncNow }
	return s, source, target
}

func mustExec(t *testing.T, db *gorm.DB, sql string, args ...interface{}) {
	t.Helper()
	if err := db.Exec(sql, args...).Error; err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

// seedAliasTable creates orders_vs_my using alias column names and no brand/country columns.
func seedAliasTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE orders_vs_my (
		order_number TEXT PRIMARY KEY,
		created_at DATETIME,
		processed_at DATETIME,
		shipped_time DATETIME,
		delivered_time DATETIME,
		status TEXT,
		is_confirmed INTEGER,
		total_amount REAL,
		updated_at DATETIME
	)`)
	placed := time.Date(2025, 6, 30, 6, 50, 0, 0, time.UTC)
	processed := placed.Add(9 * time.Minute)
	shipped := placed.Add(3 * time.Hour)
	delivered := placed.Add(26*time.Hour + 10*time.Minute)
	updated := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

	ins := `INSERT INTO orders_vs_my VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	mustExec(t, db, ins, "A-1", placed, processed, nil, nil, "paid", 1, 10.5, updated)
	mustExec(t, db, ins, "A-2", placed, nil, shipped, nil, "paid", 1, 20, updated)
	mustExec(t, db, ins, "A-3", placed, processed, shipped, delivered, "done", 0, 30, updated)
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	if err := db.Table(table).Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestRun_CopiesAliasedColumnsIntoNormalizedTable(t *testing.T) {
	s, source, target := newTestSynchronizer(t)
	seedAliasTable(t, source)
	mustExec(t, source, `CREATE TABLE customers (id INTEGER PRIMARY KEY)`)
	mustExec(t, source, `CREATE TABLE orders_archive (id INTEGER PRIMARY KEY)`)

	result, err := s.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TablesTotal != 1 || result.TablesSuccess != 1 {
		t.Fatalf("tables total=%d success=%d, want 1/1", result.TablesTotal, result.TablesSuccess)
	}
	if result.RecordsSynced != 3 || result.RecordsFailed != 0 {
		t.Fatalf("records synced=%d failed=%d, want 3/0", result.RecordsSynced, result.RecordsFailed)
	}
	if result.Status != models.SyncRunStatusSuccess {
		t.Fatalf("status = %s, want success", result.Status)
	}

	var orders []models.Order
	if err := target.Table("orders_vs_my").Order("order_no").Find(&orders).Error; err != nil {
		t.Fatalf("read target: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("got %d orders, want 3", len(orders))
	}
	first := orders[0]
	if first.BrandCode != "VS" || first.CountryCode != "MY" {
		t.Fatalf("brand/country = %s/%s, want VS/MY from table name", first.BrandCode, first.CountryCode)
	}
	if first.ConfirmationStatus != "Confirmed" {
		t.Fatalf("confirmation = %q, want Confirmed", first.ConfirmationStatus)
	}
	if first.ProcessedTat == nil || *first.ProcessedTat != "9 m" {
		t.Fatalf("processed_tat = %v, want 9 m", first.ProcessedTat)
	}
	if first.ShippedTat != nil {
		t.Fatalf("shipped_tat = %v, want nil", *first.ShippedTat)
	}
	if orders[1].ProcessedTime != nil || orders[1].ShippedTime == nil {
		t.Fatalf("skipped order lost its timestamps: %+v", orders[1])
	}
	if orders[2].ConfirmationStatus != "" {
		t.Fatalf("unconfirmed order got %q", orders[2].ConfirmationStatus)
	}
	if orders[2].DeliveredTat == nil || *orders[2].DeliveredTat != "1 d, 2 h, 10 m" {
		t.Fatalf("delivered_tat = %v, want 1 d, 2 h, 10 m", orders[2].DeliveredTat)
	}

	var run models.SyncRun
	if err := target.Take(&run, result.RunId).Error; err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.Status != models.SyncRunStatusSuccess || run.RecordsSynced != 3 {
		t.Fatalf("run = %+v", run)
	}
}

func TestRun_ForcedRerunDoesNotDuplicate(t *testing.T) {
	s, source, target := newTestSynchronizer(t)
	seedAliasTable(t, source)

	for i := 0; i < 2; i++ {
		if _, err := s.Run(context.Background(), Request{Force: true}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if n := countRows(t, target, "orders_vs_my"); n != 3 {
			t.Fatalf("run %d: target has %d rows, want 3", i, n)
		}
	}
}

func TestRun_IncrementalSkipsRowsOlderThanLastSuccess(t *testing.T) {
	s, source, _ := newTestSynchronizer(t)
	seedAliasTable(t, source)

	first, err := s.Run(context.Background(), Request{})
	if err != nil || first.RecordsSynced != 3 {
		t.Fatalf("first run synced %d, err %v", first.RecordsSynced, err)
	}

	second, err := s.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.RecordsSynced != 0 || !second.Tables[0].Success {
		t.Fatalf("incremental run synced %d rows, want 0", second.RecordsSynced)
	}

	forced, err := s.Run(context.Background(), Request{Force: true})
	if err != nil || forced.RecordsSynced != 3 {
		t.Fatalf("forced run synced %d, err %v", forced.RecordsSynced, err)
	}
}

func TestRun_RowFailureKeepsPreviousCheckpoint(t *testing.T) {
	s, source, target := newTestSynchronizer(t)
	seedAliasTable(t, source)

	var failed atomic.Bool
	err := target.Callback().Create().Before("gorm:create").Register("test:fail_a2_once", func(db *gorm.DB) {
		if order, ok := db.Statement.Dest.(*models.Order); ok && order.OrderNo == "A-2" && failed.CompareAndSwap(false, true) {
			_ = db.AddError(errors.New("deadlock found when trying to get lock"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	first, err := s.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.RecordsSynced != 2 || first.RecordsFailed != 1 || !first.Tables[0].Success {
		t.Fatalf("first run synced=%d failed=%d table=%+v", first.RecordsSynced, first.RecordsFailed, first.Tables[0])
	}

	second, err := s.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.RecordsSynced != 3 || second.RecordsFailed != 0 {
		t.Fatalf("second run synced=%d failed=%d, want 3/0", second.RecordsSynced, second.RecordsFailed)
	}
	if n := countRows(t, target, "orders_vs_my"); n != 3 {
		t.Fatalf("target has %d rows, want 3", n)
	}

	third, err := s.Run(context.Background(), Request{})
	if err != nil || third.RecordsSynced != 0 {
		t.Fatalf("clean checkpoint not used: synced %d, err %v", third.RecordsSynced, err)
	}
}

func TestRun_TableWithoutIdentifierFailsAlone(t *testing.T) {
	s, source, target := newTestSynchronizer(t)
	seedAliasTable(t, source)
	mustExec(t, source, `CREATE TABLE orders_ab_sg (reference TEXT, created_at DATETIME)`)
	mustExec(t, source, `INSERT INTO orders_ab_sg VALUES ('x', '2025-06-30 06:50:00')`)

	result, err := s.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TablesTotal != 2 || result.TablesFailed != 1 || result.TablesSuccess != 1 {
		t.Fatalf("tables = %+v", result)
	}
	if result.Status != models.SyncRunStatusPartial {
		t.Fatalf("status = %s, want partial", result.Status)
	}
	var failed TableResult
	for _, tr := range result.Tables {
		if !tr.Success {
			failed = tr
		}
	}
	if failed.SourceTable != "orders_ab_sg" || !strings.Contains(failed.Error, ErrMissingOrderIdentifier.Error()) {
		t.Fatalf("failed table = %+v", failed)
	}
	if target.Migrator().HasTable("orders_ab_sg") {
		t.Fatalf("target table created for a table that failed mapping")
	}
}

func TestRun_EmptyTableIsSuccess(t *testing.T) {
	s, source, _ := newTestSynchronizer(t)
	mustExec(t, source, `CREATE TABLE orders_vs_sg (order_no TEXT PRIMARY KEY, placed_time DATETIME)`)

	result, err := s.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Tables) != 1 || !result.Tables[0].Success || result.Tables[0].ProcessedCount != 0 {
		t.Fatalf("tables = %+v", result.Tables)
	}
}

func TestRun_BadRowIsRecordedAndSkipped(t *testing.T) {
	s, source, target := newTestSynchronizer(t)
	seedAliasTable(t, source)
	mustExec(t, source, `INSERT INTO orders_vs_my (order_number, created_at, status) VALUES ('A-4', NULL, 'paid')`)

	result, err := s.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RecordsSynced != 3 || result.RecordsFailed != 1 {
		t.Fatalf("synced=%d failed=%d, want 3/1", result.RecordsSynced, result.RecordsFailed)
	}
	if !result.Tables[0].Success {
		t.Fatalf("a row failure must not fail the table: %+v", result.Tables[0])
	}
	var errs []models.SyncRunError
	if err := target.Where("sync_run_id = ?", result.RunId).Find(&errs).Error; err != nil {
		t.Fatalf("load errors: %v", err)
	}
	if len(errs) != 1 || errs[0].OrderNo != "A-4" || errs[0].ErrorCode != "missing_placed_time" {
		t.Fatalf("errors = %+v", errs)
	}
}

func TestRun_FiltersByBrandAndCountry(t *testing.T) {
	s, source, _ := newTestSynchronizer(t)
	seedAliasTable(t, source)
	mustExec(t, source, `CREATE TABLE orders_ab_sg (order_no TEXT PRIMARY KEY, placed_time DATETIME)`)

	result, err := s.Run(context.Background(), Request{Brand: "ab", Country: "SG"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Tables) != 1 || result.Tables[0].SourceTable != "orders_ab_sg" {
		t.Fatalf("tables = %+v", result.Tables)
	}
}

func TestRun_CanceledContextStopsBeforeTables(t *testing.T) {
	s, source, _ := newTestSynchronizer(t)
	seedAliasTable(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Run(ctx, Request{})
	if err == nil {
		t.Fatalf("expected an error for a cancelled context")
	}
	if !errors.Is(err, context.Canceled) && !strings.Contains(err.Error(), "cancel") {
		t.Fatalf("err = %v, want cancellation", err)
	}
}

func TestMapColumns(t *testing.T) {
	m, err := MapColumns([]string{"ORDER_ID", "order_number", "created_at", "Order_Date", "brand"})
	if err != nil {
		t.Fatalf("MapColumns: %v", err)
	}
	if m[FieldOrderNo] != "order_number" {
		t.Fatalf("order_no <- %q, want order_number", m[FieldOrderNo])
	}
	if m[FieldPlacedTime] != "Order_Date" {
		t.Fatalf("placed_time <- %q, want Order_Date", m[FieldPlacedTime])
	}
	if m[FieldBrandCode] != "brand" || m.Has(FieldCountryCode) {
		t.Fatalf("brand/country mapping = %v", m)
	}

	if _, err := MapColumns([]string{"id", "created_at"}); !errors.Is(err, ErrMissingOrderIdentifier) {
		t.Fatalf("err = %v, want ErrMissingOrderIdentifier", err)
	}
	if _, err := MapColumns([]string{"order_no"}); !errors.Is(err, ErrMissingPlacedTime) {
		t.Fatalf("err = %v, want ErrMissingPlacedTime", err)
	}
}

func TestAsTime(t *testing.T) {
	want := time.Date(2025, 6, 30, 6, 50, 0, 0, time.UTC)
	cases := []struct {
		in      interface{}
		wantNil bool
		wantErr bool
	}{
		{in: want},
		{in: "2025-06-30 06:50:00"},
		{in: "2025-06-30T06:50:00Z"},
		{in: []byte("2025-06-30 06:50")},
		{in: nil, wantNil: true},
		{in: "", wantNil: true},
		{in: "0000-00-00 00:00:00", wantNil: true},
		{in: "yesterday", wantErr: true},
	}
	for _, c := range cases {
		got, err := asTime(c.in, time.UTC)
		if c.wantErr {
			if err == nil {
				t.Fatalf("asTime(%v) expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("asTime(%v): %v", c.in, err)
		}
		if c.wantNil {
			if got != nil {
				t.Fatalf("asTime(%v) = %v, want nil", c.in, got)
			}
			continue
		}
		if got == nil || !got.Equal(want) {
			t.Fatalf("asTime(%v) = %v, want %v", c.in, got, want)
		}
	}
}
