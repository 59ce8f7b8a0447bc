package models

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// MigrateTable creates/updates the analytics bookkeeping tables.
// Per-tenant order tables are created on demand by EnsureOrderTable.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&TatConfig{},
		&SlaDailySummary{},
		&SyncRun{}, &SyncRunTable{}, &SyncRunError{},
		&CleanupRun{},
	)
}

// EnsureOrderTable creates the order table t in db if it does not exist yet.
func EnsureOrderTable(ctx context.Context, db *gorm.DB, t OrderTable) error {
	m := db.WithContext(ctx).Table(t.Name).Migrator()
	if m.HasTable(t.Name) {
		return nil
	}
	if err := m.CreateTable(&Order{}); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	return nil
}
