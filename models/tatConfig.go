package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/sla"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const tatConfigCacheKey = "TatConfigList"

// TatConfig holds the turnaround targets for one (brand, country) pair.
// Durations are free-form strings ("2 h", "1 d, 4 h"); percentages are of the target.
// Managed outside this service; read-only here.
type TatConfig struct {
	ID                      uint      `gorm:"primary_key" json:"id"`
	BrandCode               string    `gorm:"uniqueIndex:idx_tat_brand_country,priority:1;size:32;not null" json:"brand_code"`
	CountryCode             string    `gorm:"uniqueIndex:idx_tat_brand_country,priority:2;size:8;not null" json:"country_code"`
	ProcessedTat            string    `gorm:"size:32" json:"processed_tat"`
	ShippedTat              string    `gorm:"size:32" json:"shipped_tat"`
	DeliveredTat            string    `gorm:"size:32" json:"delivered_tat"`
	RiskPct                 float64   `gorm:"default:80" json:"risk_pct"`
	UrgentPct               float64   `gorm:"default:90" json:"urgent_pct"`
	CriticalPct             float64   `gorm:"default:100" json:"critical_pct"`
	PendingNotProcessedTime string    `gorm:"size:32" json:"pending_not_processed_time"`
	PendingProcessedTime    string    `gorm:"size:32" json:"pending_processed_time"`
	PendingShippedTime      string    `gorm:"size:32" json:"pending_shipped_time"`
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Thresholds parses the config into minutes. Malformed durations become 0.
func (c TatConfig) Thresholds() sla.Thresholds {
	return sla.Thresholds{
		ProcessedMinutes:           sla.ParseTatMinutes(c.ProcessedTat),
		ShippedMinutes:             sla.ParseTatMinutes(c.ShippedTat),
		DeliveredMinutes:           sla.ParseTatMinutes(c.DeliveredTat),
		RiskPct:                    c.RiskPct,
		UrgentPct:                  c.UrgentPct,
		CriticalPct:                c.CriticalPct,
		PendingNotProcessedMinutes: sla.ParseTatMinutes(c.PendingNotProcessedTime),
		PendingProcessedMinutes:    sla.ParseTatMinutes(c.PendingProcessedTime),
		PendingShippedMinutes:      sla.ParseTatMinutes(c.PendingShippedTime),
	}
}

// TatConfigKey normalizes brand/country for lookups so that order rows and
// config rows match regardless of case or padding.
func TatConfigKey(brand, country string) string {
	return strings.ToLower(strings.TrimSpace(brand)) + "|" + strings.ToLower(strings.TrimSpace(country))
}

// TatConfigIndex is an in-memory, case-insensitive lookup over TatConfig rows.
type TatConfigIndex struct {
	byKey map[string]sla.Thresholds
	rows  []TatConfig
}

func NewTatConfigIndex(rows []TatConfig) *TatConfigIndex {
	idx := &TatConfigIndex{byKey: make(map[string]sla.Thresholds, len(rows)), rows: rows}
	for _, r := range rows {
		idx.byKey[TatConfigKey(r.BrandCode, r.CountryCode)] = r.Thresholds()
	}
	return idx
}

// Lookup returns the thresholds for brand/country, or nil when unconfigured.
func (idx *TatConfigIndex) Lookup(brand, country string) *sla.Thresholds {
	if idx == nil {
		return nil
	}
	th, ok := idx.byKey[TatConfigKey(brand, country)]
	if !ok {
		return nil
	}
	return &th
}

func (idx *TatConfigIndex) Has(brand, country string) bool {
	return idx.Lookup(brand, country) != nil
}

func (idx *TatConfigIndex) Rows() []TatConfig {
	if idx == nil {
		return nil
	}
	return idx.rows
}

// LoadTatConfigIndex reads all TatConfig rows, through the redis cache when rdb is set.
// A cache failure falls back to the database.
func LoadTatConfigIndex(ctx context.Context, db *gorm.DB, rdb *redis.Client, ttl time.Duration) (*TatConfigIndex, error) {
	var rows []TatConfig
	exists, err := config.GetRedisObject(ctx, rdb, tatConfigCacheKey, &rows)
	if err != nil {
		config.LogError(config.GetLogger(), "tatConfig.go", "LoadTatConfigIndex", "GetRedisObject", tatConfigCacheKey, err)
	}
	if exists && err == nil {
		return NewTatConfigIndex(rows), nil
	}

	rows = nil
	if err := db.WithContext(ctx).Order("brand_code, country_code").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load tat configs: %w", err)
	}
	if err := config.SetRedisObject(ctx, rdb, tatConfigCacheKey, rows, ttl); err != nil {
		config.LogError(config.GetLogger(), "tatConfig.go", "LoadTatConfigIndex", "SetRedisObject", tatConfigCacheKey, err)
	}
	return NewTatConfigIndex(rows), nil
}

// InvalidateTatConfigCache drops the cached config list.
func InvalidateTatConfigCache(ctx context.Context, rdb *redis.Client) error {
	return config.RemoveRedisKey(ctx, rdb, tatConfigCacheKey)
}
