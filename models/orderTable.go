package models

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gorm.io/gorm"
)

const OrderTablePrefix = "orders_"

// orderTablePattern is the naming convention orders_<brand>_<country>.
// Only names matching it are ever used as identifiers in queries.
var orderTablePattern = regexp.MustCompile(`(?i)^orders_([a-z0-9]{1,32})_([a-z]{2,3})$`)

// OrderTable is one per-tenant order table, keyed by brand and country.
type OrderTable struct {
	Brand   string `json:"brand"`
	Country string `json:"country"`
	Name    string `json:"table"`
}

func (t OrderTable) Key() string { return TatConfigKey(t.Brand, t.Country) }

// Query scopes db to this table.
func (t OrderTable) Query(db *gorm.DB) *gorm.DB {
	return db.Table(t.Name)
}

// ParseOrderTableName recognizes orders_<brand>_<country>. The returned Name
// keeps the source spelling; Brand and Country are upper-cased.
func ParseOrderTableName(name string) (OrderTable, bool) {
	m := orderTablePattern.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return OrderTable{}, false
	}
	return OrderTable{
		Brand:   strings.ToUpper(m[1]),
		Country: strings.ToUpper(m[2]),
		Name:    strings.TrimSpace(name),
	}, true
}

// NewOrderTable builds the canonical (lower-case) table for brand/country.
func NewOrderTable(brand, country string) (OrderTable, error) {
	name := OrderTablePrefix + strings.ToLower(strings.TrimSpace(brand)) + "_" + strings.ToLower(strings.TrimSpace(country))
	t, ok := ParseOrderTableName(name)
	if !ok {
		return OrderTable{}, fmt.Errorf("invalid brand/country for order table: %q/%q", brand, country)
	}
	return t, nil
}

// OrderTableRegistry maps (brand, country) to the order tables found in one database.
type OrderTableRegistry struct {
	tables []OrderTable
	byKey  map[string]OrderTable
}

func NewOrderTableRegistry(tables []OrderTable) *OrderTableRegistry {
	r := &OrderTableRegistry{byKey: make(map[string]OrderTable, len(tables))}
	for _, t := range tables {
		if _, dup := r.byKey[t.Key()]; dup {
			continue
		}
		r.byKey[t.Key()] = t
		r.tables = append(r.tables, t)
	}
	sort.Slice(r.tables, func(i, j int) bool { return r.tables[i].Name < r.tables[j].Name })
	return r
}

// DiscoverOrderTables lists the database catalog and keeps the tables that
// follow the naming convention. Other tables are skipped silently.
func DiscoverOrderTables(ctx context.Context, db *gorm.DB) (*OrderTableRegistry, error) {
	names, err := db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	tables := make([]OrderTable, 0, len(names))
	for _, name := range names {
		if t, ok := ParseOrderTableName(name); ok {
			tables = append(tables, t)
		}
	}
	return NewOrderTableRegistry(tables), nil
}

func (r *OrderTableRegistry) Tables() []OrderTable {
	if r == nil {
		return nil
	}
	return r.tables
}

func (r *OrderTableRegistry) Lookup(brand, country string) (OrderTable, bool) {
	if r == nil {
		return OrderTable{}, false
	}
	t, ok := r.byKey[TatConfigKey(brand, country)]
	return t, ok
}

// Filter returns tables matching the optional brand and country filters (case-insensitive).
func (r *OrderTableRegistry) Filter(brand, country string) []OrderTable {
	brand = strings.TrimSpace(brand)
	country = strings.TrimSpace(country)
	out := make([]OrderTable, 0, len(r.Tables()))
	for _, t := range r.Tables() {
		if brand != "" && !strings.EqualFold(t.Brand, brand) {
			continue
		}
		if country != "" && !strings.EqualFold(t.Country, country) {
			continue
		}
		out = append(out, t)
	}
	return out
}
