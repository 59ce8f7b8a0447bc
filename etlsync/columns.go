package etlsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrMissingOrderIdentifier = errors.New("no order identifier column found")
var ErrMissingPlacedTime = errors.New("no placed time column found")

// Target fields of the normalized order schema.
const (
	FieldOrderNo            = "order_no"
	FieldOrderStatus        = "order_status"
	FieldShippingStatus     = "shipping_status"
	FieldConfirmationStatus = "confirmation_status"
	FieldBrandCode          = "brand_code"
	FieldCountryCode        = "country_code"
	FieldPlacedTime         = "placed_time"
	FieldProcessedTime      = "processed_time"
	FieldShippedTime        = "shipped_time"
	FieldDeliveredTime      = "delivered_time"
	FieldAmount             = "amount"
	FieldCurrency           = "currency"
	FieldUpdatedAt          = "updated_at"
)

// columnAliases lists accepted source column names per target field, in
// priority order. The first alias present in the source table wins.
var columnAliases = []struct {
	field   string
	aliases []string
}{
	{FieldOrderNo, []string{"order_no", "order_number", "order_id", "orderno", "order_code"}},
	{FieldPlacedTime, []string{"placed_time", "order_placed_time", "created_time", "order_date", "created_at"}},
	{FieldProcessedTime, []string{"processed_time", "processed_at", "packed_time"}},
	{FieldShippedTime, []string{"shipped_time", "shipped_at", "dispatch_time"}},
	{FieldDeliveredTime, []string{"delivered_time", "delivered_at"}},
	{FieldOrderStatus, []string{"order_status", "status"}},
	{FieldShippingStatus, []string{"shipping_status", "shipment_status", "delivery_status"}},
	{FieldConfirmationStatus, []string{"confirmation_status", "confirm_status", "is_confirmed"}},
	{FieldBrandCode, []string{"brand_code", "brand"}},
	{FieldCountryCode, []string{"country_code", "country"}},
	{FieldAmount, []string{"amount", "total_amount", "order_amount", "grand_total"}},
	{FieldCurrency, []string{"currency", "currency_code"}},
	{FieldUpdatedAt, []string{"updated_at", "last_updated", "modified_at"}},
}

// ColumnMap maps target fields to the source column that feeds them.
type ColumnMap map[string]string

func (m ColumnMap) Has(field string) bool {
	_, ok := m[field]
	return ok
}

// MapColumns resolves the source columns onto target fields, matching names
// case-insensitively. The order identifier and placed time are required.
func MapColumns(sourceColumns []string) (ColumnMap, error) {
	byLower := make(map[string]string, len(sourceColumns))
	for _, c := range sourceColumns {
		key := strings.ToLower(strings.TrimSpace(c))
		if _, dup := byLower[key]; !dup {
			byLower[key] = c
		}
	}

	m := ColumnMap{}
	for _, entry := range columnAliases {
		for _, alias := range entry.aliases {
			if src, ok := byLower[alias]; ok {
				m[entry.field] = src
				break
			}
		}
	}

	if !m.Has(FieldOrderNo) {
		return nil, ErrMissingOrderIdentifier
	}
	if !m.Has(FieldPlacedTime) {
		return nil, ErrMissingPlacedTime
	}
	return m, nil
}

// SourceColumns reads the column names of a table from the catalog.
func SourceColumns(ctx context.Context, db *gorm.DB, table string) ([]string, error) {
	types, err := db.WithContext(ctx).Migrator().ColumnTypes(table)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	cols := make([]string, 0, len(types))
	for _, t := range types {
		cols = append(cols, t.Name())
	}
	return cols, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
}

func asString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []byte:
		return strings.TrimSpace(string(val))
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// asTime accepts driver times, common text layouts and unix seconds.
// Zero times and unparseable values are reported as absent.
func asTime(v interface{}, loc *time.Location) (*time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch val := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if val.IsZero() {
			return nil, nil
		}
		t := val.UTC()
		return &t, nil
	case *time.Time:
		if val == nil || val.IsZero() {
			return nil, nil
		}
		t := val.UTC()
		return &t, nil
	case int64:
		if val <= 0 {
			return nil, nil
		}
		t := time.Unix(val, 0).UTC()
		return &t, nil
	}

	s := asString(v)
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized time value %q", s)
}

func asDecimal(v interface{}) decimal.Decimal {
	switch val := v.(type) {
	case nil:
		return decimal.Zero
	case float64:
		return decimal.NewFromFloat(val)
	case int64:
		return decimal.NewFromInt(val)
	case decimal.Decimal:
		return val
	}
	d, err := decimal.NewFromString(asString(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// confirmationValue turns boolean-style flags (is_confirmed = 1) into the marker.
func confirmationValue(v interface{}, marker string) string {
	switch val := v.(type) {
	case bool:
		if val {
			return marker
		}
		return ""
	case int64:
		if val == 1 {
			return marker
		}
		return ""
	}
	s := asString(v)
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return marker
	case "0", "false", "no", "n":
		return ""
	}
	return s
}
