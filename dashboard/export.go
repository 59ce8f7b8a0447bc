package dashboard

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Orders"

var exportHeaders = []string{
	"Table", "Order No", "Brand", "Country", "Order Status", "Shipping Status",
	"Placed Time", "Processed Time", "Shipped Time", "Delivered Time",
	"Processed TAT", "Shipped TAT", "Delivered TAT", "Amount", "Currency",
	"Stage", "SLA Status", "Pending Status", "Pending Hours", "Breach Severity",
}

// ExportOrders writes every order matching f into an xlsx workbook. Paging
// fields on f are ignored.
func (s *Service) ExportOrders(ctx context.Context, f OrderFilter, w io.Writer) (int, error) {
	matched, err := s.FindOrders(ctx, f)
	if err != nil {
		return 0, err
	}

	file := excelize.NewFile()
	defer func() {
		if err := file.Close(); err != nil {
			s.logger().WithField("module", "dashboard").WithError(err).Warn("close export workbook")
		}
	}()
	if err := file.SetSheetName("Sheet1", exportSheet); err != nil {
		return 0, err
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := file.SetCellValue(exportSheet, cell, h); err != nil {
			return 0, err
		}
	}
	for i, co := range matched {
		row := mapOrderToResponse(co)
		values := []interface{}{
			row.Table, row.OrderNo, row.BrandCode, row.CountryCode, row.OrderStatus, row.ShippingStatus,
			row.PlacedTime, deref(row.ProcessedTime), deref(row.ShippedTime), deref(row.DeliveredTime),
			deref(row.ProcessedTat), deref(row.ShippedTat), deref(row.DeliveredTat), co.Amount.InexactFloat64(), row.Currency,
			row.Stage, row.SlaStatus, row.PendingStatus, row.PendingHours, row.BreachSeverity,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := file.SetSheetRow(exportSheet, cell, &values); err != nil {
			return 0, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := file.Write(w); err != nil {
		return 0, err
	}
	return len(matched), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
