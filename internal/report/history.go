// Package report renders packaging history as a spreadsheet.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"depotbill/backend/internal/domain"
)

const historySheet = "Packaging history"

var historyHeader = []any{
	"created_at",
	"action",
	"packaging_id",
	"product_id",
	"variant_id",
	"sale_id",
	"sales_point_id",
	"quantity_changed",
	"full_before",
	"full_after",
	"empty_before",
	"empty_after",
	"performed_by",
}

// PackagingHistoryXLSX writes one row per entry under a fixed header and
// returns the encoded workbook.
func PackagingHistoryXLSX(entries []domain.PackagingHistoryEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), historySheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(historySheet, "A1", &historyHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, e := range entries {
		row := []any{
			e.CreatedAt.UTC().Format(time.RFC3339),
			string(e.Action),
			e.PackagingID,
			e.ProductID,
			e.VariantID,
			e.SaleID,
			e.SalesPointID,
			e.QuantityChanged,
			e.FullBefore,
			e.FullAfter,
			e.EmptyBefore,
			e.EmptyAfter,
			e.PerformedBy,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(historySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func HistoryFileName(at time.Time) string {
	return fmt.Sprintf("packaging_history_%s.xlsx", at.UTC().Format("20060102_150405"))
}
