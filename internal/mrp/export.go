package mrp

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXContentType is the media type of WritePlanXLSX output.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	planSheet          = "Plan"
	consolidationSheet = "Consolidation"
)

var planHeaders = []string{
	"Material ID", "Material", "Unit", "Current Stock", "Total Demand",
	"Planned Supply", "Projected Stock", "Shortfall", "Action", "Urgent Orders", "Recommendations",
}

var consolidationHeaders = []string{"Supplier", "Material ID", "Material", "Quantity", "Estimated Cost", "Order By"}

// WritePlanXLSX renders a plan, and the consolidation proposal when given,
// as a workbook for buyers.
func WritePlanXLSX(w io.Writer, plan []RequirementResult, consolidation *ConsolidationResult) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", planSheet); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	if err != nil {
		return err
	}
	short, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Color: "#C00000"}})
	if err != nil {
		return err
	}

	if err := writeHeader(f, planSheet, planHeaders, header); err != nil {
		return err
	}
	for i, item := range plan {
		row := []any{
			item.MaterialID, item.MaterialName, item.Unit, item.CurrentStock, item.TotalDemand,
			item.PlannedSupply, item.ProjectedStock, item.Shortfall, string(item.RecommendedAction),
			strings.Join(item.UrgentOrderIDs, ", "), strings.Join(item.Recommendations, "\n"),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(planSheet, cell, &row); err != nil {
			return err
		}
		if item.Shortfall > 0 {
			shortCell := fmt.Sprintf("H%d", i+2)
			if err := f.SetCellStyle(planSheet, shortCell, shortCell, short); err != nil {
				return err
			}
		}
	}
	_ = f.SetColWidth(planSheet, "A", "B", 20)
	_ = f.SetColWidth(planSheet, "K", "K", 60)

	if consolidation != nil {
		if _, err := f.NewSheet(consolidationSheet); err != nil {
			return err
		}
		if err := writeHeader(f, consolidationSheet, consolidationHeaders, header); err != nil {
			return err
		}
		rowNum := 2
		for _, order := range consolidation.ConsolidatedOrders {
			for _, line := range order.Materials {
				row := []any{
					order.Supplier, line.MaterialID, line.MaterialName, line.Quantity,
					line.EstimatedCost.InexactFloat64(), order.RecommendedDate.Format("2006-01-02"),
				}
				if err := f.SetSheetRow(consolidationSheet, fmt.Sprintf("A%d", rowNum), &row); err != nil {
					return err
				}
				rowNum++
			}
		}
		totals := [][]any{
			{"Consolidation savings", consolidation.Savings.ConsolidationSavings.InexactFloat64()},
			{"Bulk discount savings", consolidation.Savings.BulkDiscountSavings.InexactFloat64()},
			{"Total savings", consolidation.Savings.TotalSavings.InexactFloat64()},
		}
		rowNum++
		for _, total := range totals {
			if err := f.SetSheetRow(consolidationSheet, fmt.Sprintf("D%d", rowNum), &total); err != nil {
				return err
			}
			rowNum++
		}
		_ = f.SetColWidth(consolidationSheet, "A", "C", 20)
	}

	return f.Write(w)
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last+"1", style)
}
