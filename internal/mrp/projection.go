package mrp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ProjectStock simulates stock for one material day by day, from the day of
// `from` through horizonDays days later inclusive. Demands and receipts are
// matched to days by calendar date. The running stock carries forward even
// when negative so that shortfalls accumulate across days.
func ProjectStock(snapshot InventorySnapshot, demands []MaterialDemand, supplies []PlannedSupply, from time.Time, horizonDays int, cfg Config) []DailyProjection {
	if horizonDays < 0 {
		return nil
	}
	demandByDay := make(map[string]float64)
	for _, d := range demands {
		if d.MaterialID != snapshot.MaterialID {
			continue
		}
		demandByDay[cfg.dayKey(d.RequiredDate)] += d.RequiredQuantity
	}
	receiptByDay := make(map[string]float64)
	for _, s := range supplies {
		if s.MaterialID != snapshot.MaterialID {
			continue
		}
		receiptByDay[cfg.dayKey(s.PlannedDate)] += s.PlannedQuantity
	}

	start := cfg.startOfDay(from)
	running := snapshot.CurrentStock
	days := make([]DailyProjection, 0, horizonDays+1)
	for i := 0; i <= horizonDays; i++ {
		date := start.AddDate(0, 0, i)
		key := date.Format(time.DateOnly)
		demand := demandByDay[key]
		receipts := receiptByDay[key]

		day := DailyProjection{
			Date:           date,
			BeginningStock: running,
			Receipts:       receipts,
			Demands:        demand,
			Actions:        []string{},
		}
		day.EndingStock = day.BeginningStock + receipts - demand
		day.Shortfall = math.Max(0, demand-(day.BeginningStock+receipts))

		if day.Shortfall > 0 {
			day.Actions = append(day.Actions, fmt.Sprintf("order %s immediately", quantityWithUnit(day.Shortfall, snapshot.Unit)))
		}
		if day.EndingStock < snapshot.MinimumStock {
			day.Actions = append(day.Actions, "below minimum stock level")
		}
		if day.EndingStock < snapshot.ReorderPoint {
			day.Actions = append(day.Actions, "reached reorder point")
		}

		days = append(days, day)
		running = day.EndingStock
	}
	return days
}

func quantityWithUnit(qty float64, unit string) string {
	if unit = strings.TrimSpace(unit); unit != "" {
		return formatQty(qty) + " " + unit
	}
	return formatQty(qty)
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
