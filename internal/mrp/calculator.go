package mrp

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// CalculateRequirement nets the demand of one material against its stock and
// planned supply. A nil snapshot counts as zero stock with zero thresholds.
func CalculateRequirement(materialID string, demands []MaterialDemand, snapshot *InventorySnapshot, supplies []PlannedSupply, now time.Time, cfg Config) RequirementResult {
	result := RequirementResult{
		MaterialID:      materialID,
		UrgentOrderIDs:  []string{},
		Recommendations: []string{},
	}

	var minimum, reorder float64
	if snapshot != nil {
		result.MaterialName = snapshot.MaterialName
		result.Unit = snapshot.Unit
		result.CurrentStock = snapshot.CurrentStock
		minimum = snapshot.MinimumStock
		reorder = snapshot.ReorderPoint
	}

	urgentBefore := now.Add(time.Duration(cfg.UrgentWindowDays) * 24 * time.Hour)
	for _, d := range demands {
		result.TotalDemand += d.RequiredQuantity
		if result.MaterialName == "" {
			result.MaterialName = d.MaterialName
		}
		if result.Unit == "" {
			result.Unit = d.Unit
		}
		if d.Priority == PriorityUrgent || d.RequiredDate.Before(urgentBefore) {
			result.UrgentOrderIDs = append(result.UrgentOrderIDs, d.OrderID)
		}
	}
	for _, s := range supplies {
		result.PlannedSupply += s.PlannedQuantity
	}

	result.ProjectedStock = result.CurrentStock + result.PlannedSupply - result.TotalDemand
	result.Shortfall = math.Max(0, -result.ProjectedStock)

	switch {
	case result.Shortfall > 0:
		result.RecommendedAction = ActionOrderNow
	case result.ProjectedStock < minimum:
		result.RecommendedAction = ActionOrderSoon
	case result.ProjectedStock > result.CurrentStock*cfg.ExcessStockMultiplier:
		result.RecommendedAction = ActionExcess
	default:
		result.RecommendedAction = ActionAdequate
	}

	if result.Shortfall > 0 {
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("Order %s immediately to cover the shortfall", quantityWithUnit(result.Shortfall, result.Unit)))
	}
	if n := len(result.UrgentOrderIDs); n > 0 {
		result.Recommendations = append(result.Recommendations, fmt.Sprintf("%d urgent order(s) depend on this material", n))
	}
	if result.ProjectedStock < reorder {
		result.Recommendations = append(result.Recommendations, "Projected stock is below the reorder point")
	}
	return result
}

// SortPlan orders results with shortfalls first, largest shortfall first.
// Results without a shortfall keep their relative order.
func SortPlan(results []RequirementResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Shortfall, results[j].Shortfall
		if a > 0 && b > 0 {
			return a > b
		}
		return a > 0 && b <= 0
	})
}
