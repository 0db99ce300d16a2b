package mrp

import (
	"strings"
	"time"
)

// DemandGroups maps material IDs to their demands, keeping first-seen key order.
type DemandGroups struct {
	keys   []string
	groups map[string][]MaterialDemand
}

// GroupByMaterial groups demands by material ID.
func GroupByMaterial(demands []MaterialDemand) DemandGroups {
	g := DemandGroups{groups: make(map[string][]MaterialDemand)}
	for _, d := range demands {
		if _, ok := g.groups[d.MaterialID]; !ok {
			g.keys = append(g.keys, d.MaterialID)
		}
		g.groups[d.MaterialID] = append(g.groups[d.MaterialID], d)
	}
	return g
}

// Keys returns material IDs in the order they were first seen.
func (g DemandGroups) Keys() []string {
	return append([]string(nil), g.keys...)
}

// Get returns the demands for a material.
func (g DemandGroups) Get(materialID string) []MaterialDemand {
	return g.groups[materialID]
}

// Len reports the number of distinct materials.
func (g DemandGroups) Len() int {
	return len(g.keys)
}

// demandsFromRows converts requirement rows into demands. Rows of undated
// orders are dated DefaultRequiredDateOffsetDays after now.
func demandsFromRows(rows []DemandRow, now time.Time, cfg Config) []MaterialDemand {
	demands := make([]MaterialDemand, 0, len(rows))
	fallback := now.AddDate(0, 0, cfg.DefaultRequiredDateOffsetDays)
	for _, row := range rows {
		if row.MaterialID == "" || row.QuantityRequired <= 0 {
			continue
		}
		required := fallback
		if row.DeliveryDate != nil && !row.DeliveryDate.IsZero() {
			required = *row.DeliveryDate
		}
		demands = append(demands, MaterialDemand{
			MaterialID:       row.MaterialID,
			MaterialName:     row.MaterialName,
			OrderID:          row.OrderID,
			RequiredQuantity: row.QuantityRequired,
			RequiredDate:     required,
			Unit:             row.Unit,
			Priority:         parsePriority(row.Priority),
		})
	}
	return demands
}

func parsePriority(raw string) Priority {
	if strings.EqualFold(strings.TrimSpace(raw), string(PriorityUrgent)) {
		return PriorityUrgent
	}
	return PriorityNormal
}
