package mrp

import (
	"time"

	"github.com/shopspring/decimal"
)

// suppliesFromRows keeps incoming purchase-order commitments dated after now.
// Rows without a planned receipt date use their creation date when the
// UseCreationDateAsPlannedDate policy is on and are skipped otherwise.
func suppliesFromRows(rows []SupplyRow, now time.Time, cfg Config) []PlannedSupply {
	supplies := make([]PlannedSupply, 0, len(rows))
	for _, row := range rows {
		if row.Type != TransactionTypeIn || row.Source != SourcePurchaseOrder {
			continue
		}
		if row.MaterialID == "" || row.Quantity <= 0 {
			continue
		}
		var planned time.Time
		switch {
		case row.PlannedDate != nil && !row.PlannedDate.IsZero():
			planned = *row.PlannedDate
		case cfg.UseCreationDateAsPlannedDate:
			planned = row.CreatedAt
		default:
			continue
		}
		if !planned.After(now) {
			continue
		}
		supplies = append(supplies, PlannedSupply{
			MaterialID:      row.MaterialID,
			PlannedQuantity: row.Quantity,
			PlannedDate:     planned,
			LeadTimeDays:    row.LeadTimeDays,
			UnitCost:        decimal.NewFromFloat(row.UnitCost),
			Status:          SupplyStatusPlanned,
			Reference:       row.Reference,
		})
	}
	return supplies
}

// GroupSuppliesByMaterial indexes supplies by material ID.
func GroupSuppliesByMaterial(supplies []PlannedSupply) map[string][]PlannedSupply {
	grouped := make(map[string][]PlannedSupply)
	for _, s := range supplies {
		grouped[s.MaterialID] = append(grouped[s.MaterialID], s)
	}
	return grouped
}
