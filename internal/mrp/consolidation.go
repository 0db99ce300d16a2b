package mrp

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Catalog resolves procurement details of materials.
type Catalog interface {
	Supplier(materialID string) *Supplier
	UnitCost(materialID string) (decimal.Decimal, bool)
}

// InventoryCatalog serves supplier and cost lookups from inventory snapshots.
type InventoryCatalog map[string]InventorySnapshot

// NewInventoryCatalog indexes snapshots by material ID.
func NewInventoryCatalog(snapshots []InventorySnapshot) InventoryCatalog {
	catalog := make(InventoryCatalog, len(snapshots))
	for _, snap := range snapshots {
		catalog[snap.MaterialID] = snap
	}
	return catalog
}

func (c InventoryCatalog) Supplier(materialID string) *Supplier {
	snap, ok := c[materialID]
	if !ok || snap.Supplier == nil || strings.TrimSpace(snap.Supplier.Name) == "" {
		return nil
	}
	return snap.Supplier
}

func (c InventoryCatalog) UnitCost(materialID string) (decimal.Decimal, bool) {
	snap, ok := c[materialID]
	if !ok || !snap.UnitCost.IsPositive() {
		return decimal.Zero, false
	}
	return snap.UnitCost, true
}

// Consolidator groups shortfalls into purchase proposals per supplier.
type Consolidator struct {
	cfg Config
}

// NewConsolidator builds a Consolidator.
func NewConsolidator(cfg Config) *Consolidator {
	return &Consolidator{cfg: cfg.normalise()}
}

type supplierGroup struct {
	name     string
	leadDays int
	lines    []ConsolidatedLine
}

// Consolidate builds one proposal per supplier from the materials with a
// shortfall. Supplier names are grouped case-insensitively; the first spelling
// seen is kept. A nil catalog resolves every material to the default supplier.
func (c *Consolidator) Consolidate(plan []RequirementResult, catalog Catalog, now time.Time) ConsolidationResult {
	result := ConsolidationResult{
		ConsolidatedOrders: []ConsolidatedOrder{},
		Savings: Savings{
			ConsolidationSavings: decimal.Zero,
			BulkDiscountSavings:  decimal.Zero,
			TotalSavings:         decimal.Zero,
		},
	}

	caser := cases.Fold()
	var order []string
	groups := make(map[string]*supplierGroup)
	for _, item := range plan {
		if item.Shortfall <= 0 {
			continue
		}
		var supplier *Supplier
		if catalog != nil {
			supplier = catalog.Supplier(item.MaterialID)
		}
		name := c.cfg.DefaultSupplierName
		if supplier != nil {
			name = strings.TrimSpace(supplier.Name)
		}
		key := caser.String(name)
		group, ok := groups[key]
		if !ok {
			group = &supplierGroup{name: name, leadDays: c.cfg.leadTime(supplier)}
			groups[key] = group
			order = append(order, key)
		}
		group.lines = append(group.lines, ConsolidatedLine{
			MaterialID:    item.MaterialID,
			MaterialName:  item.MaterialName,
			Quantity:      item.Shortfall,
			EstimatedCost: decimal.NewFromFloat(item.Shortfall).Mul(c.unitCost(catalog, item.MaterialID)).Round(2),
		})
	}

	today := c.cfg.startOfDay(now)
	for _, key := range order {
		group := groups[key]
		total := decimal.Zero
		for _, line := range group.lines {
			total = total.Add(line.EstimatedCost)
		}
		result.ConsolidatedOrders = append(result.ConsolidatedOrders, ConsolidatedOrder{
			Supplier:        group.name,
			Materials:       group.lines,
			TotalCost:       total,
			RecommendedDate: today.AddDate(0, 0, group.leadDays),
		})
		if total.GreaterThan(c.cfg.BulkDiscountThreshold) {
			result.Savings.BulkDiscountSavings = result.Savings.BulkDiscountSavings.Add(total.Mul(c.cfg.BulkDiscountRate))
		}
	}

	result.Savings.BulkDiscountSavings = result.Savings.BulkDiscountSavings.Round(2)
	result.Savings.ConsolidationSavings = c.cfg.ConsolidationSavingPerOrder.Mul(decimal.NewFromInt(int64(len(result.ConsolidatedOrders))))
	result.Savings.TotalSavings = result.Savings.ConsolidationSavings.Add(result.Savings.BulkDiscountSavings)
	return result
}

func (c *Consolidator) unitCost(catalog Catalog, materialID string) decimal.Decimal {
	if c.cfg.PreferSnapshotUnitCost && catalog != nil {
		if cost, ok := catalog.UnitCost(materialID); ok {
			return cost
		}
	}
	return c.cfg.UnitCostPlaceholder
}
