package mrp

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// DefaultSupplierName labels shortfalls whose supplier could not be resolved.
const DefaultSupplierName = "Default Supplier"

// Config collects the planning constants and fallback policies of the engine.
type Config struct {
	// DefaultLeadTimeDays is used for requisition order dates and proposal dates
	// when no supplier specific lead time is known.
	DefaultLeadTimeDays int
	// SupplierLeadTimes overrides the lead time per supplier name (case-insensitive).
	SupplierLeadTimes map[string]int

	UnitCostPlaceholder         decimal.Decimal
	PreferSnapshotUnitCost      bool
	ConsolidationSavingPerOrder decimal.Decimal
	BulkDiscountThreshold       decimal.Decimal
	BulkDiscountRate            decimal.Decimal
	DefaultSupplierName         string

	// DefaultRequiredDateOffsetDays dates demand of orders without a delivery date.
	DefaultRequiredDateOffsetDays int
	// UseCreationDateAsPlannedDate lets supply rows without a planned receipt date
	// fall back to their creation timestamp. When false such rows are skipped.
	UseCreationDateAsPlannedDate bool

	UrgentWindowDays      int
	ExcessStockMultiplier float64
	MaxHorizonDays        int
	PlanConcurrency       int
	// DeriveRequisitionKeys hashes requisition arguments into an idempotency key
	// when the caller does not supply one.
	DeriveRequisitionKeys bool

	// Location decides calendar-day boundaries.
	Location *time.Location
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLeadTimeDays:           7,
		UnitCostPlaceholder:           decimal.NewFromInt(10),
		ConsolidationSavingPerOrder:   decimal.NewFromInt(50),
		BulkDiscountThreshold:         decimal.NewFromInt(1000),
		BulkDiscountRate:              decimal.NewFromFloat(0.05),
		DefaultSupplierName:           DefaultSupplierName,
		DefaultRequiredDateOffsetDays: 30,
		UseCreationDateAsPlannedDate:  true,
		UrgentWindowDays:              7,
		ExcessStockMultiplier:         2,
		MaxHorizonDays:                365,
		PlanConcurrency:               8,
		Location:                      time.UTC,
	}
}

func (c Config) normalise() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.PlanConcurrency <= 0 {
		c.PlanConcurrency = 1
	}
	if strings.TrimSpace(c.DefaultSupplierName) == "" {
		c.DefaultSupplierName = DefaultSupplierName
	}
	if len(c.SupplierLeadTimes) > 0 {
		folded := make(map[string]int, len(c.SupplierLeadTimes))
		caser := cases.Fold()
		for name, days := range c.SupplierLeadTimes {
			folded[caser.String(strings.TrimSpace(name))] = days
		}
		c.SupplierLeadTimes = folded
	}
	return c
}

// startOfDay truncates t to midnight in the configured location.
func (c Config) startOfDay(t time.Time) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func (c Config) dayKey(t time.Time) string {
	return c.startOfDay(t).Format(time.DateOnly)
}

// leadTime prefers a configured supplier override, then the supplier record,
// then the default lead time.
func (c Config) leadTime(supplier *Supplier) int {
	if supplier == nil {
		return c.DefaultLeadTimeDays
	}
	if days, ok := c.SupplierLeadTimes[cases.Fold().String(strings.TrimSpace(supplier.Name))]; ok && days >= 0 {
		return days
	}
	if supplier.LeadTimeDays > 0 {
		return supplier.LeadTimeDays
	}
	return c.DefaultLeadTimeDays
}
