package mrp

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Priority marks how pressing a demand row is.
type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityUrgent Priority = "URGENT"
)

// Action is the procurement verdict for a single material.
type Action string

const (
	ActionAdequate  Action = "ADEQUATE"
	ActionOrderSoon Action = "ORDER_SOON"
	ActionOrderNow  Action = "ORDER_NOW"
	ActionExcess    Action = "EXCESS"
)

// SupplyStatus describes a planned receipt.
type SupplyStatus string

const (
	SupplyStatusPlanned SupplyStatus = "PLANNED"
)

// TransactionType enumerates stock movement directions in the record store.
type TransactionType string

const (
	TransactionTypeIn     TransactionType = "IN"
	TransactionTypeOut    TransactionType = "OUT"
	TransactionTypeAdjust TransactionType = "ADJUST"
)

// TransactionSource tells where a stock movement came from.
type TransactionSource string

const (
	SourcePurchaseOrder       TransactionSource = "PURCHASE_ORDER"
	SourcePurchaseRequisition TransactionSource = "PURCHASE_REQUISITION"
	SourceProduction          TransactionSource = "PRODUCTION"
	SourceManual              TransactionSource = "MANUAL"
)

// MaterialDemand is one required quantity of a material driven by an order.
type MaterialDemand struct {
	MaterialID       string    `json:"material_id"`
	MaterialName     string    `json:"material_name"`
	OrderID          string    `json:"order_id"`
	RequiredQuantity float64   `json:"required_quantity"`
	RequiredDate     time.Time `json:"required_date"`
	Unit             string    `json:"unit"`
	Priority         Priority  `json:"priority"`
}

// PlannedSupply is one expected incoming quantity of a material.
type PlannedSupply struct {
	MaterialID      string          `json:"material_id"`
	PlannedQuantity float64         `json:"planned_quantity"`
	PlannedDate     time.Time       `json:"planned_date"`
	LeadTimeDays    int             `json:"lead_time_days"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	Status          SupplyStatus    `json:"status"`
	Reference       string          `json:"reference,omitempty"`
}

// Supplier is the procurement source of a material. A nil *Supplier means unknown.
type Supplier struct {
	Name         string `json:"name"`
	LeadTimeDays int    `json:"lead_time_days,omitempty"`
}

// InventorySnapshot is the current stock position of a material.
// MinimumStock and ReorderPoint are planning thresholds, not floors.
type InventorySnapshot struct {
	MaterialID   string          `json:"material_id"`
	MaterialName string          `json:"material_name"`
	Unit         string          `json:"unit"`
	CurrentStock float64         `json:"current_stock"`
	MinimumStock float64         `json:"minimum_stock"`
	ReorderPoint float64         `json:"reorder_point"`
	Supplier     *Supplier       `json:"supplier,omitempty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
}

// RequirementResult is the per-material verdict of a planning run.
type RequirementResult struct {
	MaterialID        string   `json:"material_id"`
	MaterialName      string   `json:"material_name"`
	Unit              string   `json:"unit"`
	CurrentStock      float64  `json:"current_stock"`
	TotalDemand       float64  `json:"total_demand"`
	PlannedSupply     float64  `json:"planned_supply"`
	ProjectedStock    float64  `json:"projected_stock"`
	Shortfall         float64  `json:"shortfall"`
	RecommendedAction Action   `json:"recommended_action"`
	UrgentOrderIDs    []string `json:"urgent_order_ids"`
	Recommendations   []string `json:"recommendations"`
}

// DailyProjection is one day of a simulated stock outlook.
type DailyProjection struct {
	Date           time.Time `json:"date"`
	BeginningStock float64   `json:"beginning_stock"`
	Receipts       float64   `json:"receipts"`
	Demands        float64   `json:"demands"`
	EndingStock    float64   `json:"ending_stock"`
	Shortfall      float64   `json:"shortfall"`
	Actions        []string  `json:"actions"`
}

// ConsolidatedLine is one material inside a consolidated purchase proposal.
type ConsolidatedLine struct {
	MaterialID    string          `json:"material_id"`
	MaterialName  string          `json:"material_name,omitempty"`
	Quantity      float64         `json:"quantity"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// ConsolidatedOrder merges several shortfalls into one proposal for a supplier.
type ConsolidatedOrder struct {
	Supplier        string             `json:"supplier"`
	Materials       []ConsolidatedLine `json:"materials"`
	TotalCost       decimal.Decimal    `json:"total_cost"`
	RecommendedDate time.Time          `json:"recommended_date"`
}

// Savings estimates the benefit of consolidating purchases.
type Savings struct {
	ConsolidationSavings decimal.Decimal `json:"consolidation_savings"`
	BulkDiscountSavings  decimal.Decimal `json:"bulk_discount_savings"`
	TotalSavings         decimal.Decimal `json:"total_savings"`
}

// ConsolidationResult groups the proposals and their savings estimate.
type ConsolidationResult struct {
	ConsolidatedOrders []ConsolidatedOrder `json:"consolidated_orders"`
	Savings            Savings             `json:"savings"`
}

var (
	// ErrNotFound indicates the material has no inventory snapshot.
	ErrNotFound = errors.New("mrp: not found")
	// ErrValidation indicates invalid input to a public operation.
	ErrValidation = errors.New("mrp: invalid input")
	// ErrDataAccess indicates the record store failed or returned malformed data.
	ErrDataAccess = errors.New("mrp: data access failed")
	// ErrDuplicate indicates a requisition with the same idempotency key was already recorded.
	ErrDuplicate = errors.New("mrp: duplicate requisition")
)
