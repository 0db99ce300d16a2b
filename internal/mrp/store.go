package mrp

import (
	"context"
	"time"
)

// RecordStore is the external record store the engine reads from and writes to.
type RecordStore interface {
	ListMaterialRequirements(ctx context.Context, workspaceID, orderID string) ([]DemandRow, error)
	ListMaterialInventory(ctx context.Context, workspaceID string) ([]InventoryRow, error)
	ListIncomingTransactions(ctx context.Context, workspaceID string, filter IncomingFilter) ([]SupplyRow, error)
	CreateTransaction(ctx context.Context, input TransactionInput) (string, error)
}

// DemandRow is a material requirement joined with its order and material.
type DemandRow struct {
	RequirementID    string
	OrderID          string
	MaterialID       string
	MaterialName     string
	Unit             string
	QuantityRequired float64
	DeliveryDate     *time.Time
	Priority         string
}

// InventoryRow is a material's stock record.
type InventoryRow struct {
	MaterialID   string
	MaterialName string
	Unit         string
	CurrentStock float64
	MinimumStock float64
	ReorderPoint float64
	Supplier     string
	UnitCost     float64
	LeadTimeDays int
}

// SupplyRow is an incoming stock transaction.
type SupplyRow struct {
	ID           string
	MaterialID   string
	Type         TransactionType
	Source       TransactionSource
	Quantity     float64
	UnitCost     float64
	PlannedDate  *time.Time
	CreatedAt    time.Time
	LeadTimeDays int
	Reference    string
}

// IncomingFilter restricts incoming transactions.
type IncomingFilter struct {
	Type   TransactionType
	Source TransactionSource
	After  time.Time
}

// TransactionInput describes a stock commitment to record.
type TransactionInput struct {
	WorkspaceID string
	MaterialID  string
	Type        TransactionType
	Source      TransactionSource
	Quantity    float64
	PlannedDate time.Time
	Reference   string
	Notes       string
	CreatedBy   string
}
