package mrp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AshAI-Sys/ashley-ai-sub015/internal/platform/db"
)

// Repository reads planning inputs from PostgreSQL and records requisitions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var errRepositoryNotInitialised = errors.New("mrp repository not initialised")

// ListMaterialRequirements returns requirement rows of open orders joined with
// the order delivery date and the material master.
func (r *Repository) ListMaterialRequirements(ctx context.Context, workspaceID, orderID string) ([]DemandRow, error) {
	if r == nil || r.pool == nil {
		return nil, errRepositoryNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT mr.id, mr.order_id, mr.material_id,
	COALESCE(mi.name, ''), COALESCE(NULLIF(mr.unit, ''), mi.unit, ''),
	mr.quantity_required, o.delivery_date, COALESCE(o.priority, 'NORMAL')
FROM material_requirements mr
JOIN orders o ON o.id = mr.order_id AND o.workspace_id = mr.workspace_id
LEFT JOIN material_inventory mi ON mi.id = mr.material_id AND mi.workspace_id = mr.workspace_id
WHERE mr.workspace_id = $1
	AND ($2::text = '' OR mr.order_id = $2::text)
	AND o.status NOT IN ('COMPLETED', 'CANCELLED')
ORDER BY mr.created_at ASC, mr.id ASC`, workspaceID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []DemandRow{}
	for rows.Next() {
		var row DemandRow
		if err := rows.Scan(&row.RequirementID, &row.OrderID, &row.MaterialID, &row.MaterialName, &row.Unit, &row.QuantityRequired, &row.DeliveryDate, &row.Priority); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ListMaterialInventory returns the stock record of every material in the workspace.
func (r *Repository) ListMaterialInventory(ctx context.Context, workspaceID string) ([]InventoryRow, error) {
	if r == nil || r.pool == nil {
		return nil, errRepositoryNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(unit, ''), current_stock, COALESCE(minimum_stock, 0),
	COALESCE(reorder_point, 0), COALESCE(supplier, ''), COALESCE(unit_cost, 0), COALESCE(lead_time_days, 0)
FROM material_inventory
WHERE workspace_id = $1
ORDER BY name ASC, id ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []InventoryRow{}
	for rows.Next() {
		var row InventoryRow
		if err := rows.Scan(&row.MaterialID, &row.MaterialName, &row.Unit, &row.CurrentStock, &row.MinimumStock, &row.ReorderPoint, &row.Supplier, &row.UnitCost, &row.LeadTimeDays); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ListIncomingTransactions returns transactions of the filtered type and source
// whose planned receipt (or creation, when unplanned) falls after filter.After.
func (r *Repository) ListIncomingTransactions(ctx context.Context, workspaceID string, filter IncomingFilter) ([]SupplyRow, error) {
	if r == nil || r.pool == nil {
		return nil, errRepositoryNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT mt.id, mt.material_id, mt.type, mt.source, mt.quantity, COALESCE(mt.unit_cost, 0),
	mt.planned_receipt_date, mt.created_at, COALESCE(mi.lead_time_days, 0), COALESCE(mt.reference, '')
FROM material_transactions mt
LEFT JOIN material_inventory mi ON mi.id = mt.material_id AND mi.workspace_id = mt.workspace_id
WHERE mt.workspace_id = $1 AND mt.type = $2 AND mt.source = $3
	AND COALESCE(mt.planned_receipt_date, mt.created_at) > $4
ORDER BY COALESCE(mt.planned_receipt_date, mt.created_at) ASC, mt.id ASC`,
		workspaceID, string(filter.Type), string(filter.Source), filter.After)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []SupplyRow{}
	for rows.Next() {
		var (
			row     SupplyRow
			txType  string
			source  string
			planned *time.Time
		)
		if err := rows.Scan(&row.ID, &row.MaterialID, &txType, &source, &row.Quantity, &row.UnitCost, &planned, &row.CreatedAt, &row.LeadTimeDays, &row.Reference); err != nil {
			return nil, err
		}
		row.Type = TransactionType(txType)
		row.Source = TransactionSource(source)
		row.PlannedDate = planned
		result = append(result, row)
	}
	return result, rows.Err()
}

// CreateTransaction records a stock commitment. The material row is locked
// for the insert so a concurrently deleted material yields ErrNotFound.
func (r *Repository) CreateTransaction(ctx context.Context, input TransactionInput) (string, error) {
	if r == nil || r.pool == nil {
		return "", errRepositoryNotInitialised
	}
	id := uuid.NewString()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists int
		err := tx.QueryRow(ctx, `SELECT 1 FROM material_inventory WHERE workspace_id = $1 AND id = $2 FOR KEY SHARE`,
			input.WorkspaceID, input.MaterialID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: material %s", ErrNotFound, input.MaterialID)
		}
		if err != nil {
			return err
		}
		var planned *time.Time
		if !input.PlannedDate.IsZero() {
			planned = &input.PlannedDate
		}
		_, err = tx.Exec(ctx, `INSERT INTO material_transactions
	(id, workspace_id, material_id, type, source, quantity, planned_receipt_date, reference, notes, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NOW())`,
			id, input.WorkspaceID, input.MaterialID, string(input.Type), string(input.Source), input.Quantity,
			planned, input.Reference, input.Notes, input.CreatedBy)
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: material %s", ErrNotFound, input.MaterialID)
		}
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: transaction %s", ErrDuplicate, id)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
