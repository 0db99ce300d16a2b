package mrp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/AshAI-Sys/ashley-ai-sub015/internal/shared"
)

const requisitionModule = "mrp_requisition"

// RequisitionInput describes an intended future receipt of a material.
type RequisitionInput struct {
	WorkspaceID    string    `validate:"required"`
	MaterialID     string    `validate:"required"`
	Quantity       float64   `validate:"gt=0"`
	RequiredDate   time.Time `validate:"required"`
	Justification  string    `validate:"max=2000"`
	RequestedBy    string    `validate:"max=128"`
	IdempotencyKey string    `validate:"max=128"`
}

// CreatePurchaseRequisition records an incoming stock commitment for the
// material and returns its reference. Without an idempotency key every call
// records a new commitment.
func (s *Service) CreatePurchaseRequisition(ctx context.Context, input RequisitionInput) (string, error) {
	input.WorkspaceID = strings.TrimSpace(input.WorkspaceID)
	input.MaterialID = strings.TrimSpace(input.MaterialID)
	if err := s.validate.Struct(input); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	snapshots, err := s.loadInventory(ctx, input.WorkspaceID)
	if err != nil {
		return "", err
	}
	snapshot, ok := findSnapshot(snapshots, input.MaterialID)
	if !ok {
		return "", fmt.Errorf("%w: material %s has no inventory record", ErrNotFound, input.MaterialID)
	}

	key := input.IdempotencyKey
	if key == "" && s.cfg.DeriveRequisitionKeys {
		key = requisitionKey(input)
	}
	// Keys are scoped to the workspace; the key table is shared.
	claimKey := input.WorkspaceID + ":" + key
	claimed := false
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.Claim(ctx, requisitionModule, claimKey); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return "", fmt.Errorf("%w: key %s", ErrDuplicate, key)
			}
			return "", dataAccess("claim idempotency key", err)
		}
		claimed = true
	}

	now := s.now()
	orderDate := input.RequiredDate.AddDate(0, 0, -s.cfg.leadTime(snapshot.Supplier))
	reference := fmt.Sprintf("PR-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
	notes := fmt.Sprintf("Required by %s, order by %s.", input.RequiredDate.Format(time.DateOnly), orderDate.Format(time.DateOnly))
	if j := strings.TrimSpace(input.Justification); j != "" {
		notes += " " + j
	}

	txID, err := s.store.CreateTransaction(ctx, TransactionInput{
		WorkspaceID: input.WorkspaceID,
		MaterialID:  input.MaterialID,
		Type:        TransactionTypeIn,
		Source:      SourcePurchaseRequisition,
		Quantity:    input.Quantity,
		PlannedDate: input.RequiredDate,
		Reference:   reference,
		Notes:       notes,
		CreatedBy:   input.RequestedBy,
	})
	if err != nil {
		if claimed {
			if relErr := s.idempotency.Release(ctx, requisitionModule, claimKey); relErr != nil {
				s.logger.Warn("mrp release idempotency key", slog.String("key", key), slog.Any("error", relErr))
			}
		}
		if errors.Is(err, ErrNotFound) {
			return "", err
		}
		return "", dataAccess("create transaction", err)
	}

	if orderDate.Before(s.cfg.startOfDay(now)) {
		s.logger.Warn("mrp requisition order date already passed",
			slog.String("workspace_id", input.WorkspaceID),
			slog.String("material_id", input.MaterialID),
			slog.String("order_date", orderDate.Format(time.DateOnly)),
		)
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx, input.WorkspaceID); err != nil {
			s.logger.Warn("mrp plan cache bump", slog.String("workspace_id", input.WorkspaceID), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			WorkspaceID: input.WorkspaceID,
			Actor:       input.RequestedBy,
			Action:      "mrp:requisition_create",
			Entity:      "material_transaction",
			EntityID:    txID,
			Meta: map[string]any{
				"material_id":   input.MaterialID,
				"quantity":      input.Quantity,
				"required_date": input.RequiredDate.Format(time.DateOnly),
				"order_date":    orderDate.Format(time.DateOnly),
				"reference":     reference,
			},
		})
	}
	return reference, nil
}

// requisitionKey hashes the arguments that make two requisitions identical.
func requisitionKey(input RequisitionInput) string {
	raw := strings.Join([]string{
		input.WorkspaceID,
		input.MaterialID,
		formatQty(input.Quantity),
		input.RequiredDate.UTC().Format(time.RFC3339),
		strings.TrimSpace(input.Justification),
	}, "\x1f")
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
