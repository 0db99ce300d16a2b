package mrp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	jobmetrics "github.com/AshAI-Sys/ashley-ai-sub015/internal/jobs"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/shared"
)

// planBuildTimeout bounds a shared plan build, which outlives the callers
// waiting on it.
const planBuildTimeout = 2 * time.Minute

// CachePort abstracts the plan cache.
type CachePort interface {
	BuildKey(ctx context.Context, workspaceID string, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context, workspaceID string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards requisitions against replays.
type IdempotencyPort interface {
	Claim(ctx context.Context, module, key string) error
	Release(ctx context.Context, module, key string) error
}

// Dependencies groups optional collaborators of Service.
type Dependencies struct {
	Cache       CachePort
	Audit       AuditPort
	Idempotency IdempotencyPort
	Metrics     *jobmetrics.Metrics
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Service exposes the planning operations over a record store.
type Service struct {
	store        RecordStore
	cfg          Config
	consolidator *Consolidator
	cache        CachePort
	audit        AuditPort
	idempotency  IdempotencyPort
	metrics      *jobmetrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
	validate     *validator.Validate
	flights      singleflight.Group
}

// NewService builds Service.
func NewService(store RecordStore, cfg Config, deps Dependencies) *Service {
	cfg = cfg.normalise()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:        store,
		cfg:          cfg,
		consolidator: NewConsolidator(cfg),
		cache:        deps.Cache,
		audit:        deps.Audit,
		idempotency:  deps.Idempotency,
		metrics:      deps.Metrics,
		logger:       logger,
		now:          clock,
		validate:     validator.New(),
	}
}

// GeneratePlan computes the requirement of every material referenced by open
// demand, optionally limited to one order, sorted by urgency.
func (s *Service) GeneratePlan(ctx context.Context, workspaceID, orderID string) ([]RequirementResult, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, fmt.Errorf("%w: workspace id required", ErrValidation)
	}
	scope := orderID
	if scope == "" {
		scope = "all"
	}
	flightKey := workspaceID + "/" + scope
	flightCtx := context.WithoutCancel(ctx)
	results := s.flights.DoChan(flightKey, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(flightCtx, planBuildTimeout)
		defer cancel()
		return s.cachedPlan(buildCtx, workspaceID, orderID, scope)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-results:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return clonePlan(res.Val.([]RequirementResult)), nil
}

// clonePlan copies a plan shared by several callers of one flight so that no
// caller can modify the slices another caller holds.
func clonePlan(plan []RequirementResult) []RequirementResult {
	out := make([]RequirementResult, len(plan))
	for i, r := range plan {
		r.UrgentOrderIDs = slices.Clone(r.UrgentOrderIDs)
		r.Recommendations = slices.Clone(r.Recommendations)
		out[i] = r
	}
	return out
}

func (s *Service) cachedPlan(ctx context.Context, workspaceID, orderID, scope string) ([]RequirementResult, error) {
	if s.cache == nil {
		return s.buildPlan(ctx, workspaceID, orderID)
	}
	key, err := s.cache.BuildKey(ctx, workspaceID, "plan", scope)
	if err != nil {
		s.logger.Warn("mrp plan cache key", slog.String("workspace_id", workspaceID), slog.Any("error", err))
		return s.buildPlan(ctx, workspaceID, orderID)
	}
	var plan []RequirementResult
	err = s.cache.FetchJSON(ctx, key, &plan, func(ctx context.Context) (any, error) {
		return s.buildPlan(ctx, workspaceID, orderID)
	})
	if err != nil {
		if !errors.Is(err, ErrCacheUnavailable) {
			return nil, err
		}
		s.logger.Warn("mrp plan cache", slog.String("workspace_id", workspaceID), slog.Any("error", err))
	}
	return plan, nil
}

// RefreshPlan drops cached plans of the workspace and recomputes the full plan.
func (s *Service) RefreshPlan(ctx context.Context, workspaceID string) ([]RequirementResult, error) {
	if s.cache != nil {
		if err := s.cache.Bump(ctx, workspaceID); err != nil {
			s.logger.Warn("mrp plan cache bump", slog.String("workspace_id", workspaceID), slog.Any("error", err))
		}
	}
	return s.GeneratePlan(ctx, workspaceID, "")
}

func (s *Service) buildPlan(ctx context.Context, workspaceID, orderID string) ([]RequirementResult, error) {
	tracker := s.metrics.Track("mrp_plan")
	started := time.Now()
	now := s.now()

	var (
		demands   []MaterialDemand
		snapshots map[string]InventorySnapshot
		supplies  []PlannedSupply
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		demands, err = s.loadDemands(gctx, workspaceID, orderID, now)
		return err
	})
	g.Go(func() error {
		list, err := s.loadInventory(gctx, workspaceID)
		if err != nil {
			return err
		}
		snapshots = make(map[string]InventorySnapshot, len(list))
		for _, snap := range list {
			snapshots[snap.MaterialID] = snap
		}
		return nil
	})
	g.Go(func() error {
		var err error
		supplies, err = s.loadSupplies(gctx, workspaceID, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, tracker.End(err)
	}

	groups := GroupByMaterial(demands)
	supplyByMaterial := GroupSuppliesByMaterial(supplies)
	results := make([]RequirementResult, groups.Len())

	var workers errgroup.Group
	workers.SetLimit(s.cfg.PlanConcurrency)
	for i, materialID := range groups.Keys() {
		workers.Go(func() error {
			var snapshot *InventorySnapshot
			if snap, ok := snapshots[materialID]; ok {
				snapshot = &snap
			}
			results[i] = CalculateRequirement(materialID, groups.Get(materialID), snapshot, supplyByMaterial[materialID], now, s.cfg)
			return nil
		})
	}
	_ = workers.Wait()

	SortPlan(results)

	short := 0
	for _, r := range results {
		if r.Shortfall > 0 {
			short++
		}
	}
	if orderID == "" {
		s.metrics.SetShortfalls(workspaceID, short)
	}
	s.logger.Info("mrp plan generated",
		slog.String("workspace_id", workspaceID),
		slog.String("order_id", orderID),
		slog.Int("materials", len(results)),
		slog.Int("shortfalls", short),
		slog.Duration("elapsed", time.Since(started)),
	)
	return results, tracker.End(nil)
}

// ProjectStock simulates the stock of one material day by day over the horizon.
func (s *Service) ProjectStock(ctx context.Context, workspaceID, materialID string, horizonDays int) ([]DailyProjection, error) {
	if strings.TrimSpace(workspaceID) == "" || strings.TrimSpace(materialID) == "" {
		return nil, fmt.Errorf("%w: workspace and material required", ErrValidation)
	}
	if horizonDays < 0 {
		return nil, fmt.Errorf("%w: horizon must be >= 0", ErrValidation)
	}
	if s.cfg.MaxHorizonDays > 0 && horizonDays > s.cfg.MaxHorizonDays {
		return nil, fmt.Errorf("%w: horizon exceeds %d days", ErrValidation, s.cfg.MaxHorizonDays)
	}
	now := s.now()

	snapshots, err := s.loadInventory(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	snapshot, ok := findSnapshot(snapshots, materialID)
	if !ok {
		return nil, fmt.Errorf("%w: material %s has no inventory record", ErrNotFound, materialID)
	}
	demands, err := s.loadDemands(ctx, workspaceID, "", now)
	if err != nil {
		return nil, err
	}
	supplies, err := s.loadSupplies(ctx, workspaceID, now)
	if err != nil {
		return nil, err
	}
	return ProjectStock(snapshot, demands, supplies, now, horizonDays, s.cfg), nil
}

// OptimizePlan consolidates the shortfalls of a plan into purchase proposals
// per supplier, using the workspace inventory to resolve suppliers.
func (s *Service) OptimizePlan(ctx context.Context, workspaceID string, plan []RequirementResult) (ConsolidationResult, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return ConsolidationResult{}, fmt.Errorf("%w: workspace id required", ErrValidation)
	}
	now := s.now()
	if !hasShortfall(plan) {
		return s.consolidator.Consolidate(nil, nil, now), nil
	}
	snapshots, err := s.loadInventory(ctx, workspaceID)
	if err != nil {
		return ConsolidationResult{}, err
	}
	result := s.consolidator.Consolidate(plan, NewInventoryCatalog(snapshots), now)
	s.logger.Info("mrp plan consolidated",
		slog.String("workspace_id", workspaceID),
		slog.Int("orders", len(result.ConsolidatedOrders)),
		slog.String("total_savings", result.Savings.TotalSavings.StringFixed(2)),
	)
	return result, nil
}

func (s *Service) loadDemands(ctx context.Context, workspaceID, orderID string, now time.Time) ([]MaterialDemand, error) {
	rows, err := s.store.ListMaterialRequirements(ctx, workspaceID, orderID)
	if err != nil {
		return nil, dataAccess("list material requirements", err)
	}
	return demandsFromRows(rows, now, s.cfg), nil
}

func (s *Service) loadSupplies(ctx context.Context, workspaceID string, now time.Time) ([]PlannedSupply, error) {
	rows, err := s.store.ListIncomingTransactions(ctx, workspaceID, IncomingFilter{
		Type:   TransactionTypeIn,
		Source: SourcePurchaseOrder,
		After:  now,
	})
	if err != nil {
		return nil, dataAccess("list incoming transactions", err)
	}
	return suppliesFromRows(rows, now, s.cfg), nil
}

func (s *Service) loadInventory(ctx context.Context, workspaceID string) ([]InventorySnapshot, error) {
	rows, err := s.store.ListMaterialInventory(ctx, workspaceID)
	if err != nil {
		return nil, dataAccess("list material inventory", err)
	}
	snapshots := make([]InventorySnapshot, 0, len(rows))
	for _, row := range rows {
		if row.MaterialID == "" {
			return nil, fmt.Errorf("%w: inventory row without material id", ErrDataAccess)
		}
		snap := InventorySnapshot{
			MaterialID:   row.MaterialID,
			MaterialName: row.MaterialName,
			Unit:         row.Unit,
			CurrentStock: row.CurrentStock,
			MinimumStock: row.MinimumStock,
			ReorderPoint: row.ReorderPoint,
			UnitCost:     decimal.NewFromFloat(row.UnitCost),
		}
		if name := strings.TrimSpace(row.Supplier); name != "" {
			snap.Supplier = &Supplier{Name: name, LeadTimeDays: row.LeadTimeDays}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func findSnapshot(snapshots []InventorySnapshot, materialID string) (InventorySnapshot, bool) {
	for _, snap := range snapshots {
		if snap.MaterialID == materialID {
			return snap, true
		}
	}
	return InventorySnapshot{}, false
}

func hasShortfall(plan []RequirementResult) bool {
	for _, item := range plan {
		if item.Shortfall > 0 {
			return true
		}
	}
	return false
}

func dataAccess(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDataAccess, op, err)
}
