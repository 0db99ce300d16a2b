package mrp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/AshAI-Sys/ashley-ai-sub015/internal/shared"
)

type memoryStore struct {
	mu           sync.Mutex
	demands      []DemandRow
	inventory    []InventoryRow
	supplies     []SupplyRow
	created      []TransactionInput
	demandCalls  int
	lastFilter   IncomingFilter
	listErr      error
	createErr    error
	inventoryErr error
}

func (m *memoryStore) ListMaterialRequirements(ctx context.Context, workspaceID, orderID string) ([]DemandRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.demandCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []DemandRow
	for _, row := range m.demands {
		if orderID == "" || row.OrderID == orderID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memoryStore) ListMaterialInventory(ctx context.Context, workspaceID string) ([]InventoryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inventoryErr != nil {
		return nil, m.inventoryErr
	}
	return append([]InventoryRow(nil), m.inventory...), nil
}

func (m *memoryStore) ListIncomingTransactions(ctx context.Context, workspaceID string, filter IncomingFilter) ([]SupplyRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	return append([]SupplyRow(nil), m.supplies...), nil
}

func (m *memoryStore) CreateTransaction(ctx context.Context, input TransactionInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	m.created = append(m.created, input)
	return "tx-" + input.MaterialID, nil
}

type memoryKeys struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released int
}

func (k *memoryKeys) Claim(ctx context.Context, module, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.claimed == nil {
		k.claimed = map[string]bool{}
	}
	if k.claimed[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	k.claimed[module+"/"+key] = true
	return nil
}

func (k *memoryKeys) Release(ctx context.Context, module, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.claimed, module+"/"+key)
	k.released++
	return nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func fixedClock() time.Time { return testNow }

func sortScenarioStore() *memoryStore {
	due := testNow.AddDate(0, 0, 20)
	return &memoryStore{
		demands: []DemandRow{
			{OrderID: "o1", MaterialID: "A", QuantityRequired: 15, DeliveryDate: &due},
			{OrderID: "o1", MaterialID: "B", QuantityRequired: 5, DeliveryDate: &due},
			{OrderID: "o2", MaterialID: "C", QuantityRequired: 12, DeliveryDate: &due},
		},
		inventory: []InventoryRow{
			{MaterialID: "A", MaterialName: "Thread", CurrentStock: 10, Supplier: "Acme"},
			{MaterialID: "B", MaterialName: "Buttons", CurrentStock: 10},
			{MaterialID: "C", MaterialName: "Zippers", CurrentStock: 0, Supplier: "acme", UnitCost: 4},
		},
	}
}

func TestGeneratePlanSortsByShortfall(t *testing.T) {
	store := sortScenarioStore()
	svc := NewService(store, DefaultConfig(), Dependencies{Clock: fixedClock})

	plan, err := svc.GeneratePlan(context.Background(), "ws1", "")
	require.NoError(t, err)
	require.Len(t, plan, 3)
	require.Equal(t, "C", plan[0].MaterialID)
	require.Equal(t, 12.0, plan[0].Shortfall)
	require.Equal(t, "A", plan[1].MaterialID)
	require.Equal(t, 5.0, plan[1].Shortfall)
	require.Equal(t, "B", plan[2].MaterialID)
	require.Equal(t, ActionAdequate, plan[2].RecommendedAction)

	require.Equal(t, TransactionTypeIn, store.lastFilter.Type)
	require.Equal(t, SourcePurchaseOrder, store.lastFilter.Source)
	require.True(t, store.lastFilter.After.Equal(testNow))
}

func TestGeneratePlanFiltersByOrder(t *testing.T) {
	svc := NewService(sortScenarioStore(), DefaultConfig(), Dependencies{Clock: fixedClock})

	plan, err := svc.GeneratePlan(context.Background(), "ws1", "o1")
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.Equal(t, "A", plan[0].MaterialID)
}

func TestGeneratePlanCountsSuppliesFromStore(t *testing.T) {
	store := sortScenarioStore()
	soon := testNow.AddDate(0, 0, 2)
	store.supplies = []SupplyRow{
		{MaterialID: "C", Type: TransactionTypeIn, Source: SourcePurchaseOrder, Quantity: 10, PlannedDate: &soon},
		{MaterialID: "C", Type: TransactionTypeIn, Source: SourcePurchaseOrder, Quantity: 15, PlannedDate: &soon},
	}
	svc := NewService(store, DefaultConfig(), Dependencies{Clock: fixedClock})

	plan, err := svc.GeneratePlan(context.Background(), "ws1", "")
	require.NoError(t, err)
	for _, item := range plan {
		if item.MaterialID == "C" {
			require.Equal(t, 25.0, item.PlannedSupply)
			require.Equal(t, 13.0, item.ProjectedStock)
		}
	}
	require.Equal(t, "A", plan[0].MaterialID)
}

func TestGeneratePlanPropagatesDataAccessErrors(t *testing.T) {
	store := sortScenarioStore()
	boom := errors.New("connection refused")
	store.listErr = boom
	svc := NewService(store, DefaultConfig(), Dependencies{Clock: fixedClock})

	_, err := svc.GeneratePlan(context.Background(), "ws1", "")
	require.ErrorIs(t, err, ErrDataAccess)
	require.ErrorIs(t, err, boom)

	_, err = svc.GeneratePlan(context.Background(), " ", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestGeneratePlanUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := sortScenarioStore()
	svc := NewService(store, DefaultConfig(), Dependencies{
		Cache: NewPlanCache(client, time.Minute),
		Clock: fixedClock,
	})
	ctx := context.Background()

	first, err := svc.GeneratePlan(ctx, "ws1", "")
	require.NoError(t, err)
	second, err := svc.GeneratePlan(ctx, "ws1", "")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, store.demandCalls)

	_, err = svc.RefreshPlan(ctx, "ws1")
	require.NoError(t, err)
	require.Equal(t, 2, store.demandCalls)

	_, err = svc.GeneratePlan(ctx, "ws2", "")
	require.NoError(t, err)
	require.Equal(t, 3, store.demandCalls)
}

func TestServiceProjectStock(t *testing.T) {
	store := sortScenarioStore()
	svc := NewService(store, DefaultConfig(), Dependencies{Clock: fixedClock})
	ctx := context.Background()

	days, err := svc.ProjectStock(ctx, "ws1", "A", 30)
	require.NoError(t, err)
	require.Len(t, days, 31)
	require.Equal(t, 15.0, days[20].Demands)
	require.Equal(t, 5.0, days[20].Shortfall)

	_, err = svc.ProjectStock(ctx, "ws1", "missing", 30)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ProjectStock(ctx, "ws1", "A", -1)
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.ProjectStock(ctx, "ws1", "A", 366)
	require.ErrorIs(t, err, ErrValidation)
}

func TestServiceOptimizePlan(t *testing.T) {
	store := sortScenarioStore()
	svc := NewService(store, DefaultConfig(), Dependencies{Clock: fixedClock})
	ctx := context.Background()

	plan, err := svc.GeneratePlan(ctx, "ws1", "")
	require.NoError(t, err)
	res, err := svc.OptimizePlan(ctx, "ws1", plan)
	require.NoError(t, err)
	require.Len(t, res.ConsolidatedOrders, 1)
	require.Equal(t, "acme", res.ConsolidatedOrders[0].Supplier)
	require.Len(t, res.ConsolidatedOrders[0].Materials, 2)

	store.inventoryErr = errors.New("down")
	empty, err := svc.OptimizePlan(ctx, "ws1", nil)
	require.NoError(t, err)
	require.Empty(t, empty.ConsolidatedOrders)
	require.True(t, empty.Savings.TotalSavings.IsZero())
}

func TestCreatePurchaseRequisition(t *testing.T) {
	store := sortScenarioStore()
	audit := &memoryAudit{}
	svc := NewService(store, DefaultConfig(), Dependencies{Clock: fixedClock, Audit: audit})
	ctx := context.Background()
	required := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	input := RequisitionInput{
		WorkspaceID:   "ws1",
		MaterialID:    "A",
		Quantity:      25,
		RequiredDate:  required,
		Justification: "Spring collection",
		RequestedBy:   "user-7",
	}

	ref1, err := svc.CreatePurchaseRequisition(ctx, input)
	require.NoError(t, err)
	ref2, err := svc.CreatePurchaseRequisition(ctx, input)
	require.NoError(t, err)
	require.NotEqual(t, ref1, ref2)
	require.Regexp(t, `^PR-20250310-[0-9A-F]{8}$`, ref1)

	require.Len(t, store.created, 2)
	tx := store.created[0]
	require.Equal(t, TransactionTypeIn, tx.Type)
	require.Equal(t, SourcePurchaseRequisition, tx.Source)
	require.Equal(t, 25.0, tx.Quantity)
	require.Equal(t, required, tx.PlannedDate)
	require.Equal(t, "user-7", tx.CreatedBy)
	require.Equal(t, "Required by 2025-04-01, order by 2025-03-25. Spring collection", tx.Notes)

	require.Len(t, audit.logs, 2)
	require.Equal(t, "tx-A", audit.logs[0].EntityID)
}

func TestCreatePurchaseRequisitionErrors(t *testing.T) {
	store := sortScenarioStore()
	svc := NewService(store, DefaultConfig(), Dependencies{Clock: fixedClock})
	ctx := context.Background()
	valid := RequisitionInput{WorkspaceID: "ws1", MaterialID: "A", Quantity: 1, RequiredDate: testNow}

	bad := valid
	bad.Quantity = 0
	_, err := svc.CreatePurchaseRequisition(ctx, bad)
	require.ErrorIs(t, err, ErrValidation)

	bad = valid
	bad.RequiredDate = time.Time{}
	_, err = svc.CreatePurchaseRequisition(ctx, bad)
	require.ErrorIs(t, err, ErrValidation)

	bad = valid
	bad.MaterialID = "missing"
	_, err = svc.CreatePurchaseRequisition(ctx, bad)
	require.ErrorIs(t, err, ErrNotFound)

	store.createErr = errors.New("insert failed")
	_, err = svc.CreatePurchaseRequisition(ctx, valid)
	require.ErrorIs(t, err, ErrDataAccess)
	require.Empty(t, store.created)
}

func TestCreatePurchaseRequisitionIdempotencyKey(t *testing.T) {
	store := sortScenarioStore()
	keys := &memoryKeys{}
	cfg := DefaultConfig()
	cfg.DeriveRequisitionKeys = true
	svc := NewService(store, cfg, Dependencies{Clock: fixedClock, Idempotency: keys})
	ctx := context.Background()
	input := RequisitionInput{WorkspaceID: "ws1", MaterialID: "C", Quantity: 12, RequiredDate: testNow.AddDate(0, 0, 14)}

	_, err := svc.CreatePurchaseRequisition(ctx, input)
	require.NoError(t, err)
	_, err = svc.CreatePurchaseRequisition(ctx, input)
	require.ErrorIs(t, err, ErrDuplicate)
	require.Len(t, store.created, 1)

	input.Quantity = 13
	store.createErr = errors.New("insert failed")
	_, err = svc.CreatePurchaseRequisition(ctx, input)
	require.ErrorIs(t, err, ErrDataAccess)
	require.Equal(t, 1, keys.released)

	store.createErr = nil
	_, err = svc.CreatePurchaseRequisition(ctx, input)
	require.NoError(t, err)
	require.Len(t, store.created, 2)
}

func TestRequisitionOrderDateUsesSupplierLeadTime(t *testing.T) {
	store := sortScenarioStore()
	store.inventory[0].LeadTimeDays = 10
	svc := NewService(store, DefaultConfig(), Dependencies{Clock: fixedClock})

	_, err := svc.CreatePurchaseRequisition(context.Background(), RequisitionInput{
		WorkspaceID: "ws1", MaterialID: "A", Quantity: 1, RequiredDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, "Required by 2025-04-01, order by 2025-03-22.", store.created[0].Notes)
}

// gatedStore blocks requirement reads until release is closed.
type gatedStore struct {
	*memoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) ListMaterialRequirements(ctx context.Context, workspaceID, orderID string) ([]DemandRow, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.memoryStore.ListMaterialRequirements(ctx, workspaceID, orderID)
}

func TestGeneratePlanSharedBuildSurvivesCallerCancel(t *testing.T) {
	store := &gatedStore{
		memoryStore: sortScenarioStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := NewService(store, DefaultConfig(), Dependencies{Clock: fixedClock})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.GeneratePlan(firstCtx, "ws1", "")
		firstErr <- err
	}()
	<-store.entered

	type outcome struct {
		plan []RequirementResult
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		plan, err := svc.GeneratePlan(context.Background(), "ws1", "")
		second <- outcome{plan: plan, err: err}
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(store.release)

	got := <-second
	require.NoError(t, got.err)
	require.Len(t, got.plan, 3)
}

func TestGeneratePlanSharedBuildReturnsIndependentSlices(t *testing.T) {
	store := &gatedStore{
		memoryStore: sortScenarioStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := NewService(store, DefaultConfig(), Dependencies{Clock: fixedClock})

	type outcome struct {
		plan []RequirementResult
		err  error
	}
	plans := make(chan outcome, 2)
	go func() {
		plan, err := svc.GeneratePlan(context.Background(), "ws1", "")
		plans <- outcome{plan: plan, err: err}
	}()
	<-store.entered
	go func() {
		plan, err := svc.GeneratePlan(context.Background(), "ws1", "")
		plans <- outcome{plan: plan, err: err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	a, b := <-plans, <-plans
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	first, second := a.plan, b.plan
	require.Equal(t, first, second)
	require.NotEmpty(t, first[0].Recommendations)
	want := first[0].Recommendations[0]

	first[0].Recommendations[0] = "changed"
	first[0].UrgentOrderIDs = append(first[0].UrgentOrderIDs[:0], "changed")
	require.Equal(t, want, second[0].Recommendations[0])
	require.NotContains(t, second[0].UrgentOrderIDs, "changed")
}

func TestCreatePurchaseRequisitionKeysScopedToWorkspace(t *testing.T) {
	store := sortScenarioStore()
	keys := &memoryKeys{}
	svc := NewService(store, DefaultConfig(), Dependencies{Clock: fixedClock, Idempotency: keys})
	ctx := context.Background()
	input := RequisitionInput{WorkspaceID: "ws1", MaterialID: "C", Quantity: 12,
		RequiredDate: testNow.AddDate(0, 0, 14), IdempotencyKey: "req-1"}

	_, err := svc.CreatePurchaseRequisition(ctx, input)
	require.NoError(t, err)

	input.WorkspaceID = "ws2"
	_, err = svc.CreatePurchaseRequisition(ctx, input)
	require.NoError(t, err)

	_, err = svc.CreatePurchaseRequisition(ctx, input)
	require.ErrorIs(t, err, ErrDuplicate)
	require.Len(t, store.created, 2)
}

// brokenCache loads through but fails every write.
type brokenCache struct{}

func (brokenCache) BuildKey(ctx context.Context, workspaceID string, parts ...string) (string, error) {
	return "mrp:" + workspaceID, nil
}

func (brokenCache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	if err := roundTrip(value, dest); err != nil {
		return err
	}
	return fmt.Errorf("%w: set %s: connection refused", ErrCacheUnavailable, key)
}

func (brokenCache) Bump(ctx context.Context, workspaceID string) error { return nil }

func TestGeneratePlanServesWhenCacheWriteFails(t *testing.T) {
	store := sortScenarioStore()
	svc := NewService(store, DefaultConfig(), Dependencies{Cache: brokenCache{}, Clock: fixedClock})

	plan, err := svc.GeneratePlan(context.Background(), "ws1", "")
	require.NoError(t, err)
	require.Len(t, plan, 3)

	store.listErr = errors.New("connection reset")
	_, err = svc.GeneratePlan(context.Background(), "ws1", "")
	require.ErrorIs(t, err, ErrDataAccess)
}

func TestPlanCacheFetchDegradesWhenRedisFails(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewPlanCache(client, time.Minute)
	mr.SetError("ERR cache offline")

	var got []string
	err := cache.FetchJSON(context.Background(), "mrp:ws1:plan", &got, func(context.Context) (any, error) {
		return []string{"A", "B"}, nil
	})
	require.ErrorIs(t, err, ErrCacheUnavailable)
	require.Equal(t, []string{"A", "B"}, got)
}
