package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/AshAI-Sys/ashley-ai-sub015/internal/mrp"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/observability"
	_ "github.com/AshAI-Sys/ashley-ai-sub015/internal/testing/guard"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)

	m := cfg.MRP()
	require.Equal(t, 7, m.DefaultLeadTimeDays)
	require.True(t, m.BulkDiscountThreshold.Equal(decimal.NewFromInt(1000)))
	require.True(t, m.BulkDiscountRate.Equal(decimal.RequireFromString("0.05")))
	require.True(t, m.UnitCostPlaceholder.Equal(decimal.NewFromInt(10)))
	require.True(t, m.ConsolidationSavingPerOrder.Equal(decimal.NewFromInt(50)))
	require.Equal(t, 30, m.DefaultRequiredDateOffsetDays)
	require.True(t, m.UseCreationDateAsPlannedDate)
	require.Equal(t, mrp.DefaultSupplierName, m.DefaultSupplierName)
	require.Equal(t, "UTC", m.Location.String())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MRP_LEAD_TIME_DAYS", "10")
	t.Setenv("MRP_SUPPLIER_LEAD_TIMES", "Acme:3,Zip Co:14")
	t.Setenv("MRP_BULK_DISCOUNT_RATE", "0.1")
	t.Setenv("MRP_TIMEZONE", "Asia/Manila")
	t.Setenv("MRP_REFRESH_WORKSPACES", "ws1,ws2")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"ws1", "ws2"}, cfg.RefreshWorkspaces)

	m := cfg.MRP()
	require.Equal(t, 10, m.DefaultLeadTimeDays)
	require.Equal(t, map[string]int{"Acme": 3, "Zip Co": 14}, m.SupplierLeadTimes)
	require.True(t, m.BulkDiscountRate.Equal(decimal.RequireFromString("0.1")))
	require.Equal(t, "Asia/Manila", m.Location.String())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("MRP_TIMEZONE", "Nowhere/Land")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("MRP_TIMEZONE", "UTC")
	t.Setenv("MRP_BULK_DISCOUNT_RATE", "1.5")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(TestModeEnv, "false")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
}

func TestConnectionOptions(t *testing.T) {
	t.Setenv("PG_MAX_CONNS", "20")
	t.Setenv("PG_MIN_CONNS", "2")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	pg := cfg.Postgres()
	require.Equal(t, int32(20), pg.MaxConns)
	require.Equal(t, int32(2), pg.MinConns)
	require.Equal(t, cfg.PGDSN, pg.DSN)

	require.Equal(t, "redis:6380", cfg.Redis().Addr)
	require.Equal(t, 3, cfg.Redis().DB)
	require.Equal(t, "redis:6380", cfg.Queue().Addr)
	require.Equal(t, 3, cfg.Queue().DB)

	t.Setenv("PG_MIN_CONNS", "30")
	_, err = LoadConfig()
	require.Error(t, err)
}

type stubPlanner struct{}

func (stubPlanner) GeneratePlan(ctx context.Context, workspaceID, orderID string) ([]mrp.RequirementResult, error) {
	return []mrp.RequirementResult{}, nil
}

func (stubPlanner) ProjectStock(ctx context.Context, workspaceID, materialID string, horizonDays int) ([]mrp.DailyProjection, error) {
	return nil, mrp.ErrNotFound
}

func (stubPlanner) CreatePurchaseRequisition(ctx context.Context, input mrp.RequisitionInput) (string, error) {
	return "", mrp.ErrValidation
}

func (stubPlanner) OptimizePlan(ctx context.Context, workspaceID string, plan []mrp.RequirementResult) (mrp.ConsolidationResult, error) {
	return mrp.ConsolidationResult{}, nil
}

func TestRouterMountsRoutes(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Config:     &Config{},
		MRPHandler: mrp.NewHandler(nil, stubPlanner{}),
		Metrics:    metrics,
		Checks: map[string]Pinger{
			"postgres": PingFunc(func(context.Context) error { return nil }),
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workspaces/ws1/mrp/plan", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workspaces/ws1/mrp/materials/X/projection", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "up", health.Components["postgres"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "mrp_http_requests_total"))
}

func TestHealthzReportsDegradedComponents(t *testing.T) {
	router := NewRouter(RouterParams{
		Checks: map[string]Pinger{
			"redis": PingFunc(func(context.Context) error { return errors.New("refused") }),
		},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mrp.env")
	require.NoError(t, os.WriteFile(path, []byte("MRP_LEAD_TIME_DAYS=12\nMRP_DEFAULT_SUPPLIER=File Supplier\n"), 0o600))
	t.Setenv(EnvFileEnv, path)
	// Registered so the values godotenv sets are restored after the test.
	t.Setenv("MRP_LEAD_TIME_DAYS", "")
	t.Setenv("MRP_DEFAULT_SUPPLIER", "Process Supplier")
	require.NoError(t, os.Unsetenv("MRP_LEAD_TIME_DAYS"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 12, cfg.LeadTimeDays)
	require.Equal(t, "Process Supplier", cfg.DefaultSupplier)

	t.Setenv(EnvFileEnv, filepath.Join(t.TempDir(), "missing.env"))
	_, err = LoadConfig()
	require.Error(t, err)
}
