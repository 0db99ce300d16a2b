package mrp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/AshAI-Sys/ashley-ai-sub015/internal/platform/httpx"
)

const (
	planRateLimit        = 30
	planRateWindow       = time.Minute
	defaultHorizonDays   = 30
	actorHeader          = "X-Actor-ID"
	idempotencyKeyHeader = "Idempotency-Key"
)

// PlanningService is the subset of Service the HTTP layer depends on.
type PlanningService interface {
	GeneratePlan(ctx context.Context, workspaceID, orderID string) ([]RequirementResult, error)
	ProjectStock(ctx context.Context, workspaceID, materialID string, horizonDays int) ([]DailyProjection, error)
	CreatePurchaseRequisition(ctx context.Context, input RequisitionInput) (string, error)
	OptimizePlan(ctx context.Context, workspaceID string, plan []RequirementResult) (ConsolidationResult, error)
}

// Handler exposes planning over JSON.
type Handler struct {
	logger  *slog.Logger
	service PlanningService
	limiter func(http.Handler) http.Handler
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service PlanningService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := httprate.Limit(planRateLimit, planRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "plan generation rate limit exceeded")
		}),
	)
	return &Handler{logger: logger, service: service, limiter: limiter}
}

// MountRoutes registers planning routes.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/workspaces/{workspaceID}/mrp", func(r chi.Router) {
		r.Group(func(gr chi.Router) {
			gr.Use(h.limiter)
			gr.Get("/plan", h.handlePlan)
			gr.Post("/optimize", h.handleOptimize)
		})
		r.Get("/materials/{materialID}/projection", h.handleProjection)
		r.Post("/requisitions", h.handleCreateRequisition)
	})
}

type planResponse struct {
	Plan        []RequirementResult `json:"plan"`
	GeneratedAt time.Time           `json:"generated_at"`
}

func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	orderID := strings.TrimSpace(r.URL.Query().Get("order_id"))
	plan, err := h.service.GeneratePlan(r.Context(), workspaceID, orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsXLSX(r) {
		h.writeXLSX(w, r, workspaceID, plan, nil)
		return
	}
	httpx.JSON(w, http.StatusOK, planResponse{Plan: plan, GeneratedAt: time.Now().UTC()})
}

func wantsXLSX(r *http.Request) bool {
	return r.URL.Query().Get("format") == "xlsx" || r.Header.Get("Accept") == XLSXContentType
}

func (h *Handler) writeXLSX(w http.ResponseWriter, r *http.Request, workspaceID string, plan []RequirementResult, consolidation *ConsolidationResult) {
	var buf bytes.Buffer
	if err := WritePlanXLSX(&buf, plan, consolidation); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="mrp-plan-%s.xlsx"`, workspaceID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type projectionResponse struct {
	MaterialID  string            `json:"material_id"`
	HorizonDays int               `json:"horizon_days"`
	Days        []DailyProjection `json:"days"`
}

func (h *Handler) handleProjection(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	materialID := chi.URLParam(r, "materialID")
	horizon := defaultHorizonDays
	if raw := strings.TrimSpace(r.URL.Query().Get("horizon")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, fmt.Errorf("%w: horizon must be an integer", ErrValidation))
			return
		}
		horizon = n
	}
	days, err := h.service.ProjectStock(r.Context(), workspaceID, materialID, horizon)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, projectionResponse{MaterialID: materialID, HorizonDays: horizon, Days: days})
}

type requisitionRequest struct {
	MaterialID    string  `json:"material_id"`
	Quantity      float64 `json:"quantity"`
	RequiredDate  string  `json:"required_date"`
	Justification string  `json:"justification"`
}

type requisitionResponse struct {
	Reference string `json:"reference"`
}

func (h *Handler) handleCreateRequisition(w http.ResponseWriter, r *http.Request) {
	var req requisitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, fmt.Errorf("%w: malformed body: %v", ErrValidation, err))
		return
	}
	required, err := parseDate(req.RequiredDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reference, err := h.service.CreatePurchaseRequisition(r.Context(), RequisitionInput{
		WorkspaceID:    chi.URLParam(r, "workspaceID"),
		MaterialID:     req.MaterialID,
		Quantity:       req.Quantity,
		RequiredDate:   required,
		Justification:  req.Justification,
		RequestedBy:    strings.TrimSpace(r.Header.Get(actorHeader)),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, requisitionResponse{Reference: reference})
}

// optimizeRequest accepts the GET /plan response body as is.
type optimizeRequest struct {
	Plan        []RequirementResult `json:"plan"`
	GeneratedAt *time.Time          `json:"generated_at,omitempty"`
}

func (h *Handler) handleOptimize(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	var req optimizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, r, fmt.Errorf("%w: malformed body: %v", ErrValidation, err))
		return
	}
	plan := req.Plan
	if plan == nil {
		generated, err := h.service.GeneratePlan(r.Context(), workspaceID, "")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		plan = generated
	}
	result, err := h.service.OptimizePlan(r.Context(), workspaceID, plan)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if wantsXLSX(r) {
		h.writeXLSX(w, r, workspaceID, plan, &result)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	mapped := err
	switch {
	case errors.Is(err, ErrValidation):
		mapped = fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, ErrNotFound):
		mapped = fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, ErrDuplicate):
		mapped = fmt.Errorf("%w: %v", httpx.ErrDuplicate, err)
	case errors.Is(err, ErrDataAccess):
		mapped = fmt.Errorf("%w: %v", httpx.ErrUnavailable, err)
	}
	if !errors.Is(mapped, httpx.ErrValidation) && !errors.Is(mapped, httpx.ErrNotFound) && !errors.Is(mapped, httpx.ErrDuplicate) {
		h.logger.Error("mrp request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: required_date is required", ErrValidation)
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: required_date must be YYYY-MM-DD or RFC3339", ErrValidation)
	}
	return t, nil
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
		return "actor:" + actor, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
