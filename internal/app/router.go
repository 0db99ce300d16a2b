package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AshAI-Sys/ashley-ai-sub015/internal/mrp"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/observability"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/platform/httpx"
	"github.com/AshAI-Sys/ashley-ai-sub015/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	MRPHandler *mrp.Handler
	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
	// Checks are probed by /healthz, keyed by component name.
	Checks map[string]Pinger
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.Checks))

	if params.MRPHandler != nil {
		r.Route("/api", params.MRPHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if len(checks) > 0 {
			resp.Components = make(map[string]string, len(checks))
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			for name, check := range checks {
				if check == nil {
					continue
				}
				if err := check.Ping(ctx); err != nil {
					resp.Status = "degraded"
					resp.Components[name] = "down"
					continue
				}
				resp.Components[name] = "up"
			}
		}
		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, status, resp)
	}
}
