package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/AshAI-Sys/ashley-ai-sub015/internal/jobs"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/mrp"
)

// PlanRefresher is the planning operation the refresh job drives.
type PlanRefresher interface {
	RefreshPlan(ctx context.Context, workspaceID string) ([]mrp.RequirementResult, error)
}

// PlanRefreshJob recomputes workspace plans so the first request of the day
// is served from cache.
type PlanRefreshJob struct {
	Planner PlanRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// NewPlanRefreshJob wires dependencies for the refresh handler.
func NewPlanRefreshJob(planner PlanRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *PlanRefreshJob {
	return &PlanRefreshJob{Planner: planner, Logger: logger, Metrics: metrics, Timeout: 2 * time.Minute}
}

// Handle processes TaskPlanRefresh tasks.
func (j *PlanRefreshJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Planner == nil {
		return errors.New("plan refresh: handler not configured")
	}
	var payload PlanRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.WorkspaceID == "" {
		return fmt.Errorf("plan refresh: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskPlanRefresh)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.String("workspace_id", payload.WorkspaceID))
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	started := time.Now()
	plan, err := j.Planner.RefreshPlan(ctx, payload.WorkspaceID)
	if err != nil {
		logger.Error("plan refresh failed", slog.Any("error", err))
		if errors.Is(err, mrp.ErrValidation) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	logger.Info("plan refreshed", slog.Int("materials", len(plan)), slog.Duration("duration", time.Since(started)))
	return nil
}

func (j *PlanRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
