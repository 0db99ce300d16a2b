package jobs

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPlanRefresh recomputes and re-caches the full plan of a workspace.
	TaskPlanRefresh = "mrp:plan_refresh"
	// TaskIdempotencyCleanup purges expired requisition idempotency keys.
	TaskIdempotencyCleanup = "mrp:idempotency_cleanup"
)

// PlanRefreshPayload names the workspace whose plan is refreshed.
type PlanRefreshPayload struct {
	WorkspaceID string `json:"workspace_id"`
}

// NewPlanRefreshTask constructs an Asynq task for one workspace.
func NewPlanRefreshTask(workspaceID string) (*asynq.Task, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, errors.New("jobs: workspace id required")
	}
	data, err := json.Marshal(PlanRefreshPayload{WorkspaceID: workspaceID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPlanRefresh, data, asynq.Queue(QueueDefault), asynq.Timeout(5*time.Minute)), nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	RetentionSeconds int64 `json:"retention_seconds"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		return nil, errors.New("jobs: retention must be positive")
	}
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionSeconds: int64(retention / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}
