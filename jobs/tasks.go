package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCacheWarm pre-resolves permission sets for active principals.
	TaskCacheWarm = "permcache:warm"
	// TaskAuditPrune deletes audit entries older than the retention window.
	TaskAuditPrune = "audit:prune"
)

// CacheWarmPayload selects which principals to warm. An empty PrincipalIDs
// slice means every principal with at least one grant.
type CacheWarmPayload struct {
	PrincipalIDs []int64 `json:"principal_ids,omitempty"`
}

// NewCacheWarmTask constructs an Asynq task.
func NewCacheWarmTask(payload CacheWarmPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarm, data), nil
}

// AuditPrunePayload overrides the retention window in days. Zero means the
// configured default.
type AuditPrunePayload struct {
	RetentionDays int `json:"retention_days,omitempty"`
}

// NewAuditPruneTask constructs an Asynq task.
func NewAuditPruneTask(payload AuditPrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data), nil
}
