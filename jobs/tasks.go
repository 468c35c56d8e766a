package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/pharmaledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpiryScan raises expiry alerts and flags expired batches.
	TaskExpiryScan = "inventory:expiry_scan"
	// TaskStatusRebuild recomputes batch projections from the ledger.
	TaskStatusRebuild = "inventory:status_rebuild"
	// TaskIdempotencyCleanup prunes processed request keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ExpiryScanPayload selects the organisations to scan. Empty OrgIDs falls back to the
// job's configured list.
type ExpiryScanPayload struct {
	OrgIDs      []int64 `json:"org_ids,omitempty"`
	HorizonDays int     `json:"horizon_days,omitempty"`
}

// StatusRebuildPayload selects the organisations whose projections are rebuilt.
type StatusRebuildPayload struct {
	OrgIDs []int64 `json:"org_ids,omitempty"`
}

// IdempotencyCleanupPayload sets how long processed keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewExpiryScanTask constructs an expiry scan task.
func NewExpiryScanTask(payload ExpiryScanPayload) (*asynq.Task, error) {
	return newTask(TaskExpiryScan, payload)
}

// NewStatusRebuildTask constructs a projection rebuild task.
func NewStatusRebuildTask(payload StatusRebuildPayload) (*asynq.Task, error) {
	return newTask(TaskStatusRebuild, payload)
}

// NewIdempotencyCleanupTask constructs a key retention task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{RetentionHours: retentionHours})
}

func newTask(kind string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(kind, data, asynq.Queue(QueueDefault)), nil
}
