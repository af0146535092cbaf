package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries ledger repair work ahead of routine syncs.
	QueueCritical = "critical"

	// TaskPOSSync pulls recent POS transactions for one company.
	TaskPOSSync = "pos:sync"
	// TaskLedgerSourceRepair retries link-back for pending POS daily entries.
	TaskLedgerSourceRepair = "ledger:source-repair"
	// TaskIdempotencyCleanup prunes expired webhook idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// POSSyncPayload selects the company and sync mode.
type POSSyncPayload struct {
	CompanyID uuid.UUID `json:"company_id"`
	Full      bool      `json:"full"`
}

// NewPOSSyncTask constructs a POS sync task. Unique keeps a single copy per
// company and mode queued so scheduler ticks do not pile up behind a slow provider.
func NewPOSSyncTask(companyID uuid.UUID, full bool, interval time.Duration) (*asynq.Task, error) {
	if companyID == uuid.Nil {
		return nil, errors.New("jobs: pos sync requires a company")
	}
	data, err := json.Marshal(POSSyncPayload{CompanyID: companyID, Full: full})
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return asynq.NewTask(TaskPOSSync, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Unique(interval),
	), nil
}

// SourceRepairPayload configures a repair sweep.
type SourceRepairPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewSourceRepairTask constructs a ledger source repair task.
func NewSourceRepairTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(SourceRepairPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerSourceRepair, data, asynq.Queue(QueueCritical), asynq.MaxRetry(5)), nil
}

// CleanupPayload sets the idempotency key retention.
type CleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewCleanupTask constructs an idempotency cleanup task.
func NewCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
