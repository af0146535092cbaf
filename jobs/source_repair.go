package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/akaunkita/finledger/internal/jobs"
)

// DefaultRepairAfter is how long an entry may stay pending before a sweep retries it.
const DefaultRepairAfter = time.Hour

// Repairer re-links source records to entries left pending.
type Repairer interface {
	RepairPendingSources(ctx context.Context, olderThan time.Duration) (int, error)
}

// SourceRepairJob sweeps pending POS daily entries.
type SourceRepairJob struct {
	repairer Repairer
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
}

// NewSourceRepairJob wires the handler.
func NewSourceRepairJob(repairer Repairer, metrics *jobmetrics.Metrics, logger *slog.Logger) *SourceRepairJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceRepairJob{repairer: repairer, metrics: metrics, logger: logger.With(slog.String("job", TaskLedgerSourceRepair))}
}

// Handle processes TaskLedgerSourceRepair. Entries repaired before a failure
// stay repaired; the task is retried for the rest.
func (j *SourceRepairJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.repairer == nil {
		return errors.New("source repair: handler not configured")
	}
	var payload SourceRepairPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("source repair: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = DefaultRepairAfter
	}

	tracker := j.metrics.Track(TaskLedgerSourceRepair)
	defer func() {
		err = tracker.End(err)
	}()

	repaired, err := j.repairer.RepairPendingSources(ctx, payload.OlderThan)
	j.metrics.AddItems(TaskLedgerSourceRepair, "repaired", repaired)
	if err != nil {
		j.logger.Error("source repair incomplete",
			slog.String("category", "cross_step_inconsistency"),
			slog.Int("repaired", repaired),
			slog.Any("error", err))
		return err
	}
	if repaired > 0 {
		j.logger.Info("source repair complete", slog.Int("repaired", repaired))
	}
	return nil
}
