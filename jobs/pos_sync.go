package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/akaunkita/finledger/internal/jobs"
	"github.com/akaunkita/finledger/internal/pos"
	"github.com/akaunkita/finledger/internal/shared"
)

// Syncer is the POS sync entry point the job drives.
type Syncer interface {
	SyncRecentSales(ctx context.Context, companyID uuid.UUID, opts pos.SyncOptions) (pos.SyncResult, error)
}

// ScheduleMetrics counts scheduler-triggered runs by result.
type ScheduleMetrics interface {
	ScheduledRun(result string)
}

// POSSyncJob runs scheduled POS syncs.
type POSSyncJob struct {
	syncer   Syncer
	schedule ScheduleMetrics
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
}

// NewPOSSyncJob wires the handler. schedule and metrics may be nil.
func NewPOSSyncJob(syncer Syncer, schedule ScheduleMetrics, metrics *jobmetrics.Metrics, logger *slog.Logger) *POSSyncJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &POSSyncJob{syncer: syncer, schedule: schedule, metrics: metrics, logger: logger.With(slog.String("job", TaskPOSSync))}
}

// Handle processes TaskPOSSync. An overlapping run or a disabled provider is
// a skip, not a failure, so asynq does not retry it.
func (j *POSSyncJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.syncer == nil {
		return errors.New("pos sync: handler not configured")
	}
	var payload POSSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("pos sync: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics.Track(TaskPOSSync)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger.With(slog.String("company_id", payload.CompanyID.String()), slog.Bool("full", payload.Full))
	res, err := j.syncer.SyncRecentSales(ctx, payload.CompanyID, pos.SyncOptions{Full: payload.Full})
	switch {
	case errors.Is(err, shared.ErrAlreadyRunning):
		j.scheduled("skipped")
		logger.Info("pos sync skipped", slog.String("reason", "already_running"))
		return nil
	case errors.Is(err, pos.ErrProviderDisabled):
		j.scheduled("skipped")
		logger.Info("pos sync skipped", slog.String("reason", "provider_disabled"))
		return nil
	case err != nil:
		j.scheduled("error")
		logger.Error("pos sync failed", slog.Any("error", err))
		return err
	}
	j.scheduled("ok")
	j.metrics.AddItems(TaskPOSSync, "created", res.Created)
	j.metrics.AddItems(TaskPOSSync, "skipped", res.Skipped)
	j.metrics.AddItems(TaskPOSSync, "error", res.Errors)
	logger.Info("pos sync complete",
		slog.Int("created", res.Created),
		slog.Int("skipped", res.Skipped),
		slog.Int("errors", res.Errors))
	return nil
}

func (j *POSSyncJob) scheduled(result string) {
	if j.schedule != nil {
		j.schedule.ScheduledRun(result)
	}
}
