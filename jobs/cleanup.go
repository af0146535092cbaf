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

// DefaultKeyRetention keeps webhook idempotency keys long enough to cover provider redelivery.
const DefaultKeyRetention = 7 * 24 * time.Hour

// KeyCleaner prunes idempotency keys. shared.IdempotencyStore satisfies it.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// CleanupJob prunes expired idempotency keys.
type CleanupJob struct {
	cleaner KeyCleaner
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewCleanupJob wires the handler.
func NewCleanupJob(cleaner KeyCleaner, metrics *jobmetrics.Metrics, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{cleaner: cleaner, metrics: metrics, logger: logger.With(slog.String("job", TaskIdempotencyCleanup))}
}

// Handle processes TaskIdempotencyCleanup.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.cleaner == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("idempotency cleanup: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.Retention <= 0 {
		payload.Retention = DefaultKeyRetention
	}

	tracker := j.metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		err = tracker.End(err)
	}()

	if err := j.cleaner.Cleanup(ctx, payload.Retention); err != nil {
		j.logger.Warn("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	return nil
}
