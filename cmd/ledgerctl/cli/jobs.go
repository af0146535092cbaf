package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/akaunkita/finledger/jobs"
)

// JobsAPI is the queue surface the CLI drives. JobsCLI implements it over asynq.
type JobsAPI interface {
	TriggerSync(ctx context.Context, companyID uuid.UUID, full bool) (*asynq.TaskInfo, error)
	TriggerRepair(ctx context.Context, olderThan time.Duration) (*asynq.TaskInfo, error)
	InspectQueues(ctx context.Context) ([]QueueStats, error)
	ListScheduled(ctx context.Context, queue string, size int) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis connection.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerSync enqueues an on-demand POS sync for one company.
func (c *JobsCLI) TriggerSync(ctx context.Context, companyID uuid.UUID, full bool) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	info, err := c.client.EnqueuePOSSync(ctx, companyID, full)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, fmt.Errorf("jobs cli: a sync for %s is already queued", companyID)
	}
	return info, err
}

// TriggerRepair enqueues a ledger source repair sweep.
func (c *JobsCLI) TriggerRepair(ctx context.Context, olderThan time.Duration) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueSourceRepair(ctx, olderThan)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueues reports metrics for every queue the worker consumes.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	queues := []string{jobs.QueueCritical, jobs.QueueDefault}
	out := make([]QueueStats, 0, len(queues))
	for _, q := range queues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := c.inspector.GetQueueInfo(q)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			out = append(out, QueueStats{Queue: q})
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, QueueStats{
			Queue:     q,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
		})
	}
	return out, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(_ context.Context, queue string, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if queue == "" {
		queue = jobs.QueueDefault
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(queue, asynq.PageSize(size), asynq.Page(1))
}

type queuedTask struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Queue string `json:"queue"`
	State string `json:"state"`
	Next  string `json:"nextProcessAt,omitempty"`
}

func taskSummary(info *asynq.TaskInfo) queuedTask {
	if info == nil {
		return queuedTask{}
	}
	out := queuedTask{ID: info.ID, Type: info.Type, Queue: info.Queue, State: info.State.String()}
	if !info.NextProcessAt.IsZero() {
		out.Next = info.NextProcessAt.UTC().Format(time.RFC3339)
	}
	return out
}

func newJobsCommand(env *Env, flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	var olderThan time.Duration
	repair := &cobra.Command{
		Use:   "repair",
		Short: "Queue a sweep that re-links source records for pending ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := env.queue()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			info, err := q.TriggerRepair(ctx, olderThan)
			if err != nil {
				return err
			}
			return flags.print(cmd.OutOrStdout(), taskSummary(info))
		},
	}
	repair.Flags().DurationVar(&olderThan, "older-than", jobs.DefaultRepairAfter, "only entries pending at least this long")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Show queue depths",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := env.queue()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			stats, err := q.InspectQueues(ctx)
			if err != nil {
				return err
			}
			return flags.print(cmd.OutOrStdout(), stats)
		},
	}

	var queue string
	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List tasks waiting for their process time",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := env.queue()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			infos, err := q.ListScheduled(ctx, queue, size)
			if err != nil {
				return err
			}
			out := make([]queuedTask, 0, len(infos))
			for _, info := range infos {
				out = append(out, taskSummary(info))
			}
			return flags.print(cmd.OutOrStdout(), out)
		},
	}
	scheduled.Flags().StringVar(&queue, "queue", jobs.QueueDefault, "queue name")
	scheduled.Flags().IntVar(&size, "size", 10, "page size")

	cmd.AddCommand(repair, inspect, scheduled)
	return cmd
}
