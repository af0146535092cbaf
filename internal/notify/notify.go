// Package notify delivers company notifications through the background queue.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskCompanyNotification is the asynq task type carrying an Alert.
const TaskCompanyNotification = "notify:company"

// Priority grades how urgently an alert should surface.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Alert is an operational signal raised to a company's users.
type Alert struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Priority Priority       `json:"priority"`
	Data     map[string]any `json:"data,omitempty"`
}

// Payload is the queued form of an alert.
type Payload struct {
	CompanyID uuid.UUID `json:"company_id"`
	Alert     Alert     `json:"alert"`
	RaisedAt  time.Time `json:"raised_at"`
}

// NewTask builds the asynq task for an alert.
func NewTask(companyID uuid.UUID, alert Alert, at time.Time) (*asynq.Task, error) {
	if companyID == uuid.Nil {
		return nil, errors.New("notify: company required")
	}
	data, err := json.Marshal(Payload{CompanyID: companyID, Alert: alert, RaisedAt: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCompanyNotification, data), nil
}

// Enqueuer abstracts asynq.Client for testing.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue sends alerts by enqueueing them.
type Queue struct {
	client Enqueuer
	queue  string
	now    func() time.Time
}

// NewQueue constructs a Queue targeting the named asynq queue.
func NewQueue(client Enqueuer, queue string) *Queue {
	if queue == "" {
		queue = "default"
	}
	return &Queue{client: client, queue: queue, now: time.Now}
}

// Send enqueues the alert for asynchronous delivery.
func (q *Queue) Send(ctx context.Context, companyID uuid.UUID, alert Alert) error {
	if q == nil || q.client == nil {
		return errors.New("notify: queue not configured")
	}
	task, err := NewTask(companyID, alert, q.now())
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task, asynq.Queue(q.queue), asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}
