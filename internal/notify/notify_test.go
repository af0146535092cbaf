package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type captureEnqueuer struct {
	tasks []*asynq.Task
}

func (c *captureEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "1"}, nil
}

type memorySink struct {
	saved []Payload
}

func (m *memorySink) Save(_ context.Context, p Payload) error {
	m.saved = append(m.saved, p)
	return nil
}

func TestQueueSendRoundTripsThroughHandler(t *testing.T) {
	enq := &captureEnqueuer{}
	queue := NewQueue(enq, "")
	company := uuid.New()
	alert := Alert{
		Type:     "system_alert",
		Title:    "POS Sync Error Spike",
		Message:  "Detected 5 POS sync errors",
		Priority: PriorityMedium,
		Data:     map[string]any{"delta": 5, "threshold": 5},
	}
	require.NoError(t, queue.Send(context.Background(), company, alert))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskCompanyNotification, enq.tasks[0].Type())

	sink := &memorySink{}
	require.NoError(t, NewHandler(sink, nil).Handle(context.Background(), enq.tasks[0]))
	require.Len(t, sink.saved, 1)
	require.Equal(t, company, sink.saved[0].CompanyID)
	require.Equal(t, "POS Sync Error Spike", sink.saved[0].Alert.Title)
	require.EqualValues(t, 5, sink.saved[0].Alert.Data["threshold"])
}

func TestHandlerSkipsRetryOnMalformedPayload(t *testing.T) {
	err := NewHandler(&memorySink{}, nil).Handle(context.Background(), asynq.NewTask(TaskCompanyNotification, []byte("{")))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestNewTaskRequiresCompany(t *testing.T) {
	_, err := NewTask(uuid.Nil, Alert{}, time.Now())
	require.Error(t, err)

	task, err := NewTask(uuid.New(), Alert{Title: "x"}, time.Now())
	require.NoError(t, err)
	var p Payload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	require.Equal(t, "x", p.Alert.Title)
}
