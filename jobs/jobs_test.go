package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/akaunkita/finledger/internal/jobs"
	"github.com/akaunkita/finledger/internal/pos"
	"github.com/akaunkita/finledger/internal/shared"
)

type stubSyncer struct {
	calls []POSSyncPayload
	res   pos.SyncResult
	err   error
}

func (s *stubSyncer) SyncRecentSales(_ context.Context, companyID uuid.UUID, opts pos.SyncOptions) (pos.SyncResult, error) {
	s.calls = append(s.calls, POSSyncPayload{CompanyID: companyID, Full: opts.Full})
	return s.res, s.err
}

type scheduleCounter map[string]int

func (c scheduleCounter) ScheduledRun(result string) { c[result]++ }

func TestPOSSyncJobOutcomes(t *testing.T) {
	company := uuid.New()
	task, err := NewPOSSyncTask(company, true, time.Minute)
	require.NoError(t, err)
	require.Equal(t, TaskPOSSync, task.Type())

	cases := []struct {
		name    string
		err     error
		result  string
		wantErr bool
	}{
		{name: "ok", result: "ok"},
		{name: "overlap", err: shared.ErrAlreadyRunning, result: "skipped"},
		{name: "disabled", err: pos.ErrProviderDisabled, result: "skipped"},
		{name: "failure", err: pos.ErrProviderUnavailable, result: "error", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			syncer := &stubSyncer{err: tc.err, res: pos.SyncResult{Created: 3, Skipped: 1}}
			counts := scheduleCounter{}
			metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
			job := NewPOSSyncJob(syncer, counts, metrics, nil)

			err := job.Handle(context.Background(), task)
			if tc.wantErr {
				require.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, scheduleCounter{tc.result: 1}, counts)
			require.Equal(t, []POSSyncPayload{{CompanyID: company, Full: true}}, syncer.calls)
		})
	}
}

func TestPOSSyncJobRejectsBadPayload(t *testing.T) {
	job := NewPOSSyncJob(&stubSyncer{}, nil, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskPOSSync, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	_, err = NewPOSSyncTask(uuid.Nil, false, 0)
	require.Error(t, err)
}

type stubRepairer struct {
	olderThan time.Duration
	repaired  int
	err       error
}

func (s *stubRepairer) RepairPendingSources(_ context.Context, olderThan time.Duration) (int, error) {
	s.olderThan = olderThan
	return s.repaired, s.err
}

func TestSourceRepairJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	repairer := &stubRepairer{repaired: 2}
	job := NewSourceRepairJob(repairer, metrics, nil)

	task, err := NewSourceRepairTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, DefaultRepairAfter, repairer.olderThan)

	repairer.err = errors.New("link failed")
	task, err = NewSourceRepairTask(30 * time.Minute)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
	require.Equal(t, 30*time.Minute, repairer.olderThan)

	count, err := testutil.GatherAndCount(reg, "finledger_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 4.0, sumCounter(t, reg, "finledger_job_items_total"))
}

func sumCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

type stubInspector struct {
	info map[string]*asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(q string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	if info, ok := s.info[q]; ok {
		return info, nil
	}
	return nil, asynq.ErrQueueNotFound
}

func TestJobsHealth(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{info: map[string]*asynq.QueueInfo{
		QueueDefault: {Queue: QueueDefault, Pending: 4, Failed: 1},
	}}, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []queueHealth{{Queue: QueueCritical}, {Queue: QueueDefault, Pending: 4, Failed: 1}}, body.Queues)

	r = chi.NewRouter()
	NewHandler(stubInspector{err: errors.New("redis down")}, nil).MountRoutes(r)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type stubCleaner struct {
	retention time.Duration
	err       error
}

func (s *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	s.retention = olderThan
	return s.err
}

func TestCleanupJob(t *testing.T) {
	cleaner := &stubCleaner{}
	job := NewCleanupJob(cleaner, nil, nil)

	task, err := NewCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, DefaultKeyRetention, cleaner.retention)

	cleaner.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))

	err = job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
