package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargewatch/internal/metrics"
	"chargewatch/internal/model"
)

type stubJob struct {
	name  string
	res   model.JobResult
	err   error
	calls atomic.Int32
}

func (j *stubJob) Name() string { return j.name }

func (j *stubJob) Run(context.Context) (model.JobResult, error) {
	j.calls.Add(1)
	return j.res, j.err
}

type recordingPublisher struct {
	mu   sync.Mutex
	runs []model.RunSummary
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, run model.RunSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, run)
	return p.err
}

func TestHistoryKeepsLatest(t *testing.T) {
	h := NewHistory(3)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		h.Add(model.RunSummary{RunID: string(rune('a' + i)), Job: "alerts", Started: base.Add(time.Duration(i) * time.Hour)})
	}
	all := h.List(0)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].RunID)
	assert.Equal(t, "e", all[2].RunID)

	last := h.List(1)
	require.Len(t, last, 1)
	assert.Equal(t, "e", last[0].RunID)

	assert.Len(t, h.Since(base.Add(3*time.Hour)), 2)
	assert.Equal(t, "e", h.Latest()["alerts"].RunID)

	h.Clear()
	assert.Empty(t, h.List(0))
}

func TestRunnerRecordsSuccess(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRunner(NewHistory(10), pub, nil)
	r.newID = func() string { return "run-1" }

	job := &stubJob{name: "evolution", res: model.JobResult{Rows: 4, Inserted: 4, Dropped: 1}}
	run, err := r.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, metrics.OutcomeSuccess, run.Outcome)
	assert.Equal(t, 4, run.Rows)
	assert.Equal(t, 1, run.Dropped)

	require.Len(t, pub.runs, 1)
	assert.Equal(t, "evolution", pub.runs[0].Job)
	assert.Len(t, r.History().List(0), 1)
}

func TestRunnerZeroRowsIsSuccess(t *testing.T) {
	r := NewRunner(nil, nil, nil)
	run, err := r.Run(context.Background(), &stubJob{name: "alerts"})
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeSuccess, run.Outcome)
	assert.Zero(t, run.Rows)
}

func TestRunnerFailureIsNotPublished(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRunner(NewHistory(10), pub, nil)
	boom := model.NewExternalServiceError("mysql", "select sessions", errors.New("connection refused"))

	run, err := r.Run(context.Background(), &stubJob{name: "alerts", err: boom})
	require.Error(t, err)
	assert.True(t, model.IsExternalServiceError(err))
	assert.Equal(t, metrics.OutcomeError, run.Outcome)
	assert.Contains(t, run.Error, "connection refused")
	assert.Empty(t, pub.runs)
	assert.Len(t, r.History().List(0), 1)
}

func TestRunnerPublishErrorDoesNotFailRun(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	r := NewRunner(nil, pub, nil)
	_, err := r.Run(context.Background(), &stubJob{name: "devices"})
	assert.NoError(t, err)
}

func TestRunAllContinuesAfterFailure(t *testing.T) {
	r := NewRunner(nil, nil, nil)
	failing := &stubJob{name: "alerts", err: errors.New("first")}
	next := &stubJob{name: "evolution"}
	err := r.RunAll(context.Background(), failing, next)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.EqualValues(t, 1, next.calls.Load())
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	r := NewRunner(nil, nil, nil)
	job := &stubJob{name: "alerts"}
	disabled := &stubJob{name: "voltage"}
	ctx, cancel := context.WithCancel(context.Background())

	s := NewScheduler(r, nil,
		Entry{Name: "alerts", Build: func() (Job, error) { return job, nil }, Interval: func() time.Duration { return 5 * time.Millisecond }},
		Entry{Name: "voltage", Build: func() (Job, error) { return disabled, nil }, Interval: func() time.Duration { return 0 }},
	)
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return job.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Zero(t, disabled.calls.Load())
}

func TestSchedulerSkipsFailedBuild(t *testing.T) {
	r := NewRunner(nil, nil, nil)
	var builds atomic.Int32
	var interval atomic.Int64
	interval.Store(int64(time.Millisecond))
	s := NewScheduler(r, nil, Entry{
		Name: "faults",
		Build: func() (Job, error) {
			if builds.Add(1) >= 2 {
				interval.Store(0)
			}
			return nil, errors.New("bad config")
		},
		Interval: func() time.Duration { return time.Duration(interval.Load()) },
	})
	s.Run(context.Background())
	assert.EqualValues(t, 2, builds.Load())
	assert.Empty(t, r.History().List(0))
}
