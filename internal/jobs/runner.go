// Package jobs runs the batch analytics and keeps track of their outcomes.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chargewatch/internal/metrics"
	"chargewatch/internal/model"
)

// Job is one batch analytic. Run reports how many rows it produced; zero
// rows with a nil error is a successful empty run.
type Job interface {
	Name() string
	Run(ctx context.Context) (model.JobResult, error)
}

// Publisher announces finished runs to other processes.
type Publisher interface {
	Publish(ctx context.Context, run model.RunSummary) error
}

type Runner struct {
	history   *History
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewRunner(history *History, publisher Publisher, logger *slog.Logger) *Runner {
	if history == nil {
		history = NewHistory(0)
	}
	return &Runner{
		history:   history,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

func (r *Runner) History() *History { return r.history }

// Run executes one job and records its summary. The job error is returned
// unchanged; publishing failures are only logged.
func (r *Runner) Run(ctx context.Context, job Job) (model.RunSummary, error) {
	run := model.RunSummary{
		RunID:   r.newID(),
		Job:     job.Name(),
		Started: r.now().UTC(),
	}
	logger := r.logger
	if logger != nil {
		logger = logger.With("run_id", run.RunID, "job", run.Job)
		logger.Info("job started")
	}

	res, err := job.Run(ctx)
	run.Duration = r.now().Sub(run.Started)
	run.Rows = res.Rows
	run.Inserted = res.Inserted
	run.Dropped = res.Dropped
	if err != nil {
		run.Outcome = metrics.OutcomeError
		run.Error = err.Error()
	} else {
		run.Outcome = metrics.OutcomeSuccess
	}

	metrics.ObserveRun(run.Job, run.Duration, run.Outcome, run.Rows)
	metrics.AddDropped(run.Job, "data_quality", run.Dropped)
	r.history.Add(run)

	if logger != nil {
		if err != nil {
			logger.Error("job failed", "duration", run.Duration, "err", err)
		} else {
			logger.Info("job finished",
				"rows", run.Rows,
				"inserted", run.Inserted,
				"dropped", run.Dropped,
				"duration", run.Duration,
			)
		}
	}

	if err == nil && r.publisher != nil {
		if perr := r.publisher.Publish(ctx, run); perr != nil && logger != nil {
			logger.Warn("run event not published", "err", perr)
		}
	}
	return run, err
}

// RunAll runs jobs in order. A failing job does not stop the following ones;
// every failure is returned joined.
func (r *Runner) RunAll(ctx context.Context, jobs ...Job) error {
	var errs []error
	for _, job := range jobs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := r.Run(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
