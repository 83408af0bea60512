package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry schedules one job. Build is called before every run so a reloaded
// configuration takes effect on the next run; Interval is read the same way.
// A non-positive interval disables the entry.
type Entry struct {
	Name     string
	Build    func() (Job, error)
	Interval func() time.Duration
}

type Scheduler struct {
	runner  *Runner
	entries []Entry
	logger  *slog.Logger
}

func NewScheduler(runner *Runner, logger *slog.Logger, entries ...Entry) *Scheduler {
	return &Scheduler{runner: runner, entries: entries, logger: logger}
}

// Run starts one loop per enabled entry and blocks until ctx is done. Each
// loop runs its job immediately, then waits the interval after every run,
// so a job never overlaps itself.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range s.entries {
		if e.Interval == nil || e.Interval() <= 0 {
			if s.logger != nil {
				s.logger.Info("job not scheduled", "job", e.Name)
			}
			continue
		}
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e Entry) {
	if s.logger != nil {
		s.logger.Info("job scheduled", "job", e.Name, "interval", e.Interval())
	}
	for {
		s.runOnce(ctx, e)
		interval := e.Interval()
		if interval <= 0 {
			if s.logger != nil {
				s.logger.Info("job unscheduled", "job", e.Name)
			}
			return
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, e Entry) {
	job, err := e.Build()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("job setup failed", "job", e.Name, "err", err)
		}
		return
	}
	// Failures are already logged and recorded by the runner.
	_, _ = s.runner.Run(ctx, job)
}
