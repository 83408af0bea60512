package voltage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chargewatch/internal/config"
	"chargewatch/internal/ingest"
	"chargewatch/internal/model"
	"chargewatch/internal/timeseries"
)

type SessionLoader interface {
	FaultSessions(ctx context.Context, code, status int, from, to time.Time) ([]model.ChargeSession, ingest.Stats, error)
}

// Range is the inclusive day range of sessions to classify. A zero End means
// today.
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseRange reads YYYY-MM-DD bounds. Empty strings keep the defaults.
func ParseRange(start, end string, loc *time.Location) (Range, error) {
	if loc == nil {
		loc = time.UTC
	}
	var r Range
	if start != "" {
		t, err := time.ParseInLocation(time.DateOnly, start, loc)
		if err != nil {
			return Range{}, fmt.Errorf("start date: %w", err)
		}
		r.Start = t
	}
	if end != "" {
		t, err := time.ParseInLocation(time.DateOnly, end, loc)
		if err != nil {
			return Range{}, fmt.Errorf("end date: %w", err)
		}
		r.End = t
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return Range{}, fmt.Errorf("end date %s before start date %s", end, start)
	}
	return r, nil
}

// Job selects the sessions carrying the target fault signature, classifies
// their voltage traces and writes the report.
type Job struct {
	cfg        config.VoltageConfig
	sessions   SessionLoader
	src        timeseries.Source
	classifier *Classifier
	rng        Range
	output     string
	loc        *time.Location
	now        func() time.Time
	logger     *slog.Logger
}

func NewJob(cfg config.VoltageConfig, loc *time.Location, sessions SessionLoader, src timeseries.Source, classifier *Classifier, logger *slog.Logger) (*Job, error) {
	rng, err := ParseRange(cfg.Start, cfg.End, loc)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Job{
		cfg:        cfg,
		sessions:   sessions,
		src:        src,
		classifier: classifier,
		rng:        rng,
		output:     cfg.Output,
		loc:        loc,
		now:        time.Now,
		logger:     logger,
	}, nil
}

func (j *Job) Name() string { return "voltage" }

// WithRange overrides the configured day range.
func (j *Job) WithRange(r Range) *Job {
	j.rng = r
	return j
}

// WithOutput overrides the report path.
func (j *Job) WithOutput(path string) *Job {
	if path != "" {
		j.output = path
	}
	return j
}

func (j *Job) bounds() (time.Time, time.Time) {
	end := j.rng.End
	if end.IsZero() {
		n := j.now().In(j.loc)
		end = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, j.loc)
	}
	return j.rng.Start, end.AddDate(0, 0, 1)
}

func (j *Job) Run(ctx context.Context) (model.JobResult, error) {
	if err := j.src.Ping(ctx); err != nil {
		return model.JobResult{}, fmt.Errorf("time-series store: %w", err)
	}
	from, to := j.bounds()
	sessions, st, err := j.sessions.FaultSessions(ctx, j.cfg.ErrorCode, j.cfg.ErrorStep, from, to)
	if err != nil {
		return model.JobResult{}, fmt.Errorf("load fault sessions: %w", err)
	}
	eligible := sessions[:0]
	for _, s := range sessions {
		if Eligible(s, j.cfg.ErrorCode, j.cfg.ErrorStep) {
			eligible = append(eligible, s)
		}
	}
	if j.logger != nil {
		j.logger.Info("voltage classification started",
			"from", from,
			"to", to,
			"sessions", len(eligible),
			"workers", j.cfg.Workers,
		)
	}
	batch := j.classifier.ClassifyAll(ctx, eligible, j.cfg.Workers)
	if err := ctx.Err(); err != nil {
		return model.JobResult{}, err
	}
	if j.output != "" {
		if err := WriteReport(j.output, batch.Results); err != nil {
			return model.JobResult{}, fmt.Errorf("write report: %w", err)
		}
	}
	counts := make(map[model.Verdict]int)
	for _, r := range batch.Results {
		counts[r.Verdict]++
	}
	if j.logger != nil {
		j.logger.Info("voltage classification done",
			"classified", len(batch.Results),
			"skipped", batch.Skipped,
			"failed", batch.Failed,
			"no_data", counts[model.VerdictNoData],
			"flat_near_zero", counts[model.VerdictFlatNearZero],
			"two_peak_pattern", counts[model.VerdictTwoPeakPattern],
			"other", counts[model.VerdictOther],
			"output", j.output,
		)
	}
	return model.JobResult{
		Rows:    len(batch.Results),
		Dropped: st.Dropped + batch.Skipped + batch.Failed,
	}, nil
}
