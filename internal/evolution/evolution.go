// Package evolution computes the month-over-month success rate of charging
// sessions.
package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"chargewatch/internal/config"
	"chargewatch/internal/ingest"
	"chargewatch/internal/model"
	"chargewatch/internal/normalize"
)

const DefaultScope = "Global"

// MonthCutoff is the first instant of the month containing now. Sessions at
// or after it belong to an incomplete month.
func MonthCutoff(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

// IsSuccess reports whether a session counts as a success. A session flagged
// as failed still counts when it ended at the charge's own natural end.
func IsSuccess(s model.ChargeSession, successMoment string) bool {
	if s.Success {
		return true
	}
	return successMoment != "" && normalize.Moment(s.Moment) == normalize.Moment(successMoment)
}

// Compute aggregates sessions per calendar month, oldest first. Sessions at
// or after the cutoff are ignored. Months are taken in the cutoff's zone.
func Compute(sessions []model.ChargeSession, cutoff time.Time, scope, successMoment string) []model.EvolutionPoint {
	if scope == "" {
		scope = DefaultScope
	}
	loc := cutoff.Location()
	byMonth := make(map[time.Time]*model.EvolutionPoint)
	for _, s := range sessions {
		if s.Start.IsZero() || !s.Start.Before(cutoff) {
			continue
		}
		st := s.Start.In(loc)
		month := time.Date(st.Year(), st.Month(), 1, 0, 0, 0, 0, loc)
		p, ok := byMonth[month]
		if !ok {
			p = &model.EvolutionPoint{Scope: scope, Month: month}
			byMonth[month] = p
		}
		p.Total++
		if IsSuccess(s, successMoment) {
			p.Successes++
		}
	}
	out := make([]model.EvolutionPoint, 0, len(byMonth))
	for _, p := range byMonth {
		p.SuccessRate = Rate(p.Successes, p.Total)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out
}

// Rate is successes/total as a percentage rounded to 2 decimals; 0 when total is 0.
func Rate(successes, total int) float64 {
	if total == 0 {
		return 0
	}
	return Round2(float64(successes) / float64(total) * 100)
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SiteCounts counts the sessions before cutoff per site. Blank and
// placeholder sites are reported as Unknown.
func SiteCounts(sessions []model.ChargeSession, cutoff time.Time) map[string]int {
	out := make(map[string]int)
	for _, s := range sessions {
		if s.Start.IsZero() || !s.Start.Before(cutoff) {
			continue
		}
		site := strings.TrimSpace(s.Site)
		switch strings.ToLower(site) {
		case "", "none", "nan", "null":
			site = "Unknown"
		}
		out[site]++
	}
	return out
}

type Store interface {
	ReplaceEvolution(ctx context.Context, points []model.EvolutionPoint, batchSize int) error
}

type SessionLoader interface {
	EvolutionSessions(ctx context.Context, cutoff time.Time) ([]model.ChargeSession, ingest.Stats, error)
}

// Job recomputes the evolution table from scratch on every run.
type Job struct {
	cfg      config.EvolutionConfig
	sessions SessionLoader
	store    Store
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

func NewJob(cfg config.EvolutionConfig, loc *time.Location, sessions SessionLoader, store Store, logger *slog.Logger) *Job {
	if loc == nil {
		loc = time.UTC
	}
	return &Job{cfg: cfg, sessions: sessions, store: store, loc: loc, now: time.Now, logger: logger}
}

// WithClock replaces the clock used to find the current month.
func (j *Job) WithClock(now func() time.Time) *Job {
	j.now = now
	return j
}

func (j *Job) Name() string { return "evolution" }

func (j *Job) Run(ctx context.Context) (model.JobResult, error) {
	cutoff := MonthCutoff(j.now().In(j.loc))
	sessions, st, err := j.sessions.EvolutionSessions(ctx, cutoff)
	if err != nil {
		return model.JobResult{}, fmt.Errorf("load sessions: %w", err)
	}
	points := Compute(sessions, cutoff, j.cfg.Scope, j.cfg.SuccessMoment)
	if err := j.store.ReplaceEvolution(ctx, points, j.cfg.BatchSize); err != nil {
		return model.JobResult{}, fmt.Errorf("replace evolution: %w", err)
	}
	if j.logger != nil {
		j.logger.Info("evolution computed",
			"cutoff", cutoff,
			"sessions", len(sessions),
			"months", len(points),
			"dropped", st.Dropped,
		)
		if j.logger.Enabled(ctx, slog.LevelDebug) {
			for site, n := range SiteCounts(sessions, cutoff) {
				j.logger.Debug("evolution sessions per site", "site", site, "sessions", n)
			}
		}
	}
	return model.JobResult{Rows: len(points), Inserted: len(points), Dropped: st.Dropped}, nil
}
