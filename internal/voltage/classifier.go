// Package voltage classifies the output-voltage trace recorded around a
// flagged charging session.
package voltage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"chargewatch/internal/config"
	"chargewatch/internal/model"
	"chargewatch/internal/registry"
	"chargewatch/internal/timeseries"
)

// ErrNoSignal marks a session whose connector has no mapped voltage field.
var ErrNoSignal = errors.New("connector has no voltage signal")

type Classifier struct {
	src             timeseries.Source
	reg             registry.Registry
	th              Thresholds
	padding         time.Duration
	defaultDuration time.Duration
	queryTimeout    time.Duration
	logger          *slog.Logger
}

func NewClassifier(cfg config.VoltageConfig, queryTimeout time.Duration, reg registry.Registry, src timeseries.Source, logger *slog.Logger) *Classifier {
	th := Thresholds{
		FlatMax:        cfg.FlatMaxVolts,
		PeakMin:        cfg.PeakMinVolts,
		ValleyMax:      cfg.ValleyMaxVolts,
		MinDropPercent: cfg.MinDropPercent,
	}
	if th.PeakMin <= 0 || th.MinDropPercent <= 0 {
		th = DefaultThresholds()
	}
	dur := cfg.DefaultDuration
	if dur <= 0 {
		dur = time.Hour
	}
	return &Classifier{
		src:             src,
		reg:             reg,
		th:              th,
		padding:         cfg.Padding,
		defaultDuration: dur,
		queryTimeout:    queryTimeout,
		logger:          logger,
	}
}

// Window returns the padded query range for a session. A missing end, or
// one not after the start, is replaced by start plus the default duration.
func (c *Classifier) Window(s model.ChargeSession) (time.Time, time.Time) {
	end := s.End
	if end.IsZero() || !end.After(s.Start) {
		end = s.Start.Add(c.defaultDuration)
	}
	return s.Start.Add(-c.padding), end.Add(c.padding)
}

// Classify fetches the voltage trace of one session and reads its shape.
// Project candidates are tried in order and the first non-empty trace wins.
// A failing or timed-out candidate counts as a miss; when every candidate
// misses the verdict is NoData.
func (c *Classifier) Classify(ctx context.Context, s model.ChargeSession) (model.VoltageClassification, error) {
	if s.Start.IsZero() {
		return model.VoltageClassification{}, model.ErrDataQuality
	}
	if !s.HasConnector {
		return model.VoltageClassification{}, ErrNoSignal
	}
	field, ok := c.reg.SignalFor(s.Connector)
	if !ok {
		return model.VoltageClassification{}, ErrNoSignal
	}
	from, to := c.Window(s)
	out := model.VoltageClassification{Session: s, Signal: field}

	var points []model.VoltagePoint
	for _, project := range Candidates(c.reg, s.Site, s.NameProject) {
		if err := ctx.Err(); err != nil {
			return model.VoltageClassification{}, err
		}
		pts, err := c.fetch(ctx, timeseries.SeriesQuery{Project: project, Field: field, From: from, To: to})
		if errors.Is(err, model.ErrNoData) {
			continue
		}
		if err != nil {
			if c.logger != nil {
				c.logger.Debug("candidate miss", "session", s.ID, "project", project, "err", err)
			}
			continue
		}
		points = pts
		out.Project = project
		break
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	shape := Classify(values, c.th)
	out.Samples = shape.Samples
	out.Peaks = shape.Peaks
	out.Valleys = shape.Valleys
	out.Min = shape.Min
	out.Max = shape.Max
	out.Verdict = shape.Verdict
	return out, nil
}

// fetch queries one candidate under the per-query timeout. An empty trace
// is reported as model.ErrNoData.
func (c *Classifier) fetch(ctx context.Context, q timeseries.SeriesQuery) ([]model.VoltagePoint, error) {
	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}
	pts, err := c.src.Series(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(pts) == 0 {
		return nil, model.ErrNoData
	}
	return pts, nil
}

// BatchResult is the outcome of ClassifyAll.
type BatchResult struct {
	Results []model.VoltageClassification
	Skipped int
	Failed  int
}

// ClassifyAll classifies sessions on a bounded pool of workers. A session
// that errors or panics is logged and left out; the batch carries on.
// Results are ordered by site, start time, then connector.
func (c *Classifier) ClassifyAll(ctx context.Context, sessions []model.ChargeSession, workers int) BatchResult {
	if workers <= 0 {
		workers = 10
	}
	jobs := make(chan model.ChargeSession)
	var (
		mu  sync.Mutex
		res BatchResult
		wg  sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range jobs {
				vc, err := c.safeClassify(ctx, s)
				mu.Lock()
				switch {
				case err == nil:
					res.Results = append(res.Results, vc)
				case errors.Is(err, ErrNoSignal):
					res.Skipped++
				default:
					res.Failed++
					if c.logger != nil {
						c.logger.Warn("voltage classification failed",
							"site", s.Site,
							"connector", s.Connector,
							"session", s.ID,
							"err", err,
						)
					}
				}
				mu.Unlock()
			}
		}()
	}
feed:
	for _, s := range sessions {
		select {
		case jobs <- s:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	SortResults(res.Results)
	return res
}

func (c *Classifier) safeClassify(ctx context.Context, s model.ChargeSession) (vc model.VoltageClassification, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			if c.logger != nil {
				c.logger.Error("voltage classification panic", "session", s.ID, "stack", string(debug.Stack()))
			}
		}
	}()
	return c.Classify(ctx, s)
}

func SortResults(rs []model.VoltageClassification) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i].Session, rs[j].Session
		if a.Site != b.Site {
			return a.Site < b.Site
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.Connector < b.Connector
	})
}

// Eligible reports whether a session carries the target fault signature.
func Eligible(s model.ChargeSession, code, status int) bool {
	return s.EVIErrorCode != nil && *s.EVIErrorCode == code &&
		s.EVIStatusDuringError != nil && *s.EVIStatusDuringError == status
}
