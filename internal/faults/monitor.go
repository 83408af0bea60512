// Package faults tracks the fault bits that charging sites publish as packed
// status words, keeping one fault_log row open for as long as a bit is set.
package faults

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chargewatch/internal/config"
	"chargewatch/internal/model"
	"chargewatch/internal/registry"
	"chargewatch/internal/timeseries"
)

type Store interface {
	OpenFaults(ctx context.Context, site, field, equipment string) ([]model.FaultRecord, error)
	CloseFault(ctx context.Context, id int64, at time.Time) error
	InsertFault(ctx context.Context, rec model.FaultRecord) error
}

// Monitor compares the latest status words of every site with the open
// fault_log rows.
type Monitor struct {
	cfg    config.FaultsConfig
	reg    registry.Registry
	src    timeseries.Source
	store  Store
	equip  []Equipment
	now    func() time.Time
	logger *slog.Logger
}

func NewMonitor(cfg config.FaultsConfig, reg registry.Registry, src timeseries.Source, store Store, logger *slog.Logger) *Monitor {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 30 * 24 * time.Hour
	}
	return &Monitor{
		cfg:    cfg,
		reg:    reg,
		src:    src,
		store:  store,
		equip:  Equipments(),
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the clock used for opening and closing rows.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

func (m *Monitor) Name() string { return "faults" }

type tally struct {
	opened int
	closed int
	failed int
}

func (t *tally) add(o tally) {
	t.opened += o.opened
	t.closed += o.closed
	t.failed += o.failed
}

// Run scans every registered project. A field that cannot be read or
// written is logged and skipped; it never fails the run.
func (m *Monitor) Run(ctx context.Context) (model.JobResult, error) {
	if err := m.src.Ping(ctx); err != nil {
		return model.JobResult{}, fmt.Errorf("time-series store: %w", err)
	}
	var (
		mu    sync.Mutex
		total tally
		wg    sync.WaitGroup
	)
	sem := make(chan struct{}, m.cfg.Workers)
	for _, project := range m.reg.Projects {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(project string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			t := m.processSite(ctx, project)
			mu.Lock()
			total.add(t)
			mu.Unlock()
		}(project)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return model.JobResult{}, err
	}
	if m.logger != nil {
		m.logger.Info("fault words scanned",
			"sites", len(m.reg.Projects),
			"opened", total.opened,
			"closed", total.closed,
			"failed_fields", total.failed,
		)
	}
	return model.JobResult{Rows: total.opened + total.closed, Inserted: total.opened, Dropped: total.failed}, nil
}

func (m *Monitor) processSite(ctx context.Context, project string) tally {
	site := m.reg.SiteName(project)
	var t tally
	for _, eq := range m.equip {
		for _, f := range []struct {
			field  string
			labels map[int]string
		}{
			{eq.ICField, eq.ICLabels},
			{eq.PCField, eq.PCLabels},
		} {
			ft, err := m.processField(ctx, project, site, eq.Name, f.field, f.labels)
			t.add(ft)
			if err != nil {
				t.failed++
				if m.logger != nil {
					m.logger.Warn("fault word skipped",
						"project", project,
						"site", site,
						"equipment", eq.Name,
						"field", f.field,
						"err", err,
					)
				}
			}
		}
	}
	return t
}

func (m *Monitor) processField(ctx context.Context, project, site, equipment, field string, labels map[int]string) (tally, error) {
	var t tally
	value, ok, err := m.src.Latest(ctx, project, field)
	if err != nil {
		return t, err
	}
	if !ok {
		return t, nil
	}
	word := int64(value)

	open, err := m.store.OpenFaults(ctx, site, field, equipment)
	if err != nil {
		return t, err
	}
	stillOpen := make(map[int]bool, len(open))
	for _, rec := range open {
		if bitSet(word, rec.BitPosition) {
			stillOpen[rec.BitPosition] = true
			continue
		}
		if err := m.store.CloseFault(ctx, rec.ID, m.now()); err != nil {
			return t, err
		}
		t.closed++
		if m.logger != nil {
			m.logger.Info("fault cleared", "site", site, "equipment", equipment, "bit", rec.BitPosition, "fault", rec.Fault)
		}
	}

	for _, bit := range DecodeBits(word) {
		label, known := labels[bit]
		if !known || label == "" || stillOpen[bit] {
			continue
		}
		started := m.startOf(ctx, project, field, bit)
		rec := model.FaultRecord{
			Site:        site,
			FieldName:   field,
			Equipment:   equipment,
			BitPosition: bit,
			Fault:       label,
			StartedAt:   started,
		}
		if err := m.store.InsertFault(ctx, rec); err != nil {
			return t, err
		}
		stillOpen[bit] = true
		t.opened++
		if m.logger != nil {
			m.logger.Info("fault raised", "site", site, "equipment", equipment, "bit", bit, "fault", label, "started_at", started)
		}
	}
	return t, nil
}

// startOf looks back for the last time the bit went from clear to set. The
// current time is used when no such transition is recorded.
func (m *Monitor) startOf(ctx context.Context, project, field string, bit int) time.Time {
	now := m.now()
	pts, err := m.src.Series(ctx, timeseries.SeriesQuery{
		Project: project,
		Field:   field,
		From:    now.Add(-m.cfg.Lookback),
		To:      now,
	})
	if err != nil {
		if m.logger != nil {
			m.logger.Debug("fault start lookup failed", "project", project, "field", field, "bit", bit, "err", err)
		}
		return now
	}
	if at, ok := LastRise(pts, bit); ok {
		return at
	}
	return now
}

// LastRise returns the timestamp of the last sample where the bit is set
// while the previous sample had it clear. The series is assumed to start
// from a cleared word.
func LastRise(points []model.VoltagePoint, bit int) (time.Time, bool) {
	var (
		prev int64
		at   time.Time
	)
	for _, p := range points {
		word := int64(p.Value)
		if !bitSet(prev, bit) && bitSet(word, bit) {
			at = p.Timestamp
		}
		prev = word
	}
	return at, !at.IsZero()
}
