package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chargewatch/internal/config"
	"chargewatch/internal/ingest"
	"chargewatch/internal/model"
)

// AlertStore is the part of the store the alert job writes to.
type AlertStore interface {
	LatestDetection(ctx context.Context) (time.Time, bool, error)
	UpsertAlerts(ctx context.Context, clusters []model.AlertCluster) (int, error)
}

// SessionLoader supplies failed sessions for clustering.
type SessionLoader interface {
	ErrorSessions(ctx context.Context, since time.Time) ([]model.ChargeSession, ingest.Stats, error)
}

// Engine runs burst detection over the session store and persists the
// clusters it finds.
type Engine struct {
	logger     *slog.Logger
	store      AlertStore
	sessions   SessionLoader
	opts       Options
	fullRescan bool
}

func NewEngine(cfg config.AlertsConfig, sessions SessionLoader, store AlertStore, logger *slog.Logger) *Engine {
	return &Engine{
		logger:     logger,
		store:      store,
		sessions:   sessions,
		opts:       Options{Window: cfg.Window, MinOccurrences: cfg.MinOccurrences}.withDefaults(),
		fullRescan: cfg.FullRescan,
	}
}

func (e *Engine) Name() string { return "alerts" }

// Run reads the high-water mark, clusters every failed session at or after
// it and upserts the result in one transaction. Sessions at the mark are
// rescanned so a cluster anchored there is recomputed, not duplicated.
func (e *Engine) Run(ctx context.Context) (model.JobResult, error) {
	var since time.Time
	if !e.fullRescan {
		latest, ok, err := e.store.LatestDetection(ctx)
		if err != nil {
			return model.JobResult{}, fmt.Errorf("read high-water mark: %w", err)
		}
		if ok {
			since = latest
		}
	}
	sessions, st, err := e.sessions.ErrorSessions(ctx, since)
	if err != nil {
		return model.JobResult{}, fmt.Errorf("load error sessions: %w", err)
	}
	events, incomplete := EventsFromSessions(sessions)
	clusters := DetectAlerts(events, since, e.opts)
	if e.logger != nil {
		e.logger.Info("alert clustering",
			"since", since,
			"sessions", len(sessions),
			"events", len(events),
			"clusters", len(clusters),
			"dropped_incomplete", incomplete,
			"dropped_unparseable", st.Dropped,
		)
	}
	inserted, err := e.store.UpsertAlerts(ctx, clusters)
	if err != nil {
		return model.JobResult{}, fmt.Errorf("persist alerts: %w", err)
	}
	if e.logger != nil {
		for _, c := range clusters {
			e.logger.Debug("alert cluster",
				"site", c.Signature.Site,
				"connector", c.Signature.Connector,
				"error_type", c.Signature.ErrorType,
				"detection", c.Detection,
				"occurrences", c.Occurrences,
			)
		}
	}
	return model.JobResult{
		Rows:     len(clusters),
		Inserted: inserted,
		Dropped:  incomplete + st.Dropped,
	}, nil
}
