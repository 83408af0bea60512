// Package devices ranks the charging devices that connect without being
// matched to a known vehicle, grouped by MAC address prefix.
package devices

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"chargewatch/internal/config"
	"chargewatch/internal/evolution"
	"chargewatch/internal/ingest"
	"chargewatch/internal/model"
)

const (
	DefaultPrefixLength = 8
	DefaultTopN         = 10
)

// Unidentified reports whether a session carries a device address but no
// resolved vehicle.
func Unidentified(s model.ChargeSession) bool {
	return strings.TrimSpace(s.MACAddress) != "" && strings.TrimSpace(s.Vehicle) == ""
}

// Prefix is the first n characters of the MAC address.
func Prefix(mac string, n int) string {
	mac = strings.TrimSpace(mac)
	if len(mac) <= n {
		return mac
	}
	return mac[:n]
}

// CleanPrefix upper-cases a prefix and drops a leading zero unless the next
// character is a separator: "0a:bb:cc" becomes "A:BB:CC", "0:1B:2C:" is kept.
func CleanPrefix(p string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	if len(p) > 1 && p[0] == '0' && p[1] != ':' {
		p = p[1:]
	}
	return p
}

type group struct {
	prefix    string
	sessions  int
	successes int
}

// Rank groups unidentified sessions by prefix, orders the groups by session
// count (ties by prefix) and keeps the first topN.
func Rank(sessions []model.ChargeSession, prefixLen, topN int) []model.UnidentifiedDeviceRank {
	if prefixLen <= 0 {
		prefixLen = DefaultPrefixLength
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	groups := make(map[string]*group)
	for _, s := range sessions {
		if !Unidentified(s) {
			continue
		}
		p := Prefix(s.MACAddress, prefixLen)
		g, ok := groups[p]
		if !ok {
			g = &group{prefix: p}
			groups[p] = g
		}
		g.sessions++
		if s.Success {
			g.successes++
		}
	}
	list := make([]*group, 0, len(groups))
	for _, g := range groups {
		list = append(list, g)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].sessions != list[j].sessions {
			return list[i].sessions > list[j].sessions
		}
		return list[i].prefix < list[j].prefix
	})
	if len(list) > topN {
		list = list[:topN]
	}
	out := make([]model.UnidentifiedDeviceRank, len(list))
	for i, g := range list {
		out[i] = model.UnidentifiedDeviceRank{
			Rank:        i + 1,
			Prefix:      CleanPrefix(g.prefix),
			Sessions:    g.sessions,
			SuccessRate: evolution.Rate(g.successes, g.sessions),
		}
	}
	return out
}

type Store interface {
	ReplaceRanking(ctx context.Context, ranks []model.UnidentifiedDeviceRank) error
}

type SessionLoader interface {
	DeviceSessions(ctx context.Context) ([]model.ChargeSession, ingest.Stats, error)
}

type Job struct {
	cfg      config.DevicesConfig
	sessions SessionLoader
	store    Store
	logger   *slog.Logger
}

func NewJob(cfg config.DevicesConfig, sessions SessionLoader, store Store, logger *slog.Logger) *Job {
	return &Job{cfg: cfg, sessions: sessions, store: store, logger: logger}
}

func (j *Job) Name() string { return "devices" }

// Run rebuilds the ranking table. An empty ranking still replaces the
// previous one.
func (j *Job) Run(ctx context.Context) (model.JobResult, error) {
	sessions, st, err := j.sessions.DeviceSessions(ctx)
	if err != nil {
		return model.JobResult{}, fmt.Errorf("load device sessions: %w", err)
	}
	ranks := Rank(sessions, j.cfg.PrefixLength, j.cfg.TopN)
	if err := j.store.ReplaceRanking(ctx, ranks); err != nil {
		return model.JobResult{}, fmt.Errorf("replace ranking: %w", err)
	}
	if j.logger != nil {
		j.logger.Info("unidentified devices ranked", "sessions", len(sessions), "groups", len(ranks))
		for _, r := range ranks {
			j.logger.Debug("device prefix", "rank", r.Rank, "prefix", r.Prefix, "sessions", r.Sessions, "success_rate", r.SuccessRate)
		}
	}
	return model.JobResult{Rows: len(ranks), Inserted: len(ranks), Dropped: st.Dropped}, nil
}
