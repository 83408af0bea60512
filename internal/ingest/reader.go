package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"chargewatch/internal/model"
	"chargewatch/internal/normalize"
	"chargewatch/internal/registry"
	"chargewatch/internal/storage"
)

// SessionSource is the raw read side of the session store.
type SessionSource interface {
	Sessions(ctx context.Context, f storage.SessionFilter) ([]storage.SessionRow, error)
}

// Stats describes one scan: rows returned by the store and rows dropped
// because their start timestamp could not be read.
type Stats struct {
	Read    int
	Dropped int
}

// Reader loads charge sessions and turns raw column values into
// model.ChargeSession records.
type Reader struct {
	src    SessionSource
	loc    *time.Location
	reg    registry.Registry
	logger *slog.Logger
}

func NewReader(src SessionSource, loc *time.Location, reg registry.Registry, logger *slog.Logger) *Reader {
	if loc == nil {
		loc = time.UTC
	}
	return &Reader{src: src, loc: loc, reg: reg, logger: logger}
}

// ErrorSessions returns failed sessions started at or after since. A zero
// since scans the full history.
func (r *Reader) ErrorSessions(ctx context.Context, since time.Time) ([]model.ChargeSession, Stats, error) {
	return r.load(ctx, "errors", storage.SessionFilter{Since: since, FailedOnly: true})
}

// EvolutionSessions returns every session started strictly before cutoff.
func (r *Reader) EvolutionSessions(ctx context.Context, cutoff time.Time) ([]model.ChargeSession, Stats, error) {
	return r.load(ctx, "evolution", storage.SessionFilter{Before: cutoff})
}

// FaultSessions returns sessions carrying the given EVI code and status in
// [from, to). Blank sites are filled from the registry.
func (r *Reader) FaultSessions(ctx context.Context, code, status int, from, to time.Time) ([]model.ChargeSession, Stats, error) {
	out, st, err := r.load(ctx, "faults", storage.SessionFilter{
		Since:     from,
		Before:    to,
		EVICode:   &code,
		EVIStatus: &status,
	})
	if err != nil {
		return nil, st, err
	}
	for i := range out {
		if out[i].Site == "" {
			out[i].Site = r.fallbackSite(out[i])
		}
	}
	return out, st, nil
}

// DeviceSessions returns sessions that carry a MAC address.
func (r *Reader) DeviceSessions(ctx context.Context) ([]model.ChargeSession, Stats, error) {
	return r.load(ctx, "devices", storage.SessionFilter{WithMAC: true})
}

func (r *Reader) fallbackSite(s model.ChargeSession) string {
	if s.IDProject != "" {
		if name := r.reg.SiteName(s.IDProject); name != s.IDProject {
			return name
		}
	}
	if s.NameProject != "" {
		return s.NameProject
	}
	return s.IDProject
}

func (r *Reader) load(ctx context.Context, scan string, f storage.SessionFilter) ([]model.ChargeSession, Stats, error) {
	f.Location = r.loc
	rows, err := r.src.Sessions(ctx, f)
	if err != nil {
		return nil, Stats{}, err
	}
	st := Stats{Read: len(rows)}
	out := make([]model.ChargeSession, 0, len(rows))
	for _, row := range rows {
		s, err := Convert(row, r.loc)
		if err != nil {
			st.Dropped++
			if r.logger != nil {
				r.logger.Debug("session dropped", "scan", scan, "id", normalize.String(row.ID), "err", err)
			}
			continue
		}
		out = append(out, s)
	}
	if st.Dropped > 0 && r.logger != nil {
		r.logger.Info("sessions dropped", "scan", scan, "dropped", st.Dropped, "read", st.Read)
	}
	return out, st, nil
}

// Convert normalizes one raw row. A missing or unreadable start timestamp is
// a data-quality error; every other field degrades to its zero value.
func Convert(row storage.SessionRow, loc *time.Location) (model.ChargeSession, error) {
	start, ok, err := normalize.Time(row.StartedAt, loc)
	if err != nil || !ok {
		return model.ChargeSession{}, model.ErrDataQuality
	}
	s := model.ChargeSession{
		ID:          normalize.String(row.ID),
		Site:        normalize.String(row.Site),
		NameProject: normalize.String(row.NameProject),
		IDProject:   normalize.String(row.IDProject),
		Start:       start,
		Success:     normalize.Bool(row.IsOK),
		Moment:      normalize.String(row.Moment),
		ErrorType:   normalize.String(row.ErrorType),
		MACAddress:  normalize.String(row.MACAddress),
		Vehicle:     normalize.String(row.Vehicle),
	}
	if strings.EqualFold(s.MACAddress, "null") {
		s.MACAddress = ""
	}
	if end, ok, err := normalize.Time(row.EndedAt, loc); err == nil && ok {
		s.End = end
	}
	s.Connector, s.HasConnector = normalize.Int(row.Connector)
	s.EVIErrorCode = optInt(row.EVIErrorCode)
	s.EVIStatusDuringError = optInt(row.EVIStatusDuringError)
	s.DownstreamCode = optInt(row.DownstreamCode)
	s.EnergyKWh = optFloat(row.EnergyKWh)
	s.SOCStart = optFloat(row.SOCStart)
	s.SOCEnd = optFloat(row.SOCEnd)
	return s, nil
}

func optInt(v any) *int {
	n, ok := normalize.Int(v)
	if !ok {
		return nil
	}
	return &n
}

func optFloat(v any) *float64 {
	f, ok := normalize.Float(v)
	if !ok {
		return nil
	}
	return &f
}
