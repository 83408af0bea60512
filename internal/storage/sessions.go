package storage

import (
	"context"
	"strings"
	"time"

	"chargewatch/internal/model"
)

// SessionFilter narrows the charge-session scan. Zero values disable a filter.
// started_at holds naive wall-clock values, so Since and Before are compared
// as wall-clock times in Location (UTC when nil).
type SessionFilter struct {
	Since      time.Time
	Before     time.Time
	Location   *time.Location
	FailedOnly bool
	EVICode    *int
	EVIStatus  *int
	WithMAC    bool
}

// SessionRow carries the raw column values of one charge session. Values are
// left as the driver returned them; the ingest package normalizes them.
type SessionRow struct {
	ID                   any
	Site                 any
	NameProject          any
	IDProject            any
	Connector            any
	StartedAt            any
	EndedAt              any
	IsOK                 any
	Moment               any
	ErrorType            any
	EVIErrorCode         any
	EVIStatusDuringError any
	DownstreamCode       any
	EnergyKWh            any
	SOCStart             any
	SOCEnd               any
	MACAddress           any
	Vehicle              any
}

const sessionColumns = `session_id, site, name_project, id_project, connector, started_at, ended_at,
	is_ok, moment, error_type, evi_error_code, evi_status_during_error, downstream_code,
	energy_kwh, soc_start, soc_end, mac_address, vehicle`

func (s *SQLStore) Sessions(ctx context.Context, f SessionFilter) ([]SessionRow, error) {
	var (
		where []string
		args  []any
	)
	if !f.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, WallClock(f.Since, f.Location))
	}
	if !f.Before.IsZero() {
		where = append(where, "started_at < ?")
		args = append(args, WallClock(f.Before, f.Location))
	}
	if f.FailedOnly {
		where = append(where, "(is_ok IS NULL OR is_ok = 0)")
	}
	if f.EVICode != nil {
		where = append(where, "evi_error_code = ?")
		args = append(args, *f.EVICode)
	}
	if f.EVIStatus != nil {
		where = append(where, "evi_status_during_error = ?")
		args = append(args, *f.EVIStatus)
	}
	if f.WithMAC {
		where = append(where, "mac_address IS NOT NULL AND mac_address <> ''")
	}
	q := "SELECT " + sessionColumns + " FROM " + s.sessions
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at"

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, model.NewExternalServiceError(s.d.name, "select sessions", err)
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(
			&r.ID, &r.Site, &r.NameProject, &r.IDProject, &r.Connector, &r.StartedAt, &r.EndedAt,
			&r.IsOK, &r.Moment, &r.ErrorType, &r.EVIErrorCode, &r.EVIStatusDuringError, &r.DownstreamCode,
			&r.EnergyKWh, &r.SOCStart, &r.SOCEnd, &r.MACAddress, &r.Vehicle,
		); err != nil {
			return nil, model.NewExternalServiceError(s.d.name, "scan session", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewExternalServiceError(s.d.name, "read sessions", err)
	}
	return out, nil
}

// WallClock renders t as a naive timestamp in loc, the form the session
// table stores. Text comparison against stored values keeps time order.
func WallClock(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(wallClockLayout)
}

const wallClockLayout = "2006-01-02 15:04:05.999999"

// InsertSession writes a source row. Production sessions are owned by the
// charging backend; this is used to seed local databases. Times are stored
// as the wall clock of their own location.
func (s *SQLStore) InsertSession(ctx context.Context, cs model.ChargeSession) error {
	var connector any
	if cs.HasConnector {
		connector = cs.Connector
	}
	var end any
	if !cs.End.IsZero() {
		end = WallClock(cs.End, cs.End.Location())
	}
	ok := 0
	if cs.Success {
		ok = 1
	}
	_, err := s.exec(ctx, s.db,
		"INSERT INTO "+s.sessions+" ("+sessionColumns+") VALUES ("+placeholders(18)+")",
		cs.ID, cs.Site, cs.NameProject, cs.IDProject, connector, WallClock(cs.Start, cs.Start.Location()), end,
		ok, cs.Moment, cs.ErrorType, intPtr(cs.EVIErrorCode), intPtr(cs.EVIStatusDuringError), intPtr(cs.DownstreamCode),
		floatPtr(cs.EnergyKWh), floatPtr(cs.SOCStart), floatPtr(cs.SOCEnd), nullString(cs.MACAddress), nullString(cs.Vehicle),
	)
	return err
}

func intPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
