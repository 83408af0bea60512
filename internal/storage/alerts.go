package storage

import (
	"context"
	"database/sql"
	"time"

	"chargewatch/internal/model"
	"chargewatch/internal/normalize"
)

type AlertQuery struct {
	Site   string
	Since  time.Time
	Limit  int
	Offset int
}

type AlertRow struct {
	Site           string    `json:"site"`
	Connector      int       `json:"connector"`
	ErrorType      string    `json:"error_type"`
	Detection      time.Time `json:"detection"`
	Occurrences    int       `json:"occurrences"`
	Moment         string    `json:"moment"`
	EVICode        int       `json:"evi_code"`
	DownstreamCode int       `json:"downstream_code"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LatestDetection returns the high-water mark of the alerts table.
func (s *SQLStore) LatestDetection(ctx context.Context) (time.Time, bool, error) {
	var raw any
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(detection) FROM alerts").Scan(&raw); err != nil {
		return time.Time{}, false, model.NewExternalServiceError(s.d.name, "max detection", err)
	}
	ts, ok, err := normalize.Time(raw, time.UTC)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, ok, nil
}

// UpsertAlerts writes every cluster in one transaction. Rows sharing
// (site, connector, error_type, detection) are overwritten, never duplicated.
// The returned count is the number of keys that did not exist before.
func (s *SQLStore) UpsertAlerts(ctx context.Context, clusters []model.AlertCluster) (int, error) {
	if len(clusters) == 0 {
		return 0, nil
	}
	insert := `INSERT INTO alerts (site, connector, error_type, detection, occurrences, moment, evi_code, downstream_code, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)` +
		s.d.upsertSuffix(
			[]string{"site", "connector", "error_type", "detection"},
			[]string{"occurrences", "moment", "evi_code", "downstream_code", "updated_at"},
		)
	exists := `SELECT COUNT(*) FROM alerts WHERE site = ? AND connector = ? AND error_type = ? AND detection = ?`
	inserted := 0
	now := nowUTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range clusters {
			sig := c.Signature
			det := c.Detection.UTC()
			var n int
			if err := tx.QueryRowContext(ctx, s.d.rebind(exists), sig.Site, sig.Connector, sig.ErrorType, det).Scan(&n); err != nil {
				return model.NewExternalServiceError(s.d.name, "check alert", err)
			}
			if _, err := s.exec(ctx, tx, insert,
				sig.Site, sig.Connector, sig.ErrorType, det, c.Occurrences,
				sig.Moment, sig.EVICode, sig.DownstreamCode, now,
			); err != nil {
				return model.NewExternalServiceError(s.d.name, "upsert alert", err)
			}
			if n == 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *SQLStore) ListAlerts(ctx context.Context, q AlertQuery) ([]AlertRow, int, error) {
	where := " WHERE 1 = 1"
	var args []any
	if q.Site != "" {
		where += " AND site = ?"
		args = append(args, q.Site)
	}
	if !q.Since.IsZero() {
		where += " AND detection >= ?"
		args = append(args, q.Since.UTC())
	}
	var total int
	if err := s.db.QueryRowContext(ctx, s.d.rebind("SELECT COUNT(*) FROM alerts"+where), args...).Scan(&total); err != nil {
		return nil, 0, model.NewExternalServiceError(s.d.name, "count alerts", err)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	page := append(append([]any(nil), args...), limit, q.Offset)
	rows, err := s.query(ctx,
		`SELECT site, connector, error_type, detection, occurrences, moment, evi_code, downstream_code, updated_at
		FROM alerts`+where+` ORDER BY detection DESC, site, connector LIMIT ? OFFSET ?`, page...)
	if err != nil {
		return nil, 0, model.NewExternalServiceError(s.d.name, "list alerts", err)
	}
	defer rows.Close()
	var out []AlertRow
	for rows.Next() {
		var (
			r              AlertRow
			det, updatedAt any
		)
		if err := rows.Scan(&r.Site, &r.Connector, &r.ErrorType, &det, &r.Occurrences, &r.Moment, &r.EVICode, &r.DownstreamCode, &updatedAt); err != nil {
			return nil, 0, model.NewExternalServiceError(s.d.name, "scan alert", err)
		}
		r.Detection, _, _ = normalize.Time(det, time.UTC)
		r.UpdatedAt, _, _ = normalize.Time(updatedAt, time.UTC)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, model.NewExternalServiceError(s.d.name, "read alerts", err)
	}
	return out, total, nil
}
