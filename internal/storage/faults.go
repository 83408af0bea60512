package storage

import (
	"context"
	"time"

	"chargewatch/internal/model"
	"chargewatch/internal/normalize"
)

// OpenFaults lists fault_log rows still missing an end time.
func (s *SQLStore) OpenFaults(ctx context.Context, site, field, equipment string) ([]model.FaultRecord, error) {
	rows, err := s.query(ctx,
		`SELECT id, site, field_name, equipment, bit_position, fault, started_at
		FROM fault_log WHERE site = ? AND field_name = ? AND equipment = ? AND ended_at IS NULL
		ORDER BY id`, site, field, equipment)
	if err != nil {
		return nil, model.NewExternalServiceError(s.d.name, "list open faults", err)
	}
	defer rows.Close()
	var out []model.FaultRecord
	for rows.Next() {
		var (
			r       model.FaultRecord
			started any
		)
		if err := rows.Scan(&r.ID, &r.Site, &r.FieldName, &r.Equipment, &r.BitPosition, &r.Fault, &started); err != nil {
			return nil, model.NewExternalServiceError(s.d.name, "scan fault", err)
		}
		r.StartedAt, _, _ = normalize.Time(started, time.UTC)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewExternalServiceError(s.d.name, "read faults", err)
	}
	return out, nil
}

func (s *SQLStore) CloseFault(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.exec(ctx, s.db, "UPDATE fault_log SET ended_at = ? WHERE id = ?", at.UTC(), id); err != nil {
		return model.NewExternalServiceError(s.d.name, "close fault", err)
	}
	return nil
}

func (s *SQLStore) InsertFault(ctx context.Context, rec model.FaultRecord) error {
	if _, err := s.exec(ctx, s.db,
		`INSERT INTO fault_log (site, field_name, equipment, bit_position, fault, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		rec.Site, rec.FieldName, rec.Equipment, rec.BitPosition, rec.Fault, rec.StartedAt.UTC(),
	); err != nil {
		return model.NewExternalServiceError(s.d.name, "insert fault", err)
	}
	return nil
}
