package storage

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"chargewatch/internal/model"
)

type EvolutionRow struct {
	Scope       string  `json:"scope"`
	Month       string  `json:"month"`
	SuccessRate float64 `json:"success_rate"`
}

// ReplaceEvolution swaps the evolution table contents in one transaction.
// Inserts go out as multi-row statements of at most batchSize rows.
func (s *SQLStore) ReplaceEvolution(ctx context.Context, points []model.EvolutionPoint, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, "DELETE FROM evolution"); err != nil {
			return model.NewExternalServiceError(s.d.name, "clear evolution", err)
		}
		for start := 0; start < len(points); start += batchSize {
			end := start + batchSize
			if end > len(points) {
				end = len(points)
			}
			chunk := points[start:end]
			values := make([]string, len(chunk))
			args := make([]any, 0, len(chunk)*3)
			for i, p := range chunk {
				values[i] = "(?, ?, ?)"
				args = append(args, p.Scope, p.MonthLabel(), p.SuccessRate)
			}
			q := "INSERT INTO evolution (scope, month, success_rate) VALUES " + strings.Join(values, ", ")
			if _, err := s.exec(ctx, tx, q, args...); err != nil {
				return model.NewExternalServiceError(s.d.name, "insert evolution", err)
			}
		}
		return nil
	})
}

// ListEvolution returns rows in chronological order. An empty scope lists all.
func (s *SQLStore) ListEvolution(ctx context.Context, scope string) ([]EvolutionRow, error) {
	q := "SELECT scope, month, success_rate FROM evolution"
	var args []any
	if scope != "" {
		q += " WHERE scope = ?"
		args = append(args, scope)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, model.NewExternalServiceError(s.d.name, "list evolution", err)
	}
	defer rows.Close()
	var out []EvolutionRow
	for rows.Next() {
		var r EvolutionRow
		if err := rows.Scan(&r.Scope, &r.Month, &r.SuccessRate); err != nil {
			return nil, model.NewExternalServiceError(s.d.name, "scan evolution", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewExternalServiceError(s.d.name, "read evolution", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return monthKey(out[i].Month).Before(monthKey(out[j].Month))
	})
	return out, nil
}

func monthKey(label string) time.Time {
	t, err := time.Parse("01-2006", label)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ReplaceRanking deletes the previous ranking and inserts the new set.
func (s *SQLStore) ReplaceRanking(ctx context.Context, ranks []model.UnidentifiedDeviceRank) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, "DELETE FROM unidentified_device_ranking"); err != nil {
			return model.NewExternalServiceError(s.d.name, "clear ranking", err)
		}
		for _, r := range ranks {
			if _, err := s.exec(ctx, tx,
				"INSERT INTO unidentified_device_ranking (rank_no, prefix, sessions, success_rate) VALUES (?, ?, ?, ?)",
				r.Rank, r.Prefix, r.Sessions, r.SuccessRate,
			); err != nil {
				return model.NewExternalServiceError(s.d.name, "insert ranking", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) ListRanking(ctx context.Context) ([]model.UnidentifiedDeviceRank, error) {
	rows, err := s.query(ctx, "SELECT rank_no, prefix, sessions, success_rate FROM unidentified_device_ranking ORDER BY rank_no")
	if err != nil {
		return nil, model.NewExternalServiceError(s.d.name, "list ranking", err)
	}
	defer rows.Close()
	var out []model.UnidentifiedDeviceRank
	for rows.Next() {
		var r model.UnidentifiedDeviceRank
		if err := rows.Scan(&r.Rank, &r.Prefix, &r.Sessions, &r.SuccessRate); err != nil {
			return nil, model.NewExternalServiceError(s.d.name, "scan ranking", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewExternalServiceError(s.d.name, "read ranking", err)
	}
	return out, nil
}
