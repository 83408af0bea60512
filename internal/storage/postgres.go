package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func NewPostgres(dsn, sessionsTable string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/chargewatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return newSQLStore(db, postgresDialect(), sessionsTable)
}

func postgresDialect() dialect {
	return dialect{
		name:         "postgres",
		driver:       "pgx",
		numbered:     true,
		upsertSuffix: onConflict,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS alerts (
				id BIGSERIAL PRIMARY KEY,
				site TEXT NOT NULL,
				connector INTEGER NOT NULL,
				error_type TEXT NOT NULL,
				detection TIMESTAMPTZ NOT NULL,
				occurrences INTEGER NOT NULL,
				moment TEXT NOT NULL,
				evi_code INTEGER NOT NULL,
				downstream_code INTEGER NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (site, connector, error_type, detection)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_detection ON alerts(detection)`,
			`CREATE TABLE IF NOT EXISTS evolution (
				scope TEXT NOT NULL,
				month TEXT NOT NULL,
				success_rate DOUBLE PRECISION NOT NULL,
				UNIQUE (scope, month)
			)`,
			`CREATE TABLE IF NOT EXISTS unidentified_device_ranking (
				rank_no INTEGER NOT NULL,
				prefix TEXT NOT NULL,
				sessions INTEGER NOT NULL,
				success_rate DOUBLE PRECISION NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS fault_log (
				id BIGSERIAL PRIMARY KEY,
				site TEXT NOT NULL,
				field_name TEXT NOT NULL,
				equipment TEXT NOT NULL,
				bit_position INTEGER NOT NULL,
				fault TEXT NOT NULL,
				started_at TIMESTAMPTZ NOT NULL,
				ended_at TIMESTAMPTZ
			)`,
			`CREATE INDEX IF NOT EXISTS idx_fault_log_open ON fault_log(site, field_name, equipment) WHERE ended_at IS NULL`,
		},
	}
}
