package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

// NewSQLite opens a local database. Init also creates the sessions table so
// the pipeline can run end to end without the production store.
func NewSQLite(dsn, sessionsTable string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:chargewatch.db?_pragma=busy_timeout(5000)"
	}
	if !strings.Contains(dsn, "_time_format") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if sessionsTable == "" {
		sessionsTable = "charge_sessions"
	}
	d := dialect{
		name:         "sqlite",
		driver:       "sqlite",
		upsertSuffix: onConflict,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS alerts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				site TEXT NOT NULL,
				connector INTEGER NOT NULL,
				error_type TEXT NOT NULL,
				detection DATETIME NOT NULL,
				occurrences INTEGER NOT NULL,
				moment TEXT NOT NULL,
				evi_code INTEGER NOT NULL,
				downstream_code INTEGER NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE (site, connector, error_type, detection)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_detection ON alerts(detection)`,
			`CREATE TABLE IF NOT EXISTS evolution (
				scope TEXT NOT NULL,
				month TEXT NOT NULL,
				success_rate REAL NOT NULL,
				UNIQUE (scope, month)
			)`,
			`CREATE TABLE IF NOT EXISTS unidentified_device_ranking (
				rank_no INTEGER NOT NULL,
				prefix TEXT NOT NULL,
				sessions INTEGER NOT NULL,
				success_rate REAL NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS fault_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				site TEXT NOT NULL,
				field_name TEXT NOT NULL,
				equipment TEXT NOT NULL,
				bit_position INTEGER NOT NULL,
				fault TEXT NOT NULL,
				started_at DATETIME NOT NULL,
				ended_at DATETIME
			)`,
			`CREATE INDEX IF NOT EXISTS idx_fault_log_open ON fault_log(site, field_name, equipment, ended_at)`,
		},
		sourceSchema: []string{
			`CREATE TABLE IF NOT EXISTS ` + sessionsTable + ` (
				session_id TEXT,
				site TEXT,
				name_project TEXT,
				id_project TEXT,
				connector INTEGER,
				started_at DATETIME,
				ended_at DATETIME,
				is_ok INTEGER,
				moment TEXT,
				error_type TEXT,
				evi_error_code INTEGER,
				evi_status_during_error INTEGER,
				downstream_code INTEGER,
				energy_kwh REAL,
				soc_start REAL,
				soc_end REAL,
				mac_address TEXT,
				vehicle TEXT
			)`,
		},
	}
	return newSQLStore(db, d, sessionsTable)
}
