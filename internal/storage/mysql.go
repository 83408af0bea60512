package storage

import (
	"database/sql"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// NewMySQL opens the production session store. parseTime is forced on so
// DATETIME columns scan as time.Time.
func NewMySQL(dsn, sessionsTable string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "root@tcp(localhost:3306)/charges"
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ParseTime = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	return newSQLStore(db, mysqlDialect(), sessionsTable)
}

func mysqlDialect() dialect {
	return dialect{
		name:         "mysql",
		driver:       "mysql",
		upsertSuffix: onDuplicateKey,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS alerts (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				site VARCHAR(128) NOT NULL,
				connector INT NOT NULL,
				error_type VARCHAR(128) NOT NULL,
				detection DATETIME NOT NULL,
				occurrences INT NOT NULL,
				moment VARCHAR(128) NOT NULL,
				evi_code INT NOT NULL,
				downstream_code INT NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE KEY uq_alerts_signature (site, connector, error_type, detection),
				KEY idx_alerts_detection (detection)
			)`,
			`CREATE TABLE IF NOT EXISTS evolution (
				scope VARCHAR(64) NOT NULL,
				month CHAR(7) NOT NULL,
				success_rate DOUBLE NOT NULL,
				UNIQUE KEY uq_evolution (scope, month)
			)`,
			`CREATE TABLE IF NOT EXISTS unidentified_device_ranking (
				rank_no INT NOT NULL,
				prefix VARCHAR(32) NOT NULL,
				sessions INT NOT NULL,
				success_rate DOUBLE NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS fault_log (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				site VARCHAR(128) NOT NULL,
				field_name VARCHAR(64) NOT NULL,
				equipment VARCHAR(32) NOT NULL,
				bit_position INT NOT NULL,
				fault VARCHAR(255) NOT NULL,
				started_at DATETIME NOT NULL,
				ended_at DATETIME NULL,
				KEY idx_fault_log_open (site, field_name, equipment, ended_at)
			)`,
		},
	}
}
