package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"chargewatch/internal/config"
	"chargewatch/internal/model"
)

// Store is the relational side of the pipeline: it reads charge sessions and
// owns the derived tables.
type Store interface {
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	Sessions(ctx context.Context, f SessionFilter) ([]SessionRow, error)

	LatestDetection(ctx context.Context) (time.Time, bool, error)
	UpsertAlerts(ctx context.Context, clusters []model.AlertCluster) (int, error)
	ListAlerts(ctx context.Context, q AlertQuery) ([]AlertRow, int, error)

	ReplaceEvolution(ctx context.Context, points []model.EvolutionPoint, batchSize int) error
	ListEvolution(ctx context.Context, scope string) ([]EvolutionRow, error)

	ReplaceRanking(ctx context.Context, rows []model.UnidentifiedDeviceRank) error
	ListRanking(ctx context.Context) ([]model.UnidentifiedDeviceRank, error)

	OpenFaults(ctx context.Context, site, field, equipment string) ([]model.FaultRecord, error)
	CloseFault(ctx context.Context, id int64, at time.Time) error
	InsertFault(ctx context.Context, rec model.FaultRecord) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	var (
		s   *SQLStore
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		s, err = NewSQLite(cfg.DSN, cfg.SessionsTable)
	case "postgres", "postgresql":
		s, err = NewPostgres(cfg.DSN, cfg.SessionsTable)
	case "mysql":
		s, err = NewMySQL(cfg.DSN, cfg.SessionsTable)
	default:
		return nil, errors.New("unsupported storage driver")
	}
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		s.db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return s, nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

type SQLStore struct {
	db       *sql.DB
	d        dialect
	sessions string
}

func newSQLStore(db *sql.DB, d dialect, sessionsTable string) (*SQLStore, error) {
	if sessionsTable == "" {
		sessionsTable = "charge_sessions"
	}
	if !identPattern.MatchString(sessionsTable) {
		return nil, fmt.Errorf("invalid sessions table name %q", sessionsTable)
	}
	return &SQLStore{db: db, d: d, sessions: sessionsTable}, nil
}

func (s *SQLStore) Init(ctx context.Context) error {
	stmts := append([]string(nil), s.d.schema...)
	stmts = append(stmts, s.d.sourceSchema...)
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return model.NewExternalServiceError(s.d.name, "ping", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, ex execer, query string, args ...any) (sql.Result, error) {
	return ex.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(query), args...)
}

// withTx runs fn in one transaction; any error rolls the whole unit back.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewExternalServiceError(s.d.name, "begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return model.NewExternalServiceError(s.d.name, "commit", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
