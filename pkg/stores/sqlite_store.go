package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

var errNotInitialized = errors.New("run history not initialized")

// SQLiteStore keeps run history in a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config tunes the database/sql pool.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore fills pool defaults; call Init and Migrate, or use Open.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("run history path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 1
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping run history: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return errNotInitialized
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate run history: %w", err)
	}

	return nil
}

func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CreateRun records the start of a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, playbook, inventory, build_path, status, metadata, started_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.Metadata == "" {
		run.Metadata = "[]"
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Playbook,
		run.Inventory,
		run.BuildPath,
		run.Status,
		run.Metadata,
		run.StartedAt,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	return nil
}

const selectRuns = `
	SELECT id, playbook, inventory, build_path, status, engine_exit_code, exit_code,
	       status_code, error, metadata, started_at, completed_at, created_at
	FROM runs`

// GetRun loads one run; unknown ids wrap ErrRunNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select run: %w", err)
	}

	return run, nil
}

// FinishRun stores the outcome of a run and its host counters in one
// transaction.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, outcome Outcome, hosts []*HostStat) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	metadata := outcome.Metadata
	if metadata == "" {
		metadata = "[]"
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, inventory = COALESCE(NULLIF(?, ''), inventory),
		    engine_exit_code = ?, exit_code = ?, status_code = ?,
		    error = ?, metadata = ?, completed_at = ?
		WHERE id = ?
	`,
		outcome.Status,
		outcome.Inventory,
		outcome.EngineExitCode,
		outcome.ExitCode,
		outcome.StatusCode,
		outcome.Error,
		metadata,
		time.Now(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	if err := expectRow(result, id); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO host_stats (run_id, host, ok, changed, unreachable, failures, skipped, rescued, ignored)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, host) DO UPDATE SET
			ok = excluded.ok,
			changed = excluded.changed,
			unreachable = excluded.unreachable,
			failures = excluded.failures,
			skipped = excluded.skipped,
			rescued = excluded.rescued,
			ignored = excluded.ignored
	`)
	if err != nil {
		return fmt.Errorf("prepare host_stats: %w", err)
	}
	defer stmt.Close()

	for _, h := range hosts {
		if _, err := stmt.ExecContext(ctx, id, h.Host,
			h.OK, h.Changed, h.Unreachable, h.Failures, h.Skipped, h.Rescued, h.Ignored,
		); err != nil {
			return fmt.Errorf("upsert host %s: %w", h.Host, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// ListRuns lists runs with pagination, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and its host counters.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}

	return expectRow(result, id)
}

// expectRow maps "no row touched" to ErrRunNotFound.
func expectRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// ListHostStats returns the counters recorded for a run, by host name.
func (s *SQLiteStore) ListHostStats(ctx context.Context, runID string) ([]*HostStat, error) {
	query := `
		SELECT run_id, host, ok, changed, unreachable, failures, skipped, rescued, ignored
		FROM host_stats
		WHERE run_id = ?
		ORDER BY host
	`
	return s.queryHostStats(ctx, query, runID)
}

// HostHistory returns the latest counters of a host across runs.
func (s *SQLiteStore) HostHistory(ctx context.Context, host string, limit int) ([]*HostStat, error) {
	query := `
		SELECT h.run_id, h.host, h.ok, h.changed, h.unreachable, h.failures, h.skipped, h.rescued, h.ignored
		FROM host_stats h
		JOIN runs r ON r.id = h.run_id
		WHERE h.host = ?
		ORDER BY r.started_at DESC
		LIMIT ?
	`
	return s.queryHostStats(ctx, query, host, limit)
}

func (s *SQLiteStore) queryHostStats(ctx context.Context, query string, args ...any) ([]*HostStat, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list host_stats: %w", err)
	}
	defer rows.Close()

	stats := []*HostStat{}
	for rows.Next() {
		h := &HostStat{}
		err := rows.Scan(&h.RunID, &h.Host, &h.OK, &h.Changed, &h.Unreachable,
			&h.Failures, &h.Skipped, &h.Rescued, &h.Ignored)
		if err != nil {
			return nil, fmt.Errorf("scan host_stats: %w", err)
		}
		stats = append(stats, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate host_stats: %w", err)
	}

	return stats, nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return errNotInitialized
	}

	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Playbook, &r.Inventory, &r.BuildPath, &r.Status,
		&r.EngineExitCode, &r.ExitCode, &r.StatusCode, &r.Error, &r.Metadata,
		&r.StartedAt, &r.CompletedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

var _ Store = (*SQLiteStore)(nil)

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
