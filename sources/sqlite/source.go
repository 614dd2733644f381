// Package sqlite keeps async variable values in a SQLite table, one JSON
// encoded row per state key, and adapts them to rstate get and set
// operations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Load when a key has no stored value.
var ErrNotFound = errors.New("sqlite: value not found")

// Source stores one value per state key.
type Source struct {
	db          *sql.DB
	cfg         *config
	logger      Logger
	metricsHook MetricsHook

	loadStmt   *sql.Stmt
	saveStmt   *sql.Stmt
	deleteStmt *sql.Stmt
	keysStmt   *sql.Stmt
}

// dbOpener is used to open database connections, injectable for testing
var dbOpener = sql.Open

// Open opens (and by default migrates) the database at path. ":memory:"
// opens a private in-memory database.
//
// Note: When WithAutoMigrate is enabled (the default), migrations run with
// context.Background() and are not cancellable.
func Open(path string, opts ...Option) (*Source, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	// Validate path to prevent URI parameter injection
	if path != ":memory:" && (strings.Contains(path, "?") || strings.Contains(path, "#")) {
		return nil, errors.New("sqlite: path cannot contain '?' or '#' characters")
	}

	cfg := defaultConfig()
	cfg.path = path
	for _, opt := range opts {
		opt(cfg)
	}

	var dsn string
	if cfg.path == ":memory:" {
		// Named shared cache so every pooled connection sees the same
		// database, but no other Source does.
		dsn = fmt.Sprintf("file:rstate-%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.path, cfg.busyTimeout.Milliseconds())
	}

	db, err := dbOpener("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	if cfg.path == ":memory:" {
		// The database lives as long as one connection stays open, and
		// shared-cache writers fail with SQLITE_LOCKED instead of waiting.
		db.SetMaxOpenConns(1)
	}

	if err := applyPragmas(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply pragmas: %w", err)
	}

	if cfg.autoMigrate {
		if err := migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	return newFromDB(db, cfg)
}

func newFromDB(db *sql.DB, cfg *config) (*Source, error) {
	s := &Source{
		db:          db,
		cfg:         cfg,
		logger:      cfg.logger,
		metricsHook: cfg.metricsHook,
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: prepare statements: %w", err)
	}

	return s, nil
}

func applyPragmas(db *sql.DB, cfg *config) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout.Milliseconds()),
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	return nil
}

func (s *Source) prepareStatements() error {
	type stmtDef struct {
		dest **sql.Stmt
		sql  string
	}

	stmts := []stmtDef{
		{&s.loadStmt, "SELECT value FROM state_values WHERE key = ?"},
		{&s.saveStmt, `INSERT INTO state_values (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`},
		{&s.deleteStmt, "DELETE FROM state_values WHERE key = ?"},
		{&s.keysStmt, "SELECT key FROM state_values ORDER BY key"},
	}

	for _, def := range stmts {
		stmt, err := s.db.Prepare(def.sql)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		*def.dest = stmt
	}

	return nil
}

// Load returns the stored encoding of key, or ErrNotFound.
func (s *Source) Load(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	var data []byte
	err := s.loadStmt.QueryRowContext(ctx, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if s.metricsHook != nil {
				s.metricsHook.OnLoad(time.Since(start), false, nil)
			}
			return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		if s.metricsHook != nil {
			s.metricsHook.OnLoad(time.Since(start), false, err)
		}
		return nil, fmt.Errorf("sqlite: load %q: %w", key, err)
	}

	if s.metricsHook != nil {
		s.metricsHook.OnLoad(time.Since(start), true, nil)
	}
	if s.logger != nil {
		s.logger.Debug("loaded state value", "key", key, "bytes", len(data))
	}

	return data, nil
}

// Save stores data under key, replacing any previous value.
func (s *Source) Save(ctx context.Context, key string, data []byte) error {
	start := time.Now()

	_, err := s.saveStmt.ExecContext(ctx, key, data, time.Now().UTC())
	if s.metricsHook != nil {
		s.metricsHook.OnSave(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("sqlite: save %q: %w", key, err)
	}

	if s.logger != nil {
		s.logger.Debug("saved state value", "key", key, "bytes", len(data))
	}

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Source) Delete(ctx context.Context, key string) error {
	start := time.Now()

	_, err := s.deleteStmt.ExecContext(ctx, key)
	if s.metricsHook != nil {
		s.metricsHook.OnDelete(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("sqlite: delete %q: %w", key, err)
	}
	return nil
}

// Keys returns every stored key in ascending order.
func (s *Source) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.keysStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlite: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate keys: %w", err)
	}
	return keys, nil
}

// Close closes the database connection and releases resources.
func (s *Source) Close() error {
	stmts := []*sql.Stmt{
		s.loadStmt,
		s.saveStmt,
		s.deleteStmt,
		s.keysStmt,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}

	if s.logger != nil {
		s.logger.Info("closing sqlite source")
	}

	return s.db.Close()
}
