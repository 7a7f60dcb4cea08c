package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// walCheckpointInterval is how often the WAL file is checkpointed to
// keep it from growing without bound in long-lived sessions.
const walCheckpointInterval = 5 * time.Minute

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	logger    *slog.Logger
	stopCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// DefaultDBPath returns the default database path (~/.pscue/state.db).
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".pscue", "state.db"), nil
}

// NewSQLiteStore opens (creating if needed) the database at dbPath,
// using the default path when dbPath is empty. WAL journaling and a
// busy timeout let independent shell sessions write concurrently
// without corrupting or losing each other's updates; a crash mid-write
// rolls back via the journal.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath == "" {
		var err error
		dbPath, err = DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// modernc.org/sqlite takes pragmas in the DSN as _pragma=name(value).
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite behaves best with a single writer connection per process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		logger:    logger,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	go s.walCheckpointLoop()

	return s, nil
}

// Close checkpoints and closes the database. Safe to call repeatedly.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.stoppedCh

		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// DB exposes the underlying handle for tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) walCheckpointLoop() {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(walCheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				s.logger.Warn("wal checkpoint failed", "error", err)
			}
		}
	}
}

// migrate brings the schema up to the current version.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	currentVersion := 0
	row := s.db.QueryRowContext(ctx, `
		SELECT version FROM schema_meta ORDER BY version DESC LIMIT 1
	`)
	if err := row.Scan(&currentVersion); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			currentVersion = 0
		case strings.Contains(err.Error(), "no such table"):
			currentVersion = 0
		default:
			return fmt.Errorf("failed to read schema version: %w", err)
		}
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{version: 1, sql: migrationV1},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration v%d failed: %w", m.version, err)
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO schema_meta (version, applied_at_unix_ms)
			VALUES (?, ?)
		`, m.version, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_meta (
  version INTEGER PRIMARY KEY,
  applied_at_unix_ms INTEGER NOT NULL
);

-- Usage statistics: one row per (verb, token)
CREATE TABLE IF NOT EXISTS usage_stats (
  verb TEXT NOT NULL,
  token TEXT NOT NULL,
  is_flag INTEGER NOT NULL DEFAULT 0,
  count INTEGER NOT NULL DEFAULT 0,
  last_used_unix_ms INTEGER NOT NULL DEFAULT 0,
  cooccur_json TEXT NOT NULL DEFAULT '{}',
  PRIMARY KEY (verb, token)
);

CREATE INDEX IF NOT EXISTS idx_usage_stats_verb ON usage_stats(verb, count DESC);

-- Learned parameter values: one row per (verb, flag, value)
CREATE TABLE IF NOT EXISTS param_values (
  verb TEXT NOT NULL,
  flag TEXT NOT NULL,
  value TEXT NOT NULL,
  count INTEGER NOT NULL DEFAULT 0,
  last_used_unix_ms INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (verb, flag, value)
);

-- Command history: append-only log, pruned by retention policy
CREATE TABLE IF NOT EXISTS command_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  command_id TEXT NOT NULL UNIQUE,
  verb TEXT NOT NULL,
  full_line TEXT NOT NULL,
  args_json TEXT NOT NULL DEFAULT '[]',
  success INTEGER NOT NULL DEFAULT 1,
  ts_unix_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_command_history_ts ON command_history(ts_unix_ms);

-- N-gram transitions
CREATE TABLE IF NOT EXISTS transitions (
  gram_key TEXT NOT NULL,
  next_verb TEXT NOT NULL,
  count INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (gram_key, next_verb)
);

-- Learned workflows with timing aggregates
CREATE TABLE IF NOT EXISTS workflows (
  steps_json TEXT NOT NULL PRIMARY KEY,
  occurrences INTEGER NOT NULL DEFAULT 0,
  avg_gap_ms INTEGER NOT NULL DEFAULT 0,
  last_seen_unix_ms INTEGER NOT NULL DEFAULT 0
);

-- Directory frecency for jump scoring
CREATE TABLE IF NOT EXISTS dir_visits (
  path TEXT NOT NULL PRIMARY KEY,
  visits INTEGER NOT NULL DEFAULT 0,
  last_visit_unix_ms INTEGER NOT NULL DEFAULT 0
);
`
