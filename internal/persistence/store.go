// Package persistence is the sqlite-backed store for everything that must
// survive a restart: tags, reaction role bindings, temporary bans, and the
// role name registry.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ferrite-bot/ferrite/internal/bus"
)

const (
	schemaVersionLatest  = 1
	schemaChecksumLatest = "fr-v1-2026-08-20-initial"
)

type Store struct {
	db  *sql.DB
	bus *bus.Bus // may be nil in tests
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".ferrite", "ferrite.db")
}

func Open(path string, eventBus *bus.Bus) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, bus: eventBus}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. The health endpoint uses it as
// its liveness probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter. maxRetries=5 gives ~3s total wait on top of the
// driver's busy_timeout (5s).
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		// Exponential backoff: 50ms, 100ms, 200ms, 400ms, 500ms (capped).
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		// Add jitter: ±25% of delay.
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	// mattn/go-sqlite3 wraps errors as sqlite3.Error with Code field.
	// Check the error string for the code to avoid a direct dependency
	// on the sqlite3 package in non-CGO-importing code paths.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}
	if maxVersion == schemaVersionLatest {
		var existingChecksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersionLatest).Scan(&existingChecksum); err != nil {
			return fmt.Errorf("read schema migration checksum: %w", err)
		}
		if existingChecksum != schemaChecksumLatest {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersionLatest, existingChecksum, schemaChecksumLatest)
		}
		return tx.Commit()
	}

	tableStatements := []string{
		`CREATE TABLE IF NOT EXISTS tags (
			guild_id TEXT NOT NULL,
			key TEXT NOT NULL,
			body TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (guild_id, key)
		);`,
		`CREATE TABLE IF NOT EXISTS reaction_bindings (
			guild_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			emoji TEXT NOT NULL,
			role_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, emoji)
		);`,
		`CREATE TABLE IF NOT EXISTS bans (
			id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			lifted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS roles (
			name TEXT PRIMARY KEY,
			role_id TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range tableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_bans_due ON bans(lifted, end_time);`,
		`CREATE INDEX IF NOT EXISTS idx_bans_guild_user ON bans(guild_id, user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_guild ON reaction_bindings(guild_id);`,
	}
	for _, stmt := range indexStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration index: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO schema_migrations (version, checksum)
		VALUES (?, ?);
	`, schemaVersionLatest, schemaChecksumLatest); err != nil {
		return fmt.Errorf("insert schema migration ledger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}
