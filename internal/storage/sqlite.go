// Package storage provides the SQLite-backed Session Store.
//
// The store owns all persisted session state: sessions, messages with their
// ordered parts, usage, attachments, todo snapshots and todo lists. It does
// not lock across calls; callers serialize mutations of a session.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/opencode-ai/streamd/internal/logging"
)

var (
	// ErrNotFound is returned when a session or message does not exist.
	ErrNotFound = errors.New("not found")
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	busyRetries        = 5
	busyInitialBackoff = 20 * time.Millisecond
	busyMaxBackoff     = 500 * time.Millisecond
)

// Store is the Session Store.
type Store struct {
	path string
	db   *sql.DB
	log  zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path, db: db, log: logging.Component("storage")}
	if err := s.runMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type migration struct {
	version int
	name    string
	sql     string
}

func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}

	var out []migration
	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version prefix", e.Name())
		}
		content, err := fs.ReadFile(migrationFS, path.Join("migrations", e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, migration{version: version, name: e.Name(), sql: extractUpMigration(string(content))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// runMigrations applies embedded migrations not yet recorded in schema_migrations.
func (s *Store) runMigrations(ctx context.Context) error {
	const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := s.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", m.name, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", m.name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.log.Debug().Str("migration", m.name).Msg("applied migration")
	}

	return nil
}

// extractUpMigration extracts the Up section of a goose-format migration.
func extractUpMigration(content string) string {
	var up []string
	inUp, inStatement := false, false

	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.Contains(line, "-- +goose Up"):
			inUp = true
			continue
		case strings.Contains(line, "-- +goose Down"):
			return strings.Join(up, "\n")
		case strings.Contains(line, "-- +goose StatementBegin"):
			inStatement = true
			continue
		case strings.Contains(line, "-- +goose StatementEnd"):
			inStatement = false
			continue
		}
		if inUp && inStatement {
			up = append(up, line)
		}
	}

	return strings.Join(up, "\n")
}

// isBusy reports whether err is a transient lock conflict.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func newBusyBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = busyInitialBackoff
	b.MaxInterval = busyMaxBackoff
	b.RandomizationFactor = 0.5
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, busyRetries), ctx)
}

// retry runs op, retrying only while the database reports it is busy.
func (s *Store) retry(ctx context.Context, op func() error) error {
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, newBusyBackoff(ctx), func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Dur("wait", wait).Msg("database busy, retrying")
	})
}

// withTx runs fn in a transaction, retried as a whole when the database is busy.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func newID() string {
	return ulid.Make().String()
}

func now() int64 {
	return time.Now().UnixMilli()
}

func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
