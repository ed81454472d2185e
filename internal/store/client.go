// Package store implements the SQLite-backed persistence layer: marker
// metadata, jobs, and the four per-level runtime event tables (spec §3,
// §4.1, §6.3). It follows the teacher's pkg/database layering (Config,
// Client, migrations via golang-migrate+iofs) with Postgres/pgx swapped for
// a local, single-file, pure-Go SQLite driver, since the spec mandates an
// entirely local and offline engine (see SPEC_FULL.md §3).
package store

import (
	"database/sql"
	"embed"
	"io"
	"log/slog"
	"sync"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/transrapport/engine/internal/engineerr"
)

//go:embed migrations
var migrationsFS embed.FS

// Store owns the single SQLite connection for a <root>/runtime database
// file. Per spec §5, "the SQLite connection is owned by the store and
// serialized by a single writer; concurrent readers are allowed" — here mu
// serializes every store operation, reads included, at the Go level, on
// top of SQLite's own locking and a pool capped at one open connection, so
// reads do not run concurrently with each other or with writes.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// Open creates the schema (if absent) at path and returns a ready Store.
// An empty path opens an in-memory database, useful for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "open", Err: err}
	}
	// SQLite only tolerates one writer; a single connection avoids
	// SQLITE_BUSY under our own mu serialization.
	db.SetMaxOpenConns(1)

	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// migrateSchema applies every embedded *.up.sql migration in version order.
// golang-migrate's own "sqlite3" database driver binds to the cgo
// github.com/mattn/go-sqlite3 package for its error-code introspection,
// which is incompatible with the pure-Go modernc.org/sqlite driver this
// store uses elsewhere (see DESIGN.md). Migrations are still read through
// golang-migrate's iofs source — which owns version parsing and up/down
// pairing from the embedded filesystem — and applied directly over
// database/sql, rather than through migrate.NewWithInstance's sqlite3
// database driver.
func migrateSchema(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "migration source", Err: err}
	}
	defer src.Close()

	version, err := src.First()
	for err == nil {
		r, _, readErr := src.ReadUp(version)
		if readErr != nil {
			return &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "read migration", Err: readErr}
		}
		body, readErr := io.ReadAll(r)
		r.Close()
		if readErr != nil {
			return &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "read migration", Err: readErr}
		}
		if _, execErr := db.Exec(string(body)); execErr != nil {
			return &engineerr.StorageError{Kind: engineerr.StorageCorrupt, Op: "apply migration", Err: execErr}
		}
		version, err = src.Next(version)
	}
	return nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func wrapIOErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &engineerr.StorageError{Kind: engineerr.StorageIO, Op: op, Err: err}
}
