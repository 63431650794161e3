// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database: it lives inside the Go binary as a single file.
// No separate database server to install or manage, and ":memory:" gives every
// test its own throwaway database.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so no C compiler is needed and
// cross-compilation keeps working.
//
// SCHEMA MIGRATIONS:
// The schema lives in migrations/*.sql, embedded into the binary and applied
// by goose on startup. goose records applied versions in its own table, so
// New is safe to call against an existing database file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/pressly/goose/v3"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// memoryPath opens a private in-memory database.
const memoryPath = ":memory:"

// DB wraps a sql.DB connection pool and implements every repository
// interface in the repository package.
//
// It is the single store handle of the process: opened once in server.New,
// shared by all handlers, closed on shutdown.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens the SQLite database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/connhub.db" → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests)
//
// CONNECTION-SCOPED PRAGMAS:
// PRAGMA foreign_keys and busy_timeout apply to one connection only, but
// sql.DB is a pool. For files we pass them in the DSN so every pooled
// connection gets them. An in-memory database exists per connection, so
// we pin the pool to a single connection and set the pragmas on it.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	dsn := dbPath
	if dbPath != memoryPath {
		dsn = dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if dbPath == memoryPath {
		conn.SetMaxOpenConns(1)
		conn.SetConnMaxLifetime(0)
		if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
		}
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn, logger: logger}

	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by the health check.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate applies every pending migration from the embedded FS.
//
// We use a goose Provider rather than the package-level goose functions:
// the provider carries its own dialect and filesystem, so parallel tests
// opening several databases don't share global state.
func (db *DB) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db.conn, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	if len(results) > 0 && db.logger != nil {
		db.logger.Info("database migrated", slog.Int("applied", len(results)))
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure. Repositories translate it into apperror.Conflict.
func isUniqueViolation(err error) bool {
	var sqlErr *sqlitedrv.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}

// isForeignKeyViolation reports whether err is a FOREIGN KEY failure.
func isForeignKeyViolation(err error) bool {
	var sqlErr *sqlitedrv.Error
	return errors.As(err, &sqlErr) && sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

// likePattern turns a free-text query into a LIKE pattern that matches it
// anywhere. %, _ and the escape character are escaped so user input
// is matched literally; queries must use ESCAPE '\'.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(strings.TrimSpace(q))) + "%"
}
