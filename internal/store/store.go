// Package store is keygate's persistence layer. It owns the license
// registry rows, the activation ledger (activations plus their append-only
// audit log), the app catalog, and admin accounts/sessions, backed by SQLite
// (default), PostgreSQL, or MySQL through sqlx.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

func init() {
	// modernc's driver registers as "sqlite", which sqlx's bindvar table
	// does not know about.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store provides all database access. All queries are written with `?`
// placeholders and rebound per driver.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the configured database and runs migrations. For the
// sqlite driver an empty DSN opens an in-memory database (used by tests).
func Open(driver, dsn string) (*Store, error) {
	var sqlxDriver string
	switch driver {
	case DriverSQLite:
		sqlxDriver = "sqlite"
		if dsn == "" {
			dsn = ":memory:"
		}
	case DriverPostgres:
		sqlxDriver = "pgx"
	case DriverMySQL:
		sqlxDriver = "mysql"
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sqlx.Connect(sqlxDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite has a single writer; funnel everything through one
		// connection so concurrent requests queue instead of failing
		// with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// forUpdate returns the row-lock clause for the count-then-claim sequence.
// SQLite serializes writers on its own and rejects FOR UPDATE syntax.
func (s *Store) forUpdate() string {
	if s.driver == DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}

func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

func now() time.Time {
	return time.Now().UTC()
}
