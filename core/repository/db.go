package repository

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported ledger drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB wraps a ledger connection. Queries are written with $N placeholders
// and rebound for drivers that use ?N.
type DB struct {
	*sql.DB
	driver string
}

// NewDB opens and pings a ledger database
func NewDB(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}
	return &DB{DB: conn, driver: driver}, nil
}

// Driver returns the driver name
func (db *DB) Driver() string {
	return db.driver
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $N placeholders for the current driver
func (db *DB) Rebind(query string) string {
	if db.driver != DriverSQLite {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

// Exec runs a statement
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.DB.Exec(db.Rebind(query), args...)
}

// Query runs a query
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.DB.Query(db.Rebind(query), args...)
}

// QueryRow runs a query returning at most one row
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRow(db.Rebind(query), args...)
}

// Begin starts a transaction
func (db *DB) Begin() (*Tx, error) {
	tx, err := db.DB.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, db: db}, nil
}

// Tx is a transaction that rebinds placeholders like DB
type Tx struct {
	*sql.Tx
	db *DB
}

// Exec runs a statement inside the transaction
func (tx *Tx) Exec(query string, args ...interface{}) (sql.Result, error) {
	return tx.Tx.Exec(tx.db.Rebind(query), args...)
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		write_mode TEXT NOT NULL,
		workers INTEGER NOT NULL,
		started_at BIGINT NOT NULL,
		finished_at BIGINT NOT NULL,
		tasks INTEGER NOT NULL,
		completed INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		bytes_written BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS task_results (
		run_id TEXT NOT NULL REFERENCES runs(id),
		variable TEXT NOT NULL,
		kind TEXT NOT NULL,
		output_path TEXT NOT NULL,
		worker_rank INTEGER NOT NULL,
		status TEXT NOT NULL,
		elapsed_ns BIGINT NOT NULL,
		steps INTEGER NOT NULL,
		bytes_written BIGINT NOT NULL,
		bytes_requested BIGINT NOT NULL,
		bytes_actual BIGINT NOT NULL,
		error TEXT NOT NULL,
		error_kind TEXT NOT NULL,
		PRIMARY KEY (run_id, kind, variable)
	)`,
	`CREATE TABLE IF NOT EXISTS task_events (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		variable TEXT NOT NULL,
		at BIGINT NOT NULL,
		from_state TEXT,
		to_state TEXT NOT NULL,
		reason TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS task_events_run_idx ON task_events (run_id, variable)`,
}

// Migrate creates the ledger tables if they do not exist
func (db *DB) Migrate() error {
	for _, stmt := range postgresSchema {
		if db.driver == DriverSQLite {
			stmt = sqliteDDL(stmt)
		}
		if _, err := db.DB.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate ledger: %w", err)
		}
	}
	return nil
}

func sqliteDDL(stmt string) string {
	return strings.ReplaceAll(stmt, "BIGSERIAL PRIMARY KEY", "INTEGER PRIMARY KEY AUTOINCREMENT")
}
