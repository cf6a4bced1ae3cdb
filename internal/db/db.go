// Package db is the SQLite store of agents, schedules and reservations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps sql.DB with the agentbook queries.
type DB struct {
	*sql.DB
	store
	path   string
	logger *zerolog.Logger
}

// Tx exposes the same queries bound to one transaction.
type Tx struct {
	store
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store holds the queries shared by DB and Tx.
type store struct {
	q queryer
}

// NewDB opens the database at path and creates the schema if missing.
// Write transactions start with BEGIN IMMEDIATE so concurrent bookings
// serialize on the database lock instead of failing at commit.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:     sqlDB,
		store:  store{q: sqlDB},
		path:   path,
		logger: logger,
	}

	if err := instance.createTables(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			user_id INTEGER NOT NULL DEFAULT 0,
			chat_id INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS weekly_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id INTEGER NOT NULL,
			day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
			is_available BOOLEAN NOT NULL DEFAULT 1,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			break_start TEXT,
			break_end TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (agent_id, day_of_week),
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		)`,
		`CREATE TABLE IF NOT EXISTS date_exceptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			is_available BOOLEAN NOT NULL DEFAULT 0,
			start_time TEXT,
			end_time TEXT,
			break_start TEXT,
			break_end TEXT,
			reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (agent_id, date),
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			agent_id INTEGER NOT NULL,
			client_id INTEGER,
			guest_name TEXT,
			guest_phone TEXT,
			service_id INTEGER,
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			payment_status TEXT,
			payment_method TEXT NOT NULL,
			payment_proof_ref TEXT,
			notes TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			cancelled_at DATETIME,
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		)`,

		// One live reservation per agent, date and time.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_reservations_active_slot
			ON reservations(agent_id, date, time) WHERE status != 'CANCELLED'`,

		`CREATE INDEX IF NOT EXISTS idx_agents_user ON agents(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_exceptions_agent_date ON date_exceptions(agent_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_agent_date ON reservations(agent_id, date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_client ON reservations(client_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// WithTx runs fn inside a write transaction. fn's error rolls the
// transaction back and is returned unchanged.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{store: store{q: sqlTx}}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint && se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
