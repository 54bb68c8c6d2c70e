package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/example/recallengine/internal/config"
)

// DB is the global database connection
var DB *sqlx.DB

// Sentinel errors surfaced by the repositories.
var (
	// ErrNotFound is returned when a keyed read matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a versioned update lost the race against
	// a concurrent writer on the same key.
	ErrConflict = errors.New("version conflict")
)

// Connect establishes a connection to the database and initializes the schema
func Connect(cfg *config.Config) error {
	var db *sqlx.DB
	var err error

	switch cfg.DBType {
	case config.DBTypePostgres:
		db, err = sqlx.Connect("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(4)
	default:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." && cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		db, err = sqlx.Connect("sqlite3", cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to connect to sqlite: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	DB = db
	return initializeSchema()
}

// WithTx runs fn inside a transaction, committing when it returns nil and
// rolling back otherwise. Repository write methods take an sqlx.ExtContext so
// they run against either the pool or the transaction handle.
func WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}

// initializeSchema creates necessary tables if they don't exist. This is the
// single authoritative schema path; every table is declared exactly once.
func initializeSchema() error {
	statements := []struct {
		name string
		ddl  string
	}{
		{"concepts", `
			CREATE TABLE IF NOT EXISTS concepts (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				theme_id TEXT,
				theme_name TEXT,
				block_id TEXT,
				block_name TEXT,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)
		`},
		{"concept_difficulty", `
			CREATE TABLE IF NOT EXISTS concept_difficulty (
				concept_id TEXT PRIMARY KEY,
				rating REAL NOT NULL,
				n_observations INTEGER NOT NULL DEFAULT 0,
				version INTEGER NOT NULL DEFAULT 0,
				updated_at TIMESTAMP NOT NULL
			)
		`},
		{"user_abilities", `
			CREATE TABLE IF NOT EXISTS user_abilities (
				user_id TEXT PRIMARY KEY,
				rating REAL NOT NULL,
				n_observations INTEGER NOT NULL DEFAULT 0,
				version INTEGER NOT NULL DEFAULT 0,
				updated_at TIMESTAMP NOT NULL
			)
		`},
		{"memory_states", `
			CREATE TABLE IF NOT EXISTS memory_states (
				user_id TEXT NOT NULL,
				concept_id TEXT NOT NULL,
				state TEXT NOT NULL,
				stability REAL NOT NULL,
				difficulty REAL NOT NULL,
				last_retrievability REAL,
				last_reviewed_at TIMESTAMP,
				due_at TIMESTAMP,
				review_count INTEGER NOT NULL DEFAULT 0,
				lapse_count INTEGER NOT NULL DEFAULT 0,
				version INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				PRIMARY KEY (user_id, concept_id)
			)
		`},
		{"memory_states_due_idx", `
			CREATE INDEX IF NOT EXISTS memory_states_due_idx
				ON memory_states (user_id, due_at)
		`},
		{"review_logs", `
			CREATE TABLE IF NOT EXISTS review_logs (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				concept_id TEXT NOT NULL,
				reviewed_at TIMESTAMP NOT NULL,
				rating INTEGER NOT NULL,
				correct BOOLEAN NOT NULL,
				delta_days REAL NOT NULL,
				time_spent_ms INTEGER,
				predicted_retrievability REAL,
				session_id TEXT
			)
		`},
		{"review_logs_user_idx", `
			CREATE INDEX IF NOT EXISTS review_logs_user_idx
				ON review_logs (user_id, reviewed_at)
		`},
		{"review_logs_pair_idx", `
			CREATE INDEX IF NOT EXISTS review_logs_pair_idx
				ON review_logs (user_id, concept_id, reviewed_at)
		`},
		{"parameter_sets", `
			CREATE TABLE IF NOT EXISTS parameter_sets (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				weights TEXT NOT NULL,
				shrinkage_alpha REAL NOT NULL,
				optimal_retention REAL NOT NULL,
				val_logloss REAL NOT NULL,
				val_brier REAL NOT NULL,
				baseline_logloss REAL NOT NULL,
				improvement REAL NOT NULL,
				n_logs INTEGER NOT NULL,
				run_id TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL
			)
		`},
		{"parameter_sets_user_idx", `
			CREATE INDEX IF NOT EXISTS parameter_sets_user_idx
				ON parameter_sets (user_id, created_at)
		`},
	}

	for _, s := range statements {
		if _, err := DB.Exec(s.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}
	return nil
}
