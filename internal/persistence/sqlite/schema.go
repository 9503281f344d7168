package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one versioned schema step.
type migration struct {
	Version     string
	Description string
	Statements  []string
}

var migrations = []migration{
	{
		Version:     "001",
		Description: "documents and advisory locks",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS documents (
				key TEXT PRIMARY KEY,
				collection TEXT NOT NULL,
				body BLOB NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, key)`,
			`CREATE TABLE IF NOT EXISTS locks (
				key TEXT PRIMARY KEY,
				owner TEXT NOT NULL,
				acquired_at INTEGER NOT NULL
			)`,
		},
	},
}

// Migrate creates the schema_migrations table and applies pending migrations
// in version order, each inside its own transaction.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.DB().ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			execution_time_ms INTEGER
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := s.isApplied(ctx, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		started := time.Now()
		err = s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			for i, stmt := range m.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %s statement %d: %w", m.Version, i+1, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_at, execution_time_ms) VALUES (?, ?, ?)`,
				m.Version, time.Now().UTC().Format(time.RFC3339), time.Since(started).Milliseconds())
			return err
		})
		if err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "applied migration", "version", m.Version, "description", m.Description)
	}
	return nil
}

func (s *Storage) isApplied(ctx context.Context, version string) (bool, error) {
	var exists int
	err := s.pool.DB().QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ? LIMIT 1`, version).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return true, nil
}
