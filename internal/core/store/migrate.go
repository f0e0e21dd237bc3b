package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS audit_runs (
		run_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		timeframe_start INTEGER NOT NULL,
		timeframe_end INTEGER NOT NULL,
		summary TEXT,
		dataset TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_runs_started ON audit_runs(started_at);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_runs_status ON audit_runs(status);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
