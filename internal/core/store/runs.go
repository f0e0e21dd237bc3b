package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/metriclens/metriclens/internal/core"
)

// RunRecord is one persisted extraction run.
type RunRecord struct {
	RunID       string         `json:"run_id"`
	Status      core.RunStatus `json:"status"`
	Summary     string         `json:"summary"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Dataset     *core.Dataset  `json:"dataset,omitempty"`
}

// SaveRun persists a completed dataset.
func (s *Store) SaveRun(ctx context.Context, dataset *core.Dataset) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if dataset == nil || strings.TrimSpace(dataset.RunID) == "" {
		return errors.New("dataset with run id is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := json.Marshal(dataset)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO audit_runs (run_id, status, timeframe_start, timeframe_end, summary, dataset, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			summary = excluded.summary,
			dataset = excluded.dataset,
			completed_at = excluded.completed_at
	`,
		dataset.RunID,
		string(dataset.Status),
		dataset.Timeframe.Start.UTC().Unix(),
		dataset.Timeframe.End.UTC().Unix(),
		dataset.Summary,
		string(payload),
		dataset.StartedAt.UTC().Unix(),
		dataset.CompletedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store run: %w", err)
	}

	return nil
}

// GetRun returns one persisted run with its full dataset.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var (
		record      RunRecord
		status      string
		payload     string
		startedAt   int64
		completedAt int64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT run_id, status, summary, dataset, started_at, completed_at
		FROM audit_runs WHERE run_id = ?
	`, runID).Scan(&record.RunID, &status, &record.Summary, &payload, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch run: %w", err)
	}

	record.Status = core.RunStatus(status)
	record.StartedAt = time.Unix(startedAt, 0).UTC()
	record.CompletedAt = time.Unix(completedAt, 0).UTC()

	dataset := &core.Dataset{}
	if err := json.Unmarshal([]byte(payload), dataset); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	record.Dataset = dataset

	return &record, nil
}

// ListRuns returns recent runs, newest first, without section payloads.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if limit < 1 {
		limit = 20
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT run_id, status, summary, started_at, completed_at
		FROM audit_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	records := make([]*RunRecord, 0, limit)
	for rows.Next() {
		var (
			record      RunRecord
			status      string
			startedAt   int64
			completedAt int64
		)
		if err := rows.Scan(&record.RunID, &status, &record.Summary, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		record.Status = core.RunStatus(status)
		record.StartedAt = time.Unix(startedAt, 0).UTC()
		record.CompletedAt = time.Unix(completedAt, 0).UTC()
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	return records, nil
}
