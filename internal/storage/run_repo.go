package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"dsstrack/internal/models"
)

type RunRepo struct {
	db *DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

func (r *RunRepo) CreateRun(ctx context.Context, run models.AnalysisRun) error {
	cols, _ := json.Marshal(run.Columns)
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO analysis_runs (run_id, session_id, columns, threshold, row_count, status)
VALUES ($1, $2, $3::jsonb, $4, $5, 'running')`, run.RunID, run.SessionID, string(cols), run.Threshold, run.RowCount)
	if err != nil {
		return fmt.Errorf("create analysis run: %w", err)
	}
	return nil
}

func (r *RunRepo) FinishRun(ctx context.Context, runID, status, provider string, groupCount int) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE analysis_runs SET status=$2, provider=NULLIF($3,''), group_count=$4 WHERE run_id=$1`, runID, status, provider, groupCount)
	if err != nil {
		return fmt.Errorf("finish analysis run: %w", err)
	}
	return nil
}

func (r *RunRepo) ListRunsBySession(ctx context.Context, sessionID string) ([]models.AnalysisRun, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT run_id, session_id, columns, threshold, row_count, group_count, COALESCE(provider,''), status, created_at
FROM analysis_runs
WHERE session_id=$1
ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list analysis runs: %w", err)
	}
	defer rows.Close()
	out := make([]models.AnalysisRun, 0, 8)
	for rows.Next() {
		var run models.AnalysisRun
		var cols []byte
		if err := rows.Scan(&run.RunID, &run.SessionID, &cols, &run.Threshold, &run.RowCount, &run.GroupCount, &run.Provider, &run.Status, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis run: %w", err)
		}
		if err := json.Unmarshal(cols, &run.Columns); err != nil {
			return nil, fmt.Errorf("decode run columns: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis runs: %w", err)
	}
	return out, nil
}
