package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/voxlab/voxlab/internal/evaluate"
)

// EvalRunRow is one persisted evaluation run summary.
type EvalRunRow struct {
	ID          string    `json:"id"`
	Model       string    `json:"model"`
	Total       int       `json:"total"`
	Failed      int       `json:"failed"`
	MeanWER     *float64  `json:"mean_wer,omitempty"`
	MeanLatency *float64  `json:"mean_latency,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// InsertEvalRun records a completed run and all its per-item results in
// one transaction. No-op on a nil DB.
func (db *DB) InsertEvalRun(ctx context.Context, model string, report *evaluate.Report) error {
	if db == nil {
		return nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var meanWER, meanLatency *float64
	if report.Total > report.Failed {
		w, l := report.MeanWER, report.MeanLatency
		meanWER, meanLatency = &w, &l
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO eval_runs (id, model, total, failed, mean_wer, mean_latency, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		report.RunID, model, report.Total, report.Failed, meanWER, meanLatency,
		report.StartedAt, report.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert eval run: %w", err)
	}

	batch := &pgx.Batch{}
	for i, res := range report.Results {
		batch.Queue(`
			INSERT INTO eval_results (run_id, item_id, position, truth, text, latency, wer)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			report.RunID, res.ID, i, res.Truth, res.Text, res.Latency, res.WER,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert eval results: %w", err)
	}

	return tx.Commit(ctx)
}

// ListEvalRuns returns run summaries, newest first. Returns nil on a
// nil DB.
func (db *DB) ListEvalRuns(ctx context.Context, limit int) ([]EvalRunRow, error) {
	if db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := db.Pool.Query(ctx, fmt.Sprintf(`
		SELECT id, model, total, failed, mean_wer, mean_latency, started_at, finished_at
		FROM eval_runs ORDER BY started_at DESC LIMIT %d`, limit))
	if err != nil {
		return nil, fmt.Errorf("list eval runs: %w", err)
	}
	defer rows.Close()

	var out []EvalRunRow
	for rows.Next() {
		var r EvalRunRow
		if err := rows.Scan(&r.ID, &r.Model, &r.Total, &r.Failed, &r.MeanWER, &r.MeanLatency, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan eval run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
