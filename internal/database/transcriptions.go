package database

import (
	"context"
	"fmt"
	"time"
)

// TranscriptionRow is one persisted transcription.
type TranscriptionRow struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Origin    string    `json:"origin"`
	MIME      string    `json:"mime,omitempty"`
	Model     string    `json:"model"`
	Text      string    `json:"text"`
	LatencyMs int       `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertTranscription records a successful transcription. No-op on a
// nil DB.
func (db *DB) InsertTranscription(ctx context.Context, row *TranscriptionRow) error {
	if db == nil {
		return nil
	}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO transcriptions (session_id, origin, mime, model, text, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		row.SessionID, row.Origin, row.MIME, row.Model, row.Text, row.LatencyMs,
	).Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transcription: %w", err)
	}
	return nil
}

// ListTranscriptions returns the newest transcriptions, optionally
// filtered by session. Returns nil on a nil DB.
func (db *DB) ListTranscriptions(ctx context.Context, sessionID string, limit int) ([]TranscriptionRow, error) {
	if db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, session_id, origin, mime, model, text, latency_ms, created_at
		FROM transcriptions`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = $1`
		args = append(args, sessionID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transcriptions: %w", err)
	}
	defer rows.Close()

	var out []TranscriptionRow
	for rows.Next() {
		var r TranscriptionRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Origin, &r.MIME, &r.Model, &r.Text, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcription: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
