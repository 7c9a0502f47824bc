package database

import "context"

// schemaSQL is the complete schema, applied once on a fresh database.
const schemaSQL = `
CREATE TABLE transcriptions (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    origin      TEXT NOT NULL,
    mime        TEXT NOT NULL DEFAULT '',
    model       TEXT NOT NULL,
    text        TEXT NOT NULL,
    latency_ms  INTEGER NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX transcriptions_session_idx ON transcriptions (session_id, created_at DESC);

CREATE TABLE eval_runs (
    id           TEXT PRIMARY KEY,
    model        TEXT NOT NULL,
    total        INTEGER NOT NULL,
    failed       INTEGER NOT NULL,
    mean_wer     DOUBLE PRECISION,
    mean_latency DOUBLE PRECISION,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE eval_results (
    run_id   TEXT NOT NULL REFERENCES eval_runs(id) ON DELETE CASCADE,
    item_id  TEXT NOT NULL,
    position INTEGER NOT NULL,
    truth    TEXT NOT NULL,
    text     TEXT,
    latency  DOUBLE PRECISION,
    wer      DOUBLE PRECISION,
    PRIMARY KEY (run_id, position)
);
`

// InitSchema applies the schema on a fresh database. It checks whether
// the "transcriptions" table exists as a proxy for whether the schema
// has been loaded. If present, it's a no-op.
func (db *DB) InitSchema(ctx context.Context) error {
	if db == nil {
		return nil
	}

	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'transcriptions')`,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh database detected, applying schema")
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	db.log.Info().Msg("schema applied successfully")
	return nil
}
