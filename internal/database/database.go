// Package database persists transcription history and evaluation runs
// in Postgres. Persistence is optional: an empty DATABASE_URL runs the
// engine with no database at all, and every caller must tolerate a nil
// *DB.
package database

import (
	"context"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect opens a pgx pool and verifies it with a ping. An empty
// databaseURL returns (nil, nil): persistence disabled.
func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*DB, error) {
	if databaseURL == "" {
		log.Info().Msg("no DATABASE_URL, persistence disabled")
		return nil, nil
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 8
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Msg("database connected")

	return &DB{Pool: pool, log: log.With().Str("component", "database").Logger()}, nil
}

// Enabled reports whether persistence is active. Safe on a nil DB.
func (db *DB) Enabled() bool { return db != nil }

// PgxPool exposes the underlying pool for scrape-time stats. Returns
// nil when persistence is disabled.
func (db *DB) PgxPool() *pgxpool.Pool {
	if db == nil {
		return nil
	}
	return db.Pool
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

func (db *DB) Close() {
	if db == nil {
		return
	}
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}
