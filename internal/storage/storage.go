package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/config"
)

// Store abstracts the blob backend holding playback audio and eval
// reports. Keys are slash-separated: {origin}/{YYYY-MM-DD}/{id}.{ext}
// for playback blobs, reports/{run}.txt for eval exports.
type Store interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for the blob.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks whether the blob is present.
	Exists(ctx context.Context, key string) bool

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a presigned URL for the blob, or "" for backends
	// that can only stream through the API.
	URL(ctx context.Context, key string) (string, error)

	// Type returns "local" or "s3".
	Type() string
}

// New creates a Store based on config: S3 when configured, local
// filesystem otherwise. Returns the store and optional background
// services the caller must Start/Stop. Errors if S3 is configured but
// unreachable.
func New(cfg config.S3Config, dataDir string, retention time.Duration, log zerolog.Logger) (Store, []BackgroundService, error) {
	if !cfg.Enabled() {
		local := NewLocalStore(dataDir)
		var services []BackgroundService
		if retention > 0 {
			services = append(services, NewJanitor(dataDir, retention, log))
		}
		return local, services, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	return s3store, nil, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
