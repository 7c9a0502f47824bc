package transcribe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/metrics"
)

// ArtifactManager fetches and caches model artifact files. An artifact
// set is derived from the configuration: the encoder and decoder ONNX
// files vary with the selected precision, the config and tokenizer do
// not. Files already in the cache with the remote size are skipped.
type ArtifactManager struct {
	baseURL  string
	cacheDir string
	client   *http.Client
	log      zerolog.Logger

	mu sync.Mutex // one fetch at a time; artifacts feed one shared model
}

// NewArtifactManager creates an artifact manager rooted at cacheDir,
// fetching from baseURL/{model}/{artifact}.
func NewArtifactManager(baseURL, cacheDir string, log zerolog.Logger) *ArtifactManager {
	return &ArtifactManager{
		baseURL:  strings.TrimRight(baseURL, "/"),
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: 30 * time.Minute},
		log:      log.With().Str("component", "artifacts").Logger(),
	}
}

// artifactSet lists the files that must be resident for cfg.
func artifactSet(cfg Config) []string {
	enc := "encoder_model.onnx"
	if cfg.EncoderPrecision == PrecisionQuantized {
		enc = "encoder_model_quantized.onnx"
	}
	dec := "decoder_model_merged.onnx"
	if cfg.DecoderPrecision == PrecisionQuantized {
		dec = "decoder_model_merged_quantized.onnx"
	}
	return []string{"config.json", "tokenizer.json", enc, dec}
}

// modelDir maps a model identifier (which may contain slashes, e.g.
// "Xenova/whisper-tiny") to a cache subdirectory.
func (m *ArtifactManager) modelDir(model string) string {
	return filepath.Join(m.cacheDir, strings.ReplaceAll(model, "/", "--"))
}

// Resident reports whether every artifact for cfg exists locally.
func (m *ArtifactManager) Resident(cfg Config) bool {
	dir := m.modelDir(cfg.Model)
	for _, name := range artifactSet(cfg) {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.Size() == 0 {
			return false
		}
	}
	return true
}

// Ensure downloads any missing artifacts for cfg, reporting fractional
// progress per artifact. A local file whose size matches the remote
// Content-Length is skipped (reported immediately as complete).
func (m *ArtifactManager) Ensure(ctx context.Context, cfg Config, progress ProgressFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.modelDir(cfg.Model)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	for _, name := range artifactSet(cfg) {
		if err := m.fetch(ctx, cfg.Model, dir, name, progress); err != nil {
			return fmt.Errorf("artifact %s: %w", name, err)
		}
	}
	return nil
}

func (m *ArtifactManager) fetch(ctx context.Context, model, dir, name string, progress ProgressFunc) error {
	url := fmt.Sprintf("%s/%s/%s", m.baseURL, model, name)
	local := filepath.Join(dir, name)

	// Size-match check against the remote before re-downloading.
	if info, err := os.Stat(local); err == nil && info.Size() > 0 {
		if size, err := m.remoteSize(ctx, url); err == nil && size == info.Size() {
			if progress != nil {
				progress(name, 1)
			}
			return nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	// Atomic write: temp file + rename, like every other disk write in
	// this codebase.
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()

	body := io.Reader(resp.Body)
	if progress != nil && resp.ContentLength > 0 {
		body = &progressReader{
			r:     resp.Body,
			total: resp.ContentLength,
			report: func(frac float64) {
				progress(name, frac)
			},
		}
	}

	written, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, local); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}

	metrics.ModelArtifactBytesTotal.Add(float64(written))
	if progress != nil {
		progress(name, 1)
	}
	m.log.Info().Str("artifact", name).Str("model", model).Int64("bytes", written).Msg("artifact downloaded")
	return nil
}

func (m *ArtifactManager) remoteSize(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength <= 0 {
		return 0, fmt.Errorf("no size for %s", url)
	}
	return resp.ContentLength, nil
}

// progressReader reports cumulative read fraction against a known total.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(frac float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.report(float64(p.read) / float64(p.total))
	}
	return n, err
}
