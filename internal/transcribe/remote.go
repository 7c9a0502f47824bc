package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
)

// RemoteEngine runs inference against an OpenAI-compatible
// /audio/transcriptions endpoint. Decoded samples are re-encoded as
// 16-bit WAV at the system rate for the wire; model artifacts are made
// resident through the ArtifactManager before the first call.
type RemoteEngine struct {
	url       string
	client    *http.Client
	artifacts *ArtifactManager
	log       zerolog.Logger
}

// NewRemoteEngine creates a remote engine. artifacts may be nil for
// endpoints that manage their own model files; Ready then always
// reports true.
func NewRemoteEngine(url string, timeout time.Duration, artifacts *ArtifactManager, log zerolog.Logger) *RemoteEngine {
	return &RemoteEngine{
		url:       url,
		client:    &http.Client{Timeout: timeout},
		artifacts: artifacts,
		log:       log.With().Str("component", "engine").Logger(),
	}
}

func (e *RemoteEngine) Ready(cfg Config) bool {
	if e.artifacts == nil {
		return true
	}
	return e.artifacts.Resident(cfg)
}

func (e *RemoteEngine) Load(ctx context.Context, cfg Config, progress ProgressFunc) error {
	if e.artifacts == nil {
		return nil
	}
	return e.artifacts.Ensure(ctx, cfg, progress)
}

// engineResponse is the minimal response shape we rely on.
type engineResponse struct {
	Text string `json:"text"`
}

// Transcribe posts the samples as a WAV multipart upload and returns
// the transcribed text.
func (e *RemoteEngine) Transcribe(ctx context.Context, samples []float32, cfg Config) (string, error) {
	wav := audio.EncodeWAV(samples, audio.SampleRate)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}

	if cfg.Model != "" {
		w.WriteField("model", cfg.Model)
	}
	if cfg.Multilingual && cfg.Language != "" {
		w.WriteField("language", cfg.Language)
	}
	task := cfg.Task
	if task == "" {
		task = TaskTranscribe
	}
	w.WriteField("task", string(task))
	w.WriteField("response_format", "json")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("engine error (status %d): %s", resp.StatusCode, string(body))
	}

	var result engineResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.Text, nil
}
