package transcribe

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the orchestrator and engine boundary.
var (
	// ErrBusy is returned when Start is called while a transcription or
	// model load is already in flight, and when configuration setters
	// are called in those states.
	ErrBusy = errors.New("transcription in progress")

	// ErrStaleInput is returned when the session audio changed while an
	// inference was in flight; the engine's output was discarded.
	ErrStaleInput = errors.New("input changed during transcription")

	// ErrModelLoad marks a model artifact fetch or initialization
	// failure. Fatal to the Start call that triggered it.
	ErrModelLoad = errors.New("model load failed")

	// ErrTranscription marks an engine-level inference failure.
	ErrTranscription = errors.New("transcription failed")
)

// Task selects what the engine does with the audio.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate" // translate to English
)

// Precision selects the model weight variant for one half of the
// encoder/decoder pair.
type Precision string

const (
	PrecisionFull      Precision = "fp32"
	PrecisionQuantized Precision = "q8"
)

// Config is the transcriber configuration. Mutated only through the
// orchestrator's setters; a change never affects an in-flight or
// completed call.
type Config struct {
	Model            string    `json:"model"`
	EncoderPrecision Precision `json:"encoder_precision"`
	DecoderPrecision Precision `json:"decoder_precision"`
	Multilingual     bool      `json:"multilingual"`
	Language         string    `json:"language"` // meaningful only when Multilingual
	Task             Task      `json:"task"`
}

// DefaultConfig returns the starting transcriber configuration.
func DefaultConfig(model string) Config {
	return Config{
		Model:            model,
		EncoderPrecision: PrecisionQuantized,
		DecoderPrecision: PrecisionQuantized,
		Multilingual:     false,
		Language:         "en",
		Task:             TaskTranscribe,
	}
}

// Result is one successful transcription. Immutable once produced.
type Result struct {
	Text    string        `json:"text"`
	Latency time.Duration `json:"latency"`
}

// LatencySeconds returns the wall-clock duration of the Start call in
// seconds, the unit the batch report uses.
func (r *Result) LatencySeconds() float64 {
	return r.Latency.Seconds()
}

// ArtifactProgress reports fractional download progress for one model
// artifact.
type ArtifactProgress struct {
	Artifact string  `json:"artifact"`
	Fraction float64 `json:"fraction"`
}

// ProgressFunc receives per-artifact progress during a model load.
type ProgressFunc func(artifact string, fraction float64)

// Engine is the external transcription collaborator. It is a black
// box: the orchestrator only needs to know whether its artifacts are
// resident, how to make them resident, and how to run one inference.
// Engines are not preemptible mid-inference; cancellation means the
// result is discarded, not that work stops.
type Engine interface {
	// Ready reports whether the artifacts for cfg are resident.
	Ready(cfg Config) bool

	// Load makes the artifacts for cfg resident, reporting per-artifact
	// progress. No-op when already resident.
	Load(ctx context.Context, cfg Config, progress ProgressFunc) error

	// Transcribe runs one inference over mono float32 samples at the
	// system sample rate and returns the text.
	Transcribe(ctx context.Context, samples []float32, cfg Config) (string, error)
}
