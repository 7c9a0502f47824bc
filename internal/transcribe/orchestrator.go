package transcribe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
	"github.com/voxlab/voxlab/internal/events"
	"github.com/voxlab/voxlab/internal/metrics"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateModelLoading State = "model_loading"
	StateBusy         State = "busy"
	StateDone         State = "done"
)

// Orchestrator serializes access to the shared transcription engine.
// The loaded model is a single process-wide resource, so Start is
// single-flight: a call while one is already running is rejected with
// ErrBusy rather than queued. Correctness must not depend on callers
// (UI or otherwise) being well-behaved about concurrent requests.
type Orchestrator struct {
	engine Engine
	bus    *events.Bus
	log    zerolog.Logger

	mu       sync.Mutex
	state    State
	cfg      Config
	gen      uint64 // input generation; bumped by OnInputChange
	last     *Result
	lastErr  error
	progress map[string]float64 // artifact → fraction during a load
}

// NewOrchestrator wraps an engine. bus may be nil (the eval CLI runs
// without an event stream).
func NewOrchestrator(engine Engine, cfg Config, bus *events.Bus, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		engine: engine,
		bus:    bus,
		log:    log.With().Str("component", "orchestrator").Logger(),
		state:  StateIdle,
		cfg:    cfg,
	}
}

// Start runs one transcription over dec and returns the result with
// its wall-clock latency. The first call with non-resident artifacts
// passes through a model-loading phase with per-artifact progress
// events. A concurrent call gets ErrBusy. If the session input changes
// while the inference is in flight the engine finishes but the output
// is discarded and ErrStaleInput is returned.
func (o *Orchestrator) Start(ctx context.Context, dec *audio.Decoded) (*Result, error) {
	if dec == nil || len(dec.Samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrTranscription)
	}

	o.mu.Lock()
	if o.state == StateBusy || o.state == StateModelLoading {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	gen := o.gen
	cfg := o.cfg
	needLoad := !o.engine.Ready(cfg)
	if needLoad {
		o.state = StateModelLoading
		o.progress = make(map[string]float64)
	} else {
		o.state = StateBusy
	}
	o.last = nil
	o.lastErr = nil
	o.mu.Unlock()

	if needLoad {
		if err := o.engine.Load(ctx, cfg, o.reportArtifact); err != nil {
			o.settle(StateIdle, nil, err)
			metrics.TranscriptionsTotal.WithLabelValues("model_load_error").Inc()
			return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
		}
		o.mu.Lock()
		o.state = StateBusy
		o.progress = nil
		o.mu.Unlock()
		o.log.Info().Str("model", cfg.Model).Msg("model artifacts resident")
	}

	start := time.Now()
	text, err := o.engine.Transcribe(ctx, dec.Samples, cfg)
	latency := time.Since(start)

	if err != nil {
		// Engine failure surfaces to the caller; the orchestrator goes
		// back to Idle rather than sticking in a failed state.
		o.settle(StateIdle, nil, err)
		metrics.TranscriptionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrTranscription, err)
	}

	res := &Result{Text: strings.TrimSpace(text), Latency: latency}

	o.mu.Lock()
	if o.gen != gen {
		// Input changed mid-inference. The engine ran to completion
		// (engines are not preemptible) but the output belongs to audio
		// that is no longer current.
		o.state = StateIdle
		o.mu.Unlock()
		metrics.TranscriptionsTotal.WithLabelValues("stale").Inc()
		o.log.Debug().Dur("latency", latency).Msg("discarding stale transcription")
		return nil, ErrStaleInput
	}
	o.state = StateDone
	o.last = res
	o.mu.Unlock()

	metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()
	metrics.TranscriptionDuration.Observe(latency.Seconds())
	o.log.Debug().
		Dur("latency", latency).
		Int("chars", len(res.Text)).
		Str("origin", string(dec.Origin)).
		Msg("transcription complete")
	return res, nil
}

// OnInputChange signals that the audio a pending or cached result
// refers to has been replaced. The cached output is cleared and any
// in-flight inference is marked stale.
func (o *Orchestrator) OnInputChange() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	o.last = nil
	o.lastErr = nil
	if o.state == StateDone {
		o.state = StateIdle
	}
}

// Status is a read-only snapshot for the API layer.
type Status struct {
	State          State              `json:"state"`
	IsModelLoading bool               `json:"is_model_loading"`
	IsBusy         bool               `json:"is_busy"`
	ProgressItems  []ArtifactProgress `json:"progress_items,omitempty"`
	LastText       string             `json:"last_text,omitempty"`
	LastError      string             `json:"last_error,omitempty"`
}

// Snapshot returns the current status.
func (o *Orchestrator) Snapshot() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		State:          o.state,
		IsModelLoading: o.state == StateModelLoading,
		IsBusy:         o.state == StateBusy || o.state == StateModelLoading,
	}
	for name, frac := range o.progress {
		st.ProgressItems = append(st.ProgressItems, ArtifactProgress{Artifact: name, Fraction: frac})
	}
	if o.last != nil {
		st.LastText = o.last.Text
	}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
	}
	return st
}

// Config returns a snapshot of the current configuration.
func (o *Orchestrator) Config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Configuration setters. Each takes effect on the next Start, never
// retroactively, and is rejected with ErrBusy while a call or model
// load is in flight.

func (o *Orchestrator) SetModel(model string) error {
	return o.mutate(func(c *Config) { c.Model = model })
}

func (o *Orchestrator) SetEncoderPrecision(p Precision) error {
	return o.mutate(func(c *Config) { c.EncoderPrecision = p })
}

func (o *Orchestrator) SetDecoderPrecision(p Precision) error {
	return o.mutate(func(c *Config) { c.DecoderPrecision = p })
}

func (o *Orchestrator) SetMultilingual(v bool) error {
	return o.mutate(func(c *Config) { c.Multilingual = v })
}

func (o *Orchestrator) SetLanguage(lang string) error {
	return o.mutate(func(c *Config) { c.Language = lang })
}

func (o *Orchestrator) SetTask(t Task) error {
	return o.mutate(func(c *Config) { c.Task = t })
}

func (o *Orchestrator) mutate(fn func(*Config)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateBusy || o.state == StateModelLoading {
		return ErrBusy
	}
	fn(&o.cfg)
	return nil
}

func (o *Orchestrator) settle(state State, res *Result, err error) {
	o.mu.Lock()
	o.state = state
	o.last = res
	o.lastErr = err
	o.progress = nil
	o.mu.Unlock()
}

func (o *Orchestrator) reportArtifact(artifact string, fraction float64) {
	o.mu.Lock()
	if o.progress != nil {
		o.progress[artifact] = fraction
	}
	o.mu.Unlock()

	if o.bus != nil {
		o.bus.Publish(events.TypeModelProgress, "", ArtifactProgress{
			Artifact: artifact,
			Fraction: fraction,
		})
	}
}
