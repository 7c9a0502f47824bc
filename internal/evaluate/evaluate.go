package evaluate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
	"github.com/voxlab/voxlab/internal/events"
	"github.com/voxlab/voxlab/internal/metrics"
	"github.com/voxlab/voxlab/internal/transcribe"
)

// BatchItem is one (audio, ground truth) pair. Order in the input
// slice is significant: it drives progress percentage and result
// ordering. A nil Audio marks an item whose acquisition failed
// upstream; Run settles a failed result for it without invoking the
// engine.
type BatchItem struct {
	ID    string
	Audio *audio.Decoded
	Truth string
}

// BatchResult is the outcome for one BatchItem, produced in input
// order. Nil Text/Latency mark a failed item; the batch itself never
// aborts on item failure.
type BatchResult struct {
	ID      string   `json:"id"`
	Truth   string   `json:"truth"`
	Text    *string  `json:"text,omitempty"`
	Latency *float64 `json:"latency_seconds,omitempty"`
	WER     *float64 `json:"wer,omitempty"`
}

// Failed reports whether this item's transcription failed.
func (r *BatchResult) Failed() bool { return r.Text == nil }

// Progress is the running completion state published after every item.
type Progress struct {
	RunID     string  `json:"run_id"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
}

// Report is the aggregate outcome of one batch run.
type Report struct {
	RunID       string        `json:"run_id"`
	Results     []BatchResult `json:"results"`
	Total       int           `json:"total"`
	Failed      int           `json:"failed"`
	MeanWER     float64       `json:"mean_wer"`
	MeanLatency float64       `json:"mean_latency_seconds"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Evaluator drives the orchestrator over a corpus, strictly one item
// at a time. The engine is single-flight and shares model state, so
// parallelism here would only produce ErrBusy storms.
type Evaluator struct {
	orch *transcribe.Orchestrator
	bus  *events.Bus
	log  zerolog.Logger
}

// New creates an evaluator. bus may be nil (CLI runs).
func New(orch *transcribe.Orchestrator, bus *events.Bus, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		orch: orch,
		bus:  bus,
		log:  log.With().Str("component", "evaluate").Logger(),
	}
}

// Run processes items sequentially and returns exactly one BatchResult
// per item, in input order. A failed item is logged and carried as a
// result with nil transcription and latency; progress still advances.
// onProgress (optional) is invoked after every settled item, in
// addition to the event bus. Run returns early only on context
// cancellation, with the results settled so far.
func (e *Evaluator) Run(ctx context.Context, runID string, items []BatchItem, onProgress func(Progress)) (*Report, error) {
	report := &Report{
		RunID:     runID,
		Results:   make([]BatchResult, 0, len(items)),
		Total:     len(items),
		StartedAt: time.Now().UTC(),
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}

		res := BatchResult{ID: item.ID, Truth: item.Truth}

		var out *transcribe.Result
		var err error
		if item.Audio == nil {
			// Acquisition already failed for this item (audio fetch or
			// decode); settle it without touching the engine.
			err = errors.New("no audio acquired")
		} else {
			out, err = e.orch.Start(ctx, item.Audio)
		}
		if err != nil {
			// Per-item failure: log, emit an absent-field record, and
			// keep going. Partial failure must never abort the batch.
			e.log.Warn().Err(err).Str("item", item.ID).Msg("batch item failed")
			metrics.EvalItemsTotal.WithLabelValues("error").Inc()
			report.Failed++
		} else {
			text := out.Text
			lat := out.LatencySeconds()
			wer := WER(item.Truth, text)
			res.Text = &text
			res.Latency = &lat
			res.WER = &wer
			metrics.EvalItemsTotal.WithLabelValues("ok").Inc()
		}

		report.Results = append(report.Results, res)
		e.publishProgress(runID, i+1, len(items), onProgress)
	}

	report.FinishedAt = time.Now().UTC()
	e.aggregate(report)

	e.log.Info().
		Str("run_id", runID).
		Int("total", report.Total).
		Int("failed", report.Failed).
		Float64("mean_wer", report.MeanWER).
		Msg("batch evaluation complete")

	if e.bus != nil {
		e.bus.Publish(events.TypeEvalComplete, "", report)
	}
	return report, nil
}

func (e *Evaluator) publishProgress(runID string, completed, total int, onProgress func(Progress)) {
	frac := 0.0
	if total > 0 {
		frac = float64(completed) / float64(total)
	}
	p := Progress{
		RunID:     runID,
		Completed: completed,
		Total:     total,
		Fraction:  frac,
	}
	if onProgress != nil {
		onProgress(p)
	}
	if e.bus != nil {
		e.bus.Publish(events.TypeEvalProgress, "", p)
	}
}

func (e *Evaluator) aggregate(r *Report) {
	var werSum, latSum float64
	n := 0
	for _, res := range r.Results {
		if res.Failed() {
			continue
		}
		werSum += *res.WER
		latSum += *res.Latency
		n++
	}
	if n > 0 {
		r.MeanWER = werSum / float64(n)
		r.MeanLatency = latSum / float64(n)
	}
}
