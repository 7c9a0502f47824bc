package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/database"
	"github.com/voxlab/voxlab/internal/evaluate"
	"github.com/voxlab/voxlab/internal/ingest"
	"github.com/voxlab/voxlab/internal/storage"
)

// EvalHandler launches batch evaluation runs and exports reports.
type EvalHandler struct {
	corpus *ingest.CorpusLoader
	runner *evaluate.Runner
	store  storage.Store
	db     *database.DB
	model  func() string
	log    zerolog.Logger
}

// NewEvalHandler creates the eval handler. model reports the
// transcriber model at run completion for persistence.
func NewEvalHandler(corpus *ingest.CorpusLoader, runner *evaluate.Runner, store storage.Store, db *database.DB, model func() string, log zerolog.Logger) *EvalHandler {
	return &EvalHandler{
		corpus: corpus,
		runner: runner,
		store:  store,
		db:     db,
		model:  model,
		log:    log.With().Str("handler", "eval").Logger(),
	}
}

// Routes registers eval routes on the given router.
func (h *EvalHandler) Routes(r chi.Router) {
	r.Post("/eval/runs", h.Launch)
	r.Get("/eval/runs", h.List)
	r.Get("/eval/runs/{id}", h.Get)
	r.Get("/eval/runs/{id}/report", h.Report)
}

// Launch handles POST /api/v1/eval/runs. The corpus is fetched
// synchronously (a bad manifest fails fast with 4xx); the batch run
// itself is asynchronous, tracked via GET and the event stream.
func (h *EvalHandler) Launch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ManifestURL string `json:"manifest_url"`
		Ext         string `json:"ext"`
	}
	if err := DecodeJSON(r, &body); err != nil || body.ManifestURL == "" {
		WriteError(w, http.StatusBadRequest, "manifest_url required")
		return
	}

	items, err := h.corpus.Load(r.Context(), body.ManifestURL, body.Ext)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadGateway, "corpus load failed", err.Error())
		return
	}
	if len(items) == 0 {
		WriteError(w, http.StatusUnprocessableEntity, "corpus is empty")
		return
	}

	run := h.runner.Launch(context.WithoutCancel(r.Context()), items, h.onComplete)
	WriteJSON(w, http.StatusAccepted, run.View())
}

// onComplete persists and exports a finished run in the background.
func (h *EvalHandler) onComplete(report *evaluate.Report) {
	ctx := context.Background()

	if err := h.db.InsertEvalRun(ctx, h.model(), report); err != nil {
		h.log.Error().Err(err).Str("run", report.RunID).Msg("failed to persist eval run")
	}

	if h.store != nil {
		var buf bytes.Buffer
		if err := evaluate.WriteReport(&buf, report); err == nil {
			key := fmt.Sprintf("reports/%s.txt", report.RunID)
			if err := h.store.Save(ctx, key, buf.Bytes(), "text/plain; charset=utf-8"); err != nil {
				h.log.Error().Err(err).Str("key", key).Msg("failed to store eval report")
			}
		}
	}
}

// List handles GET /api/v1/eval/runs.
func (h *EvalHandler) List(w http.ResponseWriter, r *http.Request) {
	views := h.runner.List()
	WriteJSON(w, http.StatusOK, map[string]any{"runs": views, "count": len(views)})
}

// Get handles GET /api/v1/eval/runs/{id}.
func (h *EvalHandler) Get(w http.ResponseWriter, r *http.Request) {
	run := h.runner.Get(chi.URLParam(r, "id"))
	if run == nil {
		WriteError(w, http.StatusNotFound, "run not found")
		return
	}
	WriteJSON(w, http.StatusOK, run.View())
}

// Report handles GET /api/v1/eval/runs/{id}/report, exporting the
// 3-line-per-item text format. 409 while the run is still executing.
func (h *EvalHandler) Report(w http.ResponseWriter, r *http.Request) {
	run := h.runner.Get(chi.URLParam(r, "id"))
	if run == nil {
		WriteError(w, http.StatusNotFound, "run not found")
		return
	}
	report := run.ReportSnapshot()
	if report == nil {
		WriteError(w, http.StatusConflict, "run not finished")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.RunID+".txt"))
	if err := evaluate.WriteReport(w, report); err != nil {
		h.log.Error().Err(err).Str("run", report.RunID).Msg("report export failed")
	}
}
