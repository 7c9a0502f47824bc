package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/database"
	"github.com/voxlab/voxlab/internal/events"
	"github.com/voxlab/voxlab/internal/session"
	"github.com/voxlab/voxlab/internal/transcribe"
)

// TranscribeHandler serves transcription requests and transcriber
// configuration.
type TranscribeHandler struct {
	sessions *session.Registry
	orch     *transcribe.Orchestrator
	db       *database.DB
	bus      *events.Bus
	log      zerolog.Logger
}

func NewTranscribeHandler(sessions *session.Registry, orch *transcribe.Orchestrator, db *database.DB, bus *events.Bus, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		sessions: sessions,
		orch:     orch,
		db:       db,
		bus:      bus,
		log:      log.With().Str("handler", "transcribe").Logger(),
	}
}

// Routes registers transcription routes on the given router.
func (h *TranscribeHandler) Routes(r chi.Router) {
	r.Post("/sessions/{id}/transcribe", h.Transcribe)
	r.Get("/transcriber", h.GetConfig)
	r.Patch("/transcriber", h.PatchConfig)
	r.Get("/transcriber/status", h.Status)
	r.Get("/transcriptions", h.History)
}

// TranscribeResponse is the result of one transcription call.
type TranscribeResponse struct {
	Text      string  `json:"text"`
	LatencyMs int64   `json:"latency_ms"`
	Seconds   float64 `json:"latency_seconds"`
}

// Transcribe handles POST /api/v1/sessions/{id}/transcribe. At most
// one call runs at a time; a second submission is rejected with 409
// rather than queued.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s := h.sessions.Get(id)
	if s == nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	dec := s.Current()
	if dec == nil {
		WriteError(w, http.StatusConflict, "no audio loaded")
		return
	}

	res, err := h.orch.Start(r.Context(), dec)
	if err != nil {
		h.writeTranscribeError(w, err)
		return
	}

	row := &database.TranscriptionRow{
		SessionID: s.ID,
		Origin:    string(dec.Origin),
		MIME:      dec.MIME,
		Model:     h.orch.Config().Model,
		Text:      res.Text,
		LatencyMs: int(res.Latency.Milliseconds()),
	}
	if err := h.db.InsertTranscription(r.Context(), row); err != nil {
		h.log.Error().Err(err).Msg("failed to persist transcription")
	}

	resp := TranscribeResponse{
		Text:      res.Text,
		LatencyMs: res.Latency.Milliseconds(),
		Seconds:   res.LatencySeconds(),
	}
	if h.bus != nil {
		h.bus.Publish(events.TypeTranscription, s.ID, resp)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetConfig handles GET /api/v1/transcriber.
func (h *TranscribeHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.orch.Config())
}

// ConfigPatch carries partial transcriber updates. Pointers
// distinguish "not sent" from zero values.
type ConfigPatch struct {
	Model            *string `json:"model,omitempty"`
	EncoderPrecision *string `json:"encoder_precision,omitempty"`
	DecoderPrecision *string `json:"decoder_precision,omitempty"`
	Multilingual     *bool   `json:"multilingual,omitempty"`
	Language         *string `json:"language,omitempty"`
	Task             *string `json:"task,omitempty"`
}

// PatchConfig handles PATCH /api/v1/transcriber. Every setter is
// rejected with 409 while a transcription or model load is in flight;
// a partial patch is applied field by field and stops at the first
// rejection.
func (h *TranscribeHandler) PatchConfig(w http.ResponseWriter, r *http.Request) {
	var p ConfigPatch
	if err := DecodeJSON(r, &p); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.applyPatch(&p); err != nil {
		if errors.Is(err, transcribe.ErrBusy) {
			WriteError(w, http.StatusConflict, "transcriber busy")
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, h.orch.Config())
}

func (h *TranscribeHandler) applyPatch(p *ConfigPatch) error {
	if p.Model != nil {
		if err := h.orch.SetModel(*p.Model); err != nil {
			return err
		}
	}
	if p.EncoderPrecision != nil {
		prec, err := parsePrecision(*p.EncoderPrecision)
		if err != nil {
			return err
		}
		if err := h.orch.SetEncoderPrecision(prec); err != nil {
			return err
		}
	}
	if p.DecoderPrecision != nil {
		prec, err := parsePrecision(*p.DecoderPrecision)
		if err != nil {
			return err
		}
		if err := h.orch.SetDecoderPrecision(prec); err != nil {
			return err
		}
	}
	if p.Multilingual != nil {
		if err := h.orch.SetMultilingual(*p.Multilingual); err != nil {
			return err
		}
	}
	if p.Language != nil {
		if err := h.orch.SetLanguage(*p.Language); err != nil {
			return err
		}
	}
	if p.Task != nil {
		task, err := parseTask(*p.Task)
		if err != nil {
			return err
		}
		if err := h.orch.SetTask(task); err != nil {
			return err
		}
	}
	return nil
}

func parsePrecision(s string) (transcribe.Precision, error) {
	switch transcribe.Precision(s) {
	case transcribe.PrecisionFull, transcribe.PrecisionQuantized:
		return transcribe.Precision(s), nil
	}
	return "", errors.New("precision must be fp32 or q8")
}

func parseTask(s string) (transcribe.Task, error) {
	switch transcribe.Task(s) {
	case transcribe.TaskTranscribe, transcribe.TaskTranslate:
		return transcribe.Task(s), nil
	}
	return "", errors.New("task must be transcribe or translate")
}

// Status handles GET /api/v1/transcriber/status.
func (h *TranscribeHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.orch.Snapshot())
}

// History handles GET /api/v1/transcriptions. 404 when persistence is
// disabled.
func (h *TranscribeHandler) History(w http.ResponseWriter, r *http.Request) {
	if !h.db.Enabled() {
		WriteError(w, http.StatusNotFound, "persistence disabled")
		return
	}
	limit, _ := QueryInt(r, "limit")
	sessionID, _ := QueryString(r, "session")

	rows, err := h.db.ListTranscriptions(r.Context(), sessionID, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list transcriptions")
		WriteError(w, http.StatusInternalServerError, "query failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"transcriptions": rows, "count": len(rows)})
}

func (h *TranscribeHandler) writeTranscribeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transcribe.ErrBusy):
		WriteError(w, http.StatusConflict, "transcription in progress")
	case errors.Is(err, transcribe.ErrStaleInput):
		WriteError(w, http.StatusConflict, "audio changed during transcription")
	case errors.Is(err, transcribe.ErrModelLoad):
		WriteErrorDetail(w, http.StatusBadGateway, "model load failed", err.Error())
	default:
		WriteErrorDetail(w, http.StatusBadGateway, "transcription failed", err.Error())
	}
}
