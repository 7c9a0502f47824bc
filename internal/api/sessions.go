package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
	"github.com/voxlab/voxlab/internal/ingest"
	"github.com/voxlab/voxlab/internal/session"
	"github.com/voxlab/voxlab/internal/storage"
)

// maxUploadBytes caps file and recording submissions.
const maxUploadBytes = 256 << 20

// SessionsHandler serves session lifecycle and audio acquisition.
type SessionsHandler struct {
	sessions *session.Registry
	loader   *ingest.Loader
	store    storage.Store
	log      zerolog.Logger
}

func NewSessionsHandler(sessions *session.Registry, loader *ingest.Loader, store storage.Store, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		sessions: sessions,
		loader:   loader,
		store:    store,
		log:      log.With().Str("handler", "sessions").Logger(),
	}
}

// Routes registers session routes on the given router.
func (h *SessionsHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.Create)
	r.Get("/sessions/{id}", h.Get)
	r.Delete("/sessions/{id}", h.Delete)

	r.Post("/sessions/{id}/load/url", h.LoadURL)
	r.Post("/sessions/{id}/load/file", h.LoadFile)
	r.Post("/sessions/{id}/load/recording", h.LoadRecording)

	r.Get("/sessions/{id}/audio", h.Audio)
	r.Get("/sessions/{id}/audio/playback", h.Playback)
}

// SessionView is the session representation for API responses.
type SessionView struct {
	ID           string     `json:"id"`
	HasAudio     bool       `json:"has_audio"`
	Audio        *AudioMeta `json:"audio,omitempty"`
	Loading      bool       `json:"loading"`
	LoadFraction float64    `json:"load_fraction,omitempty"`
	LastUsed     time.Time  `json:"last_used"`
}

// AudioMeta describes the current audio of a session.
type AudioMeta struct {
	Origin   string  `json:"origin"`
	Name     string  `json:"name,omitempty"`
	MIME     string  `json:"mime"`
	Seconds  float64 `json:"seconds"`
	Samples  int     `json:"samples"`
	Playable bool    `json:"playable"`
}

func sessionView(s *session.Session) SessionView {
	frac, loading := s.LoadProgress()
	v := SessionView{
		ID:       s.ID,
		Loading:  loading,
		LastUsed: s.LastUsed(),
	}
	if loading {
		v.LoadFraction = frac
	}
	if dec := s.Current(); dec != nil {
		v.HasAudio = true
		v.Audio = audioMeta(dec)
	}
	return v
}

func audioMeta(dec *audio.Decoded) *AudioMeta {
	return &AudioMeta{
		Origin:   string(dec.Origin),
		Name:     dec.Name,
		MIME:     dec.MIME,
		Seconds:  dec.Duration().Seconds(),
		Samples:  len(dec.Samples),
		Playable: dec.Playback != nil && !dec.Playback.Released(),
	}
}

// Create handles POST /api/v1/sessions.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	WriteJSON(w, http.StatusCreated, sessionView(s))
}

// Get handles GET /api/v1/sessions/{id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	WriteJSON(w, http.StatusOK, sessionView(s))
}

// Delete handles DELETE /api/v1/sessions/{id}.
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.sessions.Delete(r.Context(), id) {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LoadURL handles POST /api/v1/sessions/{id}/load/url.
func (h *SessionsHandler) LoadURL(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := DecodeJSON(r, &body); err != nil || body.URL == "" {
		WriteError(w, http.StatusBadRequest, "url required")
		return
	}

	// Detach from the request context: disconnecting the submitting
	// client must not abort the fetch, only a newer load may.
	ctx := context.WithoutCancel(r.Context())
	dec, err := h.loader.LoadURL(ctx, s, body.URL)
	if err != nil {
		h.writeLoadError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, audioMeta(dec))
}

// LoadFile handles POST /api/v1/sessions/{id}/load/file (multipart,
// field "file").
func (h *SessionsHandler) LoadFile(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	dec, err := h.loader.LoadFile(r.Context(), s, data, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		h.writeLoadError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, audioMeta(dec))
}

// LoadRecording handles POST /api/v1/sessions/{id}/load/recording with
// the captured bytes as the raw request body.
func (h *SessionsHandler) LoadRecording(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}

	dec, err := h.loader.LoadRecording(r.Context(), s,
		io.LimitReader(r.Body, maxUploadBytes), r.ContentLength, r.Header.Get("Content-Type"))
	if err != nil {
		h.writeLoadError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, audioMeta(dec))
}

// Audio handles GET /api/v1/sessions/{id}/audio.
func (h *SessionsHandler) Audio(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	dec := s.Current()
	if dec == nil {
		WriteError(w, http.StatusNotFound, "no audio loaded")
		return
	}
	WriteJSON(w, http.StatusOK, audioMeta(dec))
}

// Playback handles GET /api/v1/sessions/{id}/audio/playback, streaming
// the original (pre-decode) bytes. On S3 backends it redirects to a
// presigned URL instead of proxying.
func (h *SessionsHandler) Playback(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	dec := s.Current()
	if dec == nil || dec.Playback == nil {
		WriteError(w, http.StatusNotFound, "no playable audio")
		return
	}
	if dec.Playback.Released() {
		WriteError(w, http.StatusGone, "playback audio released")
		return
	}

	if h.store != nil && h.store.Type() == "s3" {
		if url, err := h.store.URL(r.Context(), dec.Playback.Key); err == nil && url != "" {
			http.Redirect(w, r, url, http.StatusTemporaryRedirect)
			return
		}
	}

	rc, err := dec.Playback.Open(r.Context())
	if err != nil {
		WriteError(w, http.StatusGone, "playback audio unavailable")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", dec.Playback.MIME)
	io.Copy(w, rc)
}

func (h *SessionsHandler) session(w http.ResponseWriter, r *http.Request) *session.Session {
	id := chi.URLParam(r, "id")
	s := h.sessions.Get(id)
	if s == nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return nil
	}
	return s
}

func (h *SessionsHandler) writeLoadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrStaleLoad):
		WriteError(w, http.StatusConflict, "superseded by a newer load")
	case errors.Is(err, audio.ErrDecode):
		WriteErrorDetail(w, http.StatusUnprocessableEntity, "audio decode failed", err.Error())
	default:
		WriteErrorDetail(w, http.StatusBadGateway, "audio load failed", err.Error())
	}
}
