package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/chat"
	"github.com/voxlab/voxlab/internal/session"
)

// ChatHandler relays session messages to the chat completion API.
type ChatHandler struct {
	sessions *session.Registry
	relay    *chat.Relay
	log      zerolog.Logger
}

func NewChatHandler(sessions *session.Registry, relay *chat.Relay, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		relay:    relay,
		log:      log.With().Str("handler", "chat").Logger(),
	}
}

// Routes registers chat routes on the given router.
func (h *ChatHandler) Routes(r chi.Router) {
	r.Post("/sessions/{id}/chat", h.Send)
	r.Get("/sessions/{id}/chat/history", h.History)
	r.Delete("/sessions/{id}/chat", h.Clear)
}

// Send handles POST /api/v1/sessions/{id}/chat. A per-request key in
// X-Chat-Api-Key overrides the configured one.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.sessions.Get(id) == nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := DecodeJSON(r, &body); err != nil || strings.TrimSpace(body.Content) == "" {
		WriteError(w, http.StatusBadRequest, "content required")
		return
	}

	reply, err := h.relay.Send(r.Context(), id, body.Content, r.Header.Get("X-Chat-Api-Key"))
	if err != nil {
		if errors.Is(err, chat.ErrDisabled) {
			WriteError(w, http.StatusServiceUnavailable, "chat relay not configured")
			return
		}
		h.log.Error().Err(err).Str("session", id).Msg("chat relay failed")
		WriteErrorDetail(w, http.StatusBadGateway, "chat relay failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, reply)
}

// History handles GET /api/v1/sessions/{id}/chat/history.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.sessions.Get(id) == nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	msgs := h.relay.History(id)
	WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

// Clear handles DELETE /api/v1/sessions/{id}/chat.
func (h *ChatHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.relay.Clear(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}
