package api

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/ingest"
	"github.com/voxlab/voxlab/internal/session"
)

// maxRecordingBytes caps a websocket-captured recording.
const maxRecordingBytes = 64 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 4 * 1024,
	// Token auth already ran in middleware; browsers can't set
	// arbitrary Origin on same-page websockets anyway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RecordHandler captures microphone audio over a websocket. Binary
// frames append encoded audio chunks; a "stop" text frame or a clean
// close finalizes the capture into the recording flow.
type RecordHandler struct {
	sessions *session.Registry
	loader   *ingest.Loader
	log      zerolog.Logger
}

func NewRecordHandler(sessions *session.Registry, loader *ingest.Loader, log zerolog.Logger) *RecordHandler {
	return &RecordHandler{
		sessions: sessions,
		loader:   loader,
		log:      log.With().Str("handler", "record").Logger(),
	}
}

// Routes registers the recording websocket on the given router.
func (h *RecordHandler) Routes(r chi.Router) {
	r.Get("/sessions/{id}/record/ws", h.Record)
}

// Record handles GET /api/v1/sessions/{id}/record/ws.
func (h *RecordHandler) Record(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s := h.sessions.Get(id)
	if s == nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}

	// The client declares the capture container up front; MediaRecorder
	// typically produces audio/webm.
	mime := r.URL.Query().Get("mime")
	if mime == "" {
		mime = "audio/webm"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.log.Info().Str("session", id).Str("mime", mime).Msg("recording started")

	var buf bytes.Buffer
	conn.SetReadLimit(4 << 20)

	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				break
			}
			h.log.Warn().Err(err).Str("session", id).Msg("recording aborted")
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if buf.Len()+len(data) > maxRecordingBytes {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"recording too large"}`))
				return
			}
			buf.Write(data)
		case websocket.TextMessage:
			if strings.TrimSpace(string(data)) == "stop" {
				goto finalize
			}
		}
	}

finalize:
	if buf.Len() == 0 {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"empty recording"}`))
		return
	}

	dec, err := h.loader.LoadRecording(r.Context(), s, bytes.NewReader(buf.Bytes()), int64(buf.Len()), mime)
	if err != nil {
		h.log.Warn().Err(err).Str("session", id).Msg("recording load failed")
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	conn.WriteJSON(map[string]any{
		"status":  "loaded",
		"seconds": dec.Duration().Seconds(),
		"bytes":   buf.Len(),
	})
	h.log.Info().Str("session", id).Int("bytes", buf.Len()).Msg("recording finalized")
}
