package api

import (
	"net/http"
	"time"

	"github.com/voxlab/voxlab/internal/database"
	"github.com/voxlab/voxlab/internal/ingest"
	"github.com/voxlab/voxlab/internal/mqttclient"
	"github.com/voxlab/voxlab/internal/session"
	"github.com/voxlab/voxlab/internal/storage"
	"github.com/voxlab/voxlab/internal/transcribe"
)

type HealthResponse struct {
	Status        string                `json:"status"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Checks        map[string]string     `json:"checks"`
	Sessions      int                   `json:"sessions"`
	Transcriber   transcribe.Status     `json:"transcriber"`
	Watcher       *ingest.WatcherStatus `json:"watcher,omitempty"`
}

type HealthHandler struct {
	db        *database.DB
	mqtt      *mqttclient.Client
	store     storage.Store
	sessions  *session.Registry
	orch      *transcribe.Orchestrator
	watcher   *ingest.FileWatcher
	version   string
	startTime time.Time
}

func NewHealthHandler(db *database.DB, mqtt *mqttclient.Client, store storage.Store, sessions *session.Registry, orch *transcribe.Orchestrator, watcher *ingest.FileWatcher, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		store:     store,
		sessions:  sessions,
		orch:      orch,
		watcher:   watcher,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP handles GET /api/v1/health. Degraded dependencies turn the
// overall status "degraded" but never fail the endpoint: a health probe
// that 500s on a database blip causes restart loops.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "ok"

	if h.db.Enabled() {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error: " + err.Error()
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "disabled"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			status = "degraded"
		}
	} else {
		checks["mqtt"] = "disabled"
	}

	if h.store != nil {
		checks["storage"] = h.store.Type()
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Sessions:      h.sessions.Count(),
		Transcriber:   h.orch.Snapshot(),
	}
	if h.watcher != nil {
		resp.Watcher = h.watcher.Status()
	}

	WriteJSON(w, http.StatusOK, resp)
}
