package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
	"github.com/voxlab/voxlab/internal/config"
	"github.com/voxlab/voxlab/internal/events"
	"github.com/voxlab/voxlab/internal/ingest"
	"github.com/voxlab/voxlab/internal/session"
	"github.com/voxlab/voxlab/internal/storage"
	"github.com/voxlab/voxlab/internal/transcribe"
)

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	store := storage.NewLocalStore(t.TempDir())
	decoder := audio.NewDecoder(store, zerolog.Nop())
	registry := session.NewRegistry(time.Hour, zerolog.Nop())
	bus := events.NewBus(16)
	orch := transcribe.NewOrchestrator(&fakeEngine{text: "x"}, transcribe.DefaultConfig("test-model"), bus, zerolog.Nop())
	loader := ingest.NewLoader(decoder, registry, orch, bus, zerolog.Nop())

	cfg := &config.Config{
		HTTPAddr:     "127.0.0.1:0",
		AuthToken:    token,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}
	deps := Deps{
		Sessions: registry,
		Loader:   loader,
		Orch:     orch,
		Bus:      bus,
		Store:    store,
	}
	return NewServer(cfg, deps, "test", time.Now(), zerolog.Nop())
}

func TestServerAuthWiring(t *testing.T) {
	srv := newTestServer(t, "secret")
	h := srv.http.Handler

	t.Run("health_no_auth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("metrics_no_auth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("sessions_require_token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("sessions_with_token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
		}
		var v SessionView
		if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil || v.ID == "" {
			t.Errorf("body = %s, want session view with id", rec.Body.String())
		}
	})

	t.Run("eval_routes_absent_without_runner", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/eval/runs", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 404 or 405", rec.Code)
		}
	})
}

func TestHealthResponse(t *testing.T) {
	srv := newTestServer(t, "")
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Version != "test" {
		t.Errorf("version = %q, want %q", body.Version, "test")
	}
	if body.Checks["database"] != "disabled" {
		t.Errorf("database check = %q, want %q", body.Checks["database"], "disabled")
	}
	if body.Checks["storage"] != "local" {
		t.Errorf("storage check = %q, want %q", body.Checks["storage"], "local")
	}
}
