package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
	"github.com/voxlab/voxlab/internal/events"
	"github.com/voxlab/voxlab/internal/ingest"
	"github.com/voxlab/voxlab/internal/session"
	"github.com/voxlab/voxlab/internal/storage"
	"github.com/voxlab/voxlab/internal/transcribe"
)

// fakeEngine returns canned text. When gate is non-nil, Transcribe
// blocks until the gate closes.
type fakeEngine struct {
	text string
	gate chan struct{}
}

func (e *fakeEngine) Ready(transcribe.Config) bool { return true }

func (e *fakeEngine) Load(context.Context, transcribe.Config, transcribe.ProgressFunc) error {
	return nil
}

func (e *fakeEngine) Transcribe(ctx context.Context, samples []float32, cfg transcribe.Config) (string, error) {
	if e.gate != nil {
		<-e.gate
	}
	return e.text, nil
}

type transcribeEnv struct {
	registry *session.Registry
	orch     *transcribe.Orchestrator
	bus      *events.Bus
	loader   *ingest.Loader
	router   *chi.Mux
}

func newTranscribeEnv(t *testing.T, engine transcribe.Engine) *transcribeEnv {
	t.Helper()
	store := storage.NewLocalStore(t.TempDir())
	decoder := audio.NewDecoder(store, zerolog.Nop())
	registry := session.NewRegistry(time.Hour, zerolog.Nop())
	bus := events.NewBus(16)
	orch := transcribe.NewOrchestrator(engine, transcribe.DefaultConfig("test-model"), bus, zerolog.Nop())
	loader := ingest.NewLoader(decoder, registry, orch, bus, zerolog.Nop())

	r := chi.NewRouter()
	NewTranscribeHandler(registry, orch, nil, bus, zerolog.Nop()).Routes(r)
	return &transcribeEnv{registry: registry, orch: orch, bus: bus, loader: loader, router: r}
}

func (e *transcribeEnv) loadedSession(t *testing.T) *session.Session {
	t.Helper()
	s := e.registry.Create()
	if _, err := e.loader.LoadFile(context.Background(), s, testWAV(t), "clip.wav", "audio/wav"); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	return s
}

func TestTranscribeEndpoint(t *testing.T) {
	env := newTranscribeEnv(t, &fakeEngine{text: "hello world"})
	s := env.loadedSession(t)

	ch, cancel := env.bus.Subscribe(events.Filter{Types: []string{events.TypeTranscription}})
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+s.ID+"/transcribe", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp TranscribeResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Text != "hello world" {
		t.Errorf("text = %q, want %q", resp.Text, "hello world")
	}

	select {
	case ev := <-ch:
		if ev.SessionID != s.ID {
			t.Errorf("event session = %q, want %q", ev.SessionID, s.ID)
		}
	case <-time.After(time.Second):
		t.Errorf("no transcription event published")
	}
}

func TestTranscribeNoSession(t *testing.T) {
	env := newTranscribeEnv(t, &fakeEngine{text: "x"})

	req := httptest.NewRequest(http.MethodPost, "/sessions/nope/transcribe", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestTranscribeNoAudio(t *testing.T) {
	env := newTranscribeEnv(t, &fakeEngine{text: "x"})
	s := env.registry.Create()

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+s.ID+"/transcribe", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestTranscribeBusyRejected(t *testing.T) {
	gate := make(chan struct{})
	env := newTranscribeEnv(t, &fakeEngine{text: "slow", gate: gate})
	s := env.loadedSession(t)

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/sessions/"+s.ID+"/transcribe", nil)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		done <- rec.Code
	}()

	// Wait for the first call to reach the engine.
	deadline := time.Now().Add(2 * time.Second)
	for !env.orch.Snapshot().IsBusy {
		if time.Now().After(deadline) {
			t.Fatal("orchestrator never became busy")
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+s.ID+"/transcribe", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("concurrent status = %d, want %d", rec.Code, http.StatusConflict)
	}

	close(gate)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first status = %d, want %d", code, http.StatusOK)
	}
}

func TestTranscriberPatch(t *testing.T) {
	env := newTranscribeEnv(t, &fakeEngine{text: "x"})

	t.Run("updates_model", func(t *testing.T) {
		body := strings.NewReader(`{"model":"onnx-community/whisper-small","encoder_precision":"fp32"}`)
		req := httptest.NewRequest(http.MethodPatch, "/transcriber", body)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var cfg transcribe.Config
		json.Unmarshal(rec.Body.Bytes(), &cfg)
		if cfg.Model != "onnx-community/whisper-small" {
			t.Errorf("model = %q, want %q", cfg.Model, "onnx-community/whisper-small")
		}
		if cfg.EncoderPrecision != transcribe.PrecisionFull {
			t.Errorf("encoder precision = %q, want %q", cfg.EncoderPrecision, transcribe.PrecisionFull)
		}
	})

	t.Run("rejects_bad_precision", func(t *testing.T) {
		body := strings.NewReader(`{"encoder_precision":"int4"}`)
		req := httptest.NewRequest(http.MethodPatch, "/transcriber", body)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("rejects_bad_task", func(t *testing.T) {
		body := strings.NewReader(`{"task":"summarize"}`)
		req := httptest.NewRequest(http.MethodPatch, "/transcriber", body)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestTranscriptionsHistoryDisabled(t *testing.T) {
	env := newTranscribeEnv(t, &fakeEngine{text: "x"})

	req := httptest.NewRequest(http.MethodGet, "/transcriptions", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
