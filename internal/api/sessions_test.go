package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
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
)

type noopInvalidator struct{}

func (noopInvalidator) OnInputChange() {}

func testWAV(t *testing.T) []byte {
	t.Helper()
	samples := make([]float32, audio.SampleRate/10)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return audio.EncodeWAV(samples, audio.SampleRate)
}

type sessionsEnv struct {
	registry *session.Registry
	router   *chi.Mux
}

func newSessionsEnv(t *testing.T) *sessionsEnv {
	t.Helper()
	store := storage.NewLocalStore(t.TempDir())
	decoder := audio.NewDecoder(store, zerolog.Nop())
	registry := session.NewRegistry(time.Hour, zerolog.Nop())
	bus := events.NewBus(16)
	loader := ingest.NewLoader(decoder, registry, noopInvalidator{}, bus, zerolog.Nop())

	r := chi.NewRouter()
	NewSessionsHandler(registry, loader, store, zerolog.Nop()).Routes(r)
	return &sessionsEnv{registry: registry, router: r}
}

func (e *sessionsEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *sessionsEnv) createSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/sessions", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var v SessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	return v.ID
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestSessionLifecycle(t *testing.T) {
	env := newSessionsEnv(t)
	id := env.createSession(t)

	rec := env.do(t, http.MethodGet, "/sessions/"+id, nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("get: status = %d, want %d", rec.Code, http.StatusOK)
	}
	var v SessionView
	json.Unmarshal(rec.Body.Bytes(), &v)
	if v.HasAudio {
		t.Errorf("has_audio = true, want false for fresh session")
	}

	rec = env.do(t, http.MethodDelete, "/sessions/"+id, nil, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	rec = env.do(t, http.MethodGet, "/sessions/"+id, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestLoadFileEndpoint(t *testing.T) {
	env := newSessionsEnv(t)
	id := env.createSession(t)
	wav := testWAV(t)

	body, ct := multipartBody(t, "clip.wav", wav)
	rec := env.do(t, http.MethodPost, "/sessions/"+id+"/load/file", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("load file: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var meta AudioMeta
	json.Unmarshal(rec.Body.Bytes(), &meta)
	if meta.Origin != string(audio.OriginFile) {
		t.Errorf("origin = %q, want %q", meta.Origin, audio.OriginFile)
	}
	if !meta.Playable {
		t.Errorf("playable = false, want true")
	}
	if meta.Samples != audio.SampleRate/10 {
		t.Errorf("samples = %d, want %d", meta.Samples, audio.SampleRate/10)
	}

	// Playback streams back the original bytes.
	rec = env.do(t, http.MethodGet, "/sessions/"+id+"/audio/playback", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("playback: status = %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), wav) {
		t.Errorf("playback bytes differ from uploaded file")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("playback Content-Type = %q, want %q", ct, "audio/wav")
	}
}

func TestLoadFileBadAudio(t *testing.T) {
	env := newSessionsEnv(t)
	id := env.createSession(t)

	body, ct := multipartBody(t, "junk.wav", []byte("not audio at all"))
	rec := env.do(t, http.MethodPost, "/sessions/"+id+"/load/file", body, ct)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestLoadURLEndpoint(t *testing.T) {
	env := newSessionsEnv(t)
	id := env.createSession(t)
	wav := testWAV(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	}))
	defer srv.Close()

	payload := strings.NewReader(`{"url":"` + srv.URL + `/clip.wav"}`)
	rec := env.do(t, http.MethodPost, "/sessions/"+id+"/load/url", payload, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var meta AudioMeta
	json.Unmarshal(rec.Body.Bytes(), &meta)
	if meta.Origin != string(audio.OriginURL) {
		t.Errorf("origin = %q, want %q", meta.Origin, audio.OriginURL)
	}
}

func TestLoadURLMissingBody(t *testing.T) {
	env := newSessionsEnv(t)
	id := env.createSession(t)

	rec := env.do(t, http.MethodPost, "/sessions/"+id+"/load/url", strings.NewReader(`{}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestLoadRecordingEndpoint(t *testing.T) {
	env := newSessionsEnv(t)
	id := env.createSession(t)
	wav := testWAV(t)

	rec := env.do(t, http.MethodPost, "/sessions/"+id+"/load/recording", bytes.NewReader(wav), "audio/wav")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var meta AudioMeta
	json.Unmarshal(rec.Body.Bytes(), &meta)
	if meta.Origin != string(audio.OriginRecording) {
		t.Errorf("origin = %q, want %q", meta.Origin, audio.OriginRecording)
	}
}

func TestPlaybackAfterRelease(t *testing.T) {
	env := newSessionsEnv(t)
	id := env.createSession(t)

	body, ct := multipartBody(t, "clip.wav", testWAV(t))
	if rec := env.do(t, http.MethodPost, "/sessions/"+id+"/load/file", body, ct); rec.Code != http.StatusOK {
		t.Fatalf("load file: status = %d", rec.Code)
	}

	s := env.registry.Get(id)
	s.Current().Playback.Release(context.Background())

	rec := env.do(t, http.MethodGet, "/sessions/"+id+"/audio/playback", nil, "")
	if rec.Code != http.StatusGone {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusGone)
	}
}

func TestAudioNoneLoaded(t *testing.T) {
	env := newSessionsEnv(t)
	id := env.createSession(t)

	rec := env.do(t, http.MethodGet, "/sessions/"+id+"/audio", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
