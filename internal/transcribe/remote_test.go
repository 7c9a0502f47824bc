package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
)

func TestRemoteEngineTranscribe(t *testing.T) {
	var gotModel, gotTask, gotLang string
	var gotWAV []byte

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotTask = r.FormValue("task")
		gotLang = r.FormValue("language")

		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotWAV, _ = io.ReadAll(f)

		json.NewEncoder(w).Encode(map[string]string{"text": "the quick fox"})
	}))
	defer ts.Close()

	e := NewRemoteEngine(ts.URL, 10*time.Second, nil, zerolog.Nop())
	cfg := DefaultConfig("whisper-tiny")

	samples := make([]float32, audio.SampleRate/2)
	text, err := e.Transcribe(context.Background(), samples, cfg)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "the quick fox" {
		t.Errorf("text = %q, want %q", text, "the quick fox")
	}
	if gotModel != "whisper-tiny" {
		t.Errorf("model field = %q, want whisper-tiny", gotModel)
	}
	if gotTask != "transcribe" {
		t.Errorf("task field = %q, want transcribe", gotTask)
	}
	if gotLang != "" {
		t.Errorf("language field = %q, want omitted when not multilingual", gotLang)
	}
	if len(gotWAV) < 44 || string(gotWAV[0:4]) != "RIFF" {
		t.Errorf("uploaded payload is not a WAV file (%d bytes)", len(gotWAV))
	}
}

func TestRemoteEngineMultilingualFields(t *testing.T) {
	var gotLang, gotTask string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(32 << 20)
		gotLang = r.FormValue("language")
		gotTask = r.FormValue("task")
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer ts.Close()

	e := NewRemoteEngine(ts.URL, 10*time.Second, nil, zerolog.Nop())
	cfg := DefaultConfig("whisper-tiny")
	cfg.Multilingual = true
	cfg.Language = "de"
	cfg.Task = TaskTranslate

	if _, err := e.Transcribe(context.Background(), make([]float32, 100), cfg); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotLang != "de" {
		t.Errorf("language field = %q, want de", gotLang)
	}
	if gotTask != "translate" {
		t.Errorf("task field = %q, want translate", gotTask)
	}
}

func TestRemoteEngineErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"audio too long"}`, http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	e := NewRemoteEngine(ts.URL, 10*time.Second, nil, zerolog.Nop())
	if _, err := e.Transcribe(context.Background(), make([]float32, 100), DefaultConfig("m")); err == nil {
		t.Error("expected error for non-200 engine response")
	}
}

func TestRemoteEngineReadyWithoutArtifacts(t *testing.T) {
	e := NewRemoteEngine("http://unused", time.Second, nil, zerolog.Nop())
	if !e.Ready(DefaultConfig("m")) {
		t.Error("Ready = false without artifact manager, want true")
	}
	if err := e.Load(context.Background(), DefaultConfig("m"), nil); err != nil {
		t.Errorf("Load: %v", err)
	}
}
