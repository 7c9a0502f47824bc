package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
)

func corpusServer(t *testing.T, manifest string, clips map[string][]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/corpus/manifest.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(manifest))
	})
	mux.HandleFunc("/corpus/", func(w http.ResponseWriter, r *http.Request) {
		if clip, ok := clips[r.URL.Path]; ok {
			w.Header().Set("Content-Type", "audio/wav")
			w.Write(clip)
			return
		}
		http.NotFound(w, r)
	})
	return httptest.NewServer(mux)
}

func TestCorpusLoad(t *testing.T) {
	wav := audio.EncodeWAV(make([]float32, audio.SampleRate/10), audio.SampleRate)
	manifest := "# test corpus\na1 hello world\n\na2 second utterance\n"
	srv := corpusServer(t, manifest, map[string][]byte{
		"/corpus/a1.wav": wav,
		"/corpus/a2.wav": wav,
	})
	defer srv.Close()

	cl := NewCorpusLoader(zerolog.Nop())
	items, err := cl.Load(context.Background(), srv.URL+"/corpus/manifest.txt", "wav")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].ID != "a1" || items[0].Truth != "hello world" {
		t.Errorf("items[0] = %q/%q, want a1/hello world", items[0].ID, items[0].Truth)
	}
	if items[1].ID != "a2" || items[1].Truth != "second utterance" {
		t.Errorf("items[1] = %q/%q, want a2/second utterance", items[1].ID, items[1].Truth)
	}
	if items[0].Audio.Origin != audio.OriginCorpus {
		t.Errorf("Origin = %q, want %q", items[0].Audio.Origin, audio.OriginCorpus)
	}
	if items[0].Audio.Playback != nil {
		t.Error("corpus audio should have no playback handle")
	}
}

// A missing or undecodable clip keeps its manifest line, carried with
// nil Audio so the batch can still settle a result for it. Only lines
// that fail to parse are dropped.
func TestCorpusLoadPartialFailure(t *testing.T) {
	wav := audio.EncodeWAV(make([]float32, audio.SampleRate/10), audio.SampleRate)
	manifest := "a1 first\nmissing gone\nbad broken clip\na2 last\nmalformed-line-without-truth\n"
	srv := corpusServer(t, manifest, map[string][]byte{
		"/corpus/a1.wav":  wav,
		"/corpus/a2.wav":  wav,
		"/corpus/bad.wav": []byte("not audio at all"),
	})
	defer srv.Close()

	cl := NewCorpusLoader(zerolog.Nop())
	items, err := cl.Load(context.Background(), srv.URL+"/corpus/manifest.txt", "wav")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("len(items) = %d, want 4", len(items))
	}
	wantIDs := []string{"a1", "missing", "bad", "a2"}
	for i, want := range wantIDs {
		if items[i].ID != want {
			t.Errorf("items[%d].ID = %q, want %q", i, items[i].ID, want)
		}
	}
	if items[0].Audio == nil || items[3].Audio == nil {
		t.Error("healthy clips should carry decoded audio")
	}
	if items[1].Audio != nil {
		t.Error("missing clip should carry nil audio")
	}
	if items[2].Audio != nil {
		t.Error("undecodable clip should carry nil audio")
	}
	if items[1].Truth != "gone" {
		t.Errorf("items[1].Truth = %q, want %q", items[1].Truth, "gone")
	}
}

func TestCorpusLoadManifestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cl := NewCorpusLoader(zerolog.Nop())
	items, err := cl.Load(context.Background(), srv.URL+"/corpus/manifest.txt", "wav")
	if err == nil {
		t.Fatal("Load() should error when manifest fetch fails")
	}
	if len(items) != 0 {
		t.Errorf("len(items) = %d, want 0", len(items))
	}
}
