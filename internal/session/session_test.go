package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
)

func newDecoded(t *testing.T) *audio.Decoded {
	t.Helper()
	return &audio.Decoded{
		Samples:  make([]float32, audio.SampleRate/10),
		Origin:   audio.OriginFile,
		MIME:     "audio/wav",
		Playback: &audio.Handle{Key: "test/blob.wav", MIME: "audio/wav"},
	}
}

func TestLoadLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New("s1", zerolog.Nop())

	token := s.BeginLoad(nil)
	if _, loading := s.LoadProgress(); !loading {
		t.Fatal("expected load in flight after BeginLoad")
	}

	s.Progress(token, 0.5)
	if frac, _ := s.LoadProgress(); frac != 0.5 {
		t.Errorf("progress = %f, want 0.5", frac)
	}

	dec := newDecoded(t)
	if err := s.Complete(ctx, token, dec); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, loading := s.LoadProgress(); loading {
		t.Error("load still pending after Complete")
	}
	if s.Current() != dec {
		t.Error("current audio not installed")
	}
}

func TestStaleCompleteRejected(t *testing.T) {
	ctx := context.Background()
	s := New("s1", zerolog.Nop())

	var firstCancelled bool
	first := s.BeginLoad(func() { firstCancelled = true })
	second := s.BeginLoad(nil)

	if !firstCancelled {
		t.Error("superseding BeginLoad did not cancel the prior load")
	}

	stale := newDecoded(t)
	if err := s.Complete(ctx, first, stale); !errors.Is(err, ErrStaleLoad) {
		t.Fatalf("stale Complete err = %v, want ErrStaleLoad", err)
	}
	if !stale.Playback.Released() {
		t.Error("stale result's playback handle not released")
	}
	if s.Current() != nil {
		t.Error("stale result installed as current audio")
	}

	fresh := newDecoded(t)
	if err := s.Complete(ctx, second, fresh); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if s.Current() != fresh {
		t.Error("fresh result not installed")
	}
}

func TestCompleteReleasesPreviousHandle(t *testing.T) {
	ctx := context.Background()
	s := New("s1", zerolog.Nop())

	first := newDecoded(t)
	if err := s.Complete(ctx, s.BeginLoad(nil), first); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	second := newDecoded(t)
	if err := s.Complete(ctx, s.BeginLoad(nil), second); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if !first.Playback.Released() {
		t.Error("previous audio's playback handle not released")
	}
	if second.Playback.Released() {
		t.Error("current audio's playback handle released prematurely")
	}
}

func TestStaleProgressIgnored(t *testing.T) {
	s := New("s1", zerolog.Nop())
	old := s.BeginLoad(nil)
	s.BeginLoad(nil)

	s.Progress(old, 0.9)
	if frac, _ := s.LoadProgress(); frac != 0 {
		t.Errorf("progress = %f, want 0 (stale token ignored)", frac)
	}
}

func TestProgressClamped(t *testing.T) {
	s := New("s1", zerolog.Nop())
	token := s.BeginLoad(nil)

	s.Progress(token, 1.5)
	if frac, _ := s.LoadProgress(); frac != 1 {
		t.Errorf("progress = %f, want clamped to 1", frac)
	}
	s.Progress(token, -0.5)
	if frac, _ := s.LoadProgress(); frac != 0 {
		t.Errorf("progress = %f, want clamped to 0", frac)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := New("s1", zerolog.Nop())

	token := s.BeginLoad(nil)
	dec := newDecoded(t)
	if err := s.Complete(ctx, token, dec); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	pending := s.BeginLoad(nil)
	s.Reset(ctx)

	if s.Current() != nil {
		t.Error("current audio survived Reset")
	}
	if !dec.Playback.Released() {
		t.Error("playback handle not released on Reset")
	}
	if _, loading := s.LoadProgress(); loading {
		t.Error("load still pending after Reset")
	}

	// A completion from before Reset must not resurrect state.
	if err := s.Complete(ctx, pending, newDecoded(t)); !errors.Is(err, ErrStaleLoad) {
		t.Errorf("post-Reset Complete err = %v, want ErrStaleLoad", err)
	}
}

func TestFailKeepsPreviousAudio(t *testing.T) {
	ctx := context.Background()
	s := New("s1", zerolog.Nop())

	dec := newDecoded(t)
	if err := s.Complete(ctx, s.BeginLoad(nil), dec); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	token := s.BeginLoad(nil)
	s.Fail(token, errors.New("network down"))

	if _, loading := s.LoadProgress(); loading {
		t.Error("load still pending after Fail")
	}
	if s.Current() != dec {
		t.Error("previous audio lost after failed load")
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(time.Hour, zerolog.Nop())

	s := r.Create()
	if s.ID == "" {
		t.Fatal("expected a session ID")
	}
	if got := r.Get(s.ID); got != s {
		t.Error("Get returned a different session")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}

	same := r.GetOrCreate(s.ID)
	if same != s {
		t.Error("GetOrCreate re-created an existing session")
	}
	other := r.GetOrCreate("watcher")
	if other == nil || other.ID != "watcher" {
		t.Error("GetOrCreate did not create the named session")
	}

	if !r.Delete(ctx, s.ID) {
		t.Error("Delete returned false for a live session")
	}
	if r.Delete(ctx, s.ID) {
		t.Error("Delete returned true for a removed session")
	}

	dec := newDecoded(t)
	if err := other.Complete(ctx, other.BeginLoad(nil), dec); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	r.Stop()
	if !dec.Playback.Released() {
		t.Error("Stop did not release session playback handles")
	}
}
