package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
)

var (
	// ErrStaleLoad is returned when a load reports against a token that
	// has been superseded by a newer BeginLoad.
	ErrStaleLoad = errors.New("load superseded")

	// ErrNoAudio is returned when an operation needs current audio and
	// the session has none.
	ErrNoAudio = errors.New("no audio loaded")
)

// Session holds the single current decoded audio and the single
// in-flight load for one client. A load is either pending (progress
// present) or settled (progress absent, audio possibly present);
// never both.
type Session struct {
	ID string

	mu       sync.Mutex
	current  *audio.Decoded
	progress float64
	loading  bool
	loadGen  uint64
	cancel   context.CancelFunc
	lastUsed time.Time

	log zerolog.Logger
}

// New creates a session with the given ID.
func New(id string, log zerolog.Logger) *Session {
	return &Session{
		ID:       id,
		lastUsed: time.Now(),
		log:      log.With().Str("session", id).Logger(),
	}
}

// BeginLoad marks a new load in flight and returns its token. Any
// prior in-flight load is superseded: its cancel function is invoked
// and its token invalidated, so a late completion can never install a
// stale result over a newer one. cancel may be nil for loads that
// cannot be aborted mid-transfer (file reads, recordings).
func (s *Session) BeginLoad(cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.loadGen++
	s.loading = true
	s.progress = 0
	s.touchLocked()
	return s.loadGen
}

// Progress updates the in-flight fraction for the given load token.
// Stale tokens are ignored.
func (s *Session) Progress(token uint64, fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.loadGen || !s.loading {
		return
	}
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	s.progress = fraction
}

// Complete settles the load identified by token, installing dec as the
// current audio and releasing the previous audio's playback handle.
// A stale token is rejected with ErrStaleLoad and dec's own handle is
// released immediately so the superseded bytes don't leak.
func (s *Session) Complete(ctx context.Context, token uint64, dec *audio.Decoded) error {
	s.mu.Lock()
	if token != s.loadGen {
		s.mu.Unlock()
		if dec != nil && dec.Playback != nil {
			dec.Playback.Release(ctx)
		}
		return ErrStaleLoad
	}

	prev := s.current
	s.current = dec
	s.loading = false
	s.cancel = nil
	s.touchLocked()
	s.mu.Unlock()

	if prev != nil && prev.Playback != nil {
		prev.Playback.Release(ctx)
	}
	s.log.Debug().Str("origin", string(dec.Origin)).Int("samples", len(dec.Samples)).Msg("load complete")
	return nil
}

// Fail settles the load identified by token without installing audio.
// The previous audio (if any) stays current. Stale tokens are ignored.
func (s *Session) Fail(token uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.loadGen || !s.loading {
		return
	}
	s.loading = false
	s.cancel = nil
	s.log.Debug().Err(err).Msg("load failed")
}

// Current returns the current decoded audio, or nil.
func (s *Session) Current() *audio.Decoded {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.current
}

// LoadProgress returns the in-flight fraction and whether a load is
// pending.
func (s *Session) LoadProgress() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress, s.loading
}

// Reset aborts any in-flight load, releases the current audio's
// playback handle, and clears the session back to empty.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loadGen++ // invalidate in-flight tokens
	s.loading = false
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if prev != nil && prev.Playback != nil {
		prev.Playback.Release(ctx)
	}
}

// LastUsed returns the time of the last session access.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) touchLocked() {
	s.lastUsed = time.Now()
}
