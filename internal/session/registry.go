package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry owns all live sessions and expires idle ones so playback
// blobs of abandoned sessions don't pile up.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idleTTL  time.Duration
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a session registry. Sessions idle longer than
// idleTTL are reset and dropped by the janitor; idleTTL <= 0 disables
// expiry.
func NewRegistry(idleTTL time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		interval: time.Minute,
		log:      log.With().Str("component", "sessions").Logger(),
		stop:     make(chan struct{}),
	}
}

// Create allocates a new session with a fresh UUID.
func (r *Registry) Create() *Session {
	s := New(uuid.NewString(), r.log)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	r.log.Debug().Str("session", s.ID).Msg("session created")
	return s
}

// Get returns the session with the given ID, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// GetOrCreate returns the session with the given ID, creating it if
// missing. Used by intake paths (MQTT, watcher) that name their own
// sessions.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := New(id, r.log)
	r.sessions[id] = s
	return s
}

// Delete resets and removes a session. Returns false if it didn't exist.
func (r *Registry) Delete(ctx context.Context, id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Reset(ctx)
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Start launches the idle-expiry janitor.
func (r *Registry) Start() {
	if r.idleTTL <= 0 {
		return
	}
	go r.loop()
}

// Stop halts the janitor and resets every session, releasing all
// playback handles.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range all {
		s.Reset(ctx)
	}
	r.log.Info().Int("sessions", len(all)).Msg("session registry stopped")
}

func (r *Registry) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.expire()
		}
	}
}

func (r *Registry) expire() {
	cutoff := time.Now().Add(-r.idleTTL)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.LastUsed().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range expired {
		s.Reset(ctx)
	}
	r.log.Info().Int("expired", len(expired)).Msg("idle sessions expired")
}
