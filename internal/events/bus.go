package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlab/voxlab/internal/metrics"
)

// Event types published by the engine.
const (
	TypeLoadProgress  = "load_progress"
	TypeLoadComplete  = "load_complete"
	TypeLoadFailed    = "load_failed"
	TypeModelProgress = "model_progress"
	TypeTranscription = "transcription"
	TypeEvalProgress  = "eval_progress"
	TypeEvalComplete  = "eval_complete"
	TypeChatReply     = "chat_reply"
)

// Event is one server-sent event. Data is pre-marshaled JSON.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Filter narrows a subscription to certain event types and/or sessions.
// Empty fields match everything.
type Filter struct {
	Types    []string
	Sessions []string
}

// Bus is a pub-sub fan-out for SSE subscribers with a ring buffer for
// replay on reconnect. Slow subscribers have events dropped rather
// than blocking publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBus creates an event bus with the given replay ring size.
func NewBus(ringSize int) *Bus {
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a subscriber and returns its channel and a
// cancel function.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// ReplaySince returns buffered events after the given event ID,
// oldest first. An empty lastEventID returns everything buffered.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var out []Event
	found := lastEventID == ""

	for i := 0; i < b.ringSize; i++ {
		idx := (b.ringHead + i) % b.ringSize
		e := b.ring[idx]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		if matches(e, filter) {
			out = append(out, e)
		}
	}
	return out
}

// Publish marshals payload and delivers the event to matching
// subscribers, recording it in the replay ring.
func (b *Bus) Publish(eventType, sessionID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	metrics.EventsPublishedTotal.Inc()

	seq := b.seq.Add(1)
	e := Event{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = e
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if matches(e, sub.filter) {
			select {
			case sub.ch <- e:
			default:
				// Drop for slow subscribers.
			}
		}
	}
	b.mu.RUnlock()
}

func matches(e Event, f Filter) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if strings.TrimSpace(t) == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Sessions) > 0 && e.SessionID != "" {
		ok := false
		for _, s := range f.Sessions {
			if s == e.SessionID {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
