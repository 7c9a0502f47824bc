// Package chat relays session transcripts to an OpenAI-compatible
// chat-completion endpoint, keeping a per-session conversation history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/voxlab/voxlab/internal/events"
)

// ErrDisabled is returned when no API key is configured and the
// request carries none.
var ErrDisabled = errors.New("chat relay disabled: no API key")

// Config holds relay settings.
type Config struct {
	APIKey       string
	Model        string
	BaseURL      string // empty = api.openai.com
	SystemPrompt string
	MaxHistory   int // turns kept per conversation, 0 = default
}

const defaultMaxHistory = 40

// Reply is one completion from the relay.
type Reply struct {
	Content   string `json:"content"`
	Model     string `json:"model"`
	LatencyMs int64  `json:"latency_ms"`
}

// Relay forwards messages and tracks conversations keyed by session ID.
type Relay struct {
	cfg Config
	bus *events.Bus
	log zerolog.Logger

	mu            sync.Mutex
	conversations map[string][]openai.ChatCompletionMessage
}

// NewRelay creates a relay. bus may be nil.
func NewRelay(cfg Config, bus *events.Bus, log zerolog.Logger) *Relay {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	return &Relay{
		cfg:           cfg,
		bus:           bus,
		log:           log.With().Str("component", "chat").Logger(),
		conversations: make(map[string][]openai.ChatCompletionMessage),
	}
}

// Send appends content as a user turn on the session's conversation,
// requests a completion, records the assistant turn, and returns the
// reply. apiKey overrides the configured key for this request only.
func (r *Relay) Send(ctx context.Context, sessionID, content, apiKey string) (*Reply, error) {
	key := apiKey
	if key == "" {
		key = r.cfg.APIKey
	}
	if key == "" {
		return nil, ErrDisabled
	}

	clientCfg := openai.DefaultConfig(key)
	if r.cfg.BaseURL != "" {
		clientCfg.BaseURL = r.cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	msgs := r.appendUser(sessionID, content)

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.cfg.Model,
		Messages: msgs,
	})
	if err != nil {
		r.dropLastUser(sessionID)
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		r.dropLastUser(sessionID)
		return nil, errors.New("chat completion: empty response")
	}

	reply := &Reply{
		Content:   resp.Choices[0].Message.Content,
		Model:     resp.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	r.appendAssistant(sessionID, reply.Content)

	if r.bus != nil {
		r.bus.Publish(events.TypeChatReply, sessionID, reply)
	}
	r.log.Debug().Str("session", sessionID).Int64("latency_ms", reply.LatencyMs).Msg("chat reply")
	return reply, nil
}

// History returns a copy of the session's conversation, system prompt
// included.
func (r *Relay) History(sessionID string) []openai.ChatCompletionMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.conversations[sessionID]
	out := make([]openai.ChatCompletionMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Clear drops the session's conversation.
func (r *Relay) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, sessionID)
}

func (r *Relay) appendUser(sessionID, content string) []openai.ChatCompletionMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := r.conversations[sessionID]
	if len(msgs) == 0 && r.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: r.cfg.SystemPrompt,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	})
	msgs = r.trim(msgs)
	r.conversations[sessionID] = msgs

	out := make([]openai.ChatCompletionMessage, len(msgs))
	copy(out, msgs)
	return out
}

func (r *Relay) appendAssistant(sessionID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := append(r.conversations[sessionID], openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: content,
	})
	r.conversations[sessionID] = r.trim(msgs)
}

// dropLastUser rolls back the user turn added for a request that
// failed, so a retry doesn't duplicate it.
func (r *Relay) dropLastUser(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.conversations[sessionID]
	if n := len(msgs); n > 0 && msgs[n-1].Role == openai.ChatMessageRoleUser {
		r.conversations[sessionID] = msgs[:n-1]
	}
}

// trim keeps the system prompt plus the newest MaxHistory turns.
func (r *Relay) trim(msgs []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	max := r.cfg.MaxHistory
	if len(msgs) <= max {
		return msgs
	}
	if msgs[0].Role == openai.ChatMessageRoleSystem {
		keep := msgs[len(msgs)-(max-1):]
		return append([]openai.ChatCompletionMessage{msgs[0]}, keep...)
	}
	return msgs[len(msgs)-max:]
}
