// Package chat drives one user-turn → assistant-turn cycle: persist the
// user's node, reconstruct and bound the context, generate (whole or
// streamed) and persist the reply — never losing the user's input when
// generation fails.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"branchchat/internal/event"
	"branchchat/internal/llm"
	"branchchat/internal/storage"
	"branchchat/internal/tree"
)

// Apology is persisted as the assistant message when generation fails on
// a fresh turn. The turn still completes from the caller's point of view.
const Apology = "Sorry, something went wrong while generating a response. Please try again in a moment."

var (
	// ErrInvalidRole means the operation targets a message of the wrong role.
	ErrInvalidRole = errors.New("only assistant messages can be regenerated")

	// ErrRegenerationFailed means the adapter call during regeneration
	// failed; the stored content is left untouched.
	ErrRegenerationFailed = errors.New("failed to regenerate response")
)

const (
	defaultContextTokens     = 4000
	defaultMaxResponseTokens = 2000
)

// Turn is the result of one completed chat turn.
type Turn struct {
	UserMessage      *storage.Message `json:"user_message"`
	AssistantMessage *storage.Message `json:"assistant_message"`
}

// StreamEventType tags events of a streaming turn.
type StreamEventType string

const (
	EventUserMessage StreamEventType = "user_message"
	EventStart       StreamEventType = "assistant_message_start"
	EventChunk       StreamEventType = "assistant_message_chunk"
	EventComplete    StreamEventType = "assistant_message_complete"
	EventError       StreamEventType = "error"
)

// StreamEvent is one tagged event of a streaming turn.
type StreamEvent struct {
	Type    StreamEventType
	Message *storage.Message
	Chunk   string
	Err     error
}

// Service orchestrates chat turns against the active provider.
type Service struct {
	gen llm.Generator
	bus *event.Bus

	mu                sync.RWMutex
	contextTokens     int
	maxResponseTokens int
}

// NewService creates a chat service
func NewService(gen llm.Generator, bus *event.Bus) *Service {
	return &Service{
		gen:               gen,
		bus:               bus,
		contextTokens:     defaultContextTokens,
		maxResponseTokens: defaultMaxResponseTokens,
	}
}

// SetLimits adjusts the context budget and response cap at runtime.
func (s *Service) SetLimits(contextTokens, maxResponseTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if contextTokens > 0 {
		s.contextTokens = contextTokens
	}
	if maxResponseTokens > 0 {
		s.maxResponseTokens = maxResponseTokens
	}
}

func (s *Service) limits() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contextTokens, s.maxResponseTokens
}

func (s *Service) publish(eventType string, msg *storage.Message) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&event.Event{
		Type:           eventType,
		ConversationID: msg.ConversationID,
		Message:        msg,
	})
}

// contextFor reconstructs the root path ending at messageID and bounds it
// to the configured budget.
func (s *Service) contextFor(messageID uint) ([]llm.Message, error) {
	path, err := tree.Path(messageID)
	if err != nil {
		return nil, err
	}

	contextTokens, _ := s.limits()
	truncated := tree.Truncate(path, contextTokens)

	messages := make([]llm.Message, len(truncated))
	for i, m := range truncated {
		messages[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return messages, nil
}

func (s *Service) persistUserMessage(conversationID uint, parentID *uint, text string) (*storage.Message, error) {
	msg := &storage.Message{
		ConversationID: conversationID,
		ParentID:       parentID,
		Role:           "user",
		Content:        text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := storage.AddMessage(msg); err != nil {
		return nil, errors.Wrap(err, "persist user message")
	}
	s.publish("message.created", msg)
	return msg, nil
}

func (s *Service) persistAssistantMessage(conversationID, parentID uint, content string) (*storage.Message, error) {
	parent := parentID
	msg := &storage.Message{
		ConversationID: conversationID,
		ParentID:       &parent,
		Role:           "assistant",
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := storage.AddMessage(msg); err != nil {
		return nil, errors.Wrap(err, "persist assistant message")
	}
	s.publish("message.created", msg)
	return msg, nil
}

// Send runs one synchronous chat turn. The user message is persisted
// before anything can fail downstream; structural errors (unknown
// conversation, no active provider) surface to the caller, while
// generation failures are contained into a persisted apology placeholder.
func (s *Service) Send(ctx context.Context, conversationID uint, parentID *uint, text string) (*Turn, error) {
	if _, err := storage.GetConversation(conversationID); err != nil {
		return nil, errors.Wrap(err, "conversation")
	}

	userMsg, err := s.persistUserMessage(conversationID, parentID, text)
	if err != nil {
		return nil, err
	}

	provider, err := storage.GetActiveProvider()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, llm.ErrNoActiveProvider
		}
		return nil, err
	}

	messages, err := s.contextFor(userMsg.ID)
	if err != nil {
		return nil, err
	}

	_, maxTokens := s.limits()
	content, err := s.gen.Generate(ctx, provider, messages, maxTokens)
	if err != nil {
		log.Warn().
			Err(err).
			Uint("conversation_id", conversationID).
			Str("provider", provider.Name).
			Msg("generation failed, persisting placeholder")
		content = Apology
	}

	assistantMsg, err := s.persistAssistantMessage(conversationID, userMsg.ID, content)
	if err != nil {
		return nil, err
	}
	return &Turn{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// Stream runs one chat turn as a sequence of tagged events. The producer
// stops emitting and skips persistence when ctx is cancelled mid-stream;
// a mid-stream generation failure completes the turn with the persisted
// apology placeholder instead.
func (s *Service) Stream(ctx context.Context, conversationID uint, parentID *uint, text string) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)

		emit := func(ev StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			emit(StreamEvent{Type: EventError, Err: err})
		}

		if _, err := storage.GetConversation(conversationID); err != nil {
			fail(errors.Wrap(err, "conversation"))
			return
		}

		userMsg, err := s.persistUserMessage(conversationID, parentID, text)
		if err != nil {
			fail(err)
			return
		}
		if !emit(StreamEvent{Type: EventUserMessage, Message: userMsg}) {
			return
		}

		provider, err := storage.GetActiveProvider()
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				err = llm.ErrNoActiveProvider
			}
			fail(err)
			return
		}

		messages, err := s.contextFor(userMsg.ID)
		if err != nil {
			fail(err)
			return
		}

		if !emit(StreamEvent{Type: EventStart}) {
			return
		}

		_, maxTokens := s.limits()
		content, genErr := s.collectStream(ctx, provider, messages, maxTokens, emit)
		if ctx.Err() != nil {
			// Caller went away: no further delivery, no persistence of
			// partial content.
			return
		}
		if genErr != nil {
			log.Warn().
				Err(genErr).
				Uint("conversation_id", conversationID).
				Str("provider", provider.Name).
				Msg("streaming generation failed, persisting placeholder")
			content = Apology
		}

		assistantMsg, err := s.persistAssistantMessage(conversationID, userMsg.ID, content)
		if err != nil {
			fail(err)
			return
		}
		emit(StreamEvent{Type: EventComplete, Message: assistantMsg})
	}()
	return ch
}

// collectStream pulls the adapter stream, forwarding each fragment as a
// chunk event and accumulating the full response.
func (s *Service) collectStream(ctx context.Context, provider *storage.Provider, messages []llm.Message, maxTokens int, emit func(StreamEvent) bool) (string, error) {
	chunks, err := s.gen.GenerateStream(ctx, provider, messages, maxTokens)
	if err != nil {
		return "", err
	}

	content := ""
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		content += chunk.Text
		if !emit(StreamEvent{Type: EventChunk, Chunk: chunk.Text}) {
			return "", ctx.Err()
		}
	}
	return content, nil
}

// Regenerate recomputes the reply of an existing assistant message and
// overwrites its content in place; id, parent and children are untouched.
// Unlike a fresh turn, adapter failures surface as ErrRegenerationFailed
// rather than silently replacing the stored content.
func (s *Service) Regenerate(ctx context.Context, messageID uint) (*storage.Message, error) {
	msg, err := storage.GetMessage(messageID)
	if err != nil {
		return nil, errors.Wrap(err, "message")
	}
	if msg.Role != "assistant" {
		return nil, ErrInvalidRole
	}

	provider, err := storage.GetActiveProvider()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, llm.ErrNoActiveProvider
		}
		return nil, err
	}

	var messages []llm.Message
	if msg.ParentID != nil {
		messages, err = s.contextFor(*msg.ParentID)
		if err != nil {
			return nil, err
		}
	}

	_, maxTokens := s.limits()
	content, err := s.gen.Generate(ctx, provider, messages, maxTokens)
	if err != nil {
		log.Error().
			Err(err).
			Uint("message_id", messageID).
			Str("provider", provider.Name).
			Msg("regeneration failed")
		return nil, errors.Wrapf(ErrRegenerationFailed, "provider %s", provider.Name)
	}

	if err := storage.UpdateMessageContent(msg.ID, content); err != nil {
		return nil, err
	}
	msg.Content = content
	s.publish("message.updated", msg)
	return msg, nil
}
