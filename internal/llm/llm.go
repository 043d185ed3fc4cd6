// Package llm normalizes heterogeneous LLM backends behind a single
// adapter contract, synchronous and streaming, and dispatches configured
// providers to the right backend family.
package llm

import (
	"context"
	"strings"

	"branchchat/internal/storage"
)

// Message is a role/content pair sent to a backend.
type Message struct {
	Role    string `json:"role"` // "user", "assistant" or "system"
	Content string `json:"content"`
}

// StreamChunk is one fragment of an incrementally produced response.
// Chunks arrive in emission order and never overlap; a chunk with a non-nil
// Err terminates the stream. A closed channel without an error chunk means
// the response completed.
type StreamChunk struct {
	Text string
	Err  error
}

// Adapter generates responses against one backend family.
// GenerateStream returns a finite, non-restartable channel; an error return
// means the request never started.
type Adapter interface {
	Family() Family
	Generate(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (string, error)
	GenerateStream(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (<-chan StreamChunk, error)
}

const defaultTemperature = 0.7

// splitSystem extracts system-role content from a message list. The last
// system message wins; remaining messages keep their order.
func splitSystem(messages []Message) (string, []Message) {
	system := ""
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// flattenHumanAssistant renders messages as a single prompt with
// "Human: " / "Assistant: " prefixes and a trailing assistant cue, the
// format the Google generative endpoint is prompted with.
func flattenHumanAssistant(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == "user" {
			b.WriteString("Human: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant: ")
	return b.String()
}

// flattenRolePrefixed renders messages as a single prompt with per-role
// "User:" / "Assistant:" / "System:" prefixes and a trailing assistant cue,
// for self-hosted completion endpoints.
func flattenRolePrefixed(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "user":
			b.WriteString("User: ")
		case "assistant":
			b.WriteString("Assistant: ")
		case "system":
			b.WriteString("System: ")
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant: ")
	return b.String()
}
