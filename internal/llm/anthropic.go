package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"branchchat/internal/storage"
)

const (
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"

	// defaultSystemPrompt is sent when the context carries no system message
	defaultSystemPrompt = "You are a helpful assistant."
)

// AnthropicAdapter speaks the Anthropic messages API. System-role messages
// are lifted out of the message list into the dedicated system field.
type AnthropicAdapter struct {
	endpoint string
	client   *http.Client
}

// NewAnthropicAdapter creates a new Anthropic adapter
func NewAnthropicAdapter() *AnthropicAdapter {
	return &AnthropicAdapter{
		endpoint: anthropicEndpoint,
		client:   &http.Client{},
	}
}

func (a *AnthropicAdapter) Family() Family {
	return FamilyAnthropic
}

func (a *AnthropicAdapter) newRequest(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int, stream bool) (*http.Request, error) {
	system, rest := splitSystem(messages)
	if system == "" {
		system = defaultSystemPrompt
	}

	converted := make([]map[string]string, len(rest))
	for i, m := range rest {
		converted[i] = map[string]string{"role": m.Role, "content": m.Content}
	}

	body, err := json.Marshal(map[string]interface{}{
		"model":       p.ModelName,
		"max_tokens":  maxTokens,
		"temperature": defaultTemperature,
		"system":      system,
		"messages":    converted,
		"stream":      stream,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
}

// Generate sends a messages request
func (a *AnthropicAdapter) Generate(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (string, error) {
	if err := requireAPIKey(p.APIKey, p.Name); err != nil {
		return "", err
	}

	req, err := a.newRequest(ctx, p, messages, maxTokens, false)
	if err != nil {
		return "", err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "anthropic request for %s", p.Name)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &BackendError{Provider: p.Name, Status: resp.StatusCode, Body: string(respBody)}
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", errors.Wrap(err, "anthropic response")
	}

	text := ""
	for _, block := range result.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// anthropicStreamEvent is one SSE data payload of a streaming response
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateStream streams a messages request over SSE
func (a *AnthropicAdapter) GenerateStream(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (<-chan StreamChunk, error) {
	if err := requireAPIKey(p.APIKey, p.Name); err != nil {
		return nil, err
	}

	req, err := a.newRequest(ctx, p, messages, maxTokens, true)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "anthropic request for %s", p.Name)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &BackendError{Provider: p.Name, Status: resp.StatusCode, Body: string(respBody)}
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		emit := func(chunk StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					if !emit(StreamChunk{Text: event.Delta.Text}) {
						return
					}
				}
			case "message_stop":
				return
			case "error":
				emit(StreamChunk{Err: errors.Errorf("anthropic stream error for %s: %s", p.Name, event.Error.Message)})
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			emit(StreamChunk{Err: errors.Wrapf(err, "anthropic stream for %s", p.Name)})
		}
	}()
	return ch, nil
}
