package llm

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"

	"branchchat/internal/storage"
)

// OpenAIAdapter speaks the OpenAI chat completions API, covering OpenAI,
// Azure OpenAI and API-compatible backends (configured via a base URL).
type OpenAIAdapter struct {
	mu      sync.Mutex
	clients map[uint]*openaiClient
}

type openaiClient struct {
	apiKey  string
	baseURL string
	client  *go_openai.Client
}

// NewOpenAIAdapter creates a new OpenAI-compatible adapter
func NewOpenAIAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{clients: make(map[uint]*openaiClient)}
}

func (a *OpenAIAdapter) Family() Family {
	return FamilyOpenAI
}

// client returns the cached client for a provider, rebuilding it when the
// provider's key or base URL changed since it was cached.
func (a *OpenAIAdapter) client(p *storage.Provider) (*go_openai.Client, error) {
	if err := requireAPIKey(p.APIKey, p.Name); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if entry, ok := a.clients[p.ID]; ok && entry.apiKey == p.APIKey && entry.baseURL == p.APIURL {
		return entry.client, nil
	}

	cfg := go_openai.DefaultConfig(p.APIKey)
	if p.APIURL != "" {
		cfg.BaseURL = p.APIURL
	}
	client := go_openai.NewClientWithConfig(cfg)
	a.clients[p.ID] = &openaiClient{apiKey: p.APIKey, baseURL: p.APIURL, client: client}
	return client, nil
}

// Invalidate drops the cached client for a provider id.
func (a *OpenAIAdapter) Invalidate(providerID uint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.clients, providerID)
}

func (a *OpenAIAdapter) request(p *storage.Provider, messages []Message, maxTokens int) go_openai.ChatCompletionRequest {
	converted := make([]go_openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		converted[i] = go_openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}
	return go_openai.ChatCompletionRequest{
		Model:       p.ModelName,
		Messages:    converted,
		MaxTokens:   maxTokens,
		Temperature: defaultTemperature,
	}
}

// Generate sends a chat completion request
func (a *OpenAIAdapter) Generate(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (string, error) {
	client, err := a.client(p)
	if err != nil {
		return "", err
	}

	resp, err := client.CreateChatCompletion(ctx, a.request(p, messages, maxTokens))
	if err != nil {
		return "", errors.Wrapf(err, "openai completion for %s", p.Name)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Errorf("openai returned no choices for %s", p.Name)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream streams a chat completion as it is produced
func (a *OpenAIAdapter) GenerateStream(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (<-chan StreamChunk, error) {
	client, err := a.client(p)
	if err != nil {
		return nil, err
	}

	stream, err := client.CreateChatCompletionStream(ctx, a.request(p, messages, maxTokens))
	if err != nil {
		return nil, errors.Wrapf(err, "openai stream for %s", p.Name)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case ch <- StreamChunk{Err: errors.Wrapf(err, "openai stream for %s", p.Name)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case ch <- StreamChunk{Text: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
