package llm

import (
	"context"

	"github.com/rs/zerolog/log"

	"branchchat/internal/storage"
)

// Generator is the generation capability the chat orchestrator depends on.
type Generator interface {
	Generate(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (string, error)
	GenerateStream(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (<-chan StreamChunk, error)
}

// invalidator is implemented by adapters that hold per-provider client
// state.
type invalidator interface {
	Invalidate(providerID uint)
}

// Router dispatches provider configs to the adapter for their backend
// family and owns the per-provider client caches.
type Router struct {
	adapters map[Family]Adapter
}

// NewRouter creates a router with all backend families registered
func NewRouter() *Router {
	r := &Router{adapters: make(map[Family]Adapter)}
	for _, a := range []Adapter{
		NewOpenAIAdapter(),
		NewAnthropicAdapter(),
		NewGoogleAdapter(),
		NewOllamaAdapter(),
	} {
		r.adapters[a.Family()] = a
	}
	return r
}

// Resolve maps a provider config to its family adapter. The family stored
// on the config wins; it is re-derived from name and model for configs that
// predate family resolution at write time.
func (r *Router) Resolve(p *storage.Provider) (Adapter, error) {
	family := Family(p.Family)
	if family == "" {
		resolved, err := ResolveFamily(p.Name, p.ModelName)
		if err != nil {
			return nil, err
		}
		family = resolved
	}

	adapter, ok := r.adapters[family]
	if !ok {
		return nil, &UnresolvedProviderError{Name: p.Name, Model: p.ModelName}
	}
	return adapter, nil
}

// Generate resolves the provider and produces a whole response
func (r *Router) Generate(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (string, error) {
	adapter, err := r.Resolve(p)
	if err != nil {
		return "", err
	}

	content, err := adapter.Generate(ctx, p, messages, maxTokens)
	if err != nil {
		log.Error().
			Err(err).
			Str("provider", p.Name).
			Str("family", string(adapter.Family())).
			Str("model", p.ModelName).
			Msg("generation failed")
		return "", err
	}
	return content, nil
}

// GenerateStream resolves the provider and produces an incremental response
func (r *Router) GenerateStream(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (<-chan StreamChunk, error) {
	adapter, err := r.Resolve(p)
	if err != nil {
		return nil, err
	}

	ch, err := adapter.GenerateStream(ctx, p, messages, maxTokens)
	if err != nil {
		log.Error().
			Err(err).
			Str("provider", p.Name).
			Str("family", string(adapter.Family())).
			Str("model", p.ModelName).
			Msg("stream start failed")
		return nil, err
	}
	return ch, nil
}

// InvalidateProvider drops any cached client state for a provider id.
// Must be called whenever a provider's key or URL changes.
func (r *Router) InvalidateProvider(providerID uint) {
	for _, a := range r.adapters {
		if inv, ok := a.(invalidator); ok {
			inv.Invalidate(providerID)
		}
	}
}
