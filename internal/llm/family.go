package llm

import (
	"strings"
)

// Family is the backend protocol dialect a provider resolves to.
type Family string

const (
	FamilyOpenAI     Family = "openai"    // OpenAI, Azure OpenAI and compatibles
	FamilyAnthropic  Family = "anthropic" // Anthropic messages API
	FamilyGoogle     Family = "google"    // Google generative language API
	FamilySelfHosted Family = "ollama"    // self-hosted Ollama-style HTTP
)

// ResolveFamily maps a provider's name and model to a backend family by
// case-insensitive substring match. Name keywords take priority over model
// keywords, so a config named "My Ollama" stays self-hosted whatever its
// model is called.
func ResolveFamily(name, model string) (Family, error) {
	n := strings.ToLower(name)

	switch {
	case strings.Contains(n, "openai") || strings.Contains(n, "gpt"):
		return FamilyOpenAI, nil
	case strings.Contains(n, "azure"):
		// Azure OpenAI speaks the OpenAI API
		return FamilyOpenAI, nil
	case strings.Contains(n, "anthropic") || strings.Contains(n, "claude"):
		return FamilyAnthropic, nil
	case strings.Contains(n, "gemini") || strings.Contains(n, "google"):
		return FamilyGoogle, nil
	case strings.Contains(n, "ollama"):
		return FamilySelfHosted, nil
	}

	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt"):
		return FamilyOpenAI, nil
	case strings.Contains(m, "claude"):
		return FamilyAnthropic, nil
	case strings.Contains(m, "gemini"):
		return FamilyGoogle, nil
	case strings.Contains(m, "llama") || strings.Contains(m, "qwen"):
		return FamilySelfHosted, nil
	}

	return "", &UnresolvedProviderError{Name: name, Model: model}
}
