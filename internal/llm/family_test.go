package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFamilyByName(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		family Family
	}{
		{"OpenAI Production", "gpt-4o", FamilyOpenAI},
		{"My GPT Backend", "custom", FamilyOpenAI},
		{"Azure East US", "deployment-1", FamilyOpenAI},
		{"Anthropic", "claude-3-opus", FamilyAnthropic},
		{"Claude Prod", "whatever", FamilyAnthropic},
		{"Google AI", "gemini-pro", FamilyGoogle},
		{"Gemini Dev", "x", FamilyGoogle},
		{"Local Ollama", "llama3", FamilySelfHosted},
	}

	for _, tt := range tests {
		family, err := ResolveFamily(tt.name, tt.model)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.family, family, tt.name)
	}
}

func TestResolveFamilyNameWinsOverModel(t *testing.T) {
	// A self-hosted config serving a claude-named model stays self-hosted.
	family, err := ResolveFamily("My Ollama", "claude-compatible")
	require.NoError(t, err)
	assert.Equal(t, FamilySelfHosted, family)
}

func TestResolveFamilyFallsBackToModel(t *testing.T) {
	tests := []struct {
		model  string
		family Family
	}{
		{"gpt-4-turbo", FamilyOpenAI},
		{"claude-3-5-sonnet", FamilyAnthropic},
		{"gemini-1.5-flash", FamilyGoogle},
		{"llama3.1:8b", FamilySelfHosted},
		{"qwen2:7b", FamilySelfHosted},
	}

	for _, tt := range tests {
		family, err := ResolveFamily("Primary", tt.model)
		require.NoError(t, err, tt.model)
		assert.Equal(t, tt.family, family, tt.model)
	}
}

func TestResolveFamilyUnresolved(t *testing.T) {
	_, err := ResolveFamily("Mystery Provider", "unknown-model")
	require.Error(t, err)

	var unresolved *UnresolvedProviderError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "Mystery Provider", unresolved.Name)
	assert.Equal(t, "unknown-model", unresolved.Model)
}
