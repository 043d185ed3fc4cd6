package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		{Role: "system", Content: "first"},
		{Role: "user", Content: "hi"},
		{Role: "system", Content: "second"},
		{Role: "assistant", Content: "hello"},
	})

	assert.Equal(t, "second", system)
	assert.Equal(t, []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}, rest)
}

func TestSplitSystemNoSystem(t *testing.T) {
	system, rest := splitSystem([]Message{{Role: "user", Content: "hi"}})
	assert.Empty(t, system)
	assert.Len(t, rest, 1)
}

func TestFlattenHumanAssistant(t *testing.T) {
	prompt := flattenHumanAssistant([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})

	assert.Equal(t, "Human: hi\n\nAssistant: hello\n\nAssistant: ", prompt)
}

func TestFlattenRolePrefixed(t *testing.T) {
	prompt := flattenRolePrefixed([]Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "tool", Content: "ignored"},
	})

	assert.Equal(t, "System: be brief\nUser: hi\nAssistant: hello\nAssistant: ", prompt)
}

func TestRequireAPIKey(t *testing.T) {
	assert.NoError(t, requireAPIKey("sk-real", "p"))
	assert.ErrorIs(t, requireAPIKey("", "p"), ErrInvalidCredential)
	assert.ErrorIs(t, requireAPIKey(PlaceholderAPIKey, "p"), ErrInvalidCredential)
}
