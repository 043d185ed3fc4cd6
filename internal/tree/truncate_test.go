package tree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"branchchat/internal/storage"
)

func pathOf(contents ...string) []storage.Message {
	msgs := make([]storage.Message, len(contents))
	for i, c := range contents {
		msgs[i] = storage.Message{ID: uint(i + 1), Role: "user", Content: c}
	}
	return msgs
}

func TestTruncateKeepsNewestSuffix(t *testing.T) {
	// Three 100-char messages; a 200-char budget (50 tokens) keeps the
	// newest two.
	path := pathOf(
		strings.Repeat("a", 100),
		strings.Repeat("b", 100),
		strings.Repeat("c", 100),
	)

	kept := Truncate(path, 50)
	assert.Len(t, kept, 2)
	assert.Equal(t, uint(2), kept[0].ID)
	assert.Equal(t, uint(3), kept[1].ID)
}

func TestTruncateKeepsAllWithinBudget(t *testing.T) {
	path := pathOf("short", "also short")

	kept := Truncate(path, 100)
	assert.Len(t, kept, 2)
	assert.Equal(t, uint(1), kept[0].ID)
}

func TestTruncateOversizedNewestMessage(t *testing.T) {
	// The newest message alone exceeds the budget, so nothing fits.
	path := pathOf(strings.Repeat("x", 500))

	kept := Truncate(path, 10)
	assert.Empty(t, kept)
}

func TestTruncateStopsAtFirstOversized(t *testing.T) {
	// A large message in the middle blocks everything older than it,
	// even if an older message would fit on its own.
	path := pathOf(
		"tiny",
		strings.Repeat("m", 400),
		strings.Repeat("n", 40),
	)

	kept := Truncate(path, 50) // 200 chars
	assert.Len(t, kept, 1)
	assert.Equal(t, uint(3), kept[0].ID)
}

func TestTruncateEmptyPath(t *testing.T) {
	assert.Empty(t, Truncate(nil, 100))
}
