package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchchat/internal/storage"
)

func anthropicProvider() *storage.Provider {
	return &storage.Provider{
		ID:        2,
		Name:      "Claude Prod",
		ModelName: "claude-3-5-sonnet",
		APIKey:    "sk-ant-test",
		Family:    string(FamilyAnthropic),
	}
}

func newAnthropicTestAdapter(srv *httptest.Server) *AnthropicAdapter {
	a := NewAnthropicAdapter()
	a.endpoint = srv.URL
	return a
}

func TestAnthropicGenerate(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{
				{"type": "text", "text": "Hello "},
				{"type": "tool_use", "text": "skipped"},
				{"type": "text", "text": "there"},
			},
		})
	}))
	defer srv.Close()

	a := newAnthropicTestAdapter(srv)
	content, err := a.Generate(context.Background(), anthropicProvider(), []Message{
		{Role: "system", Content: "be kind"},
		{Role: "user", Content: "hi"},
	}, 256)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", content)

	// System content is lifted out of the message list.
	assert.Equal(t, "be kind", gotBody["system"])
	messages := gotBody["messages"].([]interface{})
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]interface{})["role"])
}

func TestAnthropicGenerateDefaultSystem(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{"content": []map[string]string{}})
	}))
	defer srv.Close()

	a := newAnthropicTestAdapter(srv)
	_, err := a.Generate(context.Background(), anthropicProvider(),
		[]Message{{Role: "user", Content: "hi"}}, 10)
	require.NoError(t, err)
	assert.Equal(t, defaultSystemPrompt, gotBody["system"])
}

func TestAnthropicGenerateRejectsPlaceholderKey(t *testing.T) {
	a := NewAnthropicAdapter()
	p := anthropicProvider()
	p.APIKey = PlaceholderAPIKey

	_, err := a.Generate(context.Background(), p, nil, 10)
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = a.GenerateStream(context.Background(), p, nil, 10)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAnthropicGenerateBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"overloaded_error"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := newAnthropicTestAdapter(srv)
	_, err := a.Generate(context.Background(), anthropicProvider(), nil, 10)
	require.Error(t, err)

	var backend *BackendError
	require.ErrorAs(t, err, &backend)
	assert.Equal(t, http.StatusTooManyRequests, backend.Status)
	assert.Equal(t, "Claude Prod", backend.Provider)
}

func TestAnthropicGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\n")
		fmt.Fprint(w, "data: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	a := newAnthropicTestAdapter(srv)
	ch, err := a.GenerateStream(context.Background(), anthropicProvider(),
		[]Message{{Role: "user", Content: "hi"}}, 10)
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text += chunk.Text
	}
	assert.Equal(t, "Hello", text)
}

func TestAnthropicGenerateStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"try later\"}}\n\n")
	}))
	defer srv.Close()

	a := newAnthropicTestAdapter(srv)
	ch, err := a.GenerateStream(context.Background(), anthropicProvider(),
		[]Message{{Role: "user", Content: "hi"}}, 10)
	require.NoError(t, err)

	var streamErr error
	for chunk := range ch {
		if chunk.Err != nil {
			streamErr = chunk.Err
		}
	}
	require.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "try later")
}
