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

func googleProvider() *storage.Provider {
	return &storage.Provider{
		ID:        3,
		Name:      "Gemini Dev",
		ModelName: "gemini-1.5-flash",
		APIKey:    "aiza-test",
		Family:    string(FamilyGoogle),
	}
}

func TestGoogleGenerate(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "aiza-test", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": "Hi "}, {"text": "back"}},
				}},
			},
		})
	}))
	defer srv.Close()

	a := NewGoogleAdapter()
	a.endpoint = srv.URL
	content, err := a.Generate(context.Background(), googleProvider(), []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "yes?"},
	}, 64)
	require.NoError(t, err)
	assert.Equal(t, "Hi back", content)

	contents := gotBody["contents"].([]interface{})
	parts := contents[0].(map[string]interface{})["parts"].([]interface{})
	prompt := parts[0].(map[string]interface{})["text"].(string)
	assert.Equal(t, "Human: hello\n\nAssistant: yes?\n\nAssistant: ", prompt)
}

func TestGoogleGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"one \"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"two\"}]}}]}\n\n")
	}))
	defer srv.Close()

	a := NewGoogleAdapter()
	a.endpoint = srv.URL
	ch, err := a.GenerateStream(context.Background(), googleProvider(),
		[]Message{{Role: "user", Content: "count"}}, 16)
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text += chunk.Text
	}
	assert.Equal(t, "one two", text)
}

func TestGoogleGenerateMissingKey(t *testing.T) {
	a := NewGoogleAdapter()
	p := googleProvider()
	p.APIKey = ""

	_, err := a.Generate(context.Background(), p, nil, 10)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
