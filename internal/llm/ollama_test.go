package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchchat/internal/storage"
)

func ollamaProvider(url string) *storage.Provider {
	return &storage.Provider{
		ID:        1,
		Name:      "Local Ollama",
		ModelName: "llama3",
		APIURL:    url,
		Family:    string(FamilySelfHosted),
	}
}

func TestOllamaGenerate(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(ollamaResponse{Response: "pong", Done: true})
	}))
	defer srv.Close()

	a := NewOllamaAdapter()
	content, err := a.Generate(context.Background(), ollamaProvider(srv.URL),
		[]Message{{Role: "user", Content: "ping"}}, 128)
	require.NoError(t, err)
	assert.Equal(t, "pong", content)

	assert.Equal(t, "llama3", gotBody["model"])
	assert.Equal(t, false, gotBody["stream"])
	assert.Contains(t, gotBody["prompt"], "User: ping")
	options := gotBody["options"].(map[string]interface{})
	assert.Equal(t, float64(128), options["num_predict"])
}

func TestOllamaGenerateMissingEndpoint(t *testing.T) {
	a := NewOllamaAdapter()
	_, err := a.Generate(context.Background(), ollamaProvider(""),
		[]Message{{Role: "user", Content: "hi"}}, 10)
	assert.ErrorIs(t, err, ErrMissingEndpoint)
}

func TestOllamaGenerateModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewOllamaAdapter()
	_, err := a.Generate(context.Background(), ollamaProvider(srv.URL), nil, 10)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestOllamaGenerateBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewOllamaAdapter()
	_, err := a.Generate(context.Background(), ollamaProvider(srv.URL), nil, 10)
	require.Error(t, err)

	var backend *BackendError
	require.ErrorAs(t, err, &backend)
	assert.Equal(t, http.StatusInternalServerError, backend.Status)
}

func TestOllamaGenerateConnectionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing is listening anymore

	a := NewOllamaAdapter()
	_, err := a.Generate(context.Background(), ollamaProvider(srv.URL), nil, 10)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestOllamaGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(ollamaResponse{Response: "Hel"})
		enc.Encode(ollamaResponse{Response: "lo"})
		enc.Encode(ollamaResponse{Done: true})
	}))
	defer srv.Close()

	a := NewOllamaAdapter()
	ch, err := a.GenerateStream(context.Background(), ollamaProvider(srv.URL),
		[]Message{{Role: "user", Content: "hi"}}, 10)
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text += chunk.Text
	}
	assert.Equal(t, "Hello", text)
}

func TestOllamaGenerateStreamCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Response: "first"})
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	a := NewOllamaAdapter()
	ch, err := a.GenerateStream(ctx, ollamaProvider(srv.URL),
		[]Message{{Role: "user", Content: "hi"}}, 10)
	require.NoError(t, err)

	chunk := <-ch
	assert.Equal(t, "first", chunk.Text)
	cancel()

	// The channel closes without delivering an error chunk.
	for chunk := range ch {
		assert.NoError(t, chunk.Err)
	}
}
