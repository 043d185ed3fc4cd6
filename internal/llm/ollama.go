package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"branchchat/internal/storage"
)

// ollamaTimeout caps a self-hosted generation request.
const ollamaTimeout = 60 * time.Second

// OllamaAdapter speaks the Ollama-style self-hosted HTTP API. It requires
// a configured base URL and classifies network failures so the caller can
// render a useful message.
type OllamaAdapter struct {
	client *http.Client
}

// NewOllamaAdapter creates a new self-hosted adapter
func NewOllamaAdapter() *OllamaAdapter {
	return &OllamaAdapter{
		client: &http.Client{Timeout: ollamaTimeout},
	}
}

func (a *OllamaAdapter) Family() Family {
	return FamilySelfHosted
}

func (a *OllamaAdapter) newRequest(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int, stream bool) (*http.Request, error) {
	if p.APIURL == "" {
		return nil, errors.Wrapf(ErrMissingEndpoint, "provider %s (e.g. http://localhost:11434)", p.Name)
	}

	body, err := json.Marshal(map[string]interface{}{
		"model":  p.ModelName,
		"prompt": flattenRolePrefixed(messages),
		"stream": stream,
		"options": map[string]interface{}{
			"num_predict": maxTokens,
			"temperature": defaultTemperature,
		},
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(p.APIURL, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// classify maps a transport error to the adapter error taxonomy.
func classify(err error, p *storage.Provider) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrapf(ErrTimeout, "server at %s", p.APIURL)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(ErrTimeout, "server at %s", p.APIURL)
	}
	return errors.Wrapf(ErrConnectionFailed, "server at %s: %v", p.APIURL, err)
}

func (a *OllamaAdapter) checkStatus(resp *http.Response, p *storage.Provider) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrapf(ErrModelNotFound, "model %q on %s", p.ModelName, p.APIURL)
	}
	return &BackendError{Provider: p.Name, Status: resp.StatusCode, Body: string(respBody)}
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate sends a completion request
func (a *OllamaAdapter) Generate(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (string, error) {
	req, err := a.newRequest(ctx, p, messages, maxTokens, false)
	if err != nil {
		return "", err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", classify(err, p)
	}
	if err := a.checkStatus(resp, p); err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "ollama response")
	}
	return result.Response, nil
}

// GenerateStream streams a completion as newline-delimited JSON
func (a *OllamaAdapter) GenerateStream(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (<-chan StreamChunk, error) {
	req, err := a.newRequest(ctx, p, messages, maxTokens, true)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classify(err, p)
	}
	if err := a.checkStatus(resp, p); err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var chunk ollamaResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue
			}
			if chunk.Response != "" {
				select {
				case ch <- StreamChunk{Text: chunk.Response}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- StreamChunk{Err: classify(err, p)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
