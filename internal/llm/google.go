package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"branchchat/internal/storage"
)

const googleEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GoogleAdapter speaks the Google generative language API. The whole
// context is flattened into a single Human/Assistant prompt.
type GoogleAdapter struct {
	endpoint string
	client   *http.Client
}

// NewGoogleAdapter creates a new Google adapter
func NewGoogleAdapter() *GoogleAdapter {
	return &GoogleAdapter{
		endpoint: googleEndpoint,
		client:   &http.Client{},
	}
}

func (a *GoogleAdapter) Family() Family {
	return FamilyGoogle
}

func (a *GoogleAdapter) newRequest(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int, stream bool) (*http.Request, error) {
	body, err := json.Marshal(map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": flattenHumanAssistant(messages)}}},
		},
		"generationConfig": map[string]interface{}{
			"maxOutputTokens": maxTokens,
			"temperature":     defaultTemperature,
		},
	})
	if err != nil {
		return nil, err
	}

	method := "generateContent"
	query := ""
	if stream {
		method = "streamGenerateContent"
		query = "&alt=sse"
	}
	url := fmt.Sprintf("%s/models/%s:%s?key=%s%s", a.endpoint, p.ModelName, method, p.APIKey, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r *googleResponse) text() string {
	var b strings.Builder
	for _, c := range r.Candidates {
		for _, part := range c.Content.Parts {
			b.WriteString(part.Text)
		}
		break
	}
	return b.String()
}

// Generate sends a generateContent request
func (a *GoogleAdapter) Generate(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (string, error) {
	if err := requireAPIKey(p.APIKey, p.Name); err != nil {
		return "", err
	}

	req, err := a.newRequest(ctx, p, messages, maxTokens, false)
	if err != nil {
		return "", err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "google request for %s", p.Name)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &BackendError{Provider: p.Name, Status: resp.StatusCode, Body: string(respBody)}
	}

	var result googleResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", errors.Wrap(err, "google response")
	}
	return result.text(), nil
}

// GenerateStream streams a streamGenerateContent request over SSE
func (a *GoogleAdapter) GenerateStream(ctx context.Context, p *storage.Provider, messages []Message, maxTokens int) (<-chan StreamChunk, error) {
	if err := requireAPIKey(p.APIKey, p.Name); err != nil {
		return nil, err
	}

	req, err := a.newRequest(ctx, p, messages, maxTokens, true)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "google request for %s", p.Name)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &BackendError{Provider: p.Name, Status: resp.StatusCode, Body: string(respBody)}
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event googleResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}
			text := event.text()
			if text == "" {
				continue
			}
			select {
			case ch <- StreamChunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- StreamChunk{Err: errors.Wrapf(err, "google stream for %s", p.Name)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
