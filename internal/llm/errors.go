package llm

import (
	"fmt"

	"github.com/pkg/errors"
)

// PlaceholderAPIKey is the sentinel value seeded into fresh provider
// configs; it is treated the same as a missing key.
const PlaceholderAPIKey = "your-api-key-here"

var (
	// ErrNoActiveProvider means no provider config has is_active set.
	ErrNoActiveProvider = errors.New("no active LLM provider configured")

	// ErrInvalidCredential means the provider requires an API key and none
	// (or only the placeholder) is configured.
	ErrInvalidCredential = errors.New("invalid or missing API key")

	// ErrMissingEndpoint means a self-hosted provider has no base URL.
	ErrMissingEndpoint = errors.New("provider requires a base URL")

	// ErrConnectionFailed is a transport-level failure reaching the backend.
	ErrConnectionFailed = errors.New("cannot connect to backend")

	// ErrTimeout means the backend exceeded the request deadline.
	ErrTimeout = errors.New("backend request timed out")

	// ErrModelNotFound means the backend reports the configured model as
	// missing.
	ErrModelNotFound = errors.New("model not found on backend")
)

// UnresolvedProviderError means neither the provider name nor its model
// matched a known backend family.
type UnresolvedProviderError struct {
	Name  string
	Model string
}

func (e *UnresolvedProviderError) Error() string {
	return fmt.Sprintf("cannot determine provider family for %q with model %q", e.Name, e.Model)
}

// BackendError is a non-2xx backend response that doesn't classify as
// anything more specific.
type BackendError struct {
	Provider string
	Status   int
	Body     string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend error (HTTP %d): %s", e.Provider, e.Status, e.Body)
}

// requireAPIKey validates the credential of a provider whose family needs
// an API key.
func requireAPIKey(apiKey, providerName string) error {
	if apiKey == "" || apiKey == PlaceholderAPIKey {
		return errors.Wrapf(ErrInvalidCredential, "provider %s", providerName)
	}
	return nil
}
