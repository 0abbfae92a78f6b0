// Package credentials acquires and caches the short-lived credentials a session
// presents during transport negotiation.
//
// A Fetcher obtains one Token from a credential endpoint. Cache wraps a Fetcher
// with a per-modality TTL and coalesces concurrent requests, so rapid modality
// switches never issue duplicate credentials.
package credentials

import (
	"context"
	"net/http"
	"os"
	"strings"
)

// DefaultAPIKeyEnvVars are consulted, in order, when no API key is configured.
var DefaultAPIKeyEnvVars = []string{"OPENAI_API_KEY", "OPENAI_TOKEN"}

// Credential applies authentication to HTTP requests sent to the credential endpoint.
type Credential interface {
	// Apply adds authentication to the HTTP request.
	Apply(ctx context.Context, req *http.Request) error

	// Type returns the credential type identifier (e.g., "api_key", "none").
	Type() string
}

// APIKeyCredential implements header-based API key authentication.
type APIKeyCredential struct {
	apiKey     string
	headerName string
	prefix     string
}

// APIKeyOption configures an APIKeyCredential.
type APIKeyOption func(*APIKeyCredential)

// WithHeaderName sets the header name for the API key.
func WithHeaderName(name string) APIKeyOption {
	return func(c *APIKeyCredential) {
		c.headerName = name
	}
}

// WithPrefix sets a custom prefix for the API key.
func WithPrefix(prefix string) APIKeyOption {
	return func(c *APIKeyCredential) {
		c.prefix = prefix
	}
}

// NewAPIKeyCredential creates a new API key credential.
// By default, it uses "Authorization" header with "Bearer " prefix.
func NewAPIKeyCredential(apiKey string, opts ...APIKeyOption) *APIKeyCredential {
	c := &APIKeyCredential{
		apiKey:     apiKey,
		headerName: "Authorization",
		prefix:     "Bearer ",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply adds the API key to the request header.
func (c *APIKeyCredential) Apply(_ context.Context, req *http.Request) error {
	if c.apiKey != "" {
		req.Header.Set(c.headerName, c.prefix+c.apiKey)
	}
	return nil
}

// Type returns "api_key".
func (c *APIKeyCredential) Type() string {
	return "api_key"
}

// NoOpCredential sends no authentication. It is used for credential endpoints
// served by the hosting application itself.
type NoOpCredential struct{}

// Apply does nothing.
func (NoOpCredential) Apply(context.Context, *http.Request) error { return nil }

// Type returns "none".
func (NoOpCredential) Type() string { return "none" }

// ResolveAPIKey returns explicit if set, otherwise the first non-empty value of
// envVar and then DefaultAPIKeyEnvVars.
func ResolveAPIKey(explicit, envVar string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	candidates := DefaultAPIKeyEnvVars
	if envVar != "" {
		candidates = append([]string{envVar}, candidates...)
	}
	for _, name := range candidates {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// ResolveCredential returns an APIKeyCredential when an API key resolves,
// otherwise NoOpCredential.
func ResolveCredential(explicit, envVar string) Credential {
	if key := ResolveAPIKey(explicit, envVar); key != "" {
		return NewAPIKeyCredential(key)
	}
	return NoOpCredential{}
}
