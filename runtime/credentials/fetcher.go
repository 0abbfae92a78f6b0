package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AltairaLabs/rtsession/pkg/httputil"
	"github.com/AltairaLabs/rtsession/runtime/logger"
)

const (
	// DefaultRequestTimeout bounds one call to the credential endpoint.
	DefaultRequestTimeout = httputil.DefaultCredentialTimeout

	maxResponseBytes = 64 << 10
)

// Token is an ephemeral credential for one modality.
type Token struct {
	Value     string
	Modality  string
	ExpiresAt time.Time // zero when the endpoint did not say
}

// Fetcher obtains a new Token. Implementations must not retry.
type Fetcher interface {
	Fetch(ctx context.Context, modality string) (Token, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, modality string) (Token, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, modality string) (Token, error) {
	return f(ctx, modality)
}

// HTTPFetcher requests tokens from a credential endpoint.
//
// The request is a JSON POST of {"modality": ...} merged with Body. Two
// response shapes are accepted:
//
//	{"token": "...", "expiry": 1735689600}
//	{"client_secret": {"value": "...", "expires_at": 1735689600}}
//
// expiry may also be an RFC 3339 string. A response without a token is an error.
type HTTPFetcher struct {
	endpoint   string
	credential Credential
	client     *http.Client
	body       map[string]any
	timeout    time.Duration
}

// HTTPFetcherOption configures an HTTPFetcher.
type HTTPFetcherOption func(*HTTPFetcher)

// WithCredential authenticates requests to the endpoint.
func WithCredential(c Credential) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.credential = c }
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithRequestBody adds fields to every request body (e.g. model, voice).
func WithRequestBody(body map[string]any) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.body = body }
}

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.timeout = d }
}

// NewHTTPFetcher creates a fetcher for endpoint.
func NewHTTPFetcher(endpoint string, opts ...HTTPFetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		endpoint:   endpoint,
		credential: NoOpCredential{},
		client:     httputil.NewHTTPClient(0),
		timeout:    DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type tokenResponse struct {
	Token        string          `json:"token"`
	Expiry       json.RawMessage `json:"expiry"`
	ClientSecret *struct {
		Value     string          `json:"value"`
		ExpiresAt json.RawMessage `json:"expires_at"`
	} `json:"client_secret"`
}

// Fetch performs one request.
func (f *HTTPFetcher) Fetch(ctx context.Context, modality string) (Token, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	payload := make(map[string]any, len(f.body)+1)
	for k, v := range f.body {
		payload[k] = v
	}
	payload["modality"] = modality
	body, err := json.Marshal(payload)
	if err != nil {
		return Token{}, &FetchError{Modality: modality, Reason: ReasonInvalidResponse, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return Token{}, &FetchError{Modality: modality, Reason: ReasonUnreachable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if err := f.credential.Apply(ctx, req); err != nil {
		return Token{}, &FetchError{Modality: modality, Reason: ReasonRejected, Err: err}
	}
	logger.APIRequest("credentials", req.Method, f.endpoint, map[string]string{
		"Authorization": req.Header.Get("Authorization"),
	})

	resp, err := f.client.Do(req)
	if err != nil {
		logger.APIResponse("credentials", 0, "", err)
		return Token{}, &FetchError{Modality: modality, Reason: ReasonUnreachable, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Token{}, &FetchError{Modality: modality, Reason: ReasonUnreachable, StatusCode: resp.StatusCode, Err: err}
	}
	logger.APIResponse("credentials", resp.StatusCode, string(raw), nil)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, &FetchError{
			Modality:   modality,
			Reason:     ReasonRejected,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(logger.RedactSensitiveData(string(raw)))),
		}
	}

	return parseToken(modality, raw)
}

func parseToken(modality string, raw []byte) (Token, error) {
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return Token{}, &FetchError{Modality: modality, Reason: ReasonInvalidResponse, Err: err}
	}

	value, expiry := tr.Token, tr.Expiry
	if value == "" && tr.ClientSecret != nil {
		value, expiry = tr.ClientSecret.Value, tr.ClientSecret.ExpiresAt
	}
	if strings.TrimSpace(value) == "" {
		return Token{}, &FetchError{Modality: modality, Reason: ReasonInvalidResponse, Err: errors.New("response has no token")}
	}

	expiresAt, err := parseExpiry(expiry)
	if err != nil {
		return Token{}, &FetchError{Modality: modality, Reason: ReasonInvalidResponse, Err: err}
	}
	return Token{Value: value, Modality: modality, ExpiresAt: expiresAt}, nil
}

// parseExpiry accepts unix seconds (number or numeric string) or RFC 3339.
func parseExpiry(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Unix(int64(secs), 0), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized expiry %q", s)
	}
	return t, nil
}
