// Package httputil provides shared HTTP client construction for the session
// packages. Every client carries the OpenTelemetry transport so credential
// requests and SDP exchanges are traced and propagate trace headers.
package httputil

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Standard timeout defaults used across the module.
const (
	// DefaultCredentialTimeout is the HTTP timeout for calls to the
	// credential endpoint.
	DefaultCredentialTimeout = 10 * time.Second

	// DefaultSDPTimeout is the HTTP timeout for the WebRTC offer/answer
	// exchange with the realtime endpoint.
	DefaultSDPTimeout = 10 * time.Second
)

// NewHTTPClient returns an instrumented *http.Client configured with the given timeout.
// Pass one of the Default*Timeout constants, or a custom duration.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
