package config

import (
	"errors"
	"strconv"
	"time"

	"github.com/AltairaLabs/rtsession/runtime/session"
)

// Validate checks the configuration for values the schema cannot express.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, message, value string) {
		errs = append(errs, &ValidationError{Field: field, Message: message, Value: value})
	}

	if _, err := session.ParseModality(c.Session.InitialModality); err != nil {
		add("session.initialModality", "must be one of: text, text_and_audio, voice", c.Session.InitialModality)
	}
	if c.Session.MaxAttempts < 0 {
		add("session.maxAttempts", "must not be negative", strconv.Itoa(c.Session.MaxAttempts))
	}
	if c.Session.BackoffMax > 0 && c.Session.BackoffMax < c.Session.BackoffBase {
		add("session.backoffMax", "must not be shorter than backoffBase", c.Session.BackoffMax.String())
	}
	for field, d := range map[string]time.Duration{
		"session.connectTimeout":  c.Session.ConnectTimeout,
		"session.connectDebounce": c.Session.ConnectDebounce,
		"session.publishInterval": c.Session.PublishInterval,
		"credentials.ttl":         c.Credentials.TTL,
		"gate.tick":               c.Gate.Tick,
	} {
		if d < 0 {
			add(field, "must not be negative", d.String())
		}
	}

	if c.Credentials.Endpoint == "" {
		add("credentials.endpoint", "is required", "")
	}

	switch c.Transport.Kind {
	case TransportWebRTC, TransportWebSocket:
	default:
		add("transport.kind", "must be one of: webrtc, websocket", c.Transport.Kind)
	}

	if err := c.Format().Validate(); err != nil {
		add("audio", err.Error(), "")
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
