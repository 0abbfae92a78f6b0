package config

import (
	"time"

	"github.com/AltairaLabs/rtsession/runtime/audio"
	"github.com/AltairaLabs/rtsession/runtime/credentials"
	"github.com/AltairaLabs/rtsession/runtime/media"
	"github.com/AltairaLabs/rtsession/runtime/protocol"
	"github.com/AltairaLabs/rtsession/runtime/session"
	"github.com/AltairaLabs/rtsession/runtime/transport/websocket"
)

// Transport kinds.
const (
	TransportWebRTC    = "webrtc"
	TransportWebSocket = "websocket"
)

// DefaultWebSocketURL is the realtime websocket endpoint.
const DefaultWebSocketURL = websocket.DefaultURL

// Config is the root of a configuration file.
type Config struct {
	Session     SessionConfig     `yaml:"session"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Transport   TransportConfig   `yaml:"transport"`
	Gate        GateConfig        `yaml:"gate"`
	Audio       AudioConfig       `yaml:"audio"`
	Logging     LoggingConfigSpec `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// SessionConfig configures the session controller and the remote session.
type SessionConfig struct {
	Model              string  `yaml:"model,omitempty"`
	Instructions       string  `yaml:"instructions,omitempty"`
	Voice              string  `yaml:"voice,omitempty"`
	Temperature        float64 `yaml:"temperature,omitempty"`
	TranscriptionModel string  `yaml:"transcriptionModel,omitempty"`

	// InitialModality is "text" or "text_and_audio" ("voice" is accepted).
	InitialModality string `yaml:"initialModality,omitempty"`

	ConnectTimeout  time.Duration `yaml:"connectTimeout,omitempty"`
	ConnectDebounce time.Duration `yaml:"connectDebounce,omitempty"`
	PublishInterval time.Duration `yaml:"publishInterval,omitempty"`
	MaxAttempts     int           `yaml:"maxAttempts,omitempty"`
	BackoffBase     time.Duration `yaml:"backoffBase,omitempty"`
	BackoffMax      time.Duration `yaml:"backoffMax,omitempty"`
}

// CredentialsConfig configures the ephemeral credential fetcher and cache.
type CredentialsConfig struct {
	// Endpoint is the URL that mints ephemeral credentials.
	Endpoint       string        `yaml:"endpoint"`
	TTL            time.Duration `yaml:"ttl,omitempty"`
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty"`
	// APIKeyEnv names the environment variable holding the key sent to Endpoint.
	APIKeyEnv string `yaml:"apiKeyEnv,omitempty"`
}

// TransportConfig selects and configures the transport.
type TransportConfig struct {
	Kind string `yaml:"kind,omitempty"`
	// URL defaults to the realtime endpoint for Kind.
	URL        string   `yaml:"url,omitempty"`
	ICEServers []string `yaml:"iceServers,omitempty"`
	// Heartbeat is the websocket ping interval.
	Heartbeat time.Duration `yaml:"heartbeat,omitempty"`
}

// GateConfig configures microphone gating.
type GateConfig struct {
	// Enabled defaults to true when omitted.
	Enabled           *bool         `yaml:"enabled,omitempty"`
	MicThresholdDB    *float64      `yaml:"micThresholdDb,omitempty"`
	RemoteThresholdDB *float64      `yaml:"remoteThresholdDb,omitempty"`
	MarginDB          float64       `yaml:"marginDb,omitempty"`
	Tick              time.Duration `yaml:"tick,omitempty"`
	// RemoteStaleAfter is how long the remote level is held without new audio.
	RemoteStaleAfter time.Duration `yaml:"remoteStaleAfter,omitempty"`
}

// AudioConfig configures the capture format.
type AudioConfig struct {
	SampleRate    int           `yaml:"sampleRate,omitempty"`
	Channels      int           `yaml:"channels,omitempty"`
	FrameDuration time.Duration `yaml:"frameDuration,omitempty"`
}

// MetricsConfig configures the Prometheus exporter. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// TelemetryConfig configures OTLP trace export. An empty Endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	sess := session.DefaultConfig()
	opts := protocol.DefaultSessionOptions()
	gate := audio.DefaultGateConfig()
	format := media.DefaultFormat

	return &Config{
		Session: SessionConfig{
			Model:              sess.Model,
			Voice:              opts.Voice,
			Temperature:        opts.Temperature,
			TranscriptionModel: opts.TranscriptionModel,
			InitialModality:    string(sess.InitialModality),
			ConnectTimeout:     sess.ConnectTimeout,
			ConnectDebounce:    sess.ConnectDebounce,
			PublishInterval:    sess.PublishInterval,
			MaxAttempts:        sess.MaxAttempts,
			BackoffBase:        sess.BackoffBase,
			BackoffMax:         sess.BackoffMax,
		},
		Credentials: CredentialsConfig{
			TTL:            credentials.DefaultTTL,
			RequestTimeout: credentials.DefaultRequestTimeout,
			APIKeyEnv:      "RTCHAT_API_KEY",
		},
		Transport: TransportConfig{
			Kind: TransportWebRTC,
		},
		Gate: GateConfig{
			Enabled:           &gate.Enabled,
			MicThresholdDB:    &gate.MicThresholdDB,
			RemoteThresholdDB: &gate.RemoteThresholdDB,
			MarginDB:          gate.MarginDB,
			Tick:              sess.GateTick,
			RemoteStaleAfter:  sess.RemoteStaleAfter,
		},
		Audio: AudioConfig{
			SampleRate:    format.SampleRate,
			Channels:      format.Channels,
			FrameDuration: format.FrameDuration(),
		},
		Logging: DefaultLoggingConfig(),
		Telemetry: TelemetryConfig{
			ServiceName: "rtchat",
		},
	}
}

// GateEnabled reports whether gating is on.
func (g GateConfig) GateEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}
