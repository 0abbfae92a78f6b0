package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/rtsession/pkg/testutil"
	"github.com/AltairaLabs/rtsession/runtime/audio"
	"github.com/AltairaLabs/rtsession/runtime/session"
	"github.com/AltairaLabs/rtsession/runtime/transport/webrtc"
)

const fullConfig = `
session:
  model: gpt-4o-realtime-preview
  instructions: You are terse.
  voice: verse
  initialModality: voice
  connectTimeout: 20s
  connectDebounce: 500ms
  maxAttempts: 5
  backoffBase: 2s
  backoffMax: 30s
credentials:
  endpoint: https://example.test/session
  ttl: 1m
transport:
  kind: websocket
  heartbeat: 15s
gate:
  enabled: false
  micThresholdDb: 5
  remoteThresholdDb: -40
audio:
  sampleRate: 24000
  frameDuration: 20ms
logging:
  defaultLevel: debug
  format: json
  modules:
    - name: runtime.session
      level: trace
metrics:
  addr: ":9464"
telemetry:
  endpoint: http://localhost:4318/v1/traces
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValidOnceEndpointSet(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "credentials endpoint is required")

	cfg.Credentials.Endpoint = "https://example.test/session"
	require.NoError(t, cfg.Validate())

	assert.Equal(t, TransportWebRTC, cfg.Transport.Kind)
	assert.Equal(t, webrtc.DefaultEndpoint, cfg.TransportURL())
	assert.True(t, cfg.Gate.GateEnabled())
	assert.Equal(t, "text", cfg.Session.InitialModality)
	assert.Equal(t, 3, cfg.Session.MaxAttempts)
}

func TestLoad_FullDocument(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "You are terse.", cfg.Session.Instructions)
	assert.Equal(t, 20*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.ConnectDebounce)
	assert.Equal(t, time.Minute, cfg.Credentials.TTL)
	assert.Equal(t, TransportWebSocket, cfg.Transport.Kind)
	assert.Equal(t, DefaultWebSocketURL, cfg.TransportURL())
	assert.False(t, cfg.Gate.GateEnabled())
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, "rtchat", cfg.Telemetry.ServiceName, "omitted fields keep defaults")
	assert.Equal(t, 480, cfg.Format().FrameSamples)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"unknown section", "sesion:\n  model: x\n", "sesion"},
		{"unknown field", "gate:\n  thresh: 3\n", "thresh"},
		{"bad transport", "transport:\n  kind: grpc\n", "transport.kind"},
		{"numeric duration", "session:\n  connectTimeout: 15\n", "connectTimeout"},
		{"bad duration", "session:\n  connectTimeout: soon\n", "connectTimeout"},
		{"bad sample rate", "audio:\n  sampleRate: 44100\n", "sampleRate"},
		{"bad log level", "logging:\n  defaultLevel: loud\n", "defaultLevel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema validation failed")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("session: [unterminated"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Credentials.Endpoint = "https://example.test/session"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"modality", func(c *Config) { c.Session.InitialModality = "video" }, "session.initialModality"},
		{"attempts", func(c *Config) { c.Session.MaxAttempts = -1 }, "session.maxAttempts"},
		{"backoff order", func(c *Config) { c.Session.BackoffMax = 500 * time.Millisecond }, "session.backoffMax"},
		{"negative timeout", func(c *Config) { c.Session.ConnectTimeout = -time.Second }, "session.connectTimeout"},
		{"endpoint", func(c *Config) { c.Credentials.Endpoint = "" }, "credentials.endpoint"},
		{"transport", func(c *Config) { c.Transport.Kind = "quic" }, "transport.kind"},
		{"audio", func(c *Config) { c.Audio.FrameDuration = 0 }, "audio"},
		{"logging", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Transport.Kind = "quic"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials.endpoint")
	assert.Contains(t, err.Error(), "transport.kind")
}

func TestOverrides_Apply(t *testing.T) {
	cfg := Default()
	Overrides{
		CredentialsEndpoint: "https://example.test/session",
		Transport:           TransportWebSocket,
		Modality:            "voice",
		LogLevel:            "debug",
		MetricsAddr:         ":9000",
	}.Apply(cfg)

	assert.Equal(t, "https://example.test/session", cfg.Credentials.Endpoint)
	assert.Equal(t, DefaultWebSocketURL, cfg.TransportURL())
	assert.Equal(t, "voice", cfg.Session.InitialModality)
	assert.Equal(t, "debug", cfg.Logging.DefaultLevel)
	assert.Equal(t, ":9000", cfg.Metrics.Addr)
	assert.Equal(t, "text", cfg.Logging.Format, "empty overrides leave values unchanged")
}

func TestSessionConfig(t *testing.T) {
	cfg := Default()
	cfg.Session.InitialModality = "voice"
	cfg.Session.Instructions = "Be brief."
	cfg.Gate.Enabled = testutil.Ptr(false)
	cfg.Gate.MicThresholdDB = testutil.Ptr(3.0)

	sc, err := cfg.SessionConfig()
	require.NoError(t, err)

	assert.Equal(t, session.ModalityTextAndAudio, sc.InitialModality)
	assert.Equal(t, "Be brief.", sc.Session.Instructions)
	assert.False(t, sc.Gate.Enabled)
	assert.Equal(t, 3.0, sc.Gate.MicThresholdDB)
	assert.Equal(t, audio.DefaultRemoteThresholdDB, sc.Gate.RemoteThresholdDB)
	assert.Equal(t, 13.0, sc.Gate.EffectiveMicThreshold())
	assert.Equal(t, cfg.Format(), sc.CaptureFormat)
	assert.Equal(t, session.DefaultConnectTimeout, sc.ConnectTimeout)
}

func TestSessionConfig_BadModality(t *testing.T) {
	cfg := Default()
	cfg.Session.InitialModality = "video"
	_, err := cfg.SessionConfig()
	assert.ErrorIs(t, err, session.ErrInvalidModality)
}

func TestFormat(t *testing.T) {
	cfg := Default()
	cfg.Audio = AudioConfig{SampleRate: 16000, FrameDuration: 10 * time.Millisecond}
	f := cfg.Format()
	assert.Equal(t, 1, f.Channels)
	assert.Equal(t, 160, f.FrameSamples)
}

func TestSchema_IsEmbedded(t *testing.T) {
	assert.Contains(t, string(Schema()), `"additionalProperties": false`)
}
