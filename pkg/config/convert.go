package config

import (
	"time"

	"github.com/AltairaLabs/rtsession/runtime/audio"
	"github.com/AltairaLabs/rtsession/runtime/media"
	"github.com/AltairaLabs/rtsession/runtime/protocol"
	"github.com/AltairaLabs/rtsession/runtime/session"
	"github.com/AltairaLabs/rtsession/runtime/transport/webrtc"
)

// Format returns the capture format described by the audio section.
func (c *Config) Format() media.Format {
	f := media.Format{SampleRate: c.Audio.SampleRate, Channels: c.Audio.Channels}
	if f.Channels == 0 {
		f.Channels = 1
	}
	if c.Audio.FrameDuration > 0 {
		f.FrameSamples = int(int64(f.SampleRate) * int64(c.Audio.FrameDuration) / int64(time.Second))
	}
	return f
}

// SessionConfig converts the session, gate and audio sections into a
// session.Config. The configuration must have passed Validate.
func (c *Config) SessionConfig() (session.Config, error) {
	modality, err := session.ParseModality(c.Session.InitialModality)
	if err != nil {
		return session.Config{}, err
	}

	opts := protocol.DefaultSessionOptions()
	opts.Instructions = c.Session.Instructions
	if c.Session.Voice != "" {
		opts.Voice = c.Session.Voice
	}
	if c.Session.Temperature > 0 {
		opts.Temperature = c.Session.Temperature
	}
	if c.Session.TranscriptionModel != "" {
		opts.TranscriptionModel = c.Session.TranscriptionModel
	}

	gate := audio.DefaultGateConfig()
	gate.Enabled = c.Gate.GateEnabled()
	if c.Gate.MicThresholdDB != nil {
		gate.MicThresholdDB = *c.Gate.MicThresholdDB
	}
	if c.Gate.RemoteThresholdDB != nil {
		gate.RemoteThresholdDB = *c.Gate.RemoteThresholdDB
	}
	if c.Gate.MarginDB > 0 {
		gate.MarginDB = c.Gate.MarginDB
	}

	return session.Config{
		Model:            c.Session.Model,
		InitialModality:  modality,
		ConnectTimeout:   c.Session.ConnectTimeout,
		ConnectDebounce:  c.Session.ConnectDebounce,
		PublishInterval:  c.Session.PublishInterval,
		MaxAttempts:      c.Session.MaxAttempts,
		BackoffBase:      c.Session.BackoffBase,
		BackoffMax:       c.Session.BackoffMax,
		Session:          opts,
		Gate:             gate,
		GateTick:         c.Gate.Tick,
		CaptureFormat:    c.Format(),
		RemoteStaleAfter: c.Gate.RemoteStaleAfter,
	}, nil
}

// TransportURL returns the configured endpoint, or the default for the transport kind.
func (c *Config) TransportURL() string {
	if c.Transport.URL != "" {
		return c.Transport.URL
	}
	if c.Transport.Kind == TransportWebSocket {
		return DefaultWebSocketURL
	}
	return webrtc.DefaultEndpoint
}
