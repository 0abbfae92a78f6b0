package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/rtsession/pkg/config"
	"github.com/AltairaLabs/rtsession/runtime/capture"
	"github.com/AltairaLabs/rtsession/runtime/credentials"
	"github.com/AltairaLabs/rtsession/runtime/events"
	"github.com/AltairaLabs/rtsession/runtime/logger"
	"github.com/AltairaLabs/rtsession/runtime/media/opus"
	"github.com/AltairaLabs/rtsession/runtime/metrics/prometheus"
	"github.com/AltairaLabs/rtsession/runtime/session"
	"github.com/AltairaLabs/rtsession/runtime/telemetry"
	"github.com/AltairaLabs/rtsession/runtime/tools"
	"github.com/AltairaLabs/rtsession/runtime/transport"
	"github.com/AltairaLabs/rtsession/runtime/transport/webrtc"
	"github.com/AltairaLabs/rtsession/runtime/transport/websocket"
)

// audioDevices are the local microphone and speaker. A zero value means no
// audio hardware: voice mode reports the device as unavailable.
type audioDevices struct {
	capture capture.Device
	speaker capture.Sink
	close   func()
}

// app owns one session and its supporting services.
type app struct {
	id       string
	bus      *events.EventBus
	ctrl     *session.Controller
	exporter *prometheus.Exporter
	tp       *sdktrace.TracerProvider
	spans    *telemetry.OTelEventListener
	audio    audioDevices
}

func newApp(ctx context.Context, cfg *config.Config, dev audioDevices) (*app, error) {
	a := &app{id: uuid.NewString(), bus: events.NewEventBus(), audio: dev}
	if a.audio.capture == nil {
		a.audio.capture = capture.Unavailable
	}

	var tp trace.TracerProvider
	if cfg.Telemetry.Endpoint != "" {
		provider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create tracer provider: %w", err)
		}
		telemetry.SetupPropagation()
		a.tp = provider
		tp = provider
		a.spans = telemetry.NewOTelEventListener(telemetry.Tracer(provider))
		a.spans.StartSession(ctx, a.id)
		a.bus.SubscribeAll(a.spans.Listener())
	}

	if cfg.Metrics.Addr != "" {
		a.exporter = prometheus.NewExporter(cfg.Metrics.Addr)
		a.bus.SubscribeAll(prometheus.NewMetricsListener().Listener())
		go func() {
			if err := a.exporter.Serve(ctx); err != nil {
				logger.Error("Metrics exporter stopped", "error", err)
			}
		}()
	}

	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		return nil, err
	}

	fetcher := credentials.NewHTTPFetcher(cfg.Credentials.Endpoint,
		credentials.WithCredential(credentials.ResolveCredential("", cfg.Credentials.APIKeyEnv)),
		credentials.WithRequestTimeout(cfg.Credentials.RequestTimeout),
	)
	cacheOpts := []credentials.CacheOption{
		credentials.WithTTL(cfg.Credentials.TTL),
		credentials.WithEmitter(events.NewEmitter(a.bus, a.id)),
	}
	sessOpts := []session.Option{session.WithSessionID(a.id)}
	if tp != nil {
		cacheOpts = append(cacheOpts, credentials.WithTracerProvider(tp))
		sessOpts = append(sessOpts, session.WithTracerProvider(tp))
	}

	registry := tools.NewRegistry()
	if err := registerBuiltinTools(registry); err != nil {
		return nil, err
	}

	a.ctrl, err = session.New(sessCfg, session.Deps{
		Credentials: credentials.NewCache(fetcher, cacheOpts...),
		Negotiator:  newNegotiator(cfg),
		Capture:     a.audio.capture,
		Speaker:     a.audio.speaker,
		Tools:       registry,
		Bus:         a.bus,
	}, sessOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newNegotiator builds the transport selected by cfg.
func newNegotiator(cfg *config.Config) transport.Negotiator {
	if cfg.Transport.Kind == config.TransportWebSocket {
		var opts []websocket.Option
		if cfg.Transport.Heartbeat > 0 {
			opts = append(opts, websocket.WithHeartbeat(cfg.Transport.Heartbeat))
		}
		return websocket.New(cfg.TransportURL(), opts...)
	}
	return webrtc.New(cfg.TransportURL(),
		webrtc.WithICEServers(cfg.Transport.ICEServers...),
		webrtc.WithCodec(opus.Codec{}),
		webrtc.WithFormat(cfg.Format()),
	)
}

var clockParameters = json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string"}}}`)

// registerBuiltinTools exposes a clock so tool calls can be tried without
// extra setup.
func registerBuiltinTools(r *tools.Registry) error {
	return r.Register("get_current_time", func(_ context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Timezone string `json:"timezone"`
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
		}
		loc := time.Local
		if in.Timezone != "" {
			l, err := time.LoadLocation(in.Timezone)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
			}
			loc = l
		}
		return map[string]string{"time": time.Now().In(loc).Format(time.RFC3339)}, nil
	},
		tools.WithDescription("Returns the current time, optionally in an IANA timezone."),
		tools.WithParameters(clockParameters),
	)
}

// Subscribe registers a listener on the session's event bus.
func (a *app) Subscribe(l events.Listener) func() {
	return a.ctrl.Subscribe(l)
}

// Close stops the session and releases every supporting service.
func (a *app) Close() {
	if err := a.ctrl.Close(); err != nil {
		logger.Warn("Session close reported errors", "error", err)
	}
	a.bus.Flush()
	if a.spans != nil {
		a.spans.EndSession(a.id)
	}
	if a.tp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tp.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("Tracer provider shutdown failed", "error", err)
		}
		cancel()
	}
	if a.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.exporter.Shutdown(ctx)
		cancel()
	}
	a.bus.Close()
	if a.audio.close != nil {
		a.audio.close()
	}
}
