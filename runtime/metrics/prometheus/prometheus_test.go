package prometheus

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AltairaLabs/rtsession/runtime/events"
)

func TestRecordStateTransition(t *testing.T) {
	stateTransitionsTotal.Reset()
	sessionsConnected.Set(0)

	RecordStateTransition("idle", "connecting")
	RecordStateTransition("connecting", "connected")

	if got := testutil.ToFloat64(sessionsConnected); got != 1 {
		t.Errorf("Expected 1 connected session, got %f", got)
	}

	RecordStateTransition("connected", "reconnecting")
	if got := testutil.ToFloat64(sessionsConnected); got != 0 {
		t.Errorf("Expected 0 connected sessions, got %f", got)
	}

	if got := testutil.ToFloat64(stateTransitionsTotal.WithLabelValues("connecting", "connected")); got != 1 {
		t.Errorf("Expected 1 connecting->connected transition, got %f", got)
	}
}

func TestRecordNegotiation(t *testing.T) {
	negotiationDuration.Reset()
	negotiationsTotal.Reset()

	RecordNegotiation("webrtc", statusSuccess, "", 0.8)
	RecordNegotiation("webrtc", statusError, "exchange", 0.3)
	RecordNegotiation("webrtc", statusError, "exchange", 0.2)

	if got := testutil.ToFloat64(negotiationsTotal.WithLabelValues("webrtc", statusError, "exchange")); got != 2 {
		t.Errorf("Expected 2 failed negotiations, got %f", got)
	}
	if count := testutil.CollectAndCount(negotiationDuration); count != 2 {
		t.Errorf("Expected 2 duration series, got %d", count)
	}
}

func TestRecordCredentialFetch(t *testing.T) {
	credentialFetchesTotal.Reset()
	credentialFetchDuration.Reset()

	RecordCredentialFetch("text", sourceEndpoint, 0.1)
	RecordCredentialFetch("text", sourceCache, 0)
	RecordCredentialFetch("text", sourceCache, 0)

	if got := testutil.ToFloat64(credentialFetchesTotal.WithLabelValues("text", sourceCache)); got != 2 {
		t.Errorf("Expected 2 cache hits, got %f", got)
	}
	if count := testutil.CollectAndCount(credentialFetchDuration); count != 1 {
		t.Errorf("Expected duration only for endpoint fetches, got %d series", count)
	}
}

func TestRecordGate(t *testing.T) {
	gateEvaluationsTotal.Reset()
	levelDB.Reset()

	RecordGate(true, -20, -80)
	RecordGate(false, -60, -80)
	RecordGate(false, -60, -30)

	if got := testutil.ToFloat64(gateEvaluationsTotal.WithLabelValues(decisionClosed)); got != 2 {
		t.Errorf("Expected 2 closed evaluations, got %f", got)
	}
	if got := testutil.ToFloat64(gateOpen); got != 0 {
		t.Errorf("Expected gate_open 0, got %f", got)
	}
	if got := testutil.ToFloat64(levelDB.WithLabelValues("remote")); got != -30 {
		t.Errorf("Expected remote level -30, got %f", got)
	}
}

func TestRecordToolCall(t *testing.T) {
	toolCallDuration.Reset()
	toolCallsTotal.Reset()

	RecordToolCall("get_weather", statusSuccess, 0.1)
	RecordToolCall("get_weather", statusError, 0.2)

	if got := testutil.ToFloat64(toolCallsTotal.WithLabelValues("get_weather", statusSuccess)); got != 1 {
		t.Errorf("Expected 1 successful call, got %f", got)
	}
}

func TestMetricsListener(t *testing.T) {
	stateTransitionsTotal.Reset()
	negotiationsTotal.Reset()
	credentialFetchesTotal.Reset()
	toolCallsTotal.Reset()
	serverErrorsTotal.Reset()
	modalitySwitchesTotal.Reset()
	retriesScheduledBefore := testutil.ToFloat64(retriesScheduledTotal)
	parseErrorsBefore := testutil.ToFloat64(parseErrorsTotal)

	listener := NewMetricsListener()
	for _, data := range []events.EventData{
		events.StateChangedData{From: "idle", To: "connecting"},
		events.RetryScheduledData{Attempt: 1, Delay: time.Second},
		events.ModalityChangedData{From: "text", To: "text_and_audio"},
		events.NegotiationCompletedData{Transport: "webrtc", Attempt: 1, Duration: time.Second},
		events.NegotiationFailedData{Transport: "webrtc", Attempt: 1, Phase: "gather", Error: errors.New("x")},
		events.CredentialFetchedData{Modality: "text", Cached: true},
		events.CredentialFailedData{Modality: "text", Reason: "rejected"},
		events.ToolCallCompletedData{ToolName: "clock", Duration: time.Millisecond},
		events.ToolCallFailedData{ToolName: "clock", Duration: time.Millisecond},
		events.ServerErrorData{Type: "invalid_request_error"},
		events.ParseErrorData{Raw: "{", Error: errors.New("bad")},
	} {
		listener.Handle(&events.Event{Data: data})
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"state", testutil.ToFloat64(stateTransitionsTotal.WithLabelValues("idle", "connecting")), 1},
		{"retry", testutil.ToFloat64(retriesScheduledTotal) - retriesScheduledBefore, 1},
		{"modality", testutil.ToFloat64(modalitySwitchesTotal.WithLabelValues("text_and_audio")), 1},
		{"negotiation ok", testutil.ToFloat64(negotiationsTotal.WithLabelValues("webrtc", statusSuccess, "")), 1},
		{"negotiation failed", testutil.ToFloat64(negotiationsTotal.WithLabelValues("webrtc", statusError, "gather")), 1},
		{"credential cache", testutil.ToFloat64(credentialFetchesTotal.WithLabelValues("text", sourceCache)), 1},
		{"credential error", testutil.ToFloat64(credentialFetchesTotal.WithLabelValues("text", statusError)), 1},
		{"tool ok", testutil.ToFloat64(toolCallsTotal.WithLabelValues("clock", statusSuccess)), 1},
		{"tool failed", testutil.ToFloat64(toolCallsTotal.WithLabelValues("clock", statusError)), 1},
		{"server error", testutil.ToFloat64(serverErrorsTotal.WithLabelValues("invalid_request_error")), 1},
		{"parse error", testutil.ToFloat64(parseErrorsTotal) - parseErrorsBefore, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %f, got %f", c.name, c.want, c.got)
		}
	}
}

func TestMetricsListenerFromBus(t *testing.T) {
	toolCallsTotal.Reset()

	bus := events.NewEventBus()
	defer bus.Close()
	bus.SubscribeAll(NewMetricsListener().Listener())

	emitter := events.NewEmitter(bus, "sess-1")
	emitter.ToolCallCompleted("lookup", "call_1", 10*time.Millisecond)
	bus.Flush()

	if got := testutil.ToFloat64(toolCallsTotal.WithLabelValues("lookup", statusSuccess)); got != 1 {
		t.Errorf("Expected 1 tool call from the bus, got %f", got)
	}
}

func TestMetricsListenerIgnoresUnknownEvents(t *testing.T) {
	listener := NewMetricsListener()
	listener.Handle(nil)
	listener.Handle(&events.Event{Type: events.EventConversationUpdated, Data: events.ConversationUpdatedData{}})
	listener.Handle(&events.Event{Type: events.EventStateChanged})
}

func TestNewExporter(t *testing.T) {
	exporter := NewExporter(":0")
	if exporter.Registry() == nil {
		t.Fatal("Expected non-nil registry")
	}

	RecordParseError()
	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "rtsession_parse_errors_total") {
		t.Error("Expected session metrics in the exposition")
	}
}

func TestExporterHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "Test counter"})
	reg.MustRegister(counter)
	counter.Inc()

	exporter := NewExporterWithRegistry(":0", reg)
	if exporter.Registry() != reg {
		t.Error("Expected custom registry to be used")
	}

	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	resp := rec.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "test_counter") {
		t.Error("Expected response to contain test_counter metric")
	}
}

func TestExporterRegister(t *testing.T) {
	exporter := NewExporterWithRegistry(":0", prometheus.NewRegistry())
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "custom_counter", Help: "Custom counter"})

	if err := exporter.Register(counter); err != nil {
		t.Errorf("Expected no error registering counter, got %v", err)
	}
	if err := exporter.Register(counter); err == nil {
		t.Error("Expected error when registering duplicate counter")
	}
}

func TestExporterServe(t *testing.T) {
	exporter := NewExporterWithRegistry("127.0.0.1:0", prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- exporter.Serve(ctx) }()

	time.Sleep(100 * time.Millisecond)
	if err := exporter.Start(); err != nil {
		t.Errorf("Expected nil on double start, got %v", err)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for server to stop")
	}
}
