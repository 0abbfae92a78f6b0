// Package prometheus exports realtime session metrics to Prometheus.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rtsession"

var (
	// stateTransitionsTotal counts published session state changes.
	stateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of published session state transitions",
		},
		[]string{"from", "to"},
	)

	// sessionsConnected is the number of sessions currently connected.
	sessionsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_connected",
			Help:      "Number of sessions currently in the connected state",
		},
	)

	// retriesScheduledTotal counts scheduled reconnection attempts.
	retriesScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Total number of scheduled reconnection attempts",
		},
	)

	// modalitySwitchesTotal counts completed modality switches.
	modalitySwitchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modality_switches_total",
			Help:      "Total number of completed modality switches",
		},
		[]string{"to"},
	)

	// negotiationDuration is a histogram of transport negotiation time.
	negotiationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_duration_seconds",
			Help:      "Duration of transport negotiations in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 15},
		},
		[]string{"transport", "status"},
	)

	// negotiationsTotal counts negotiation outcomes.
	negotiationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiations_total",
			Help:      "Total number of transport negotiations",
		},
		[]string{"transport", "status", "phase"}, // status: success, error; phase is empty on success
	)

	// credentialFetchesTotal counts credential lookups.
	credentialFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_fetches_total",
			Help:      "Total number of credential lookups",
		},
		[]string{"modality", "source"}, // source: cache, endpoint, error
	)

	// credentialFetchDuration is a histogram of credential endpoint latency.
	credentialFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credential_fetch_duration_seconds",
			Help:      "Duration of credential endpoint requests in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"modality"},
	)

	// toolCallDuration is a histogram of tool call duration.
	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool calls in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"tool"},
	)

	// toolCallsTotal is a counter of tool calls.
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool", "status"}, // status: success, error
	)

	// gateEvaluationsTotal counts gate ticks by decision. The open ratio is
	// rate(open) / rate(open + closed).
	gateEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_evaluations_total",
			Help:      "Total number of gate evaluations by decision",
		},
		[]string{"decision"}, // decision: open, closed
	)

	// gateOpen is 1 while the microphone gate is open.
	gateOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_open",
			Help:      "1 while the microphone gate is open",
		},
	)

	// levelDB holds the latest mic and remote levels.
	levelDB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "level_dbfs",
			Help:      "Latest audio level in dBFS",
		},
		[]string{"source"}, // source: mic, remote
	)

	// serverErrorsTotal counts error events sent by the remote service.
	serverErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_errors_total",
			Help:      "Total number of error events received from the realtime service",
		},
		[]string{"type"},
	)

	// parseErrorsTotal counts inbound messages that could not be parsed.
	parseErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Total number of inbound messages that could not be parsed",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		stateTransitionsTotal,
		sessionsConnected,
		retriesScheduledTotal,
		modalitySwitchesTotal,
		negotiationDuration,
		negotiationsTotal,
		credentialFetchesTotal,
		credentialFetchDuration,
		toolCallDuration,
		toolCallsTotal,
		gateEvaluationsTotal,
		gateOpen,
		levelDB,
		serverErrorsTotal,
		parseErrorsTotal,
	}
)

// RecordStateTransition records a published state change and keeps the
// connected-sessions gauge in step.
func RecordStateTransition(from, to string) {
	stateTransitionsTotal.WithLabelValues(from, to).Inc()
	if to == stateConnected {
		sessionsConnected.Inc()
	}
	if from == stateConnected {
		sessionsConnected.Dec()
	}
}

// RecordRetryScheduled records a scheduled reconnection.
func RecordRetryScheduled() {
	retriesScheduledTotal.Inc()
}

// RecordModalitySwitch records a completed modality switch.
func RecordModalitySwitch(to string) {
	modalitySwitchesTotal.WithLabelValues(to).Inc()
}

// RecordNegotiation records a negotiation outcome. phase is empty on success.
func RecordNegotiation(transport, status, phase string, durationSeconds float64) {
	negotiationDuration.WithLabelValues(transport, status).Observe(durationSeconds)
	negotiationsTotal.WithLabelValues(transport, status, phase).Inc()
}

// RecordCredentialFetch records a credential lookup. Durations are only
// observed for endpoint requests.
func RecordCredentialFetch(modality, source string, durationSeconds float64) {
	credentialFetchesTotal.WithLabelValues(modality, source).Inc()
	if source == sourceEndpoint {
		credentialFetchDuration.WithLabelValues(modality).Observe(durationSeconds)
	}
}

// RecordToolCall records a tool call.
func RecordToolCall(toolName, status string, durationSeconds float64) {
	toolCallDuration.WithLabelValues(toolName).Observe(durationSeconds)
	toolCallsTotal.WithLabelValues(toolName, status).Inc()
}

// RecordGate records one gate evaluation.
func RecordGate(open bool, micDB, remoteDB float64) {
	if open {
		gateEvaluationsTotal.WithLabelValues(decisionOpen).Inc()
		gateOpen.Set(1)
	} else {
		gateEvaluationsTotal.WithLabelValues(decisionClosed).Inc()
		gateOpen.Set(0)
	}
	levelDB.WithLabelValues("mic").Set(micDB)
	levelDB.WithLabelValues("remote").Set(remoteDB)
}

// RecordServerError records an error event from the remote service.
func RecordServerError(errType string) {
	serverErrorsTotal.WithLabelValues(errType).Inc()
}

// RecordParseError records an unparseable inbound message.
func RecordParseError() {
	parseErrorsTotal.Inc()
}
