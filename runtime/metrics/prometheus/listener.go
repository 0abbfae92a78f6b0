package prometheus

import (
	"github.com/AltairaLabs/rtsession/runtime/events"
)

// Label values.
const (
	statusSuccess  = "success"
	statusError    = "error"
	stateConnected = "connected"
	sourceCache    = "cache"
	sourceEndpoint = "endpoint"
	decisionOpen   = "open"
	decisionClosed = "closed"
)

// MetricsListener records session events as Prometheus metrics.
// It implements the events.Listener signature and should be registered
// with an EventBus using SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
func (l *MetricsListener) Handle(event *events.Event) {
	if event == nil {
		return
	}
	//exhaustive:ignore
	switch data := event.Data.(type) {
	case events.StateChangedData:
		RecordStateTransition(data.From, data.To)
	case events.RetryScheduledData:
		RecordRetryScheduled()
	case events.ModalityChangedData:
		RecordModalitySwitch(data.To)
	case events.NegotiationCompletedData:
		RecordNegotiation(data.Transport, statusSuccess, "", data.Duration.Seconds())
	case events.NegotiationFailedData:
		RecordNegotiation(data.Transport, statusError, data.Phase, data.Duration.Seconds())
	case events.CredentialFetchedData:
		l.handleCredentialFetched(data)
	case events.CredentialFailedData:
		RecordCredentialFetch(data.Modality, statusError, 0)
	case events.ToolCallCompletedData:
		RecordToolCall(data.ToolName, statusSuccess, data.Duration.Seconds())
	case events.ToolCallFailedData:
		RecordToolCall(data.ToolName, statusError, data.Duration.Seconds())
	case events.GateUpdatedData:
		RecordGate(data.Open, data.DisplayLevelDB, data.RemoteLevelDB)
	case events.ServerErrorData:
		RecordServerError(data.Type)
	case events.ParseErrorData:
		RecordParseError()
	default:
		// Ignore events that don't have metrics
	}
}

func (l *MetricsListener) handleCredentialFetched(data events.CredentialFetchedData) {
	source := sourceEndpoint
	if data.Cached {
		source = sourceCache
	}
	RecordCredentialFetch(data.Modality, source, data.Duration.Seconds())
}

// Listener returns an events.Listener function that can be registered with an EventBus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
