package dialog

// ObservationStatus classifies the outcome of one tool execution.
type ObservationStatus string

// Observation statuses.
const (
	ObservationOK          ObservationStatus = "ok"
	ObservationFailed      ObservationStatus = "failed"
	ObservationTimeout     ObservationStatus = "timeout"
	ObservationCircuitOpen ObservationStatus = "circuit_open"
	ObservationDenied      ObservationStatus = "denied"
)

// Observation records the result of executing one tool call. The broker
// returns one observation per input call, in input order.
type Observation struct {
	Tool      string            `json:"tool"`
	Status    ObservationStatus `json:"status"`
	LatencyMs int64             `json:"latency_ms"`
	Attempts  int               `json:"attempts"`

	// Data is the parsed tool response body, present only on ok.
	Data map[string]any `json:"data,omitempty"`

	// ErrorKind classifies the failure (transport, http_4xx, http_5xx,
	// timeout, circuit_open, denied), present only on non-ok statuses.
	ErrorKind string `json:"error_kind,omitempty"`
}

// OK reports whether the observation succeeded.
func (o Observation) OK() bool { return o.Status == ObservationOK }

// AppendObservation appends obs to window, dropping the oldest entries so the
// result stays within limit.
func AppendObservation(window []Observation, obs Observation, limit int) []Observation {
	if limit <= 0 {
		limit = DefaultObservationWindow
	}
	window = append(window, obs)
	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window
}
