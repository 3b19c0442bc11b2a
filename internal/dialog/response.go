package dialog

// Route identifies which decision path handled a request.
type Route string

// Routes recorded in telemetry.
const (
	RouteSLMPipeline Route = "slm_pipeline"
	RouteLegacy      Route = "legacy"
	RouteError       Route = "error"
)

// Assistant is the user-facing portion of a decide response.
type Assistant struct {
	Text             string   `json:"text"`
	SuggestedReplies []string `json:"suggested_replies,omitempty"`
}

// Telemetry carries per-stage timings and routing facts for one request.
type Telemetry struct {
	Route       Route   `json:"route"`
	ExtractorMs int64   `json:"extractor_ms"`
	PlannerMs   int64   `json:"planner_ms"`
	PolicyMs    int64   `json:"policy_ms"`
	BrokerMs    int64   `json:"broker_ms"`
	ReducerMs   int64   `json:"reducer_ms"`
	NLGMs       int64   `json:"nlg_ms"`
	TotalMs     int64   `json:"total_ms"`
	Intent      Intent  `json:"intent,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// DecideResponse is the full answer to one decide request. ToolCalls lists
// only the externally observable side-effecting calls the workflow engine
// must record; read-only calls the broker already executed are not repeated.
type DecideResponse struct {
	Assistant Assistant  `json:"assistant"`
	ToolCalls []ToolCall `json:"tool_calls"`
	Patch     Patch      `json:"patch"`
	Telemetry Telemetry  `json:"telemetry"`
}
