package protocol

import "fmt"

// Execution event types reported to the hub.
const (
	EventExecutionStarted = "execution_started"
	EventExecutionStopped = "execution_stopped"
	EventExecutionError   = "execution_error"
	EventExecutionDone    = "execution_done"
	EventThinkingDelta    = "thinking_delta"
	EventToolCall         = "tool_call"
	EventToolResult       = "tool_result"
	EventDiffGenerated    = "diff_generated"

	// Confirmation events exist in the schema for hub compatibility.
	// The worker never emits them: agent mode runs high-risk tools freely
	// and plan mode rejects them outright.
	EventConfirmationRequired = "confirmation_required"
	EventConfirmationResolved = "confirmation_resolved"
)

// Thinking delta stages (payload.stage on thinking_delta events).
const (
	StageModelCall        = "model_call"
	StageAssistantOutput  = "assistant_output"
	StageTurnLimitReached = "turn_limit_reached"
	StageRuntimeFallback  = "runtime_fallback"
)

// Terminal reasons carried on execution_stopped / execution_error payloads.
const (
	ReasonStopRequested     = "stop_requested"
	ReasonPlanModeRejected  = "PLAN_MODE_REJECTED"
	ReasonMaxTurnsReached   = "MAX_TURNS_REACHED"
	ReasonMaxTurnsExceeded  = "MAX_TURNS_EXCEEDED"
	ReasonRuntimeError      = "WORKER_RUNTIME_ERROR"
	ReasonOrchestratorError = "WORKER_ORCHESTRATOR_ERROR"
)

// Event is one ordered execution event as the hub expects it.
type Event struct {
	EventID        string         `json:"event_id"`
	ExecutionID    string         `json:"execution_id"`
	ConversationID string         `json:"conversation_id"`
	TraceID        string         `json:"trace_id"`
	Sequence       int            `json:"sequence"`
	QueueIndex     int            `json:"queue_index"`
	Type           string         `json:"type"`
	Timestamp      string         `json:"timestamp"`
	Payload        map[string]any `json:"payload"`
}

// EventBatch is the body of POST /internal/executions/{id}/events/batch.
type EventBatch struct {
	Events []Event `json:"events"`
}

// EventID derives the stable event identifier the hub dedupes on.
func EventID(executionID string, sequence int) string {
	return fmt.Sprintf("evt_%s_%d", executionID, sequence)
}

// IsTerminalEvent reports whether eventType ends an execution's stream.
func IsTerminalEvent(eventType string) bool {
	switch eventType {
	case EventExecutionDone, EventExecutionError, EventExecutionStopped:
		return true
	}
	return false
}
