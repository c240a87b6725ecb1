package protocol

// Control command types delivered via the long-poll control channel.
const (
	CommandStop = "stop"
)

// ControlCommand is one hub→worker command for a running execution.
type ControlCommand struct {
	ID          string         `json:"id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Seq         int            `json:"seq,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty"`
}

// ControlPollResponse is the body of
// GET /internal/executions/{id}/control?after_seq=N&wait_ms=M.
type ControlPollResponse struct {
	Commands []ControlCommand `json:"commands"`
	LastSeq  int              `json:"last_seq"`
}
