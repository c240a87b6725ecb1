package protocol

// Conversation modes carried on execution snapshots.
const (
	ModeAgent = "agent"
	ModePlan  = "plan"
)

// ModelSnapshot is the model configuration frozen into an execution at
// enqueue time. Params carries vendor-specific knobs (temperature, top_p,
// max_output_tokens, timeout_ms, api_key).
type ModelSnapshot struct {
	ConfigID  string         `json:"config_id,omitempty"`
	Vendor    string         `json:"vendor,omitempty"`
	ModelID   string         `json:"model_id"`
	BaseURL   string         `json:"base_url,omitempty"`
	TimeoutMS int            `json:"timeout_ms,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// AgentConfigSnapshot is the agent behavior configuration frozen into an
// execution at enqueue time.
type AgentConfigSnapshot struct {
	MaxModelTurns    int    `json:"max_model_turns"`
	ShowProcessTrace bool   `json:"show_process_trace"`
	TraceDetailLevel string `json:"trace_detail_level"`
}

// Execution is the hub's record of one queued user message. The worker only
// reads the snapshot fields; everything else is informational.
//
// Older hubs named the identifier field "execution_id" or "run_id";
// EffectiveID resolves whichever is present.
type Execution struct {
	ID                  string               `json:"id"`
	ExecutionID         string               `json:"execution_id,omitempty"`
	RunID               string               `json:"run_id,omitempty"`
	WorkspaceID         string               `json:"workspace_id,omitempty"`
	ConversationID      string               `json:"conversation_id,omitempty"`
	MessageID           string               `json:"message_id,omitempty"`
	State               string               `json:"state,omitempty"`
	Mode                string               `json:"mode,omitempty"`
	Vendor              string               `json:"vendor,omitempty"`
	ModelID             string               `json:"model_id,omitempty"`
	ModeSnapshot        string               `json:"mode_snapshot,omitempty"`
	ModelSnapshot       ModelSnapshot        `json:"model_snapshot"`
	AgentConfigSnapshot *AgentConfigSnapshot `json:"agent_config_snapshot,omitempty"`
	QueueIndex          int                  `json:"queue_index"`
	TraceID             string               `json:"trace_id,omitempty"`
	CreatedAt           string               `json:"created_at,omitempty"`
	UpdatedAt           string               `json:"updated_at,omitempty"`
}

// EffectiveID returns the execution identifier regardless of which legacy
// field the hub populated. Emitted events always use this value.
func (e *Execution) EffectiveID() string {
	if e.ExecutionID != "" {
		return e.ExecutionID
	}
	if e.ID != "" {
		return e.ID
	}
	return e.RunID
}

// EffectiveMode returns the mode snapshot, falling back to the live mode,
// defaulting to agent.
func (e *Execution) EffectiveMode() string {
	if e.ModeSnapshot != "" {
		return e.ModeSnapshot
	}
	if e.Mode != "" {
		return e.Mode
	}
	return ModeAgent
}

// Lease describes the hub-side claim on an execution. The hub owns expiry
// and reassignment; workers never renew.
type Lease struct {
	ExecutionID    string `json:"execution_id"`
	WorkerID       string `json:"worker_id"`
	LeaseVersion   int    `json:"lease_version"`
	LeaseExpiresAt string `json:"lease_expires_at"`
	RunAttempt     int    `json:"run_attempt"`
}

// ClaimEnvelope is the immutable per-execution input handed to a worker by
// POST /internal/executions/claim.
type ClaimEnvelope struct {
	Execution    Execution `json:"execution"`
	Lease        Lease     `json:"lease"`
	Content      string    `json:"content"`
	ProjectName  string    `json:"project_name,omitempty"`
	ProjectPath  string    `json:"project_path,omitempty"`
	ProjectIsGit bool      `json:"project_is_git"`
}

// ClaimRequest is the body of POST /internal/executions/claim.
type ClaimRequest struct {
	WorkerID     string `json:"worker_id"`
	LeaseSeconds int    `json:"lease_seconds,omitempty"`
}

// ClaimResponse is the hub's answer to a claim attempt.
type ClaimResponse struct {
	Claimed   bool           `json:"claimed"`
	Execution *ClaimEnvelope `json:"execution,omitempty"`
}

// RegisterRequest is the body of POST /internal/workers/register.
type RegisterRequest struct {
	WorkerID     string         `json:"worker_id"`
	Capabilities map[string]any `json:"capabilities"`
}

// HeartbeatRequest is the body of POST /internal/workers/{id}/heartbeat.
type HeartbeatRequest struct {
	Status string `json:"status"`
}

// CommitRequest asks the worker to commit a worktree lane's staged state.
type CommitRequest struct {
	WorktreeRoot string `json:"worktree_root"`
	Message      string `json:"message"`
	GitName      string `json:"git_name,omitempty"`
	GitEmail     string `json:"git_email,omitempty"`
}

// CommitResponse carries the resulting commit SHA.
type CommitResponse struct {
	CommitSHA string `json:"commit_sha"`
}

// DiscardRequest asks the worker to drop an execution's worktree lane.
type DiscardRequest struct {
	RepoRoot string `json:"repo_root"`
}

// DiscardResponse acknowledges a discard.
type DiscardResponse struct {
	Status string `json:"status"`
}
