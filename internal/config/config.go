package config

// DefaultInternalToken is the well-known development token shared by hub and
// worker when GOYAIS_ALLOW_INSECURE_INTERNAL_TOKEN permits running without
// explicit tokens. Never valid in production setups.
const DefaultInternalToken = "goyais-internal-token"

// Config is the root configuration for a goyais worker process.
type Config struct {
	Worker    WorkerConfig    `json:"worker"`
	Hub       HubConfig       `json:"hub"`
	Server    ServerConfig    `json:"server"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	// Version reported by /health and the version command.
	// From env GOYAIS_VERSION only.
	Version string `json:"-"`
}

// WorkerConfig tunes the claim loop and the per-execution runtime.
type WorkerConfig struct {
	ID               string `json:"id,omitempty"`       // ephemeral unless pinned via WORKER_ID
	Runtime          string `json:"runtime,omitempty"`  // "vanilla" or "langgraph"
	MaxConcurrency   int    `json:"max_concurrency"`    // parallel executions, >= 1
	LeaseSeconds     int    `json:"lease_seconds"`      // claim lease horizon, >= 10
	ClaimIntervalMS  int    `json:"claim_interval_ms"`  // pacing between claim attempts, >= 100
	HeartbeatSeconds int    `json:"heartbeat_seconds"`  // heartbeat cadence, >= 3
	MaxModelTurns    int    `json:"max_model_turns"`    // default turn cap, clamped to [4,64]
	MaxSubagents     int    `json:"max_subagents"`      // subagent pool size, clamped to [1,3]
	ModelTimeoutMS   int    `json:"model_timeout_ms"`   // default model HTTP timeout
	DisableClaimLoop bool   `json:"disable_claim_loop,omitempty"`
	InternalToken    string `json:"-"` // from env WORKER_INTERNAL_TOKEN only
}

// HubConfig locates the hub and authenticates against it.
type HubConfig struct {
	BaseURL       string `json:"base_url"`
	InternalToken string `json:"-"` // from env HUB_INTERNAL_TOKEN only
}

// ServerConfig configures the worker's own HTTP surface.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// TelemetryConfig configures optional OpenTelemetry trace export.
// When enabled, spans are exported to an OTLP-compatible backend.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`     // host:port of the OTLP receiver
	Protocol    string `json:"protocol,omitempty"`     // "grpc" or "http" (default)
	Insecure    bool   `json:"insecure,omitempty"`     // plaintext export
	ServiceName string `json:"service_name,omitempty"` // default "goyais-worker"
}

// EffectiveRuntime returns the engine implementation to use. The langgraph
// runtime is declared but not shipped; it falls back to vanilla and the
// engine emits a runtime_fallback notice.
func (w WorkerConfig) EffectiveRuntime() string {
	return "vanilla"
}

// RuntimeFallback reports whether the configured runtime differs from the
// effective one.
func (w WorkerConfig) RuntimeFallback() bool {
	return w.Runtime == "langgraph"
}
