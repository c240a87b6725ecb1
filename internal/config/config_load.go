package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Runtime:          "vanilla",
			MaxConcurrency:   3,
			LeaseSeconds:     30,
			ClaimIntervalMS:  500,
			HeartbeatSeconds: 10,
			MaxModelTurns:    24,
			MaxSubagents:     3,
			ModelTimeoutMS:   30000,
		},
		Hub: HubConfig{
			BaseURL: "http://127.0.0.1:8787",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8788,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "goyais-worker",
		},
		Version: "0.0.0-dev",
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file is not an error: the worker is fully env-configurable.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.clamp()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.clamp()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("WORKER_ID", &c.Worker.ID)
	envStr("WORKER_RUNTIME", &c.Worker.Runtime)
	envInt("WORKER_MAX_CONCURRENCY", &c.Worker.MaxConcurrency)
	envInt("WORKER_LEASE_SECONDS", &c.Worker.LeaseSeconds)
	envInt("WORKER_CLAIM_INTERVAL_MS", &c.Worker.ClaimIntervalMS)
	envInt("WORKER_HEARTBEAT_SECONDS", &c.Worker.HeartbeatSeconds)
	envInt("WORKER_MAX_MODEL_TURNS", &c.Worker.MaxModelTurns)
	envInt("WORKER_MAX_SUBAGENTS", &c.Worker.MaxSubagents)
	envInt("WORKER_MODEL_TIMEOUT_MS", &c.Worker.ModelTimeoutMS)
	if FlagEnv("WORKER_DISABLE_CLAIM_LOOP") {
		c.Worker.DisableClaimLoop = true
	}
	envStr("WORKER_INTERNAL_TOKEN", &c.Worker.InternalToken)

	envStr("HUB_BASE_URL", &c.Hub.BaseURL)
	envStr("HUB_INTERNAL_TOKEN", &c.Hub.InternalToken)

	envStr("WORKER_HOST", &c.Server.Host)
	envInt("PORT", &c.Server.Port)

	envStr("GOYAIS_VERSION", &c.Version)

	if v := os.Getenv("GOYAIS_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	envStr("GOYAIS_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("GOYAIS_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("GOYAIS_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("GOYAIS_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// clamp enforces the documented floors and ranges after all overlays.
func (c *Config) clamp() {
	c.Worker.Runtime = strings.ToLower(strings.TrimSpace(c.Worker.Runtime))
	if c.Worker.Runtime == "" {
		c.Worker.Runtime = "vanilla"
	}
	if c.Worker.ID == "" {
		c.Worker.ID = "worker-" + uuid.NewString()[:8]
	}
	if c.Worker.MaxConcurrency < 1 {
		c.Worker.MaxConcurrency = 1
	}
	if c.Worker.LeaseSeconds < 10 {
		c.Worker.LeaseSeconds = 10
	}
	if c.Worker.ClaimIntervalMS < 100 {
		c.Worker.ClaimIntervalMS = 100
	}
	if c.Worker.HeartbeatSeconds < 3 {
		c.Worker.HeartbeatSeconds = 3
	}
	c.Worker.MaxModelTurns = ClampTurns(c.Worker.MaxModelTurns)
	if c.Worker.MaxSubagents < 1 {
		c.Worker.MaxSubagents = 1
	}
	if c.Worker.MaxSubagents > 3 {
		c.Worker.MaxSubagents = 3
	}
	c.Hub.BaseURL = strings.TrimRight(strings.TrimSpace(c.Hub.BaseURL), "/")
	if c.Hub.InternalToken == "" {
		c.Hub.InternalToken = DefaultInternalToken
	}
}

// ClampTurns forces a model turn cap into the supported [4, 64] range.
func ClampTurns(turns int) int {
	if turns < 4 {
		return 4
	}
	if turns > 64 {
		return 64
	}
	return turns
}

// ResolveInternalToken returns the token the worker's own endpoints expect.
// Empty means not configured (the API surface answers 503 until it is set),
// unless the insecure development default is explicitly allowed.
func (c *Config) ResolveInternalToken() string {
	if c.Worker.InternalToken != "" {
		return c.Worker.InternalToken
	}
	if AllowInsecureInternalToken() {
		return DefaultInternalToken
	}
	return ""
}

// AllowInsecureInternalToken reports whether the development default token
// may stand in for a real one.
func AllowInsecureInternalToken() bool {
	return FlagEnv("GOYAIS_ALLOW_INSECURE_INTERNAL_TOKEN")
}

// FlagEnv reports whether an env var holds a truthy flag value.
func FlagEnv(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
