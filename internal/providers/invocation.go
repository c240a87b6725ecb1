package providers

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goyais/worker/pkg/protocol"
)

// DefaultTimeoutMS bounds a model turn when neither the snapshot nor the
// environment says otherwise.
const DefaultTimeoutMS = 30000

// Timeout clamp range in milliseconds.
const (
	minTimeoutMS = 1000
	maxTimeoutMS = 120000
)

var defaultBaseURLs = map[string]string{
	"openai":  "https://api.openai.com/v1",
	"google":  "https://generativelanguage.googleapis.com/v1beta",
	"qwen":    "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"doubao":  "https://ark.cn-beijing.volces.com/api/v3",
	"zhipu":   "https://open.bigmodel.cn/api/paas/v4",
	"minimax": "https://api.minimax.chat/v1",
	"local":   "http://127.0.0.1:11434/v1",
}

var apiKeyEnvByVendor = map[string]string{
	"openai":  "OPENAI_API_KEY",
	"google":  "GOOGLE_API_KEY",
	"qwen":    "QWEN_API_KEY",
	"doubao":  "DOUBAO_API_KEY",
	"zhipu":   "ZHIPU_API_KEY",
	"minimax": "MINIMAX_API_KEY",
	"local":   "",
}

// passthroughParamKeys are snapshot params forwarded verbatim to
// OpenAI-compatible request bodies.
var passthroughParamKeys = []string{
	"temperature", "top_p", "max_tokens", "presence_penalty", "frequency_penalty",
}

// Invocation is the fully resolved model call configuration for one
// execution. It never changes after resolution: snapshots are immutable.
type Invocation struct {
	Vendor    string
	ModelID   string
	BaseURL   string
	APIKey    string
	TimeoutMS int
	Params    map[string]any
}

// ResolveInvocation freezes the model call parameters from an execution's
// model snapshot, falling back to environment configuration. The api_key
// param is consumed here and never kept on the invocation params.
func ResolveInvocation(exec *protocol.Execution) (*Invocation, error) {
	snapshot := exec.ModelSnapshot
	params := snapshot.Params
	if params == nil {
		params = map[string]any{}
	}

	modelID := strings.TrimSpace(snapshot.ModelID)
	if modelID == "" {
		modelID = strings.TrimSpace(exec.ModelID)
	}
	if modelID == "" {
		return nil, newAdapterError(ErrCodeModelIDRequired, "model_id is required for model invocation")
	}

	rawVendor := firstNonEmpty(
		snapshot.Vendor,
		stringParam(params, "vendor"),
		exec.Vendor,
	)
	if rawVendor == "" {
		rawVendor = inferVendor(modelID)
	}
	vendor := normalizeVendor(rawVendor)

	baseURL := firstNonEmpty(
		snapshot.BaseURL,
		stringParam(params, "base_url"),
		defaultBaseURLs[vendor],
		defaultBaseURLs["openai"],
	)
	if baseURL == "" {
		return nil, newAdapterError(ErrCodeModelBaseURLRequired, "base_url is required for model invocation")
	}

	apiKey := resolveAPIKey(vendor, params)
	if vendor != "local" && apiKey == "" {
		return nil, &AdapterError{
			Code:    ErrCodeModelAPIKeyMissing,
			Message: fmt.Sprintf("api_key is required for vendor=%s", vendor),
			Details: map[string]any{"vendor": vendor},
		}
	}

	kept := make(map[string]any, len(params))
	for k, v := range params {
		if k == "api_key" {
			continue
		}
		kept[k] = v
	}

	return &Invocation{
		Vendor:    vendor,
		ModelID:   modelID,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		TimeoutMS: resolveTimeoutMS(snapshot.TimeoutMS, params),
		Params:    kept,
	}, nil
}

func resolveAPIKey(vendor string, params map[string]any) string {
	if key := stringParam(params, "api_key"); key != "" {
		return key
	}
	if envKey := apiKeyEnvByVendor[vendor]; envKey != "" {
		if key := strings.TrimSpace(os.Getenv(envKey)); key != "" {
			return key
		}
	}
	return strings.TrimSpace(os.Getenv("MODEL_API_KEY"))
}

func resolveTimeoutMS(snapshotMS int, params map[string]any) int {
	timeout := snapshotMS
	if timeout == 0 {
		timeout = intParam(params, "timeout_ms")
	}
	if timeout == 0 {
		if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("WORKER_MODEL_TIMEOUT_MS"))); err == nil {
			timeout = v
		}
	}
	if timeout == 0 {
		timeout = DefaultTimeoutMS
	}
	if timeout < minTimeoutMS {
		return minTimeoutMS
	}
	if timeout > maxTimeoutMS {
		return maxTimeoutMS
	}
	return timeout
}

// inferVendor guesses the vendor from a model identifier. Ollama-style ids
// ("llama3:8b") count as local.
func inferVendor(modelID string) string {
	normalized := strings.ToLower(modelID)
	switch {
	case strings.HasPrefix(normalized, "gemini"):
		return "google"
	case strings.Contains(normalized, "qwen"):
		return "qwen"
	case strings.Contains(normalized, "doubao"), strings.Contains(normalized, "ark"):
		return "doubao"
	case strings.HasPrefix(normalized, "glm"), strings.Contains(normalized, "zhipu"):
		return "zhipu"
	case strings.Contains(normalized, "minimax"):
		return "minimax"
	case strings.Contains(normalized, ":"):
		return "local"
	}
	return "openai"
}

func normalizeVendor(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := defaultBaseURLs[normalized]; ok {
		return normalized
	}
	if normalized == "" {
		return "openai"
	}
	return inferVendor(normalized)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}
