package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goyais/worker/internal/tlsconfig"
)

const maxErrorBodyBytes = 500

// Client executes model turns for one frozen invocation. TLS resolution
// happens at construction so a broken CA setup fails before any request.
type Client struct {
	inv  *Invocation
	http *http.Client
}

// NewClient builds the vendor transport for inv.
func NewClient(inv *Invocation) (*Client, error) {
	tlsCfg, err := tlsconfig.Resolve(inv.BaseURL)
	if err != nil {
		details := map[string]any{}
		var cfgErr *tlsconfig.ConfigError
		if errors.As(err, &cfgErr) {
			details = cfgErr.Details
		}
		return nil, &AdapterError{
			Code:    ErrCodeModelTLSConfigInvalid,
			Message: err.Error(),
			Details: details,
		}
	}

	transport := http.DefaultTransport
	if tlsCfg != nil {
		transport = &http.Transport{
			TLSClientConfig: tlsCfg,
			Proxy:           http.ProxyFromEnvironment,
		}
	}
	return &Client{
		inv: inv,
		http: &http.Client{
			Timeout:   time.Duration(inv.TimeoutMS) * time.Millisecond,
			Transport: transport,
		},
	}, nil
}

// Invocation returns the frozen call configuration.
func (c *Client) Invocation() *Invocation { return c.inv }

// RunTurn sends one non-streaming model turn and parses the result. Google
// uses its native generateContent protocol; every other vendor speaks the
// OpenAI chat completions dialect.
func (c *Client) RunTurn(ctx context.Context, messages []TurnMessage, tools []ToolSchema) (*TurnResult, error) {
	if c.inv.Vendor == "google" {
		return c.runGoogleTurn(ctx, messages, tools)
	}
	return c.runOpenAITurn(ctx, messages, tools)
}

// postJSON performs one JSON-in JSON-out POST. Failures map onto the stable
// adapter codes: transport errors to MODEL_NETWORK_ERROR, non-2xx statuses
// to MODEL_HTTP_ERROR with a truncated body, unparseable bodies to
// MODEL_INVALID_RESPONSE.
func (c *Client) postJSON(ctx context.Context, url string, payload map[string]any, bearer string) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &AdapterError{Code: ErrCodeModelInvalidResponse, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, &AdapterError{Code: ErrCodeModelNetworkError, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		message := fmt.Sprintf("model request failed: %v", err)
		if isTLSVerificationError(err) {
			message += " (TLS verification failed; point WORKER_TLS_CA_FILE at the corporate CA, or set WORKER_TLS_INSECURE_SKIP_VERIFY=1 in trusted environments only)"
		}
		return nil, newAdapterError(ErrCodeModelNetworkError, message)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newAdapterError(ErrCodeModelNetworkError, fmt.Sprintf("model request failed: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AdapterError{
			Code:    ErrCodeModelHTTPError,
			Message: fmt.Sprintf("model request failed with status=%d", resp.StatusCode),
			Details: map[string]any{
				"status_code": resp.StatusCode,
				"body":        truncate(strings.TrimSpace(string(raw)), maxErrorBodyBytes),
			},
		}
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, newAdapterError(ErrCodeModelInvalidResponse, "model response is not valid JSON")
	}
	return parsed, nil
}

func isTLSVerificationError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "x509") || strings.Contains(msg, "certificate") || strings.Contains(msg, "tls:")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// asMap narrows an any-typed JSON value to an object.
func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// asSlice narrows an any-typed JSON value to an array.
func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// asString narrows an any-typed JSON value to a trimmed string.
func asString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// asInt coerces an any-typed JSON number to a non-negative int.
func asInt(v any) int {
	var n int
	switch num := v.(type) {
	case float64:
		n = int(num)
	case int:
		n = num
	}
	if n < 0 {
		return 0
	}
	return n
}
