// Package hub is the worker-side client for the hub's internal HTTP surface:
// registration, heartbeats, execution claims, event batches, and the
// control-channel long poll.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goyais/worker/internal/config"
	"github.com/goyais/worker/pkg/protocol"
)

const (
	internalTokenHeader = "X-Internal-Token"
	traceHeader         = "X-Trace-Id"

	// requestTimeout bounds every call except the control long poll, whose
	// deadline is derived from its server-side wait.
	requestTimeout = 8 * time.Second

	// controlPollSlack is added on top of the server-side wait so a poll
	// that is about to return does not race its own client deadline.
	controlPollSlack = 10 * time.Second

	maxErrorBody = 300
)

// RequestError is a non-2xx answer from the hub.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("hub http error status=%d body=%s", e.Status, e.Body)
}

// Client talks to one hub. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	traceID string
	http    *http.Client
}

// NewClient builds a client from hub configuration.
func NewClient(cfg config.HubConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:   strings.TrimSpace(cfg.InternalToken),
		http:    &http.Client{},
	}
}

// ForExecution returns a client whose requests carry the execution's trace
// id instead of freshly minted ones. The copy shares the parent's transport.
func (c *Client) ForExecution(traceID string) *Client {
	clone := *c
	clone.traceID = strings.TrimSpace(traceID)
	return &clone
}

// NewTraceID mints a worker-originated trace identifier.
func NewTraceID() string {
	return "tr_worker_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// RegisterWorker announces this worker and its capabilities.
func (c *Client) RegisterWorker(ctx context.Context, workerID string, capabilities map[string]any) error {
	req := protocol.RegisterRequest{WorkerID: workerID, Capabilities: capabilities}
	return c.doJSON(ctx, http.MethodPost, protocol.PathWorkersRegister, req, nil, requestTimeout)
}

// Heartbeat reports liveness for a registered worker.
func (c *Client) Heartbeat(ctx context.Context, workerID, status string) error {
	req := protocol.HeartbeatRequest{Status: status}
	return c.doJSON(ctx, http.MethodPost, protocol.PathWorkerHeartbeat(workerID), req, nil, requestTimeout)
}

// ClaimExecution attempts to claim one queued execution under a lease.
func (c *Client) ClaimExecution(ctx context.Context, workerID string, leaseSeconds int) (*protocol.ClaimResponse, error) {
	req := protocol.ClaimRequest{WorkerID: workerID, LeaseSeconds: leaseSeconds}
	var resp protocol.ClaimResponse
	if err := c.doJSON(ctx, http.MethodPost, protocol.PathExecutionsClaim, req, &resp, requestTimeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendEvents posts one ordered event batch for an execution.
func (c *Client) SendEvents(ctx context.Context, executionID string, events []protocol.Event) error {
	req := protocol.EventBatch{Events: events}
	return c.doJSON(ctx, http.MethodPost, protocol.PathExecutionEventsBatch(executionID), req, nil, requestTimeout)
}

// PollControl long-polls the execution's control channel.
func (c *Client) PollControl(ctx context.Context, executionID string, afterSeq, waitMS int) (*protocol.ControlPollResponse, error) {
	timeout := time.Duration(waitMS)*time.Millisecond + controlPollSlack
	var resp protocol.ControlPollResponse
	path := protocol.PathExecutionControl(executionID, afterSeq, waitMS)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp, timeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode hub request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build hub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalTokenHeader, c.token)
	traceID := c.traceID
	if traceID == "" {
		traceID = NewTraceID()
	}
	req.Header.Set(traceHeader, traceID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hub network error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read hub response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyText := string(raw)
		if len(bodyText) > maxErrorBody {
			bodyText = bodyText[:maxErrorBody]
		}
		return &RequestError{Status: resp.StatusCode, Body: bodyText}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode hub response: %w", err)
	}
	return nil
}
