// Package webhook implements an Adapter that starts a remote job over HTTP
// and waits for its result to be pushed into a Redis-backed callback table,
// falling back to polling the remote engine's status endpoint if no
// callback arrives within a grace window.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/service_layer/internal/app/workflow"
)

// Config configures one webhook adapter instance.
type Config struct {
	StartURL     string        // endpoint the adapter POSTs the start request to
	StatusURL    string        // template with a trailing execution id, used by the polling fallback
	BearerToken  string
	CallbackGrace time.Duration // how long to wait on the Redis callback before falling back to polling
	PollInterval time.Duration
	KeyPrefix    string // Redis key namespace for the callback table
}

// callbackPayload is what the remote engine is expected to push to
// `<KeyPrefix><executionID>` once it reaches a terminal state.
type callbackPayload struct {
	State  string         `json:"state"`
	Result map[string]any `json:"result"`
	Error  string         `json:"error"`
}

// Adapter drives a webhook-style remote engine: a job is started with a
// plain HTTP POST, and its terminal state is normally delivered
// out-of-band via a callback the remote engine pushes into Redis rather
// than by polling, per the callback-table design spec.md documents.
type Adapter struct {
	engine    workflow.EngineType
	http      *http.Client
	rdb       *redis.Client
	startURL  string
	statusURL string
	bearer    string
	grace     time.Duration
	poll      time.Duration
	keyPrefix string
}

// New builds a webhook Adapter identified by engine, backed by an
// already-connected redis.Client for the callback table.
func New(engine workflow.EngineType, rdb *redis.Client, cfg Config) *Adapter {
	grace := cfg.CallbackGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "workflow:callback:"
	}
	return &Adapter{
		engine:    engine,
		http:      &http.Client{Timeout: 15 * time.Second},
		rdb:       rdb,
		startURL:  cfg.StartURL,
		statusURL: cfg.StatusURL,
		bearer:    cfg.BearerToken,
		grace:     grace,
		poll:      poll,
		keyPrefix: prefix,
	}
}

func (a *Adapter) EngineType() workflow.EngineType { return a.engine }

func (a *Adapter) ValidateWorkflow(ctx context.Context, wf workflow.WorkflowDefinition) (workflow.ValidationResult, error) {
	if len(wf.Definition) == 0 {
		return workflow.ValidationResult{IsValid: false, Errors: []workflow.ValidationIssue{
			{Field: "definition", Message: "definition payload is required", Code: "REQUIRED"},
		}}, nil
	}
	return workflow.ValidationResult{IsValid: true}, nil
}

func (a *Adapter) startRemoteJob(ctx context.Context, id string, wf workflow.WorkflowDefinition, params workflow.Parameters) error {
	body, err := json.Marshal(map[string]any{
		"executionId": id,
		"definition":  json.RawMessage(wf.Definition),
		"parameters":  params,
	})
	if err != nil {
		return workflow.Wrap(workflow.ErrValidationFailed, "encode start request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.startURL, bytes.NewReader(body))
	if err != nil {
		return workflow.Wrap(workflow.ErrNetwork, "build start request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+a.bearer)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return workflow.Wrap(workflow.ErrNetwork, "start request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return workflow.Wrap(workflow.ErrHTTP5xx, fmt.Sprintf("remote engine returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return workflow.Wrap(workflow.ErrHTTP4xxOther, fmt.Sprintf("remote engine returned %d", resp.StatusCode), nil)
	}
	return nil
}

// ExecuteWorkflow starts the remote job, then blocks on whichever comes
// first: the Redis callback key being set, the grace window elapsing (at
// which point it falls back to polling GetExecutionStatus), or
// cancellation.
func (a *Adapter) ExecuteWorkflow(ctx context.Context, wf workflow.WorkflowDefinition, params workflow.Parameters) (workflow.ExecutionResult, error) {
	id := wf.ID
	if id == "" {
		id = fmt.Sprintf("%p", &wf) // definitions without an id still need a stable callback key per call
	}

	if err := a.startRemoteJob(ctx, id, wf, params); err != nil {
		return workflow.ExecutionResult{}, err
	}

	cancelled, _ := workflow.CancelTokenFromContext(ctx)
	key := a.keyPrefix + id

	graceTimer := time.NewTimer(a.grace)
	defer graceTimer.Stop()
	subTicker := time.NewTicker(250 * time.Millisecond)
	defer subTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return workflow.ExecutionResult{}, ctx.Err()
		case <-cancelled:
			return workflow.ExecutionResult{}, workflow.NewError(workflow.ErrExecutionTimeout, "cancelled while waiting on callback")
		case <-graceTimer.C:
			return a.pollUntilTerminal(ctx, id, cancelled)
		case <-subTicker.C:
			payload, ok, err := a.readCallback(ctx, key)
			if err != nil {
				return workflow.ExecutionResult{}, err
			}
			if ok {
				return payloadToResult(payload), nil
			}
		}
	}
}

func (a *Adapter) readCallback(ctx context.Context, key string) (callbackPayload, bool, error) {
	raw, err := a.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return callbackPayload{}, false, nil
	}
	if err != nil {
		return callbackPayload{}, false, workflow.Wrap(workflow.ErrNetwork, "redis callback lookup failed", err)
	}
	var payload callbackPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return callbackPayload{}, false, workflow.Wrap(workflow.ErrRemoteEngine, "decode callback payload", err)
	}
	_ = a.rdb.Del(ctx, key) // one-shot: the callback table entry is consumed once observed
	return payload, true, nil
}

func payloadToResult(p callbackPayload) workflow.ExecutionResult {
	switch p.State {
	case "FAILED":
		return workflow.ExecutionResult{State: workflow.StateFailed, Err: workflow.Wrap(workflow.ErrRemoteEngine, p.Error, nil)}
	default:
		return workflow.ExecutionResult{State: workflow.StateCompleted, Result: p.Result}
	}
}

// pollUntilTerminal is the fallback path once the callback grace window has
// elapsed without a Redis callback arriving.
func (a *Adapter) pollUntilTerminal(ctx context.Context, id string, cancelled <-chan struct{}) (workflow.ExecutionResult, error) {
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return workflow.ExecutionResult{}, ctx.Err()
		case <-cancelled:
			return workflow.ExecutionResult{}, workflow.NewError(workflow.ErrExecutionTimeout, "cancelled while polling fallback")
		case <-ticker.C:
			res, err := a.GetExecutionStatus(ctx, id)
			if err != nil {
				return workflow.ExecutionResult{}, err
			}
			if res.State.Terminal() {
				return res, nil
			}
		}
	}
}

func (a *Adapter) GetExecutionStatus(ctx context.Context, id string) (workflow.ExecutionResult, error) {
	url := a.statusURL + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return workflow.ExecutionResult{}, workflow.Wrap(workflow.ErrNetwork, "build status request", err)
	}
	if a.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+a.bearer)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return workflow.ExecutionResult{}, workflow.Wrap(workflow.ErrNetwork, "status request failed", err)
	}
	defer resp.Body.Close()

	var payload callbackPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return workflow.ExecutionResult{}, workflow.Wrap(workflow.ErrRemoteEngine, "decode status response", err)
	}
	switch payload.State {
	case "COMPLETED":
		return workflow.ExecutionResult{State: workflow.StateCompleted, Result: payload.Result}, nil
	case "FAILED":
		return workflow.ExecutionResult{State: workflow.StateFailed, Err: workflow.Wrap(workflow.ErrRemoteEngine, payload.Error, nil)}, nil
	default:
		return workflow.ExecutionResult{State: workflow.StateRunning}, nil
	}
}

func (a *Adapter) GetExecutionLogs(ctx context.Context, id string) ([]workflow.LogEntry, error) {
	return nil, nil
}

func (a *Adapter) CancelExecution(ctx context.Context, id string) (workflow.CancelResult, error) {
	_ = a.rdb.Del(ctx, a.keyPrefix+id)
	return workflow.CancelResult{Success: true}, nil
}

func (a *Adapter) ConvertWorkflow(ctx context.Context, wf workflow.WorkflowDefinition, sourceEngine workflow.EngineType) (workflow.WorkflowDefinition, error) {
	return workflow.WorkflowDefinition{}, workflow.NewError(workflow.ErrUnsupportedConvert, "webhook adapter does not support cross-engine conversion")
}

func (a *Adapter) TestConnection(ctx context.Context) bool {
	return a.rdb.Ping(ctx).Err() == nil
}

func (a *Adapter) GetCapabilities(ctx context.Context) workflow.Capabilities {
	return workflow.Capabilities{
		Version:           "webhook-1",
		SupportedFeatures: []string{"callback", "poll-fallback"},
	}
}
