// Package httpengine implements an Adapter that drives a remote HTTP/JSON
// workflow engine: start by POST, poll by GET, cancel by DELETE.
package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/httputil"
	"github.com/R3E-Network/service_layer/internal/app/workflow"
)

// Config configures one httpengine adapter instance.
type Config struct {
	BaseURL      string
	BearerToken  string
	Timeout      time.Duration
	MaxBodyBytes int64
	PollInterval time.Duration
}

// Adapter drives a remote engine that exposes a simple
// start/poll/cancel/logs REST surface, authenticated with a static bearer
// token (one engine integration per deployment, so no per-call credential
// plumbing is needed).
type Adapter struct {
	engine       workflow.EngineType
	client       *http.Client
	baseURL      string
	bearerToken  string
	maxBodyBytes int64
	pollInterval time.Duration
}

// New builds an httpengine Adapter identified by engine, talking to cfg.BaseURL.
func New(engine workflow.EngineType, cfg Config) (*Adapter, error) {
	defaults := httputil.DefaultClientDefaults()
	if cfg.Timeout > 0 {
		defaults.Timeout = cfg.Timeout
	}
	client, baseURL, err := httputil.NewClientWithBaseURL(httputil.ClientConfig{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	}, defaults)
	if err != nil {
		return nil, fmt.Errorf("httpengine: %w", err)
	}

	maxBody := httputil.ResolveMaxBodyBytes(cfg.MaxBodyBytes, defaults.MaxBodyBytes)
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	return &Adapter{
		engine:       engine,
		client:       client,
		baseURL:      baseURL,
		bearerToken:  cfg.BearerToken,
		maxBodyBytes: maxBody,
		pollInterval: pollInterval,
	}, nil
}

func (a *Adapter) EngineType() workflow.EngineType { return a.engine }

type startRequest struct {
	Definition json.RawMessage       `json:"definition"`
	Parameters workflow.Parameters   `json:"parameters"`
}

type remoteStatus struct {
	State  string         `json:"state"`
	Result map[string]any `json:"result"`
	Error  string         `json:"error"`
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return workflow.Wrap(workflow.ErrValidationFailed, "encode request body", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return workflow.Wrap(workflow.ErrNetwork, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.bearerToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return workflow.Wrap(workflow.ErrNetwork, "remote engine request failed", err)
	}
	defer resp.Body.Close()

	payload, err := httputil.ReadAllStrict(resp.Body, a.maxBodyBytes)
	if err != nil {
		return workflow.Wrap(workflow.ErrNetwork, "reading remote engine response", err)
	}

	if resp.StatusCode >= 500 {
		return workflow.Wrap(workflow.ErrHTTP5xx, fmt.Sprintf("remote engine returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return workflow.Wrap(workflow.ErrHTTP429, "remote engine rate limited the request", nil)
	}
	if resp.StatusCode == http.StatusRequestTimeout {
		return workflow.Wrap(workflow.ErrHTTP408, "remote engine request timed out", nil)
	}
	if resp.StatusCode >= 400 {
		return workflow.Wrap(workflow.ErrHTTP4xxOther, fmt.Sprintf("remote engine returned %d: %s", resp.StatusCode, string(payload)), nil)
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return workflow.Wrap(workflow.ErrRemoteEngine, "decode remote engine response", err)
		}
	}
	return nil
}

func (a *Adapter) ValidateWorkflow(ctx context.Context, wf workflow.WorkflowDefinition) (workflow.ValidationResult, error) {
	if len(wf.Definition) == 0 {
		return workflow.ValidationResult{IsValid: false, Errors: []workflow.ValidationIssue{
			{Field: "definition", Message: "definition payload is required", Code: "REQUIRED"},
		}}, nil
	}
	var probe map[string]any
	if err := json.Unmarshal(wf.Definition, &probe); err != nil {
		return workflow.ValidationResult{IsValid: false, Errors: []workflow.ValidationIssue{
			{Field: "definition", Message: "definition is not valid JSON", Code: "MALFORMED"},
		}}, nil
	}
	return workflow.ValidationResult{IsValid: true}, nil
}

func (a *Adapter) ExecuteWorkflow(ctx context.Context, wf workflow.WorkflowDefinition, params workflow.Parameters) (workflow.ExecutionResult, error) {
	var started struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/executions", startRequest{Definition: wf.Definition, Parameters: params}, &started); err != nil {
		return workflow.ExecutionResult{}, err
	}

	cancelled, _ := workflow.CancelTokenFromContext(ctx)
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return workflow.ExecutionResult{}, ctx.Err()
		case <-cancelled:
			_, _ = a.CancelExecution(context.Background(), started.ID)
			return workflow.ExecutionResult{}, workflow.NewError(workflow.ErrExecutionTimeout, "cancelled while polling remote engine")
		case <-ticker.C:
			var status remoteStatus
			if err := a.do(ctx, http.MethodGet, "/executions/"+started.ID, nil, &status); err != nil {
				return workflow.ExecutionResult{}, err
			}
			switch status.State {
			case "COMPLETED":
				return workflow.ExecutionResult{State: workflow.StateCompleted, Result: status.Result}, nil
			case "FAILED":
				return workflow.ExecutionResult{
					State: workflow.StateFailed,
					Err:   workflow.Wrap(workflow.ErrRemoteEngine, status.Error, nil),
				}, nil
			}
			// still running; keep polling
		}
	}
}

func (a *Adapter) GetExecutionStatus(ctx context.Context, id string) (workflow.ExecutionResult, error) {
	var status remoteStatus
	if err := a.do(ctx, http.MethodGet, "/executions/"+id, nil, &status); err != nil {
		return workflow.ExecutionResult{}, err
	}
	switch status.State {
	case "COMPLETED":
		return workflow.ExecutionResult{State: workflow.StateCompleted, Result: status.Result}, nil
	case "FAILED":
		return workflow.ExecutionResult{State: workflow.StateFailed, Err: workflow.Wrap(workflow.ErrRemoteEngine, status.Error, nil)}, nil
	default:
		return workflow.ExecutionResult{State: workflow.StateRunning}, nil
	}
}

func (a *Adapter) GetExecutionLogs(ctx context.Context, id string) ([]workflow.LogEntry, error) {
	var entries []struct {
		Timestamp time.Time `json:"timestamp"`
		Level     string    `json:"level"`
		Message   string    `json:"message"`
	}
	if err := a.do(ctx, http.MethodGet, "/executions/"+id+"/logs", nil, &entries); err != nil {
		return nil, err
	}
	logs := make([]workflow.LogEntry, len(entries))
	for i, e := range entries {
		logs[i] = workflow.LogEntry{Timestamp: e.Timestamp, Level: e.Level, Message: e.Message}
	}
	return logs, nil
}

func (a *Adapter) CancelExecution(ctx context.Context, id string) (workflow.CancelResult, error) {
	if err := a.do(ctx, http.MethodDelete, "/executions/"+id, nil, nil); err != nil {
		return workflow.CancelResult{Success: false, Err: workflow.Wrap(workflow.ErrRemoteEngine, "cancel request failed", err)}, nil
	}
	return workflow.CancelResult{Success: true}, nil
}

func (a *Adapter) ConvertWorkflow(ctx context.Context, wf workflow.WorkflowDefinition, sourceEngine workflow.EngineType) (workflow.WorkflowDefinition, error) {
	return workflow.WorkflowDefinition{}, workflow.NewError(workflow.ErrUnsupportedConvert, "httpengine does not support cross-engine conversion")
}

func (a *Adapter) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (a *Adapter) GetCapabilities(ctx context.Context) workflow.Capabilities {
	return workflow.Capabilities{
		Version:                 "httpengine-1",
		SupportedFeatures:       []string{"poll", "cancel", "logs"},
		MaxConcurrentExecutions: 0, // unbounded from this adapter's perspective
	}
}
