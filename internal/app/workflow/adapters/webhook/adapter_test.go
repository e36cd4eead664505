package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/service_layer/internal/app/workflow"
)

func newTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(srv.Close)
	return goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
}

func TestAdapter_ExecuteWorkflowResolvesViaCallback(t *testing.T) {
	startSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer startSrv.Close()

	rdb := newTestRedis(t)
	a := New("webhook", rdb, Config{
		StartURL:      startSrv.URL,
		CallbackGrace: 2 * time.Second,
	})

	wf := workflow.WorkflowDefinition{ID: "wf-1", Name: "wf", Definition: []byte(`{}`)}

	go func() {
		time.Sleep(30 * time.Millisecond)
		payload, _ := json.Marshal(map[string]any{"state": "COMPLETED", "result": map[string]any{"ok": true}})
		rdb.Set(context.Background(), "workflow:callback:wf-1", payload, time.Minute)
	}()

	res, err := a.ExecuteWorkflow(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if res.State != workflow.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", res.State)
	}
	if res.Result["ok"] != true {
		t.Fatalf("expected result passthrough, got %v", res.Result)
	}
}

func TestAdapter_ExecuteWorkflowFallsBackToPolling(t *testing.T) {
	startSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer startSrv.Close()

	statusSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"state": "COMPLETED", "result": map[string]any{"fromPoll": true}})
	}))
	defer statusSrv.Close()

	rdb := newTestRedis(t)
	a := New("webhook", rdb, Config{
		StartURL:      startSrv.URL,
		StatusURL:     statusSrv.URL + "/",
		CallbackGrace: 20 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	})

	wf := workflow.WorkflowDefinition{ID: "wf-2", Name: "wf", Definition: []byte(`{}`)}
	res, err := a.ExecuteWorkflow(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if res.State != workflow.StateCompleted || res.Result["fromPoll"] != true {
		t.Fatalf("expected the polling fallback result, got %+v", res)
	}
}

func TestAdapter_CancelExecutionClearsCallbackKey(t *testing.T) {
	rdb := newTestRedis(t)
	a := New("webhook", rdb, Config{})

	rdb.Set(context.Background(), "workflow:callback:wf-3", "stale", time.Minute)
	if _, err := a.CancelExecution(context.Background(), "wf-3"); err != nil {
		t.Fatalf("CancelExecution: %v", err)
	}
	if _, err := rdb.Get(context.Background(), "workflow:callback:wf-3").Result(); err != goredis.Nil {
		t.Fatalf("expected the callback key to be cleared, got err=%v", err)
	}
}
