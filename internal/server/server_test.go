package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ragagent/internal/assistant"
	"ragagent/internal/domain"
	"ragagent/internal/knowledge"
	"ragagent/internal/metrics"
	"ragagent/internal/tokenizer"
	"ragagent/internal/trace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRuntime answers from canned values.
type fakeRuntime struct {
	shell     *assistant.Shell
	traces    domain.TraceStore
	metrics   *metrics.Collector
	answer    string
	runErr    error
	updateErr error
	rebuilds  int
	queryText string
	queryErr  error
}

func (f *fakeRuntime) Query(_ context.Context, q string) (*domain.QueryResponse, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &domain.QueryResponse{Text: f.queryText}, nil
}

func (f *fakeRuntime) Run(_ context.Context, q string) (string, error) {
	return f.answer, f.runErr
}

func (f *fakeRuntime) Update(context.Context) (knowledge.UpdateResult, error) {
	if f.updateErr != nil {
		return knowledge.UpdateResult{}, f.updateErr
	}
	return knowledge.UpdateResult{Added: 1, Documents: 2}, nil
}

func (f *fakeRuntime) Rebuild(context.Context) (knowledge.BuildResult, error) {
	f.rebuilds++
	return knowledge.BuildResult{Documents: 2, Chunks: 4}, nil
}

func (f *fakeRuntime) AgentTools() []domain.ToolDefinition {
	return []domain.ToolDefinition{{Name: "query_all_documents"}, {Name: "vector_tool_guide"}}
}

func (f *fakeRuntime) Stats() knowledge.IndexStats { return knowledge.IndexStats{Documents: 2, Chunks: 4} }
func (f *fakeRuntime) Shell() *assistant.Shell     { return f.shell }
func (f *fakeRuntime) Traces() domain.TraceStore   { return f.traces }
func (f *fakeRuntime) Metrics() *metrics.Collector { return f.metrics }

func newFakeRuntime(t *testing.T, withTraces bool) *fakeRuntime {
	t.Helper()
	f := &fakeRuntime{
		answer:    "Use behavioral activation.",
		queryText: "Behavioral activation helps.",
		metrics:   metrics.New("ragagent"),
	}
	if withTraces {
		store, err := trace.NewSQLiteStore(filepath.Join(t.TempDir(), "traces.db"), testLogger())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { store.Close() })
		f.traces = store
	}
	f.shell = assistant.NewShell(assistant.ShellConfig{
		Backend: f,
		Traces:  f.traces,
		Counter: tokenizer.Words{},
		Metrics: f.metrics,
		Logger:  testLogger(),
	})
	return f
}

func newTestServer(rt Runtime, apiKey string) *Server {
	return New(Config{Runtime: rt, APIKey: apiKey, Logger: testLogger()})
}

func do(t *testing.T, s *Server, method, path, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
	} else {
		out["body"] = string(data)
	}
	return resp.StatusCode, out
}

func TestServer_Healthy(t *testing.T) {
	s := newTestServer(newFakeRuntime(t, false), "")
	code, body := do(t, s, http.MethodGet, "/check/healthy", "")
	if code != http.StatusOK || body["result"] != "ok" {
		t.Fatalf("unexpected health response %d %v", code, body)
	}
}

func TestServer_ListTools(t *testing.T) {
	s := newTestServer(newFakeRuntime(t, false), "")
	code, body := do(t, s, http.MethodGet, "/api/v1/tools", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	shell := body["shell"].([]any)
	agentTools := body["agent"].([]any)
	if len(shell) != 2 || len(agentTools) != 2 {
		t.Fatalf("unexpected tool lists %v", body)
	}
	if shell[0].(map[string]any)["name"] != assistant.DocumentAgentToolName {
		t.Fatalf("unexpected first shell tool %v", shell[0])
	}
}

func TestServer_InvokeTool(t *testing.T) {
	rt := newFakeRuntime(t, true)
	s := newTestServer(rt, "")

	code, body := do(t, s, http.MethodPost, "/api/v1/tools/knowledge_base/invoke", `{"query":"How do I treat depression?"}`)
	if code != http.StatusOK || body["response"] != "Behavioral activation helps." {
		t.Fatalf("unexpected invoke response %d %v", code, body)
	}

	traces, _ := rt.traces.ListTraces(context.Background(), 10)
	if len(traces) != 2 {
		t.Fatalf("expected 2 traces, got %d", len(traces))
	}
}

func TestServer_InvokeToolFailureIsOK(t *testing.T) {
	rt := newFakeRuntime(t, false)
	rt.queryErr = errors.New("index offline")
	s := newTestServer(rt, "")

	code, body := do(t, s, http.MethodPost, "/api/v1/tools/knowledge_base/invoke", `{"query":"q"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200 for a failing tool, got %d", code)
	}
	if !strings.Contains(body["response"].(string), "I encountered an error") {
		t.Fatalf("expected apology, got %v", body)
	}
}

func TestServer_InvokeValidation(t *testing.T) {
	s := newTestServer(newFakeRuntime(t, false), "")

	code, body := do(t, s, http.MethodPost, "/api/v1/tools/knowledge_base/invoke", `{"query":""}`)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	errs := body["errors"].(map[string]any)
	if _, ok := errs["query"]; !ok {
		t.Fatalf("expected query field error, got %v", errs)
	}

	code, _ = do(t, s, http.MethodPost, "/api/v1/tools/knowledge_base/invoke", `{not json`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", code)
	}

	code, body = do(t, s, http.MethodPost, "/api/v1/tools/web_automation/invoke", `{"query":"q"}`)
	if code != http.StatusNotFound || body["error"] != "tool web_automation not found" {
		t.Fatalf("expected 404 for unknown tool, got %d %v", code, body)
	}
}

func TestServer_AgentRun(t *testing.T) {
	rt := newFakeRuntime(t, false)
	s := newTestServer(rt, "")

	code, body := do(t, s, http.MethodPost, "/api/v1/agent/run", `{"query":"plan"}`)
	if code != http.StatusOK || body["answer"] != "Use behavioral activation." {
		t.Fatalf("unexpected agent response %d %v", code, body)
	}

	rt.runErr = errors.New("LLM error: timeout")
	code, body = do(t, s, http.MethodPost, "/api/v1/agent/run", `{"query":"plan"}`)
	if code != http.StatusOK || body["answer"] != "I encountered an error while processing your complex query." {
		t.Fatalf("expected apology with 200, got %d %v", code, body)
	}
	if strings.Contains(body["answer"].(string), "timeout") {
		t.Fatalf("internal error leaked into answer: %v", body)
	}
}

func TestServer_AgentRunFailureIsTraced(t *testing.T) {
	rt := newFakeRuntime(t, true)
	rt.runErr = errors.New("LLM error: timeout")
	s := newTestServer(rt, "")

	if code, _ := do(t, s, http.MethodPost, "/api/v1/agent/run", `{"query":"plan"}`); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	traces, err := rt.traces.ListTraces(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	var failed int
	for _, tr := range traces {
		if tr.Status == domain.TraceError {
			failed++
		}
	}
	if len(traces) != 2 || failed != 1 {
		t.Fatalf("expected a user trace and one error reply, got %+v", traces)
	}
}

func TestServer_Index(t *testing.T) {
	rt := newFakeRuntime(t, false)
	s := newTestServer(rt, "")

	code, body := do(t, s, http.MethodPost, "/api/v1/index/rebuild", "")
	if code != http.StatusOK || body["message"] != "RAG embeddings recreated successfully" || rt.rebuilds != 1 {
		t.Fatalf("unexpected rebuild response %d %v", code, body)
	}

	code, body = do(t, s, http.MethodPost, "/api/v1/index/update", "")
	result := body["result"].(map[string]any)
	if code != http.StatusOK || result["Added"] != float64(1) {
		t.Fatalf("unexpected update response %d %v", code, body)
	}

	rt.updateErr = &knowledge.DataSourceError{Dir: "data", Err: errors.New("missing")}
	code, _ = do(t, s, http.MethodPost, "/api/v1/index/update", "")
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on update failure, got %d", code)
	}

	code, body = do(t, s, http.MethodGet, "/api/v1/index", "")
	if code != http.StatusOK || body["index"].(map[string]any)["documents"] != float64(2) {
		t.Fatalf("unexpected status response %d %v", code, body)
	}
}

func TestServer_Traces(t *testing.T) {
	s := newTestServer(newFakeRuntime(t, true), "")

	code, body := do(t, s, http.MethodPost, "/api/v1/traces", `{"message":"hello","messageType":"agent","responseTime":120,"metadata":{"room":"r1"}}`)
	if code != http.StatusOK || body["message"] != "Call trace added successfully" {
		t.Fatalf("unexpected add response %d %v", code, body)
	}
	added := body["trace"].(map[string]any)
	if added["id"] == "" || added["status"] != "success" {
		t.Fatalf("expected filled id and status, got %v", added)
	}

	code, _ = do(t, s, http.MethodPost, "/api/v1/traces", `{"message":"x","messageType":"robot"}`)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad message type, got %d", code)
	}

	code, body = do(t, s, http.MethodGet, "/api/v1/traces?limit=5", "")
	traces := body["traces"].([]any)
	if code != http.StatusOK || len(traces) != 1 {
		t.Fatalf("unexpected list response %d %v", code, body)
	}
	if traces[0].(map[string]any)["metadata"].(map[string]any)["room"] != "r1" {
		t.Fatalf("expected metadata round trip, got %v", traces[0])
	}

	code, body = do(t, s, http.MethodPost, "/api/v1/traces/clear", "")
	if code != http.StatusOK || body["message"] != "All call traces have been cleared successfully" {
		t.Fatalf("unexpected clear response %d %v", code, body)
	}
	_, body = do(t, s, http.MethodGet, "/api/v1/traces", "")
	if len(body["traces"].([]any)) != 0 {
		t.Fatalf("expected no traces after clear, got %v", body)
	}
}

func TestServer_TracesDisabled(t *testing.T) {
	s := newTestServer(newFakeRuntime(t, false), "")
	code, _ := do(t, s, http.MethodGet, "/api/v1/traces", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when traces are disabled, got %d", code)
	}
}

func TestServer_BearerAuth(t *testing.T) {
	s := newTestServer(newFakeRuntime(t, false), "secret-token")

	code, _ := do(t, s, http.MethodGet, "/api/v1/tools", "")
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	code, _ = do(t, s, http.MethodGet, "/api/v1/tools", "", "Authorization", "Bearer wrong")
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", code)
	}
	code, _ = do(t, s, http.MethodGet, "/api/v1/tools", "", "Authorization", "Bearer secret-token")
	if code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	code, _ = do(t, s, http.MethodGet, "/check/healthy", "")
	if code != http.StatusOK {
		t.Fatalf("health check should not need a token, got %d", code)
	}
}

func TestServer_Metrics(t *testing.T) {
	rt := newFakeRuntime(t, false)
	s := newTestServer(rt, "")
	do(t, s, http.MethodPost, "/api/v1/tools/knowledge_base/invoke", `{"query":"q"}`)

	code, body := do(t, s, http.MethodGet, "/metrics", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !strings.Contains(body["body"].(string), `ragagent_shell_invocations_total{tool="knowledge_base"} 1`) {
		t.Fatalf("expected invocation counter, got:\n%s", body["body"])
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	s := newTestServer(newFakeRuntime(t, false), "")
	code, body := do(t, s, http.MethodGet, "/api/v1/nothing", "")
	if code != http.StatusNotFound || body["code"] != float64(404) {
		t.Fatalf("expected JSON 404, got %d %v", code, body)
	}
}
