package assistant

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ragagent/internal/config"
	"ragagent/internal/domain"
	"ragagent/internal/tokenizer"
	"ragagent/internal/trace"
)

func newTestRuntime(t *testing.T, deps Deps, traces domain.TraceStore) *Runtime {
	t.Helper()
	rt, err := NewRuntime(context.Background(), deps, RuntimeOptions{
		Traces:    traces,
		Counter:   tokenizer.Words{},
		SessionID: "test-session",
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestRuntime_QueryAndShell(t *testing.T) {
	store, err := trace.NewSQLiteStore(filepath.Join(t.TempDir(), "traces.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	rt := newTestRuntime(t, testDeps(t), store)

	resp, err := rt.Query(context.Background(), "How do I treat depression?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.Contains(resp.String(), "Behavioral activation") {
		t.Fatalf("unexpected response %q", resp.String())
	}

	out, _ := rt.Shell().Invoke(context.Background(), KnowledgeBaseToolName, "How do I treat depression?")
	if !strings.Contains(out, "Behavioral activation") {
		t.Fatalf("unexpected shell output %q", out)
	}
	traces, err := rt.Traces().ListTraces(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(traces) != 2 || traces[0].SessionID != "test-session" {
		t.Fatalf("expected 2 traces for the session, got %+v", traces)
	}
}

func TestRuntime_UpdateAddsDocuments(t *testing.T) {
	deps := testDeps(t)
	rt := newTestRuntime(t, deps, nil)

	if got := len(rt.AgentTools()); got != 3 {
		t.Fatalf("expected 3 agent tools, got %d", got)
	}

	writeFile(t, deps.DataDir, "sleep_notes.txt", sleepNotes)
	res, err := rt.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Added != 1 || res.Skipped != 1 {
		t.Fatalf("expected 1 added and 1 skipped, got %+v", res)
	}
	if rt.Stats().Documents != 2 {
		t.Fatalf("expected 2 documents after update, got %d", rt.Stats().Documents)
	}
	if got := len(rt.AgentTools()); got != 5 {
		t.Fatalf("expected 5 agent tools after update, got %d", got)
	}
	if paths := rt.FilePaths(); len(paths) != 2 {
		t.Fatalf("expected 2 file paths, got %v", paths)
	}

	resp, err := rt.Query(context.Background(), "regular wake time")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.String(), "wake time") {
		t.Fatalf("expected new document to be searchable, got %q", resp.String())
	}
}

func TestRuntime_Rebuild(t *testing.T) {
	deps := testDeps(t)
	rt := newTestRuntime(t, deps, nil)

	writeFile(t, deps.DataDir, "sleep_notes.txt", sleepNotes)
	res, err := rt.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Loaded || res.Documents != 2 {
		t.Fatalf("expected fresh build of 2 documents, got %+v", res)
	}
}

func TestRuntime_ConcurrentQueryAndUpdate(t *testing.T) {
	deps := testDeps(t)
	rt := newTestRuntime(t, deps, nil)
	writeFile(t, deps.DataDir, "sleep_notes.txt", sleepNotes)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rt.Query(context.Background(), "depression"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := rt.Update(context.Background()); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}

func TestDepsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Knowledge.ChunkUnit = "tokens"
	cfg.Knowledge.Synthesis = "llm"

	deps, err := DepsFromConfig(cfg, testLogger())
	if err != nil {
		t.Fatalf("DepsFromConfig: %v", err)
	}
	if deps.Embedder.Name() != "hash-512" {
		t.Fatalf("expected hash embedder, got %s", deps.Embedder.Name())
	}
	if deps.Agent.Provider == nil || deps.Synthesizer == nil || deps.Summarizer == nil {
		t.Fatalf("expected provider and llm synthesis to be wired: %+v", deps)
	}
	if deps.TopK != 3 || deps.Agent.MaxIterations != 10 {
		t.Fatalf("unexpected tuning %+v", deps)
	}
}

func TestDepsFromConfig_RemoteEmbedder(t *testing.T) {
	cfg := config.Defaults()
	cfg.Knowledge.Embedder = config.EmbedderConfig{Type: "ollama", Model: "nomic-embed-text"}

	deps, err := DepsFromConfig(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if deps.Embedder.Name() != "ollama:nomic-embed-text" {
		t.Fatalf("unexpected embedder %s", deps.Embedder.Name())
	}
	if deps.Embedder.Dimension() != 0 {
		t.Fatalf("remote embedder should learn its dimension, got %d", deps.Embedder.Dimension())
	}
}
