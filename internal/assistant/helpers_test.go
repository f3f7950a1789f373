package assistant

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ragagent/internal/agent"
	"ragagent/internal/domain"
	"ragagent/internal/knowledge"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const therapyGuide = `Therapy Guide

Depression is a common mood disorder that affects how a person feels and acts.

Treatment of depression usually combines several approaches. Behavioral activation helps people schedule rewarding activities and rebuild routines that depression has disrupted. Cognitive restructuring teaches people to notice and challenge negative automatic thoughts.`

const sleepNotes = `Sleep Notes

A regular wake time anchors the sleep cycle. Stimulus control means using the bed only for sleep.`

// relayProvider asks for one tool call with the user's question, then answers
// with the tool output.
type relayProvider struct {
	mu       sync.Mutex
	toolName string
	calls    int
}

func (p *relayProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	last := req.Messages[len(req.Messages)-1]
	if last.Role == "tool" {
		return &domain.ChatResponse{Content: last.Content}, nil
	}
	return &domain.ChatResponse{ToolCalls: []domain.ToolCall{{
		ID:        "call-1",
		Name:      p.toolName,
		Arguments: map[string]any{"query": last.Content},
	}}}, nil
}
func (p *relayProvider) Name() string                    { return "relay" }
func (p *relayProvider) Models() []string                { return nil }
func (p *relayProvider) SupportsToolCalling() bool       { return true }
func (p *relayProvider) Healthy(_ context.Context) error { return nil }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// testDeps returns deps over a fresh data dir holding the therapy guide.
func testDeps(t *testing.T) Deps {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dataDir, "therapy_guide.txt", therapyGuide)

	return Deps{
		DataDir:    dataDir,
		PersistDir: filepath.Join(root, "storage"),
		Embedder:   knowledge.NewHashEmbedder(256),
		Chunker:    knowledge.NewChunker(knowledge.ChunkerConfig{Size: 40, Overlap: 5}),
		TopK:       3,
		Agent: agent.Config{
			Provider:      &relayProvider{toolName: "query_all_documents"},
			MaxIterations: 4,
		},
		Logger: testLogger(),
	}
}
