package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"ragagent/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name      string
	healthy   bool
	chatErr   error
	chatResp  *domain.ChatResponse
	toolCalls bool
	calls     int
}

func (m *mockProvider) Name() string              { return m.name }
func (m *mockProvider) Models() []string          { return []string{"test-model"} }
func (m *mockProvider) SupportsToolCalling() bool { return m.toolCalls }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func reply(content string) *domain.ChatResponse { return &domain.ChatResponse{Content: content} }

func TestFailoverProvider_ChainOrder(t *testing.T) {
	cases := []struct {
		name  string
		chain []*mockProvider
		want  string
		calls []int
	}{
		{
			name:  "first provider answers",
			chain: []*mockProvider{{name: "primary", chatResp: reply("primary")}, {name: "secondary", chatResp: reply("secondary")}},
			want:  "primary",
			calls: []int{1, 0},
		},
		{
			name:  "falls back on error",
			chain: []*mockProvider{{name: "primary", chatErr: errors.New("api error")}, {name: "secondary", chatResp: reply("secondary")}},
			want:  "secondary",
			calls: []int{1, 1},
		},
		{
			name:  "single provider",
			chain: []*mockProvider{{name: "only", chatResp: reply("only")}},
			want:  "only",
			calls: []int{1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			providers := make([]domain.Provider, len(tc.chain))
			for i, p := range tc.chain {
				providers[i] = p
			}
			resp, err := NewFailoverProvider(providers, testLogger()).Chat(context.Background(), domain.ChatRequest{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Content != tc.want {
				t.Fatalf("got %q, want %q", resp.Content, tc.want)
			}
			for i, p := range tc.chain {
				if p.calls != tc.calls[i] {
					t.Fatalf("%s called %d times, want %d", p.name, p.calls, tc.calls[i])
				}
			}
		})
	}
}

func TestFailoverProvider_AllProvidersFail(t *testing.T) {
	fp := NewFailoverProvider([]domain.Provider{
		&mockProvider{name: "p1", chatErr: errors.New("fail 1")},
		&mockProvider{name: "p2", chatErr: errors.New("fail 2")},
	}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
	for _, want := range []string{"p1: fail 1", "p2: fail 2"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestFailoverProvider_ToolRequestsSkipPlainProviders(t *testing.T) {
	plain := &mockProvider{name: "plain", chatResp: &domain.ChatResponse{Content: "plain"}}
	tools := &mockProvider{name: "tools", toolCalls: true, chatResp: &domain.ChatResponse{Content: "tools"}}
	fp := NewFailoverProvider([]domain.Provider{plain, tools}, testLogger())

	req := domain.ChatRequest{Tools: []domain.ToolDefinition{{Name: "query_all_documents"}}}
	resp, err := fp.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "tools" || plain.calls != 0 {
		t.Fatalf("expected the tool-calling provider, got %q (plain calls %d)", resp.Content, plain.calls)
	}

	resp, err = fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil || resp.Content != "plain" {
		t.Fatalf("plain requests should use the first provider: %v %v", resp, err)
	}
	if !fp.SupportsToolCalling() {
		t.Fatal("chain with one tool-calling provider supports tools")
	}
}

func TestFailoverProvider_NoToolCapableProvider(t *testing.T) {
	fp := NewFailoverProvider([]domain.Provider{&mockProvider{name: "plain"}}, testLogger())
	req := domain.ChatRequest{Tools: []domain.ToolDefinition{{Name: "query_all_documents"}}}
	if _, err := fp.Chat(context.Background(), req); err == nil {
		t.Fatal("expected error without a tool-calling provider")
	}
}


func TestFailoverProvider_Capabilities(t *testing.T) {
	fp := NewFailoverProvider([]domain.Provider{
		&mockProvider{name: "ollama", healthy: false},
		&mockProvider{name: "openai", healthy: true, toolCalls: true},
	}, testLogger())

	if got := fp.Name(); got != "failover(ollama→openai)" {
		t.Fatalf("unexpected name %q", got)
	}
	if err := fp.Healthy(context.Background()); err != nil {
		t.Fatalf("one healthy provider should be enough: %v", err)
	}
	if !fp.SupportsToolCalling() {
		t.Fatal("one tool-calling provider should be enough")
	}
	if models := fp.Models(); len(models) != 1 {
		t.Fatalf("expected deduplicated models, got %v", models)
	}

	none := NewFailoverProvider([]domain.Provider{
		&mockProvider{name: "a"},
		&mockProvider{name: "b"},
	}, testLogger())
	err := none.Healthy(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unhealthy") {
		t.Fatalf("expected joined health errors, got %v", err)
	}
	if none.SupportsToolCalling() {
		t.Fatal("no provider supports tools")
	}
}

func TestFailoverProvider_EmptyChain(t *testing.T) {
	fp := NewFailoverProvider(nil, testLogger())
	if _, err := fp.Chat(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

func TestFailoverProvider_StopsOnCancelledContext(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: errors.New("fail")}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "late"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fp.Chat(ctx, domain.ChatRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p1.calls != 0 || p2.calls != 0 {
		t.Fatalf("no provider should be called, got %d/%d", p1.calls, p2.calls)
	}
}
