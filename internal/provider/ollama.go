package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ragagent/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
)

// Ollama talks to a local or hosted Ollama server through /api/chat.
type Ollama struct {
	apiBase      string
	defaultModel string
	client       *http.Client
	retry        retryPolicy
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	DefaultModel string
	Client       *http.Client
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	o := &Ollama{
		apiBase:      strings.TrimRight(orDefault(cfg.APIBase, ollamaDefaultBase), "/"),
		defaultModel: orDefault(cfg.DefaultModel, ollamaDefaultModel),
		client:       cfg.Client,
		retry:        defaultRetryPolicy,
		logger:       cfg.Logger,
	}
	if o.client == nil {
		o.client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func (o *Ollama) Name() string { return "ollama" }

// Models lists common tags; the server's own list lives at GET /api/tags.
func (o *Ollama) Models() []string {
	return []string{"llama3.1:8b", "llama3.1:70b", "llama3.2:3b", "mistral", "qwen2.5"}
}

func (o *Ollama) SupportsToolCalling() bool { return true }

func (o *Ollama) Healthy(ctx context.Context) error {
	return probe(ctx, o.client, o.apiBase+"/api/tags", "", "ollama")
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []wireMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Tools    []functionTool `json:"tools,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         wireMessage `json:"message"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

func (o *Ollama) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	body := ollamaChatRequest{
		Model:    orDefault(req.Model, o.defaultModel),
		Messages: wireMessages(req.Messages, false),
		Tools:    functionTools(req.Tools),
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		body.Options = map[string]any{}
		if req.Temperature > 0 {
			body.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			body.Options["num_predict"] = req.MaxTokens
		}
	}

	start := time.Now()
	var resp ollamaChatResponse
	if err := o.retry.postJSON(ctx, o.client, o.apiBase+"/api/chat", "", body, &resp, o.logger); err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}

	out := &domain.ChatResponse{
		Content:      resp.Message.Content,
		FinishReason: resp.DoneReason,
		ToolCalls:    domainToolCalls(resp.Message.ToolCalls),
		Usage: domain.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}
	// Ollama reports "stop" even when the model asked for tools.
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out, nil
}
