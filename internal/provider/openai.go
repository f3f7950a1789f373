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

// OpenAI talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAI struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	retry   retryPolicy
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Client  *http.Client // defaults to SharedHTTPClient
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	o := &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(orDefault(cfg.APIBase, "https://api.openai.com/v1"), "/"),
		model:   orDefault(cfg.Model, "gpt-4o-mini"),
		client:  cfg.Client,
		retry:   defaultRetryPolicy,
		logger:  cfg.Logger,
	}
	if o.client == nil {
		o.client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func (o *OpenAI) Name() string              { return "openai" }
func (o *OpenAI) Models() []string          { return []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "o3-mini"} }
func (o *OpenAI) SupportsToolCalling() bool { return true }

func (o *OpenAI) Healthy(ctx context.Context) error {
	return probe(ctx, o.client, o.apiBase+"/models", o.apiKey, "openai")
}

type openAIRequest struct {
	Model       string         `json:"model"`
	Messages    []wireMessage  `json:"messages"`
	Tools       []functionTool `json:"tools,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	body := openAIRequest{
		Model:     orDefault(req.Model, o.model),
		Messages:  wireMessages(req.Messages, true),
		Tools:     functionTools(req.Tools),
		MaxTokens: max(req.MaxTokens, 0),
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	start := time.Now()
	var resp openAIResponse
	if err := o.retry.postJSON(ctx, o.client, o.apiBase+"/chat/completions", o.apiKey, body, &resp, o.logger); err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}

	out := &domain.ChatResponse{
		FinishReason: "stop",
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Content = choice.Message.Content
		out.FinishReason = choice.FinishReason
		out.ToolCalls = domainToolCalls(choice.Message.ToolCalls)
	}
	return out, nil
}

// orDefault returns v, or fallback when v is empty.
func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
