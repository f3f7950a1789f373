package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ragagent/internal/domain"
	"ragagent/internal/tool"
)

const (
	defaultMaxIterations    = 10
	defaultLLMMaxTokens     = 2048
	defaultMaxParallelTools = 4
	defaultRateBurst        = 5
)

// ErrMaxIterations is returned when the model keeps calling tools past the iteration limit.
var ErrMaxIterations = errors.New("agent reached the iteration limit")

// noAnswerText is returned when the model ends a run without any text.
const noAnswerText = "I've completed processing but have no additional response."

// Agent answers a query by letting the model call tools until it produces a
// final answer. Runs share no state, so one Agent serves concurrent callers.
type Agent struct {
	provider      domain.Provider
	tools         *tool.Registry
	filter        *ToolFilter
	prompt        *PromptBuilder
	logger        *slog.Logger
	model         string
	temperature   float64
	maxTokens     int
	maxIterations int
	maxParallel   int
	rateLimiter   *RateLimiter
}

// Config holds all dependencies and tuning parameters for an Agent.
type Config struct {
	Provider          domain.Provider // required
	Tools             *tool.Registry  // required
	SystemPrompt      string          // default: DocumentAgentPrompt
	SystemPromptExtra string
	Model             string
	Temperature       float64
	MaxTokens         int
	MaxIterations     int     // default 10
	MaxParallelTools  int     // default 4
	RatePerMinute     float64 // 0 disables rate limiting
	AllowedTools      []string
	DeniedTools       []string
	Logger            *slog.Logger
}

func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = defaultMaxParallelTools
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultLLMMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &Agent{
		provider:      cfg.Provider,
		tools:         cfg.Tools,
		filter:        NewToolFilter(cfg.AllowedTools, cfg.DeniedTools),
		prompt:        NewPromptBuilder(cfg.SystemPrompt, cfg.SystemPromptExtra),
		logger:        cfg.Logger,
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		maxIterations: cfg.MaxIterations,
		maxParallel:   cfg.MaxParallelTools,
	}
	if cfg.RatePerMinute > 0 {
		a.rateLimiter = NewRateLimiter(defaultRateBurst, cfg.RatePerMinute)
	}
	return a, nil
}

// Tools returns the definitions the model is offered, in registration order.
func (a *Agent) Tools() []domain.ToolDefinition {
	return a.filter.FilterDefinitions(a.tools.GetDefinitions())
}

// SystemPrompt returns the prompt sent at the start of every run.
func (a *Agent) SystemPrompt() string {
	return a.prompt.SystemPrompt(a.Tools())
}

// Run answers query: call the LLM, execute requested tools, repeat until the
// model answers without tool calls. A failing tool aborts the run and its
// error is returned.
func (a *Agent) Run(ctx context.Context, query string) (string, error) {
	toolDefs := a.Tools()
	messages := a.prompt.BuildMessages(query, toolDefs)

	for iteration := 0; iteration < a.maxIterations; iteration++ {
		a.logger.Debug("agent iteration", "iteration", iteration+1, "messages", len(messages))

		if err := a.rateLimiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}

		startTime := time.Now()
		resp, err := a.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       a.model,
			MaxTokens:   a.maxTokens,
			Temperature: a.temperature,
		})
		if err != nil {
			return "", fmt.Errorf("LLM error: %w", err)
		}
		resp.LatencyMs = time.Since(startTime).Milliseconds()

		// Fallback: some smaller models embed tool calls as JSON in the content field.
		if !resp.HasToolCalls() && resp.Content != "" {
			if extracted := extractToolCallsFromContent(resp.Content); len(extracted) > 0 {
				resp.ToolCalls = extracted
				resp.Content = ""
				a.logger.Info("extracted tool calls from content text", "count", len(extracted))
			}
		}

		if !resp.HasToolCalls() {
			answer := stripRolePrefix(resp.Content)
			if answer == "" {
				answer = noAnswerText
			}
			a.logger.Info("agent finished", "iterations", iteration+1, "latency_ms", resp.LatencyMs)
			return answer, nil
		}

		messages = a.prompt.AddAssistantMessage(messages, resp.Content, resp.ToolCalls)

		results, err := a.executeTools(ctx, resp.ToolCalls)
		if err != nil {
			return "", err
		}
		for i, tc := range resp.ToolCalls {
			messages = a.prompt.AddToolResult(messages, tc.ID, tc.Name, results[i])
		}
	}

	return "", fmt.Errorf("%w (%d)", ErrMaxIterations, a.maxIterations)
}

// executeTools runs one turn's tool calls in parallel with bounded
// concurrency and returns their results in call order. The first failing
// call, in call order, fails the turn.
func (a *Agent) executeTools(ctx context.Context, calls []domain.ToolCall) ([]string, error) {
	results := make([]string, len(calls))
	errs := make([]error, len(calls))
	sem := make(chan struct{}, a.maxParallel)
	var wg sync.WaitGroup

	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc domain.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx], errs[idx] = a.executeTool(ctx, tc)
		}(i, tc)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", calls[i].Name, err)
		}
	}
	return results, nil
}

// executeTool runs a single tool call. Calls to tools the model was not
// offered are answered with a message instead of an error so the model can
// correct itself.
func (a *Agent) executeTool(ctx context.Context, tc domain.ToolCall) (string, error) {
	name := resolveToolName(tc.Name, a.tools.Names())
	a.logger.Info("executing tool", "tool", name)

	if !a.filter.IsAllowed(name) {
		return fmt.Sprintf("Tool %s is not available.", name), nil
	}
	if a.tools.Get(name) == nil {
		return fmt.Sprintf("Unknown tool %s. Available tools: %v", name, a.filter.FilterNames(a.tools.Names())), nil
	}

	if a.logger.Enabled(ctx, slog.LevelDebug) {
		if argsJSON, err := json.Marshal(tc.Arguments); err == nil {
			a.logger.Debug("tool arguments", "tool", name, "args", string(argsJSON))
		}
	}

	result, err := a.tools.Execute(ctx, name, tc.Arguments)
	if err != nil {
		return "", err
	}

	a.logger.Debug("tool completed", "tool", name, "result_len", len(result))
	return result, nil
}
