package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ragagent/internal/domain"
	"ragagent/internal/metrics"
	"ragagent/internal/tokenizer"
	"ragagent/internal/tool"
)

const (
	KnowledgeBaseToolName = "knowledge_base"
	DocumentAgentToolName = "document_agent"
)

const (
	knowledgeBaseApology = "I encountered an error while searching the knowledge base."
	documentAgentApology = "I encountered an error while processing your complex query."
)

const knowledgeBaseDescription = `Access the CBT manual and mental health knowledge base. It contains a therapist's guide to brief cognitive behavioral therapy, specific techniques and interventions, patient handouts and exercises, treatment planning approaches, and evidence-based strategies for anxiety, depression and related conditions.

Use this to find techniques for a user's issue, exercises or homework assignments, patient handouts, or evidence-based approaches for specific disorders.`

const documentAgentDescription = `Advanced reasoning tool for complex therapeutic questions that need deeper analysis across documents: case conceptualization, multi-step treatment planning, integrating several techniques. Only use it when the knowledge_base tool is not sufficient.`

// QueryError is a failed shell tool call. The caller only ever sees the
// apology text; the error itself goes to the log and the call trace.
type QueryError struct {
	Tool  string
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query failed: %v", e.Tool, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Backend answers the two kinds of shell queries.
type Backend interface {
	Query(ctx context.Context, q string) (*domain.QueryResponse, error)
	Run(ctx context.Context, q string) (string, error)
}

// ShellConfig configures a Shell.
type ShellConfig struct {
	Backend   Backend           // required
	Traces    domain.TraceStore // optional
	Counter   tokenizer.Counter // default: tokenizer.Words
	Metrics   *metrics.Collector
	SessionID string
	Logger    *slog.Logger
}

// Shell exposes the backend as the function tools of a voice session. Its
// tools never return an error: failures become a fixed apology.
type Shell struct {
	backend   Backend
	traces    domain.TraceStore
	counter   tokenizer.Counter
	metrics   *metrics.Collector
	sessionID string
	logger    *slog.Logger
	now       func() time.Time
	tools     map[string]domain.Tool
}

func NewShell(cfg ShellConfig) *Shell {
	if cfg.Counter == nil {
		cfg.Counter = tokenizer.Words{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New("ragagent")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Shell{
		backend:   cfg.Backend,
		traces:    cfg.Traces,
		counter:   cfg.Counter,
		metrics:   cfg.Metrics,
		sessionID: cfg.SessionID,
		logger:    cfg.Logger,
		now:       time.Now,
	}
	s.tools = map[string]domain.Tool{
		KnowledgeBaseToolName: &shellTool{
			shell:       s,
			name:        KnowledgeBaseToolName,
			description: knowledgeBaseDescription,
			apology:     knowledgeBaseApology,
			call:        s.queryKnowledgeBase,
		},
		DocumentAgentToolName: &shellTool{
			shell:       s,
			name:        DocumentAgentToolName,
			description: documentAgentDescription,
			apology:     documentAgentApology,
			call:        s.runDocumentAgent,
		},
	}
	return s
}

// Tools returns the shell tools sorted by name.
func (s *Shell) Tools() []domain.Tool {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.Tool, 0, len(names))
	for _, name := range names {
		out = append(out, s.tools[name])
	}
	return out
}

// Tool returns the shell tool with the given name, or nil.
func (s *Shell) Tool(name string) domain.Tool {
	return s.tools[name]
}

// Invoke runs a shell tool. The only error is an unknown tool name.
func (s *Shell) Invoke(ctx context.Context, name, query string) (string, error) {
	t, ok := s.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown shell tool: %s", name)
	}
	return t.Execute(ctx, map[string]any{"query": query})
}

// Metrics returns the usage collector.
func (s *Shell) Metrics() *metrics.Collector {
	return s.metrics
}

type callResult struct {
	text       string
	confidence float64
	sources    int
}

func (s *Shell) queryKnowledgeBase(ctx context.Context, q string) (callResult, error) {
	resp, err := s.backend.Query(ctx, q)
	if err != nil {
		return callResult{}, err
	}
	res := callResult{text: resp.String(), sources: len(resp.Sources)}
	if len(resp.Sources) > 0 {
		res.confidence = resp.Sources[0].Score
	}
	return res, nil
}

func (s *Shell) runDocumentAgent(ctx context.Context, q string) (callResult, error) {
	text, err := s.backend.Run(ctx, q)
	if err != nil {
		return callResult{}, err
	}
	return callResult{text: text}, nil
}

// invoke times one call, records it, and turns failures into the apology.
func (s *Shell) invoke(ctx context.Context, t *shellTool, query string) string {
	labels := fmt.Sprintf("tool=%q", t.name)
	s.metrics.Counter("shell_invocations_total", "Shell tool invocations", labels).Inc()
	inFlight := s.metrics.Gauge("shell_in_flight", "Shell tool calls in progress", "")
	inFlight.Inc()
	defer inFlight.Dec()

	s.record(ctx, domain.CallTrace{
		MessageType: domain.TraceUser,
		Message:     query,
		TokenCount:  s.counter.Count(query),
		Status:      domain.TraceSuccess,
		Metadata:    map[string]any{"tool": t.name},
	})

	start := s.now()
	res, err := t.call(ctx, query)
	elapsed := s.now().Sub(start)
	s.metrics.Histogram("shell_latency_seconds", "Shell tool latency in seconds", labels, metrics.ToolLatencyBuckets).
		Observe(elapsed.Seconds())

	reply := domain.CallTrace{
		MessageType:  domain.TraceAgent,
		ResponseTime: elapsed.Milliseconds(),
		Status:       domain.TraceSuccess,
		Metadata:     map[string]any{"tool": t.name},
	}
	if err != nil {
		qerr := &QueryError{Tool: t.name, Query: query, Err: err}
		s.logger.Error("shell tool failed", "tool", t.name, "error", qerr)
		s.metrics.Counter("shell_errors_total", "Shell tool failures", labels).Inc()

		reply.Message = t.apology
		reply.Status = domain.TraceError
		reply.Metadata["error"] = qerr.Error()
		res.text = t.apology
	} else {
		s.logger.Info("shell tool response", "tool", t.name, "chars", len(res.text), "duration", elapsed)
		reply.Message = res.text
		reply.Confidence = res.confidence
		if res.sources > 0 {
			reply.Metadata["sources"] = res.sources
		}
	}
	reply.TokenCount = s.counter.Count(reply.Message)
	s.record(ctx, reply)
	return res.text
}

func (s *Shell) record(ctx context.Context, t domain.CallTrace) {
	if s.traces == nil {
		return
	}
	t.SessionID = s.sessionID
	t.Timestamp = s.now()
	// A trace failure must not turn into a failed tool call.
	if err := s.traces.AddTrace(context.WithoutCancel(ctx), t); err != nil {
		s.logger.Warn("failed to record call trace", "error", err)
	}
}

type shellTool struct {
	shell       *Shell
	name        string
	description string
	apology     string
	call        func(ctx context.Context, q string) (callResult, error)
}

func (t *shellTool) Name() string        { return t.name }
func (t *shellTool) Description() string { return t.description }
func (t *shellTool) Parameters() map[string]any {
	return tool.ToolParameters(
		map[string]tool.Param{
			"query": {Type: "string", Description: "The user's question, phrased for a document search"},
		},
		[]string{"query"},
	)
}

// Execute always returns text and a nil error.
func (t *shellTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(tool.ArgsString(args, "query"))
	if query == "" {
		return t.apology, nil
	}
	return t.shell.invoke(ctx, t, query), nil
}
