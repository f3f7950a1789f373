package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"ragagent/internal/agent"
	"ragagent/internal/config"
	"ragagent/internal/domain"
	"ragagent/internal/knowledge"
	"ragagent/internal/metrics"
	"ragagent/internal/provider"
	"ragagent/internal/tokenizer"
	"ragagent/internal/tool"
	"ragagent/internal/trace"
)

// Runtime owns the index, the agent and the shell for one process. Queries
// hold a read lock; Update and Rebuild hold the write lock, so an update
// never runs while a query is in flight.
type Runtime struct {
	deps    Deps
	logger  *slog.Logger
	traces  domain.TraceStore
	metrics *metrics.Collector
	shell   *Shell

	mu        sync.RWMutex
	index     *knowledge.Index
	agent     *agent.Agent
	engine    *knowledge.QueryEngine
	fileTools map[string]tool.FileTools
}

// New builds a Runtime from configuration: embedder, chunker, provider,
// synthesizer and trace store, then loads or builds the index.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	deps, err := DepsFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	var traces domain.TraceStore
	if cfg.Traces.Enabled {
		store, err := trace.NewSQLiteStore(cfg.Traces.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open trace store: %w", err)
		}
		traces = store
	}

	rt, err := NewRuntime(ctx, deps, RuntimeOptions{
		Traces:  traces,
		Counter: tokenizer.New(cfg.Agent.Model, logger),
	})
	if err != nil {
		if traces != nil {
			traces.Close()
		}
		return nil, err
	}
	return rt, nil
}

// RuntimeOptions are the optional parts of a Runtime.
type RuntimeOptions struct {
	Traces    domain.TraceStore
	Counter   tokenizer.Counter
	Metrics   *metrics.Collector
	SessionID string // default: a fresh uuid
}

// NewRuntime assembles a Runtime from explicit dependencies.
func NewRuntime(ctx context.Context, deps Deps, opts RuntimeOptions) (*Runtime, error) {
	if err := deps.defaults(); err != nil {
		return nil, err
	}
	a, ix, fileTools, err := SetupCombinedAgent(ctx, deps)
	if err != nil {
		return nil, err
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.New("ragagent")
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	rt := &Runtime{
		deps:      deps,
		logger:    deps.Logger,
		traces:    opts.Traces,
		metrics:   opts.Metrics,
		index:     ix,
		agent:     a,
		engine:    deps.aggregateEngine(ix),
		fileTools: fileTools,
	}
	rt.shell = NewShell(ShellConfig{
		Backend:   rt,
		Traces:    opts.Traces,
		Counter:   opts.Counter,
		Metrics:   opts.Metrics,
		SessionID: opts.SessionID,
		Logger:    deps.Logger,
	})
	return rt, nil
}

// DepsFromConfig translates configuration into assembly dependencies.
func DepsFromConfig(cfg *config.Config, logger *slog.Logger) (Deps, error) {
	factory := provider.NewFactory(cfg, logger)

	var embedder domain.Embedder
	switch cfg.Knowledge.Embedder.Type {
	case "", "hash":
		embedder = knowledge.NewHashEmbedder(cfg.Knowledge.Embedder.Dimension)
	default:
		e, err := factory.Embedder(cfg.Knowledge.Embedder)
		if err != nil {
			return Deps{}, err
		}
		embedder = e
	}

	chunkCfg := knowledge.ChunkerConfig{Size: cfg.Knowledge.ChunkSize, Overlap: cfg.Knowledge.ChunkOverlap}
	if cfg.Knowledge.ChunkUnit == "tokens" {
		chunkCfg.Codec = tokenizer.New(cfg.Agent.Model, logger)
	}

	p, err := factory.AgentProvider()
	if err != nil {
		return Deps{}, fmt.Errorf("agent provider: %w", err)
	}

	deps := Deps{
		DataDir:          cfg.Knowledge.DataDir,
		PersistDir:       cfg.Knowledge.PersistDir,
		Embedder:         embedder,
		Chunker:          knowledge.NewChunker(chunkCfg),
		TopK:             cfg.Knowledge.SearchTopK,
		SummarySentences: cfg.Knowledge.SummarySentences,
		Agent: agent.Config{
			Provider:          p,
			Model:             cfg.Agent.Model,
			Temperature:       cfg.Agent.Temperature,
			MaxIterations:     cfg.Agent.MaxIterations,
			RatePerMinute:     cfg.Agent.RatePerMinute,
			SystemPromptExtra: cfg.Agent.SystemPromptExtra,
			AllowedTools:      cfg.Agent.AllowedTools,
			DeniedTools:       cfg.Agent.DeniedTools,
		},
		Logger: logger,
	}
	if cfg.Knowledge.Synthesis == "llm" {
		deps.Synthesizer = &knowledge.LLMSynthesizer{Provider: p, Model: cfg.Agent.Model, Temperature: cfg.Agent.Temperature}
		deps.Summarizer = &knowledge.LLMSummarizer{Provider: p, Model: cfg.Agent.Model, Temperature: cfg.Agent.Temperature}
	}
	return deps, nil
}

// Query runs a direct retrieval query over every document.
func (r *Runtime) Query(ctx context.Context, q string) (*domain.QueryResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine.Query(ctx, q)
}

// Run answers q with the tool-using agent.
func (r *Runtime) Run(ctx context.Context, q string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agent.Run(ctx, q)
}

// Update inserts documents added to the data directory since the index was
// built and rebuilds the tools over the result.
func (r *Runtime) Update(ctx context.Context) (knowledge.UpdateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ix, res, err := knowledge.UpdateIndexWithNewDocuments(ctx, r.deps.BuildOptions())
	if err != nil {
		return res, err
	}
	if err := r.swap(ctx, ix); err != nil {
		return res, err
	}
	return res, nil
}

// Rebuild discards the persisted index and builds it again from the data directory.
func (r *Runtime) Rebuild(ctx context.Context) (knowledge.BuildResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ix, res, err := knowledge.RebuildIndex(ctx, r.deps.BuildOptions())
	if err != nil {
		return res, err
	}
	if err := r.swap(ctx, ix); err != nil {
		return res, err
	}
	return res, nil
}

// swap replaces the index and everything built over it. Callers hold r.mu.
func (r *Runtime) swap(ctx context.Context, ix *knowledge.Index) error {
	a, fileTools, err := assemble(ctx, r.deps, ix)
	if err != nil {
		return err
	}
	r.index = ix
	r.agent = a
	r.engine = r.deps.aggregateEngine(ix)
	r.fileTools = fileTools
	return nil
}

func (r *Runtime) Shell() *Shell               { return r.shell }
func (r *Runtime) Traces() domain.TraceStore   { return r.traces }
func (r *Runtime) Metrics() *metrics.Collector { return r.metrics }

// Stats reports the size of the current index.
func (r *Runtime) Stats() knowledge.IndexStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.Stats()
}

// AgentTools returns the definitions offered to the agent, aggregate tool first.
func (r *Runtime) AgentTools() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agent.Tools()
}

// FilePaths returns the documents that have their own tools, sorted.
func (r *Runtime) FilePaths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.fileTools))
	for p := range r.fileTools {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close releases the trace store and logs the session usage.
func (r *Runtime) Close() error {
	r.logger.Info("session usage", "metrics", r.metrics.Snapshot())
	if r.traces == nil {
		return nil
	}
	if err := r.traces.Close(); err != nil {
		return fmt.Errorf("close trace store: %w", err)
	}
	return nil
}
