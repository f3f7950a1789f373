// Package assistant assembles the document index, the tools built over it,
// and the tool-using agent into the backend the voice shell talks to.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ragagent/internal/agent"
	"ragagent/internal/domain"
	"ragagent/internal/knowledge"
	"ragagent/internal/tool"
)

// Deps holds everything SetupCombinedAgent needs.
type Deps struct {
	DataDir    string
	PersistDir string

	Embedder    domain.Embedder // required
	Chunker     *knowledge.Chunker
	Reader      knowledge.DocumentReader
	Synthesizer knowledge.Synthesizer // default: extractive
	Summarizer  knowledge.Summarizer  // default: frequency based

	TopK             int
	SummarySentences int

	// Agent carries the agent tuning. Provider is required; Tools and
	// Logger are filled in by the assembly.
	Agent agent.Config

	Logger *slog.Logger
}

func (d *Deps) defaults() error {
	if d.Embedder == nil {
		return errors.New("assistant: embedder is required")
	}
	if d.Agent.Provider == nil {
		return errors.New("assistant: agent provider is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Synthesizer == nil {
		d.Synthesizer = knowledge.ExtractiveSynthesizer{}
	}
	if d.Summarizer == nil {
		d.Summarizer = knowledge.FrequencySummarizer{}
	}
	return nil
}

// BuildOptions returns the options for building or updating the persisted index.
func (d *Deps) BuildOptions() knowledge.BuildOptions {
	return knowledge.BuildOptions{
		DataDir:    d.DataDir,
		PersistDir: d.PersistDir,
		Embedder:   d.Embedder,
		Chunker:    d.Chunker,
		Reader:     d.Reader,
		Logger:     d.Logger,
	}
}

// aggregateEngine answers queries over every document in ix.
func (d *Deps) aggregateEngine(ix *knowledge.Index) *knowledge.QueryEngine {
	return &knowledge.QueryEngine{Retriever: ix, Synthesizer: d.Synthesizer, TopK: d.TopK}
}

// SetupCombinedAgent loads or builds the persisted index, creates the
// per-document tools and the query_all_documents tool, and returns an agent
// that can call all of them.
func SetupCombinedAgent(ctx context.Context, deps Deps) (*agent.Agent, *knowledge.Index, map[string]tool.FileTools, error) {
	if err := deps.defaults(); err != nil {
		return nil, nil, nil, err
	}

	ix, res, err := knowledge.SetupPersistentIndex(ctx, deps.BuildOptions())
	if err != nil {
		return nil, nil, nil, err
	}
	deps.Logger.Info("index ready", "loaded", res.Loaded, "documents", res.Documents, "chunks", res.Chunks)

	a, fileTools, err := assemble(ctx, deps, ix)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, ix, fileTools, nil
}

// assemble builds the tools and the agent over an already loaded index.
func assemble(ctx context.Context, deps Deps, ix *knowledge.Index) (*agent.Agent, map[string]tool.FileTools, error) {
	fileTools, docTools, err := tool.CreateFileSpecificTools(ctx, deps.DataDir, tool.FileToolsOptions{
		Embedder:         deps.Embedder,
		Chunker:          deps.Chunker,
		Synthesizer:      deps.Synthesizer,
		Summarizer:       deps.Summarizer,
		TopK:             deps.TopK,
		SummarySentences: deps.SummarySentences,
		Logger:           deps.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create file tools: %w", err)
	}

	registry := tool.NewRegistry(deps.Logger)
	if err := registry.Register(tool.NewIndexQueryTool(deps.aggregateEngine(ix))); err != nil {
		return nil, nil, err
	}
	if err := registry.RegisterAll(docTools...); err != nil {
		return nil, nil, fmt.Errorf("register file tools: %w", err)
	}

	cfg := deps.Agent
	cfg.Tools = registry
	cfg.Logger = deps.Logger
	a, err := agent.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	deps.Logger.Info("agent assembled", "tools", registry.Len())
	return a, fileTools, nil
}
