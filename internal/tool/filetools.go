package tool

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"strconv"

	"ragagent/internal/domain"
	"ragagent/internal/knowledge"
)

const (
	vectorToolPrefix  = "vector_tool_"
	summaryToolPrefix = "summary_tool_"
	// Room for the longer prefix and a "_NN" suffix.
	maxStemLength = MaxNameLength - len(summaryToolPrefix) - 4
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// FileTools are the two tools built for one document.
type FileTools struct {
	Path     string
	Document domain.Document
	Index    *knowledge.Index
	Vector   domain.Tool
	Summary  domain.Tool
}

// PerFileToolError reports a file whose tools could not be built.
type PerFileToolError struct {
	Path string
	Err  error
}

func (e *PerFileToolError) Error() string {
	return fmt.Sprintf("tools for %s: %v", e.Path, e.Err)
}

func (e *PerFileToolError) Unwrap() error { return e.Err }

// FileToolsOptions configures CreateFileSpecificTools.
type FileToolsOptions struct {
	Embedder         domain.Embedder // required
	Chunker          *knowledge.Chunker
	Synthesizer      knowledge.Synthesizer // default: extractive
	Summarizer       knowledge.Summarizer  // default: frequency based
	TopK             int
	SummarySentences int
	Logger           *slog.Logger
}

// CreateFileSpecificTools builds a vector tool and a summary tool for every
// regular, non-hidden file in dir, in lexical order. Each file gets its own
// single-document index. Files that fail are logged and left out. A missing
// dir yields no tools.
func CreateFileSpecificTools(ctx context.Context, dir string, opts FileToolsOptions) (map[string]FileTools, []domain.Tool, error) {
	if opts.Embedder == nil {
		return nil, nil, errors.New("file tools: embedder is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Synthesizer == nil {
		opts.Synthesizer = knowledge.ExtractiveSynthesizer{}
	}
	if opts.Summarizer == nil {
		opts.Summarizer = knowledge.FrequencySummarizer{}
	}

	byPath := make(map[string]FileTools)
	files, err := knowledge.ListFiles(dir)
	if errors.Is(err, fs.ErrNotExist) {
		opts.Logger.Warn("data directory does not exist", "dir", dir)
		return byPath, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", dir, err)
	}

	loader := knowledge.NewLoader(opts.Logger)
	used := make(map[string]bool)
	var tools []domain.Tool

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		opts.Logger.Info("getting tools for file", "path", path)

		ft, err := buildFileTools(ctx, loader, path, used, opts)
		if err != nil {
			opts.Logger.Error("skipping file", "error", err)
			continue
		}
		byPath[path] = ft
		tools = append(tools, ft.Vector, ft.Summary)
	}

	opts.Logger.Info("file tools created", "tools", len(tools), "files", len(byPath))
	return byPath, tools, nil
}

func buildFileTools(ctx context.Context, loader *knowledge.Loader, path string, used map[string]bool, opts FileToolsOptions) (FileTools, error) {
	doc, err := loader.LoadFile(ctx, path)
	if err != nil {
		return FileTools{}, &PerFileToolError{Path: path, Err: err}
	}

	ix := knowledge.NewIndex(knowledge.IndexConfig{Embedder: opts.Embedder, Chunker: opts.Chunker, Logger: opts.Logger})
	if err := ix.Insert(ctx, doc); err != nil {
		return FileTools{}, &PerFileToolError{Path: path, Err: err}
	}

	name := uniqueName(SanitizeToolName(doc.Name), used)
	vector := NewQueryEngineTool(
		vectorToolPrefix+name,
		fmt.Sprintf("Useful for questions about specific details in the document %q. Searches only that document.", doc.Name),
		&knowledge.QueryEngine{Retriever: ix, Synthesizer: opts.Synthesizer, TopK: opts.TopK, DocumentID: doc.ID},
	)
	summary := NewQueryEngineTool(
		summaryToolPrefix+name,
		fmt.Sprintf("Useful for an overview or summary of the document %q.", doc.Name),
		&knowledge.SummaryEngine{Document: doc, Summarizer: opts.Summarizer, Sentences: opts.SummarySentences},
	)
	return FileTools{Path: path, Document: doc, Index: ix, Vector: vector, Summary: summary}, nil
}

// SanitizeToolName maps a file stem onto the characters tool names allow.
func SanitizeToolName(stem string) string {
	name := unsafeNameChars.ReplaceAllString(stem, "_")
	if len(name) > maxStemLength {
		name = name[:maxStemLength]
	}
	if name == "" || name == "_" {
		name = "doc"
	}
	return name
}

// uniqueName returns base, or base_2, base_3, ... when base is taken.
func uniqueName(base string, used map[string]bool) string {
	name := base
	for n := 2; used[name]; n++ {
		name = base + "_" + strconv.Itoa(n)
	}
	used[name] = true
	return name
}
