package tool

import (
	"context"
	"fmt"
	"strings"

	"ragagent/internal/domain"
)

// IndexQueryToolName is the name of the tool that searches every document.
const IndexQueryToolName = "query_all_documents"

const indexQueryDescription = "Query across all documents in the knowledge base. Use this for broad questions that might span multiple documents."

// Engine answers a natural-language query.
type Engine interface {
	Query(ctx context.Context, q string) (*domain.QueryResponse, error)
}

// QueryEngineTool exposes an Engine as a tool with a single "query" argument.
// Every call runs a fresh query; nothing is cached.
type QueryEngineTool struct {
	name        string
	description string
	engine      Engine
}

func NewQueryEngineTool(name, description string, engine Engine) *QueryEngineTool {
	return &QueryEngineTool{name: name, description: description, engine: engine}
}

// NewIndexQueryTool wraps the engine over the whole index as query_all_documents.
func NewIndexQueryTool(engine Engine) *QueryEngineTool {
	return NewQueryEngineTool(IndexQueryToolName, indexQueryDescription, engine)
}

func (t *QueryEngineTool) Name() string        { return t.name }
func (t *QueryEngineTool) Description() string { return t.description }
func (t *QueryEngineTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "The question or search text, in natural language"},
		},
		[]string{"query"},
	)
}

func (t *QueryEngineTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(ArgsString(args, "query"))
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}
	resp, err := t.engine.Query(ctx, query)
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.name, err)
	}
	return resp.String(), nil
}
