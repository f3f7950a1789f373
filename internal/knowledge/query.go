package knowledge

import (
	"context"
	"fmt"
	"strings"

	"ragagent/internal/domain"
)

// NoResultsText is returned when retrieval finds nothing to answer from.
const NoResultsText = "No relevant information was found in the knowledge base."

// Retriever finds the passages most similar to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, documentID string) ([]domain.SearchResult, error)
}

// Synthesizer turns retrieved passages into an answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, results []domain.SearchResult) (string, error)
}

// QueryEngine retrieves passages for a query and synthesizes a response.
// DocumentID restricts retrieval to one document.
type QueryEngine struct {
	Retriever   Retriever
	Synthesizer Synthesizer
	TopK        int
	DocumentID  string
}

func (e *QueryEngine) Query(ctx context.Context, q string) (*domain.QueryResponse, error) {
	results, err := e.Retriever.Retrieve(ctx, q, e.TopK, e.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if len(results) == 0 {
		return &domain.QueryResponse{Text: NoResultsText}, nil
	}
	synth := e.Synthesizer
	if synth == nil {
		synth = ExtractiveSynthesizer{}
	}
	text, err := synth.Synthesize(ctx, q, results)
	if err != nil {
		return nil, err
	}
	return &domain.QueryResponse{Text: text, Sources: results}, nil
}

// ExtractiveSynthesizer answers with the retrieved passages themselves,
// numbered and followed by their sources. It needs no model.
type ExtractiveSynthesizer struct {
	MaxChars int // per passage, 0 means unlimited
}

func (s ExtractiveSynthesizer) Synthesize(_ context.Context, _ string, results []domain.SearchResult) (string, error) {
	var sb strings.Builder
	for i, r := range results {
		snippet := strings.TrimSpace(r.Chunk.Content)
		if s.MaxChars > 0 && len(snippet) > s.MaxChars {
			snippet = truncateUTF8(snippet, s.MaxChars) + "...(truncated)"
		}
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, snippet)
	}
	sb.WriteString(FormatSources(results))
	return sb.String(), nil
}

// LLMSynthesizer asks a chat model to answer from the retrieved passages.
type LLMSynthesizer struct {
	Provider    domain.Provider
	Model       string
	Temperature float64
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, query string, results []domain.SearchResult) (string, error) {
	resp, err := s.Provider.Chat(ctx, domain.ChatRequest{
		Model:       s.Model,
		Temperature: s.Temperature,
		Messages: []domain.Message{
			{Role: "system", Content: BuildContext(results)},
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	return strings.TrimSpace(resp.Content) + "\n\n" + FormatSources(results), nil
}

// BuildContext renders retrieved passages as numbered notes for a model prompt.
func BuildContext(results []domain.SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Relevant Knowledge\n")
	sb.WriteString("Answer using only the notes below. If they do not contain the answer, say so.\n\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "### [%d] Source: %s (chunk %d)\n", i+1, r.Chunk.DocName, r.Chunk.ChunkIndex)
		sb.WriteString(strings.TrimSpace(r.Chunk.Content))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Cite sources like [1], [2].")
	return sb.String()
}

// FormatSources lists the documents behind results, numbered like the passages.
func FormatSources(results []domain.SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Sources:")
	for i, r := range results {
		fmt.Fprintf(&sb, "\n[%d] %s (chunk %d, score %.3f)", i+1, r.Chunk.DocName, r.Chunk.ChunkIndex, r.Score)
	}
	return sb.String()
}
