package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"ragagent/internal/domain"
)

// Summarizer condenses a document's text. focus is the question that asked
// for the summary and may be empty.
type Summarizer interface {
	Summarize(ctx context.Context, text, focus string, maxSentences int) (string, error)
}

// FrequencySummarizer ranks sentences by the normalized frequency of their
// content words and returns the best ones in document order. Sentences that
// mention words from focus get a bonus.
type FrequencySummarizer struct{}

func (FrequencySummarizer) Summarize(ctx context.Context, text, focus string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text), nil
	}

	freq := map[string]float64{}
	sentTokens := make([][]string, len(sentences))
	for i, sent := range sentences {
		sentTokens[i] = tokenize(sent)
		for _, tok := range sentTokens[i] {
			if _, ok := stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	focusSet := map[string]struct{}{}
	for _, tok := range contentTokens(focus) {
		focusSet[tok] = struct{}{}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, toks := range sentTokens {
		score := 0.0
		for _, tok := range toks {
			score += freq[tok]
			if _, ok := focusSet[tok]; ok {
				score += 1
			}
		}
		if l := float64(len(toks)); l > 0 {
			score /= math.Sqrt(l)
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	n := min(maxSentences, len(scores))
	selected := make([]int, n)
	for i := range n {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)

	out := make([]string, 0, n)
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " "), nil
}

// maxSummaryInput bounds the document text sent to the model.
const maxSummaryInput = 24000

// LLMSummarizer asks a chat model for the summary.
type LLMSummarizer struct {
	Provider    domain.Provider
	Model       string
	Temperature float64
}

func (s *LLMSummarizer) Summarize(ctx context.Context, text, focus string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	text = truncateUTF8(text, maxSummaryInput)
	instruction := fmt.Sprintf("Summarize the document below in at most %d sentences.", maxSentences)
	if strings.TrimSpace(focus) != "" {
		instruction += " Focus on what is relevant to this request: " + focus
	}

	resp, err := s.Provider.Chat(ctx, domain.ChatRequest{
		Model:       s.Model,
		Temperature: s.Temperature,
		Messages: []domain.Message{
			{Role: "system", Content: "You write faithful, concise summaries. Use only the given document."},
			{Role: "user", Content: instruction + "\n\n---\n\n" + text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// SummaryEngine answers requests about one document with a summary of the whole document.
type SummaryEngine struct {
	Document   domain.Document
	Summarizer Summarizer
	Sentences  int
}

func (e *SummaryEngine) Query(ctx context.Context, q string) (*domain.QueryResponse, error) {
	summary, err := e.Summarizer.Summarize(ctx, e.Document.Text, q, e.Sentences)
	if err != nil {
		return nil, err
	}
	if summary == "" {
		summary = "The document is empty."
	}
	return &domain.QueryResponse{
		Text: fmt.Sprintf("Summary of %s:\n%s", e.Document.Name, summary),
	}, nil
}
