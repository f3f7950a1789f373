package knowledge

import (
	"fmt"
	"strings"

	"ragagent/internal/domain"
	"ragagent/internal/tokenizer"
)

const (
	defaultChunkSize    = 256
	defaultChunkOverlap = 32
)

// Chunker splits document text into overlapping windows. The window unit is
// words, or model tokens when a codec is set and its encoding is available.
type Chunker struct {
	size    int
	overlap int
	codec   tokenizer.Codec
	counter tokenizer.Counter
}

type ChunkerConfig struct {
	Size    int             // window size in units (default: 256)
	Overlap int             // units shared by neighbouring windows (default: 32)
	Codec   tokenizer.Codec // optional; enables token windows
}

func NewChunker(cfg ChunkerConfig) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = defaultChunkSize
	}
	if cfg.Overlap <= 0 || cfg.Overlap >= cfg.Size {
		cfg.Overlap = min(defaultChunkOverlap, cfg.Size/4)
	}
	c := &Chunker{size: cfg.Size, overlap: cfg.Overlap, codec: cfg.Codec, counter: tokenizer.Words{}}
	if cfg.Codec != nil {
		c.counter = cfg.Codec
	}
	return c
}

// Chunk splits doc.Text into chunks whose IDs are "<docID>_<n>".
func (c *Chunker) Chunk(doc domain.Document) []domain.DocumentChunk {
	var parts []string
	if c.codec != nil {
		parts = c.tokenWindows(doc.Text)
	}
	if parts == nil {
		parts = c.wordWindows(doc.Text)
	}

	chunks := make([]domain.DocumentChunk, 0, len(parts))
	for i, content := range parts {
		chunks = append(chunks, domain.DocumentChunk{
			ID:         fmt.Sprintf("%s_%d", doc.ID, i),
			DocumentID: doc.ID,
			DocName:    doc.Name,
			Content:    content,
			ChunkIndex: i,
			TokenCount: c.counter.Count(content),
		})
	}
	return chunks
}

func (c *Chunker) step() int {
	step := c.size - c.overlap
	if step <= 0 {
		step = c.size
	}
	return step
}

func (c *Chunker) wordWindows(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var out []string
	for i := 0; i < len(words); i += c.step() {
		end := min(i+c.size, len(words))
		out = append(out, strings.Join(words[i:end], " "))
		if end >= len(words) {
			break
		}
	}
	return out
}

// tokenWindows returns nil when the codec cannot encode, so the caller falls back to words.
func (c *Chunker) tokenWindows(text string) []string {
	tokens := c.codec.Encode(text)
	if len(tokens) == 0 {
		return nil
	}

	var out []string
	for i := 0; i < len(tokens); i += c.step() {
		end := min(i+c.size, len(tokens))
		if s := strings.TrimSpace(c.codec.Decode(tokens[i:end])); s != "" {
			out = append(out, s)
		}
		if end >= len(tokens) {
			break
		}
	}
	return out
}
