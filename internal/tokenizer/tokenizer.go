// Package tokenizer counts and splits text in model tokens.
package tokenizer

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used for counting when no model is given.
const DefaultEncoding = "cl100k_base"

// Counter reports the size of a text in some unit.
type Counter interface {
	Count(text string) int
}

// Codec splits text into tokens and joins them back.
type Codec interface {
	Counter
	Encode(text string) []int
	Decode(tokens []int) string
}

// Words counts whitespace-separated words. It is the fallback when no BPE
// encoding can be loaded.
type Words struct{}

func (Words) Count(text string) int { return len(strings.Fields(text)) }

// Tiktoken wraps a tiktoken encoding. The encoding is loaded on first use;
// if loading fails every call falls back to Words.
type Tiktoken struct {
	model  string
	logger *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// New returns a lazily loaded tokenizer for model. An empty or unknown model
// uses DefaultEncoding.
func New(model string, logger *slog.Logger) *Tiktoken {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiktoken{model: model, logger: logger}
}

func (t *Tiktoken) load() *tiktoken.Tiktoken {
	t.once.Do(func() {
		if t.model != "" {
			enc, err := tiktoken.EncodingForModel(t.model)
			if err == nil {
				t.enc = enc
				return
			}
			// Models tiktoken has no table for (Ollama tags and the like)
			// still get a BPE count close enough for window sizing.
			t.logger.Debug("no encoding for model, using default", "model", t.model, "encoding", DefaultEncoding, "error", err)
		}
		enc, err := tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			t.logger.Warn("tiktoken unavailable, counting words instead", "model", t.model, "error", err)
			return
		}
		t.enc = enc
	})
	return t.enc
}

// Available reports whether a BPE encoding was loaded.
func (t *Tiktoken) Available() bool { return t.load() != nil }

func (t *Tiktoken) Count(text string) int {
	if enc := t.load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return Words{}.Count(text)
}

func (t *Tiktoken) Encode(text string) []int {
	if enc := t.load(); enc != nil {
		return enc.Encode(text, nil, nil)
	}
	return nil
}

func (t *Tiktoken) Decode(tokens []int) string {
	if enc := t.load(); enc != nil {
		return enc.Decode(tokens)
	}
	return ""
}
