package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const defaultEmbeddingBatch = 16

// EmbedderConfig configures a remote embedding endpoint.
type EmbedderConfig struct {
	APIBase   string
	APIKey    string
	Model     string
	Dimension int // optional; learned from the first response when zero
	BatchSize int
	Timeout   time.Duration
	Client    *http.Client
	Logger    *slog.Logger
}

func (c *EmbedderConfig) applyDefaults(base, model string) {
	if c.APIBase == "" {
		c.APIBase = base
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
	if c.Model == "" {
		c.Model = model
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultEmbeddingBatch
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Client == nil {
		c.Client = SharedHTTPClient(c.Timeout)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// remoteEmbedder batches texts and tracks the vector size it has seen.
type remoteEmbedder struct {
	cfg   EmbedderConfig
	dim   atomic.Int64
	retry retryPolicy
	call  func(ctx context.Context, batch []string) ([][]float32, error)
}

func (e *remoteEmbedder) Dimension() int { return int(e.dim.Load()) }

func (e *remoteEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		vecs, err := e.call(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(vecs), end-start)
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return nil, fmt.Errorf("embedding response missing vector %d", start+i)
			}
			if err := e.checkDimension(len(v)); err != nil {
				return nil, err
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *remoteEmbedder) checkDimension(n int) error {
	if e.dim.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if got := e.dim.Load(); got != int64(n) {
		return fmt.Errorf("embedding dimension changed: expected %d, got %d", got, n)
	}
	return nil
}

func (e *remoteEmbedder) post(ctx context.Context, url string, body any, out any) error {
	if err := e.retry.postJSON(ctx, e.cfg.Client, url, e.cfg.APIKey, body, out, e.cfg.Logger); err != nil {
		return fmt.Errorf("embedding request: %w", err)
	}
	return nil
}

// RemoteEmbedder is an embedder backed by an HTTP embedding endpoint.
type RemoteEmbedder struct {
	remoteEmbedder
	name string
}

func (e *RemoteEmbedder) Name() string { return e.name }

func newRemoteEmbedder(kind string, cfg EmbedderConfig) *RemoteEmbedder {
	e := &RemoteEmbedder{name: kind + ":" + cfg.Model}
	e.cfg = cfg
	e.retry = defaultRetryPolicy
	if cfg.Dimension > 0 {
		e.dim.Store(int64(cfg.Dimension))
	}
	return e
}

// NewOpenAIEmbedder embeds through an OpenAI-compatible /embeddings endpoint.
func NewOpenAIEmbedder(cfg EmbedderConfig) *RemoteEmbedder {
	cfg.applyDefaults("https://api.openai.com/v1", "text-embedding-3-small")
	e := newRemoteEmbedder("openai", cfg)
	e.call = func(ctx context.Context, batch []string) ([][]float32, error) {
		var resp struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			} `json:"data"`
		}
		req := map[string]any{"model": e.cfg.Model, "input": batch}
		if err := e.post(ctx, e.cfg.APIBase+"/embeddings", req, &resp); err != nil {
			return nil, err
		}
		// Items may arrive in any order; place each by its index.
		out := make([][]float32, len(batch))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(out) {
				return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
			}
			out[item.Index] = item.Embedding
		}
		return out, nil
	}
	return e
}

// NewOllamaEmbedder embeds through Ollama's /api/embed endpoint.
func NewOllamaEmbedder(cfg EmbedderConfig) *RemoteEmbedder {
	cfg.applyDefaults(ollamaDefaultBase, "nomic-embed-text")
	e := newRemoteEmbedder("ollama", cfg)
	e.call = func(ctx context.Context, batch []string) ([][]float32, error) {
		var resp struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		req := map[string]any{"model": e.cfg.Model, "input": batch}
		if err := e.post(ctx, e.cfg.APIBase+"/api/embed", req, &resp); err != nil {
			return nil, err
		}
		return resp.Embeddings, nil
	}
	return e
}
