package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/viant/vec/search"

	"ragagent/internal/domain"
)

// Index holds documents, their chunks and one vector per chunk in memory.
// Retrieval is a brute-force cosine scan. Insert is the only mutation.
type Index struct {
	mu       sync.RWMutex
	embedder domain.Embedder
	chunker  *Chunker
	logger   *slog.Logger

	docs    []domain.Document
	chunks  []domain.DocumentChunk
	vectors [][]float32
	mags    []float32
	dim     int
	seen    map[docKey]struct{}
	dirty   bool
}

type docKey struct {
	hash string
	path string
}

type IndexConfig struct {
	Embedder domain.Embedder // required
	Chunker  *Chunker        // optional, defaults to NewChunker(ChunkerConfig{})
	Logger   *slog.Logger
}

// IndexStats summarizes an index for status output.
type IndexStats struct {
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Dimension int    `json:"dimension"`
	Embedder  string `json:"embedder"`
	Dirty     bool   `json:"dirty"`
}

func NewIndex(cfg IndexConfig) *Index {
	if cfg.Chunker == nil {
		cfg.Chunker = NewChunker(ChunkerConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Index{
		embedder: cfg.Embedder,
		chunker:  cfg.Chunker,
		logger:   cfg.Logger,
		dim:      cfg.Embedder.Dimension(),
		seen:     make(map[docKey]struct{}),
	}
}

// Insert chunks and embeds doc and adds it to the index. Inserting the same
// document twice stores it twice.
func (ix *Index) Insert(ctx context.Context, doc domain.Document) error {
	chunks := ix.chunker.Chunk(doc)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = ix.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %s: %w", doc.Name, err)
		}
		if len(vectors) != len(chunks) {
			return fmt.Errorf("embed %s: got %d vectors for %d chunks", doc.Name, len(vectors), len(chunks))
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, v := range vectors {
		if ix.dim == 0 {
			ix.dim = len(v)
		}
		if len(v) != ix.dim {
			return fmt.Errorf("embed %s: vector dimension %d, index has %d", doc.Name, len(v), ix.dim)
		}
	}

	ix.docs = append(ix.docs, doc)
	for i, c := range chunks {
		ix.chunks = append(ix.chunks, c)
		ix.vectors = append(ix.vectors, vectors[i])
		ix.mags = append(ix.mags, search.Float32s(vectors[i]).Magnitude())
	}
	ix.seen[docKey{doc.ContentHash, doc.SourcePath}] = struct{}{}
	ix.dirty = true

	ix.logger.Debug("document indexed", "name", doc.Name, "chunks", len(chunks))
	return nil
}

// InsertAll inserts docs in order and stops at the first failure.
func (ix *Index) InsertAll(ctx context.Context, docs []domain.Document) error {
	for _, doc := range docs {
		if err := ix.Insert(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Retrieve returns the topK chunks most similar to query, best first. When
// documentID is non-empty only that document's chunks are considered.
func (ix *Index) Retrieve(ctx context.Context, query string, topK int, documentID string) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 3
	}
	qv, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, errors.New("embed query: no vector returned")
	}
	q := search.Float32s(qv[0])
	qm := q.Magnitude()

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.chunks) == 0 {
		return nil, nil
	}
	if len(q) != ix.dim {
		return nil, fmt.Errorf("query dimension %d, index has %d", len(q), ix.dim)
	}

	type scored struct {
		idx   int
		score float64
	}
	hits := make([]scored, 0, len(ix.chunks))
	for i, c := range ix.chunks {
		if documentID != "" && c.DocumentID != documentID {
			continue
		}
		var score float64
		if qm > 0 && ix.mags[i] > 0 {
			score = 1 - float64(q.CosineDistance(ix.vectors[i]))
		}
		hits = append(hits, scored{idx: i, score: score})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]domain.SearchResult, len(hits))
	for n, h := range hits {
		out[n] = domain.SearchResult{Chunk: ix.chunks[h.idx], Score: h.score}
	}
	return out, nil
}

// Contains reports whether a document with this content hash and source path was inserted.
func (ix *Index) Contains(contentHash, sourcePath string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.seen[docKey{contentHash, sourcePath}]
	return ok
}

// Documents returns a copy of the indexed documents in insertion order.
func (ix *Index) Documents() []domain.Document {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]domain.Document(nil), ix.docs...)
}

// Dirty reports whether the index has inserts that were not persisted yet.
func (ix *Index) Dirty() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dirty
}

func (ix *Index) Stats() IndexStats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return IndexStats{
		Documents: len(ix.docs),
		Chunks:    len(ix.chunks),
		Dimension: ix.dim,
		Embedder:  ix.embedder.Name(),
		Dirty:     ix.dirty,
	}
}

// Persist writes a full snapshot of the index to dir/index.db and clears the dirty flag.
func (ix *Index) Persist(ctx context.Context, dir string) error {
	ix.mu.RLock()
	snap := snapshot{
		embedder: ix.embedder.Name(),
		dim:      ix.dim,
		docs:     append([]domain.Document(nil), ix.docs...),
		chunks:   append([]domain.DocumentChunk(nil), ix.chunks...),
		vectors:  append([][]float32(nil), ix.vectors...),
	}
	ix.mu.RUnlock()

	if err := writeSnapshot(ctx, dir, snap); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}

	ix.mu.Lock()
	// Inserts that raced with the write keep the index dirty.
	if len(ix.docs) == len(snap.docs) {
		ix.dirty = false
	}
	ix.mu.Unlock()

	ix.logger.Info("index persisted", "dir", dir, "documents", len(snap.docs), "chunks", len(snap.chunks))
	return nil
}

// LoadIndex deserializes an index persisted by Persist. It fails with a
// *DeserializationError when dir does not hold a compatible index.
func LoadIndex(ctx context.Context, dir string, cfg IndexConfig) (*Index, error) {
	snap, err := readSnapshot(ctx, dir)
	if err != nil {
		return nil, &DeserializationError{Dir: dir, Err: err}
	}
	if snap.embedder != cfg.Embedder.Name() {
		return nil, &DeserializationError{Dir: dir, Err: fmt.Errorf("index was built with embedder %q, configured embedder is %q", snap.embedder, cfg.Embedder.Name())}
	}
	if d := cfg.Embedder.Dimension(); d > 0 && snap.dim > 0 && d != snap.dim {
		return nil, &DeserializationError{Dir: dir, Err: fmt.Errorf("index dimension %d, embedder dimension %d", snap.dim, d)}
	}

	ix := NewIndex(cfg)
	ix.dim = snap.dim
	ix.docs = snap.docs
	ix.chunks = snap.chunks
	ix.vectors = snap.vectors
	ix.mags = make([]float32, len(snap.vectors))
	for i, v := range snap.vectors {
		ix.mags[i] = search.Float32s(v).Magnitude()
	}
	for _, d := range snap.docs {
		ix.seen[docKey{d.ContentHash, d.SourcePath}] = struct{}{}
	}
	return ix, nil
}
