package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"ragagent/internal/domain"
)

// BuildOptions configures building, loading and updating the persisted index.
type BuildOptions struct {
	DataDir    string
	PersistDir string
	Embedder   domain.Embedder
	Chunker    *Chunker
	Reader     DocumentReader // optional, defaults to a Loader
	Logger     *slog.Logger
}

// BuildResult describes what SetupPersistentIndex did.
type BuildResult struct {
	Loaded    bool // true when the index came from PersistDir
	Documents int
	Chunks    int
}

// UpdateResult describes what UpdateIndexWithNewDocuments did.
type UpdateResult struct {
	Added     int
	Skipped   int
	Documents int
	Chunks    int
}

func (o *BuildOptions) defaults() error {
	if o.Embedder == nil {
		return errors.New("build options: embedder is required")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Reader == nil {
		o.Reader = NewLoader(o.Logger)
	}
	return nil
}

func (o *BuildOptions) indexConfig() IndexConfig {
	return IndexConfig{Embedder: o.Embedder, Chunker: o.Chunker, Logger: o.Logger}
}

// SetupPersistentIndex returns the index stored in PersistDir, or builds one
// from DataDir and persists it when PersistDir does not exist yet. A persist
// directory that exists but cannot be read is an error; it is never rebuilt
// implicitly.
func SetupPersistentIndex(ctx context.Context, opts BuildOptions) (*Index, BuildResult, error) {
	if err := opts.defaults(); err != nil {
		return nil, BuildResult{}, err
	}

	exists, err := dirExists(opts.PersistDir)
	if err != nil {
		return nil, BuildResult{}, &DeserializationError{Dir: opts.PersistDir, Err: err}
	}
	if exists {
		ix, err := LoadIndex(ctx, opts.PersistDir, opts.indexConfig())
		if err != nil {
			return nil, BuildResult{}, err
		}
		st := ix.Stats()
		opts.Logger.Info("index loaded", "dir", opts.PersistDir, "documents", st.Documents, "chunks", st.Chunks)
		return ix, BuildResult{Loaded: true, Documents: st.Documents, Chunks: st.Chunks}, nil
	}

	docs, err := loadDocuments(ctx, opts)
	if err != nil {
		return nil, BuildResult{}, err
	}
	return buildIndex(ctx, opts, docs)
}

func buildIndex(ctx context.Context, opts BuildOptions, docs []domain.Document) (*Index, BuildResult, error) {
	ix := NewIndex(opts.indexConfig())
	if err := ix.InsertAll(ctx, docs); err != nil {
		return nil, BuildResult{}, fmt.Errorf("build index: %w", err)
	}
	if err := ix.Persist(ctx, opts.PersistDir); err != nil {
		return nil, BuildResult{}, err
	}

	st := ix.Stats()
	opts.Logger.Info("index built", "data_dir", opts.DataDir, "documents", st.Documents, "chunks", st.Chunks)
	return ix, BuildResult{Documents: st.Documents, Chunks: st.Chunks}, nil
}

// UpdateIndexWithNewDocuments loads the persisted index, inserts every
// document from DataDir whose content hash and source path are not indexed
// yet, and persists the result. Without a persisted index it builds one.
func UpdateIndexWithNewDocuments(ctx context.Context, opts BuildOptions) (*Index, UpdateResult, error) {
	if err := opts.defaults(); err != nil {
		return nil, UpdateResult{}, err
	}

	ix, built, err := SetupPersistentIndex(ctx, opts)
	if err != nil {
		return nil, UpdateResult{}, err
	}
	if !built.Loaded {
		return ix, UpdateResult{Added: built.Documents, Documents: built.Documents, Chunks: built.Chunks}, nil
	}

	docs, err := loadDocuments(ctx, opts)
	if err != nil {
		return nil, UpdateResult{}, err
	}

	var res UpdateResult
	for _, doc := range docs {
		if ix.Contains(doc.ContentHash, doc.SourcePath) {
			res.Skipped++
			continue
		}
		if err := ix.Insert(ctx, doc); err != nil {
			return nil, UpdateResult{}, fmt.Errorf("update index: %w", err)
		}
		res.Added++
	}

	if ix.Dirty() {
		if err := ix.Persist(ctx, opts.PersistDir); err != nil {
			return nil, UpdateResult{}, err
		}
	}

	st := ix.Stats()
	res.Documents, res.Chunks = st.Documents, st.Chunks
	opts.Logger.Info("index updated", "added", res.Added, "skipped", res.Skipped, "documents", st.Documents)
	return ix, res, nil
}

// RebuildIndex discards PersistDir and builds the index from DataDir again.
func RebuildIndex(ctx context.Context, opts BuildOptions) (*Index, BuildResult, error) {
	if err := opts.defaults(); err != nil {
		return nil, BuildResult{}, err
	}
	// Read first so a broken data directory leaves the old index in place.
	docs, err := loadDocuments(ctx, opts)
	if err != nil {
		return nil, BuildResult{}, err
	}
	if err := os.RemoveAll(opts.PersistDir); err != nil {
		return nil, BuildResult{}, fmt.Errorf("remove %s: %w", opts.PersistDir, err)
	}
	return buildIndex(ctx, opts, docs)
}

func loadDocuments(ctx context.Context, opts BuildOptions) ([]domain.Document, error) {
	docs, err := opts.Reader.ReadDir(ctx, opts.DataDir)
	if err != nil {
		var dse *DataSourceError
		if errors.As(err, &dse) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &DataSourceError{Dir: opts.DataDir, Err: err}
	}
	if len(docs) == 0 {
		return nil, &DataSourceError{Dir: opts.DataDir, Err: errors.New("no documents")}
	}
	return docs, nil
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s is not a directory", path)
	}
	return true, nil
}
