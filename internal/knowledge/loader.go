package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"ragagent/internal/domain"
)

// DocumentReader turns a directory into documents.
type DocumentReader interface {
	ReadDir(ctx context.Context, dir string) ([]domain.Document, error)
}

// Loader reads files from the document directory. PDFs go through pdfcpu,
// anything detected as text is decoded and cleaned.
type Loader struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, now: time.Now}
}

// ListFiles returns the regular, non-hidden files directly inside dir in lexical order.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// ReadDir loads every file in dir. Files that fail to load are logged and
// skipped; the call fails only when nothing could be loaded.
func (l *Loader) ReadDir(ctx context.Context, dir string) ([]domain.Document, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, &DataSourceError{Dir: dir, Err: err}
	}
	if len(files) == 0 {
		return nil, &DataSourceError{Dir: dir, Err: errors.New("directory has no files")}
	}

	var docs []domain.Document
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := l.LoadFile(ctx, path)
		if err != nil {
			l.logger.Warn("skipping document", "path", path, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, &DataSourceError{Dir: dir, Err: fmt.Errorf("none of %d files could be loaded", len(files))}
	}

	l.logger.Info("documents loaded", "dir", dir, "loaded", len(docs), "files", len(files))
	return docs, nil
}

// LoadFile reads a single file into a Document with a fresh ID.
func (l *Loader) LoadFile(ctx context.Context, path string) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", path, err)
	}

	mt := mimetype.Detect(data)
	var text string
	switch {
	case mt.Is("application/pdf"):
		text, err = extractPDFText(ctx, path)
		if err != nil {
			return domain.Document{}, fmt.Errorf("%s: %w", path, err)
		}
		text = CleanText(text)
	case isText(mt):
		decoded, _ := DecodeText(data)
		text = CleanText(decoded)
	default:
		return domain.Document{}, fmt.Errorf("%s (%s): %w", path, mt.String(), ErrUnsupportedType)
	}
	if text == "" {
		return domain.Document{}, fmt.Errorf("%s: no text content", path)
	}

	sum := sha256.Sum256(data)
	return domain.Document{
		ID:          uuid.NewString(),
		SourcePath:  path,
		Name:        Stem(path),
		MimeType:    mt.String(),
		Text:        text,
		ContentHash: hex.EncodeToString(sum[:]),
		Size:        int64(len(data)),
		CreatedAt:   l.now().UTC(),
	}, nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// Stem returns the file name without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
