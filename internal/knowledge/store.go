package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ragagent/internal/domain"
)

// IndexFile is the file inside the persist directory that holds the index.
const IndexFile = "index.db"

// formatVersion changes whenever the snapshot layout changes.
const formatVersion = 1

const indexSchema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE documents (
	position     INTEGER PRIMARY KEY,
	id           TEXT NOT NULL,
	source_path  TEXT NOT NULL,
	name         TEXT NOT NULL,
	mime_type    TEXT DEFAULT '',
	text         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	size         INTEGER DEFAULT 0,
	created_at   TEXT NOT NULL
);
CREATE INDEX idx_documents_hash ON documents(content_hash, source_path);

CREATE TABLE chunks (
	position    INTEGER PRIMARY KEY,
	id          TEXT NOT NULL,
	document_id TEXT NOT NULL,
	doc_name    TEXT NOT NULL,
	content     TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	token_count INTEGER DEFAULT 0,
	embedding   BLOB
);
`

// snapshot is the full persisted state of an Index.
type snapshot struct {
	embedder string
	dim      int
	docs     []domain.Document
	chunks   []domain.DocumentChunk
	vectors  [][]float32
}

func openIndexDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// writeSnapshot writes snap into a fresh database next to dir/index.db and
// renames it into place, so readers never see a half-written index.
func writeSnapshot(ctx context.Context, dir string, snap snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create persist directory %s: %w", dir, err)
	}
	final := filepath.Join(dir, IndexFile)
	tmp := final + ".tmp"
	_ = os.Remove(tmp)

	db, err := openIndexDB(tmp)
	if err != nil {
		return err
	}
	if err := fillSnapshot(ctx, db, snap); err != nil {
		db.Close()
		os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index database: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

func fillSnapshot(ctx context.Context, db *sql.DB, snap snapshot) error {
	for _, stmt := range strings.Split(indexSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	meta := map[string]string{
		"format_version": strconv.Itoa(formatVersion),
		"embedder":       snap.embedder,
		"dimension":      strconv.Itoa(snap.dim),
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}

	docStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (position, id, source_path, name, mime_type, text, content_hash, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare documents: %w", err)
	}
	defer docStmt.Close()
	for i, d := range snap.docs {
		if _, err := docStmt.ExecContext(ctx, i, d.ID, d.SourcePath, d.Name, d.MimeType, d.Text, d.ContentHash, d.Size, d.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("write document %s: %w", d.Name, err)
		}
	}

	chunkStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (position, id, document_id, doc_name, content, chunk_index, token_count, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunks: %w", err)
	}
	defer chunkStmt.Close()
	for i, c := range snap.chunks {
		if _, err := chunkStmt.ExecContext(ctx, i, c.ID, c.DocumentID, c.DocName, c.Content, c.ChunkIndex, c.TokenCount, encodeEmbedding(snap.vectors[i])); err != nil {
			return fmt.Errorf("write chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// readSnapshot loads dir/index.db. It never creates the file.
func readSnapshot(ctx context.Context, dir string) (snapshot, error) {
	var snap snapshot
	path := filepath.Join(dir, IndexFile)
	info, err := os.Stat(path)
	if err != nil {
		return snap, err
	}
	if info.IsDir() {
		return snap, fmt.Errorf("%s is a directory", path)
	}

	db, err := openIndexDB(path)
	if err != nil {
		return snap, err
	}
	defer db.Close()

	meta := make(map[string]string)
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return snap, fmt.Errorf("read meta: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return snap, fmt.Errorf("read meta: %w", err)
		}
		meta[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("read meta: %w", err)
	}

	if v := meta["format_version"]; v != strconv.Itoa(formatVersion) {
		return snap, fmt.Errorf("unsupported index format version %q", v)
	}
	snap.embedder = meta["embedder"]
	if snap.embedder == "" {
		return snap, errors.New("index has no embedder recorded")
	}
	snap.dim, err = strconv.Atoi(meta["dimension"])
	if err != nil {
		return snap, fmt.Errorf("bad index dimension %q", meta["dimension"])
	}

	if snap.docs, err = readDocuments(ctx, db); err != nil {
		return snap, err
	}
	if snap.chunks, snap.vectors, err = readChunks(ctx, db, snap.dim); err != nil {
		return snap, err
	}
	return snap, nil
}

func readDocuments(ctx context.Context, db *sql.DB) ([]domain.Document, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, source_path, name, mime_type, text, content_hash, size, created_at
		 FROM documents ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		var created string
		if err := rows.Scan(&d.ID, &d.SourcePath, &d.Name, &d.MimeType, &d.Text, &d.ContentHash, &d.Size, &created); err != nil {
			return nil, fmt.Errorf("read documents: %w", err)
		}
		if d.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("document %s: bad created_at %q", d.ID, created)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func readChunks(ctx context.Context, db *sql.DB, dim int) ([]domain.DocumentChunk, [][]float32, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, document_id, doc_name, content, chunk_index, token_count, embedding
		 FROM chunks ORDER BY position`)
	if err != nil {
		return nil, nil, fmt.Errorf("read chunks: %w", err)
	}
	defer rows.Close()

	var (
		chunks  []domain.DocumentChunk
		vectors [][]float32
	)
	for rows.Next() {
		var c domain.DocumentChunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.DocName, &c.Content, &c.ChunkIndex, &c.TokenCount, &blob); err != nil {
			return nil, nil, fmt.Errorf("read chunks: %w", err)
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		if len(vec) != dim {
			return nil, nil, fmt.Errorf("chunk %s: vector dimension %d, index has %d", c.ID, len(vec), dim)
		}
		chunks = append(chunks, c)
		vectors = append(vectors, vec)
	}
	return chunks, vectors, rows.Err()
}

// encodeEmbedding stores a vector as little-endian IEEE 754 float32 values.
func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
