package domain

import "time"

// Document is the content of one file read from the document directory.
// A Document is never modified after it is loaded.
type Document struct {
	ID          string    `json:"id"`
	SourcePath  string    `json:"source_path"`
	Name        string    `json:"name"` // file stem, used to name per-document tools
	MimeType    string    `json:"mime_type"`
	Text        string    `json:"-"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// DocumentChunk represents a single chunk of a document, indexed for search.
type DocumentChunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	DocName    string `json:"doc_name"`
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunk_index"`
	TokenCount int    `json:"token_count"`
}

// SearchResult represents a retrieval hit in the knowledge base.
type SearchResult struct {
	Chunk DocumentChunk `json:"chunk"`
	Score float64       `json:"score"`
}

// QueryResponse is the synthesized answer to a knowledge query with the passages it used.
type QueryResponse struct {
	Text    string         `json:"text"`
	Sources []SearchResult `json:"sources"`
}

func (r *QueryResponse) String() string {
	if r == nil {
		return ""
	}
	return r.Text
}
