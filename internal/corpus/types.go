// Package corpus persists documents, their embedded chunks and captured leads
// in PostgreSQL, and serves vector similarity search over pgvector.
package corpus

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the ingestion lifecycle state of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// SourceKind identifies where a document's text came from.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceURL  SourceKind = "url"
	SourceText SourceKind = "text"
)

// Document is one corpus source: an uploaded file, a crawled page or pasted
// text. ChunkCount is meaningful only once Status is StatusCompleted.
type Document struct {
	ID         uuid.UUID
	AgentID    uuid.UUID
	Name       string
	SourceKind SourceKind
	Content    string
	CharCount  int
	ChunkCount int
	Status     DocumentStatus
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Chunk is an immutable slice of a document's text. Position is a dense
// 0-based sequence within the document. Embedding is nil until the embedding
// step completes.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	AgentID    uuid.UUID
	Content    string
	TokenCount int
	Position   int
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredChunk is a chunk with its similarity to a query vector, in [0,1].
type ScoredChunk struct {
	Chunk
	Similarity float64
}

// Lead is a visitor contact record captured by a lead action. Unrecognized
// fields land in Extra.
type Lead struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	Name      string
	Email     string
	Phone     string
	Company   string
	Extra     map[string]any
	CreatedAt time.Time
}
