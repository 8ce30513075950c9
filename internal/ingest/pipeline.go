// Package ingest turns uploaded documents into embedded, searchable chunks
// and runs the background workers that process them.
package ingest

import (
	"context"
	"fmt"

	"github.com/chatstack/chatstack/internal/chunk"
	"github.com/chatstack/chatstack/internal/corpus"
	"github.com/chatstack/chatstack/internal/log"
	"github.com/google/uuid"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*corpus.Document, error)
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status corpus.DocumentStatus, chunkCount int, errMsg string) error
	CreateChunks(ctx context.Context, chunks []corpus.Chunk) error
	UpdateChunkEmbedding(ctx context.Context, chunkID uuid.UUID, embedding []float32) error
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline ingests one document at a time: chunk, persist, embed, finalize.
type Pipeline struct {
	store     Store
	embedder  Embedder
	opts      chunk.Options
	batchSize int
	logger    log.Logger
}

// NewPipeline creates a Pipeline. batchSize caps how many chunk texts go to
// the embedder per call; batches run sequentially to keep provider rate-limit
// accounting predictable.
func NewPipeline(store Store, embedder Embedder, opts chunk.Options, batchSize int, logger log.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{
		store:     store,
		embedder:  embedder,
		opts:      opts,
		batchSize: batchSize,
		logger:    logger.With("component", "ingest"),
	}
}

// Ingest processes one document end to end. The document leaves in either
// StatusCompleted or StatusFailed; it is never left in StatusProcessing,
// whatever goes wrong.
func (p *Pipeline) Ingest(ctx context.Context, docID uuid.UUID) error {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	if err := p.store.UpdateDocumentStatus(ctx, docID, corpus.StatusProcessing, 0, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	count, err := p.process(ctx, doc)
	if err != nil {
		// Record the failure on the document. Status writes use a fresh
		// context so a canceled job still lands in a terminal state.
		if serr := p.store.UpdateDocumentStatus(context.WithoutCancel(ctx), docID, corpus.StatusFailed, 0, err.Error()); serr != nil {
			p.logger.Error("recording ingestion failure", "document_id", docID, "error", serr)
		}
		return err
	}

	if err := p.store.UpdateDocumentStatus(ctx, docID, corpus.StatusCompleted, count, ""); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	p.logger.Info("document ingested", "document_id", docID, "chunks", count)
	return nil
}

func (p *Pipeline) process(ctx context.Context, doc *corpus.Document) (int, error) {
	pieces := chunk.Split(doc.Content, p.opts)
	if len(pieces) == 0 {
		return 0, nil
	}

	rows := make([]corpus.Chunk, len(pieces))
	for i, piece := range pieces {
		rows[i] = corpus.Chunk{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			AgentID:    doc.AgentID,
			Content:    piece.Content,
			TokenCount: piece.TokenCount,
			Position:   piece.Position,
		}
	}
	if err := p.store.CreateChunks(ctx, rows); err != nil {
		return 0, fmt.Errorf("persist chunks: %w", err)
	}

	for start := 0; start < len(rows); start += p.batchSize {
		end := min(start+p.batchSize, len(rows))
		batch := rows[start:end]

		texts := make([]string, len(batch))
		for i, row := range batch {
			texts[i] = row.Content
		}

		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed batch at chunk %d: %w", start, err)
		}
		for i, row := range batch {
			if err := p.store.UpdateChunkEmbedding(ctx, row.ID, vectors[i]); err != nil {
				return 0, fmt.Errorf("store embedding for chunk %d: %w", row.Position, err)
			}
		}
	}

	return len(rows), nil
}
