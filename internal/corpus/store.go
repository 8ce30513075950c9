package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/chatstack/chatstack/internal/log"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides document, chunk and lead persistence over a pgx pool.
// It is safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a Store. logger may be nil.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger.With("component", "store")}
}

// CreateDocument inserts a new document in StatusPending.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, agent_id, name, source_kind, content, char_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')`,
		doc.ID, doc.AgentID, doc.Name, doc.SourceKind, doc.Content, len(doc.Content))
	if err != nil {
		return fmt.Errorf("create document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument loads one document by id.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, name, source_kind, content, char_count, chunk_count,
		       status, error, created_at, updated_at
		FROM documents WHERE id = $1`, id).Scan(
		&doc.ID, &doc.AgentID, &doc.Name, &doc.SourceKind, &doc.Content,
		&doc.CharCount, &doc.ChunkCount, &doc.Status, &doc.Error,
		&doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &doc, nil
}

// UpdateDocumentStatus transitions a document's lifecycle state, recording
// the chunk count and error message alongside.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus, chunkCount int, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2, chunk_count = $3, error = $4, updated_at = now()
		WHERE id = $1`, id, status, chunkCount, errMsg)
	if err != nil {
		return fmt.Errorf("update document %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	s.logger.Debug("document status updated", "document", id, "status", status)
	return nil
}

// ListDocumentsByStatus returns up to limit documents in the given status,
// oldest first. The ingestion worker uses this to pick up pending work.
func (s *Store) ListDocumentsByStatus(ctx context.Context, status DocumentStatus, limit int) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, name, source_kind, content, char_count, chunk_count,
		       status, error, created_at, updated_at
		FROM documents WHERE status = $1
		ORDER BY created_at
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents by status: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.AgentID, &doc.Name, &doc.SourceKind,
			&doc.Content, &doc.CharCount, &doc.ChunkCount, &doc.Status,
			&doc.Error, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document; its chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateChunks inserts chunk rows without embeddings in one batch.
func (s *Store) CreateChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO chunks (id, document_id, agent_id, content, token_count, position)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, c.DocumentID, c.AgentID, c.Content, c.TokenCount, c.Position)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}
	return nil
}

// UpdateChunkEmbedding attaches an embedding vector to a chunk.
func (s *Store) UpdateChunkEmbedding(ctx context.Context, chunkID uuid.UUID, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	tag, err := s.pool.Exec(ctx,
		`UPDATE chunks SET embedding = $2 WHERE id = $1`, chunkID, vec)
	if err != nil {
		return fmt.Errorf("update chunk %s embedding: %w", chunkID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	return nil
}

// SearchChunks returns the topK chunks of agentID most similar to the query
// vector, descending by similarity, excluding anything below minSimilarity.
// Only embedded chunks are eligible. Similarity is cosine, expressed as
// 1 - cosine distance.
func (s *Store) SearchChunks(ctx context.Context, agentID uuid.UUID, query []float32, topK int, minSimilarity float64) ([]ScoredChunk, error) {
	vec := pgvector.NewVector(query)
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, agent_id, content, token_count, position,
		       1 - (embedding <=> $2) AS similarity
		FROM chunks
		WHERE agent_id = $1
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $2) >= $3
		ORDER BY embedding <=> $2
		LIMIT $4`, agentID, vec, minSimilarity, topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		if err := rows.Scan(&sc.ID, &sc.DocumentID, &sc.AgentID, &sc.Content,
			&sc.TokenCount, &sc.Position, &sc.Similarity); err != nil {
			return nil, fmt.Errorf("scan scored chunk: %w", err)
		}
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	s.logger.Debug("vector search", "agent", agentID, "results", len(results))
	return results, nil
}

// DocumentNames resolves document ids to their human-readable names in one
// batched lookup.
func (s *Store) DocumentNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]string{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name FROM documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve document names: %w", err)
	}
	defer rows.Close()

	names := make(map[uuid.UUID]string, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan document name: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

// CreateLead persists a captured lead.
func (s *Store) CreateLead(ctx context.Context, lead *Lead) error {
	extra := lead.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("marshal lead extra fields: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO leads (id, agent_id, name, email, phone, company, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lead.ID, lead.AgentID, lead.Name, lead.Email, lead.Phone, lead.Company, extraJSON)
	if err != nil {
		return fmt.Errorf("create lead %s: %w", lead.ID, err)
	}
	s.logger.Debug("lead captured", "agent", lead.AgentID, "lead", lead.ID)
	return nil
}
