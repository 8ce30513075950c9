// Package retrieval finds the corpus chunks most relevant to a query and
// attributes them to their source documents.
package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatstack/chatstack/internal/corpus"
	"github.com/chatstack/chatstack/internal/log"
)

// Searcher is the slice of the corpus store the retriever depends on.
type Searcher interface {
	SearchChunks(ctx context.Context, agentID uuid.UUID, query []float32, topK int, minSimilarity float64) ([]corpus.ScoredChunk, error)
	DocumentNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

// Embedder converts query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunk is one retrieval hit: a corpus chunk, its similarity in [0,1], and
// the human-readable name of its source document.
type Chunk struct {
	corpus.ScoredChunk
	Source string
}

// Option configures a retrieval call.
type Option func(*config)

type config struct {
	topK          int
	minSimilarity float64
}

// WithTopK sets the maximum number of results. Default 5.
func WithTopK(k int) Option {
	return func(c *config) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithMinSimilarity sets the similarity floor. Default 0.7.
func WithMinSimilarity(min float64) Option {
	return func(c *config) {
		c.minSimilarity = min
	}
}

func buildConfig(opts []Option) config {
	cfg := config{topK: 5, minSimilarity: 0.7}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Retriever embeds queries and searches an agent's corpus.
type Retriever struct {
	searcher Searcher
	embedder Embedder
	logger   log.Logger
}

// New creates a Retriever. logger may be nil.
func New(searcher Searcher, embedder Embedder, logger log.Logger) *Retriever {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{
		searcher: searcher,
		embedder: embedder,
		logger:   logger.With("component", "retriever"),
	}
}

// Retrieve returns the chunks of agentID most similar to query, descending by
// similarity, with source names resolved in one batched lookup. An empty
// result is not an error: it means nothing in the corpus cleared the floor
// and the caller should answer ungrounded.
func (r *Retriever) Retrieve(ctx context.Context, agentID uuid.UUID, query string, opts ...Option) ([]Chunk, error) {
	cfg := buildConfig(opts)

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors for one input", len(vectors))
	}

	scored, err := r.searcher.SearchChunks(ctx, agentID, vectors[0], cfg.topK, cfg.minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if len(scored) == 0 {
		r.logger.Debug("no chunks cleared similarity floor",
			"agent", agentID, "floor", cfg.minSimilarity)
		return nil, nil
	}

	// Resolve source names for the distinct owning documents in one query.
	seen := make(map[uuid.UUID]struct{}, len(scored))
	var docIDs []uuid.UUID
	for _, sc := range scored {
		if _, ok := seen[sc.DocumentID]; !ok {
			seen[sc.DocumentID] = struct{}{}
			docIDs = append(docIDs, sc.DocumentID)
		}
	}
	names, err := r.searcher.DocumentNames(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve sources: %w", err)
	}

	chunks := make([]Chunk, len(scored))
	for i, sc := range scored {
		chunks[i] = Chunk{ScoredChunk: sc, Source: names[sc.DocumentID]}
	}
	return chunks, nil
}
