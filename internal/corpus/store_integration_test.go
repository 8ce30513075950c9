package corpus_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatstack/chatstack/internal/corpus"
	"github.com/chatstack/chatstack/internal/testutil"
)

// embeddingDim matches the chunks schema (vector(1536)).
const embeddingDim = 1536

// unitVector builds a 1536-dim vector with weight concentrated on axis.
func unitVector(axis int) []float32 {
	v := make([]float32, embeddingDim)
	v[axis%embeddingDim] = 1
	return v
}

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := corpus.NewStore(db.Pool, nil)
	agentID := uuid.New()

	doc := &corpus.Document{
		ID:         uuid.New(),
		AgentID:    agentID,
		Name:       "Product FAQ",
		SourceKind: corpus.SourceText,
		Content:    "Refunds take five days. Shipping is free over fifty dollars.",
	}
	require.NoError(t, store.CreateDocument(ctx, doc))

	t.Run("document lifecycle", func(t *testing.T) {
		got, err := store.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, corpus.StatusPending, got.Status)
		assert.Equal(t, len(doc.Content), got.CharCount)

		require.NoError(t, store.UpdateDocumentStatus(ctx, doc.ID, corpus.StatusProcessing, 0, ""))
		got, err = store.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, corpus.StatusProcessing, got.Status)

		pending, err := store.ListDocumentsByStatus(ctx, corpus.StatusPending, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	chunks := []corpus.Chunk{
		{ID: uuid.New(), DocumentID: doc.ID, AgentID: agentID, Content: "Refunds take five days.", TokenCount: 6, Position: 0},
		{ID: uuid.New(), DocumentID: doc.ID, AgentID: agentID, Content: "Shipping is free over fifty dollars.", TokenCount: 8, Position: 1},
	}

	t.Run("chunks and vector search", func(t *testing.T) {
		require.NoError(t, store.CreateChunks(ctx, chunks))

		// No embeddings yet: nothing is eligible for search.
		results, err := store.SearchChunks(ctx, agentID, unitVector(0), 5, 0.0)
		require.NoError(t, err)
		assert.Empty(t, results)

		require.NoError(t, store.UpdateChunkEmbedding(ctx, chunks[0].ID, unitVector(0)))
		require.NoError(t, store.UpdateChunkEmbedding(ctx, chunks[1].ID, unitVector(1)))

		results, err = store.SearchChunks(ctx, agentID, unitVector(0), 5, 0.9)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, chunks[0].ID, results[0].ID)
		assert.InDelta(t, 1.0, results[0].Similarity, 0.001)

		// Floor excludes the orthogonal chunk; lowering it includes both,
		// ordered by descending similarity.
		results, err = store.SearchChunks(ctx, agentID, unitVector(0), 5, 0.0)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.True(t, results[0].Similarity >= results[1].Similarity)

		// Other agents never see this corpus.
		results, err = store.SearchChunks(ctx, uuid.New(), unitVector(0), 5, 0.0)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("document names batched lookup", func(t *testing.T) {
		names, err := store.DocumentNames(ctx, []uuid.UUID{doc.ID})
		require.NoError(t, err)
		assert.Equal(t, "Product FAQ", names[doc.ID])
	})

	t.Run("leads", func(t *testing.T) {
		lead := &corpus.Lead{
			ID:      uuid.New(),
			AgentID: agentID,
			Name:    "Ada",
			Email:   "ada@example.com",
			Extra:   map[string]any{"budget": "10k"},
		}
		require.NoError(t, store.CreateLead(ctx, lead))
	})

	t.Run("delete cascades to chunks", func(t *testing.T) {
		require.NoError(t, store.DeleteDocument(ctx, doc.ID))

		_, err := store.GetDocument(ctx, doc.ID)
		assert.ErrorIs(t, err, corpus.ErrNotFound)

		results, err := store.SearchChunks(ctx, agentID, unitVector(0), 5, 0.0)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestStore_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := corpus.NewStore(db.Pool, nil)

	_, err := store.GetDocument(ctx, uuid.New())
	assert.ErrorIs(t, err, corpus.ErrNotFound)

	err = store.UpdateDocumentStatus(ctx, uuid.New(), corpus.StatusFailed, 0, "boom")
	assert.ErrorIs(t, err, corpus.ErrNotFound)

	err = store.UpdateChunkEmbedding(ctx, uuid.New(), unitVector(2))
	assert.ErrorIs(t, err, corpus.ErrNotFound)
}
