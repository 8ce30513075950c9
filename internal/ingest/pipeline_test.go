package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chatstack/chatstack/internal/chunk"
	"github.com/chatstack/chatstack/internal/corpus"
	"github.com/chatstack/chatstack/internal/provider"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu         sync.Mutex
	docs       map[uuid.UUID]*corpus.Document
	chunks     []corpus.Chunk
	embeddings map[uuid.UUID][]float32
	statusLog  []corpus.DocumentStatus
}

func newFakeStore(docs ...*corpus.Document) *fakeStore {
	s := &fakeStore{
		docs:       make(map[uuid.UUID]*corpus.Document),
		embeddings: make(map[uuid.UUID][]float32),
	}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeStore) GetDocument(_ context.Context, id uuid.UUID) (*corpus.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, corpus.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (s *fakeStore) UpdateDocumentStatus(_ context.Context, id uuid.UUID, status corpus.DocumentStatus, chunkCount int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return corpus.ErrNotFound
	}
	doc.Status = status
	doc.ChunkCount = chunkCount
	doc.Error = errMsg
	s.statusLog = append(s.statusLog, status)
	return nil
}

func (s *fakeStore) CreateChunks(_ context.Context, chunks []corpus.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *fakeStore) UpdateChunkEmbedding(_ context.Context, chunkID uuid.UUID, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[chunkID] = embedding
	return nil
}

func (s *fakeStore) ListDocumentsByStatus(_ context.Context, status corpus.DocumentStatus, limit int) ([]corpus.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []corpus.Document
	for _, doc := range s.docs {
		if doc.Status == status && len(out) < limit {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (s *fakeStore) status(id uuid.UUID) (corpus.DocumentStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id].Status, s.docs[id].Error
}

// fakeEmbedder returns fixed-value vectors, optionally failing from a given
// call number on.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	failFrom int // 0 means never fail
	err      error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFrom > 0 && f.calls >= f.failFrom {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

func pendingDoc(content string) *corpus.Document {
	return &corpus.Document{
		ID:      uuid.New(),
		AgentID: uuid.New(),
		Name:    "notes.txt",
		Content: content,
		Status:  corpus.StatusPending,
	}
}

func TestIngestHappyPath(t *testing.T) {
	doc := pendingDoc("First paragraph about shipping.\n\nSecond paragraph about returns.")
	store := newFakeStore(doc)
	embedder := &fakeEmbedder{}
	p := NewPipeline(store, embedder, chunk.DefaultOptions(), 100, nil)

	require.NoError(t, p.Ingest(context.Background(), doc.ID))

	status, errMsg := store.status(doc.ID)
	assert.Equal(t, corpus.StatusCompleted, status)
	assert.Empty(t, errMsg)

	require.NotEmpty(t, store.chunks)
	for _, c := range store.chunks {
		assert.Equal(t, doc.ID, c.DocumentID)
		assert.Equal(t, doc.AgentID, c.AgentID)
		assert.Contains(t, store.embeddings, c.ID, "every chunk gets a vector")
	}
	assert.Equal(t, []corpus.DocumentStatus{corpus.StatusProcessing, corpus.StatusCompleted}, store.statusLog)
	assert.Equal(t, len(store.chunks), store.docs[doc.ID].ChunkCount)
}

func TestIngestBatchesSequentially(t *testing.T) {
	// Three sentences with maxTokens 1 yields three chunks; batch size 2
	// forces two embed calls.
	doc := pendingDoc("Alpha. Beta. Gamma.")
	store := newFakeStore(doc)
	embedder := &fakeEmbedder{}
	p := NewPipeline(store, embedder, chunk.Options{MaxTokens: 1}, 2, nil)

	require.NoError(t, p.Ingest(context.Background(), doc.ID))
	assert.Equal(t, 2, embedder.calls)
	assert.Len(t, store.chunks, 3)
}

func TestIngestEmbedFailureIsTerminal(t *testing.T) {
	doc := pendingDoc("Alpha. Beta. Gamma.")
	store := newFakeStore(doc)
	embedder := &fakeEmbedder{failFrom: 2, err: errors.New("embedding backend down")}
	p := NewPipeline(store, embedder, chunk.Options{MaxTokens: 1}, 2, nil)

	err := p.Ingest(context.Background(), doc.ID)
	require.Error(t, err)

	status, errMsg := store.status(doc.ID)
	assert.Equal(t, corpus.StatusFailed, status)
	assert.Contains(t, errMsg, "embedding backend down")
	assert.NotEqual(t, corpus.StatusProcessing, status, "never left in processing")
}

func TestIngestEmptyDocumentCompletes(t *testing.T) {
	doc := pendingDoc("   \n\n  ")
	store := newFakeStore(doc)
	p := NewPipeline(store, &fakeEmbedder{}, chunk.DefaultOptions(), 100, nil)

	require.NoError(t, p.Ingest(context.Background(), doc.ID))
	status, _ := store.status(doc.ID)
	assert.Equal(t, corpus.StatusCompleted, status)
	assert.Zero(t, store.docs[doc.ID].ChunkCount)
}

func TestIngestMissingDocument(t *testing.T) {
	store := newFakeStore()
	p := NewPipeline(store, &fakeEmbedder{}, chunk.DefaultOptions(), 100, nil)

	err := p.Ingest(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, corpus.ErrNotFound)
}

func TestIngestAuthErrorSurfaces(t *testing.T) {
	doc := pendingDoc("Some content.")
	store := newFakeStore(doc)
	embedder := &fakeEmbedder{failFrom: 1, err: provider.ErrAuth}
	p := NewPipeline(store, embedder, chunk.DefaultOptions(), 100, nil)

	err := p.Ingest(context.Background(), doc.ID)
	require.ErrorIs(t, err, provider.ErrAuth)

	status, errMsg := store.status(doc.ID)
	assert.Equal(t, corpus.StatusFailed, status)
	assert.NotEmpty(t, errMsg)
}
