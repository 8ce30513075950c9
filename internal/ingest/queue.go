package ingest

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Queue is an in-process job queue keyed by document id. A document that is
// already queued or being processed cannot be enqueued again, so two jobs for
// the same document never run concurrently.
type Queue struct {
	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
	pending  []uuid.UUID
	signal   chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		inflight: make(map[uuid.UUID]struct{}),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue submits a document for ingestion. Returns false when the document
// is already queued or in flight; re-submission is a no-op, not an error.
func (q *Queue) Enqueue(id uuid.UUID) bool {
	q.mu.Lock()
	if _, ok := q.inflight[id]; ok {
		q.mu.Unlock()
		return false
	}
	q.inflight[id] = struct{}{}
	q.pending = append(q.pending, id)
	q.mu.Unlock()

	q.wake()
	return true
}

// Dequeue blocks until a job is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending = q.pending[1:]
			remaining := len(q.pending)
			q.mu.Unlock()
			if remaining > 0 {
				// Another waiter may be parked on the single signal slot.
				q.wake()
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Done releases the document's job key. Until it is called, Enqueue for the
// same document reports a duplicate.
func (q *Queue) Done(id uuid.UUID) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
}

// Depth reports the number of jobs waiting to be picked up.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
