package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatstack/chatstack/internal/corpus"
	"github.com/chatstack/chatstack/internal/log"
	"github.com/chatstack/chatstack/internal/provider"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Limiter gates job starts. The in-process implementation wraps x/time/rate;
// a multi-instance deployment can substitute a shared-store implementation
// behind the same contract.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewRateLimiter returns a Limiter allowing jobsPerMinute job starts.
func NewRateLimiter(jobsPerMinute int) Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(jobsPerMinute)), 1)
}

// Ingestor processes one document.
type Ingestor interface {
	Ingest(ctx context.Context, docID uuid.UUID) error
}

// Scanner lists documents awaiting ingestion, used to recover jobs that were
// accepted before a restart.
type Scanner interface {
	ListDocumentsByStatus(ctx context.Context, status corpus.DocumentStatus, limit int) ([]corpus.Document, error)
}

// RetryConfig bounds per-job retries.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns defaults tuned for embedding-provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Worker drains the queue with a bounded goroutine pool and periodically
// rescans the store for pending documents.
type Worker struct {
	queue        *Queue
	ingestor     Ingestor
	scanner      Scanner
	limiter      Limiter
	concurrency  int
	retry        RetryConfig
	pollInterval time.Duration
	logger       log.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency sets the pool size.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithLimiter replaces the throughput limiter.
func WithLimiter(l Limiter) WorkerOption {
	return func(w *Worker) { w.limiter = l }
}

// WithRetryConfig replaces the retry policy.
func WithRetryConfig(cfg RetryConfig) WorkerOption {
	return func(w *Worker) { w.retry = cfg }
}

// WithPollInterval sets how often the store is rescanned for pending
// documents.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// NewWorker creates a Worker over queue. scanner may be nil to disable
// rescanning.
func NewWorker(queue *Queue, ingestor Ingestor, scanner Scanner, logger log.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = log.NewNop()
	}
	w := &Worker{
		queue:        queue,
		ingestor:     ingestor,
		scanner:      scanner,
		limiter:      NewRateLimiter(10),
		concurrency:  3,
		retry:        DefaultRetryConfig(),
		pollInterval: 15 * time.Second,
		logger:       logger.With("component", "worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes jobs until ctx is canceled, then waits for in-flight jobs to
// finish and returns.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if w.scanner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.scanLoop(ctx)
		}()
	}

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.workLoop(ctx)
		}()
	}

	wg.Wait()
}

func (w *Worker) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.scanPending(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanPending(ctx)
		}
	}
}

// scanPending enqueues documents still marked pending. Dedup in the queue
// makes re-scanning documents that are already queued harmless.
func (w *Worker) scanPending(ctx context.Context) {
	docs, err := w.scanner.ListDocumentsByStatus(ctx, corpus.StatusPending, 100)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("scanning pending documents", "error", err)
		}
		return
	}
	queued := 0
	for _, doc := range docs {
		if w.queue.Enqueue(doc.ID) {
			queued++
		}
	}
	if queued > 0 {
		w.logger.Info("recovered pending documents", "queued", queued, "depth", w.queue.Depth())
	}
}

func (w *Worker) workLoop(ctx context.Context) {
	for {
		id, err := w.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		w.runJob(ctx, id)
		w.queue.Done(id)
	}
}

func (w *Worker) runJob(ctx context.Context, docID uuid.UUID) {
	start := time.Now()
	delay := w.retry.InitialInterval

	var lastErr error
	for attempt := 0; attempt <= w.retry.MaxRetries; attempt++ {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}

		err := w.ingestor.Ingest(ctx, docID)
		if err == nil {
			w.logger.Debug("job finished",
				"document_id", docID,
				"attempts", attempt+1,
				"elapsed", time.Since(start))
			return
		}
		lastErr = err

		if permanentError(err) || attempt == w.retry.MaxRetries {
			break
		}

		w.logger.Warn("job failed, retrying",
			"document_id", docID,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			delay = min(delay*2, w.retry.MaxInterval)
		}
	}

	// The pipeline already recorded the failure on the document; the state
	// is terminal and human-visible there.
	w.logger.Error("job failed permanently",
		"document_id", docID,
		"elapsed", time.Since(start),
		"error", lastErr)
}

// permanentError reports whether retrying cannot help. Credential and model
// configuration problems need operator action, not another attempt.
func permanentError(err error) bool {
	return errors.Is(err, provider.ErrAuth) || errors.Is(err, provider.ErrModelUnavailable)
}
