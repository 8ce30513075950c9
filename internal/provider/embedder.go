package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/chatstack/chatstack/internal/log"
)

// DefaultEmbedBatchSize is the provider-imposed ceiling on items per
// embeddings call.
const DefaultEmbedBatchSize = 100

// EmbeddingDimension is the vector width produced by the embedding model and
// expected by the chunks schema.
const EmbeddingDimension = 1536

// embeddingAPI is the slice of the OpenAI SDK the Embedder consumes; a fake
// implementation stands in during tests.
type embeddingAPI interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Embedder converts text into fixed-dimension vectors via batched calls to
// the OpenAI embeddings API.
type Embedder struct {
	api       embeddingAPI
	model     openai.EmbeddingModel
	batchSize int
	logger    log.Logger
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithEmbedBatchSize overrides the per-call batch ceiling.
func WithEmbedBatchSize(n int) EmbedderOption {
	return func(e *Embedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithEmbeddingModel overrides the embedding model.
func WithEmbeddingModel(model string) EmbedderOption {
	return func(e *Embedder) {
		e.model = openai.EmbeddingModel(model)
	}
}

// NewEmbedder creates an Embedder backed by the OpenAI embeddings endpoint.
func NewEmbedder(apiKey string, logger log.Logger, opts ...EmbedderOption) *Embedder {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	e := &Embedder{
		api:       &client.Embeddings,
		model:     openai.EmbeddingModelTextEmbedding3Small,
		batchSize: DefaultEmbedBatchSize,
		logger:    logger.With("component", "embedder"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newEmbedderForTesting wires a fake API implementation.
func newEmbedderForTesting(api embeddingAPI, batchSize int) *Embedder {
	return &Embedder{
		api:       api,
		model:     openai.EmbeddingModelTextEmbedding3Small,
		batchSize: batchSize,
		logger:    log.NewNop(),
	}
}

// Embed returns one vector per input text, preserving input order. Inputs are
// sent in batches of at most the configured ceiling; within each response the
// provider's ordering is not trusted and results are re-slotted by the
// explicit index field.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		resp, err := e.api.New(ctx, openai.EmbeddingNewParams{
			Model: e.model,
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		})
		if err != nil {
			return nil, e.mapError(err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("%w: embeddings response has %d vectors for %d inputs",
				ErrProvider, len(resp.Data), len(batch))
		}

		for _, item := range resp.Data {
			idx := int(item.Index)
			if idx < 0 || idx >= len(batch) {
				return nil, fmt.Errorf("%w: embeddings response index %d out of range", ErrProvider, idx)
			}
			vec := make([]float32, len(item.Embedding))
			for i, v := range item.Embedding {
				vec[i] = float32(v)
			}
			out[start+idx] = vec
		}
	}

	for i, vec := range out {
		if vec == nil {
			return nil, fmt.Errorf("%w: no embedding returned for input %d", ErrProvider, i)
		}
	}
	e.logger.Debug("embedded texts", "count", len(texts))
	return out, nil
}

func (e *Embedder) mapError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		// Embeddings distinguish auth, throttling and everything else.
		switch apierr.StatusCode {
		case 401, 403:
			return fmt.Errorf("%w: embeddings: %w", ErrAuth, err)
		case 429:
			return fmt.Errorf("%w: embeddings: %w", ErrRateLimit, err)
		default:
			return fmt.Errorf("%w: embeddings status %d: %w", ErrProvider, apierr.StatusCode, err)
		}
	}
	return wrapOpaque("embeddings", err)
}
