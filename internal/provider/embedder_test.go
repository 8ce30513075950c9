package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// fakeEmbeddingAPI echoes deterministic vectors, optionally shuffling the
// response order and failing on a chosen call.
type fakeEmbeddingAPI struct {
	calls    int
	shuffle  bool
	failCall int // 1-based call number to fail on; 0 = never
	failErr  error
}

func (f *fakeEmbeddingAPI) New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	f.calls++
	if f.failCall > 0 && f.calls == f.failCall {
		return nil, f.failErr
	}

	inputs := body.Input.OfArrayOfStrings
	resp := &openai.CreateEmbeddingResponse{}
	for i, text := range inputs {
		resp.Data = append(resp.Data, openai.Embedding{
			Index:     int64(i),
			Embedding: []float64{float64(len(text))},
		})
	}
	if f.shuffle {
		// Reverse the response ordering; callers must re-slot by index.
		for i, j := 0, len(resp.Data)-1; i < j; i, j = i+1, j-1 {
			resp.Data[i], resp.Data[j] = resp.Data[j], resp.Data[i]
		}
	}
	return resp, nil
}

func TestEmbed_OrderPreservedWithShuffledResponse(t *testing.T) {
	fake := &fakeEmbeddingAPI{shuffle: true}
	e := newEmbedderForTesting(fake, 100)

	texts := []string{"a", "bb", "ccc"}
	vecs, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vecs[%d] = %v, want vector for input %q", i, vecs[i], text)
		}
	}
}

func TestEmbed_Batching(t *testing.T) {
	fake := &fakeEmbeddingAPI{}
	e := newEmbedderForTesting(fake, 2)

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want ceil(5/2) = 3", fake.calls)
	}
	if len(vecs) != 5 {
		t.Errorf("got %d vectors, want 5", len(vecs))
	}
}

func TestEmbed_Empty(t *testing.T) {
	e := newEmbedderForTesting(&fakeEmbeddingAPI{}, 100)

	vecs, err := e.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed(nil) error: %v", err)
	}
	if vecs != nil {
		t.Errorf("Embed(nil) = %v, want nil", vecs)
	}
}

func TestEmbed_MidBatchFailure(t *testing.T) {
	fake := &fakeEmbeddingAPI{failCall: 2, failErr: errors.New("upstream exploded")}
	e := newEmbedderForTesting(fake, 2)

	_, err := e.Embed(context.Background(), []string{"a", "b", "c", "d"})
	if err == nil {
		t.Fatal("expected error from failing batch")
	}
	if !errors.Is(err, ErrProvider) {
		t.Errorf("error = %v, want ErrProvider classification", err)
	}
}

func TestEmbed_AuthClassification(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://api.openai.com/v1/embeddings", nil)
	apierr := &openai.Error{
		StatusCode: 401,
		Request:    req,
		Response:   &http.Response{StatusCode: 401, Request: req},
	}
	fake := &fakeEmbeddingAPI{failCall: 1, failErr: apierr}
	e := newEmbedderForTesting(fake, 100)

	_, err := e.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}
}
