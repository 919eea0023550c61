package embedding

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"testing"

	"github.com/hyperjump/ragcli/internal/models"
)

type fakeEmbedClient struct {
	mu    sync.Mutex
	dims  int
	calls int
	texts int
	err   error
}

func (f *fakeEmbedClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.texts += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dims)
		v[0] = float32(len(t))
		v[len(v)-1] = 3
		out[i] = v
	}
	return out, nil
}

func newTestOllama(t *testing.T, client *fakeEmbedClient, dims int) *OllamaEmbedder {
	t.Helper()
	e, err := newOllamaEmbedder(client, OllamaOptions{Model: "test-embed", Dimensions: dims, BatchSize: 2, CacheSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	client := &fakeEmbedClient{dims: 4}
	e := newTestOllama(t, client, 4)
	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 4 {
		t.Fatalf("expected 4 dimensions, got %d", len(v))
	}
	if math.Abs(norm(v)-1) > 1e-5 {
		t.Errorf("expected unit vector, norm=%f", norm(v))
	}
	again, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if client.calls != 1 {
		t.Errorf("second Embed should hit the cache, got %d calls", client.calls)
	}
	for i := range v {
		if v[i] != again[i] {
			t.Fatal("cached embedding differs")
		}
	}
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	client := &fakeEmbedClient{dims: 3}
	e := newTestOllama(t, client, 3)
	ctx := context.Background()
	if _, err := e.Embed(ctx, "bb"); err != nil {
		t.Fatal(err)
	}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	if client.texts != len(texts) {
		t.Errorf("cached text should not be re-embedded: sent %d texts", client.texts)
	}
	// Longer text has a larger first component before normalization.
	for i := 1; i < len(vecs); i++ {
		if vecs[i][0] <= vecs[i-1][0] {
			t.Errorf("vectors out of input order at %d", i)
		}
	}
}

func TestOllamaEmbedder_dimensionMismatch(t *testing.T) {
	e := newTestOllama(t, &fakeEmbedClient{dims: 5}, 4)
	_, err := e.Embed(context.Background(), "x")
	if !errors.Is(err, models.ErrModelUnavailable) || !errors.Is(err, models.ErrDimensionMismatch) {
		t.Fatalf("expected model unavailable + dimension mismatch, got %v", err)
	}
}

func TestOllamaEmbedder_errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantConn bool
	}{
		{"model missing", errors.New(`model "nomic-embed-text" not found`), false},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestOllama(t, &fakeEmbedClient{dims: 4, err: tt.err}, 4)
			_, err := e.EmbedBatch(context.Background(), []string{"x"})
			if !errors.Is(err, models.ErrModelUnavailable) {
				t.Fatalf("expected ErrModelUnavailable, got %v", err)
			}
			if got := errors.Is(err, models.ErrConnection); got != tt.wantConn {
				t.Errorf("ErrConnection: got %v, want %v", got, tt.wantConn)
			}
		})
	}
}

func TestOllamaEmbedder_invalidDimensions(t *testing.T) {
	if _, err := newOllamaEmbedder(&fakeEmbedClient{}, OllamaOptions{Dimensions: 0}); err == nil {
		t.Fatal("expected error for zero dimensions")
	}
}
