package embeddings

import (
	"context"
	"fmt"
)

// Embedder maps text to fixed-dimension vectors. Embed and EmbedBatch must
// use the same model so that query and corpus vectors are comparable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Fingerprinter is implemented by embedders that can name their model.
// Persisted vectors are only reused when the fingerprint matches.
type Fingerprinter interface {
	Fingerprint() string
}

// HealthChecker is implemented by backends that can report reachability.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// EmbeddingError reports an unavailable or misconfigured backend, or a
// response that violates the embedding contract.
type EmbeddingError struct {
	Backend string
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("%s embedding: %v", e.Backend, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Fingerprint returns e's fingerprint, or "" when it has none.
func Fingerprint(e Embedder) string {
	if f, ok := e.(Fingerprinter); ok {
		return f.Fingerprint()
	}
	return ""
}

// checkBatch verifies that a backend returned one non-empty vector per input,
// all of the same dimension.
func checkBatch(backend string, want int, vecs [][]float32) error {
	if len(vecs) != want {
		return &EmbeddingError{Backend: backend, Err: fmt.Errorf("got %d embeddings for %d inputs", len(vecs), want)}
	}
	if want == 0 {
		return nil
	}
	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) == 0 {
			return &EmbeddingError{Backend: backend, Err: fmt.Errorf("empty embedding at %d", i)}
		}
		if len(v) != dim {
			return &EmbeddingError{Backend: backend, Err: fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)}
		}
	}
	return nil
}
