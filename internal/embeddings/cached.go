package embeddings

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoizes single-text embeddings, which is where repeated queries
// land. Batch calls go straight to the backend.
type Cached struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps next with an LRU of the given size. A size <= 0 returns next
// unchanged.
func NewCached(next Embedder, size int) (Embedder, error) {
	if size <= 0 {
		return next, nil
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: c}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return clone(v), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, clone(v))
	return v, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedBatch(ctx, texts)
}

func (c *Cached) Fingerprint() string { return Fingerprint(c.next) }

func (c *Cached) IsHealthy(ctx context.Context) bool {
	if h, ok := c.next.(HealthChecker); ok {
		return h.IsHealthy(ctx)
	}
	return true
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
