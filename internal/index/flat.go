package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrDimensionMismatch is returned when vectors of different sizes meet.
var ErrDimensionMismatch = errors.New("index: dimension mismatch")

// VectorIndex answers k-nearest-neighbor queries over a fixed set of vectors.
type VectorIndex interface {
	// Build replaces the index contents. Vectors must share one dimension.
	Build(vectors [][]float32) error
	// Query returns up to k neighbors ordered by distance, ties by position.
	Query(query []float32, k int) ([]Neighbor, error)
	Len() int
}

// Metric selects the distance function of a Flat index.
type Metric string

const (
	L2     Metric = "l2"
	Cosine Metric = "cosine"
)

// ParseMetric maps a config value to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", L2:
		return L2, nil
	case Cosine:
		return Cosine, nil
	}
	return "", fmt.Errorf("unknown index metric %q", s)
}

// Flat is a brute-force index: every query scans every stored vector. That is
// the right trade-off for a catalogue of a few hundred courses.
type Flat struct {
	metric Metric

	mu   sync.RWMutex
	vecs [][]float32
	dim  int
}

func NewFlat(metric Metric) *Flat {
	if metric == "" {
		metric = L2
	}
	return &Flat{metric: metric}
}

func (f *Flat) Build(vectors [][]float32) error {
	var dim int
	if len(vectors) > 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return fmt.Errorf("%w: empty vector at 0", ErrDimensionMismatch)
		}
	}

	vecs := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
		vecs[i] = append([]float32(nil), v...)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.vecs = vecs
	f.dim = dim
	return nil
}

func (f *Flat) Query(query []float32, k int) ([]Neighbor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 || len(f.vecs) == 0 {
		return nil, nil
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), f.dim)
	}

	results := make([]Neighbor, len(f.vecs))
	for i, v := range f.vecs {
		results[i] = Neighbor{Position: i, Distance: f.distance(query, v)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vecs)
}

func (f *Flat) distance(a, b []float32) float64 {
	if f.metric == Cosine {
		return 1 - cosineSimilarity(a, b)
	}
	return l2Distance(a, b)
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// cosineSimilarity treats a zero vector as orthogonal to everything.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	return dot / denom
}
