package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"
)

const hashBackend = "hash"

// DefaultHashDim is the vector size used when none is configured.
const DefaultHashDim = 256

// HashEmbedder is an offline bag-of-words embedder. Each lowercase token is
// hashed (FNV-1a) into one of Dim buckets with a sign taken from the top bit,
// and the result is L2-normalized. Texts sharing words land close together;
// it needs no model and is fully deterministic.
type HashEmbedder struct {
	Dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDim
	}
	return &HashEmbedder{Dim: dim}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func (h *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = h.vector(t)
	}
	return vecs, nil
}

func (h *HashEmbedder) Fingerprint() string {
	return hashBackend + ":" + strconv.Itoa(h.Dim)
}

func (h *HashEmbedder) vector(text string) []float32 {
	acc := make([]float64, h.Dim)
	for _, tok := range tokenize(text) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum32()

		sign := 1.0
		if sum&(1<<31) != 0 {
			sign = -1.0
		}
		acc[sum%uint32(h.Dim)] += sign
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.Dim)
	if norm == 0 {
		return out
	}
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
