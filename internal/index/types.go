package index

import (
	"time"

	"github.com/aryannaik/course-search/internal/courses"
)

// Neighbor is a stored vector returned by a nearest-neighbor query.
type Neighbor struct {
	Position int     // insertion position of the vector
	Distance float64 // smaller is closer
}

// Entry stores a course with its embedding vector.
type Entry struct {
	courses.Record
	Embedding []float32 `json:"embedding"`
}

// Snapshot is the persisted output of one build. It is written and replaced
// as a whole, never patched.
type Snapshot struct {
	BuildID  string    `json:"buildId"`
	BuiltAt  time.Time `json:"builtAt"`
	Embedder string    `json:"embedder"`
	Dim      int       `json:"dim"`
	Entries  []Entry   `json:"entries"`
}

// Vectors returns the entry embeddings in position order.
func (s *Snapshot) Vectors() [][]float32 {
	out := make([][]float32, len(s.Entries))
	for i := range s.Entries {
		out[i] = s.Entries[i].Embedding
	}
	return out
}

// Records returns the entry records in position order.
func (s *Snapshot) Records() []courses.Record {
	out := make([]courses.Record, len(s.Entries))
	for i := range s.Entries {
		out[i] = s.Entries[i].Record
	}
	return out
}
