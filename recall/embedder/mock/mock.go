// Package mock provides a deterministic embedder for tests and default
// wiring where no real model is available.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// DefaultDimensions matches all-MiniLM-L6-v2 so the mock can stand in for
// the ONNX embedder.
const DefaultDimensions = 384

// MockEmbedder generates deterministic embeddings from a text hash. No
// real semantic similarity, but identical text always embeds identically.
type MockEmbedder struct {
	dimensions int
}

// New creates a mock embedder with DefaultDimensions.
func New() *MockEmbedder {
	return NewWithDimensions(DefaultDimensions)
}

// NewWithDimensions creates a mock embedder with a custom vector size.
func NewWithDimensions(dims int) *MockEmbedder {
	return &MockEmbedder{dimensions: dims}
}

// Embed creates a deterministic unit vector seeded by the text hash.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))

	embedding := make([]float32, m.dimensions)
	seed := h.Sum64()
	for i := range embedding {
		// LCG step per element
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *MockEmbedder) Dimensions() int { return m.dimensions }

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
