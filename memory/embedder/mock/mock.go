// Package mock provides a deterministic embedding model for tests and
// offline runs. Vectors are derived from a hash of the text, so identical
// texts map to identical vectors but similar texts are not close.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/becomeliminal/symbiote/memory/embedder"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// Model is a hash-based embedding model.
type Model struct {
	dimensions int
}

// New creates a mock model. Non-positive dims select DefaultDimensions.
func New(dims int) *Model {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Model{dimensions: dims}
}

// Loader returns an embedder.Loader for a mock model.
func Loader(dims int) embedder.Loader {
	return func(ctx context.Context) (embedder.Model, error) {
		return New(dims), nil
	}
}

// Embed creates one deterministic unit vector per text.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *Model) vector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.dimensions)
	for i := range vec {
		// LCG step, mapped to [-1, 1]
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(vec)
}

// Dimensions returns the embedding size.
func (m *Model) Dimensions() int {
	return m.dimensions
}

func (m *Model) Close() error {
	return nil
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
