// Package embedder provides Generator, the lazily loaded embedding front end
// used by memory.Manager, and the Model contract implemented by the
// concrete backends in its subpackages (onnx, fastembed, openai, mock).
package embedder

import (
	"context"
)

// Model is a loaded embedding model.
type Model interface {
	// Embed converts texts to vectors, one per input in input order.
	// Inputs are already validated as non-empty.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed output size.
	Dimensions() int

	// Close releases model resources.
	Close() error
}

// Loader loads a Model. Loading is expensive and runs at most once per
// successful load; a failed load may be retried by a later call.
type Loader func(ctx context.Context) (Model, error)
