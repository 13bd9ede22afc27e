package memory

import (
	"context"
	"time"
)

// Record is the unit of persistence. A record is immutable once stored.
type Record struct {
	ID        string
	Content   string
	Embedding []float32
	Tags      []string
	CreatedAt time.Time
}

// Hit is a record returned by a similarity query together with its cosine
// distance to the query vector.
type Hit struct {
	Record   *Record
	Distance float64
}

// Store is the vector storage backend interface.
// Implementations: chromem.Store (embedded vector DB), sqlite.Store.
type Store interface {
	// Add persists a record durably. The record's embedding must match
	// Dimensions(). On error nothing is visible to Query or Count.
	Add(ctx context.Context, rec *Record) error

	// Query returns at most limit hits ordered by ascending cosine distance,
	// ties broken by earlier CreatedAt and then by ID.
	Query(ctx context.Context, embedding []float32, limit int) ([]Hit, error)

	// Count returns the number of persisted records without scanning them.
	Count(ctx context.Context) (int, error)

	// Dimensions returns the embedding size the store was configured with.
	Dimensions() int

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementation: embedder.Generator, which lazily loads a pluggable model.
type Embedder interface {
	// Embed converts a single non-empty text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts texts in order; equivalent to calling Embed on
	// each element.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size, loading the model if
	// needed.
	Dimensions(ctx context.Context) (int, error)
}
