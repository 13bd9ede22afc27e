// Package chromem stores memories in chromem-go, a pure Go embedded vector
// database that persists each document as a file.
package chromem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/symbiote/logging"
	"github.com/becomeliminal/symbiote/memory"
)

const (
	metaCreatedAt = "created_at"
	metaTags      = "tags"
	// legacyTimestamp is the creation key used by collections written by
	// earlier releases.
	legacyTimestamp = "timestamp"
)

// Config configures a chromem store.
type Config struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Collection names the collection (namespace) inside the database.
	Collection string

	// Dimensions is the embedding size every record must have.
	Dimensions int

	// Compress gzips persisted documents.
	Compress bool
}

// Store wraps a chromem-go collection.
type Store struct {
	db         *chromem.DB
	col        *chromem.Collection
	dimensions int

	// chromem makes a document visible before its file is written. mu is
	// held for writing across add and rollback so Query never sees a
	// document whose Add failed.
	mu          sync.RWMutex
	addDocument func(ctx context.Context, doc chromem.Document) error
}

var _ memory.Store = (*Store)(nil)

// New opens (or creates) the collection and verifies that existing records
// match the configured dimensionality.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Collection == "" {
		return nil, goerr.New("collection name is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, goerr.New("dimensions must be positive", goerr.V("dimensions", cfg.Dimensions))
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open chromem database",
				goerr.T(memory.ErrPersistenceFailure), goerr.V("path", cfg.Path))
		}
	}

	// No embedding func: every document arrives with its embedding.
	col, err := db.GetOrCreateCollection(cfg.Collection, map[string]string{
		"description": "semantic memory",
	}, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open collection",
			goerr.T(memory.ErrPersistenceFailure), goerr.V("collection", cfg.Collection))
	}

	s := &Store{
		db:          db,
		col:         col,
		dimensions:  cfg.Dimensions,
		addDocument: col.AddDocument,
	}
	if err := s.checkDimensions(ctx); err != nil {
		return nil, err
	}

	logging.From(ctx).Info("chromem store opened",
		"path", cfg.Path,
		"collection", cfg.Collection,
		"count", col.Count(),
	)
	return s, nil
}

// checkDimensions probes a non-empty collection with a vector of the
// configured size; chromem rejects vectors whose length differs from the
// stored ones.
func (s *Store) checkDimensions(ctx context.Context) error {
	if s.col.Count() == 0 {
		return nil
	}

	probe := make([]float32, s.dimensions)
	probe[0] = 1
	results, err := s.col.QueryEmbedding(ctx, probe, 1, nil, nil)
	if err != nil {
		return goerr.Wrap(err, "stored embeddings do not match configured dimensionality",
			goerr.T(memory.ErrPersistenceFailure), goerr.V("dimensions", s.dimensions))
	}
	if len(results) > 0 && len(results[0].Embedding) != s.dimensions {
		return goerr.New(fmt.Sprintf("stored embeddings have %d dimensions, configured %d", len(results[0].Embedding), s.dimensions),
			goerr.T(memory.ErrPersistenceFailure))
	}
	return nil
}

// Add persists rec. If chromem fails to write the document file, the
// in-memory copy is removed again so the record is not half-visible.
func (s *Store) Add(ctx context.Context, rec *memory.Record) error {
	if len(rec.Embedding) != s.dimensions {
		return goerr.New(fmt.Sprintf("embedding has %d dimensions, store expects %d", len(rec.Embedding), s.dimensions),
			goerr.T(memory.ErrPersistenceFailure), goerr.V("id", rec.ID))
	}

	tags, err := memory.EncodeTags(rec.Tags)
	if err != nil {
		return goerr.Wrap(err, "failed to encode tags", goerr.T(memory.ErrPersistenceFailure))
	}

	metadata := map[string]string{
		metaCreatedAt: rec.CreatedAt.UTC().Format(memory.TimestampFormat),
	}
	if tags != "" {
		metadata[metaTags] = tags
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: append([]float32(nil), rec.Embedding...),
		Metadata:  metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.addDocument(ctx, doc); err != nil {
		if derr := s.col.Delete(context.WithoutCancel(ctx), nil, nil, rec.ID); derr != nil {
			logging.From(ctx).Error("failed to roll back document", "id", rec.ID, "error", derr)
		}
		return goerr.Wrap(err, "failed to add document",
			goerr.T(memory.ErrPersistenceFailure), goerr.V("id", rec.ID))
	}
	return nil
}

// Query scans the whole collection and ranks every document, so ties at the
// limit boundary are resolved by creation order rather than by chromem's
// internal heap order. A document that cannot be decoded fails the query.
func (s *Store) Query(ctx context.Context, embedding []float32, limit int) ([]memory.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.col.Count()
	if n == 0 || limit <= 0 {
		return nil, nil
	}

	results, err := s.col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "chromem query failed", goerr.T(memory.ErrPersistenceFailure))
	}

	hits := make([]memory.Hit, 0, len(results))
	for _, res := range results {
		rec, err := toRecord(res)
		if err != nil {
			return nil, goerr.Wrap(err, "unreadable document in collection",
				goerr.T(memory.ErrPersistenceFailure), goerr.V("id", res.ID))
		}
		hits = append(hits, memory.Hit{
			Record:   rec,
			Distance: 1 - float64(res.Similarity),
		})
	}

	return memory.RankHits(hits, limit), nil
}

// Count returns the number of documents. chromem keeps documents in a map,
// so this does not scan.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.col.Count(), nil
}

func (s *Store) Dimensions() int {
	return s.dimensions
}

// Close releases resources. chromem writes every document on add, so there
// is nothing to flush.
func (s *Store) Close() error {
	return nil
}

func toRecord(res chromem.Result) (*memory.Record, error) {
	raw, ok := res.Metadata[metaCreatedAt]
	if !ok {
		raw = res.Metadata[legacyTimestamp]
	}
	createdAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid creation timestamp", goerr.V("value", raw))
	}

	return &memory.Record{
		ID:        res.ID,
		Content:   res.Content,
		Embedding: res.Embedding,
		Tags:      memory.DecodeTags(res.Metadata[metaTags]),
		CreatedAt: createdAt,
	}, nil
}
