package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/symbiote/logging"
)

// TimestampFormat is the wire and storage format of creation timestamps.
const TimestampFormat = time.RFC3339Nano

// Manager owns a Store and answers store and search requests against it,
// using an Embedder to vectorize both stored content and queries.
//
// Manager is safe for concurrent use. Validation always runs before any
// embedding work.
type Manager struct {
	store    Store
	embedder Embedder
	ids      IDGenerator
	clock    func() time.Time

	// stampMu guards last so creation timestamps are strictly increasing.
	stampMu sync.Mutex
	last    time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator replaces the default snowflake id generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(m *Manager) {
		m.ids = ids
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// NewManager creates a Manager over store and embedder.
func NewManager(store Store, embedder Embedder, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, goerr.New("store is required")
	}
	if embedder == nil {
		return nil, goerr.New("embedder is required")
	}
	if store.Dimensions() <= 0 {
		return nil, goerr.New("store dimensionality must be positive", goerr.V("dimensions", store.Dimensions()))
	}

	m := &Manager{
		store:    store,
		embedder: embedder,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.ids == nil {
		ids, err := NewSnowflakeIDs(0)
		if err != nil {
			return nil, err
		}
		m.ids = ids
	}

	return m, nil
}

// StoreResult is returned by Store.
type StoreResult struct {
	ID                  string `json:"memory_id"`
	Success             bool   `json:"success"`
	Timestamp           string `json:"timestamp"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
}

// SearchHit is one ranked search result.
type SearchHit struct {
	ID             string   `json:"memory_id"`
	Content        string   `json:"content"`
	CreatedAt      string   `json:"timestamp"`
	RelevanceScore float64  `json:"relevance_score"`
	Tags           []string `json:"tags"`
}

// SearchResult is returned by Search. Results are ordered most relevant
// first.
type SearchResult struct {
	Results                 []SearchHit `json:"results"`
	TotalResults            int         `json:"total_results"`
	QueryEmbeddingGenerated bool        `json:"query_embedding_generated"`
}

// Warm checks that the embedding model is loaded and that its
// dimensionality matches the store, so the slow first load does not land on
// a user request.
func (m *Manager) Warm(ctx context.Context) error {
	dims, err := m.embedder.Dimensions(ctx)
	if err != nil {
		return asModelUnavailable(err, "failed to load embedding model")
	}
	if dims != m.store.Dimensions() {
		return goerr.New(fmt.Sprintf("embedding model produces %d dimensions, store expects %d", dims, m.store.Dimensions()),
			goerr.T(ErrModelUnavailable))
	}
	return nil
}

// Store validates content and tags, embeds content and persists a new
// record. Nothing is persisted when an error is returned.
func (m *Manager) Store(ctx context.Context, content string, tags []string) (*StoreResult, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	if err := validateTags(tags); err != nil {
		return nil, err
	}

	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return nil, asModelUnavailable(err, "failed to embed content")
	}
	if err := m.checkDimensions(embedding); err != nil {
		return nil, err
	}

	id, err := m.ids.NewID()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate memory id", goerr.T(ErrPersistenceFailure))
	}

	rec := &Record{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Tags:      cloneTags(tags),
		CreatedAt: m.stamp(),
	}

	if err := m.store.Add(ctx, rec); err != nil {
		if goerr.HasTag(err, ErrPersistenceFailure) {
			return nil, err
		}
		return nil, goerr.Wrap(err, "failed to persist memory", goerr.T(ErrPersistenceFailure), goerr.V("id", id))
	}

	logging.From(ctx).Debug("stored memory",
		"id", rec.ID,
		"tags", len(rec.Tags),
		"dimensions", len(embedding),
	)

	return &StoreResult{
		ID:                  rec.ID,
		Success:             true,
		Timestamp:           rec.CreatedAt.Format(TimestampFormat),
		EmbeddingDimensions: len(embedding),
	}, nil
}

// Search returns the limit records nearest to query. Every candidate up to
// limit is returned regardless of how low its relevance is.
func (m *Manager) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if err := validateLimit(limit); err != nil {
		return nil, err
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, asModelUnavailable(err, "failed to embed query")
	}
	if err := m.checkDimensions(embedding); err != nil {
		return nil, err
	}

	hits, err := m.store.Query(ctx, embedding, limit)
	if err != nil {
		if goerr.HasTag(err, ErrPersistenceFailure) {
			return nil, err
		}
		return nil, goerr.Wrap(err, "failed to query memories", goerr.T(ErrPersistenceFailure))
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		results = append(results, SearchHit{
			ID:             hit.Record.ID,
			Content:        hit.Record.Content,
			CreatedAt:      hit.Record.CreatedAt.UTC().Format(TimestampFormat),
			RelevanceScore: Relevance(hit.Distance),
			Tags:           hit.Record.Tags,
		})
	}

	logging.From(ctx).Debug("searched memories",
		"limit", limit,
		"results", len(results),
	)

	return &SearchResult{
		Results:                 results,
		TotalResults:            len(results),
		QueryEmbeddingGenerated: true,
	}, nil
}

// Count returns the number of stored memories.
func (m *Manager) Count(ctx context.Context) (int, error) {
	n, err := m.store.Count(ctx)
	if err != nil {
		if goerr.HasTag(err, ErrPersistenceFailure) {
			return 0, err
		}
		return 0, goerr.Wrap(err, "failed to count memories", goerr.T(ErrPersistenceFailure))
	}
	return n, nil
}

// Dimensions returns the embedding size of the underlying store.
func (m *Manager) Dimensions() int {
	return m.store.Dimensions()
}

func (m *Manager) checkDimensions(embedding []float32) error {
	if len(embedding) != m.store.Dimensions() {
		return goerr.New(fmt.Sprintf("embedding has %d dimensions, store expects %d", len(embedding), m.store.Dimensions()),
			goerr.T(ErrModelUnavailable))
	}
	return nil
}

// stamp returns the current UTC time, nudged forward so that no two records
// from this Manager share a creation timestamp.
func (m *Manager) stamp() time.Time {
	m.stampMu.Lock()
	defer m.stampMu.Unlock()

	now := m.clock().UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Nanosecond)
	}
	m.last = now
	return now
}

func asModelUnavailable(err error, msg string) error {
	if goerr.HasTag(err, ErrInvalidInput) || goerr.HasTag(err, ErrModelUnavailable) {
		return err
	}
	return goerr.Wrap(err, msg, goerr.T(ErrModelUnavailable))
}

func cloneTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}
