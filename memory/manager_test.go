package memory_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/symbiote/memory"
	"github.com/becomeliminal/symbiote/memory/embedder"
	"github.com/becomeliminal/symbiote/memory/embedder/mock"
	"github.com/becomeliminal/symbiote/memory/store/chromem"
)

// countingEmbedder records how often the manager asked for an embedding.
type countingEmbedder struct {
	memory.Embedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.Embedder.Embed(ctx, text)
}

// tableEmbedder returns fixed vectors per text.
type tableEmbedder struct {
	vectors map[string][]float32
	dims    int
}

func (e *tableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return nil, errors.New("no vector for " + text)
}

func (e *tableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *tableEmbedder) Dimensions(ctx context.Context) (int, error) {
	return e.dims, nil
}

// failingStore accepts nothing.
type failingStore struct {
	memory.Store
}

func (f *failingStore) Add(ctx context.Context, rec *memory.Record) error {
	return errors.New("disk full")
}

func newGenerator(t *testing.T, dims int) *embedder.Generator {
	t.Helper()
	gen, err := embedder.New("mock", mock.Loader(dims))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = gen.Close() })
	return gen
}

func newStore(t *testing.T, dims int) memory.Store {
	t.Helper()
	s, err := chromem.New(context.Background(), chromem.Config{Collection: "test", Dimensions: dims})
	gt.NoError(t, err)
	return s
}

func newManager(t *testing.T, emb memory.Embedder, store memory.Store, opts ...memory.Option) *memory.Manager {
	t.Helper()
	m, err := memory.NewManager(store, emb, opts...)
	gt.NoError(t, err)
	return m
}

func count(t *testing.T, m *memory.Manager) int {
	t.Helper()
	n, err := m.Count(context.Background())
	gt.NoError(t, err)
	return n
}

func TestManager_StoreAndSearchScenario(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, 384)
	m := newManager(t, gen, newStore(t, 384))

	res, err := m.Store(ctx, "User prefers dark mode", []string{"preference"})
	gt.NoError(t, err)
	gt.True(t, strings.HasPrefix(res.ID, "mem_"))
	gt.True(t, res.Success)
	gt.Equal(t, res.EmbeddingDimensions, 384)
	_, err = time.Parse(memory.TimestampFormat, res.Timestamp)
	gt.NoError(t, err)
	gt.Equal(t, count(t, m), 1)

	found, err := m.Search(ctx, "UI preferences", 5)
	gt.NoError(t, err)
	gt.True(t, found.QueryEmbeddingGenerated)
	gt.Equal(t, found.TotalResults, 1)
	gt.A(t, found.Results).Length(1)

	hit := found.Results[0]
	gt.Equal(t, hit.ID, res.ID)
	gt.Equal(t, hit.Content, "User prefers dark mode")
	gt.Equal(t, hit.Tags, []string{"preference"})
	gt.Equal(t, hit.CreatedAt, res.Timestamp)

	q, err := gen.Embed(ctx, "UI preferences")
	gt.NoError(t, err)
	c, err := gen.Embed(ctx, "User prefers dark mode")
	gt.NoError(t, err)
	want := memory.Relevance(memory.CosineDistance(q, c))
	gt.True(t, math.Abs(hit.RelevanceScore-want) <= 0.1)
}

func TestManager_StoreIncrementsCount(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newGenerator(t, 16), newStore(t, 16))

	for i, content := range []string{"one", "two", "two", "  padded  "} {
		_, err := m.Store(ctx, content, nil)
		gt.NoError(t, err)
		gt.Equal(t, count(t, m), i+1)
	}
}

func TestManager_TagsRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newGenerator(t, 16), newStore(t, 16))

	tags := []string{
		"zeta", "alpha", "with,comma", "with|pipe", "ünïcödé",
		strings.Repeat("x", memory.MaxTagLength), "7", "8", "9", "10",
	}
	_, err := m.Store(ctx, "exact text", tags)
	gt.NoError(t, err)

	found, err := m.Search(ctx, "exact text", 1)
	gt.NoError(t, err)
	gt.A(t, found.Results).Length(1)
	gt.Equal(t, found.Results[0].Tags, tags)
	gt.Equal(t, found.Results[0].RelevanceScore, 100.0)
}

func TestManager_InvalidInputDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	emb := &countingEmbedder{Embedder: newGenerator(t, 8)}
	m := newManager(t, emb, newStore(t, 8))

	_, err := m.Store(ctx, "seed", nil)
	gt.NoError(t, err)
	calls := emb.calls.Load()

	fifteen := make([]string, 15)
	for i := range fifteen {
		fifteen[i] = "tag"
	}

	storeCases := []struct {
		name    string
		content string
		tags    []string
		msg     string
	}{
		{"empty content", "", nil, "content must not be empty"},
		{"blank content", " \n\t", nil, "content must not be empty"},
		{"too many tags", "valid", fifteen, "tags must be at most 10, got 15"},
		{"empty tag", "valid", []string{"ok", " "}, "tag 1 must not be empty"},
		{"long tag", "valid", []string{strings.Repeat("y", 51)}, "at most 50 characters, got 51"},
	}
	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Store(ctx, tc.content, tc.tags)
			gt.Error(t, err)
			gt.True(t, memory.IsInvalidInput(err))
			gt.S(t, err.Error()).Contains(tc.msg)
		})
	}

	searchCases := []struct {
		name  string
		query string
		limit int
		msg   string
	}{
		{"empty query", "", 5, "query must not be empty"},
		{"zero limit", "q", 0, "limit must be between 1 and 20, got 0"},
		{"negative limit", "q", -3, "got -3"},
		{"large limit", "q", 21, "got 21"},
	}
	for _, tc := range searchCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Search(ctx, tc.query, tc.limit)
			gt.Error(t, err)
			gt.True(t, memory.IsInvalidInput(err))
			gt.S(t, err.Error()).Contains(tc.msg)
		})
	}

	gt.Equal(t, count(t, m), 1)
	// Validation runs before any embedding work.
	gt.Equal(t, emb.calls.Load(), calls)
}

func TestManager_SearchBounds(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newGenerator(t, 32), newStore(t, 32))

	found, err := m.Search(ctx, "nothing stored yet", 5)
	gt.NoError(t, err)
	gt.Equal(t, found.TotalResults, 0)
	gt.A(t, found.Results).Length(0)

	for i := 0; i < 7; i++ {
		_, err := m.Store(ctx, strings.Repeat("memory ", i+1), nil)
		gt.NoError(t, err)
	}

	for _, limit := range []int{1, 3, 7, 20} {
		found, err := m.Search(ctx, "memory", limit)
		gt.NoError(t, err)
		gt.Equal(t, found.TotalResults, min(limit, 7))
		gt.A(t, found.Results).Length(min(limit, 7))

		for i, hit := range found.Results {
			gt.True(t, hit.RelevanceScore >= 0 && hit.RelevanceScore <= 100)
			if i > 0 {
				gt.True(t, found.Results[i-1].RelevanceScore >= hit.RelevanceScore)
			}
		}
	}
}

func TestManager_TiesRankEarlierFirst(t *testing.T) {
	ctx := context.Background()
	same := []float32{0, 1, 0}
	emb := &tableEmbedder{dims: 3, vectors: map[string][]float32{
		"first":  same,
		"second": same,
		"third":  same,
		"other":  {1, 0, 0},
		"query":  same,
	}}

	// A frozen clock still yields strictly increasing creation times.
	frozen := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	m := newManager(t, emb, newStore(t, 3),
		memory.WithClock(func() time.Time { return frozen }),
		memory.WithIDGenerator(memory.UUIDIDs{}),
	)

	var ids []string
	for _, content := range []string{"other", "first", "second", "third"} {
		res, err := m.Store(ctx, content, nil)
		gt.NoError(t, err)
		ids = append(ids, res.ID)
	}

	found, err := m.Search(ctx, "query", 2)
	gt.NoError(t, err)
	gt.A(t, found.Results).Length(2)
	gt.Equal(t, found.Results[0].Content, "first")
	gt.Equal(t, found.Results[1].Content, "second")
	gt.Equal(t, found.Results[0].RelevanceScore, 100.0)

	found, err = m.Search(ctx, "query", 4)
	gt.NoError(t, err)
	gt.Equal(t, found.Results[3].Content, "other")
	gt.Equal(t, found.Results[3].RelevanceScore, 50.0)
}

func TestManager_UniqueIDsUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newGenerator(t, 8), newStore(t, 8))

	const n = 50
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := m.Store(ctx, "same content every time", nil)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = res.ID
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		gt.NoError(t, err)
	}
	seen := make(map[string]bool, n)
	for _, id := range ids {
		gt.False(t, seen[id])
		seen[id] = true
	}
	gt.Equal(t, count(t, m), n)
}

func TestManager_PersistenceFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 8)
	m := newManager(t, newGenerator(t, 8), &failingStore{Store: store})

	_, err := m.Store(ctx, "will not persist", nil)
	gt.Error(t, err)
	gt.True(t, memory.IsPersistenceFailure(err))
	gt.False(t, memory.IsInvalidInput(err))

	n, err := store.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 0)
}

func TestManager_ModelUnavailable(t *testing.T) {
	ctx := context.Background()
	gen, err := embedder.New("missing", func(ctx context.Context) (embedder.Model, error) {
		return nil, errors.New("model not found")
	})
	gt.NoError(t, err)
	m := newManager(t, gen, newStore(t, 8))

	_, err = m.Store(ctx, "content", nil)
	gt.True(t, memory.IsModelUnavailable(err))

	_, err = m.Search(ctx, "query", 5)
	gt.True(t, memory.IsModelUnavailable(err))

	gt.True(t, memory.IsModelUnavailable(m.Warm(ctx)))
	gt.Equal(t, count(t, m), 0)
}

func TestManager_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newGenerator(t, 16), newStore(t, 8))

	err := m.Warm(ctx)
	gt.Error(t, err)
	gt.True(t, memory.IsModelUnavailable(err))

	_, err = m.Store(ctx, "content", nil)
	gt.True(t, memory.IsModelUnavailable(err))
	gt.Equal(t, count(t, m), 0)
}

func TestManager_Warm(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, 8)
	m := newManager(t, gen, newStore(t, 8))

	gt.False(t, gen.Loaded())
	gt.NoError(t, m.Warm(ctx))
	gt.True(t, gen.Loaded())
	gt.Equal(t, m.Dimensions(), 8)
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	_, err := memory.NewManager(nil, newGenerator(t, 8))
	gt.Error(t, err)

	_, err = memory.NewManager(newStore(t, 8), nil)
	gt.Error(t, err)
}
