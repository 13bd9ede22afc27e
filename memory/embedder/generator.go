package embedder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/singleflight"

	"github.com/becomeliminal/symbiote/logging"
	"github.com/becomeliminal/symbiote/memory"
)

const defaultBatchSize = 32

// Generator maps text to fixed-length vectors with a pluggable Model.
//
// The model is a two-phase resource: unloaded until EnsureLoaded (or any
// embedding call) runs the Loader, ready afterwards. Concurrent callers that
// arrive during a load wait for that single load instead of starting their
// own.
type Generator struct {
	name      string
	load      Loader
	batchSize int
	cacheSize int64

	group singleflight.Group
	model atomic.Pointer[loadedModel]
	cache *ristretto.Cache

	closeOnce sync.Once
}

type loadedModel struct {
	Model
}

// Option configures a Generator.
type Option func(*Generator)

// WithBatchSize caps how many texts go to the model in one call.
func WithBatchSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// WithCache keeps recently embedded texts in memory, up to roughly maxBytes
// of vector data. Embedding is deterministic so cached vectors are identical
// to recomputed ones.
func WithCache(maxBytes int64) Option {
	return func(g *Generator) {
		g.cacheSize = maxBytes
	}
}

// New creates a Generator for the model identified by name. Nothing is
// loaded until first use.
func New(name string, load Loader, opts ...Option) (*Generator, error) {
	if load == nil {
		return nil, goerr.New("embedding loader is required", goerr.V("model", name))
	}

	g := &Generator{
		name:      name,
		load:      load,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.cacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     g.cacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create embedding cache", goerr.V("max_bytes", g.cacheSize))
		}
		g.cache = cache
	}

	return g, nil
}

// Name returns the model identifier.
func (g *Generator) Name() string {
	return g.name
}

// Loaded reports whether the model is ready without triggering a load.
func (g *Generator) Loaded() bool {
	return g.model.Load() != nil
}

// EnsureLoaded loads the model if needed. It is safe to call repeatedly and
// concurrently; only one load runs at a time. A caller whose ctx ends stops
// waiting but does not cancel the load for other waiters.
func (g *Generator) EnsureLoaded(ctx context.Context) (Model, error) {
	if m := g.model.Load(); m != nil {
		return m.Model, nil
	}

	ch := g.group.DoChan("load", func() (any, error) {
		if m := g.model.Load(); m != nil {
			return m, nil
		}

		logger := logging.From(ctx)
		logger.Info("loading embedding model", "model", g.name)
		started := time.Now()

		model, err := g.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load embedding model",
				goerr.T(memory.ErrModelUnavailable), goerr.V("model", g.name))
		}
		if model.Dimensions() <= 0 {
			_ = model.Close()
			return nil, goerr.New("embedding model reports no dimensions",
				goerr.T(memory.ErrModelUnavailable), goerr.V("model", g.name))
		}

		loaded := &loadedModel{Model: model}
		g.model.Store(loaded)
		logger.Info("embedding model loaded",
			"model", g.name,
			"dimensions", model.Dimensions(),
			"elapsed", time.Since(started).String(),
		)
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return nil, goerr.Wrap(ctx.Err(), "stopped waiting for embedding model",
			goerr.T(memory.ErrModelUnavailable), goerr.V("model", g.name))
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*loadedModel).Model, nil
	}
}

// Dimensions returns the model's output size, loading it if needed.
func (g *Generator) Dimensions(ctx context.Context) (int, error) {
	model, err := g.EnsureLoaded(ctx)
	if err != nil {
		return 0, err
	}
	return model.Dimensions(), nil
}

// Embed converts a non-empty text to a vector.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, goerr.New("text must not be empty", goerr.T(memory.ErrInvalidInput))
	}

	vectors, err := g.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts texts in order. It fails without doing any work when
// texts is empty or any element is blank.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, goerr.New("texts must not be empty", goerr.T(memory.ErrInvalidInput))
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, goerr.New(fmt.Sprintf("text %d must not be empty", i), goerr.T(memory.ErrInvalidInput))
		}
	}

	return g.embed(ctx, texts)
}

func (g *Generator) embed(ctx context.Context, texts []string) ([][]float32, error) {
	model, err := g.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if vec, ok := g.cached(text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += g.batchSize {
		end := min(start+g.batchSize, len(missing))
		chunk := missing[start:end]

		batch := make([]string, len(chunk))
		for j, idx := range chunk {
			batch[j] = texts[idx]
		}

		vectors, err := model.Embed(ctx, batch)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to compute embedding",
				goerr.T(memory.ErrModelUnavailable), goerr.V("model", g.name))
		}
		if len(vectors) != len(batch) {
			return nil, goerr.New(fmt.Sprintf("model returned %d vectors for %d texts", len(vectors), len(batch)),
				goerr.T(memory.ErrModelUnavailable), goerr.V("model", g.name))
		}

		for j, idx := range chunk {
			if len(vectors[j]) != model.Dimensions() {
				return nil, goerr.New(fmt.Sprintf("model returned %d dimensions, expected %d", len(vectors[j]), model.Dimensions()),
					goerr.T(memory.ErrModelUnavailable), goerr.V("model", g.name))
			}
			out[idx] = vectors[j]
			g.remember(texts[idx], vectors[j])
		}
	}

	return out, nil
}

func (g *Generator) cached(text string) ([]float32, bool) {
	if g.cache == nil {
		return nil, false
	}
	v, ok := g.cache.Get(text)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

func (g *Generator) remember(text string, vec []float32) {
	if g.cache == nil {
		return
	}
	g.cache.Set(text, append([]float32(nil), vec...), int64(len(vec)*4+len(text)))
}

// Close releases the model and cache. The Generator must not be used
// afterwards.
func (g *Generator) Close() error {
	var err error
	g.closeOnce.Do(func() {
		if g.cache != nil {
			g.cache.Close()
		}
		if m := g.model.Swap(nil); m != nil {
			if cerr := m.Close(); cerr != nil {
				err = goerr.Wrap(cerr, "failed to close embedding model", goerr.V("model", g.name))
			}
		}
	})
	return err
}
