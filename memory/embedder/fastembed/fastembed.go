//go:build fastembed

// Package fastembed runs quantized sentence-transformer models through
// fastembed-go, which downloads and caches the model on first load.
package fastembed

import (
	"context"
	"runtime"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/symbiote/memory/embedder"
)

// Config configures a fastembed model.
type Config struct {
	// Model is a model identifier such as "all-MiniLM-L6-v2".
	Model string

	// CacheDir is where model files are downloaded (default ".fastembed").
	CacheDir string

	// MaxLength is the token limit, 0 for the model default.
	MaxLength int

	// BatchSize caps texts per inference call (default 64, at most
	// 4*GOMAXPROCS).
	BatchSize int
}

var aliases = map[string]fastembed.EmbeddingModel{
	"all-MiniLM-L6-v2":                       fastembed.AllMiniLML6V2,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"bge-small-en-v1.5":                      fastembed.BGESmallENV15,
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"bge-base-en-v1.5":                       fastembed.BGEBaseENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
}

// Model wraps a fastembed FlagEmbedding.
type Model struct {
	m    *fastembed.FlagEmbedding
	dims int
	bs   int
	mu   sync.Mutex
}

// Loader returns an embedder.Loader for cfg.
func Loader(cfg Config) embedder.Loader {
	return func(ctx context.Context) (embedder.Model, error) {
		return New(cfg)
	}
}

// New downloads (if needed) and opens the model, then embeds a probe text to
// learn its dimensionality.
func New(cfg Config) (*Model, error) {
	name, ok := aliases[cfg.Model]
	if !ok {
		name = fastembed.EmbeddingModel(cfg.Model)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = ".fastembed"
	}

	m, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:     name,
		CacheDir:  cfg.CacheDir,
		MaxLength: cfg.MaxLength,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open fastembed model", goerr.V("model", cfg.Model))
	}

	bs := 64
	if cfg.BatchSize > 0 {
		bs = cfg.BatchSize
	}
	if bs > 4*runtime.GOMAXPROCS(0) {
		bs = 4 * runtime.GOMAXPROCS(0)
	}

	probe, err := m.Embed([]string{"dimension probe"}, 1)
	if err != nil {
		_ = m.Destroy()
		return nil, goerr.Wrap(err, "failed to probe fastembed model", goerr.V("model", cfg.Model))
	}
	if len(probe) != 1 {
		_ = m.Destroy()
		return nil, goerr.New("fastembed probe returned no vector", goerr.V("model", cfg.Model))
	}

	return &Model{m: m, dims: len(probe[0]), bs: bs}, nil
}

// Embed converts texts to vectors in input order.
func (e *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.m == nil {
		return nil, goerr.New("fastembed model is closed")
	}
	out, err := e.m.Embed(texts, e.bs)
	if err != nil {
		return nil, goerr.Wrap(err, "fastembed inference failed", goerr.V("texts", len(texts)))
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (e *Model) Dimensions() int { return e.dims }

// Close releases the model.
func (e *Model) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.m == nil {
		return nil
	}
	err := e.m.Destroy()
	e.m = nil
	if err != nil {
		return goerr.Wrap(err, "failed to destroy fastembed model")
	}
	return nil
}
