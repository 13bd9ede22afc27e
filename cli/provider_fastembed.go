//go:build fastembed

package cli

import (
	"github.com/becomeliminal/symbiote/memory/embedder"
	"github.com/becomeliminal/symbiote/memory/embedder/fastembed"
)

func init() {
	providers["fastembed"] = newFastembedLoader
}

func newFastembedLoader(cfg *config) (embedder.Loader, error) {
	return fastembed.Loader(fastembed.Config{
		Model:    cfg.model,
		CacheDir: cfg.fastembedCacheDir,
	}), nil
}
