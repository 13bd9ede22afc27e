package cli

import (
	"sort"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/symbiote/memory/embedder"
	"github.com/becomeliminal/symbiote/memory/embedder/mock"
	"github.com/becomeliminal/symbiote/memory/embedder/openai"
)

// providerFunc builds a model loader from configuration. Loaders run lazily,
// on first use.
type providerFunc func(cfg *config) (embedder.Loader, error)

// providers maps EMBEDDING_PROVIDER values to loaders. Providers that need
// native libraries register themselves from files behind build tags.
var providers = map[string]providerFunc{
	"mock":   newMockLoader,
	"openai": newOpenAILoader,
}

// providerPreference orders providers for the default choice. Local models
// come first; they are only registered in builds with the matching tag.
var providerPreference = []string{"onnx", "fastembed", "openai", "mock"}

// defaultProvider returns the most preferred provider compiled into this
// binary.
func defaultProvider() string {
	for _, name := range providerPreference {
		if _, ok := providers[name]; ok {
			return name
		}
	}
	return providerNames()[0]
}

func providerNames() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (cfg *config) newLoader() (embedder.Loader, error) {
	build, ok := providers[cfg.provider]
	if !ok {
		return nil, goerr.New("embedding provider is not available in this build",
			goerr.V("provider", cfg.provider),
			goerr.V("available", providerNames()),
			goerr.V("hint", "native providers need -tags onnx or -tags fastembed"))
	}
	return build(cfg)
}

func newMockLoader(cfg *config) (embedder.Loader, error) {
	return mock.Loader(int(cfg.dimensions)), nil
}

func newOpenAILoader(cfg *config) (embedder.Loader, error) {
	if cfg.openaiAPIKey == "" && cfg.openaiBaseURL == "" {
		return nil, goerr.New("openai-api-key is required unless openai-base-url points at a local server")
	}
	return openai.Loader(openai.Config{
		APIKey:     cfg.openaiAPIKey,
		BaseURL:    cfg.openaiBaseURL,
		Model:      cfg.model,
		Dimensions: int(cfg.dimensions),
	}), nil
}
