// Package openai embeds text through an OpenAI-compatible embeddings API
// (OpenAI, Ollama, vLLM and similar servers).
package openai

import (
	"context"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/symbiote/memory/embedder"
)

// Config configures the embeddings client.
type Config struct {
	// APIKey authenticates against the API. Local servers usually accept
	// any value.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. "http://localhost:11434/v1".
	BaseURL string

	// Model is the embedding model name.
	Model string

	// Dimensions asks models that support shortening for a specific output
	// size. Zero keeps the model default.
	Dimensions int
}

// Model calls the embeddings endpoint.
type Model struct {
	client *openai.Client
	model  openai.EmbeddingModel
	reqDim int
	dims   int
}

// Loader returns an embedder.Loader for cfg.
func Loader(cfg Config) embedder.Loader {
	return func(ctx context.Context) (embedder.Model, error) {
		return New(ctx, cfg)
	}
}

// New creates the client and embeds a probe text to learn the model's
// dimensionality, which also verifies the endpoint is reachable.
func New(ctx context.Context, cfg Config) (*Model, error) {
	if cfg.Model == "" {
		return nil, goerr.New("embedding model name is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	m := &Model{
		client: openai.NewClientWithConfig(clientCfg),
		model:  openai.EmbeddingModel(cfg.Model),
		reqDim: cfg.Dimensions,
	}

	probe, err := m.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, err
	}
	m.dims = len(probe[0])

	return m, nil
}

// Embed converts texts to vectors in input order.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      m.model,
		Dimensions: m.reqDim,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "embedding request failed", goerr.V("model", string(m.model)))
	}
	if len(resp.Data) != len(texts) {
		return nil, goerr.New("embedding response size mismatch",
			goerr.V("got", len(resp.Data)), goerr.V("want", len(texts)))
	}

	sort.Slice(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (m *Model) Dimensions() int {
	return m.dims
}

func (m *Model) Close() error {
	return nil
}
