package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/becomeliminal/symbiote/logging"
	"github.com/becomeliminal/symbiote/memory"
	"github.com/becomeliminal/symbiote/memory/embedder"
	"github.com/becomeliminal/symbiote/memory/store/chromem"
	"github.com/becomeliminal/symbiote/memory/store/sqlite"
	"github.com/becomeliminal/symbiote/prompt"
	"github.com/becomeliminal/symbiote/tools"
)

const (
	serverName = "symbiote-mcp"
	version    = "1.0.0"
)

// app is the wired set of components behind every command.
type app struct {
	cfg         *config
	embedder    *embedder.Generator
	store       memory.Store
	manager     *memory.Manager
	personality *prompt.Personality
}

// newLogger creates the process logger from cfg and installs it as the
// default. Logs go to stderr because stdio mode owns stdout.
func (cfg *config) newLogger() *slog.Logger {
	logger := logging.New(cfg.logLevel, os.Stderr)
	logging.SetDefault(logger)
	return logger
}

// openApp validates cfg and wires embedder, store and manager. The model is
// only loaded here when the store needs its dimensionality.
func openApp(ctx context.Context, cfg *config) (*app, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	loader, err := cfg.newLoader()
	if err != nil {
		return nil, err
	}

	var opts []embedder.Option
	if cfg.cacheBytes > 0 {
		opts = append(opts, embedder.WithCache(cfg.cacheBytes))
	}
	gen, err := embedder.New(cfg.model, loader, opts...)
	if err != nil {
		return nil, err
	}

	dims := int(cfg.dimensions)
	if dims == 0 {
		if dims, err = gen.Dimensions(ctx); err != nil {
			_ = gen.Close()
			return nil, goerr.Wrap(err, "failed to discover embedding dimensions", goerr.V("provider", cfg.provider))
		}
	}

	store, err := cfg.openStore(ctx, dims)
	if err != nil {
		_ = gen.Close()
		return nil, err
	}

	ids, err := cfg.newIDGenerator()
	if err != nil {
		_ = store.Close()
		_ = gen.Close()
		return nil, err
	}

	manager, err := memory.NewManager(store, gen, memory.WithIDGenerator(ids))
	if err != nil {
		_ = store.Close()
		_ = gen.Close()
		return nil, err
	}

	return &app{
		cfg:         cfg,
		embedder:    gen,
		store:       store,
		manager:     manager,
		personality: prompt.New(ctx, prompt.Dir(cfg.personalityDir), cfg.personality),
	}, nil
}

func (cfg *config) openStore(ctx context.Context, dims int) (memory.Store, error) {
	logger := logging.From(ctx)

	switch cfg.backend {
	case backendSQLite:
		path := cfg.sqlitePath()
		logger.Info("opening memory store", "backend", cfg.backend, "path", path, "collection", cfg.collection)
		return sqlite.New(ctx, sqlite.Config{
			Path:       path,
			Collection: cfg.collection,
			Dimensions: dims,
		})

	default:
		logger.Info("opening memory store", "backend", cfg.backend, "path", cfg.dataPath, "collection", cfg.collection)
		return chromem.New(ctx, chromem.Config{
			Path:       cfg.dataPath,
			Collection: cfg.collection,
			Dimensions: dims,
			Compress:   cfg.compress,
		})
	}
}

func (cfg *config) newIDGenerator() (memory.IDGenerator, error) {
	if cfg.idScheme == idUUID {
		return memory.UUIDIDs{}, nil
	}
	return memory.NewSnowflakeIDs(cfg.node)
}

// warm loads the model up front and logs what the server is about to serve.
func (a *app) warm(ctx context.Context) error {
	logger := logging.From(ctx)
	logger.Info("loading embedding model", "provider", a.cfg.provider, "model", a.cfg.model)

	if err := a.manager.Warm(ctx); err != nil {
		return err
	}

	count, err := a.manager.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info("memory store ready",
		"collection", a.cfg.collection,
		"dimensions", a.manager.Dimensions(),
		"memory_count", count,
		"personality", a.personality.Variant(),
	)
	return nil
}

// mcpServer builds an MCP server exposing the memory tools and the
// personality prompt.
func (a *app) mcpServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: version,
	}, nil)
	tools.RegisterMemoryTools(server, a.manager)
	prompt.Register(server, a.personality)
	return server
}

func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.embedder.Close())
}
