package cli

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/symbiote/logging"
)

const (
	backendChromem = "chromem"
	backendSQLite  = "sqlite"

	idSnowflake = "snowflake"
	idUUID      = "uuid"

	sqliteFile = "symbiote.db"
)

// config holds configuration values
type config struct {
	// Server
	host string
	port int64

	// Storage
	backend    string
	dataPath   string
	collection string
	compress   bool
	idScheme   string
	node       int64

	// Embedding
	provider   string
	model      string
	dimensions int64
	cacheBytes int64

	openaiAPIKey  string
	openaiBaseURL string

	onnxModelPath     string
	onnxTokenizerPath string
	onnxLibraryPath   string

	fastembedCacheDir string

	// Prompt
	personality    string
	personalityDir string

	logLevel string
}

// serverFlags returns flags for the HTTP listener
func serverFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "host",
			Usage:       "Address to listen on",
			Value:       "0.0.0.0",
			Sources:     cli.EnvVars("HOST"),
			Destination: &cfg.host,
		},
		&cli.IntFlag{
			Name:        "port",
			Usage:       "Port to listen on",
			Value:       8000,
			Sources:     cli.EnvVars("PORT"),
			Destination: &cfg.port,
		},
	}
}

// storeFlags returns flags for the memory store
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store-backend",
			Usage:       "Vector store backend (chromem, sqlite)",
			Value:       backendChromem,
			Sources:     cli.EnvVars("STORE_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "data-path",
			Usage:       "Directory where memories are persisted",
			Value:       "./data",
			Sources:     cli.EnvVars("CHROMADB_PATH", "DATA_PATH"),
			Destination: &cfg.dataPath,
		},
		&cli.StringFlag{
			Name:        "collection",
			Usage:       "Collection holding the memories",
			Value:       "venom_memories",
			Sources:     cli.EnvVars("COLLECTION_NAME"),
			Destination: &cfg.collection,
		},
		&cli.BoolFlag{
			Name:        "compress",
			Usage:       "Gzip persisted documents (chromem only)",
			Sources:     cli.EnvVars("STORE_COMPRESS"),
			Destination: &cfg.compress,
		},
		&cli.StringFlag{
			Name:        "id-scheme",
			Usage:       "Memory id scheme (snowflake, uuid)",
			Value:       idSnowflake,
			Sources:     cli.EnvVars("ID_SCHEME"),
			Destination: &cfg.idScheme,
		},
		&cli.IntFlag{
			Name:        "snowflake-node",
			Usage:       "Snowflake node number (0-1023), distinct per process sharing a store",
			Sources:     cli.EnvVars("SNOWFLAKE_NODE"),
			Destination: &cfg.node,
		},
	}
}

// embedderFlags returns flags for the embedding model
func embedderFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedding-provider",
			Usage:       fmt.Sprintf("Embedding backend (%s); onnx and fastembed need -tags onnx or -tags fastembed", strings.Join(providerNames(), ", ")),
			Value:       defaultProvider(),
			Sources:     cli.EnvVars("EMBEDDING_PROVIDER"),
			Destination: &cfg.provider,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model identifier",
			Value:       "all-MiniLM-L6-v2",
			Sources:     cli.EnvVars("EMBEDDING_MODEL"),
			Destination: &cfg.model,
		},
		&cli.IntFlag{
			Name:        "embedding-dimensions",
			Usage:       "Embedding size; 0 asks the model",
			Sources:     cli.EnvVars("EMBEDDING_DIMENSIONS"),
			Destination: &cfg.dimensions,
		},
		&cli.IntFlag{
			Name:        "embedding-cache-bytes",
			Usage:       "Size of the in-process embedding cache; 0 disables it",
			Sources:     cli.EnvVars("EMBEDDING_CACHE_BYTES"),
			Destination: &cfg.cacheBytes,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "API key for the openai provider",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "Base URL of an OpenAI compatible embeddings API",
			Sources:     cli.EnvVars("OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "onnx-model-path",
			Usage:       "Path to the ONNX model file",
			Value:       "models/all-MiniLM-L6-v2/model.onnx",
			Sources:     cli.EnvVars("ONNX_MODEL_PATH"),
			Destination: &cfg.onnxModelPath,
		},
		&cli.StringFlag{
			Name:        "onnx-tokenizer-path",
			Usage:       "Path to tokenizer.json",
			Value:       "models/all-MiniLM-L6-v2/tokenizer.json",
			Sources:     cli.EnvVars("ONNX_TOKENIZER_PATH"),
			Destination: &cfg.onnxTokenizerPath,
		},
		&cli.StringFlag{
			Name:        "onnx-library-path",
			Usage:       "Path to the onnxruntime shared library",
			Sources:     cli.EnvVars("ONNX_LIBRARY_PATH"),
			Destination: &cfg.onnxLibraryPath,
		},
		&cli.StringFlag{
			Name:        "fastembed-cache-dir",
			Usage:       "Download directory for fastembed models",
			Value:       ".fastembed",
			Sources:     cli.EnvVars("FASTEMBED_CACHE_DIR"),
			Destination: &cfg.fastembedCacheDir,
		},
	}
}

// promptFlags returns flags for the personality prompt
func promptFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "personality",
			Usage:       "Personality variant (default, variant2)",
			Value:       "default",
			Sources:     cli.EnvVars("VENOM_PERSONALITY"),
			Destination: &cfg.personality,
		},
		&cli.StringFlag{
			Name:        "personality-dir",
			Usage:       "Directory with personality files; empty uses the built-in ones",
			Sources:     cli.EnvVars("PERSONALITY_DIR"),
			Destination: &cfg.personalityDir,
		},
	}
}

// logFlags returns logging flags
func logFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}
}

// validate checks values shared by every command
func (cfg *config) validate() error {
	if cfg.collection == "" {
		return goerr.New("collection cannot be empty")
	}
	if cfg.model == "" {
		return goerr.New("embedding model cannot be empty")
	}
	if cfg.dataPath == "" {
		return goerr.New("data path cannot be empty")
	}
	if !slices.Contains([]string{backendChromem, backendSQLite}, cfg.backend) {
		return goerr.New("unsupported store backend", goerr.V("backend", cfg.backend))
	}
	if !slices.Contains([]string{idSnowflake, idUUID}, cfg.idScheme) {
		return goerr.New("unsupported id scheme", goerr.V("scheme", cfg.idScheme))
	}
	if cfg.dimensions < 0 {
		return goerr.New(fmt.Sprintf("embedding dimensions must not be negative, got %d", cfg.dimensions))
	}
	if cfg.cacheBytes < 0 {
		return goerr.New(fmt.Sprintf("embedding cache bytes must not be negative, got %d", cfg.cacheBytes))
	}
	if _, ok := logging.ParseLevel(cfg.logLevel); !ok {
		return goerr.New("unknown log level", goerr.V("level", cfg.logLevel))
	}
	return nil
}

// validateServer checks the listener settings
func (cfg *config) validateServer() error {
	if cfg.port < 1 || cfg.port > 65535 {
		return goerr.New(fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.port))
	}
	if cfg.host == "" {
		return goerr.New("host cannot be empty")
	}
	return nil
}

// sqlitePath returns the database file for the sqlite backend. A data path
// ending in .db names the file directly.
func (cfg *config) sqlitePath() string {
	if filepath.Ext(cfg.dataPath) == ".db" {
		return cfg.dataPath
	}
	return filepath.Join(cfg.dataPath, sqliteFile)
}
