// Package server exposes the MCP endpoint and health checks over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/becomeliminal/symbiote/logging"
)

const shutdownTimeout = 10 * time.Second

// Counter reports the number of stored memories.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// ModelStatus reports whether the embedding model has been loaded.
type ModelStatus interface {
	Loaded() bool
}

// Config describes the server and what it reports from /health.
type Config struct {
	Host string
	Port int

	Name               string
	Version            string
	PersonalityVariant string
	EmbeddingModel     string
	Collection         string
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server serves /, /health and /mcp.
type Server struct {
	cfg      Config
	mcp      *mcp.Server
	memories Counter
	model    ModelStatus
	logger   *slog.Logger
}

// New creates a Server. The same MCP server instance backs every session.
func New(cfg Config, mcpServer *mcp.Server, memories Counter, model ModelStatus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		cfg:      cfg,
		mcp:      mcpServer,
		memories: memories,
		model:    model,
		logger:   logger,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.mcp
	}, nil))
	return s.withLogger(mux)
}

// Run listens on cfg.Addr() until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return logging.With(context.WithoutCancel(ctx), s.logger)
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server ready", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "server failed", goerr.V("addr", srv.Addr))

	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shut down server")
		}
		return nil
	}
}

type infoResponse struct {
	Server  string `json:"server"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, infoResponse{
		Server:  s.cfg.Name,
		Status:  "running",
		Version: s.cfg.Version,
	})
}

type healthResponse struct {
	Status             string `json:"status"`
	ServerName         string `json:"server_name"`
	Version            string `json:"version"`
	PersonalityVariant string `json:"personality_variant"`
	EmbeddingModel     string `json:"embedding_model"`
	ModelLoaded        bool   `json:"model_loaded"`
	CollectionName     string `json:"collection_name"`
	MemoryCount        int    `json:"memory_count"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:             "healthy",
		ServerName:         s.cfg.Name,
		Version:            s.cfg.Version,
		PersonalityVariant: s.cfg.PersonalityVariant,
		EmbeddingModel:     s.cfg.EmbeddingModel,
		CollectionName:     s.cfg.Collection,
	}
	if s.model != nil {
		resp.ModelLoaded = s.model.Loaded()
	}

	code := http.StatusOK
	n, err := s.memories.Count(r.Context())
	if err != nil {
		logging.From(r.Context()).Error("health check failed to count memories", "error", err)
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	resp.MemoryCount = n

	writeJSON(r.Context(), w, code, resp)
}

func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.With("method", r.Method, "path", r.URL.Path)
		logger.Debug("request")
		next.ServeHTTP(w, r.WithContext(logging.With(r.Context(), logger)))
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.From(ctx).Warn("failed to write response", "error", err)
	}
}
