package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/becomeliminal/symbiote/logging"
	"github.com/becomeliminal/symbiote/server"
)

type fixedCounter struct {
	n   int
	err error
}

func (c fixedCounter) Count(ctx context.Context) (int, error) {
	return c.n, c.err
}

type loaded bool

func (l loaded) Loaded() bool { return bool(l) }

func testConfig() server.Config {
	return server.Config{
		Host:               "127.0.0.1",
		Port:               8000,
		Name:               "symbiote-mcp",
		Version:            "1.0.0",
		PersonalityVariant: "default",
		EmbeddingModel:     "all-MiniLM-L6-v2",
		Collection:         "venom_memories",
	}
}

func newMCPServer() *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "symbiote-mcp", Version: "1.0.0"}, nil)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "ping",
		Description: "Reply with pong",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in *struct{}) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "pong"}}}, nil, nil
	})
	return s
}

func newTestServer(t *testing.T, counter server.Counter, model server.ModelStatus) *httptest.Server {
	t.Helper()
	srv := server.New(testConfig(), newMCPServer(), counter, model, logging.New("error", io.Discard))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, resp.Header.Get("Content-Type"), "application/json")
	gt.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestConfig_Addr(t *testing.T) {
	gt.Equal(t, testConfig().Addr(), "127.0.0.1:8000")
	gt.Equal(t, server.Config{Host: "::1", Port: 9}.Addr(), "[::1]:9")
}

func TestServer_Info(t *testing.T) {
	ts := newTestServer(t, fixedCounter{}, loaded(false))

	var info map[string]string
	code := getJSON(t, ts.URL+"/", &info)
	gt.Equal(t, code, http.StatusOK)
	gt.Equal(t, info["server"], "symbiote-mcp")
	gt.Equal(t, info["status"], "running")
	gt.Equal(t, info["version"], "1.0.0")
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, fixedCounter{n: 42}, loaded(true))

	var health map[string]any
	code := getJSON(t, ts.URL+"/health", &health)
	gt.Equal(t, code, http.StatusOK)
	gt.Equal(t, health["status"], any("healthy"))
	gt.Equal(t, health["server_name"], any("symbiote-mcp"))
	gt.Equal(t, health["personality_variant"], any("default"))
	gt.Equal(t, health["embedding_model"], any("all-MiniLM-L6-v2"))
	gt.Equal(t, health["collection_name"], any("venom_memories"))
	gt.Equal(t, health["memory_count"], any(float64(42)))
	gt.Equal(t, health["model_loaded"], any(true))
}

func TestServer_HealthDegraded(t *testing.T) {
	ts := newTestServer(t, fixedCounter{err: errors.New("disk gone")}, nil)

	var health map[string]any
	code := getJSON(t, ts.URL+"/health", &health)
	gt.Equal(t, code, http.StatusServiceUnavailable)
	gt.Equal(t, health["status"], any("degraded"))
	gt.Equal(t, health["model_loaded"], any(false))
}

func TestServer_UnknownPath(t *testing.T) {
	ts := newTestServer(t, fixedCounter{}, nil)

	resp, err := http.Get(ts.URL + "/nope")
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusNotFound)
}

func TestServer_MCPOverHTTP(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, fixedCounter{}, nil)

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "test"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.URL + "/mcp"}, nil)
	gt.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	gt.NoError(t, err)
	gt.A(t, tools.Tools).Length(1)
	gt.Equal(t, tools.Tools[0].Name, "ping")

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "ping", Arguments: map[string]any{}})
	gt.NoError(t, err)
	text, ok := res.Content[0].(*mcp.TextContent)
	gt.True(t, ok)
	gt.Equal(t, text.Text, "pong")
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 0
	srv := server.New(cfg, newMCPServer(), fixedCounter{}, nil, logging.New("error", io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	gt.NoError(t, <-done)
}
