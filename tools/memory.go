package tools

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/becomeliminal/symbiote/logging"
	"github.com/becomeliminal/symbiote/memory"
)

// Tool names.
const (
	StoreMemoryTool  = "store_memory"
	SearchMemoryTool = "search_memory"
)

// Memories is the part of memory.Manager the tools need.
type Memories interface {
	Store(ctx context.Context, content string, tags []string) (*memory.StoreResult, error)
	Search(ctx context.Context, query string, limit int) (*memory.SearchResult, error)
}

type storeMemoryInput struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

type searchMemoryInput struct {
	Query string `json:"query"`
	Limit *int   `json:"limit,omitempty"`
}

// MemoryToolDefinitions returns the memory tool definitions.
func MemoryToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        SearchMemoryTool,
			Description: "Search shared memories using semantic similarity (meaning-based, not keyword matching)",
			InputSchema: ObjectSchema(map[string]*jsonschema.Schema{
				"query": StringProperty("Natural language query to search for (e.g., 'coding preferences', 'current projects')"),
				"limit": IntegerProperty("Maximum number of results to return", memory.MinLimit, memory.MaxLimit, memory.DefaultLimit),
			}, "query"),
		},
		{
			Name:        StoreMemoryTool,
			Description: "Store important information in shared memory with semantic embedding for future retrieval",
			InputSchema: ObjectSchema(map[string]*jsonschema.Schema{
				"content": StringProperty("Information to remember (user preferences, project details, facts, decisions, etc.)"),
				"tags": ArrayProperty("Optional categorization tags (e.g., 'preference', 'project', 'personal')",
					StringProperty(""), memory.MaxTags),
			}, "content"),
		},
	}
}

// RegisterMemoryTools adds store_memory and search_memory to server.
func RegisterMemoryTools(server *mcp.Server, memories Memories) {
	h := &memoryHandlers{memories: memories}
	for _, tool := range MemoryToolDefinitions() {
		switch tool.Name {
		case StoreMemoryTool:
			mcp.AddTool(server, tool, h.store)
		case SearchMemoryTool:
			mcp.AddTool(server, tool, h.search)
		}
	}
}

type memoryHandlers struct {
	memories Memories
}

func (h *memoryHandlers) store(ctx context.Context, req *mcp.CallToolRequest, in *storeMemoryInput) (*mcp.CallToolResult, any, error) {
	res, err := h.memories.Store(ctx, in.Content, in.Tags)
	if err != nil {
		return errorResult(ctx, StoreMemoryTool, err), nil, nil
	}
	return jsonResult(ctx, StoreMemoryTool, res), nil, nil
}

func (h *memoryHandlers) search(ctx context.Context, req *mcp.CallToolRequest, in *searchMemoryInput) (*mcp.CallToolResult, any, error) {
	limit := memory.DefaultLimit
	if in.Limit != nil {
		limit = *in.Limit
	}

	res, err := h.memories.Search(ctx, in.Query, limit)
	if err != nil {
		return errorResult(ctx, SearchMemoryTool, err), nil, nil
	}
	return jsonResult(ctx, SearchMemoryTool, res), nil, nil
}

func jsonResult(ctx context.Context, tool string, v any) *mcp.CallToolResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorResult(ctx, tool, err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}
}

// errorResult reports a failure to the calling model as tool output rather
// than as a protocol error, so the conversation can continue.
func errorResult(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	log := logging.From(ctx)
	if memory.IsInvalidInput(err) {
		log.Info("rejected tool call", "tool", tool, "error", err)
	} else {
		log.Error("tool call failed", "tool", tool, "error", err)
	}

	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + err.Error()}},
	}
}
