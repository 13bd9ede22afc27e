// Package prompt serves the venom_identity MCP prompt. The prompt text is a
// personality markdown file selected by variant name.
package prompt

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/becomeliminal/symbiote/logging"
)

const (
	// Name is the MCP prompt name.
	Name = "venom_identity"
	// Description is the MCP prompt description.
	Description = "Venom symbiote personality with mandatory memory protocol and 'we' language enforcement"

	// DefaultVariant is used when the configured variant is unknown.
	DefaultVariant = "default"
)

var variantFiles = map[string]string{
	"default":  "venom_personality.md",
	"variant2": "venom_personality_v2.md",
}

//go:embed personalities/*.md
var embedded embed.FS

// Embedded returns the personality files compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "personalities")
	if err != nil {
		panic(err)
	}
	return sub
}

// Dir returns the personality files in dir, or the embedded ones when dir
// is empty.
func Dir(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	return os.DirFS(dir)
}

// Variants lists the known variant names.
func Variants() []string {
	names := make([]string, 0, len(variantFiles))
	for name := range variantFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Personality loads a personality file lazily and caches it once read.
type Personality struct {
	fsys    fs.FS
	variant string
	file    string

	mu      sync.Mutex
	content string
	loaded  bool
}

// New selects the personality file for variant. Unknown variants log a
// warning and fall back to DefaultVariant.
func New(ctx context.Context, fsys fs.FS, variant string) *Personality {
	file, ok := variantFiles[variant]
	resolved := variant
	if !ok {
		logging.From(ctx).Warn("unknown personality variant, using default",
			"variant", variant,
			"known", Variants(),
		)
		resolved = DefaultVariant
		file = variantFiles[DefaultVariant]
	}

	return &Personality{
		fsys:    fsys,
		variant: resolved,
		file:    file,
	}
}

// Variant returns the variant actually in use.
func (p *Personality) Variant() string {
	return p.variant
}

// File returns the personality file name.
func (p *Personality) File() string {
	return p.file
}

// Content returns the personality text. A failed read is not cached.
func (p *Personality) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return p.content, nil
	}

	raw, err := fs.ReadFile(p.fsys, p.file)
	if err != nil {
		return "", goerr.Wrap(err, "personality file not found",
			goerr.V("file", p.file),
			goerr.V("variant", p.variant))
	}

	p.content = string(raw)
	p.loaded = true
	logging.From(ctx).Info("loaded personality", "file", p.file, "variant", p.variant)
	return p.content, nil
}

// Register adds the venom_identity prompt to server.
func Register(server *mcp.Server, p *Personality) {
	server.AddPrompt(&mcp.Prompt{
		Name:        Name,
		Description: Description,
	}, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		content, err := p.Content(ctx)
		if err != nil {
			return nil, err
		}
		return &mcp.GetPromptResult{
			Description: Description,
			Messages: []*mcp.PromptMessage{
				{
					Role:    "user",
					Content: &mcp.TextContent{Text: content},
				},
			},
		}, nil
	})
}
