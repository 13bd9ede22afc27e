package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/symbiote/logging"
	"github.com/becomeliminal/symbiote/memory"
	"github.com/becomeliminal/symbiote/server"
)

type Error struct {
	Code    int
	Message string
}

// Run loads .env, then parses argv and runs the selected command.
func Run(ctx context.Context, argv []string) *Error {
	_ = godotenv.Load()

	if err := newRootCommand(os.Stdout).Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

func newRootCommand(w io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "symbiote",
		Usage: "Semantic memory MCP server",
		Commands: []*cli.Command{
			serveCommand(),
			stdioCommand(),
			storeCommand(w),
			searchCommand(w),
			countCommand(w),
		},
	}
}

func commonFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, storeFlags(cfg)...)
	flags = append(flags, embedderFlags(cfg)...)
	flags = append(flags, logFlags(cfg)...)
	return flags
}

// withApp sets up logging, opens the app and closes it after fn.
func withApp(ctx context.Context, cfg *config, fn func(ctx context.Context, a *app) error) error {
	ctx = logging.With(ctx, cfg.newLogger())

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.From(ctx).Warn("failed to close", "error", err)
		}
	}()

	return fn(ctx, a)
}

func serveCommand() *cli.Command {
	var cfg config
	flags := commonFlags(&cfg)
	flags = append(flags, serverFlags(&cfg)...)
	flags = append(flags, promptFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve MCP over streamable HTTP with health endpoints",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.validateServer(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, &cfg, func(ctx context.Context, a *app) error {
				if err := a.warm(ctx); err != nil {
					return err
				}

				srv := server.New(server.Config{
					Host:               cfg.host,
					Port:               int(cfg.port),
					Name:               serverName,
					Version:            version,
					PersonalityVariant: a.personality.Variant(),
					EmbeddingModel:     cfg.model,
					Collection:         cfg.collection,
				}, a.mcpServer(), a.manager, a.embedder, logging.From(ctx))

				return srv.Run(ctx)
			})
		},
	}
}

func stdioCommand() *cli.Command {
	var cfg config
	flags := commonFlags(&cfg)
	flags = append(flags, promptFlags(&cfg)...)

	return &cli.Command{
		Name:  "stdio",
		Usage: "Serve MCP over stdin/stdout for desktop clients",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, &cfg, func(ctx context.Context, a *app) error {
				if err := a.warm(ctx); err != nil {
					return err
				}
				if err := a.mcpServer().Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
					return goerr.Wrap(err, "stdio session failed")
				}
				return nil
			})
		},
	}
}

func storeCommand(w io.Writer) *cli.Command {
	var cfg config
	var tags []string
	flags := commonFlags(&cfg)
	flags = append(flags, &cli.StringSliceFlag{
		Name:        "tag",
		Aliases:     []string{"t"},
		Usage:       "Tag to attach; repeat for several",
		Destination: &tags,
	})

	return &cli.Command{
		Name:      "store",
		Usage:     "Store one memory",
		ArgsUsage: "<content>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			content := strings.Join(c.Args().Slice(), " ")
			return withApp(ctx, &cfg, func(ctx context.Context, a *app) error {
				res, err := a.manager.Store(ctx, content, tags)
				if err != nil {
					return err
				}
				return writeJSON(w, res)
			})
		},
	}
}

func searchCommand(w io.Writer) *cli.Command {
	var cfg config
	var limit int64
	flags := commonFlags(&cfg)
	flags = append(flags, &cli.IntFlag{
		Name:        "limit",
		Aliases:     []string{"n"},
		Usage:       fmt.Sprintf("Maximum number of results (%d-%d)", memory.MinLimit, memory.MaxLimit),
		Value:       memory.DefaultLimit,
		Destination: &limit,
	})

	return &cli.Command{
		Name:      "search",
		Usage:     "Search memories by meaning",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")
			return withApp(ctx, &cfg, func(ctx context.Context, a *app) error {
				res, err := a.manager.Search(ctx, query, int(limit))
				if err != nil {
					return err
				}
				return writeJSON(w, res)
			})
		},
	}
}

func countCommand(w io.Writer) *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "count",
		Usage: "Print the number of stored memories",
		Flags: commonFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			return withApp(ctx, &cfg, func(ctx context.Context, a *app) error {
				n, err := a.manager.Count(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, n)
				return err
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write output")
	}
	return nil
}
