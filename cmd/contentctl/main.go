package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/zonebnation/ebizimba-content/api/clients"
	"github.com/zonebnation/ebizimba-content/cmd/flags"
	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/delivery"
	"github.com/zonebnation/ebizimba-content/interfaces"
	"github.com/zonebnation/ebizimba-content/offline"
	"github.com/zonebnation/ebizimba-content/upload"
)

// backend is the content API as used by the commands, either in-process or
// through a running server.
type backend interface {
	Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error)
	Upload(ctx context.Context, payload []byte, opts upload.Options) (interfaces.ContentID, error)
	DownloadOfflineRange(ctx context.Context, start, end interfaces.ContentID) (offline.Result, error)
	Invalidate(ctx context.Context, id interfaces.ContentID) error
	ClearAll(ctx context.Context) error
	ClearMemory(ctx context.Context) error
	Sync(ctx context.Context) error
	Status(ctx context.Context) (delivery.Status, error)
	Close() error
}

// localBackend runs the service in-process and reports offline progress on
// stderr.
type localBackend struct {
	*delivery.Service
	log *slog.Logger
}

func (b localBackend) DownloadOfflineRange(ctx context.Context, start, end interfaces.ContentID) (offline.Result, error) {
	return b.Service.DownloadOfflineRange(ctx, start, end, func(p offline.Progress) {
		if p.Err != nil {
			b.log.Warn("Offline item failed", slog.String("content_id", p.ID.Short()), "err", p.Err)
		}
		fmt.Fprintf(os.Stderr, "\r%d/%d", p.Done, p.Total)
		if p.Done == p.Total {
			fmt.Fprintln(os.Stderr)
		}
	})
}

func (b localBackend) ClearMemory(context.Context) error {
	b.Service.ClearMemory()
	return nil
}

func (b localBackend) Status(context.Context) (delivery.Status, error) {
	return b.Service.Status(), nil
}

var serverFlag = &cli.StringFlag{
	Name:    "server",
	EnvVars: []string{"EBIZIMBA_SERVER"},
	Usage:   "URL of a running content server; without it the service runs in-process",
}

var outputFlag = &cli.StringFlag{
	Name:    "output",
	Aliases: []string{"o"},
	Usage:   "write content to this file instead of stdout",
}

func openBackend(cCtx *cli.Context) (backend, error) {
	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return nil, err
	}
	logger := flags.SetupLogger(cCtx, cfg)

	if addr := cCtx.String(serverFlag.Name); addr != "" {
		return clients.NewContentClient(addr), nil
	}
	svc, err := delivery.Open(cCtx.Context, cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	return localBackend{Service: svc, log: logger}, nil
}

// withBackend runs fn against an opened backend and closes it afterwards.
func withBackend(fn func(cCtx *cli.Context, b backend) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		b, err := openBackend(cCtx)
		if err != nil {
			return err
		}
		defer b.Close()
		return fn(cCtx, b)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func argID(cCtx *cli.Context, n int) (interfaces.ContentID, error) {
	id := interfaces.ContentID(cCtx.Args().Get(n))
	if err := id.Validate(); err != nil {
		return "", fmt.Errorf("argument %d: %w", n+1, err)
	}
	return id, nil
}

func main() {
	app := &cli.App{
		Name:    "contentctl",
		Usage:   "Fetch, upload and download Ebizimba content",
		Version: common.Version,
		Flags:   append(append([]cli.Flag{serverFlag}, flags.StackFlags...), flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:      "fetch",
				Usage:     "Fetch content by id",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{outputFlag},
				Action: withBackend(func(cCtx *cli.Context, b backend) error {
					id, err := argID(cCtx, 0)
					if err != nil {
						return err
					}
					data, err := b.Fetch(cCtx.Context, id)
					if err != nil {
						if interfaces.IsRetryable(err) {
							return fmt.Errorf("%w (retryable)", err)
						}
						return err
					}
					if out := cCtx.String(outputFlag.Name); out != "" {
						return os.WriteFile(out, data, 0o644)
					}
					_, err = os.Stdout.Write(data)
					return err
				}),
			},
			{
				Name:      "upload",
				Usage:     "Upload a file and print its id",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "content title"},
					&cli.StringFlag{Name: "kind", Value: "document", Usage: "document, page-image, audio or video"},
					&cli.StringFlag{Name: "mime", Usage: "MIME type"},
				},
				Action: withBackend(func(cCtx *cli.Context, b backend) error {
					path := cCtx.Args().First()
					if path == "" {
						return errors.New("file argument is required")
					}
					kind, err := interfaces.ParseContentKind(cCtx.String("kind"))
					if err != nil {
						return err
					}
					payload, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					id, err := b.Upload(cCtx.Context, payload, upload.Options{
						Title:    cCtx.String("title"),
						Kind:     kind,
						MimeType: cCtx.String("mime"),
					})
					if err != nil {
						return err
					}
					fmt.Println(id)
					return nil
				}),
			},
			{
				Name:      "offline",
				Usage:     "Download a range of content for offline use",
				ArgsUsage: "<start-id> <end-id>",
				Action: withBackend(func(cCtx *cli.Context, b backend) error {
					start, err := argID(cCtx, 0)
					if err != nil {
						return err
					}
					end, err := argID(cCtx, 1)
					if err != nil {
						return err
					}
					res, err := b.DownloadOfflineRange(cCtx.Context, start, end)
					if err != nil {
						return err
					}
					return printJSON(res)
				}),
			},
			{
				Name:      "invalidate",
				Usage:     "Drop content from the cache",
				ArgsUsage: "<id>",
				Action: withBackend(func(cCtx *cli.Context, b backend) error {
					id, err := argID(cCtx, 0)
					if err != nil {
						return err
					}
					return b.Invalidate(cCtx.Context, id)
				}),
			},
			{
				Name:  "clear-cache",
				Usage: "Empty both cache tiers; offline downloads are kept",
				Action: withBackend(func(cCtx *cli.Context, b backend) error {
					return b.ClearAll(cCtx.Context)
				}),
			},
			{
				Name:  "clear-memory",
				Usage: "Empty the memory cache tier only",
				Action: withBackend(func(cCtx *cli.Context, b backend) error {
					return b.ClearMemory(cCtx.Context)
				}),
			},
			{
				Name:  "sync",
				Usage: "Reload the registry from the catalog and print the status",
				Action: withBackend(func(cCtx *cli.Context, b backend) error {
					if err := b.Sync(cCtx.Context); err != nil {
						return err
					}
					status, err := b.Status(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(status)
				}),
			},
			{
				Name:  "status",
				Usage: "Print registry, cache and job state",
				Action: withBackend(func(cCtx *cli.Context, b backend) error {
					status, err := b.Status(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(status)
				}),
			},
			{
				Name:  "list",
				Usage: "List registered descriptors of a kind (in-process only)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Value: "document", Usage: "document, page-image, audio or video"},
				},
				Action: withBackend(func(cCtx *cli.Context, b backend) error {
					local, ok := b.(localBackend)
					if !ok {
						return errors.New("list is not available with --server")
					}
					kind, err := interfaces.ParseContentKind(cCtx.String("kind"))
					if err != nil {
						return err
					}
					return printJSON(local.List(kind))
				}),
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}
