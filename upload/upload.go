// Package upload publishes payloads and registers them, splitting large
// payloads into individually addressable chunks.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

const (
	// DefaultThreshold is the largest payload stored as a single unit.
	DefaultThreshold = 1 << 20
	// DefaultChunkSize is the size of every chunk but the last.
	DefaultChunkSize = 1 << 20
	// DefaultConcurrency bounds parallel chunk publishes.
	DefaultConcurrency = 4
)

// Registrar records descriptors. *registry.ContentRegistry implements it.
type Registrar interface {
	Register(ctx context.Context, desc interfaces.ContentDescriptor) (interfaces.ContentID, error)
}

// Options describes one upload. Zero sizes select the defaults.
type Options struct {
	Title          string
	Kind           interfaces.ContentKind
	MimeType       string
	ThresholdBytes int
	ChunkSize      int
}

// Uploader stores payloads through a Publisher and registers them.
type Uploader struct {
	publisher   interfaces.Publisher
	registrar   Registrar
	concurrency int
	log         *slog.Logger
}

// New creates an uploader.
func New(publisher interfaces.Publisher, registrar Registrar, log *slog.Logger) *Uploader {
	return &Uploader{
		publisher:   publisher,
		registrar:   registrar,
		concurrency: DefaultConcurrency,
		log:         common.OrDefault(log),
	}
}

// Upload stores payload and returns the id it can be fetched by. A payload
// no larger than the threshold, or than one chunk, is stored and registered
// as one unit.
// Otherwise every chunk is stored and registered on its own and then a parent
// descriptor listing the chunks in order is registered under the id of the
// whole payload.
//
// If any chunk fails the parent is not registered and the error is returned.
// Chunks registered so far are left in place; the caller retries the whole
// upload.
func (u *Uploader) Upload(ctx context.Context, payload []byte, opts Options) (interfaces.ContentID, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", interfaces.ErrInvalidRange)
	}
	if opts.ThresholdBytes < 0 || opts.ChunkSize < 0 {
		return "", fmt.Errorf("%w: negative threshold or chunk size", interfaces.ErrInvalidRange)
	}
	if opts.ThresholdBytes == 0 {
		opts.ThresholdBytes = DefaultThreshold
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	start := time.Now()

	if len(payload) <= opts.ThresholdBytes || len(payload) <= opts.ChunkSize {
		id, err := u.storeUnit(ctx, payload, opts.Title, opts)
		if err != nil {
			return "", err
		}
		u.log.Info("Uploaded content",
			slog.String("content_id", id.Short()),
			slog.Int("bytes", len(payload)),
			slog.Duration("duration", time.Since(start)))
		return id, nil
	}

	chunks := split(payload, opts.ChunkSize)
	manifest := make([]interfaces.ContentID, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			title := strings.TrimSpace(fmt.Sprintf("%s (part %d/%d)", opts.Title, i+1, len(chunks)))
			id, err := u.storeUnit(gctx, chunk, title, opts)
			if err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			manifest[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		u.log.Warn("Chunked upload failed", slog.Int("chunks", len(chunks)), "err", err)
		return "", err
	}

	parent := interfaces.ContentDescriptor{
		ID:            interfaces.ComputeID(payload),
		Kind:          opts.Kind,
		Title:         opts.Title,
		ChunkManifest: manifest,
		SizeBytes:     int64(len(payload)),
		MimeType:      opts.MimeType,
	}
	id, err := u.registrar.Register(ctx, parent)
	if err != nil {
		return "", fmt.Errorf("failed to register chunk manifest: %w", err)
	}

	u.log.Info("Uploaded chunked content",
		slog.String("content_id", id.Short()),
		slog.Int("bytes", len(payload)),
		slog.Int("chunks", len(chunks)),
		slog.Duration("duration", time.Since(start)))
	return id, nil
}

func (u *Uploader) storeUnit(ctx context.Context, data []byte, title string, opts Options) (interfaces.ContentID, error) {
	id, locations, err := u.publisher.Publish(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to publish via %s: %w", u.publisher.Name(), err)
	}

	desc := interfaces.ContentDescriptor{
		ID:              id,
		Kind:            opts.Kind,
		Title:           title,
		SourceLocations: locations,
		SizeBytes:       int64(len(data)),
		MimeType:        opts.MimeType,
	}
	if _, err := u.registrar.Register(ctx, desc); err != nil {
		return "", fmt.Errorf("failed to register %s: %w", id.Short(), err)
	}
	return id, nil
}

// split cuts payload into size-byte chunks; the last may be shorter.
func split(payload []byte, size int) [][]byte {
	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for len(payload) > 0 {
		n := min(size, len(payload))
		chunks = append(chunks, payload[:n:n])
		payload = payload[n:]
	}
	return chunks
}
