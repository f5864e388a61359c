package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// MultiPublisher implements interfaces.Publisher by storing to every target.
// It succeeds if at least one target accepts the data.
type MultiPublisher struct {
	publishers []interfaces.Publisher
	log        *slog.Logger
}

// NewMultiPublisher creates a publisher fanning out to publishers in order.
func NewMultiPublisher(publishers []interfaces.Publisher, logger *slog.Logger) *MultiPublisher {
	return &MultiPublisher{
		publishers: publishers,
		log:        common.OrDefault(logger),
	}
}

// Publish stores data on all targets and returns the merged source locations,
// in target order.
func (m *MultiPublisher) Publish(ctx context.Context, data []byte) (interfaces.ContentID, []string, error) {
	start := time.Now()
	id := interfaces.ComputeID(data)
	if len(m.publishers) == 0 {
		return id, nil, fmt.Errorf("no publish targets configured: %w", interfaces.ErrStorageUnavailable)
	}

	var locations []string
	var errs []error

	for _, publisher := range m.publishers {
		if err := ctx.Err(); err != nil {
			return id, nil, err
		}

		publishedID, locs, err := publisher.Publish(ctx, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", publisher.Name(), err))
			m.log.Debug("Failed to publish to target",
				slog.String("publisher", publisher.Name()),
				slog.String("content_id", id.Short()),
				"err", err)
			continue
		}

		if publishedID != id {
			// Content addressed targets (IPFS) name data by their own scheme;
			// the returned location already embeds that name.
			m.log.Debug("Target uses its own content naming",
				slog.String("publisher", publisher.Name()),
				slog.String("content_id", id.Short()),
				slog.String("target_id", publishedID.Short()))
		}

		locations = append(locations, locs...)
	}

	if len(locations) == 0 {
		m.log.Error("All targets failed to publish content",
			slog.String("content_id", id.Short()),
			slog.Int("failed_targets", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return id, nil, fmt.Errorf("all targets failed to publish %s: %w", id.Short(), errors.Join(errs...))
	}

	m.log.Info("Published content",
		slog.String("content_id", id.Short()),
		slog.Int("locations", len(locations)),
		slog.Int("failed_targets", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return id, locations, nil
}

// Name returns the name of this publisher.
func (m *MultiPublisher) Name() string {
	return "multi-publisher"
}
