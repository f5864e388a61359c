package storage

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/zonebnation/ebizimba-content/interfaces"
)

// RateLimitedGateway throttles requests to a gateway with a token bucket, so
// bulk downloads do not trip public gateway limits.
type RateLimitedGateway struct {
	inner  interfaces.Gateway
	bucket *rate.Limiter
}

// NewRateLimitedGateway wraps inner with a limit of perSecond requests and the
// given burst. A non-positive rate disables limiting.
func NewRateLimitedGateway(inner interfaces.Gateway, perSecond float64, burst int) *RateLimitedGateway {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedGateway{
		inner:  inner,
		bucket: rate.NewLimiter(limit, burst),
	}
}

// Fetch waits for a token, then delegates. Waiting is bounded by ctx; running
// out of time counts as a transient failure.
func (g *RateLimitedGateway) Fetch(ctx context.Context, location string, id interfaces.ContentID) ([]byte, error) {
	if err := g.bucket.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: rate limit wait: %v", interfaces.ErrTransientFetch, g.inner.Name(), err)
	}
	return g.inner.Fetch(ctx, location, id)
}

// Name returns the wrapped gateway's name.
func (g *RateLimitedGateway) Name() string {
	return g.inner.Name()
}
