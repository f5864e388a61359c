// Package prefetch warms the cache with the logical neighbours of a content id.
package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// Default window around the current id.
const (
	DefaultForward     = 5
	DefaultBackward    = DefaultForward / 2
	DefaultConcurrency = 2
)

// Prefetcher issues best-effort fetches for the neighbours of an id. Fetches
// go through the regular fetch pipeline, so a prefetch and a user request for
// the same id share one underlying fetch.
type Prefetcher struct {
	fetcher     interfaces.ContentFetcher
	seq         interfaces.Sequencer
	concurrency int
	log         *slog.Logger

	mu      sync.Mutex
	jobs    map[*Job]struct{}
	stopped bool
}

// New creates a prefetcher. A concurrency of zero or less selects
// DefaultConcurrency.
func New(fetcher interfaces.ContentFetcher, seq interfaces.Sequencer, concurrency int, log *slog.Logger) *Prefetcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Prefetcher{
		fetcher:     fetcher,
		seq:         seq,
		concurrency: concurrency,
		log:         common.OrDefault(log),
		jobs:        make(map[*Job]struct{}),
	}
}

// Neighbours returns up to forward ids after center, nearest first, followed by
// up to backward ids before it, nearest first. Ids outside the sequence are
// skipped.
func (p *Prefetcher) Neighbours(center interfaces.ContentID, forward, backward int) []interfaces.ContentID {
	ids := make([]interfaces.ContentID, 0, max(forward, 0)+max(backward, 0))
	for i := 1; i <= forward; i++ {
		if id, ok := p.seq.Offset(center, i); ok {
			ids = append(ids, id)
		}
	}
	for i := 1; i <= backward; i++ {
		if id, ok := p.seq.Offset(center, -i); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Result summarises a finished job.
type Result struct {
	Fetched int
	Failed  int
}

// Job is one running warm-up.
type Job struct {
	ids    []interfaces.ContentID
	cancel context.CancelFunc
	done   chan struct{}

	fetched atomic.Int32
	failed  atomic.Int32
}

// IDs returns the ids the job prefetches.
func (j *Job) IDs() []interfaces.ContentID {
	return j.ids
}

// Cancel abandons the job. Fetches still running are cancelled unless another
// caller is waiting for the same id.
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed when the job has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job has finished and returns its counts.
func (j *Job) Wait() Result {
	<-j.done
	return Result{Fetched: int(j.fetched.Load()), Failed: int(j.failed.Load())}
}

// Warm starts prefetching the neighbours of center and returns immediately.
// The job stops when ctx is done, when it is cancelled or when the prefetcher
// is stopped. Fetch errors are logged at debug level and otherwise ignored.
func (p *Prefetcher) Warm(ctx context.Context, center interfaces.ContentID, forward, backward int) *Job {
	jctx, cancel := context.WithCancel(ctx)
	job := &Job{
		ids:    p.Neighbours(center, forward, backward),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		cancel()
		close(job.done)
		return job
	}
	p.jobs[job] = struct{}{}
	p.mu.Unlock()

	go p.run(jctx, center, job)
	return job
}

func (p *Prefetcher) run(ctx context.Context, center interfaces.ContentID, job *Job) {
	start := time.Now()
	defer func() {
		job.cancel()
		p.mu.Lock()
		delete(p.jobs, job)
		p.mu.Unlock()
		close(job.done)
	}()

	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for _, id := range job.ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := p.fetcher.Fetch(ctx, id); err != nil {
				job.failed.Inc()
				p.log.Debug("Prefetch failed", slog.String("content_id", id.Short()), "err", err)
				return nil
			}
			job.fetched.Inc()
			return nil
		})
	}
	_ = g.Wait()

	p.log.Debug("Prefetch finished",
		slog.String("center", center.Short()),
		slog.Int("fetched", int(job.fetched.Load())),
		slog.Int("failed", int(job.failed.Load())),
		slog.Duration("duration", time.Since(start)))
}

// Running returns the number of unfinished jobs.
func (p *Prefetcher) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// Stop cancels every running job, waits for them to finish and rejects new
// ones.
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	p.stopped = true
	jobs := make([]*Job, 0, len(p.jobs))
	for job := range p.jobs {
		jobs = append(jobs, job)
	}
	p.mu.Unlock()

	for _, job := range jobs {
		job.Cancel()
		<-job.done
	}
}
