package fetch

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zonebnation/ebizimba-content/interfaces"
)

// State is a FetchAttempt state.
type State int

const (
	Idle State = iota
	Resolving
	Fetching
	Retrying
	NextSource
	Success
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case Fetching:
		return "fetching"
	case Retrying:
		return "retrying"
	case NextSource:
		return "next-source"
	case Success:
		return "success"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Policy parameterises the retry state machine.
type Policy struct {
	// MaxRetriesPerSource is the number of failed tries after which the
	// attempt moves to the next source.
	MaxRetriesPerSource int
	// RetryDelay is the wait before the first retry of a source; zero retries
	// immediately. Each further retry multiplies it by BackoffFactor.
	RetryDelay    time.Duration
	BackoffFactor float64
	// AttemptTimeout bounds every single gateway request. Running out of time
	// is a retryable failure.
	AttemptTimeout   time.Duration
	ChunkConcurrency int
}

// DefaultPolicy returns the default fetch policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetriesPerSource: 2,
		RetryDelay:          300 * time.Millisecond,
		BackoffFactor:       2,
		AttemptTimeout:      20 * time.Second,
		ChunkConcurrency:    4,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxRetriesPerSource <= 0 {
		p.MaxRetriesPerSource = d.MaxRetriesPerSource
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = 0
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 1
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	if p.ChunkConcurrency <= 0 {
		p.ChunkConcurrency = d.ChunkConcurrency
	}
	return p
}

// maxRetryDelay caps the wait between two tries of one source.
const maxRetryDelay = time.Minute

// newBackOff returns the retry schedule of one source: RetryDelay, then
// multiplied by BackoffFactor on every further retry, without jitter.
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.RetryDelay,
		RandomizationFactor: 0,
		Multiplier:          p.BackoffFactor,
		MaxInterval:         max(maxRetryDelay, p.RetryDelay),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Attempt tracks one request through its candidate sources. It is created
// per request and discarded on success or exhaustion.
type Attempt struct {
	ContentID   interfaces.ContentID
	Sources     []string
	SourceIndex int
	RetryCount  int
	LastError   error
	State       State

	// Errors collects the last error of every source given up on.
	Errors []interfaces.SourceError
	// History lists every state entered, in order.
	History []State

	// wait is the retry schedule of the current source.
	wait backoff.BackOff
}

func newAttempt(id interfaces.ContentID) *Attempt {
	return &Attempt{ContentID: id, State: Idle, History: []State{Idle}}
}

func (a *Attempt) transition(to State) {
	a.State = to
	a.History = append(a.History, to)
}

// Location returns the template of the source being tried.
func (a *Attempt) Location() string {
	if a.SourceIndex >= len(a.Sources) {
		return ""
	}
	return a.Sources[a.SourceIndex]
}

func (a *Attempt) fail(err error) {
	a.RetryCount++
	a.LastError = err
}

func (a *Attempt) advance() {
	a.Errors = append(a.Errors, interfaces.SourceError{
		Location: a.Location(),
		Attempts: a.RetryCount,
		Err:      a.LastError,
	})
	a.SourceIndex++
	a.RetryCount = 0
	a.LastError = nil
	if a.wait != nil {
		a.wait.Reset()
	}
}

func (a *Attempt) exhaustedError() error {
	return &interfaces.FetchError{ContentID: a.ContentID, Sources: a.Errors}
}
