package interfaces

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotRegistered is returned when a content id is unknown to the registry.
	// It is fatal for the request and never retried.
	ErrNotRegistered = errors.New("content not registered")

	// ErrTransientFetch marks a failed fetch from one source: a transport error,
	// a timeout or a non-success response. It is retried per the fetch policy.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrSourcesExhausted is returned when every candidate source failed.
	ErrSourcesExhausted = errors.New("all sources exhausted")

	// ErrStorageUnavailable is returned by components that need durable storage
	// when none is configured. The cache never surfaces it.
	ErrStorageUnavailable = errors.New("durable storage unavailable")

	// ErrInvalidRange is returned for bundler and uploader precondition violations.
	ErrInvalidRange = errors.New("invalid range")

	// ErrContentNotFound is returned when requested content cannot be found in a
	// storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidLocationURI is returned when a source location template is
	// malformed or uses an unsupported scheme.
	ErrInvalidLocationURI = errors.New("invalid source location URI")

	// ErrBundleInProgress is returned when an offline download is requested while
	// another one is still running.
	ErrBundleInProgress = errors.New("offline download already in progress")
)

// SourceError records the failure of one source during a fetch.
type SourceError struct {
	Location string
	Attempts int
	Err      error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s (%d attempts): %v", e.Location, e.Attempts, e.Err)
}

// FetchError is the terminal error of a fetch whose sources were exhausted.
type FetchError struct {
	ContentID ContentID
	Sources   []SourceError
}

func (e *FetchError) Error() string {
	if len(e.Sources) == 0 {
		return fmt.Sprintf("fetch %s: %v: no sources", e.ContentID, ErrSourcesExhausted)
	}
	parts := make([]string, 0, len(e.Sources))
	for _, s := range e.Sources {
		parts = append(parts, s.Error())
	}
	return fmt.Sprintf("fetch %s: %v: [%s]", e.ContentID, ErrSourcesExhausted, strings.Join(parts, "; "))
}

// Unwrap makes errors.Is(err, ErrSourcesExhausted) hold.
func (e *FetchError) Unwrap() error {
	return ErrSourcesExhausted
}

// IsRetryable reports whether the caller should offer a retry for err.
// Exhausted and transient failures are retryable; unknown ids and invalid
// ranges are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotRegistered) || errors.Is(err, ErrInvalidRange) {
		return false
	}
	return errors.Is(err, ErrSourcesExhausted) || errors.Is(err, ErrTransientFetch)
}
