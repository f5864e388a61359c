package interfaces

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// IDPlaceholder is replaced by the content id when a source location template
// is expanded.
const IDPlaceholder = "{id}"

// SourceLocation represents a parsed source location template.
type SourceLocation struct {
	Raw    string     // Original template
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path, may contain the placeholder
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewSourceLocation parses a source location template with validation.
func NewSourceLocation(template string) (SourceLocation, error) {
	parsed, err := url.Parse(template)
	if err != nil {
		return SourceLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "http", "https", "file", "s3", "ipfs", "github":
		// Valid scheme
	default:
		return SourceLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return SourceLocation{
		Raw:    template,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original template.
func (loc SourceLocation) String() string {
	return loc.Raw
}

// Expand substitutes the content id into the template. Templates without the
// placeholder name a fixed object and are returned unchanged.
func (loc SourceLocation) Expand(id ContentID) string {
	return ExpandTemplate(loc.Raw, id)
}

// ExpandTemplate substitutes the content id into a raw template.
func ExpandTemplate(template string, id ContentID) string {
	return strings.ReplaceAll(template, IDPlaceholder, url.PathEscape(string(id)))
}

// IsTemplated reports whether the location contains the id placeholder.
func (loc SourceLocation) IsTemplated() bool {
	return strings.Contains(loc.Raw, IDPlaceholder)
}

// GetParam returns a query parameter value.
func (loc SourceLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc SourceLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// Gateway fetches bytes for a content id from one remote source.
type Gateway interface {
	// Fetch retrieves the bytes at the expanded location. Any transport error
	// or non-success response is reported wrapped in ErrTransientFetch.
	Fetch(ctx context.Context, location string, id ContentID) ([]byte, error)

	// Name returns identifier for logging.
	Name() string
}

// GatewayFactory resolves a source location template to the gateway able to
// serve it.
type GatewayFactory interface {
	GatewayFor(template string) (Gateway, error)
}

// DurableStorage is the persistent device/host storage collaborator. Paths use
// forward slashes and are relative to the storage root.
type DurableStorage interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Stat(ctx context.Context, path string) (bool, error)
	Mkdir(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
}

// ExpiringWriter is implemented by durable storages that can expire entries
// natively.
type ExpiringWriter interface {
	WriteFileTTL(ctx context.Context, path string, data []byte, ttl time.Duration) error
}

// Publisher stores content under its content id and reports where it can be
// fetched from afterwards.
type Publisher interface {
	// Publish stores data and returns its content id together with the source
	// location templates it is now retrievable from.
	Publish(ctx context.Context, data []byte) (ContentID, []string, error)

	// Name returns identifier for logging.
	Name() string
}

// Catalog is the remote record store holding content descriptors.
type Catalog interface {
	// List returns the full descriptor set.
	List(ctx context.Context) ([]ContentDescriptor, error)

	// Insert writes one descriptor; an existing id is replaced.
	Insert(ctx context.Context, desc ContentDescriptor) error

	// Delete removes a descriptor.
	Delete(ctx context.Context, id ContentID) error
}

// ContentFetcher returns the bytes of a content id.
type ContentFetcher interface {
	Fetch(ctx context.Context, id ContentID) ([]byte, error)
}

// Sequencer defines the logical ordering of content ids, such as consecutive
// page numbers.
type Sequencer interface {
	// Offset returns the id n positions away from id (negative n moves back).
	Offset(id ContentID, n int) (ContentID, bool)

	// Range enumerates the ids from start to end inclusive.
	Range(start, end ContentID) ([]ContentID, error)
}
