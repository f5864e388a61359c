package storage

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// FactoryOptions tunes the gateways created by a GatewayFactory.
type FactoryOptions struct {
	// HTTPClient is shared by all http(s) gateways. Nil uses a default client.
	HTTPClient *http.Client

	// IPFSTimeout bounds IPFS API requests. Default: 30s.
	IPFSTimeout time.Duration

	// RatePerSecond limits requests per gateway; zero disables limiting.
	RatePerSecond float64
	RateBurst     int

	// GitHubRawBaseURL overrides the raw content host for github:// locations.
	GitHubRawBaseURL string
}

// GatewayFactory creates gateways from source location templates and reuses
// one gateway per remote endpoint.
type GatewayFactory struct {
	log  *slog.Logger
	opts FactoryOptions

	mu       sync.Mutex
	gateways map[string]interfaces.Gateway
}

// NewGatewayFactory creates a new factory instance.
func NewGatewayFactory(logger *slog.Logger, opts FactoryOptions) *GatewayFactory {
	if opts.IPFSTimeout <= 0 {
		opts.IPFSTimeout = 30 * time.Second
	}
	return &GatewayFactory{
		log:      common.OrDefault(logger),
		opts:     opts,
		gateways: make(map[string]interfaces.Gateway),
	}
}

// GatewayFor returns the gateway able to serve template.
//
// Supported schemes:
//   - http://, https:// - plain GET (public IPFS gateways, image hosts)
//   - ipfs:// - IPFS node API, or its HTTP gateway with ?gateway=true
//   - s3:// - Amazon S3 or compatible object storage
//   - github:// - raw files of a GitHub repository
//   - file:// - local mirror directory
func (gf *GatewayFactory) GatewayFor(template string) (interfaces.Gateway, error) {
	loc, err := interfaces.NewSourceLocation(template)
	if err != nil {
		return nil, err
	}

	key, err := gatewayKey(loc)
	if err != nil {
		return nil, err
	}

	gf.mu.Lock()
	defer gf.mu.Unlock()

	if gw, ok := gf.gateways[key]; ok {
		return gw, nil
	}

	gw, err := gf.createGateway(loc)
	if err != nil {
		return nil, err
	}
	if gf.opts.RatePerSecond > 0 {
		gw = NewRateLimitedGateway(gw, gf.opts.RatePerSecond, gf.opts.RateBurst)
	}

	gf.gateways[key] = gw
	return gw, nil
}

func (gf *GatewayFactory) createGateway(loc interfaces.SourceLocation) (interfaces.Gateway, error) {
	gf.log.Debug("Creating gateway", slog.String("scheme", loc.Scheme), slog.String("host", loc.Host))

	switch loc.Scheme {
	case "http", "https":
		return NewHTTPGateway(loc.Scheme+"-"+loc.Host, gf.opts.HTTPClient, gf.log), nil
	case "ipfs":
		host, port := splitHostPort(loc.Host, "5001")
		return NewIPFSBackend(host, port, loc.GetParamBool("gateway"), gf.opts.IPFSTimeout, gf.log)
	case "s3":
		return gf.createS3Backend(loc)
	case "github":
		owner, repo, _, err := splitGitHubLocation(mustParse(loc.Raw))
		if err != nil {
			return nil, err
		}
		backend := NewGitHubBackend(owner, repo, gf.log)
		if gf.opts.GitHubRawBaseURL != "" {
			backend.WithRawBaseURL(gf.opts.GitHubRawBaseURL)
		}
		return backend, nil
	case "file":
		return NewFileBackend(fileBaseDir(loc), gf.log)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// createS3Backend creates an S3 backend from
// s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix/?region=us-west-2&endpoint=custom.s3.com
func (gf *GatewayFactory) createS3Backend(loc interfaces.SourceLocation) (*S3Backend, error) {
	u := mustParse(loc.Raw)

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	prefix := strings.TrimPrefix(u.Path, "/")
	if i := strings.Index(prefix, interfaces.IDPlaceholder); i >= 0 {
		prefix = prefix[:i]
	}

	return NewS3Backend(loc.Host, prefix, region, loc.GetParam("endpoint"), accessKey, secretKey, gf.log)
}

// PublisherFor creates a publish target from a location URI.
// file:///dir, s3://KEY:SECRET@bucket/prefix?region=..., ipfs://host:port
func (gf *GatewayFactory) PublisherFor(uri string) (interfaces.Publisher, error) {
	loc, err := interfaces.NewSourceLocation(uri)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "file":
		return NewFileBackend(mustParse(loc.Raw).Host+loc.Path, gf.log)
	case "s3":
		return gf.createS3Backend(loc)
	case "ipfs":
		host, port := splitHostPort(loc.Host, "5001")
		return NewIPFSBackend(host, port, loc.GetParamBool("gateway"), gf.opts.IPFSTimeout, gf.log)
	default:
		return nil, fmt.Errorf("%w: scheme %s cannot be published to", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateMultiPublisher creates a publisher storing to every target in uris.
// Targets that cannot be created are logged and skipped; at least one must
// remain.
func (gf *GatewayFactory) CreateMultiPublisher(uris []string) (*MultiPublisher, error) {
	publishers := make([]interfaces.Publisher, 0, len(uris))

	for _, uri := range uris {
		publisher, err := gf.PublisherFor(uri)
		if err != nil {
			gf.log.Warn("Failed to create publisher",
				"err", err,
				slog.String("locationURI", uri))
			continue
		}
		publishers = append(publishers, publisher)
	}

	if len(publishers) == 0 {
		return nil, fmt.Errorf("no valid publish targets created")
	}

	return NewMultiPublisher(publishers, gf.log), nil
}

// gatewayKey identifies the endpoint a location is served by.
func gatewayKey(loc interfaces.SourceLocation) (string, error) {
	switch loc.Scheme {
	case "http", "https", "ipfs":
		return loc.Scheme + "://" + loc.Host + "?gateway=" + loc.GetParam("gateway"), nil
	case "s3":
		return fmt.Sprintf("s3://%s@%s?region=%s&endpoint=%s", loc.Auth, loc.Host, loc.GetParam("region"), loc.GetParam("endpoint")), nil
	case "github":
		owner, repo, _, err := splitGitHubLocation(mustParse(loc.Raw))
		if err != nil {
			return "", err
		}
		return "github://" + owner + "/" + repo, nil
	case "file":
		return "file://" + fileBaseDir(loc), nil
	default:
		return "", fmt.Errorf("%w: unsupported scheme %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// fileBaseDir is the directory holding the files a file:// template names.
func fileBaseDir(loc interfaces.SourceLocation) string {
	p := mustParse(loc.Raw).Host + loc.Path
	if i := strings.Index(p, interfaces.IDPlaceholder); i >= 0 {
		p = p[:i] + "x"
	}
	return path.Dir(p)
}

func splitHostPort(hostport, defaultPort string) (string, string) {
	u := &url.URL{Host: hostport}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return u.Hostname(), port
}

// mustParse parses a template already validated by NewSourceLocation.
func mustParse(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
