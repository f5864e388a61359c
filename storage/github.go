package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// DefaultGitHubRawBaseURL serves raw repository files.
const DefaultGitHubRawBaseURL = "https://raw.githubusercontent.com"

// GitHubBackend is a read-only backend serving files committed to a GitHub
// repository, such as page scans mirrored to a CDN repo.
//
// Location format: github://owner/repo/path/to/{id}.png?ref=main
type GitHubBackend struct {
	owner      string
	repo       string
	rawBaseURL string
	http       *HTTPGateway
	log        *slog.Logger
}

// NewGitHubBackend creates a new GitHub backend for reading from owner/repo.
func NewGitHubBackend(owner, repo string, log *slog.Logger) *GitHubBackend {
	log = common.OrDefault(log)
	return &GitHubBackend{
		owner:      owner,
		repo:       repo,
		rawBaseURL: DefaultGitHubRawBaseURL,
		http:       NewHTTPGateway(fmt.Sprintf("github-%s-%s", owner, repo), &http.Client{Timeout: 30 * time.Second}, log),
		log:        log,
	}
}

// WithRawBaseURL overrides the raw content host, e.g. for GitHub Enterprise.
func (b *GitHubBackend) WithRawBaseURL(base string) *GitHubBackend {
	b.rawBaseURL = strings.TrimSuffix(base, "/")
	return b
}

// Fetch retrieves the file named by a github:// location.
func (b *GitHubBackend) Fetch(ctx context.Context, location string, id interfaces.ContentID) ([]byte, error) {
	rawURL, err := b.rawURL(location)
	if err != nil {
		return nil, err
	}
	return b.http.Fetch(ctx, rawURL, id)
}

func (b *GitHubBackend) rawURL(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}
	owner, repo, filePath, err := splitGitHubLocation(u)
	if err != nil {
		return "", err
	}
	if owner != b.owner || repo != b.repo {
		return "", fmt.Errorf("%w: %s is not in %s/%s", interfaces.ErrInvalidLocationURI, location, b.owner, b.repo)
	}

	ref := u.Query().Get("ref")
	if ref == "" {
		ref = "main"
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", b.rawBaseURL, owner, repo, ref, filePath), nil
}

// Name returns a unique identifier for this backend.
func (b *GitHubBackend) Name() string {
	return fmt.Sprintf("github-%s-%s", b.owner, b.repo)
}

// LocationURI returns the URI that identifies this backend.
func (b *GitHubBackend) LocationURI() string {
	return fmt.Sprintf("github://%s/%s", b.owner, b.repo)
}

func splitGitHubLocation(u *url.URL) (owner, repo, filePath string, err error) {
	owner = u.Host
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if owner == "" || len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("%w: expected github://owner/repo/path, got %s", interfaces.ErrInvalidLocationURI, u.String())
	}
	return owner, parts[0], parts[1], nil
}
