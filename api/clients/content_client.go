package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zonebnation/ebizimba-content/delivery"
	"github.com/zonebnation/ebizimba-content/httpserver"
	"github.com/zonebnation/ebizimba-content/interfaces"
	"github.com/zonebnation/ebizimba-content/offline"
	"github.com/zonebnation/ebizimba-content/upload"
)

// APIError is a non-success response of the content API.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("content API returned %d: %s", e.StatusCode, e.Message)
}

// Is maps response codes back to the service's sentinel errors, so callers can
// use errors.Is the same way against a local or a remote service.
func (e *APIError) Is(target error) bool {
	switch target {
	case interfaces.ErrNotRegistered:
		return e.StatusCode == http.StatusNotFound
	case interfaces.ErrInvalidRange:
		return e.StatusCode == http.StatusBadRequest
	case interfaces.ErrSourcesExhausted:
		return e.StatusCode == http.StatusBadGateway
	case interfaces.ErrBundleInProgress:
		return e.StatusCode == http.StatusConflict
	case interfaces.ErrStorageUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	default:
		return false
	}
}

// ContentClient talks to a running content server.
type ContentClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewContentClient creates a client for the server at baseURL
// (e.g. "http://localhost:8080").
//
// Parameters:
//   - baseURL: The base URL of the content API
//   - timeout: Request timeout duration (optional, default 5 minutes since
//     offline downloads are synchronous)
func NewContentClient(baseURL string, timeout ...time.Duration) *ContentClient {
	clientTimeout := 5 * time.Minute
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}
	return &ContentClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

// Fetch downloads the bytes of id.
func (c *ContentClient) Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/content/"+url.PathEscape(string(id)), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return data, nil
}

// Upload stores payload on the server and returns its id.
func (c *ContentClient) Upload(ctx context.Context, payload []byte, opts upload.Options) (interfaces.ContentID, error) {
	q := url.Values{}
	if opts.Title != "" {
		q.Set("title", opts.Title)
	}
	q.Set("kind", opts.Kind.String())
	if opts.MimeType != "" {
		q.Set("mime", opts.MimeType)
	}

	var result struct {
		ID interfaces.ContentID `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/content?"+q.Encode(), bytes.NewReader(payload), "application/octet-stream", &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// Prefetch asks the server to warm its cache around id and returns the ids
// being prefetched. Negative counts select the server's window.
func (c *ContentClient) Prefetch(ctx context.Context, id interfaces.ContentID, forward, backward int) ([]interfaces.ContentID, error) {
	q := url.Values{}
	if forward >= 0 {
		q.Set("forward", strconv.Itoa(forward))
	}
	if backward >= 0 {
		q.Set("backward", strconv.Itoa(backward))
	}
	path := "/api/prefetch/" + url.PathEscape(string(id))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result struct {
		IDs []interfaces.ContentID `json:"ids"`
	}
	if err := c.doJSON(ctx, http.MethodPost, path, nil, "", &result); err != nil {
		return nil, err
	}
	return result.IDs, nil
}

// DownloadOfflineRange runs an offline download on the server and waits for
// it to finish.
func (c *ContentClient) DownloadOfflineRange(ctx context.Context, start, end interfaces.ContentID) (offline.Result, error) {
	body, err := json.Marshal(map[string]interfaces.ContentID{"start": start, "end": end})
	if err != nil {
		return offline.Result{}, err
	}
	var result offline.Result
	err = c.doJSON(ctx, http.MethodPost, "/api/offline/range", bytes.NewReader(body), "application/json", &result)
	return result, err
}

// OfflineProgress returns the state of the server's last offline download.
func (c *ContentClient) OfflineProgress(ctx context.Context) (httpserver.DownloadProgress, error) {
	var result httpserver.DownloadProgress
	err := c.doJSON(ctx, http.MethodGet, "/api/offline/progress", nil, "", &result)
	return result, err
}

// Invalidate drops id from the server's cache.
func (c *ContentClient) Invalidate(ctx context.Context, id interfaces.ContentID) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/content/"+url.PathEscape(string(id)), nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ClearAll empties the server's cache.
func (c *ContentClient) ClearAll(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/cache/clear", nil, "", nil)
}

// ClearMemory empties the server's memory cache tier.
func (c *ContentClient) ClearMemory(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/cache/clear-memory", nil, "", nil)
}

// Sync makes the server reload its registry.
func (c *ContentClient) Sync(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/registry/sync", nil, "", nil)
}

// Status returns the server's service state.
func (c *ContentClient) Status(ctx context.Context) (delivery.Status, error) {
	var result delivery.Status
	err := c.doJSON(ctx, http.MethodGet, "/api/registry/status", nil, "", &result)
	return result, err
}

// Close releases idle connections.
func (c *ContentClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *ContentClient) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}

// do sends a request and turns non-2xx responses into *APIError.
func (c *ContentClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed struct {
		Error     string `json:"error"`
		Retryable bool   `json:"retryable"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		apiErr.Message = parsed.Error
		apiErr.Retryable = parsed.Retryable
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return nil, apiErr
}
