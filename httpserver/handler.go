package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/delivery"
	"github.com/zonebnation/ebizimba-content/interfaces"
	"github.com/zonebnation/ebizimba-content/offline"
	"github.com/zonebnation/ebizimba-content/prefetch"
	"github.com/zonebnation/ebizimba-content/upload"
)

const (
	// ContentIDHeader carries the id of fetched or uploaded content.
	ContentIDHeader = "X-Content-Id"

	// defaultMaxUploadBytes bounds upload bodies when no limit is configured.
	defaultMaxUploadBytes = 256 << 20
)

// ContentService is the caller-facing API served over HTTP.
// *delivery.Service implements it.
type ContentService interface {
	Fetch(ctx context.Context, id interfaces.ContentID) ([]byte, error)
	Resolve(id interfaces.ContentID) (interfaces.ContentDescriptor, error)
	Upload(ctx context.Context, payload []byte, opts upload.Options) (interfaces.ContentID, error)
	PrefetchRange(ctx context.Context, id interfaces.ContentID, forward, backward int) *prefetch.Job
	DownloadOfflineRange(ctx context.Context, start, end interfaces.ContentID, onProgress offline.ProgressFunc) (offline.Result, error)
	Invalidate(ctx context.Context, id interfaces.ContentID) error
	ClearAll(ctx context.Context) error
	ClearMemory()
	Sync(ctx context.Context) error
	Status() delivery.Status
}

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Handler serves content requests.
type Handler struct {
	svc            ContentService
	maxUploadBytes int64
	log            *slog.Logger
}

// NewHandler creates a handler for svc. maxUploadBytes bounds upload bodies;
// zero selects 256 MiB.
func NewHandler(svc ContentService, maxUploadBytes int64, log *slog.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		svc:            svc,
		maxUploadBytes: maxUploadBytes,
		log:            common.OrDefault(log),
	}
}

// HandleGetContent returns the bytes of a content item.
//
// URL format: GET /api/content/{id}
//
// The response carries the descriptor's MIME type when it has one and
// application/octet-stream otherwise.
func (h *Handler) HandleGetContent(w http.ResponseWriter, r *http.Request) {
	id := interfaces.ContentID(chi.URLParam(r, "id"))

	data, err := h.svc.Fetch(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	contentType := "application/octet-stream"
	if desc, err := h.svc.Resolve(id); err == nil && desc.MimeType != "" {
		contentType = desc.MimeType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set(ContentIDHeader, string(id))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// HandleUpload stores the request body and registers it.
//
// URL format: POST /api/content?title=&kind=&mime=
//
// kind defaults to document. Payloads above the configured threshold are
// split into chunks. The response is {"id": "<sha256>"}.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := upload.Options{
		Title:    q.Get("title"),
		Kind:     interfaces.DocumentKind,
		MimeType: q.Get("mime"),
	}
	if k := q.Get("kind"); k != "" {
		kind, err := interfaces.ParseContentKind(k)
		if err != nil {
			h.writeError(w, r, &RequestError{StatusCode: http.StatusBadRequest, Err: err})
			return
		}
		opts.Kind = kind
	}
	if opts.MimeType == "" {
		opts.MimeType = r.Header.Get("Content-Type")
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: err})
			return
		}
		h.writeError(w, r, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("failed to read request body: %w", err)})
		return
	}

	id, err := h.svc.Upload(r.Context(), payload, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info("Content uploaded", slog.String("content_id", id.Short()), slog.Int("bytes", len(payload)))
	w.Header().Set(ContentIDHeader, string(id))
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": string(id)})
}

// HandlePrefetch starts warming the cache around a content item and returns
// without waiting.
//
// URL format: POST /api/prefetch/{id}?forward=&backward=
//
// Omitted counts select the configured window. The response lists the ids
// being prefetched.
func (h *Handler) HandlePrefetch(w http.ResponseWriter, r *http.Request) {
	id := interfaces.ContentID(chi.URLParam(r, "id"))
	if err := id.Validate(); err != nil {
		h.writeError(w, r, &RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}

	forward, err := queryCount(r, "forward")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	backward, err := queryCount(r, "backward")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// The job outlives the request.
	job := h.svc.PrefetchRange(context.WithoutCancel(r.Context()), id, forward, backward)
	h.writeJSON(w, http.StatusAccepted, map[string]any{"ids": job.IDs()})
}

// queryCount parses a non-negative count parameter; -1 means absent.
func queryCount(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return -1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid %s: %q", name, v)}
	}
	return n, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) (int, bool) {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode, false
	case errors.Is(err, interfaces.ErrNotRegistered), errors.Is(err, interfaces.ErrContentNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, interfaces.ErrInvalidRange):
		return http.StatusBadRequest, false
	case errors.Is(err, interfaces.ErrSourcesExhausted):
		return http.StatusBadGateway, interfaces.IsRetryable(err)
	case errors.Is(err, interfaces.ErrBundleInProgress):
		return http.StatusConflict, true
	case errors.Is(err, interfaces.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, true
	default:
		return http.StatusInternalServerError, false
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, retryable := statusFor(err)
	if status >= 500 {
		h.log.Error("Request failed", slog.String("path", r.URL.Path), slog.Int("status", status), "err", err)
	} else {
		h.log.Debug("Request rejected", slog.String("path", r.URL.Path), slog.Int("status", status), "err", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error(), Retryable: retryable})
}
