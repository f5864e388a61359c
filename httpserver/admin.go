package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zonebnation/ebizimba-content/interfaces"
	"github.com/zonebnation/ebizimba-content/offline"
)

// DownloadState represents the state of the most recent offline download.
type DownloadState int

const (
	// StateIdle is the state before any download was requested.
	StateIdle DownloadState = iota

	// StateRunning indicates a download is in progress.
	StateRunning

	// StateComplete indicates the last download finished, possibly with
	// failed items.
	StateComplete

	// StateFailed indicates the last download stopped early.
	StateFailed
)

func (s DownloadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// offlineRangeRequest is the body of POST /api/offline/range.
type offlineRangeRequest struct {
	Start interfaces.ContentID `json:"start"`
	End   interfaces.ContentID `json:"end"`
}

// DownloadProgress describes the most recent offline download.
type DownloadProgress struct {
	State     string               `json:"state"`
	Start     interfaces.ContentID `json:"start,omitempty"`
	End       interfaces.ContentID `json:"end,omitempty"`
	Done      int                  `json:"done"`
	Total     int                  `json:"total"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Error     string               `json:"error,omitempty"`
	StartedAt time.Time            `json:"started_at,omitzero"`
}

// AdminHandler serves the maintenance endpoints: offline downloads, cache
// invalidation and registry sync. It remembers the progress of the last
// offline download.
type AdminHandler struct {
	*Handler

	mu       sync.RWMutex
	state    DownloadState
	progress DownloadProgress
}

// NewAdminHandler creates an admin handler sharing h's service and logger.
func NewAdminHandler(h *Handler) *AdminHandler {
	return &AdminHandler{Handler: h, state: StateIdle}
}

// HandleOfflineRange downloads a range of content for offline use and waits
// for it to finish.
//
// URL format: POST /api/offline/range
// Body: {"start": "<id>", "end": "<id>"}
//
// Response: {"succeeded": n, "failed": m}. A download already in progress is
// rejected with 409.
func (h *AdminHandler) HandleOfflineRange(w http.ResponseWriter, r *http.Request) {
	var req offlineRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid request body: %w", err)})
		return
	}
	if req.Start == "" || req.End == "" {
		h.writeError(w, r, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("start and end are required")})
		return
	}

	h.mu.Lock()
	if h.state == StateRunning {
		running := h.progress
		h.mu.Unlock()
		h.writeError(w, r, fmt.Errorf("%w: %s..%s", interfaces.ErrBundleInProgress, running.Start, running.End))
		return
	}
	prevState, prevProgress := h.state, h.progress
	h.state = StateRunning
	h.progress = DownloadProgress{Start: req.Start, End: req.End, StartedAt: time.Now()}
	h.mu.Unlock()

	res, err := h.svc.DownloadOfflineRange(r.Context(), req.Start, req.End, func(p offline.Progress) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.progress.Done = p.Done
		h.progress.Total = p.Total
	})
	if err != nil && errors.Is(err, interfaces.ErrBundleInProgress) {
		// Another caller of the service owns the bundler.
		h.mu.Lock()
		h.state, h.progress = prevState, prevProgress
		h.mu.Unlock()
		h.writeError(w, r, err)
		return
	}

	h.mu.Lock()
	h.progress.Succeeded = res.Succeeded
	h.progress.Failed = res.Failed
	h.state = StateComplete
	if err != nil {
		h.state = StateFailed
		h.progress.Error = err.Error()
	}
	h.mu.Unlock()

	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("Offline download finished",
		slog.String("start", req.Start.Short()),
		slog.String("end", req.End.Short()),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed))
	h.writeJSON(w, http.StatusOK, res)
}

// HandleOfflineProgress reports the most recent offline download.
//
// URL format: GET /api/offline/progress
func (h *AdminHandler) HandleOfflineProgress(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.Progress())
}

// Progress returns a snapshot of the most recent offline download.
func (h *AdminHandler) Progress() DownloadProgress {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p := h.progress
	p.State = h.state.String()
	return p
}

// HandleInvalidate drops a content item from both cache tiers.
//
// URL format: DELETE /api/content/{id}
func (h *AdminHandler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	id := interfaces.ContentID(chi.URLParam(r, "id"))
	if err := id.Validate(); err != nil {
		h.writeError(w, r, &RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}
	if err := h.svc.Invalidate(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClearCache empties both cache tiers. Offline downloads are kept.
//
// URL format: POST /api/cache/clear
func (h *AdminHandler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearAll(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("Cache cleared")
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// HandleClearMemory drops the memory cache tier only.
//
// URL format: POST /api/cache/clear-memory
func (h *AdminHandler) HandleClearMemory(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearMemory()
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// HandleSync reloads the registry from the catalog.
//
// URL format: POST /api/registry/sync
//
// A failed sync keeps the previous descriptor set and answers 502.
func (h *AdminHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Sync(r.Context()); err != nil {
		h.writeError(w, r, &RequestError{StatusCode: http.StatusBadGateway, Err: err})
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Status())
}

// HandleStatus reports registry, cache and background job state.
//
// URL format: GET /api/registry/status
func (h *AdminHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Status())
}
