// Package api provides the HTTP control surface for try-on sessions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/ayusman/tryon/internal/capture"
	"github.com/ayusman/tryon/internal/session"
)

// Controller is the part of session.Controller the API drives.
type Controller interface {
	Open(ctx context.Context, req session.Request) (session.Status, error)
	Close() error
	ChangeModel(url string) error
	Resize(width, height int) error
	Status() session.Status
}

// TryOnHandler handles HTTP requests for the try-on session resource.
type TryOnHandler struct {
	ctrl Controller
}

// NewTryOnHandler creates a new TryOnHandler driving ctrl.
func NewTryOnHandler(ctrl Controller) *TryOnHandler {
	return &TryOnHandler{ctrl: ctrl}
}

// ServeHTTP routes /api/tryon, /api/tryon/model and /api/tryon/viewport.
func (h *TryOnHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tryon")
	path = strings.Trim(path, "/")

	if !allowRequest(w, r) {
		return
	}

	switch path {
	case "":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, h.ctrl.Status())
		case http.MethodPost:
			h.open(w, r)
		case http.MethodDelete:
			h.close(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "model":
		if r.Method != http.MethodPut {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.changeModel(w, r)
	case "viewport":
		if r.Method != http.MethodPut {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.resize(w, r)
	default:
		http.NotFound(w, r)
	}
}

type openRequest struct {
	ProductID string `json:"product_id"`
	Category  string `json:"category"`
	ModelURL  string `json:"model_url"`
}

type modelRequest struct {
	ModelURL string `json:"model_url"`
}

type viewportRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// allowRequest rejects state-changing requests from another origin and
// request bodies that are not JSON. Both would otherwise let any web page
// open the camera with a simple form post.
func allowRequest(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}

	if origin := r.Header.Get("Origin"); origin != "" {
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" || !strings.EqualFold(u.Host, r.Host) {
			writeError(w, http.StatusForbidden, "cross-origin request")
			return false
		}
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
			return false
		}
	}
	return true
}

// writeSessionError maps session errors to status codes.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, capture.ErrCameraUnavailable):
		writeError(w, http.StatusServiceUnavailable, capture.ErrCameraUnavailable.Error())
	case errors.Is(err, session.ErrAlreadyOpen),
		errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("try-on request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// open handles POST /api/tryon.
func (h *TryOnHandler) open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}

	st, err := h.ctrl.Open(r.Context(), session.Request{
		ProductID: req.ProductID,
		Category:  req.Category,
		ModelURL:  req.ModelURL,
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// close handles DELETE /api/tryon.
func (h *TryOnHandler) close(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Close(); err != nil {
		// the session is gone either way; teardown problems are logged
		slog.Warn("try-on closed with errors", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// changeModel handles PUT /api/tryon/model.
func (h *TryOnHandler) changeModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ModelURL == "" {
		writeError(w, http.StatusBadRequest, "model_url is required")
		return
	}
	if err := h.ctrl.ChangeModel(req.ModelURL); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.ctrl.Status())
}

// resize handles PUT /api/tryon/viewport.
func (h *TryOnHandler) resize(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.ctrl.Resize(req.Width, req.Height); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
