package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ayusman/tryon/internal/capture"
	"github.com/ayusman/tryon/internal/session"
)

// fakeController records calls and returns scripted errors.
type fakeController struct {
	openErr   error
	closeErr  error
	modelErr  error
	resizeErr error

	opened  []session.Request
	closes  int
	models  []string
	resizes [][2]int
	status  session.Status
}

func (f *fakeController) Open(ctx context.Context, req session.Request) (session.Status, error) {
	f.opened = append(f.opened, req)
	if f.openErr != nil {
		return session.Status{State: "idle"}, f.openErr
	}
	f.status = session.Status{State: "active", SessionID: "s-1", ProductID: req.ProductID, Category: req.Category, ModelURL: req.ModelURL}
	return f.status, nil
}

func (f *fakeController) Close() error {
	f.closes++
	f.status = session.Status{State: "idle"}
	return f.closeErr
}

func (f *fakeController) ChangeModel(url string) error {
	f.models = append(f.models, url)
	if f.modelErr == nil {
		f.status.ModelURL = url
	}
	return f.modelErr
}

func (f *fakeController) Resize(width, height int) error {
	f.resizes = append(f.resizes, [2]int{width, height})
	return f.resizeErr
}

func (f *fakeController) Status() session.Status {
	return f.status
}

func serve(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error
}

func TestTryOnHandler_Open(t *testing.T) {
	ctrl := &fakeController{}
	handler := NewTryOnHandler(ctrl)

	rec := serve(t, handler, http.MethodPost, "/api/tryon", openRequest{ProductID: "r-1", Category: "rings", ModelURL: "/models/r-1.glb"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var st session.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if st.State != "active" || st.ProductID != "r-1" {
		t.Errorf("unexpected status %+v", st)
	}

	if len(ctrl.opened) != 1 {
		t.Fatalf("expected one open, got %d", len(ctrl.opened))
	}
	want := session.Request{ProductID: "r-1", Category: "rings", ModelURL: "/models/r-1.glb"}
	if ctrl.opened[0] != want {
		t.Errorf("expected request %+v, got %+v", want, ctrl.opened[0])
	}
}

func TestTryOnHandler_OpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    any
		openErr error
		status  int
		message string
	}{
		{
			name:    "invalid JSON",
			body:    "{not json",
			status:  http.StatusBadRequest,
			message: "invalid JSON",
		},
		{
			name:    "missing category",
			body:    openRequest{ProductID: "r-1"},
			status:  http.StatusBadRequest,
			message: "category is required",
		},
		{
			name:    "unknown category",
			body:    openRequest{Category: "necklaces"},
			openErr: fmt.Errorf("%w: unknown category", session.ErrInvalidRequest),
			status:  http.StatusBadRequest,
		},
		{
			name:    "camera unavailable",
			body:    openRequest{Category: "rings"},
			openErr: fmt.Errorf("%w: permission denied", capture.ErrCameraUnavailable),
			status:  http.StatusServiceUnavailable,
			message: "camera not accessible",
		},
		{
			name:    "already open",
			body:    openRequest{Category: "rings"},
			openErr: session.ErrAlreadyOpen,
			status:  http.StatusConflict,
		},
		{
			name:    "closed while starting",
			body:    openRequest{Category: "rings"},
			openErr: session.ErrSessionClosed,
			status:  http.StatusConflict,
		},
		{
			name:    "unexpected",
			body:    openRequest{Category: "rings"},
			openErr: errors.New("boom"),
			status:  http.StatusInternalServerError,
			message: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewTryOnHandler(&fakeController{openErr: tt.openErr})

			rec := serve(t, handler, http.MethodPost, "/api/tryon", tt.body)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			msg := decodeError(t, rec)
			if tt.message != "" && msg != tt.message {
				t.Errorf("expected error %q, got %q", tt.message, msg)
			}
		})
	}
}

func TestTryOnHandler_Close(t *testing.T) {
	t.Run("returns 204", func(t *testing.T) {
		ctrl := &fakeController{}
		rec := serve(t, NewTryOnHandler(ctrl), http.MethodDelete, "/api/tryon", nil)

		if rec.Code != http.StatusNoContent {
			t.Errorf("expected status %d, got %d", http.StatusNoContent, rec.Code)
		}
		if ctrl.closes != 1 {
			t.Errorf("expected one close, got %d", ctrl.closes)
		}
	})

	t.Run("teardown errors still return 204", func(t *testing.T) {
		ctrl := &fakeController{closeErr: errors.New("render: panic")}
		rec := serve(t, NewTryOnHandler(ctrl), http.MethodDelete, "/api/tryon", nil)

		if rec.Code != http.StatusNoContent {
			t.Errorf("expected status %d, got %d", http.StatusNoContent, rec.Code)
		}
	})
}

func TestTryOnHandler_Status(t *testing.T) {
	ctrl := &fakeController{status: session.Status{State: "active", Category: "watches", Frames: 42}}
	rec := serve(t, NewTryOnHandler(ctrl), http.MethodGet, "/api/tryon", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var st session.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if st.Category != "watches" || st.Frames != 42 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestTryOnHandler_ChangeModel(t *testing.T) {
	ctrl := &fakeController{status: session.Status{State: "active"}}
	handler := NewTryOnHandler(ctrl)

	rec := serve(t, handler, http.MethodPut, "/api/tryon/model", modelRequest{ModelURL: "/models/w-2.glb"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, rec.Code, rec.Body.String())
	}
	if len(ctrl.models) != 1 || ctrl.models[0] != "/models/w-2.glb" {
		t.Errorf("unexpected model changes %v", ctrl.models)
	}

	rec = serve(t, handler, http.MethodPut, "/api/tryon/model", modelRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for missing url, got %d", http.StatusBadRequest, rec.Code)
	}

	ctrl.modelErr = session.ErrNotActive
	rec = serve(t, handler, http.MethodPut, "/api/tryon/model", modelRequest{ModelURL: "/models/x.glb"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status %d without a session, got %d", http.StatusConflict, rec.Code)
	}
}

func TestTryOnHandler_Viewport(t *testing.T) {
	ctrl := &fakeController{}
	handler := NewTryOnHandler(ctrl)

	rec := serve(t, handler, http.MethodPut, "/api/tryon/viewport", viewportRequest{Width: 800, Height: 600})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if len(ctrl.resizes) != 1 || ctrl.resizes[0] != [2]int{800, 600} {
		t.Errorf("unexpected resizes %v", ctrl.resizes)
	}

	ctrl.resizeErr = fmt.Errorf("%w: viewport 0x600", session.ErrInvalidRequest)
	rec = serve(t, handler, http.MethodPut, "/api/tryon/viewport", viewportRequest{Height: 600})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestTryOnHandler_MethodNotAllowed(t *testing.T) {
	handler := NewTryOnHandler(&fakeController{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPut, "/api/tryon"},
		{http.MethodPatch, "/api/tryon"},
		{http.MethodGet, "/api/tryon/model"},
		{http.MethodPost, "/api/tryon/viewport"},
	}
	for _, tt := range tests {
		rec := serve(t, handler, tt.method, tt.path, nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected status %d, got %d", tt.method, tt.path, http.StatusMethodNotAllowed, rec.Code)
		}
	}

	rec := serve(t, handler, http.MethodGet, "/api/tryon/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestTryOnHandler_RejectsForeignRequests(t *testing.T) {
	body := `{"product_id": "r-1", "category": "rings"}`

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		origin      string
		wantStatus  int
	}{
		{"cross-origin form post", http.MethodPost, "/api/tryon", "text/plain", "http://shop.example.net", http.StatusForbidden},
		{"text body", http.MethodPost, "/api/tryon", "text/plain;charset=UTF-8", "", http.StatusUnsupportedMediaType},
		{"urlencoded body", http.MethodPost, "/api/tryon", "application/x-www-form-urlencoded", "", http.StatusUnsupportedMediaType},
		{"missing content type", http.MethodPost, "/api/tryon", "", "", http.StatusUnsupportedMediaType},
		{"cross-origin json", http.MethodPost, "/api/tryon", "application/json", "http://shop.example.net", http.StatusForbidden},
		{"opaque origin", http.MethodPost, "/api/tryon", "application/json", "null", http.StatusForbidden},
		{"cross-origin close", http.MethodDelete, "/api/tryon", "", "http://shop.example.net", http.StatusForbidden},
		{"text model change", http.MethodPut, "/api/tryon/model", "text/plain", "", http.StatusUnsupportedMediaType},
		{"same-origin json", http.MethodPost, "/api/tryon", "application/json; charset=utf-8", "http://example.com", http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{}
			handler := NewTryOnHandler(ctrl)

			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus == http.StatusCreated {
				return
			}
			if len(ctrl.opened) != 0 || ctrl.closes != 0 || len(ctrl.models) != 0 {
				t.Errorf("rejected request reached the controller: %+v", ctrl)
			}
		})
	}

	rec := serve(t, NewTryOnHandler(&fakeController{}), http.MethodGet, "/api/tryon", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status read: expected status %d, got %d", http.StatusOK, rec.Code)
	}
}
