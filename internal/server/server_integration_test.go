package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ayusman/tryon/internal/capture"
	"github.com/ayusman/tryon/internal/detector"
	"github.com/ayusman/tryon/internal/metrics"
	"github.com/ayusman/tryon/internal/render"
	"github.com/ayusman/tryon/internal/session"
	"github.com/ayusman/tryon/testdata"
)

func newTryOnController(t *testing.T, surface *render.StreamSurface) (*session.Controller, *capture.MockPlatform) {
	t.Helper()

	frames := testdata.Frames(3, 64, 48)
	t.Cleanup(func() { testdata.CloseAll(frames) })

	platform := capture.NewMockPlatform(capture.DeviceDescriptor{ID: "0", Label: "Integrated Camera", Kind: capture.KindVideoInput})
	platform.SetResponder(func(c capture.Constraints) (*capture.MockStream, error) {
		return capture.NewMockStream("0", capture.FacingUser, frames, true), nil
	})

	ctrl, err := session.NewController(session.Config{
		Platform: platform,
		Capture:  capture.ManagerConfig{Width: 64, Height: 48},
		Facing:   capture.FacingUser,
		NewDetector: func() (detector.Detector, error) {
			d := detector.NewMockDetector()
			d.SetHands([]detector.HandLandmarks{detector.OpenHandLandmarks()})
			return d, nil
		},
		NewContext: func(mirror bool) (render.Context, error) {
			return render.NewRasterizer(surface, render.RasterizerOptions{Mirror: mirror}), nil
		},
		FrameInterval: 10 * time.Millisecond,
		VideoInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewController error = %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return ctrl, platform
}

func TestAPI_TryOnWorkflow(t *testing.T) {
	surface := render.NewStreamSurface()
	defer surface.Close()
	ctrl, platform := newTryOnController(t, surface)

	srv := New(Config{Controller: ctrl, Stream: surface, Events: ctrl})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	// 1. Subscribe to lifecycle events
	clients := testutil.ToFloat64(metrics.EventClientsCurrent)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial /api/events error = %v", err)
	}
	defer conn.Close()
	waitUntil(t, "event subscriber", func() bool {
		return testutil.ToFloat64(metrics.EventClientsCurrent) > clients
	})

	// 2. Open a ring try-on
	resp, err := client.Post(ts.URL+"/api/tryon", "application/json", bytes.NewBufferString(`{"product_id": "r-1", "category": "rings"}`))
	if err != nil {
		t.Fatalf("POST /api/tryon error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var opened session.Status
	json.NewDecoder(resp.Body).Decode(&opened)
	resp.Body.Close()

	if opened.State != "active" || opened.Category != "rings" {
		t.Errorf("opened status = %+v", opened)
	}
	if !opened.Mirrored {
		t.Error("front camera on desktop should be mirrored")
	}

	ev := readEvent(t, conn)
	if ev.Kind != session.EventOpened || ev.ProductID != "r-1" {
		t.Errorf("first event = %+v, want opened for r-1", ev)
	}

	// 3. A second open conflicts
	resp, _ = client.Post(ts.URL+"/api/tryon", "application/json", bytes.NewBufferString(`{"category": "watches"}`))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second POST status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	resp.Body.Close()

	// 4. Composited frames reach the stream
	resp, err = client.Get(ts.URL + "/api/stream")
	if err != nil {
		t.Fatalf("GET /api/stream error = %v", err)
	}
	jpeg := readPart(t, bufio.NewReader(resp.Body))
	resp.Body.Close()
	if len(jpeg) < 2 || jpeg[0] != 0xFF || jpeg[1] != 0xD8 {
		t.Errorf("stream part is not a JPEG")
	}

	// 5. Resize the viewport
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/tryon/viewport", bytes.NewBufferString(`{"width": 32, "height": 24}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = client.Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("PUT viewport status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	resp.Body.Close()

	// 6. Status reports rendered frames
	waitUntil(t, "frames rendered", func() bool { return ctrl.Status().Frames > 0 })
	resp, _ = client.Get(ts.URL + "/api/tryon")
	var st session.Status
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if st.State != "active" || st.SessionID != opened.SessionID {
		t.Errorf("GET status = %+v", st)
	}

	// 7. Close
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/tryon", nil)
	resp, _ = client.Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	resp.Body.Close()

	ev = readEvent(t, conn)
	if ev.Kind != session.EventClosed || ev.SessionID != opened.SessionID {
		t.Errorf("second event = %+v, want closed", ev)
	}

	if ctrl.State() != session.Idle {
		t.Errorf("state after close = %v, want idle", ctrl.State())
	}
	if n := platform.LiveTracks(); n != 0 {
		t.Errorf("live tracks after close = %d, want 0", n)
	}

	// 8. Model changes need a session
	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/api/tryon/model", bytes.NewBufferString(`{"model_url": "/models/r-2.glb"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = client.Do(req)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("PUT model after close status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	resp.Body.Close()
}

func TestAPI_CameraUnavailable(t *testing.T) {
	surface := render.NewStreamSurface()
	defer surface.Close()
	ctrl, platform := newTryOnController(t, surface)
	platform.SetResponder(func(c capture.Constraints) (*capture.MockStream, error) {
		return nil, capture.ErrCameraUnavailable
	})

	ts := httptest.NewServer(New(Config{Controller: ctrl}))
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/api/tryon", "application/json", bytes.NewBufferString(`{"category": "watches"}`))
	if err != nil {
		t.Fatalf("POST /api/tryon error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Error != "camera not accessible" {
		t.Errorf("error = %q, want camera not accessible", body.Error)
	}
	if ctrl.State() != session.Idle {
		t.Errorf("state = %v, want idle", ctrl.State())
	}
}

func TestAPI_HealthCheck(t *testing.T) {
	srv := New(Config{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var health struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	json.NewDecoder(resp.Body).Decode(&health)

	if health.Status != "ok" {
		t.Errorf("status = %s, want ok", health.Status)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) session.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev session.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
