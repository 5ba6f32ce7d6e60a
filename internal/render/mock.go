package render

import (
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/ayusman/tryon/internal/scene"
)

// MockContext is a Context for tests. It records draws and lets the test
// drive loss and restoration.
type MockContext struct {
	mu          sync.Mutex
	events      chan ContextEvent
	width       int
	height      int
	draws       int
	lost        bool
	allocated   bool
	allocations int
	disposes    int
	drawErr     error
	lastScene   *scene.Scene
	lastCamera  scene.Camera
	prevented   []*atomic.Bool
}

// NewMockContext creates a MockContext.
func NewMockContext() *MockContext {
	return &MockContext{events: make(chan ContextEvent, 8)}
}

func (m *MockContext) Draw(background *gocv.Mat, sc *scene.Scene, cam *scene.Camera) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposes > 0 {
		return ErrDisposed
	}
	if m.lost {
		return ErrContextLost
	}
	if m.drawErr != nil {
		return m.drawErr
	}
	if !m.allocated {
		m.allocated = true
		m.allocations++
	}
	m.draws++
	m.lastScene = sc
	m.lastCamera = *cam
	return nil
}

func (m *MockContext) Resize(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.width, m.height = width, height
}

func (m *MockContext) Size() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.width, m.height
}

func (m *MockContext) Events() <-chan ContextEvent {
	return m.events
}

func (m *MockContext) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposes++
	m.allocated = false
	return nil
}

// Lose marks the context lost, drops its buffers and emits a loss event.
func (m *MockContext) Lose() {
	m.mu.Lock()
	m.lost = true
	m.allocated = false
	ev, flag := NewContextEvent(ContextLost)
	m.prevented = append(m.prevented, flag)
	m.mu.Unlock()
	m.events <- ev
}

// Restore clears the loss and emits a restore event.
func (m *MockContext) Restore() {
	m.mu.Lock()
	m.lost = false
	m.mu.Unlock()
	ev, _ := NewContextEvent(ContextRestored)
	m.events <- ev
}

// Prevented reports whether every loss event so far had its default
// prevented.
func (m *MockContext) Prevented() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prevented) == 0 {
		return false
	}
	for _, f := range m.prevented {
		if !f.Load() {
			return false
		}
	}
	return true
}

// SetDrawError makes subsequent draws fail with err.
func (m *MockContext) SetDrawError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawErr = err
}

func (m *MockContext) Draws() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draws
}

func (m *MockContext) Allocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocations
}

func (m *MockContext) Disposes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposes
}

// LastScene returns the scene passed to the most recent draw.
func (m *MockContext) LastScene() *scene.Scene {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastScene
}

// LastCamera returns the camera passed to the most recent draw.
func (m *MockContext) LastCamera() scene.Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCamera
}

// MockSurface records presented frames. A lost MockSurface fails Present
// with ErrSurfaceLost, and Restore fails until SetRestorable(true).
type MockSurface struct {
	mu         sync.Mutex
	presents   int
	restores   int
	lost       bool
	restorable bool
	last       gocv.Mat
	hasLast    bool
}

func NewMockSurface() *MockSurface {
	return &MockSurface{restorable: true}
}

func (s *MockSurface) Present(frame *gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lost {
		return ErrSurfaceLost
	}
	s.presents++
	if s.hasLast {
		s.last.Close()
	}
	s.last = frame.Clone()
	s.hasLast = true
	return nil
}

func (s *MockSurface) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restores++
	if !s.restorable {
		return ErrSurfaceLost
	}
	s.lost = false
	return nil
}

// SetLost makes the next Present report loss.
func (s *MockSurface) SetLost(lost bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lost = lost
}

func (s *MockSurface) SetRestorable(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restorable = ok
}

func (s *MockSurface) Presents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}

func (s *MockSurface) Restores() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restores
}

// Last returns a clone of the last presented frame. The caller closes it.
func (s *MockSurface) Last() (gocv.Mat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLast {
		return gocv.NewMat(), false
	}
	return s.last.Clone(), true
}

// Close frees the retained frame.
func (s *MockSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasLast {
		s.last.Close()
		s.hasLast = false
	}
	return nil
}
