// Package render composites the tracked model over the live video and
// presents the result on a surface.
package render

import (
	"errors"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/ayusman/tryon/internal/scene"
)

var (
	// ErrContextLost is returned by Draw while the context is lost.
	ErrContextLost = errors.New("render context lost")
	// ErrSurfaceLost is returned by a surface that can no longer present.
	ErrSurfaceLost = errors.New("render surface lost")
	// ErrDisposed is returned by Draw after Dispose.
	ErrDisposed = errors.New("render context disposed")
)

// EventKind distinguishes context events.
type EventKind int

const (
	ContextLost EventKind = iota
	ContextRestored
)

func (k EventKind) String() string {
	if k == ContextLost {
		return "lost"
	}
	return "restored"
}

// ContextEvent reports an asynchronous change of context state.
type ContextEvent struct {
	Kind      EventKind
	prevented *atomic.Bool
}

// NewContextEvent creates an event whose PreventDefault can be observed
// through the returned flag.
func NewContextEvent(kind EventKind) (ContextEvent, *atomic.Bool) {
	flag := new(atomic.Bool)
	return ContextEvent{Kind: kind, prevented: flag}, flag
}

// PreventDefault asks the context to attempt restoration after a loss
// instead of staying lost.
func (e ContextEvent) PreventDefault() {
	if e.prevented != nil {
		e.prevented.Store(true)
	}
}

// DefaultPrevented reports whether PreventDefault was called.
func (e ContextEvent) DefaultPrevented() bool {
	return e.prevented != nil && e.prevented.Load()
}

// Context renders a scene over a background frame.
type Context interface {
	// Draw composites sc, seen through cam, over background and presents
	// the result.
	Draw(background *gocv.Mat, sc *scene.Scene, cam *scene.Camera) error
	Resize(width, height int)
	Size() (width, height int)
	// Events delivers loss and restore notifications.
	Events() <-chan ContextEvent
	// Dispose releases every buffer. Calls after the first are no-ops.
	Dispose() error
}

// Surface is where composited frames end up.
type Surface interface {
	// Present shows frame. It returns ErrSurfaceLost when the surface
	// can no longer be drawn to.
	Present(frame *gocv.Mat) error
	// Restore tries to make a lost surface usable again.
	Restore() error
}
