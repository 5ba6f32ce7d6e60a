package render

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// ErrSurfaceClosed is returned by Restore on a closed surface.
var ErrSurfaceClosed = errors.New("surface closed")

// StreamSurface encodes presented frames to JPEG and hands the latest one
// to every subscriber. Slow subscribers only ever see the newest frame.
type StreamSurface struct {
	mu     sync.Mutex
	latest []byte
	subs   map[chan []byte]struct{}
	closed bool
}

// NewStreamSurface creates an empty stream surface.
func NewStreamSurface() *StreamSurface {
	return &StreamSurface{subs: make(map[chan []byte]struct{})}
}

func (s *StreamSurface) Present(frame *gocv.Mat) error {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	buf.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSurfaceLost
	}
	s.latest = data
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- data
	}
	return nil
}

func (s *StreamSurface) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSurfaceClosed
	}
	return nil
}

// Latest returns the most recent JPEG, or nil.
func (s *StreamSurface) Latest() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Subscribe returns a channel receiving each new JPEG. The channel is
// closed by Unsubscribe or Close.
func (s *StreamSurface) Subscribe() <-chan []byte {
	ch := make(chan []byte, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch
	}
	if s.latest != nil {
		ch <- s.latest
	}
	s.subs[ch] = struct{}{}
	return ch
}

func (s *StreamSurface) Unsubscribe(sub <-chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		if ch == sub {
			delete(s.subs, ch)
			close(ch)
			return
		}
	}
}

// Subscribers returns the number of active subscribers.
func (s *StreamSurface) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *StreamSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.latest = nil
	return nil
}

// WindowSurface shows frames in a native window. Closing the window by
// hand makes the surface lost until Restore reopens it.
type WindowSurface struct {
	name string

	mu     sync.Mutex
	window *gocv.Window
	closed bool
}

func NewWindowSurface(name string) *WindowSurface {
	return &WindowSurface{name: name, window: gocv.NewWindow(name)}
}

func (w *WindowSurface) Present(frame *gocv.Mat) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.window == nil || !w.window.IsOpen() {
		return ErrSurfaceLost
	}
	w.window.IMShow(*frame)
	w.window.WaitKey(1)
	return nil
}

func (w *WindowSurface) Restore() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrSurfaceClosed
	}
	if w.window != nil {
		w.window.Close()
	}
	w.window = gocv.NewWindow(w.name)
	return nil
}

func (w *WindowSurface) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.window != nil {
		w.window.Close()
		w.window = nil
	}
	return nil
}

// Tee presents every frame to each surface in order. The first surface
// that reports loss makes the whole tee lost.
type Tee []Surface

func (t Tee) Present(frame *gocv.Mat) error {
	var errs []error
	for _, s := range t {
		if err := s.Present(frame); err != nil {
			if errors.Is(err, ErrSurfaceLost) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t Tee) Restore() error {
	for _, s := range t {
		if err := s.Restore(); err != nil {
			return err
		}
	}
	return nil
}
