package capture

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockPlatform scripts device enumeration and stream requests for tests.
// Requests are answered by the Responder; streams it returns play back
// the configured frames.
type MockPlatform struct {
	mu        sync.Mutex
	devices   []DeviceDescriptor
	enumErr   error
	responder func(c Constraints) (*MockStream, error)
	requests  []Constraints
	streams   []*MockStream
	enums     int
}

// NewMockPlatform creates a platform that grants every request with an
// empty single-track stream.
func NewMockPlatform(devices ...DeviceDescriptor) *MockPlatform {
	return &MockPlatform{
		devices: devices,
		responder: func(c Constraints) (*MockStream, error) {
			return NewMockStream("mock", c.Facing, nil, true), nil
		},
	}
}

// SetResponder replaces the function answering RequestStream.
func (p *MockPlatform) SetResponder(fn func(c Constraints) (*MockStream, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = fn
}

// SetEnumerateError makes EnumerateDevices fail.
func (p *MockPlatform) SetEnumerateError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enumErr = err
}

func (p *MockPlatform) EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enums++
	if p.enumErr != nil {
		return nil, p.enumErr
	}
	return append([]DeviceDescriptor(nil), p.devices...), nil
}

func (p *MockPlatform) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, c)
	responder := p.responder
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, err := responder(c)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

// Requests returns every constraint set passed to RequestStream.
func (p *MockPlatform) Requests() []Constraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Constraints(nil), p.requests...)
}

// Streams returns every stream granted so far.
func (p *MockPlatform) Streams() []*MockStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*MockStream(nil), p.streams...)
}

// Enumerations returns how many times EnumerateDevices was called.
func (p *MockPlatform) Enumerations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enums
}

// LiveTracks counts live tracks across every granted stream.
func (p *MockPlatform) LiveTracks() int {
	n := 0
	for _, s := range p.Streams() {
		n += LiveTracks(s)
	}
	return n
}

// MockStream plays back pre-recorded frames.
type MockStream struct {
	deviceID string
	facing   Facing
	track    *mockTrack

	mu     sync.Mutex
	frames []*gocv.Mat
	index  int
	loop   bool
}

// NewMockStream creates a single-track stream over frames.
func NewMockStream(deviceID string, facing Facing, frames []*gocv.Mat, loop bool) *MockStream {
	return &MockStream{
		deviceID: deviceID,
		facing:   facing,
		track:    &mockTrack{label: "mock " + deviceID, live: true},
		frames:   frames,
		loop:     loop,
	}
}

func (s *MockStream) Tracks() []Track  { return []Track{s.track} }
func (s *MockStream) DeviceID() string { return s.deviceID }
func (s *MockStream) Facing() Facing   { return s.facing }

func (s *MockStream) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.track.Live() {
		return nil, ErrStreamStopped
	}

	if len(s.frames) == 0 {
		return nil, fmt.Errorf("no frames available")
	}

	if s.index >= len(s.frames) {
		if s.loop {
			s.index = 0
		} else {
			return nil, fmt.Errorf("no more frames")
		}
	}

	// Clone the frame so the original isn't modified
	frame := s.frames[s.index].Clone()
	s.index++

	return &frame, nil
}

// SetFrames replaces the frame sequence
func (s *MockStream) SetFrames(frames []*gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = frames
	s.index = 0
}

// Stopped reports whether the stream's track was stopped.
func (s *MockStream) Stopped() bool {
	return !s.track.Live()
}

// StopCalls returns how many times the track's Stop was called.
func (s *MockStream) StopCalls() int {
	s.track.mu.Lock()
	defer s.track.mu.Unlock()
	return s.track.stops
}

type mockTrack struct {
	label string

	mu    sync.Mutex
	live  bool
	stops int
}

func (t *mockTrack) Label() string { return t.label }

func (t *mockTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *mockTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = false
	t.stops++
}
