// Package capture acquires and releases the camera stream that feeds the
// try-on overlay.
package capture

import (
	"context"
	"errors"
	"strings"

	"gocv.io/x/gocv"
)

// Default capture resolution requested by every strategy.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// KindVideoInput is the only device kind the manager considers.
const KindVideoInput = "video-input"

var (
	// ErrCameraUnavailable is returned when no acquisition strategy succeeds.
	ErrCameraUnavailable = errors.New("camera not accessible")
	// ErrStreamStopped is returned when reading from a stream whose tracks
	// have been stopped.
	ErrStreamStopped = errors.New("stream is stopped")
)

// Facing is the direction a camera points relative to the operator.
type Facing int

const (
	FacingUnknown Facing = iota
	FacingEnvironment
	FacingUser
)

func (f Facing) String() string {
	switch f {
	case FacingEnvironment:
		return "environment"
	case FacingUser:
		return "user"
	default:
		return "unknown"
	}
}

// ParseFacing accepts "environment", "user" or an empty string.
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "environment", "rear", "back":
		return FacingEnvironment, nil
	case "user", "front":
		return FacingUser, nil
	case "":
		return FacingUnknown, nil
	default:
		return FacingUnknown, errors.New("unknown facing " + s)
	}
}

var rearKeywords = []string{"back", "rear", "environment"}

// IsRearLabel reports whether a device label names a rear-facing camera.
func IsRearLabel(label string) bool {
	l := strings.ToLower(label)
	for _, kw := range rearKeywords {
		if strings.Contains(l, kw) {
			return true
		}
	}
	return false
}

// Mirror reports whether the presented feed should be flipped
// horizontally: only for a user-facing camera on a non-mobile device. A
// desktop camera whose label names no facing is treated as user-facing.
func Mirror(facing Facing, mobile bool) bool {
	if mobile {
		return false
	}
	return facing == FacingUser || facing == FacingUnknown
}

// DeviceDescriptor is a read-only snapshot of an enumerated device.
type DeviceDescriptor struct {
	ID    string
	Label string
	Kind  string
}

// Constraints describe a stream request.
type Constraints struct {
	// DeviceID selects a device. With Exact set the request fails rather
	// than falling back to another device.
	DeviceID string
	Exact    bool
	// Facing is a preference used when no device id is given.
	Facing Facing
	Width  int
	Height int
}

// Track is one media track of a stream.
type Track interface {
	Label() string
	Live() bool
	Stop()
}

// Stream is an active capture.
type Stream interface {
	Tracks() []Track
	DeviceID() string
	Facing() Facing
	// ReadFrame returns the next frame. The caller owns the returned Mat.
	ReadFrame() (*gocv.Mat, error)
}

// Platform is the media device boundary.
type Platform interface {
	EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error)
	RequestStream(ctx context.Context, c Constraints) (Stream, error)
}

// StopTracks stops every track of s. It is safe to call with a nil stream.
func StopTracks(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// LiveTracks counts the tracks of s that have not been stopped.
func LiveTracks(s Stream) int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.Tracks() {
		if t.Live() {
			n++
		}
	}
	return n
}
