// Package session runs one try-on at a time: camera, hand tracking,
// model loading and rendering, torn down together.
package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionClosed is returned when a session is closed while it is
	// starting, or when a closed session is addressed.
	ErrSessionClosed = errors.New("session closed")
	// ErrAlreadyOpen is returned by Open when a session is starting or
	// active.
	ErrAlreadyOpen = errors.New("a try-on session is already open")
	// ErrNotActive is returned by operations that need an active session.
	ErrNotActive = errors.New("no active try-on session")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid try-on request")
)

// State is the controller lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Active
	Closing
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Closing:
		return "closing"
	default:
		return "idle"
	}
}

// Request opens a try-on for one product.
type Request struct {
	ProductID string `json:"product_id"`
	// Category is "rings" or "watches".
	Category string `json:"category"`
	// ModelURL may be empty, in which case the configured default for the
	// category is used, or the placeholder if there is none.
	ModelURL string `json:"model_url,omitempty"`
}

// EventKind names a lifecycle event.
type EventKind string

const (
	EventOpened     EventKind = "opened"
	EventFailed     EventKind = "failed"
	EventClosed     EventKind = "closed"
	EventModelReady EventKind = "model_ready"
)

// Event is published to subscribers on every lifecycle change.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	ProductID string    `json:"product_id,omitempty"`
	Category  string    `json:"category,omitempty"`
	ModelURL  string    `json:"model_url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Status is a snapshot of the controller.
type Status struct {
	State      string    `json:"state"`
	SessionID  string    `json:"session_id,omitempty"`
	ProductID  string    `json:"product_id,omitempty"`
	Category   string    `json:"category,omitempty"`
	ModelURL   string    `json:"model_url,omitempty"`
	ModelReady bool      `json:"model_ready"`
	Facing     string    `json:"facing,omitempty"`
	Mirrored   bool      `json:"mirrored"`
	Frames     uint64    `json:"frames"`
	StartedAt  time.Time `json:"started_at,omitzero"`
}
