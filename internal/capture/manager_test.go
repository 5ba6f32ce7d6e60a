package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDenied = errors.New("permission denied")

func newTestManager(p Platform, pin bool) *Manager {
	return NewManager(p, ManagerConfig{Width: 1280, Height: 720, PinDevice: pin}, nil)
}

func TestManager_DeviceLabelShortCircuits(t *testing.T) {
	p := NewMockPlatform(
		DeviceDescriptor{ID: "front", Label: "Front Camera", Kind: KindVideoInput},
		DeviceDescriptor{ID: "back", Label: "Back Camera", Kind: KindVideoInput},
	)
	p.SetResponder(func(c Constraints) (*MockStream, error) {
		return NewMockStream(c.DeviceID, FacingEnvironment, nil, false), nil
	})
	m := newTestManager(p, false)

	stream, err := m.Acquire(context.Background(), FacingEnvironment)

	require.NoError(t, err)
	assert.Equal(t, "back", stream.DeviceID())
	require.Len(t, p.Requests(), 1, "later strategies must not be attempted")
	assert.Equal(t, Constraints{DeviceID: "back", Exact: true, Width: 1280, Height: 720}, p.Requests()[0])
	assert.Equal(t, FacingEnvironment, m.Facing())
}

func TestManager_FallsBackToEnvironmentHint(t *testing.T) {
	p := NewMockPlatform(DeviceDescriptor{ID: "0", Label: "Integrated Camera", Kind: KindVideoInput})
	m := newTestManager(p, false)

	stream, err := m.Acquire(context.Background(), FacingEnvironment)

	require.NoError(t, err)
	require.Len(t, p.Requests(), 1, "no labelled device means no exact request")
	assert.Equal(t, FacingEnvironment, p.Requests()[0].Facing)
	assert.Same(t, stream, m.Stream())
}

func TestManager_ExactFailureFallsThrough(t *testing.T) {
	p := NewMockPlatform(DeviceDescriptor{ID: "back", Label: "Back Camera", Kind: KindVideoInput})
	p.SetResponder(func(c Constraints) (*MockStream, error) {
		if c.Exact {
			return nil, errDenied
		}
		return NewMockStream("other", c.Facing, nil, false), nil
	})
	m := newTestManager(p, false)

	stream, err := m.Acquire(context.Background(), FacingEnvironment)

	require.NoError(t, err)
	assert.Equal(t, "other", stream.DeviceID())
	require.Len(t, p.Requests(), 2)
	assert.Equal(t, FacingEnvironment, p.Requests()[1].Facing)
}

func TestManager_UserHintIsLastResort(t *testing.T) {
	p := NewMockPlatform()
	p.SetResponder(func(c Constraints) (*MockStream, error) {
		if c.Facing != FacingUser {
			return nil, errDenied
		}
		return NewMockStream("selfie", FacingUser, nil, false), nil
	})
	m := newTestManager(p, false)

	stream, err := m.Acquire(context.Background(), FacingEnvironment)

	require.NoError(t, err)
	assert.Equal(t, FacingUser, stream.Facing())
	assert.Equal(t, FacingUser, m.Facing())
	assert.Len(t, p.Requests(), 2)
}

func TestManager_AllStrategiesFail(t *testing.T) {
	p := NewMockPlatform(DeviceDescriptor{ID: "back", Label: "Rear", Kind: KindVideoInput})
	p.SetResponder(func(c Constraints) (*MockStream, error) {
		return nil, errDenied
	})
	m := newTestManager(p, false)

	stream, err := m.Acquire(context.Background(), FacingEnvironment)

	assert.Nil(t, stream)
	require.ErrorIs(t, err, ErrCameraUnavailable)
	assert.ErrorIs(t, err, errDenied)
	assert.Contains(t, err.Error(), "device-label")
	assert.Contains(t, err.Error(), "user-hint")
	assert.Len(t, p.Requests(), 3)
	assert.Nil(t, m.Stream())
}

func TestManager_UserPreferenceOrder(t *testing.T) {
	m := newTestManager(NewMockPlatform(), false)

	var names []string
	for _, st := range m.Strategies(FacingUser) {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"user-hint", "device-label", "environment-hint"}, names)

	names = nil
	for _, st := range m.Strategies(FacingEnvironment) {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"device-label", "environment-hint", "user-hint"}, names)
}

func TestManager_PinDevice(t *testing.T) {
	p := NewMockPlatform()
	p.SetResponder(func(c Constraints) (*MockStream, error) {
		if c.DeviceID == "" {
			return NewMockStream("resolved", FacingEnvironment, nil, false), nil
		}
		return NewMockStream(c.DeviceID, FacingEnvironment, nil, false), nil
	})
	m := newTestManager(p, true)

	stream, err := m.Acquire(context.Background(), FacingEnvironment)

	require.NoError(t, err)
	require.Len(t, p.Requests(), 2)
	assert.Equal(t, Constraints{DeviceID: "resolved", Exact: true, Width: 1280, Height: 720}, p.Requests()[1])

	streams := p.Streams()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].Stopped(), "unpinned stream must be stopped")
	assert.False(t, streams[1].Stopped())
	assert.Same(t, streams[1], stream)
	assert.Equal(t, 1, p.LiveTracks())
}

func TestManager_AcquireReleasesPreviousStream(t *testing.T) {
	p := NewMockPlatform()
	m := newTestManager(p, false)

	_, err := m.Acquire(context.Background(), FacingUser)
	require.NoError(t, err)
	_, err = m.Acquire(context.Background(), FacingUser)
	require.NoError(t, err)

	streams := p.Streams()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].Stopped())
	assert.Equal(t, 1, p.LiveTracks(), "at most one active stream")
	assert.Equal(t, 1, p.Enumerations(), "devices are enumerated once")
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	p := NewMockPlatform()
	m := newTestManager(p, false)

	require.NoError(t, m.Release(), "release with nothing held")

	_, err := m.Acquire(context.Background(), FacingUser)
	require.NoError(t, err)

	require.NoError(t, m.Release())
	require.NoError(t, m.Release())

	assert.Equal(t, 0, p.LiveTracks())
	assert.Equal(t, 1, p.Streams()[0].StopCalls(), "second release must not touch the stream")
	assert.Nil(t, m.Stream())
	assert.Equal(t, FacingUnknown, m.Facing())
}

func TestManager_CancelledDuringAcquire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewMockPlatform()
	p.SetResponder(func(c Constraints) (*MockStream, error) {
		cancel()
		return NewMockStream("late", c.Facing, nil, false), nil
	})
	m := newTestManager(p, false)

	stream, err := m.Acquire(ctx, FacingUser)

	assert.Nil(t, stream)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.LiveTracks(), "late stream must be released")
	assert.Nil(t, m.Stream())
}

func TestManager_EnumerationErrorFallsThrough(t *testing.T) {
	p := NewMockPlatform()
	p.SetEnumerateError(errDenied)
	m := newTestManager(p, false)

	_, err := m.Acquire(context.Background(), FacingEnvironment)

	require.NoError(t, err)
	require.Len(t, p.Requests(), 1)
	assert.Equal(t, FacingEnvironment, p.Requests()[0].Facing)
}
