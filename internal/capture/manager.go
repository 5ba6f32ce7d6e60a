package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ayusman/tryon/internal/metrics"
)

var errNoLabelledDevice = errors.New("no device labelled as rear-facing")

// Strategy is one way of obtaining a stream. Strategies are tried in order
// and the first success wins.
type Strategy struct {
	Name    string
	Acquire func(ctx context.Context) (Stream, error)
}

// ManagerConfig configures stream requests.
type ManagerConfig struct {
	Width  int
	Height int
	// PinDevice re-acquires an environment-hint stream with the resolved
	// device id locked.
	PinDevice bool
}

// Manager owns at most one active stream.
type Manager struct {
	platform Platform
	config   ManagerConfig
	logger   *slog.Logger

	mu         sync.Mutex
	stream     Stream
	facing     Facing
	devices    []DeviceDescriptor
	enumerated bool
}

// NewManager creates a stream manager over platform.
func NewManager(platform Platform, config ManagerConfig, logger *slog.Logger) *Manager {
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	if config.Height <= 0 {
		config.Height = DefaultHeight
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		platform: platform,
		config:   config,
		logger:   logger,
	}
}

// Acquire releases any held stream and runs the strategies for preferred
// until one succeeds. If ctx is cancelled while a strategy is running, a
// stream it produced is released and the context error returned.
func (m *Manager) Acquire(ctx context.Context, preferred Facing) (Stream, error) {
	if err := m.Release(); err != nil {
		m.logger.Warn("release before acquire failed", "error", err)
	}

	var errs []error
	for _, st := range m.Strategies(preferred) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stream, err := st.Acquire(ctx)
		if err != nil {
			metrics.CameraAcquisitionsTotal.WithLabelValues(st.Name, "failure").Inc()
			m.logger.Debug("camera strategy failed", "strategy", st.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", st.Name, err))
			continue
		}

		if err := ctx.Err(); err != nil {
			StopTracks(stream)
			return nil, err
		}

		metrics.CameraAcquisitionsTotal.WithLabelValues(st.Name, "success").Inc()
		m.hold(stream)
		m.logger.Info("camera acquired",
			"strategy", st.Name,
			"device", stream.DeviceID(),
			"facing", stream.Facing().String(),
			"tracks", len(stream.Tracks()),
		)
		return stream, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrCameraUnavailable, errors.Join(errs...))
}

// Strategies returns the ordered strategy list for preferred. A user-facing
// preference tries the user hint first; anything else starts from the
// labelled rear device.
func (m *Manager) Strategies(preferred Facing) []Strategy {
	label := Strategy{Name: "device-label", Acquire: m.byDeviceLabel}
	env := Strategy{Name: "environment-hint", Acquire: m.byEnvironmentHint}
	user := Strategy{Name: "user-hint", Acquire: m.byUserHint}

	if preferred == FacingUser {
		return []Strategy{user, label, env}
	}
	return []Strategy{label, env, user}
}

// Release stops every track of the held stream. It is safe to call when
// nothing is held.
func (m *Manager) Release() error {
	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.facing = FacingUnknown
	m.mu.Unlock()

	if stream == nil {
		return nil
	}
	StopTracks(stream)
	metrics.CameraLiveTracks.Set(0)
	m.logger.Info("camera released", "device", stream.DeviceID())
	return nil
}

// Stream returns the held stream, or nil.
func (m *Manager) Stream() Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Facing returns the facing of the held stream.
func (m *Manager) Facing() Facing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.facing
}

// Devices enumerates devices once and caches the result for the lifetime
// of the manager.
func (m *Manager) Devices(ctx context.Context) ([]DeviceDescriptor, error) {
	m.mu.Lock()
	if m.enumerated {
		devices := m.devices
		m.mu.Unlock()
		return devices, nil
	}
	m.mu.Unlock()

	devices, err := m.platform.EnumerateDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	m.mu.Lock()
	m.devices = devices
	m.enumerated = true
	m.mu.Unlock()
	return devices, nil
}

func (m *Manager) hold(s Stream) {
	m.mu.Lock()
	m.stream = s
	m.facing = s.Facing()
	m.mu.Unlock()
	metrics.CameraLiveTracks.Set(float64(LiveTracks(s)))
}

func (m *Manager) byDeviceLabel(ctx context.Context) (Stream, error) {
	devices, err := m.Devices(ctx)
	if err != nil {
		return nil, err
	}

	for _, d := range devices {
		if d.Kind != KindVideoInput || !IsRearLabel(d.Label) {
			continue
		}
		return m.platform.RequestStream(ctx, Constraints{
			DeviceID: d.ID,
			Exact:    true,
			Width:    m.config.Width,
			Height:   m.config.Height,
		})
	}
	return nil, errNoLabelledDevice
}

func (m *Manager) byEnvironmentHint(ctx context.Context) (Stream, error) {
	stream, err := m.platform.RequestStream(ctx, Constraints{
		Facing: FacingEnvironment,
		Width:  m.config.Width,
		Height: m.config.Height,
	})
	if err != nil {
		return nil, err
	}
	if !m.config.PinDevice || stream.DeviceID() == "" {
		return stream, nil
	}

	resolved := stream.DeviceID()
	StopTracks(stream)

	pinned, err := m.platform.RequestStream(ctx, Constraints{
		DeviceID: resolved,
		Exact:    true,
		Width:    m.config.Width,
		Height:   m.config.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("pin device %s: %w", resolved, err)
	}
	return pinned, nil
}

func (m *Manager) byUserHint(ctx context.Context) (Stream, error) {
	return m.platform.RequestStream(ctx, Constraints{
		Facing: FacingUser,
		Width:  m.config.Width,
		Height: m.config.Height,
	})
}
