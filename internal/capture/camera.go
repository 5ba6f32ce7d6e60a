package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// DefaultSysfsRoot is where Linux exposes V4L2 device names.
const DefaultSysfsRoot = "/sys/class/video4linux"

// ErrNoDevice is returned when a request cannot be matched to a device.
var ErrNoDevice = errors.New("no matching video device")

// GoCVPlatform opens cameras with OpenCV. Device labels come from the
// V4L2 sysfs tree; on systems without it device 0 is assumed.
type GoCVPlatform struct {
	// SysfsRoot overrides DefaultSysfsRoot.
	SysfsRoot string
}

// NewGoCVPlatform creates a platform reading labels from DefaultSysfsRoot.
func NewGoCVPlatform() *GoCVPlatform {
	return &GoCVPlatform{SysfsRoot: DefaultSysfsRoot}
}

// EnumerateDevices lists video devices found under the sysfs root.
func (p *GoCVPlatform) EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := p.SysfsRoot
	if root == "" {
		root = DefaultSysfsRoot
	}

	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return []DeviceDescriptor{{ID: "0", Label: "Camera 0", Kind: KindVideoInput}}, nil
	}
	if err != nil {
		return nil, err
	}

	var devices []DeviceDescriptor
	for _, e := range entries {
		idx, ok := strings.CutPrefix(e.Name(), "video")
		if !ok {
			continue
		}
		if _, err := strconv.Atoi(idx); err != nil {
			continue
		}

		label := e.Name()
		if name, err := os.ReadFile(filepath.Join(root, e.Name(), "name")); err == nil {
			label = strings.TrimSpace(string(name))
		}
		devices = append(devices, DeviceDescriptor{ID: idx, Label: label, Kind: KindVideoInput})
	}

	sort.Slice(devices, func(i, j int) bool {
		a, _ := strconv.Atoi(devices[i].ID)
		b, _ := strconv.Atoi(devices[j].ID)
		return a < b
	})
	return devices, nil
}

// RequestStream opens a camera. With a device id the device is opened
// directly; otherwise the facing preference picks a device by label and
// falls back to the first device unless the request is exact. The stream
// reports the facing its label shows, never the requested preference.
func (p *GoCVPlatform) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	devices, err := p.EnumerateDevices(ctx)
	if err != nil {
		return nil, err
	}

	device, facing, ok := pickDevice(devices, c)
	if !ok {
		return nil, ErrNoDevice
	}

	id, err := strconv.Atoi(device.ID)
	if err != nil {
		return nil, fmt.Errorf("device id %q: %w", device.ID, err)
	}

	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open device %d: %w", id, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open device %d: %w", id, ErrNoDevice)
	}

	width, height := c.Width, c.Height
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(height))

	if err := ctx.Err(); err != nil {
		vc.Close()
		return nil, err
	}

	return newCameraStream(device.ID, device.Label, facing, vc), nil
}

// pickDevice selects a device for c and resolves its facing from the label.
func pickDevice(devices []DeviceDescriptor, c Constraints) (DeviceDescriptor, Facing, bool) {
	if c.DeviceID != "" {
		for _, d := range devices {
			if d.ID == c.DeviceID {
				return d, facingFromLabel(d.Label), true
			}
		}
		if c.Exact {
			return DeviceDescriptor{}, FacingUnknown, false
		}
	}

	for _, d := range devices {
		if c.Facing != FacingUnknown && facingFromLabel(d.Label) == c.Facing {
			return d, c.Facing, true
		}
	}
	if c.Exact || len(devices) == 0 {
		return DeviceDescriptor{}, FacingUnknown, false
	}
	return devices[0], facingFromLabel(devices[0].Label), true
}

func facingFromLabel(label string) Facing {
	if IsRearLabel(label) {
		return FacingEnvironment
	}
	l := strings.ToLower(label)
	if strings.Contains(l, "front") || strings.Contains(l, "user") || strings.Contains(l, "facetime") {
		return FacingUser
	}
	return FacingUnknown
}

// cameraStream is a single-track stream over an OpenCV capture.
type cameraStream struct {
	deviceID string
	facing   Facing
	track    *cameraTrack

	mu      sync.Mutex
	capture *gocv.VideoCapture
}

func newCameraStream(deviceID, label string, facing Facing, vc *gocv.VideoCapture) *cameraStream {
	s := &cameraStream{deviceID: deviceID, facing: facing, capture: vc}
	s.track = &cameraTrack{label: label, live: true, onStop: s.closeCapture}
	return s
}

func (s *cameraStream) Tracks() []Track  { return []Track{s.track} }
func (s *cameraStream) DeviceID() string { return s.deviceID }
func (s *cameraStream) Facing() Facing   { return s.facing }

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Mat.
func (s *cameraStream) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil, ErrStreamStopped
	}

	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	return &mat, nil
}

// closeCapture waits for an in-flight read and releases the device.
func (s *cameraStream) closeCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		s.capture.Close()
		s.capture = nil
	}
}

type cameraTrack struct {
	label  string
	onStop func()

	mu   sync.Mutex
	live bool
}

func (t *cameraTrack) Label() string { return t.label }

func (t *cameraTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Stop releases the device once. Later calls are no-ops.
func (t *cameraTrack) Stop() {
	t.mu.Lock()
	wasLive := t.live
	t.live = false
	t.mu.Unlock()

	if wasLive && t.onStop != nil {
		t.onStop()
	}
}
