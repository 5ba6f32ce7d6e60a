package render

import (
	"errors"
	"fmt"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/ayusman/tryon/internal/asset"
	"github.com/ayusman/tryon/internal/metrics"
	"github.com/ayusman/tryon/internal/pose"
	"github.com/ayusman/tryon/internal/scene"
)

// LoopOptions configures a Loop.
type LoopOptions struct {
	Width  int
	Height int
	Logger *slog.Logger
}

// Loop owns one render context and the scene drawn through it. It is not
// safe for concurrent use: the session drives every call from its own
// goroutine.
type Loop struct {
	ctx     Context
	profile Profile
	logger  *slog.Logger

	scene   *scene.Scene
	camera  scene.Camera
	anchor  *scene.Node
	content *scene.Node
	model   *asset.Model

	lost     bool
	stopped  bool
	disposed bool
	frames   uint64
}

// NewLoop builds the scene for target: lights, camera and an anchor node
// that receives the pose transform, with a content node below it holding
// the model.
func NewLoop(ctx Context, target pose.Target, opts LoopOptions) *Loop {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	profile := ProfileFor(target)
	sc := scene.New()
	sc.Lights = append(sc.Lights, profile.Lights...)

	anchor := scene.NewNode("anchor")
	content := scene.NewNode("content")
	anchor.Add(content)
	sc.Root.Add(anchor)

	l := &Loop{
		ctx:     ctx,
		profile: profile,
		logger:  opts.Logger,
		scene:   sc,
		camera:  profile.Camera,
		anchor:  anchor,
		content: content,
	}
	if opts.Width > 0 && opts.Height > 0 {
		l.Resize(opts.Width, opts.Height)
	}
	return l
}

// SetModel replaces the displayed model. m must be the caller's own clone;
// the loop applies the profile tweaks to it in place.
func (l *Loop) SetModel(m *asset.Model) {
	if m == nil || m.Root == nil {
		return
	}

	if m.Ready() {
		l.content.SetScalar(l.profile.ModelScale)
		l.content.Rotation[0] = l.profile.Tilt
		if l.profile.ForceOpaque {
			m.Root.WalkMeshes(func(mesh *scene.Mesh) {
				if mesh.Material != nil && mesh.Material.Transparent {
					mesh.Material.Transparent = false
					mesh.Material.Opacity = 1
					mesh.Material.NeedsUpdate = true
				}
			})
		}
	} else {
		l.content.SetScalar(1)
		l.content.Rotation[0] = 0
	}

	l.content.Children = []*scene.Node{m.Root}
	l.model = m
	l.logger.Debug("model attached", "url", m.URL, "placeholder", m.Placeholder, "meshes", m.Root.MeshCount())
}

// Model returns the displayed model.
func (l *Loop) Model() *asset.Model {
	return l.model
}

// Apply moves the anchor. Rotation is only touched when t defines one.
func (l *Loop) Apply(t pose.Transform) {
	l.anchor.Position = t.Position
	if t.HasRotation {
		l.anchor.Rotation[2] = t.Rotation
	}
}

// Anchor returns the node carrying the pose transform.
func (l *Loop) Anchor() *scene.Node {
	return l.anchor
}

// Frame renders one frame over video. Nothing is submitted while the
// context is lost, after Stop or after Dispose. A context that reports
// loss during Draw pauses the loop until the restore event arrives.
func (l *Loop) Frame(video *gocv.Mat) error {
	switch {
	case l.stopped || l.disposed:
		return nil
	case l.lost:
		metrics.FramesSkippedTotal.WithLabelValues("context_lost").Inc()
		return nil
	case video == nil || video.Empty():
		metrics.FramesSkippedTotal.WithLabelValues("no_video").Inc()
		return nil
	}

	err := l.ctx.Draw(video, l.scene, &l.camera)
	switch {
	case err == nil:
		l.frames++
		metrics.FramesRenderedTotal.Inc()
		return nil
	case errors.Is(err, ErrContextLost):
		l.lost = true
		metrics.FramesSkippedTotal.WithLabelValues("context_lost").Inc()
		return nil
	default:
		metrics.FramesSkippedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("render frame: %w", err)
	}
}

// HandleContextEvent pauses on loss and resumes on restore. Loss events
// have their default prevented so the context attempts restoration.
func (l *Loop) HandleContextEvent(ev ContextEvent) {
	metrics.ContextEventsTotal.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case ContextLost:
		ev.PreventDefault()
		l.lost = true
		l.logger.Warn("render context lost, pausing")
	case ContextRestored:
		l.lost = false
		l.logger.Info("render context restored, resuming")
	}
}

// Lost reports whether submission is paused for a lost context.
func (l *Loop) Lost() bool {
	return l.lost
}

// Frames returns how many frames were submitted successfully.
func (l *Loop) Frames() uint64 {
	return l.frames
}

// Resize updates the camera aspect and the context size without touching
// the scene.
func (l *Loop) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	l.camera.Aspect = float64(width) / float64(height)
	l.ctx.Resize(width, height)
}

// Camera returns a copy of the loop's camera.
func (l *Loop) Camera() scene.Camera {
	return l.camera
}

// Stop cancels further frames.
func (l *Loop) Stop() {
	l.stopped = true
}

// Dispose stops the loop and disposes the context once.
func (l *Loop) Dispose() error {
	if l.disposed {
		return nil
	}
	l.stopped = true
	l.disposed = true
	l.content.Children = nil
	l.model = nil
	return l.ctx.Dispose()
}
