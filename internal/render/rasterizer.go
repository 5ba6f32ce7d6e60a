package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/jonboulle/clockwork"
	"gocv.io/x/gocv"

	"github.com/ayusman/tryon/internal/metrics"
	"github.com/ayusman/tryon/internal/scene"
)

// Restore backoff defaults.
const (
	DefaultRestoreBackoff    = 100 * time.Millisecond
	DefaultMaxRestoreBackoff = 2 * time.Second
)

// RasterizerOptions configures a Rasterizer.
type RasterizerOptions struct {
	// Mirror flips the composited frame horizontally.
	Mirror            bool
	Clock             clockwork.Clock
	RestoreBackoff    time.Duration
	MaxRestoreBackoff time.Duration
	Logger            *slog.Logger
	// OnDispose runs once when the rasterizer is disposed, typically to
	// close a surface the rasterizer owns.
	OnDispose func() error
}

// Rasterizer is a software render context. It projects triangles with a
// perspective camera, shades them flat, paints them back to front over the
// video frame and presents the result on a surface.
type Rasterizer struct {
	surface Surface
	opts    RasterizerOptions
	events  chan ContextEvent

	mu          sync.Mutex
	canvas      gocv.Mat
	allocated   bool
	width       int
	height      int
	lost        bool
	disposed    bool
	allocations int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRasterizer creates a context presenting to surface.
func NewRasterizer(surface Surface, opts RasterizerOptions) *Rasterizer {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RestoreBackoff <= 0 {
		opts.RestoreBackoff = DefaultRestoreBackoff
	}
	if opts.MaxRestoreBackoff < opts.RestoreBackoff {
		opts.MaxRestoreBackoff = DefaultMaxRestoreBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Rasterizer{
		surface: surface,
		opts:    opts,
		events:  make(chan ContextEvent, 4),
		done:    make(chan struct{}),
	}
}

func (r *Rasterizer) Events() <-chan ContextEvent {
	return r.events
}

func (r *Rasterizer) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.width, r.height = width, height
}

func (r *Rasterizer) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// Allocations returns how many times the canvas buffer was allocated.
func (r *Rasterizer) Allocations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocations
}

// Lost reports whether the context is currently lost.
func (r *Rasterizer) Lost() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

func (r *Rasterizer) Draw(background *gocv.Mat, sc *scene.Scene, cam *scene.Camera) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.disposed:
		return ErrDisposed
	case r.lost:
		return ErrContextLost
	}

	width, height := r.width, r.height
	if width <= 0 || height <= 0 {
		width, height = background.Cols(), background.Rows()
	}
	r.ensureCanvas(width, height)

	if background.Cols() == width && background.Rows() == height {
		background.CopyTo(&r.canvas)
	} else {
		gocv.Resize(*background, &r.canvas, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	}

	tris := collect(sc, cam, width, height)
	paint(&r.canvas, tris)

	if r.opts.Mirror {
		gocv.Flip(r.canvas, &r.canvas, 1)
	}

	if err := r.surface.Present(&r.canvas); err != nil {
		if errors.Is(err, ErrSurfaceLost) {
			r.loseLocked()
			return ErrContextLost
		}
		return fmt.Errorf("present frame: %w", err)
	}
	return nil
}

// LoseContext simulates an external context loss.
func (r *Rasterizer) LoseContext() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lost || r.disposed {
		return
	}
	r.loseLocked()
}

// loseLocked must be called with r.mu held.
func (r *Rasterizer) loseLocked() {
	r.lost = true
	r.releaseCanvasLocked()

	ev, prevented := NewContextEvent(ContextLost)
	r.opts.Logger.Warn("render surface lost")

	r.wg.Add(1)
	go r.restore(ev, prevented)
}

// restore delivers the loss event and then retries the surface with
// exponential backoff once the consumer has prevented the default handling.
// Until then the context stays lost. Disposal ends the wait.
func (r *Rasterizer) restore(lost ContextEvent, prevented *atomic.Bool) {
	defer r.wg.Done()

	if !r.deliver(lost) {
		return
	}

	backoff := r.opts.RestoreBackoff
	unhandled := false
	for attempt := 1; ; {
		select {
		case <-r.done:
			return
		case <-r.opts.Clock.After(backoff):
		}

		if !prevented.Load() {
			if !unhandled {
				r.opts.Logger.Debug("context loss not handled yet, staying lost")
				unhandled = true
			}
			continue
		}

		if err := r.surface.Restore(); err != nil {
			r.opts.Logger.Debug("surface restore failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, r.opts.MaxRestoreBackoff)
			attempt++
			continue
		}

		r.mu.Lock()
		if r.disposed {
			r.mu.Unlock()
			return
		}
		r.lost = false
		r.mu.Unlock()

		ev, _ := NewContextEvent(ContextRestored)
		if r.deliver(ev) {
			r.opts.Logger.Info("render surface restored", "attempts", attempt)
		}
		return
	}
}

// deliver blocks until the consumer takes ev or the rasterizer is disposed.
func (r *Rasterizer) deliver(ev ContextEvent) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

// ensureCanvas must be called with r.mu held.
func (r *Rasterizer) ensureCanvas(width, height int) {
	if r.allocated && r.canvas.Cols() == width && r.canvas.Rows() == height {
		return
	}
	r.releaseCanvasLocked()
	r.canvas = gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	r.allocated = true
	r.allocations++
	metrics.ContextAllocationsTotal.Inc()
}

func (r *Rasterizer) releaseCanvasLocked() {
	if r.allocated {
		r.canvas.Close()
		r.allocated = false
	}
}

// Dispose stops restoration and frees the canvas. Calls after the first
// are no-ops.
func (r *Rasterizer) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	r.releaseCanvasLocked()
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
	if r.opts.OnDispose != nil {
		return r.opts.OnDispose()
	}
	return nil
}

type triangle struct {
	pts     [3]image.Point
	depth   float64
	color   color.RGBA
	opacity float64
}

// collect projects every visible triangle in the scene to screen space.
func collect(sc *scene.Scene, cam *scene.Camera, width, height int) []triangle {
	if sc == nil || sc.Root == nil {
		return nil
	}

	viewProj := cam.Projection().Mul4(cam.View())
	view := cam.View()
	var out []triangle

	var visit func(n *scene.Node, parent mgl64.Mat4)
	visit = func(n *scene.Node, parent mgl64.Mat4) {
		if !n.Visible {
			return
		}
		world := parent.Mul4(n.LocalMatrix())

		for _, mesh := range n.Meshes {
			out = appendMesh(out, mesh, world, view, viewProj, sc.Lights, width, height)
		}
		for _, c := range n.Children {
			visit(c, world)
		}
	}
	visit(sc.Root, mgl64.Ident4())
	return out
}

func appendMesh(out []triangle, mesh *scene.Mesh, world, view, viewProj mgl64.Mat4, lights []scene.Light, width, height int) []triangle {
	g := mesh.Geometry
	if g == nil || g.Triangles() == 0 {
		return out
	}

	worldPos := make([]mgl64.Vec3, len(g.Positions))
	clip := make([]mgl64.Vec4, len(g.Positions))
	for i, p := range g.Positions {
		wp := world.Mul4x1(p.Vec4(1))
		worldPos[i] = wp.Vec3()
		clip[i] = viewProj.Mul4x1(wp)
	}

	if mesh.FrustumCulled && outsideFrustum(clip) {
		return out
	}

	mat := mesh.Material
	base := color.RGBA{R: 0xCC, G: 0xCC, B: 0xCC, A: 0xFF}
	opacity := 1.0
	if mat != nil {
		base = mat.Color
		if mat.Transparent {
			opacity = mat.Opacity
		}
	}

	for t := 0; t+2 < len(g.Indices); t += 3 {
		ia, ib, ic := g.Indices[t], g.Indices[t+1], g.Indices[t+2]
		ca, cb, cc := clip[ia], clip[ib], clip[ic]
		if ca.W() <= 0 || cb.W() <= 0 || cc.W() <= 0 {
			continue
		}

		na, nb, nc := ndc(ca), ndc(cb), ndc(cc)
		// counter-clockwise in NDC faces the camera
		if (nb.X()-na.X())*(nc.Y()-na.Y())-(nb.Y()-na.Y())*(nc.X()-na.X()) <= 0 {
			continue
		}

		wa, wb, wc := worldPos[ia], worldPos[ib], worldPos[ic]
		normal := wb.Sub(wa).Cross(wc.Sub(wa))
		if normal.Len() == 0 {
			continue
		}
		normal = normal.Normalize()
		centroid := wa.Add(wb).Add(wc).Mul(1.0 / 3)

		depth := view.Mul4x1(centroid.Vec4(1)).Z()
		out = append(out, triangle{
			pts:     [3]image.Point{toScreen(na, width, height), toScreen(nb, width, height), toScreen(nc, width, height)},
			depth:   depth,
			color:   shade(base, normal, centroid, lights),
			opacity: opacity,
		})
	}
	return out
}

func ndc(c mgl64.Vec4) mgl64.Vec3 {
	return c.Vec3().Mul(1 / c.W())
}

func toScreen(p mgl64.Vec3, width, height int) image.Point {
	return image.Pt(
		int(math.Round((p.X()+1)/2*float64(width))),
		int(math.Round((1-p.Y())/2*float64(height))),
	)
}

// outsideFrustum reports whether every vertex lies beyond the same clip
// plane.
func outsideFrustum(clip []mgl64.Vec4) bool {
	if len(clip) == 0 {
		return true
	}
	planes := []func(mgl64.Vec4) bool{
		func(c mgl64.Vec4) bool { return c.X() < -c.W() },
		func(c mgl64.Vec4) bool { return c.X() > c.W() },
		func(c mgl64.Vec4) bool { return c.Y() < -c.W() },
		func(c mgl64.Vec4) bool { return c.Y() > c.W() },
		func(c mgl64.Vec4) bool { return c.Z() < -c.W() },
		func(c mgl64.Vec4) bool { return c.Z() > c.W() },
	}
	for _, outside := range planes {
		all := true
		for _, c := range clip {
			if !outside(c) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// shade applies flat Lambert lighting to base.
func shade(base color.RGBA, normal, at mgl64.Vec3, lights []scene.Light) color.RGBA {
	if len(lights) == 0 {
		return base
	}
	var k float64
	for _, l := range lights {
		switch l.Kind {
		case scene.AmbientLight:
			k += l.Intensity
		case scene.DirectionalLight:
			if l.Position.Len() > 0 {
				k += l.Intensity * math.Max(0, normal.Dot(l.Position.Normalize()))
			}
		case scene.PointLight:
			dir := l.Position.Sub(at)
			if dir.Len() > 0 {
				k += l.Intensity * math.Max(0, normal.Dot(dir.Normalize()))
			}
		}
	}
	scale := func(v uint8) uint8 {
		return uint8(math.Min(255, float64(v)*k))
	}
	return color.RGBA{R: scale(base.R), G: scale(base.G), B: scale(base.B), A: 0xFF}
}

// paint draws opaque triangles back to front, then blends translucent ones
// over them grouped by opacity.
func paint(canvas *gocv.Mat, tris []triangle) {
	var opaque, translucent []triangle
	for _, t := range tris {
		if t.opacity >= 1 {
			opaque = append(opaque, t)
		} else if t.opacity > 0 {
			translucent = append(translucent, t)
		}
	}

	backToFront(opaque)
	fillRuns(canvas, opaque)

	if len(translucent) == 0 {
		return
	}
	groups := make(map[float64][]triangle)
	var keys []float64
	for _, t := range translucent {
		k := math.Round(t.opacity*20) / 20
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], t)
	}
	sort.Float64s(keys)

	for _, alpha := range keys {
		group := groups[alpha]
		backToFront(group)
		overlay := canvas.Clone()
		fillRuns(&overlay, group)
		gocv.AddWeighted(overlay, alpha, *canvas, 1-alpha, 0, canvas)
		overlay.Close()
	}
}

// backToFront sorts by view depth; the camera looks down -Z so the most
// negative depth is farthest.
func backToFront(tris []triangle) {
	sort.SliceStable(tris, func(i, j int) bool {
		return tris[i].depth < tris[j].depth
	})
}

// fillRuns issues one FillPoly per run of consecutive same-coloured
// triangles, which keeps painter's order intact.
func fillRuns(canvas *gocv.Mat, tris []triangle) {
	for start := 0; start < len(tris); {
		end := start + 1
		for end < len(tris) && tris[end].color == tris[start].color {
			end++
		}

		polys := make([][]image.Point, 0, end-start)
		for _, t := range tris[start:end] {
			polys = append(polys, t.pts[:])
		}
		pv := gocv.NewPointsVectorFromPoints(polys)
		gocv.FillPoly(canvas, pv, tris[start].color)
		pv.Close()

		start = end
	}
}
