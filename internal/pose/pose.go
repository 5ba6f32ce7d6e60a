// Package pose maps a detected hand landmark set to the anchor transform
// applied to the overlaid model.
//
// The mapping is a 2.5-D approximation: X and Y come from the normalized
// image position and Z from the detector's relative depth. Metric depth is
// not recoverable from a single uncalibrated camera, so the result places
// the model correctly in the image plane only.
package pose

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ayusman/tryon/internal/detector"
)

// Target is the anatomical reference point a product is anchored to.
type Target int

const (
	// TargetRing anchors to the base joint of the ring finger.
	TargetRing Target = iota
	// TargetWatch anchors to the wrist and follows the hand's in-plane rotation.
	TargetWatch
)

// WatchDepthScale exaggerates the wrist depth so forward/backward hand
// motion is visible on the watch.
const WatchDepthScale = 2.0

// String returns the catalog category name for the target.
func (t Target) String() string {
	switch t {
	case TargetRing:
		return "rings"
	case TargetWatch:
		return "watches"
	default:
		return fmt.Sprintf("Target(%d)", int(t))
	}
}

// ParseCategory maps a catalog category to a Target.
func ParseCategory(category string) (Target, error) {
	switch category {
	case "rings", "ring":
		return TargetRing, nil
	case "watches", "watch":
		return TargetWatch, nil
	default:
		return 0, fmt.Errorf("unknown category %q", category)
	}
}

// Transform is the anchor position and orientation for one frame.
type Transform struct {
	Position mgl64.Vec3
	// Rotation is the angle in radians about the viewing (Z) axis. It is
	// only meaningful when HasRotation is set.
	Rotation    float64
	HasRotation bool
}

// Map converts a landmark set to the anchor transform for target. It
// returns false when set is nil or the target is unknown.
func Map(set *detector.HandLandmarks, target Target) (Transform, bool) {
	if set == nil {
		return Transform{}, false
	}

	switch target {
	case TargetRing:
		base := set.Points[detector.RingMCP]
		return Transform{Position: toWorld(base, 1)}, true

	case TargetWatch:
		wrist := set.Points[detector.Wrist]
		indexBase := set.Points[detector.IndexMCP]
		return Transform{
			Position:    toWorld(wrist, WatchDepthScale),
			Rotation:    math.Atan2(indexBase.Y-wrist.Y, indexBase.X-wrist.X),
			HasRotation: true,
		}, true

	default:
		return Transform{}, false
	}
}

// toWorld maps a normalized image point to the symmetric [-1,1] world
// range. Y is flipped because image rows grow downwards.
func toWorld(p detector.Point3D, depthScale float64) mgl64.Vec3 {
	return mgl64.Vec3{
		(p.X - 0.5) * 2,
		-(p.Y - 0.5) * 2,
		-p.Z * depthScale,
	}
}

// Anchor holds the most recently applied transform. An update without a
// landmark set keeps the previous value so the model never snaps back to
// the origin when a frame has no hand.
type Anchor struct {
	target  Target
	current Transform
	valid   bool
}

// NewAnchor returns an empty anchor for target.
func NewAnchor(target Target) *Anchor {
	return &Anchor{target: target}
}

// Update maps set and stores the result. It reports whether the stored
// transform changed.
func (a *Anchor) Update(set *detector.HandLandmarks) bool {
	t, ok := Map(set, a.target)
	if !ok {
		return false
	}
	a.current = t
	a.valid = true
	return true
}

// Latest returns the stored transform and whether one has been set.
func (a *Anchor) Latest() (Transform, bool) {
	return a.current, a.valid
}

// Target returns the anchor's target.
func (a *Anchor) Target() Target {
	return a.target
}
