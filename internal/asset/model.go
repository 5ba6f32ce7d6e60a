// Package asset loads compressed glTF jewelry models into scene graphs.
//
// Loads are bounded by a wall-clock budget; callers fall back to a
// placeholder model on timeout or decode failure.
package asset

import (
	"context"
	"errors"
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ayusman/tryon/internal/scene"
)

var (
	// ErrAssetTimeout is returned when a load exceeds its budget.
	ErrAssetTimeout = errors.New("asset load timed out")
	// ErrAssetDecode is returned when every decoder failed.
	ErrAssetDecode = errors.New("asset decode failed")
	// ErrAssetFetch is returned when the asset bytes could not be read.
	ErrAssetFetch = errors.New("asset fetch failed")
	// ErrRequestClosed is returned by Load after Close.
	ErrRequestClosed = errors.New("asset request closed")
)

// Decoder turns fetched bytes into a scene graph.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, data []byte) (*scene.Node, error)
	Close() error
}

// Model is a loaded scene graph. Placeholder models are never Ready.
type Model struct {
	URL         string
	Root        *scene.Node
	Decoder     string
	Placeholder bool
}

// Ready reports whether the model holds the real asset.
func (m *Model) Ready() bool {
	return m != nil && !m.Placeholder && m.Root != nil
}

// Clone returns a model sharing geometry but owning its nodes and
// materials.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	c := *m
	c.Root = m.Root.Clone()
	return &c
}

// Placeholder geometry parameters.
const (
	PlaceholderRadius          = 0.3
	PlaceholderTube            = 0.15
	PlaceholderRadialSegments  = 16
	PlaceholderTubularSegments = 100
	PlaceholderScale           = 0.1
)

// Gold is the placeholder colour.
var Gold = color.RGBA{R: 0xFF, G: 0xD7, B: 0x00, A: 0xFF}

// Shape selects the placeholder form for a jewelry category.
type Shape int

const (
	// ShapeRing is a small torus facing the camera.
	ShapeRing Shape = iota
	// ShapeBand is a larger torus stood up around a wrist.
	ShapeBand
)

func (s Shape) String() string {
	if s == ShapeBand {
		return "band"
	}
	return "ring"
}

// Placeholder returns the stand-in model shown while the real asset is
// loading or after it failed: a small gold torus.
func Placeholder(shape Shape) *Model {
	node := scene.NewNode("placeholder-" + shape.String())
	node.SetScalar(PlaceholderScale)
	node.Meshes = []*scene.Mesh{{
		Name:          "torus",
		Geometry:      scene.Torus(PlaceholderRadius, PlaceholderTube, PlaceholderRadialSegments, PlaceholderTubularSegments),
		Material:      &scene.Material{Name: "gold", Color: Gold, Metalness: 0.9, Roughness: 0.1, Opacity: 1},
		FrustumCulled: true,
	}}
	if shape == ShapeBand {
		// Stand the band up so it reads as a bracelet around the wrist.
		node.Rotation = mgl64.Vec3{math.Pi / 2, 0, 0}
		node.SetScalar(PlaceholderScale * 2)
	}
	return &Model{Root: node, Placeholder: true}
}

// normalize prepares a freshly decoded graph for rendering: shadows off,
// frustum culling on and every material marked dirty.
func normalize(root *scene.Node) {
	root.WalkMeshes(func(m *scene.Mesh) {
		m.CastShadow = false
		m.ReceiveShadow = false
		m.FrustumCulled = true
		if m.Material == nil {
			m.Material = &scene.Material{Color: color.RGBA{R: 0xCC, G: 0xCC, B: 0xCC, A: 0xFF}, Opacity: 1}
		}
		m.Material.NeedsUpdate = true
	})
}
