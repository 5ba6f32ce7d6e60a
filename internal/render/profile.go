package render

import (
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ayusman/tryon/internal/pose"
	"github.com/ayusman/tryon/internal/scene"
)

// Profile is the per-category presentation of a product.
type Profile struct {
	// ModelScale is applied to real models only; placeholders carry their
	// own scale.
	ModelScale float64
	// Tilt rotates the model about X so it faces the camera.
	Tilt float64
	// ForceOpaque turns transparent materials opaque on the session's
	// clone.
	ForceOpaque bool
	Camera      scene.Camera
	Lights      []scene.Light
}

var white = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}

// ProfileFor returns the presentation profile for target.
//
// Light intensities are scaled down from physically based units so flat
// Lambert shading stays below saturation.
func ProfileFor(target pose.Target) Profile {
	if target == pose.TargetWatch {
		return Profile{
			ModelScale: 0.001,
			Tilt:       math.Pi / 30,
			Camera:     scene.Camera{FOV: 75, Aspect: 1, Near: 0.1, Far: 1000, Position: mgl64.Vec3{0, 0, 1.5}},
			Lights: []scene.Light{
				{Kind: scene.AmbientLight, Color: white, Intensity: 0.45},
				{Kind: scene.DirectionalLight, Color: white, Intensity: 0.6, Position: mgl64.Vec3{0, 2, 2}},
			},
		}
	}
	return Profile{
		ModelScale:  0.25,
		ForceOpaque: true,
		Camera:      scene.Camera{FOV: 75, Aspect: 1, Near: 0.1, Far: 1000, Position: mgl64.Vec3{0, 0, 2}},
		Lights: []scene.Light{
			{Kind: scene.AmbientLight, Color: white, Intensity: 0.4},
			{Kind: scene.DirectionalLight, Color: white, Intensity: 0.45, Position: mgl64.Vec3{3, 4, 2}},
			{Kind: scene.PointLight, Color: white, Intensity: 0.3, Position: mgl64.Vec3{0, 1.5, 3}},
		},
	}
}
