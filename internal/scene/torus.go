package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Torus builds a torus in the XY plane around the Z axis.
func Torus(radius, tube float64, radialSegments, tubularSegments int) *Geometry {
	if radialSegments < 3 {
		radialSegments = 3
	}
	if tubularSegments < 3 {
		tubularSegments = 3
	}

	g := &Geometry{
		Positions: make([]mgl64.Vec3, 0, (radialSegments+1)*(tubularSegments+1)),
		Indices:   make([]uint32, 0, radialSegments*tubularSegments*6),
	}

	for j := 0; j <= radialSegments; j++ {
		v := float64(j) / float64(radialSegments) * 2 * math.Pi
		for i := 0; i <= tubularSegments; i++ {
			u := float64(i) / float64(tubularSegments) * 2 * math.Pi
			g.Positions = append(g.Positions, mgl64.Vec3{
				(radius + tube*math.Cos(v)) * math.Cos(u),
				(radius + tube*math.Cos(v)) * math.Sin(u),
				tube * math.Sin(v),
			})
		}
	}

	stride := uint32(tubularSegments + 1)
	for j := 1; j <= radialSegments; j++ {
		for i := 1; i <= tubularSegments; i++ {
			a := stride*uint32(j) + uint32(i-1)
			b := stride*uint32(j-1) + uint32(i-1)
			c := stride*uint32(j-1) + uint32(i)
			d := stride*uint32(j) + uint32(i)
			g.Indices = append(g.Indices, a, b, d, b, c, d)
		}
	}

	return g
}
