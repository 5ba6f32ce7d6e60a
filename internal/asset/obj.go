package asset

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ayusman/tryon/internal/scene"
)

// parseOBJ reads vertex positions and faces from Wavefront OBJ text, the
// format draco_decoder writes. Polygons are fan-triangulated; normals,
// texture coordinates and groups are ignored.
func parseOBJ(r io.Reader) (*scene.Geometry, error) {
	g := &scene.Geometry{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj line %d: vertex needs 3 coordinates", line)
			}
			var v mgl64.Vec3
			for i := 0; i < 3; i++ {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("obj line %d: %w", line, err)
				}
				v[i] = f
			}
			g.Positions = append(g.Positions, v)

		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj line %d: face needs 3 vertices", line)
			}
			face := make([]uint32, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				idx, err := objIndex(tok, len(g.Positions))
				if err != nil {
					return nil, fmt.Errorf("obj line %d: %w", line, err)
				}
				face = append(face, idx)
			}
			for i := 1; i+1 < len(face); i++ {
				g.Indices = append(g.Indices, face[0], face[i], face[i+1])
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return g, nil
}

// objIndex resolves a face token such as "7", "7/2/3" or "-1" to a
// zero-based vertex index.
func objIndex(tok string, vertices int) (uint32, error) {
	if i := strings.IndexByte(tok, '/'); i >= 0 {
		tok = tok[:i]
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, err
	}
	switch {
	case n > 0 && n <= vertices:
		return uint32(n - 1), nil
	case n < 0 && -n <= vertices:
		return uint32(vertices + n), nil
	default:
		return 0, fmt.Errorf("face index %d out of range (%d vertices)", n, vertices)
	}
}
