package asset

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/ayusman/tryon/internal/scene"
)

var errNoGeometry = errors.New("no renderable geometry")

// primitiveReader reads one primitive's geometry. Returning nil geometry
// without an error skips the primitive.
type primitiveReader func(doc *gltf.Document, prim *gltf.Primitive) (*scene.Geometry, error)

// decodeDocument parses a glTF or GLB payload and flattens its default
// scene into one node per mesh primitive with node transforms baked into
// the vertex positions.
func decodeDocument(data []byte, read primitiveReader) (*scene.Node, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, fmt.Errorf("parse gltf: %w", err)
	}

	materials := convertMaterials(doc)
	root := scene.NewNode("model")

	var failures []error
	var visit func(idx int, parent mgl64.Mat4, depth int)
	visit = func(idx int, parent mgl64.Mat4, depth int) {
		if idx < 0 || idx >= len(doc.Nodes) || depth > len(doc.Nodes) {
			return
		}
		n := doc.Nodes[idx]
		world := parent.Mul4(nodeMatrix(n))

		if n.Mesh != nil {
			mi := int(*n.Mesh)
			if mi >= 0 && mi < len(doc.Meshes) {
				for pi, prim := range doc.Meshes[mi].Primitives {
					geom, err := read(doc, prim)
					if err != nil {
						failures = append(failures, fmt.Errorf("mesh %d primitive %d: %w", mi, pi, err))
						continue
					}
					if geom == nil || geom.Triangles() == 0 {
						continue
					}

					child := scene.NewNode(nodeName(n.Name, idx))
					child.Meshes = []*scene.Mesh{{
						Name:     doc.Meshes[mi].Name,
						Geometry: bake(geom, world),
						Material: materialFor(materials, prim),
					}}
					root.Add(child)
				}
			}
		}

		for _, c := range n.Children {
			visit(int(c), world, depth+1)
		}
	}

	for _, idx := range sceneRoots(doc) {
		visit(idx, mgl64.Ident4(), 0)
	}

	if len(failures) > 0 {
		return nil, errors.Join(failures...)
	}
	if root.MeshCount() == 0 {
		return nil, errNoGeometry
	}
	return root, nil
}

// sceneRoots returns the root nodes of the default scene, or of every
// parentless node when the document declares no scene.
func sceneRoots(doc *gltf.Document) []int {
	if len(doc.Scenes) > 0 {
		si := 0
		if doc.Scene != nil && int(*doc.Scene) < len(doc.Scenes) {
			si = int(*doc.Scene)
		}
		roots := make([]int, 0, len(doc.Scenes[si].Nodes))
		for _, n := range doc.Scenes[si].Nodes {
			roots = append(roots, int(n))
		}
		return roots
	}

	isChild := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			isChild[int(c)] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !isChild[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

func nodeMatrix(n *gltf.Node) mgl64.Mat4 {
	var m mgl64.Mat4
	explicit := false
	for i, v := range n.Matrix {
		m[i] = float64(v)
		if v != 0 {
			explicit = true
		}
	}
	if explicit && m != mgl64.Ident4() {
		return m
	}

	t := mgl64.Vec3{float64(n.Translation[0]), float64(n.Translation[1]), float64(n.Translation[2])}

	q := mgl64.Quat{W: float64(n.Rotation[3]), V: mgl64.Vec3{float64(n.Rotation[0]), float64(n.Rotation[1]), float64(n.Rotation[2])}}
	if q.Len() == 0 {
		q = mgl64.QuatIdent()
	}

	s := mgl64.Vec3{float64(n.Scale[0]), float64(n.Scale[1]), float64(n.Scale[2])}
	if s == (mgl64.Vec3{}) {
		s = mgl64.Vec3{1, 1, 1}
	}

	return mgl64.Translate3D(t.X(), t.Y(), t.Z()).
		Mul4(q.Normalize().Mat4()).
		Mul4(mgl64.Scale3D(s.X(), s.Y(), s.Z()))
}

func nodeName(name string, idx int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("node-%d", idx)
}

// bake returns a copy of g with positions transformed by m.
func bake(g *scene.Geometry, m mgl64.Mat4) *scene.Geometry {
	if m == mgl64.Ident4() {
		return g
	}
	out := &scene.Geometry{
		Positions: make([]mgl64.Vec3, len(g.Positions)),
		Indices:   g.Indices,
	}
	for i, p := range g.Positions {
		out.Positions[i] = m.Mul4x1(p.Vec4(1)).Vec3()
	}
	return out
}

// readPrimitive reads uncompressed POSITION and index accessors. A
// primitive whose position accessor has no buffer view (the layout used
// for Draco-only data) is skipped.
func readPrimitive(doc *gltf.Document, prim *gltf.Primitive) (*scene.Geometry, error) {
	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return nil, nil
	}
	if int(posIdx) >= len(doc.Accessors) {
		return nil, fmt.Errorf("position accessor %d out of range", posIdx)
	}
	acr := doc.Accessors[posIdx]
	if acr.BufferView == nil {
		return nil, nil
	}

	positions, err := modeler.ReadPosition(doc, acr, nil)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	g := &scene.Geometry{Positions: make([]mgl64.Vec3, len(positions))}
	for i, p := range positions {
		g.Positions[i] = mgl64.Vec3{float64(p[0]), float64(p[1]), float64(p[2])}
	}

	if prim.Indices == nil {
		g.Indices = make([]uint32, len(positions)-len(positions)%3)
		for i := range g.Indices {
			g.Indices[i] = uint32(i)
		}
		return g, nil
	}

	idx := int(*prim.Indices)
	if idx >= len(doc.Accessors) {
		return nil, fmt.Errorf("index accessor %d out of range", idx)
	}
	indices, err := modeler.ReadIndices(doc, doc.Accessors[idx], nil)
	if err != nil {
		return nil, fmt.Errorf("read indices: %w", err)
	}
	if err := checkIndices(indices, len(g.Positions)); err != nil {
		return nil, err
	}
	g.Indices = indices[:len(indices)-len(indices)%3]
	return g, nil
}

func checkIndices(indices []uint32, vertices int) error {
	for _, i := range indices {
		if int(i) >= vertices {
			return fmt.Errorf("index %d exceeds %d vertices", i, vertices)
		}
	}
	return nil
}

func convertMaterials(doc *gltf.Document) []*scene.Material {
	out := make([]*scene.Material, len(doc.Materials))
	for i, m := range doc.Materials {
		mat := &scene.Material{
			Name:      m.Name,
			Color:     color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF},
			Metalness: 1,
			Roughness: 1,
			Opacity:   1,
		}
		if pbr := m.PBRMetallicRoughness; pbr != nil {
			if f := pbr.BaseColorFactor; f != nil {
				mat.Color = color.RGBA{
					R: unitToByte(float64(f[0])),
					G: unitToByte(float64(f[1])),
					B: unitToByte(float64(f[2])),
					A: 0xFF,
				}
				mat.Opacity = float64(f[3])
			}
			if pbr.MetallicFactor != nil {
				mat.Metalness = float64(*pbr.MetallicFactor)
			}
			if pbr.RoughnessFactor != nil {
				mat.Roughness = float64(*pbr.RoughnessFactor)
			}
		}
		mat.Transparent = m.AlphaMode == gltf.AlphaBlend
		out[i] = mat
	}
	return out
}

func materialFor(materials []*scene.Material, prim *gltf.Primitive) *scene.Material {
	if prim.Material == nil {
		return nil
	}
	i := int(*prim.Material)
	if i < 0 || i >= len(materials) {
		return nil
	}
	// Primitives sharing a material still get their own instance so a
	// session tweak on one mesh cannot leak into another.
	return materials[i].Clone()
}

func unitToByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xFF
	default:
		return uint8(v*255 + 0.5)
	}
}
