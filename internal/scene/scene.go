// Package scene is the minimal scene graph shared by the asset loader and
// the renderer: nodes with TRS transforms, triangle meshes, materials,
// lights and a perspective camera.
package scene

import (
	"image/color"

	"github.com/go-gl/mathgl/mgl64"
)

// Material describes how a mesh is shaded.
type Material struct {
	Name        string
	Color       color.RGBA
	Metalness   float64
	Roughness   float64
	Opacity     float64
	Transparent bool
	// NeedsUpdate marks the material dirty so the renderer rebuilds any
	// cached shading state for it.
	NeedsUpdate bool
}

// Clone returns a copy of m.
func (m *Material) Clone() *Material {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Geometry is an indexed triangle list. Geometry is shared between clones
// and must be treated as immutable once built.
type Geometry struct {
	Positions []mgl64.Vec3
	// Indices holds three entries per triangle.
	Indices []uint32
}

// Triangles returns the number of complete triangles.
func (g *Geometry) Triangles() int {
	if g == nil {
		return 0
	}
	return len(g.Indices) / 3
}

// Mesh binds geometry to a material and carries per-mesh render flags.
type Mesh struct {
	Name          string
	Geometry      *Geometry
	Material      *Material
	CastShadow    bool
	ReceiveShadow bool
	FrustumCulled bool
}

// Node is a transform in the scene graph.
type Node struct {
	Name     string
	Position mgl64.Vec3
	// Rotation holds XYZ Euler angles in radians.
	Rotation mgl64.Vec3
	Scale    mgl64.Vec3
	Visible  bool
	Meshes   []*Mesh
	Children []*Node
}

// NewNode returns a visible node with unit scale.
func NewNode(name string) *Node {
	return &Node{
		Name:    name,
		Scale:   mgl64.Vec3{1, 1, 1},
		Visible: true,
	}
}

// Add appends children to n.
func (n *Node) Add(children ...*Node) {
	n.Children = append(n.Children, children...)
}

// SetScalar sets a uniform scale.
func (n *Node) SetScalar(s float64) {
	n.Scale = mgl64.Vec3{s, s, s}
}

// Walk visits n and every descendant depth-first. Returning false from fn
// skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// WalkMeshes calls fn for every mesh in the subtree.
func (n *Node) WalkMeshes(fn func(*Mesh)) {
	n.Walk(func(node *Node) bool {
		for _, m := range node.Meshes {
			fn(m)
		}
		return true
	})
}

// Clone deep-copies the node tree and materials. Geometry is shared.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Meshes = make([]*Mesh, len(n.Meshes))
	for i, m := range n.Meshes {
		mc := *m
		mc.Material = m.Material.Clone()
		c.Meshes[i] = &mc
	}
	c.Children = make([]*Node, len(n.Children))
	for i, child := range n.Children {
		c.Children[i] = child.Clone()
	}
	return &c
}

// LocalMatrix composes translation, XYZ rotation and scale.
func (n *Node) LocalMatrix() mgl64.Mat4 {
	t := mgl64.Translate3D(n.Position.X(), n.Position.Y(), n.Position.Z())
	r := mgl64.HomogRotate3DX(n.Rotation.X()).
		Mul4(mgl64.HomogRotate3DY(n.Rotation.Y())).
		Mul4(mgl64.HomogRotate3DZ(n.Rotation.Z()))
	s := mgl64.Scale3D(n.Scale.X(), n.Scale.Y(), n.Scale.Z())
	return t.Mul4(r).Mul4(s)
}

// MeshCount returns the number of meshes in the subtree.
func (n *Node) MeshCount() int {
	count := 0
	n.WalkMeshes(func(*Mesh) { count++ })
	return count
}

// LightKind enumerates supported lights.
type LightKind int

const (
	AmbientLight LightKind = iota
	DirectionalLight
	PointLight
)

// Light contributes to Lambert shading. Position is the direction towards
// the light for directional lights.
type Light struct {
	Kind      LightKind
	Color     color.RGBA
	Intensity float64
	Position  mgl64.Vec3
}

// Camera is a perspective camera looking down -Z from Position.
type Camera struct {
	FOV      float64 // vertical, degrees
	Aspect   float64
	Near     float64
	Far      float64
	Position mgl64.Vec3
}

// Projection returns the perspective projection matrix.
func (c *Camera) Projection() mgl64.Mat4 {
	aspect := c.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	return mgl64.Perspective(mgl64.DegToRad(c.FOV), aspect, c.Near, c.Far)
}

// View returns the view matrix.
func (c *Camera) View() mgl64.Mat4 {
	return mgl64.Translate3D(-c.Position.X(), -c.Position.Y(), -c.Position.Z())
}

// Scene is a root node with its lights.
type Scene struct {
	Root   *Node
	Lights []Light
}

// New returns an empty scene.
func New() *Scene {
	return &Scene{Root: NewNode("root")}
}
