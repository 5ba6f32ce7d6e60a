package asset

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/tryon/internal/scene"
	"github.com/ayusman/tryon/testdata"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := testdata.LoadModel(name)
	require.NoError(t, err)
	return data
}

// fakeDracoBinary writes a script that mimics draco_decoder by emitting a
// single triangle to the -o path.
func fakeDracoBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script decoder needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "draco_decoder")
	script := `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift ;;
  esac
  shift
done
printf 'v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n' > "$out"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestPlainDecoder_ReadsNestedMeshes(t *testing.T) {
	root, err := PlainDecoder{}.Decode(context.Background(), loadFixture(t, testdata.RingModel))

	require.NoError(t, err)
	require.Equal(t, 2, root.MeshCount())

	var stone *scene.Mesh
	root.WalkMeshes(func(m *scene.Mesh) {
		if m.Name == "stone" {
			stone = m
		}
	})
	require.NotNil(t, stone)
	assert.Equal(t, 4, stone.Geometry.Triangles())
	assert.True(t, stone.Material.Transparent, "BLEND alpha mode maps to transparent")
	assert.InDelta(t, 0.4, stone.Material.Opacity, 1e-6)

	// stone apex (0, 0.6, 0) scaled by 0.5 then moved by the parent's
	// translation (0, 0.1, 0)
	apex := stone.Geometry.Positions[3]
	assert.True(t, apex.ApproxEqualThreshold(mgl64.Vec3{0, 0.4, 0}, 1e-6), "apex = %v", apex)
}

func TestPlainDecoder_SkipsDracoOnlyPrimitives(t *testing.T) {
	root, err := PlainDecoder{}.Decode(context.Background(), loadFixture(t, testdata.RingDracoModel))

	require.NoError(t, err)
	assert.Equal(t, 1, root.MeshCount(), "only the uncompressed fallback mesh is readable")
}

func TestPlainDecoder_RejectsGarbage(t *testing.T) {
	_, err := PlainDecoder{}.Decode(context.Background(), []byte("not a model"))
	assert.Error(t, err)
}

func TestDracoDecoder_MissingBinary(t *testing.T) {
	d := NewDracoDecoder(filepath.Join(t.TempDir(), "no-such-decoder"), nil)
	defer d.Close()

	_, err := d.Decode(context.Background(), loadFixture(t, testdata.RingDracoModel))

	assert.ErrorIs(t, err, ErrDracoUnavailable)
}

func TestDracoDecoder_PlainDocument(t *testing.T) {
	d := NewDracoDecoder(filepath.Join(t.TempDir(), "no-such-decoder"), nil)
	defer d.Close()

	root, err := d.Decode(context.Background(), loadFixture(t, testdata.RingModel))

	require.NoError(t, err, "documents without compression never invoke the tool")
	assert.Equal(t, 2, root.MeshCount())
	assert.Empty(t, d.Workspace())
}

func TestDracoDecoder_DecodesWithTool(t *testing.T) {
	d := NewDracoDecoder(fakeDracoBinary(t), nil)

	root, err := d.Decode(context.Background(), loadFixture(t, testdata.RingDracoModel))

	require.NoError(t, err)
	assert.Equal(t, 2, root.MeshCount())

	var compressed *scene.Mesh
	root.WalkMeshes(func(m *scene.Mesh) {
		if m.Name == "compressed" {
			compressed = m
		}
	})
	require.NotNil(t, compressed)
	assert.Equal(t, 1, compressed.Geometry.Triangles())

	workspace := d.Workspace()
	require.NotEmpty(t, workspace)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close(), "second close is a no-op")

	_, err = os.Stat(workspace)
	assert.True(t, os.IsNotExist(err), "workspace must be removed on close")
}

func TestParseOBJ(t *testing.T) {
	src := `# draco output
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vn 0 0 1
f 1//1 2//1 3//1 4//1
f -4 -3 -2
`
	g, err := parseOBJ(strings.NewReader(src))

	require.NoError(t, err)
	assert.Len(t, g.Positions, 4)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3, 0, 1, 2}, g.Indices)
}

func TestParseOBJ_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "short vertex", src: "v 1 2\n"},
		{name: "bad float", src: "v 1 x 2\n"},
		{name: "index out of range", src: "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 9\n"},
		{name: "short face", src: "v 0 0 0\nf 1 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOBJ(strings.NewReader(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestNormalize(t *testing.T) {
	root := scene.NewNode("root")
	root.Meshes = []*scene.Mesh{
		{Name: "a", CastShadow: true, ReceiveShadow: true, Material: &scene.Material{}},
		{Name: "b"},
	}

	normalize(root)

	root.WalkMeshes(func(m *scene.Mesh) {
		assert.False(t, m.CastShadow, m.Name)
		assert.False(t, m.ReceiveShadow, m.Name)
		assert.True(t, m.FrustumCulled, m.Name)
		require.NotNil(t, m.Material, m.Name)
		assert.True(t, m.Material.NeedsUpdate, m.Name)
	})
}
