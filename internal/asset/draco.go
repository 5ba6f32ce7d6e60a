package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/qmuntal/gltf"

	"github.com/ayusman/tryon/internal/scene"
)

// DracoExtension is the glTF extension carrying Draco-compressed geometry.
const DracoExtension = "KHR_draco_mesh_compression"

// DefaultDracoBinary is the Draco command-line decoder.
const DefaultDracoBinary = "draco_decoder"

// ErrDracoUnavailable is returned when the decoder binary cannot be found.
var ErrDracoUnavailable = errors.New("draco decoder not available")

// DracoDecoder decodes glTF documents whose primitives may carry
// Draco-compressed geometry. Compressed payloads are handed to the
// draco_decoder tool in a scratch directory; uncompressed primitives are
// read directly.
type DracoDecoder struct {
	binary string
	logger *slog.Logger

	mu     sync.Mutex
	dir    string
	seq    int
	closed bool
}

// NewDracoDecoder creates a decoder using binary (DefaultDracoBinary when
// empty).
func NewDracoDecoder(binary string, logger *slog.Logger) *DracoDecoder {
	if binary == "" {
		binary = DefaultDracoBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DracoDecoder{binary: binary, logger: logger}
}

func (d *DracoDecoder) Name() string { return "draco" }

func (d *DracoDecoder) Decode(ctx context.Context, data []byte) (*scene.Node, error) {
	return decodeDocument(data, func(doc *gltf.Document, prim *gltf.Primitive) (*scene.Geometry, error) {
		ext, ok := prim.Extensions[DracoExtension]
		if !ok {
			return readPrimitive(doc, prim)
		}
		return d.decodePrimitive(ctx, doc, ext)
	})
}

type dracoPrimitive struct {
	BufferView int            `json:"bufferView"`
	Attributes map[string]int `json:"attributes"`
}

func (d *DracoDecoder) decodePrimitive(ctx context.Context, doc *gltf.Document, ext any) (*scene.Geometry, error) {
	raw, err := json.Marshal(ext)
	if err != nil {
		return nil, fmt.Errorf("encode draco extension: %w", err)
	}
	var info dracoPrimitive
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("parse draco extension: %w", err)
	}

	payload, err := bufferViewBytes(doc, info.BufferView)
	if err != nil {
		return nil, err
	}

	binary, err := exec.LookPath(d.binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDracoUnavailable, err)
	}

	in, out, err := d.scratch()
	if err != nil {
		return nil, err
	}
	defer os.Remove(in)
	defer os.Remove(out)

	if err := os.WriteFile(in, payload, 0o600); err != nil {
		return nil, fmt.Errorf("write draco payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, binary, "-i", in, "-o", out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("draco decode: %w", ctx.Err())
		}
		if msg := stderr.String(); msg != "" {
			return nil, fmt.Errorf("draco decode failed: %w, stderr: %s", err, msg)
		}
		return nil, fmt.Errorf("draco decode failed: %w", err)
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("open decoded mesh: %w", err)
	}
	defer f.Close()

	return parseOBJ(f)
}

// scratch returns unique input and output paths inside the decoder's
// workspace, creating the workspace on first use.
func (d *DracoDecoder) scratch() (string, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", "", errors.New("draco decoder is closed")
	}
	if d.dir == "" {
		dir, err := os.MkdirTemp("", "tryon-draco-*")
		if err != nil {
			return "", "", fmt.Errorf("create draco workspace: %w", err)
		}
		d.dir = dir
	}
	d.seq++
	base := filepath.Join(d.dir, fmt.Sprintf("prim-%d", d.seq))
	return base + ".drc", base + ".obj", nil
}

// Workspace returns the scratch directory, or "" before first use.
func (d *DracoDecoder) Workspace() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dir
}

// Close removes the workspace. Calls after the first are no-ops.
func (d *DracoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.dir == "" {
		return nil
	}
	d.logger.Debug("draco workspace removed", "dir", d.dir)
	return os.RemoveAll(d.dir)
}

func bufferViewBytes(doc *gltf.Document, idx int) ([]byte, error) {
	if idx < 0 || idx >= len(doc.BufferViews) {
		return nil, fmt.Errorf("buffer view %d out of range", idx)
	}
	bv := doc.BufferViews[idx]
	bi := int(bv.Buffer)
	if bi < 0 || bi >= len(doc.Buffers) {
		return nil, fmt.Errorf("buffer %d out of range", bi)
	}
	data := doc.Buffers[bi].Data
	start := int(bv.ByteOffset)
	end := start + int(bv.ByteLength)
	if start < 0 || end > len(data) {
		return nil, fmt.Errorf("buffer view %d exceeds buffer %d", idx, bi)
	}
	return data[start:end], nil
}

// PlainDecoder reads only uncompressed geometry. Draco-only primitives are
// skipped, so documents that also ship fallback accessors still render.
type PlainDecoder struct{}

func (PlainDecoder) Name() string { return "plain" }

func (PlainDecoder) Decode(ctx context.Context, data []byte) (*scene.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeDocument(data, readPrimitive)
}

func (PlainDecoder) Close() error { return nil }
