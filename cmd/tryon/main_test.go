package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/ayusman/tryon/internal/config"
	"github.com/ayusman/tryon/internal/render"
)

func TestFindWebDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)

	if got := findWebDir(""); got != "" {
		t.Errorf("findWebDir() = %q, want empty", got)
	}

	if err := os.Mkdir(filepath.Join(dir, "web"), 0o755); err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.Abs("web")
	if got := findWebDir(""); got != want {
		t.Errorf("findWebDir() = %q, want %q", got, want)
	}

	custom := t.TempDir()
	if got := findWebDir(custom); got != custom {
		t.Errorf("findWebDir(%q) = %q", custom, got)
	}

	if got := findWebDir(filepath.Join(dir, "missing")); got != want {
		t.Errorf("missing configured dir should fall back, got %q", got)
	}
}

func TestNewContextFactory_Stream(t *testing.T) {
	stream := render.NewStreamSurface()
	defer stream.Close()

	factory := newContextFactory(&config.Config{Surface: config.SurfaceStream}, stream, nil)
	rctx, err := factory(true)
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	if _, ok := rctx.(*render.Rasterizer); !ok {
		t.Fatalf("factory() = %T, want *render.Rasterizer", rctx)
	}
	if err := rctx.Dispose(); err != nil {
		t.Errorf("Dispose() error = %v", err)
	}

	// the shared surface outlives the session
	if err := stream.Restore(); err != nil {
		t.Errorf("stream closed by session dispose: %v", err)
	}
}

func TestOpenCommand(t *testing.T) {
	const viewer = "http://localhost:8090/?category=rings&product=r-1"

	tests := []struct {
		goos     string
		wantName string
		wantArgs []string
	}{
		{"darwin", "open", []string{viewer}},
		{"linux", "xdg-open", []string{viewer}},
		{"freebsd", "xdg-open", []string{viewer}},
		{"windows", "rundll32", []string{"url.dll,FileProtocolHandler", viewer}},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			name, args := openCommand(tt.goos, viewer)
			if name != tt.wantName {
				t.Errorf("openCommand(%q) name = %q, want %q", tt.goos, name, tt.wantName)
			}
			if !slices.Equal(args, tt.wantArgs) {
				t.Errorf("openCommand(%q) args = %q, want %q", tt.goos, args, tt.wantArgs)
			}
		})
	}
}
