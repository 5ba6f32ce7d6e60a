// Package testdata holds model fixtures and synthetic frames shared by
// package and end-to-end tests.
package testdata

import (
	"embed"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

//go:embed models/*
var modelsFS embed.FS

// Model fixture names.
const (
	// RingModel is a plain glTF with two nested meshes.
	RingModel = "ring.gltf"
	// RingDracoModel has a Draco-compressed primitive next to an
	// uncompressed fallback mesh.
	RingDracoModel = "ring-draco.gltf"
)

// LoadModel returns the bytes of a model fixture by name.
func LoadModel(name string) ([]byte, error) {
	data, err := modelsFS.ReadFile("models/" + name)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", name, err)
	}
	return data, nil
}

// WriteModel copies a model fixture into dir and returns its path.
func WriteModel(dir, name string) (string, error) {
	data, err := LoadModel(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// HandFrame returns a synthetic BGR frame with a skin-toned blob roughly
// where the preset open hand sits. The caller owns the Mat.
func HandFrame(width, height int) *gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), height, width, gocv.MatTypeCV8UC3)
	center := image.Pt(width/2, height*7/10)
	gocv.Circle(&mat, center, height/6, color.RGBA{R: 224, G: 172, B: 105, A: 255}, -1)
	return &mat
}

// Frames returns n synthetic frames. The caller owns every Mat.
func Frames(n, width, height int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		frames[i] = HandFrame(width, height)
	}
	return frames
}

// CloseAll closes every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}
