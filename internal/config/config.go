// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/ayusman/tryon/internal/capture"
	"github.com/ayusman/tryon/internal/detector"
	"github.com/ayusman/tryon/internal/pose"
)

// Surface names.
const (
	SurfaceStream = "stream"
	SurfaceWindow = "window"
)

type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" default:"localhost:8080"`
	StaticDir string `env:"STATIC_DIR" default:"web"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	CameraWidth     int    `env:"CAMERA_WIDTH" default:"1280"`
	CameraHeight    int    `env:"CAMERA_HEIGHT" default:"720"`
	CameraFacing    string `env:"CAMERA_FACING" default:"environment"`
	CameraPinDevice bool   `env:"CAMERA_PIN_DEVICE" default:"false"`
	Mobile          bool   `env:"MOBILE" default:"false"`

	DetectorScript          string  `env:"DETECTOR_SCRIPT"`
	DetectorPython          string  `env:"DETECTOR_PYTHON"`
	DetectorModelComplexity int     `env:"DETECTOR_MODEL_COMPLEXITY" default:"1"`
	DetectorMinDetection    float64 `env:"DETECTOR_MIN_DETECTION_CONFIDENCE" default:"0.7"`
	DetectorMinTracking     float64 `env:"DETECTOR_MIN_TRACKING_CONFIDENCE" default:"0.7"`

	AssetTimeout      time.Duration `env:"ASSET_TIMEOUT" default:"10s"`
	AssetFetchTimeout time.Duration `env:"ASSET_FETCH_TIMEOUT" default:"30s"`
	DracoDecoder      string        `env:"DRACO_DECODER" default:"draco_decoder"`

	RenderFPS int    `env:"RENDER_FPS" default:"30"`
	Surface   string `env:"SURFACE" default:"stream"`

	RingModelURL  string `env:"RING_MODEL_URL"`
	WatchModelURL string `env:"WATCH_MODEL_URL"`

	Tray bool `env:"TRAY" default:"true"`
}

// Load reads an optional .env file, then the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat))
	}
	if cfg.CameraWidth <= 0 || cfg.CameraHeight <= 0 {
		errs = append(errs, fmt.Errorf("CAMERA_WIDTH and CAMERA_HEIGHT must be positive, got %dx%d", cfg.CameraWidth, cfg.CameraHeight))
	}
	if _, err := capture.ParseFacing(cfg.CameraFacing); err != nil {
		errs = append(errs, fmt.Errorf("CAMERA_FACING: %w", err))
	}
	if cfg.DetectorModelComplexity < 0 || cfg.DetectorModelComplexity > 1 {
		errs = append(errs, fmt.Errorf("DETECTOR_MODEL_COMPLEXITY must be 0 or 1, got %d", cfg.DetectorModelComplexity))
	}
	for name, v := range map[string]float64{
		"DETECTOR_MIN_DETECTION_CONFIDENCE": cfg.DetectorMinDetection,
		"DETECTOR_MIN_TRACKING_CONFIDENCE":  cfg.DetectorMinTracking,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %g", name, v))
		}
	}
	if cfg.AssetTimeout <= 0 {
		errs = append(errs, errors.New("ASSET_TIMEOUT must be positive"))
	}
	if cfg.AssetFetchTimeout < cfg.AssetTimeout {
		errs = append(errs, errors.New("ASSET_FETCH_TIMEOUT must not be shorter than ASSET_TIMEOUT"))
	}
	if cfg.RenderFPS < 1 || cfg.RenderFPS > 120 {
		errs = append(errs, fmt.Errorf("RENDER_FPS must be within [1, 120], got %d", cfg.RenderFPS))
	}
	if cfg.Surface != SurfaceStream && cfg.Surface != SurfaceWindow {
		errs = append(errs, fmt.Errorf("SURFACE must be %s or %s, got %q", SurfaceStream, SurfaceWindow, cfg.Surface))
	}

	return errors.Join(errs...)
}

// Facing returns the preferred camera facing.
func (c *Config) Facing() capture.Facing {
	f, _ := capture.ParseFacing(c.CameraFacing)
	return f
}

// DetectorConfig returns the hand detector settings.
func (c *Config) DetectorConfig() detector.Config {
	d := detector.DefaultConfig()
	d.ModelComplexity = c.DetectorModelComplexity
	d.MinConfidence = c.DetectorMinDetection
	d.MinTrackingConf = c.DetectorMinTracking
	d.ScriptPath = c.DetectorScript
	d.PythonPath = c.DetectorPython
	return d
}

// CaptureConfig returns the stream manager settings.
func (c *Config) CaptureConfig() capture.ManagerConfig {
	return capture.ManagerConfig{
		Width:     c.CameraWidth,
		Height:    c.CameraHeight,
		PinDevice: c.CameraPinDevice,
	}
}

// FrameInterval is the render tick period.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.RenderFPS)
}

// ModelURL returns the configured default model for target.
func (c *Config) ModelURL(target pose.Target) string {
	if target == pose.TargetWatch {
		return c.WatchModelURL
	}
	return c.RingModelURL
}
