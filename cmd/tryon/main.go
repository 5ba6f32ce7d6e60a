package main

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ayusman/tryon/internal/asset"
	"github.com/ayusman/tryon/internal/capture"
	"github.com/ayusman/tryon/internal/config"
	"github.com/ayusman/tryon/internal/detector"
	"github.com/ayusman/tryon/internal/logging"
	"github.com/ayusman/tryon/internal/render"
	"github.com/ayusman/tryon/internal/server"
	"github.com/ayusman/tryon/internal/session"
	"github.com/ayusman/tryon/internal/tray"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("try-on engine failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := asset.NewLoader(asset.LoaderConfig{
		Timeout:      cfg.AssetTimeout,
		FetchTimeout: cfg.AssetFetchTimeout,
		Decoders: func() []asset.Decoder {
			return []asset.Decoder{
				asset.NewDracoDecoder(cfg.DracoDecoder, logger),
				asset.PlainDecoder{},
			}
		},
		Logger: logger,
	})
	defer loader.Close()

	stream := render.NewStreamSurface()
	defer stream.Close()

	ctrl, err := session.NewController(session.Config{
		Platform: capture.NewGoCVPlatform(),
		Capture:  cfg.CaptureConfig(),
		Facing:   cfg.Facing(),
		Mobile:   cfg.Mobile,
		NewDetector: func() (detector.Detector, error) {
			d, err := detector.NewMediaPipeDetector(cfg.DetectorConfig())
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		NewContext:    newContextFactory(cfg, stream, logger),
		Loader:        loader,
		DefaultModel:  cfg.ModelURL,
		Width:         cfg.CameraWidth,
		Height:        cfg.CameraHeight,
		FrameInterval: cfg.FrameInterval(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			logger.Warn("session closed with errors", "error", err)
		}
	}()

	webDir := findWebDir(cfg.StaticDir)
	if webDir != "" {
		logger.Info("serving static files", "dir", webDir)
	}

	srv := server.New(server.Config{
		StaticDir:  webDir,
		Controller: ctrl,
		Stream:     stream,
		Events:     ctrl,
		Logger:     logger,
	})

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe(cfg.HTTPAddr)
	}()

	if cfg.Tray {
		t := newTray(ctx, ctrl, "http://"+cfg.HTTPAddr, logger)
		t.OnQuit(stop)
		go func() {
			select {
			case <-ctx.Done():
			case err := <-errc:
				errc <- err
			}
			t.Quit()
		}()
		// systray needs the main goroutine
		t.Run()
		stop()
	} else {
		select {
		case <-ctx.Done():
		case err := <-errc:
			errc <- err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}

// newContextFactory builds a rasterizer per session. Stream rasterizers
// share the app-wide stream surface; window rasterizers own their window.
func newContextFactory(cfg *config.Config, stream *render.StreamSurface, logger *slog.Logger) func(mirror bool) (render.Context, error) {
	return func(mirror bool) (render.Context, error) {
		opts := render.RasterizerOptions{Mirror: mirror, Logger: logger}
		if cfg.Surface == config.SurfaceWindow {
			win := render.NewWindowSurface("Try-On")
			opts.OnDispose = win.Close
			return render.NewRasterizer(win, opts), nil
		}
		return render.NewRasterizer(stream, opts), nil
	}
}

func newTray(ctx context.Context, ctrl *session.Controller, viewerURL string, logger *slog.Logger) *tray.Tray {
	t := tray.New()

	t.OnTryOn(func(category string) {
		go func() {
			if _, err := ctrl.Open(ctx, session.Request{Category: category}); err != nil {
				logger.Warn("tray try-on failed", "category", category, "error", err)
			}
		}()
	})
	t.OnClose(func() {
		go func() {
			if err := ctrl.Close(); err != nil {
				logger.Warn("session closed with errors", "error", err)
			}
		}()
	})
	t.OnOpenBrowser(func() {
		name, args := openCommand(runtime.GOOS, viewerURL)
		if err := exec.Command(name, args...).Start(); err != nil {
			logger.Warn("failed to open viewer", "url", viewerURL, "error", err)
		}
	})

	events, unsubscribe := ctrl.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				t.SetStatus(ctrl.State().String())
			}
		}
	}()
	return t
}

// openCommand returns the command that opens url with the default
// application on goos. Windows has no start executable, only the cmd
// builtin, so the URL goes through the shell's protocol handler instead.
func openCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}

// findWebDir returns configured if it exists, then searches "web",
// "../web", "../../web" and ~/.tryon/web. It returns "" if none exists.
func findWebDir(configured string) string {
	candidates := []string{configured, "web", "../web", "../../web"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".tryon", "web"))
	}

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
