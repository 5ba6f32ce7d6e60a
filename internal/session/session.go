package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ayusman/tryon/internal/asset"
	"github.com/ayusman/tryon/internal/capture"
	"github.com/ayusman/tryon/internal/metrics"
	"github.com/ayusman/tryon/internal/pose"
	"github.com/ayusman/tryon/internal/render"
	"github.com/ayusman/tryon/internal/tracker"
)

type assetResult struct {
	gen   uint64
	url   string
	model *asset.Model
	err   error
}

// Session owns every resource of one try-on. All mutable state below the
// resource block is touched only by the run goroutine once it starts.
type Session struct {
	id      string
	req     Request
	target  pose.Target
	logger  *slog.Logger
	clock   clockwork.Clock
	loader  *asset.Loader
	notify  func(Event)
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	manager   *capture.Manager
	video     *capture.Video
	tracker   *tracker.Tracker
	renderCtx render.Context
	loop      *render.Loop
	anchor    *pose.Anchor
	interval  time.Duration

	assets   chan assetResult
	models   chan string
	resizes  chan [2]int
	assetGen uint64

	reqMu    sync.Mutex
	requests []*asset.Request

	statusMu   sync.Mutex
	modelURL   string
	modelReady bool
	mirrored   bool
	frames     atomic.Uint64

	running   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newSession(id string, req Request, target pose.Target, cfg Config, logger *slog.Logger, notify func(Event)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:       id,
		req:      req,
		target:   target,
		logger:   logger,
		clock:    cfg.Clock,
		loader:   cfg.Loader,
		notify:   notify,
		started:  cfg.Clock.Now(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		manager:  capture.NewManager(cfg.Platform, cfg.Capture, logger),
		anchor:   pose.NewAnchor(target),
		interval: cfg.FrameInterval,
		assets:   make(chan assetResult),
		models:   make(chan string),
		resizes:  make(chan [2]int),
	}
}

// requestModel starts loading url. The newest request supersedes older
// ones; their results are dropped when they arrive.
func (s *Session) requestModel(url string) {
	s.assetGen++
	gen := s.assetGen

	s.statusMu.Lock()
	s.modelURL = url
	s.statusMu.Unlock()

	if url == "" || s.loader == nil {
		return
	}

	req := s.loader.Request(url)
	s.reqMu.Lock()
	s.requests = append(s.requests, req)
	s.reqMu.Unlock()

	go func() {
		m, err := req.Load(s.ctx)
		select {
		case s.assets <- assetResult{gen: gen, url: url, model: m, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

// start launches the event loop.
func (s *Session) start() {
	s.running.Store(true)
	go s.run()
}

func (s *Session) run() {
	defer close(s.done)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	events := s.renderCtx.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.Chan():
			s.tick()
		case r := <-s.tracker.Results():
			if s.tracker.Apply(r) {
				s.anchor.Update(s.tracker.Latest())
			}
		case ev := <-events:
			s.loop.HandleContextEvent(ev)
		case res := <-s.assets:
			s.applyModel(res)
		case url := <-s.models:
			s.requestModel(url)
		case size := <-s.resizes:
			s.loop.Resize(size[0], size[1])
		}
	}
}

func (s *Session) tick() {
	frame, seq, ok := s.video.Current()
	if !ok {
		s.loop.Frame(nil)
		return
	}
	defer frame.Close()

	s.tracker.Submit(&frame, seq)

	if t, ok := s.anchor.Latest(); ok {
		s.loop.Apply(t)
	}
	if err := s.loop.Frame(&frame); err != nil {
		s.logger.Warn("render failed", "error", err)
	}
	s.frames.Store(s.loop.Frames())
}

func (s *Session) applyModel(res assetResult) {
	if res.gen != s.assetGen {
		s.logger.Debug("superseded model result dropped", "url", res.url)
		return
	}
	if res.err != nil {
		if errors.Is(res.err, asset.ErrAssetTimeout) {
			s.logger.Warn("model not ready in time, keeping placeholder", "url", res.url)
		} else {
			s.logger.Warn("model load failed, keeping placeholder", "url", res.url, "error", res.err)
		}
		return
	}

	s.loop.SetModel(res.model)

	s.statusMu.Lock()
	s.modelReady = res.model.Ready()
	s.statusMu.Unlock()

	s.notify(Event{Kind: EventModelReady, SessionID: s.id, ProductID: s.req.ProductID, Category: s.target.String(), ModelURL: res.url})
}

func (s *Session) changeModel(url string) error {
	select {
	case s.models <- url:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) resize(width, height int) error {
	select {
	case s.resizes <- [2]int{width, height}:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	st := Status{
		SessionID:  s.id,
		ProductID:  s.req.ProductID,
		Category:   s.target.String(),
		ModelURL:   s.modelURL,
		ModelReady: s.modelReady,
		Mirrored:   s.mirrored,
		Frames:     s.frames.Load(),
		StartedAt:  s.started,
	}
	if s.video != nil {
		st.Facing = s.video.Facing().String()
	}
	return st
}

// close tears the session down in order: event loop and ticker, tracker,
// video and stream, render context, asset requests. Each step runs even
// if an earlier one failed. Calls after the first return the first
// result.
func (s *Session) close() error {
	s.closeOnce.Do(func() {
		var errs []error
		collect := func(err error) {
			if err != nil {
				errs = append(errs, err)
			}
		}

		collect(s.step("ticker", func() error {
			s.cancel()
			if s.running.Load() {
				<-s.done
			}
			return nil
		}))
		collect(s.step("tracker", func() error {
			if s.tracker == nil {
				return nil
			}
			return s.tracker.Close()
		}))
		collect(s.step("video", func() error {
			if s.video == nil {
				return nil
			}
			return s.video.Close()
		}))
		collect(s.step("stream", s.manager.Release))
		collect(s.step("render", func() error {
			switch {
			case s.loop != nil:
				return s.loop.Dispose()
			case s.renderCtx != nil:
				return s.renderCtx.Dispose()
			}
			return nil
		}))
		collect(s.step("asset", func() error {
			s.reqMu.Lock()
			reqs := s.requests
			s.requests = nil
			s.reqMu.Unlock()

			var errs []error
			for _, r := range reqs {
				errs = append(errs, r.Close())
			}
			return errors.Join(errs...)
		}))

		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// step runs one teardown step, turning a panic into an error so the
// remaining steps still run.
func (s *Session) step(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
		if err != nil {
			metrics.TeardownErrorsTotal.WithLabelValues(name).Inc()
			s.logger.Error("teardown step failed", "step", name, "error", err)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
