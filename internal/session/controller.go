package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ayusman/tryon/internal/asset"
	"github.com/ayusman/tryon/internal/capture"
	"github.com/ayusman/tryon/internal/detector"
	"github.com/ayusman/tryon/internal/logging"
	"github.com/ayusman/tryon/internal/metrics"
	"github.com/ayusman/tryon/internal/pose"
	"github.com/ayusman/tryon/internal/render"
	"github.com/ayusman/tryon/internal/tracker"
)

// DefaultFrameInterval is the render tick period when none is configured.
const DefaultFrameInterval = time.Second / 30

// Config wires a Controller to its collaborators.
type Config struct {
	Platform capture.Platform
	Capture  capture.ManagerConfig
	// Facing is the preferred camera direction.
	Facing capture.Facing
	// Mobile disables mirroring of front cameras.
	Mobile bool

	// NewDetector is called once per session after the video plays. The
	// session owns and closes the result.
	NewDetector func() (detector.Detector, error)
	// NewContext creates the session's render context. mirror reports
	// whether the composited frame should be flipped horizontally.
	NewContext func(mirror bool) (render.Context, error)
	// Loader may be nil, in which case sessions show the placeholder.
	Loader *asset.Loader
	// DefaultModel supplies a model URL when a request has none.
	DefaultModel func(pose.Target) string

	Width         int
	Height        int
	FrameInterval time.Duration
	// VideoInterval paces reads from the camera stream.
	VideoInterval time.Duration

	// Clock drives the frame ticker.
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Controller owns at most one session and walks it through
// Idle → Starting → Active → Closing → Idle.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	current     *Session
	cancelStart context.CancelFunc
	closeDone   chan struct{}

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// NewController validates cfg and fills defaults.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Platform == nil {
		return nil, errors.New("session: platform is required")
	}
	if cfg.NewDetector == nil {
		return nil, errors.New("session: detector factory is required")
	}
	if cfg.NewContext == nil {
		return nil, errors.New("session: render context factory is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = cfg.Capture.Width, cfg.Capture.Height
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = capture.DefaultWidth, capture.DefaultHeight
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger,
		subs:   make(map[chan Event]struct{}),
	}, nil
}

// Open starts a session for req. The asset load and the camera acquisition
// run concurrently; Open returns once the video plays and rendering has
// started, with the placeholder standing in until the model is ready.
func (c *Controller) Open(ctx context.Context, req Request) (Status, error) {
	target, err := pose.ParseCategory(req.Category)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.ModelURL == "" && c.cfg.DefaultModel != nil {
		req.ModelURL = c.cfg.DefaultModel(target)
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return Status{}, ErrAlreadyOpen
	}
	startCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.state = Starting
	c.cancelStart = cancel
	c.closeDone = done
	c.mu.Unlock()

	defer close(done)
	defer cancel()

	s, err := c.start(startCtx, req, target)

	c.mu.Lock()
	closed := c.state == Closing
	if err != nil || closed {
		c.state = Idle
		c.cancelStart = nil
		c.mu.Unlock()

		s.close()
		if closed {
			err = ErrSessionClosed
		}
		metrics.SessionsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("try-on failed to start", "error", err)
		c.publish(Event{Kind: EventFailed, SessionID: s.id, ProductID: req.ProductID, Category: target.String(), Error: err.Error()})
		return Status{State: Idle.String()}, err
	}
	c.state = Active
	c.current = s
	c.cancelStart = nil
	s.start()

	metrics.SessionsTotal.WithLabelValues("opened").Inc()
	metrics.ActiveSessions.Inc()
	s.logger.Info("try-on opened", "product", req.ProductID, "category", target.String(), "facing", s.video.Facing().String())
	// published before unlocking so a racing Close cannot overtake it
	c.publish(Event{Kind: EventOpened, SessionID: s.id, ProductID: req.ProductID, Category: target.String(), ModelURL: req.ModelURL})
	c.mu.Unlock()

	st := s.status()
	st.State = Active.String()
	return st, nil
}

// start builds the session. On error the partially built session is
// returned so the caller can release it.
func (c *Controller) start(ctx context.Context, req Request, target pose.Target) (*Session, error) {
	id := uuid.NewString()
	logger := logging.WithSession(c.logger, id)
	s := newSession(id, req, target, c.cfg, logger, c.publish)

	s.requestModel(req.ModelURL)

	stream, err := s.manager.Acquire(ctx, c.cfg.Facing)
	if err != nil {
		return s, err
	}

	s.video = capture.NewVideo(stream, capture.VideoOptions{Interval: c.cfg.VideoInterval, Logger: logger})
	s.video.Start()
	if err := s.video.WaitPlayable(ctx); err != nil {
		return s, fmt.Errorf("wait for video: %w", err)
	}

	det, err := c.cfg.NewDetector()
	if err != nil {
		return s, fmt.Errorf("start detector: %w", err)
	}
	s.tracker = tracker.New(det, tracker.Options{Logger: logger})

	mirror := capture.Mirror(stream.Facing(), c.cfg.Mobile)
	rctx, err := c.cfg.NewContext(mirror)
	if err != nil {
		return s, fmt.Errorf("create render context: %w", err)
	}
	s.renderCtx = rctx
	s.mirrored = mirror

	s.loop = render.NewLoop(rctx, target, render.LoopOptions{Width: c.cfg.Width, Height: c.cfg.Height, Logger: logger})
	s.loop.SetModel(asset.Placeholder(placeholderShape(target)))
	return s, nil
}

// placeholderShape picks the stand-in form for a tracking target.
func placeholderShape(target pose.Target) asset.Shape {
	if target == pose.TargetWatch {
		return asset.ShapeBand
	}
	return asset.ShapeRing
}

// Close ends the current session. It is safe in any state: closing while
// starting aborts the start, and concurrent calls wait for the first.
func (c *Controller) Close() error {
	c.mu.Lock()
	switch c.state {
	case Idle:
		c.mu.Unlock()
		return nil

	case Starting:
		c.state = Closing
		cancel, done := c.cancelStart, c.closeDone
		c.mu.Unlock()
		cancel()
		<-done
		return nil

	case Closing:
		done := c.closeDone
		c.mu.Unlock()
		<-done
		return nil
	}

	s := c.current
	done := make(chan struct{})
	c.state = Closing
	c.closeDone = done
	c.mu.Unlock()

	err := s.close()

	c.mu.Lock()
	c.state = Idle
	c.current = nil
	close(done)
	c.mu.Unlock()

	metrics.ActiveSessions.Dec()
	metrics.SessionsTotal.WithLabelValues("closed").Inc()
	s.logger.Info("try-on closed", "frames", s.frames.Load())

	ev := Event{Kind: EventClosed, SessionID: s.id, ProductID: s.req.ProductID, Category: s.target.String()}
	if err != nil {
		ev.Error = err.Error()
	}
	c.publish(ev)
	return err
}

// ChangeModel switches the active session to another model. The previous
// load is superseded, not cancelled.
func (c *Controller) ChangeModel(url string) error {
	s, err := c.active()
	if err != nil {
		return err
	}
	return s.changeModel(url)
}

// Resize forwards a viewport change to the active session.
func (c *Controller) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: viewport %dx%d", ErrInvalidRequest, width, height)
	}
	s, err := c.active()
	if err != nil {
		return err
	}
	return s.resize(width, height)
}

func (c *Controller) active() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return nil, ErrNotActive
	}
	return c.current, nil
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the controller and its session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	state, s := c.state, c.current
	c.mu.Unlock()

	if s == nil {
		return Status{State: state.String()}
	}
	st := s.status()
	st.State = state.String()
	return st
}

// Subscribe returns a channel of lifecycle events and a function that
// cancels the subscription. Events are dropped for subscribers that fall
// behind.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, ch)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = c.cfg.Clock.Now()
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.logger.Warn("event subscriber lagging, event dropped", "kind", ev.Kind)
		}
	}
}
