// Package tracker feeds video frames to a hand-landmark detector and keeps
// the last successful detection.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"gocv.io/x/gocv"

	"github.com/ayusman/tryon/internal/detector"
	"github.com/ayusman/tryon/internal/metrics"
)

// ErrDetectorFrame wraps a detector failure on a single frame.
var ErrDetectorFrame = errors.New("detector frame error")

// Result is the outcome of one submitted frame.
type Result struct {
	Seq      uint64
	Hands    []detector.HandLandmarks
	Err      error
	Duration time.Duration
}

// Options configures a Tracker.
type Options struct {
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Tracker runs at most one detection at a time. Results are delivered on
// Results and must be passed back to Apply by the owner, which is also
// what allows the next submission.
type Tracker struct {
	det    detector.Detector
	clock  clockwork.Clock
	logger *slog.Logger

	results chan Result
	wg      sync.WaitGroup

	mu       sync.Mutex
	inFlight bool
	lastSeq  uint64
	closed   bool
	latest   *detector.HandLandmarks

	closeOnce sync.Once
	closeErr  error
}

// New wraps det. The tracker owns det and closes it on Close.
func New(det detector.Detector, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tracker{
		det:     det,
		clock:   opts.Clock,
		logger:  opts.Logger,
		results: make(chan Result, 1),
	}
}

// Submit starts detection on a copy of frame when it is a new decodable
// frame and nothing is in flight. It reports whether the frame was taken.
// The caller keeps ownership of frame.
func (t *Tracker) Submit(frame *gocv.Mat, seq uint64) bool {
	if frame == nil || frame.Empty() {
		return false
	}

	t.mu.Lock()
	if t.closed || t.inFlight || seq <= t.lastSeq {
		t.mu.Unlock()
		return false
	}
	t.inFlight = true
	t.lastSeq = seq
	t.wg.Add(1)
	t.mu.Unlock()

	clone := frame.Clone()
	go t.detect(clone, seq)
	return true
}

func (t *Tracker) detect(frame gocv.Mat, seq uint64) {
	defer t.wg.Done()
	defer frame.Close()

	start := t.clock.Now()
	hands, err := t.det.Detect(&frame)
	r := Result{Seq: seq, Hands: hands, Duration: t.clock.Since(start)}
	if err != nil {
		r.Err = fmt.Errorf("%w: frame %d: %w", ErrDetectorFrame, seq, err)
	}

	// Never blocks: only one detection is in flight and the slot is
	// drained before the next Submit is accepted.
	t.results <- r
}

// Results delivers detection outcomes.
func (t *Tracker) Results() <-chan Result {
	return t.results
}

// Apply records a result. The latest landmark set changes only when at
// least one hand was found; errors are logged and counted. It reports
// whether the latest set changed.
func (t *Tracker) Apply(r Result) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inFlight = false
	if t.closed {
		return false
	}

	metrics.DetectionDuration.Observe(r.Duration.Seconds())

	switch {
	case r.Err != nil:
		metrics.DetectionsTotal.WithLabelValues("error").Inc()
		metrics.DetectorErrorsTotal.Inc()
		t.logger.Warn("hand detection failed", "seq", r.Seq, "error", r.Err)
		return false
	case len(r.Hands) == 0:
		metrics.DetectionsTotal.WithLabelValues("empty").Inc()
		return false
	default:
		metrics.DetectionsTotal.WithLabelValues("hand").Inc()
		hand := r.Hands[0]
		t.latest = &hand
		return true
	}
}

// Latest returns the most recent landmark set, or nil before the first
// detection with a hand.
func (t *Tracker) Latest() *detector.HandLandmarks {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest == nil {
		return nil
	}
	hand := *t.latest
	return &hand
}

// Busy reports whether a detection is in flight.
func (t *Tracker) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// Close stops accepting frames, waits for an in-flight detection and
// closes the detector. Only the first call does any work.
func (t *Tracker) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()

		t.wg.Wait()
		if err := t.det.Close(); err != nil {
			t.closeErr = fmt.Errorf("close detector: %w", err)
		}
	})
	return t.closeErr
}
