package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"gocv.io/x/gocv"
)

// ErrNotPlayable is returned by WaitPlayable when the reader stops before
// producing a decodable frame.
var ErrNotPlayable = errors.New("video never became playable")

// DefaultReadInterval paces reads from streams that return immediately.
const DefaultReadInterval = 10 * time.Millisecond

// VideoOptions configures a Video.
type VideoOptions struct {
	// Interval is the pause after a failed read and the minimum spacing
	// between reads.
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Video reads frames from a stream on its own goroutine and keeps only the
// most recent one. Consumers never see a queue: a slow consumer simply
// observes a higher sequence number next time.
type Video struct {
	stream Stream
	opts   VideoOptions

	mu     sync.Mutex
	latest *gocv.Mat
	seq    uint64
	// read is set once the frame in the slot has been returned by Current.
	read  bool
	drops uint64

	playable chan struct{}
	playOnce sync.Once

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewVideo creates a reader over stream. Call Start to begin reading.
func NewVideo(stream Stream, opts VideoOptions) *Video {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReadInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Video{
		stream:   stream,
		opts:     opts,
		playable: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the reader goroutine. Calls after the first are no-ops.
func (v *Video) Start() {
	v.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		v.mu.Lock()
		v.cancel = cancel
		v.mu.Unlock()
		go v.run(ctx)
	})
}

func (v *Video) run(ctx context.Context) {
	defer close(v.done)

	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := v.stream.ReadFrame()
		switch {
		case errors.Is(err, ErrStreamStopped):
			return
		case err != nil:
			v.opts.Logger.Debug("video read failed", "error", err)
		default:
			v.publish(frame)
		}

		select {
		case <-ctx.Done():
			return
		case <-v.opts.Clock.After(v.opts.Interval):
		}
	}
}

// publish overwrites the slot with frame, taking ownership of it.
func (v *Video) publish(frame *gocv.Mat) {
	if frame == nil || frame.Empty() {
		if frame != nil {
			frame.Close()
		}
		return
	}

	v.mu.Lock()
	if v.latest != nil {
		v.latest.Close()
		if !v.read {
			v.drops++
		}
	}
	v.latest = frame
	v.seq++
	v.read = false
	v.mu.Unlock()

	v.playOnce.Do(func() { close(v.playable) })
}

// WaitPlayable blocks until the first decodable frame has been read.
func (v *Video) WaitPlayable(ctx context.Context) error {
	select {
	case <-v.playable:
		return nil
	default:
	}

	select {
	case <-v.playable:
		return nil
	case <-v.done:
		select {
		case <-v.playable:
			return nil
		default:
			return ErrNotPlayable
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Playable reports whether a decodable frame is available.
func (v *Video) Playable() bool {
	select {
	case <-v.playable:
		return true
	default:
		return false
	}
}

// Current returns a clone of the latest frame and its sequence number.
// The caller owns the returned Mat. ok is false before the first frame
// and after Close.
func (v *Video) Current() (frame gocv.Mat, seq uint64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.latest == nil {
		return gocv.Mat{}, v.seq, false
	}
	v.read = true
	return v.latest.Clone(), v.seq, true
}

// Sequence returns the sequence number of the latest frame.
func (v *Video) Sequence() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.seq
}

// Drops returns how many frames were overwritten before being read.
func (v *Video) Drops() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.drops
}

// Facing returns the facing of the underlying stream.
func (v *Video) Facing() Facing {
	return v.stream.Facing()
}

// Close stops the reader and releases the held frame. It does not stop
// the stream's tracks; that belongs to the Manager.
func (v *Video) Close() error {
	v.closeOnce.Do(func() {
		v.mu.Lock()
		cancel := v.cancel
		v.mu.Unlock()

		if cancel != nil {
			cancel()
			<-v.done
		}

		v.mu.Lock()
		if v.latest != nil {
			v.latest.Close()
			v.latest = nil
		}
		v.mu.Unlock()
	})
	return nil
}
