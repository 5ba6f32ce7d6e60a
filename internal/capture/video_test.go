package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestVideo_WaitPlayableAndCurrent(t *testing.T) {
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	stream := NewMockStream("0", FacingUser, []*gocv.Mat{&frame}, true)
	video := NewVideo(stream, VideoOptions{Interval: time.Millisecond})
	defer video.Close()

	_, _, ok := video.Current()
	assert.False(t, ok, "no frame before start")

	video.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, video.WaitPlayable(ctx))
	assert.True(t, video.Playable())

	current, seq, ok := video.Current()
	require.True(t, ok)
	defer current.Close()
	assert.GreaterOrEqual(t, seq, uint64(1))
	assert.Equal(t, 64, current.Cols())
	assert.Equal(t, 48, current.Rows())
	assert.Equal(t, FacingUser, video.Facing())
}

func TestVideo_NotPlayableWhenStreamStops(t *testing.T) {
	stream := NewMockStream("0", FacingUser, nil, false)
	StopTracks(stream)

	video := NewVideo(stream, VideoOptions{Interval: time.Millisecond})
	defer video.Close()
	video.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, video.WaitPlayable(ctx), ErrNotPlayable)
}

func TestVideo_WaitPlayableHonoursContext(t *testing.T) {
	stream := NewMockStream("0", FacingUser, nil, false)
	video := NewVideo(stream, VideoOptions{Interval: time.Millisecond})
	defer video.Close()
	video.Start()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, video.WaitPlayable(ctx), context.Canceled)
}

func TestVideo_CloseIsIdempotent(t *testing.T) {
	frame := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer frame.Close()

	stream := NewMockStream("0", FacingUser, []*gocv.Mat{&frame}, true)
	video := NewVideo(stream, VideoOptions{Interval: time.Millisecond})

	require.NoError(t, video.Close(), "close before start")

	video = NewVideo(stream, VideoOptions{Interval: time.Millisecond})
	video.Start()
	require.NoError(t, video.Close())
	require.NoError(t, video.Close())

	_, _, ok := video.Current()
	assert.False(t, ok, "no frame after close")
	assert.False(t, stream.Stopped(), "video must not stop the manager's tracks")
}

func TestVideo_DropsCountUnreadFrames(t *testing.T) {
	stream := NewMockStream("0", FacingUser, nil, false)
	video := NewVideo(stream, VideoOptions{Interval: time.Millisecond})
	defer video.Close()

	publish := func() {
		frame := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
		video.publish(&frame)
	}
	read := func() uint64 {
		frame, seq, ok := video.Current()
		require.True(t, ok)
		frame.Close()
		return seq
	}

	publish()
	assert.Zero(t, video.Drops(), "first frame overwrites nothing")

	publish()
	assert.Equal(t, uint64(1), video.Drops(), "frame 1 was never read")

	assert.Equal(t, uint64(2), read())
	publish()
	assert.Equal(t, uint64(1), video.Drops(), "frame 2 was read before the overwrite")

	// reading the same slot twice still counts as one read
	assert.Equal(t, uint64(3), read())
	assert.Equal(t, uint64(3), read())
	publish()
	publish()
	assert.Equal(t, uint64(2), video.Drops(), "only frame 4 went unread")
}
