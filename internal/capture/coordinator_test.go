package capture

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/e7canasta/still-capture/internal/sink"
)

// fakeSink serves requests in order from produce calls.
type fakeSink struct {
	mu        sync.Mutex
	waiters   []*sink.ReadyFunc
	frames    map[string]*sink.Frame
	next      uint64
	requested chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		frames:    make(map[string]*sink.Frame),
		requested: make(chan struct{}, 16),
	}
}

func (s *fakeSink) RequestImage(onReady sink.ReadyFunc) sink.CancelFunc {
	w := &onReady
	s.mu.Lock()
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()
	s.requested <- struct{}{}

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, cur := range s.waiters {
			if cur == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				return true
			}
		}
		return false
	}
}

func (s *fakeSink) PopImage(id string) (*sink.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[id]
	if !ok {
		return nil, sink.ErrUnknownIdentifier
	}
	delete(s.frames, id)
	return f, nil
}

// produce delivers one frame to the oldest waiter, if any.
func (s *fakeSink) produce() bool {
	s.mu.Lock()
	if len(s.waiters) == 0 {
		s.mu.Unlock()
		return false
	}
	onReady := *s.waiters[0]
	s.waiters = s.waiters[1:]
	f := &sink.Frame{ID: strconv.FormatUint(s.next, 10), Seq: s.next, Data: []byte{0xff, 0xd8}}
	s.next++
	s.frames[f.ID] = f
	s.mu.Unlock()

	onReady(f.ID)
	return true
}

func (s *fakeSink) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

func (s *fakeSink) buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSink) waitRequest(t *testing.T) {
	t.Helper()
	select {
	case <-s.requested:
	case <-time.After(2 * time.Second):
		t.Fatal("no request registered with sink")
	}
}

type runFlag struct{ atomic.Bool }

func (f *runFlag) Running() bool { return f.Load() }

func running() *runFlag {
	f := &runFlag{}
	f.Store(true)
	return f
}

type result struct {
	frame *sink.Frame
	err   error
}

func captureAsync(ctx context.Context, c *Coordinator) <-chan result {
	out := make(chan result, 1)
	go func() {
		f, err := c.CaptureOne(ctx)
		out <- result{f, err}
	}()
	return out
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("CaptureOne did not return")
		return result{}
	}
}

func TestCaptureOne_ReturnsFreshFrames(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newFakeSink()
	c := New(s, running())

	for _, want := range []string{"0", "1"} {
		done := captureAsync(context.Background(), c)
		s.waitRequest(t)
		require.True(t, s.produce())

		r := await(t, done)
		require.NoError(t, r.err)
		assert.Equal(t, want, r.frame.ID)
		assert.NotEmpty(t, r.frame.Data)
	}

	assert.False(t, c.Pending())
	assert.Equal(t, 0, s.buffered(), "sink must not retain popped frames")
	assert.Equal(t, uint64(2), c.Stats().Captured)
}

func TestCaptureOne_NotRunning(t *testing.T) {
	s := newFakeSink()
	c := New(s, &runFlag{})

	_, err := c.CaptureOne(context.Background())
	assert.ErrorIs(t, err, ErrPipelineNotRunning)
	assert.Empty(t, s.requested, "no request may reach the sink")
	assert.Equal(t, uint64(1), c.Stats().Rejected)
}

func TestCaptureOne_RequestAlreadyPending(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newFakeSink()
	c := New(s, running())

	first := captureAsync(context.Background(), c)
	s.waitRequest(t)

	_, err := c.CaptureOne(context.Background())
	assert.ErrorIs(t, err, ErrRequestAlreadyPending)

	// The rejected call must not disturb the pending one.
	require.True(t, s.produce())
	r := await(t, first)
	require.NoError(t, r.err)
	assert.Equal(t, "0", r.frame.ID)
}

func TestHalt_WakesPendingCaller(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newFakeSink()
	c := New(s, running())

	done := captureAsync(context.Background(), c)
	s.waitRequest(t)

	c.Halt(errors.New("Internal data stream error."))

	r := await(t, done)
	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, ErrPipelineStopped)
	assert.Contains(t, r.err.Error(), "Internal data stream error.")
	assert.Equal(t, uint64(1), c.Stats().Stopped)

	// A frame arriving after the stop is released, not leaked.
	require.True(t, s.produce())
	assert.Equal(t, 0, s.buffered())

	_, err := c.CaptureOne(context.Background())
	assert.ErrorIs(t, err, ErrPipelineNotRunning)
}

func TestHalt_Idle(t *testing.T) {
	c := New(newFakeSink(), running())
	c.Halt(nil)
	c.Halt(nil)

	_, err := c.CaptureOne(context.Background())
	assert.ErrorIs(t, err, ErrPipelineNotRunning)
}

func TestCaptureOne_ContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newFakeSink()
	c := New(s, running())

	ctx, cancel := context.WithCancel(context.Background())
	done := captureAsync(ctx, c)
	s.waitRequest(t)
	cancel()

	r := await(t, done)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.False(t, c.Pending())

	// The abandoned request no longer waits in the sink.
	assert.Equal(t, 0, s.pending())
	assert.False(t, s.produce())

	// The next capture gets the very next frame.
	next := captureAsync(context.Background(), c)
	s.waitRequest(t)
	require.True(t, s.produce())
	r = await(t, next)
	require.NoError(t, r.err)
	assert.Equal(t, "0", r.frame.ID)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Cancelled)
	assert.Equal(t, uint64(1), stats.Captured)
}

func TestCaptureOne_RepeatedTimeoutsLeaveNoWaiters(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newFakeSink()
	c := New(s, running())

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err := c.CaptureOne(ctx)
		cancel()
		s.waitRequest(t)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, 0, s.pending())

	next := captureAsync(context.Background(), c)
	s.waitRequest(t)
	require.True(t, s.produce())
	r := await(t, next)
	require.NoError(t, r.err)
	assert.Equal(t, "0", r.frame.ID)
	assert.Equal(t, uint64(5), c.Stats().Cancelled)
}

// A frame assigned just before the caller gives up is released, not leaked.
func TestComplete_FrameAfterCancel(t *testing.T) {
	s := newFakeSink()
	c := New(s, running())

	req := &request{done: make(chan struct{})}
	withdraw := s.RequestImage(func(id string) { c.complete(req, id, nil) })
	s.waitRequest(t)

	c.complete(req, "", context.Canceled)
	require.True(t, s.produce())

	assert.False(t, withdraw(), "request was already served")
	assert.Equal(t, 0, s.buffered())
}

func TestCaptureOne_Deadline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := New(newFakeSink(), running())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.CaptureOne(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStats_Latency(t *testing.T) {
	s := newFakeSink()
	c := New(s, running())

	done := captureAsync(context.Background(), c)
	s.waitRequest(t)
	time.Sleep(5 * time.Millisecond)
	require.True(t, s.produce())
	require.NoError(t, await(t, done).err)

	stats := c.Stats()
	assert.GreaterOrEqual(t, stats.LatencyMaxMS, 5.0)
	assert.LessOrEqual(t, stats.LatencyMeanMS, stats.LatencyMaxMS)
	assert.LessOrEqual(t, stats.LatencyP95MS, stats.LatencyMaxMS)
}
