// Package sink implements the capture sink: the terminal pipeline stage that
// hands frames to callers who asked for one.
//
// Frames are only kept when a request is outstanding. A request registered
// with RequestImage is satisfied by the next frame the streaming thread
// delivers; that frame is stored under a fresh identifier until PopImage
// transfers it to the caller. Frames arriving with no request are dropped.
package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/still-capture/internal/media"
)

// ErrUnknownIdentifier is returned by PopImage for identifiers that were never
// issued or were already popped.
var ErrUnknownIdentifier = errors.New("sink: unknown image identifier")

// Frame is a captured image. The caller owns it after PopImage.
type Frame struct {
	// ID is the sink-assigned identifier, unique for the sink's lifetime.
	ID string
	// Seq is the numeric form of ID.
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	// Data is JPEG when Compressed, packed RGB otherwise.
	Data       []byte
	Compressed bool
	// TraceID correlates log lines about this frame.
	TraceID string
}

// ReadyFunc is invoked from the streaming thread with the identifier of the
// frame that satisfied the request.
type ReadyFunc func(id string)

// CancelFunc withdraws a request. It reports whether the request was still
// waiting; false means a frame was already assigned to it or the sink halted.
type CancelFunc func() bool

type waiter struct {
	onReady ReadyFunc
}

// Config describes the sink.
type Config struct {
	Name   string
	Width  int
	Height int
	// Raw selects packed RGB payloads instead of JPEG.
	Raw bool
}

// Stats are the sink's counters.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	Buffered  int
	Pending   int
}

// CaptureSink buffers requested frames until they are popped.
type CaptureSink struct {
	cfg     Config
	element media.Element

	mu      sync.Mutex
	waiters []*waiter
	frames  map[string]*Frame
	nextSeq uint64
	halted  bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates the sink and its media element on rt.
func New(rt media.Runtime, cfg Config) (*CaptureSink, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("sink: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Name == "" {
		cfg.Name = "capture_sink"
	}

	s := &CaptureSink{
		cfg:    cfg,
		frames: make(map[string]*Frame),
	}

	el, err := rt.NewAppSink(media.SinkConfig{
		Name:   cfg.Name,
		Width:  cfg.Width,
		Height: cfg.Height,
		Raw:    cfg.Raw,
	}, s.deliver)
	if err != nil {
		return nil, fmt.Errorf("sink: failed to create capture sink: %w", err)
	}
	s.element = el

	return s, nil
}

// Element returns the media element to append to the pipeline.
func (s *CaptureSink) Element() media.Element { return s.element }

// Raw reports whether the sink receives raw frames.
func (s *CaptureSink) Raw() bool { return s.cfg.Raw }

// Size returns the configured frame size.
func (s *CaptureSink) Size() (width, height int) { return s.cfg.Width, s.cfg.Height }

// RequestImage registers interest in the next frame. onReady fires at most
// once, asynchronously, from the streaming thread. Requests are served in
// registration order, one frame each. The returned CancelFunc removes the
// request if no frame has been assigned to it yet.
func (s *CaptureSink) RequestImage(onReady ReadyFunc) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted {
		slog.Debug("sink: request ignored, sink halted")
		return func() bool { return false }
	}
	w := &waiter{onReady: onReady}
	s.waiters = append(s.waiters, w)

	return func() bool { return s.cancel(w) }
}

func (s *CaptureSink) cancel(w *waiter) bool {
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

// PopImage removes and returns the frame stored under id.
func (s *CaptureSink) PopImage(id string) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.frames[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIdentifier, id)
	}
	delete(s.frames, id)
	return f, nil
}

// Halt stops the sink from serving requests. Outstanding requests are
// discarded without being signalled and later frames are dropped.
func (s *CaptureSink) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted {
		return
	}
	s.halted = true
	if n := len(s.waiters); n > 0 {
		slog.Debug("sink: halted with outstanding requests", "requests", n)
	}
	s.waiters = nil
}

// Stats returns a snapshot of the counters.
func (s *CaptureSink) Stats() Stats {
	s.mu.Lock()
	buffered, pending := len(s.frames), len(s.waiters)
	s.mu.Unlock()

	return Stats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Buffered:  buffered,
		Pending:   pending,
	}
}

// deliver runs on the streaming thread for every payload reaching the sink.
func (s *CaptureSink) deliver(data []byte) {
	s.mu.Lock()
	if s.halted || len(s.waiters) == 0 {
		s.mu.Unlock()
		s.dropped.Add(1)
		return
	}

	onReady := s.waiters[0].onReady
	s.waiters[0] = nil
	s.waiters = s.waiters[1:]

	seq := s.nextSeq
	s.nextSeq++
	f := &Frame{
		ID:         strconv.FormatUint(seq, 10),
		Seq:        seq,
		Timestamp:  time.Now(),
		Width:      s.cfg.Width,
		Height:     s.cfg.Height,
		Data:       data,
		Compressed: !s.cfg.Raw,
		TraceID:    uuid.New().String(),
	}
	s.frames[f.ID] = f
	s.mu.Unlock()

	s.delivered.Add(1)
	slog.Debug("sink: frame captured",
		"id", f.ID,
		"size_bytes", len(data),
		"trace_id", f.TraceID,
	)

	// Outside the lock: the callback may call back into the sink.
	onReady(f.ID)
}
