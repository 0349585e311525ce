// Package capture turns the sink's asynchronous "frame ready" notification
// into a blocking single-frame capture.
//
// Each CaptureOne call allocates its own one-shot request. The request is
// completed exactly once: by the sink callback with a frame identifier, by
// Halt with ErrPipelineStopped, or by the caller's context. A request ended by
// its context is withdrawn from the sink; a frame the sink had already
// assigned to it is popped and discarded.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/still-capture/internal/sink"
)

var (
	// ErrPipelineNotRunning is returned when a capture is requested while the
	// pipeline is not RUNNING.
	ErrPipelineNotRunning = errors.New("capture: pipeline not running")

	// ErrRequestAlreadyPending is returned when CaptureOne is called while an
	// earlier call has not returned yet.
	ErrRequestAlreadyPending = errors.New("capture: request already pending")

	// ErrPipelineStopped is returned to a pending caller when the pipeline
	// stops before a frame arrives.
	ErrPipelineStopped = errors.New("capture: pipeline stopped")
)

// Sink is the part of the frame sink the coordinator drives.
type Sink interface {
	RequestImage(onReady sink.ReadyFunc) sink.CancelFunc
	PopImage(id string) (*sink.Frame, error)
}

// StateSource reports whether the pipeline is RUNNING.
type StateSource interface {
	Running() bool
}

// Stats are the coordinator's counters.
type Stats struct {
	Captured  uint64
	Rejected  uint64
	Cancelled uint64
	Stopped   uint64

	LatencyMeanMS float64
	LatencyP95MS  float64
	LatencyMaxMS  float64
}

// request is one in-flight capture. Fields below done are guarded by
// Coordinator.mu.
type request struct {
	done    chan struct{}
	started time.Time

	completed bool
	id        string
	err       error
}

// Coordinator serializes captures against one sink.
type Coordinator struct {
	sink  Sink
	state StateSource

	mu      sync.Mutex
	pending *request
	halted  bool
	latency LatencyWindow

	captured  atomic.Uint64
	rejected  atomic.Uint64
	cancelled atomic.Uint64
	stopped   atomic.Uint64
}

// New returns a coordinator for s, gated on state.
func New(s Sink, state StateSource) *Coordinator {
	return &Coordinator{sink: s, state: state}
}

// CaptureOne blocks until the next frame produced after the call and returns
// it. The caller owns the frame.
//
// With context.Background the call waits as long as the pipeline runs. If the
// pipeline stops first the call fails with ErrPipelineStopped; if ctx ends
// first it fails with ctx.Err().
func (c *Coordinator) CaptureOne(ctx context.Context) (*sink.Frame, error) {
	c.mu.Lock()
	if c.halted || !c.state.Running() {
		c.mu.Unlock()
		c.rejected.Add(1)
		return nil, ErrPipelineNotRunning
	}
	if c.pending != nil {
		c.mu.Unlock()
		c.rejected.Add(1)
		return nil, ErrRequestAlreadyPending
	}
	req := &request{done: make(chan struct{}), started: time.Now()}
	c.pending = req
	c.mu.Unlock()

	// Outside the lock: a sink may fire onReady synchronously.
	cancel := c.sink.RequestImage(func(id string) { c.complete(req, id, nil) })

	select {
	case <-req.done:
	case <-ctx.Done():
		c.mu.Lock()
		abandoned := !req.completed
		if abandoned {
			req.completed = true
			req.err = ctx.Err()
			close(req.done)
		}
		c.mu.Unlock()

		// A frame already assigned to the request is released by complete.
		if abandoned && cancel() {
			slog.Debug("capture: request withdrawn from sink", "error", ctx.Err())
		}
	}

	c.mu.Lock()
	if c.pending == req {
		c.pending = nil
	}
	id, err := req.id, req.err
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrPipelineStopped) {
			c.stopped.Add(1)
		} else {
			c.cancelled.Add(1)
		}
		slog.Debug("capture: request ended without frame", "error", err)
		return nil, err
	}

	frame, err := c.sink.PopImage(id)
	if err != nil {
		return nil, fmt.Errorf("capture: failed to retrieve frame %q: %w", id, err)
	}

	elapsed := time.Since(req.started)
	c.mu.Lock()
	c.latency.AddSample(float64(elapsed.Microseconds()) / 1000.0)
	c.mu.Unlock()
	c.captured.Add(1)

	slog.Debug("capture: frame captured",
		"id", frame.ID,
		"latency_ms", float64(elapsed.Microseconds())/1000.0,
		"trace_id", frame.TraceID,
	)
	return frame, nil
}

// Halt refuses further captures and completes a pending one with
// ErrPipelineStopped wrapping cause. Safe to call more than once.
func (c *Coordinator) Halt(cause error) {
	err := ErrPipelineStopped
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrPipelineStopped, cause)
	}

	c.mu.Lock()
	c.halted = true
	req := c.pending
	c.mu.Unlock()

	if req != nil {
		slog.Info("capture: waking pending request, pipeline stopped")
		c.complete(req, "", err)
	}
}

// Pending reports whether a capture is in flight.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Stats returns a snapshot of the counters and the latency window.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	mean, p95, max := c.latency.GetStats()
	c.mu.Unlock()

	return Stats{
		Captured:      c.captured.Load(),
		Rejected:      c.rejected.Load(),
		Cancelled:     c.cancelled.Load(),
		Stopped:       c.stopped.Load(),
		LatencyMeanMS: mean,
		LatencyP95MS:  p95,
		LatencyMaxMS:  max,
	}
}

// complete resolves req once. Later completions that carry a frame release
// it from the sink.
func (c *Coordinator) complete(req *request, id string, err error) {
	c.mu.Lock()
	if req.completed {
		c.mu.Unlock()
		if id != "" {
			if _, popErr := c.sink.PopImage(id); popErr == nil {
				slog.Debug("capture: discarded late frame", "id", id)
			}
		}
		return
	}
	req.completed = true
	req.id, req.err = id, err
	close(req.done)
	c.mu.Unlock()
}
