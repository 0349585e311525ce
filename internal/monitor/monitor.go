// Package monitor drives a pipeline's RunState from its bus notifications.
//
// The state machine is one-way:
//
//	IDLE --Start--> RUNNING --EOS--> STOPPED_EOS
//	                        --ERROR--> STOPPED_ERROR
//
// Entering a stopped state sets the pipeline to NULL and notifies the
// transition handlers, which is how pending captures learn the pipeline is
// gone. State-change notifications are logged and otherwise ignored.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/still-capture/internal/media"
)

// PollInterval bounds how long Run waits on the bus before rechecking ctx.
const PollInterval = 50 * time.Millisecond

// prepareWindowHandle is the element message video overlay sinks post before
// their first frame.
const prepareWindowHandle = "prepare-window-handle"

// TransitionFunc observes a RunState change. cause is nil for IDLE→RUNNING.
type TransitionFunc func(from, to RunState, cause error)

// DisplayFunc receives pre-render hooks meant for a preview display.
type DisplayFunc func(msg *media.Message)

// Option configures a Monitor.
type Option func(*Monitor)

// WithTransitionHandler adds fn to the transition handlers. Handlers run in
// registration order on the goroutine that caused the transition.
func WithTransitionHandler(fn TransitionFunc) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.onTransition = append(m.onTransition, fn)
		}
	}
}

// WithDisplayHandler attaches a preview display.
func WithDisplayHandler(fn DisplayFunc) Option {
	return func(m *Monitor) {
		m.onDisplay = fn
	}
}

// Monitor owns the RunState of one pipeline.
type Monitor struct {
	pipeline     media.Pipeline
	onTransition []TransitionFunc
	onDisplay    DisplayFunc

	// mu serializes transitions; state is also readable without it.
	mu        sync.Mutex
	state     atomic.Int32
	cause     error
	startedAt time.Time

	errCounts ErrorCounters
}

// New returns an IDLE monitor for p.
func New(p media.Pipeline, opts ...Option) *Monitor {
	m := &Monitor{pipeline: p}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current RunState.
func (m *Monitor) State() RunState {
	return RunState(m.state.Load())
}

// Running reports whether the state is RUNNING.
func (m *Monitor) Running() bool {
	return m.State() == StateRunning
}

// Cause returns why the pipeline stopped, or nil while it has not.
func (m *Monitor) Cause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

// Errors returns the per-category error counts.
func (m *Monitor) Errors() ErrorStats {
	return ErrorStats{
		Device:      m.errCounts.Device.Load(),
		Negotiation: m.errCounts.Negotiation.Load(),
		Plugin:      m.errCounts.Plugin.Load(),
		Unknown:     m.errCounts.Unknown.Load(),
	}
}

// Start sets the pipeline PLAYING and enters RUNNING.
func (m *Monitor) Start() error {
	m.mu.Lock()
	from := m.State()
	if from != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, StateRunning)
	}
	if err := m.pipeline.SetState(media.StatePlaying); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("monitor: failed to start pipeline %s: %w", m.pipeline.Name(), err)
	}
	m.state.Store(int32(StateRunning))
	m.startedAt = time.Now()
	m.mu.Unlock()

	slog.Info("monitor: pipeline running", "pipeline", m.pipeline.Name())
	m.notify(from, StateRunning, nil)
	return nil
}

// Stop ends a RUNNING pipeline on behalf of the host. It is recorded as
// STOPPED_EOS with cause ErrStopped. Stopping a pipeline that is not RUNNING
// is a no-op.
func (m *Monitor) Stop() {
	m.stop(StateStoppedEOS, ErrStopped)
}

// Run consumes bus notifications until ctx is done or the pipeline stops.
// It returns nil on cancellation and the stop cause otherwise.
func (m *Monitor) Run(ctx context.Context) error {
	bus := m.pipeline.Bus()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("monitor: context cancelled, stopping bus loop")
			return nil
		default:
		}

		if m.State().Stopped() {
			return m.Cause()
		}

		msg := bus.TimedPop(PollInterval)
		if msg == nil {
			continue
		}
		m.Handle(msg)
	}
}

// Handle applies one bus notification.
func (m *Monitor) Handle(msg *media.Message) {
	switch msg.Type {
	case media.MessageEOS:
		slog.Info("monitor: end of stream received",
			"pipeline", m.pipeline.Name(),
			"source", msg.Source,
			"uptime", m.uptime(),
		)
		m.stop(StateStoppedEOS, ErrEndOfStream)

	case media.MessageError:
		category := Classify(msg)
		m.errCounts.add(category)

		slog.Error("monitor: pipeline error",
			"error", msg.Text,
			"debug", msg.Debug,
			"source", msg.Source,
			"category", category.String(),
			"uptime", m.uptime(),
		)
		m.stop(StateStoppedError, &PipelineError{
			Source:   msg.Source,
			Message:  msg.Text,
			Debug:    msg.Debug,
			Category: category,
		})

	case media.MessageStateChanged:
		if msg.Source == m.pipeline.Name() {
			slog.Debug("monitor: pipeline state changed",
				"from", msg.OldState.String(),
				"to", msg.NewState.String(),
			)
		}

	case media.MessageElement:
		if msg.Structure != prepareWindowHandle {
			return
		}
		if m.onDisplay == nil {
			slog.Debug("monitor: window handle requested, no display attached", "source", msg.Source)
			return
		}
		m.onDisplay(msg)
	}
}

// stop moves RUNNING to the given terminal state. Only the first stop wins.
func (m *Monitor) stop(to RunState, cause error) {
	m.mu.Lock()
	from := m.State()
	if from != StateRunning {
		m.mu.Unlock()
		if from == StateIdle {
			slog.Debug("monitor: ignoring stop, pipeline not started", "to", to.String())
		}
		return
	}
	m.state.Store(int32(to))
	m.cause = cause
	m.mu.Unlock()

	if err := m.pipeline.SetState(media.StateNull); err != nil {
		slog.Warn("monitor: failed to halt pipeline", "pipeline", m.pipeline.Name(), "error", err)
	}

	attrs := []any{"pipeline", m.pipeline.Name(), "from", from.String(), "to", to.String()}
	var perr *PipelineError
	if errors.As(cause, &perr) {
		attrs = append(attrs, "error", perr.Message, "debug", perr.Debug)
	}
	slog.Info("monitor: pipeline stopped", attrs...)

	m.notify(from, to, cause)
}

func (m *Monitor) notify(from, to RunState, cause error) {
	for _, fn := range m.onTransition {
		fn(from, to, cause)
	}
}

func (m *Monitor) uptime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startedAt.IsZero() {
		return 0
	}
	return time.Since(m.startedAt)
}
