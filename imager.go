package stillcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/still-capture/internal/capture"
	"github.com/e7canasta/still-capture/internal/media"
	"github.com/e7canasta/still-capture/internal/media/gstreamer"
	"github.com/e7canasta/still-capture/internal/metrics"
	"github.com/e7canasta/still-capture/internal/monitor"
	"github.com/e7canasta/still-capture/internal/pipeline"
	"github.com/e7canasta/still-capture/internal/sink"
	"github.com/e7canasta/still-capture/internal/source"
)

// Imager owns one capture pipeline and serves single-frame captures from it.
type Imager struct {
	cfg     Config
	rt      media.Runtime
	kind    source.Kind
	graph   *pipeline.Graph
	sink    *sink.CaptureSink
	monitor *monitor.Monitor
	coord   *capture.Coordinator

	// Bus loop lifecycle
	mu         sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	loopErr    error

	// Shutdown protection (atomic flag so Close runs once)
	closed atomic.Bool
}

// New assembles the pipeline described by cfg. The pipeline is left IDLE;
// call Start or Run to begin streaming.
//
// Fails with ErrUnsupportedBackend for an unknown source name,
// ErrBackendUnavailable when the source element cannot be created and
// ErrLinkFailure when two stages cannot be linked.
func New(cfg Config) (*Imager, error) {
	res := Resolution{Width: cfg.Width, Height: cfg.Height}
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("still-capture: %w", err)
	}
	if cfg.PipelineName == "" {
		cfg.PipelineName = DefaultPipelineName
	}

	rt := cfg.Runtime
	if rt == nil {
		rt = gstreamer.New()
	}
	if err := rt.EnsureInitialized(); err != nil {
		return nil, fmt.Errorf("still-capture: %s runtime not available: %w", rt.Name(), err)
	}

	kind, err := source.ParseKind(cfg.Source)
	if err != nil {
		return nil, err
	}
	backend, err := source.New(kind, source.Options{
		DevicePath: cfg.DevicePath,
		Preset:     cfg.VendorPreset,
		Pattern:    cfg.TestPattern,
		Properties: cfg.SourceProperties,
	})
	if err != nil {
		return nil, err
	}
	node, err := source.Create(rt, backend)
	if err != nil {
		return nil, err
	}

	snk, err := sink.New(rt, sink.Config{
		Width:  res.Width,
		Height: res.Height,
		Raw:    !cfg.EncodeToCompressed,
	})
	if err != nil {
		return nil, fmt.Errorf("still-capture: %w", err)
	}

	graph, err := pipeline.Build(rt, pipeline.Spec{
		Name:       cfg.PipelineName,
		Source:     node,
		Resolution: res,
		Encode:     cfg.EncodeToCompressed,
		Sink:       snk,
	})
	if err != nil {
		return nil, fmt.Errorf("still-capture: failed to build pipeline: %w", err)
	}

	im := &Imager{
		cfg:   cfg,
		rt:    rt,
		kind:  kind,
		graph: graph,
		sink:  snk,
	}

	opts := []monitor.Option{monitor.WithTransitionHandler(im.onTransition)}
	if cfg.OnPrepareWindowHandle != nil {
		opts = append(opts, monitor.WithDisplayHandler(func(msg *media.Message) {
			cfg.OnPrepareWindowHandle(msg.Source)
		}))
	}
	im.monitor = monitor.New(graph.Pipeline(), opts...)
	im.coord = capture.New(snk, im.monitor)

	slog.Info("still-capture: imager created",
		"source", kind.String(),
		"resolution", res.String(),
		"compressed", cfg.EncodeToCompressed,
		"runtime", rt.Name(),
	)

	return im, nil
}

// Start requests the PLAYING state and starts watching the bus in the
// background. GStreamer may complete the state change after Start returns.
// Only an IDLE imager can be started.
func (im *Imager) Start(ctx context.Context) error {
	if im.closed.Load() {
		return ErrClosed
	}

	im.mu.Lock()
	defer im.mu.Unlock()

	if im.loopDone != nil {
		return fmt.Errorf("still-capture: imager already started")
	}
	if err := im.monitor.Start(); err != nil {
		return fmt.Errorf("still-capture: %w", err)
	}

	// The bus loop lives until Close or a stop, not until ctx ends.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	im.loopCancel, im.loopDone = cancel, done

	go func() {
		defer close(done)
		im.loopErr = im.monitor.Run(loopCtx)
	}()

	return nil
}

// CaptureOne blocks until the next frame produced after the call and returns
// it.
//
// Only one call may be in flight; a concurrent call fails with
// ErrRequestAlreadyPending. Calls on an imager that is not RUNNING fail with
// ErrPipelineNotRunning. If the pipeline stops while waiting the call fails
// with ErrPipelineStopped, wrapping the stop cause.
func (im *Imager) CaptureOne(ctx context.Context) (*Frame, error) {
	start := time.Now()
	f, err := im.coord.CaptureOne(ctx)
	if err != nil {
		metrics.ObserveCapture(captureResult(err), 0, 0)
		return nil, err
	}

	metrics.ObserveCapture(metrics.ResultOK, time.Since(start), len(f.Data))
	return newFrame(f), nil
}

// Get captures one frame and returns it keyed by sensor index. A single
// camera is always sensor "0".
func (im *Imager) Get(ctx context.Context) (map[string]*Frame, error) {
	f, err := im.CaptureOne(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]*Frame{"0": f}, nil
}

// WH returns the configured frame size.
func (im *Imager) WH() (width, height int) {
	res := im.graph.Resolution()
	return res.Width, res.Height
}

// State returns the current RunState.
func (im *Imager) State() RunState {
	return im.monitor.State()
}

// Describe returns the pipeline in gst-launch notation.
func (im *Imager) Describe() string {
	return im.graph.String()
}

// Stats returns current statistics. Safe to call from any goroutine.
func (im *Imager) Stats() Stats {
	cs := im.coord.Stats()
	ss := im.sink.Stats()
	es := im.monitor.Errors()

	return Stats{
		State:             im.monitor.State(),
		Resolution:        im.graph.Resolution().String(),
		Compressed:        im.graph.Encoded(),
		Captured:          cs.Captured,
		Rejected:          cs.Rejected,
		Cancelled:         cs.Cancelled,
		Stopped:           cs.Stopped,
		FramesDelivered:   ss.Delivered,
		FramesDropped:     ss.Dropped,
		LatencyMeanMS:     cs.LatencyMeanMS,
		LatencyP95MS:      cs.LatencyP95MS,
		LatencyMaxMS:      cs.LatencyMaxMS,
		ErrorsDevice:      es.Device,
		ErrorsNegotiation: es.Negotiation,
		ErrorsPlugin:      es.Plugin,
		ErrorsUnknown:     es.Unknown,
	}
}

// Run starts the imager, runs target and closes the imager when either
// target returns or the pipeline stops. target's context is cancelled when
// the pipeline stops.
//
// Run returns target's error, or the *PipelineError that stopped the
// pipeline. End of stream and cancellation of ctx are not errors.
func (im *Imager) Run(ctx context.Context, target func(ctx context.Context) error) error {
	if err := im.Start(ctx); err != nil {
		return err
	}
	defer im.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	im.mu.Lock()
	loopDone := im.loopDone
	im.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		err := target(gctx)
		if errors.Is(err, context.Canceled) && gctx.Err() != nil {
			return nil
		}
		return quietStop(err)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-loopDone:
			cancel()
			return quietStop(im.loopErr)
		}
	})

	return g.Wait()
}

// Close stops the pipeline, wakes a pending CaptureOne and waits for the bus
// loop to exit. Safe to call multiple times.
func (im *Imager) Close() error {
	if !im.closed.CompareAndSwap(false, true) {
		slog.Debug("still-capture: imager already closed")
		return nil
	}

	slog.Info("still-capture: closing imager",
		"source", im.kind.String(),
		"runtime", im.rt.Name(),
		"state", im.monitor.State().String(),
	)

	// RUNNING -> STOPPED_EOS; the transition handler halts sink and coordinator.
	im.monitor.Stop()

	im.mu.Lock()
	cancel, done := im.loopCancel, im.loopDone
	im.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	// Covers an imager that was never started.
	im.sink.Halt()
	im.coord.Halt(ErrStopped)

	var err error
	if serr := im.graph.Pipeline().SetState(media.StateNull); serr != nil {
		err = fmt.Errorf("still-capture: failed to release pipeline: %w", serr)
		slog.Error("still-capture: failed to release pipeline", "error", serr)
	}

	stats := im.Stats()
	slog.Info("still-capture: imager closed",
		"state", stats.State.String(),
		"captured", stats.Captured,
		"frames_dropped", stats.FramesDropped,
		"latency_p95_ms", stats.LatencyP95MS,
	)
	return err
}

// onTransition runs on the goroutine that caused the transition.
func (im *Imager) onTransition(from, to RunState, cause error) {
	metrics.RecordTransition(to)
	var perr *PipelineError
	if errors.As(cause, &perr) {
		metrics.RecordPipelineError(perr.Category)
	}

	if to.Stopped() {
		// Sink first so no frame reaches a request registered from here on.
		im.sink.Halt()
		im.coord.Halt(cause)
	}

	if im.cfg.OnTransition != nil {
		im.cfg.OnTransition(from, to, cause)
	}
}

// quietStop drops the stop causes that mean a clean end.
func quietStop(err error) error {
	if errors.Is(err, ErrEndOfStream) || errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

func captureResult(err error) string {
	switch {
	case errors.Is(err, ErrPipelineNotRunning):
		return metrics.ResultNotRunning
	case errors.Is(err, ErrRequestAlreadyPending):
		return metrics.ResultPending
	case errors.Is(err, ErrPipelineStopped):
		return metrics.ResultStopped
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ResultCancelled
	default:
		return metrics.ResultError
	}
}
