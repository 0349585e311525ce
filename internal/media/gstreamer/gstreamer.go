// Package gstreamer implements media.Runtime on top of go-gst.
package gstreamer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/still-capture/internal/media"
)

var (
	initOnce sync.Once
	initErr  error
)

// EnsureInitialized initializes GStreamer once per process and verifies that a
// core element can be created.
func EnsureInitialized() error {
	initOnce.Do(func() {
		gst.Init(nil)

		elem, err := gst.NewElement("fakesrc")
		if err != nil {
			initErr = fmt.Errorf("gstreamer: not available or not properly installed: %w", err)
			return
		}
		elem.SetState(gst.StateNull)

		slog.Debug("gstreamer: initialized")
	})
	return initErr
}

// Shutdown releases process-wide GStreamer state. Call once at process exit,
// after every pipeline has been set to NULL.
func Shutdown() {
	gst.Deinit()
}

// Runtime is the GStreamer media.Runtime.
type Runtime struct{}

// New returns the GStreamer runtime.
func New() *Runtime {
	return &Runtime{}
}

func (r *Runtime) Name() string { return "gstreamer" }

func (r *Runtime) EnsureInitialized() error {
	return EnsureInitialized()
}

func (r *Runtime) NewPipeline(name string) (media.Pipeline, error) {
	p, err := gst.NewPipeline(name)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to create pipeline: %w", err)
	}
	return &pipeline{p: p}, nil
}

func (r *Runtime) NewElement(factory, name string) (media.Element, error) {
	var (
		el  *gst.Element
		err error
	)
	if name == "" {
		el, err = gst.NewElement(factory)
	} else {
		el, err = gst.NewElementWithName(factory, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", media.ErrElementUnavailable, factory, err)
	}
	return &element{el: el, factory: factory}, nil
}

// NewAppSink creates an appsink that keeps only the latest buffer and copies
// every sample into onSample.
func (r *Runtime) NewAppSink(cfg media.SinkConfig, onSample media.SampleFunc) (media.Element, error) {
	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("%w: appsink: %v", media.ErrElementUnavailable, err)
	}
	if cfg.Name != "" {
		if err := sink.SetProperty("name", cfg.Name); err != nil {
			return nil, fmt.Errorf("gstreamer: failed to name appsink: %w", err)
		}
	}
	sink.SetProperty("caps", gst.NewCapsFromString(string(cfg.Caps())))
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return onNewSample(s, onSample)
		},
	})

	return &element{el: sink.Element, factory: "appsink"}, nil
}

// onNewSample pulls the sample, copies the mapped buffer (GStreamer reuses
// it) and hands the copy to deliver. Bad samples are skipped, not fatal.
func onNewSample(s *app.Sink, deliver media.SampleFunc) gst.FlowReturn {
	sample := s.PullSample()
	if sample == nil {
		slog.Warn("gstreamer: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstreamer: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstreamer: empty buffer received")
		return gst.FlowOK
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	buffer.Unmap()

	deliver(payload)
	return gst.FlowOK
}

type element struct {
	el      *gst.Element
	factory string
}

func (e *element) Name() string    { return e.el.GetName() }
func (e *element) Factory() string { return e.factory }

func (e *element) SetProperty(name string, value any) error {
	if caps, ok := value.(media.Caps); ok {
		value = gst.NewCapsFromString(string(caps))
	}
	if err := e.el.SetProperty(name, value); err != nil {
		return fmt.Errorf("gstreamer: %s: set %q: %w", e.Name(), name, err)
	}
	return nil
}

func (e *element) Link(next media.Element) error {
	n, ok := next.(*element)
	if !ok {
		return fmt.Errorf("gstreamer: cannot link %s to foreign element %s", e.Name(), next.Name())
	}
	return e.el.Link(n.el)
}

type pipeline struct {
	p *gst.Pipeline
}

func (p *pipeline) Name() string { return p.p.GetName() }

func (p *pipeline) Add(el media.Element) error {
	e, ok := el.(*element)
	if !ok {
		return fmt.Errorf("gstreamer: cannot add foreign element %s", el.Name())
	}
	return p.p.Add(e.el)
}

func (p *pipeline) SetState(state media.State) error {
	return p.p.SetState(toGstState(state))
}

func (p *pipeline) Bus() media.Bus {
	return &bus{b: p.p.GetPipelineBus()}
}

type bus struct {
	b *gst.Bus
}

func (b *bus) TimedPop(timeout time.Duration) *media.Message {
	msg := b.b.TimedPop(timeout)
	if msg == nil {
		return nil
	}
	return convertMessage(msg)
}

func convertMessage(msg *gst.Message) *media.Message {
	out := &media.Message{Source: msg.Source()}

	switch msg.Type() {
	case gst.MessageEOS:
		out.Type = media.MessageEOS

	case gst.MessageError:
		out.Type = media.MessageError
		if gerr := msg.ParseError(); gerr != nil {
			out.Text = gerr.Error()
			out.Debug = gerr.DebugString()
		}

	case gst.MessageStateChanged:
		out.Type = media.MessageStateChanged
		old, next := msg.ParseStateChanged()
		out.OldState = fromGstState(old)
		out.NewState = fromGstState(next)

	case gst.MessageElement:
		out.Type = media.MessageElement
		if s := msg.GetStructure(); s != nil {
			out.Structure = s.Name()
		}

	default:
		out.Type = media.MessageOther
	}

	return out
}

func toGstState(s media.State) gst.State {
	switch s {
	case media.StateReady:
		return gst.StateReady
	case media.StatePaused:
		return gst.StatePaused
	case media.StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

func fromGstState(s gst.State) media.State {
	switch s {
	case gst.StateReady:
		return media.StateReady
	case gst.StatePaused:
		return media.StatePaused
	case gst.StatePlaying:
		return media.StatePlaying
	default:
		return media.StateNull
	}
}
