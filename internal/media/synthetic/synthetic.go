// Package synthetic is a pure-Go media.Runtime.
//
// It renders a moving test pattern, honours capsfilter resolutions, encodes
// JPEG when a jpegenc element is in the chain and negotiates links by media
// type, so a graph that links here links the same way under GStreamer. Frame
// production is driven by a ticker or by an injected tick channel, which makes
// it usable as a deterministic clock in tests.
package synthetic

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/still-capture/internal/media"
)

// DefaultInterval is the frame period when no tick source is injected.
const DefaultInterval = 33 * time.Millisecond

// knownFactories lists the element factories the runtime can instantiate.
var knownFactories = map[string]bool{
	"videotestsrc": true,
	"v4l2src":      true,
	"toupcamsrc":   true,
	"capsfilter":   true,
	"videoconvert": true,
	"jpegenc":      true,
	"appsink":      true,
	"fakesink":     true,
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithUnavailable makes the given factories fail to instantiate, as if their
// plugin or driver were missing.
func WithUnavailable(factories ...string) Option {
	return func(r *Runtime) {
		for _, f := range factories {
			r.unavailable[f] = true
		}
	}
}

// WithLinkFailure makes linking the element named from to the element named
// to fail.
func WithLinkFailure(from, to string) Option {
	return func(r *Runtime) {
		r.linkFailures[from+"->"+to] = true
	}
}

// WithTicks drives frame production from ticks instead of a wall-clock ticker.
// Each received value produces one frame.
func WithTicks(ticks <-chan time.Time) Option {
	return func(r *Runtime) {
		r.ticks = ticks
	}
}

// WithInterval sets the ticker period used when no tick channel is injected.
func WithInterval(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.interval = d
		}
	}
}

// Runtime is the synthetic media.Runtime.
type Runtime struct {
	unavailable  map[string]bool
	linkFailures map[string]bool
	ticks        <-chan time.Time
	interval     time.Duration

	mu        sync.Mutex
	names     map[string]int
	pipelines map[string]*Pipeline
}

// New returns a synthetic runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		unavailable:  make(map[string]bool),
		linkFailures: make(map[string]bool),
		interval:     DefaultInterval,
		names:        make(map[string]int),
		pipelines:    make(map[string]*Pipeline),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) Name() string { return "synthetic" }

func (r *Runtime) EnsureInitialized() error { return nil }

// NewPipeline creates a pipeline. Pipelines are retrievable by name through
// Pipeline so tests can post messages on their bus.
func (r *Runtime) NewPipeline(name string) (media.Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		name = r.autoName("pipeline")
	}
	p := newPipeline(r, name)
	r.pipelines[name] = p
	return p, nil
}

// Pipeline returns the pipeline created with name, or nil.
func (r *Runtime) Pipeline(name string) *Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelines[name]
}

func (r *Runtime) NewElement(factory, name string) (media.Element, error) {
	if !knownFactories[factory] || factory == "appsink" || r.unavailable[factory] {
		return nil, fmt.Errorf("%w: %s: no such element factory", media.ErrElementUnavailable, factory)
	}

	r.mu.Lock()
	if name == "" {
		name = r.autoName(factory)
	}
	r.mu.Unlock()

	return newElement(r, factory, name), nil
}

func (r *Runtime) NewAppSink(cfg media.SinkConfig, onSample media.SampleFunc) (media.Element, error) {
	if r.unavailable["appsink"] {
		return nil, fmt.Errorf("%w: appsink: no such element factory", media.ErrElementUnavailable)
	}

	r.mu.Lock()
	name := cfg.Name
	if name == "" {
		name = r.autoName("appsink")
	}
	r.mu.Unlock()

	el := newElement(r, "appsink", name)
	el.props["caps"] = cfg.Caps()
	el.onSample = onSample
	return el, nil
}

// autoName mimics GStreamer's factory-name + counter naming. Caller holds mu.
func (r *Runtime) autoName(factory string) string {
	n := r.names[factory]
	r.names[factory] = n + 1
	return fmt.Sprintf("%s%d", factory, n)
}

// element is a synthetic media.Element.
type element struct {
	rt      *Runtime
	factory string
	name    string

	mu       sync.Mutex
	props    map[string]any
	next     *element
	prev     *element
	owner    *Pipeline
	onSample media.SampleFunc
}

func newElement(rt *Runtime, factory, name string) *element {
	return &element{
		rt:      rt,
		factory: factory,
		name:    name,
		props:   make(map[string]any),
	}
}

func (e *element) Name() string    { return e.name }
func (e *element) Factory() string { return e.factory }

func (e *element) SetProperty(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.props[name] = value
	return nil
}

func (e *element) property(name string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.props[name]
	return v, ok
}

// Link negotiates by media type: the upstream output type must match the
// downstream accepted type when the downstream side declares caps.
func (e *element) Link(next media.Element) error {
	n, ok := next.(*element)
	if !ok {
		return fmt.Errorf("synthetic: cannot link %s to foreign element %s", e.name, next.Name())
	}
	if e.rt.linkFailures[e.name+"->"+n.name] {
		return fmt.Errorf("synthetic: link %s -> %s refused", e.name, n.name)
	}
	if e.owner == nil || e.owner != n.owner {
		return fmt.Errorf("synthetic: %s and %s do not share a pipeline", e.name, n.name)
	}
	if e.next != nil || n.prev != nil {
		return fmt.Errorf("synthetic: %s or %s already linked", e.name, n.name)
	}

	out := e.outputType()
	if in := n.acceptedType(); in != "" && out != "" && in != out {
		return fmt.Errorf("synthetic: cannot link %s (%s) to %s (%s): not negotiated", e.name, out, n.name, in)
	}

	e.next = n
	n.prev = e
	slog.Debug("synthetic: linked", "from", e.name, "to", n.name)
	return nil
}

// outputType is the media type an element produces.
func (e *element) outputType() string {
	switch e.factory {
	case "jpegenc":
		return "image/jpeg"
	case "capsfilter":
		if caps, ok := e.caps(); ok {
			return caps.MediaType()
		}
		if e.prev != nil {
			return e.prev.outputType()
		}
		return ""
	case "appsink", "fakesink":
		return ""
	default:
		return "video/x-raw"
	}
}

// acceptedType is the media type an element requires on its input, "" for any.
func (e *element) acceptedType() string {
	switch e.factory {
	case "jpegenc", "videoconvert":
		return "video/x-raw"
	case "capsfilter", "appsink":
		if caps, ok := e.caps(); ok {
			return caps.MediaType()
		}
	}
	return ""
}

func (e *element) caps() (media.Caps, bool) {
	v, ok := e.property("caps")
	if !ok {
		return "", false
	}
	switch c := v.(type) {
	case media.Caps:
		return c, true
	case string:
		return media.Caps(c), true
	}
	return "", false
}
