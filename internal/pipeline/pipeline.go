// Package pipeline assembles the capture chain
//
//	source → capsfilter → videoconvert → [jpegenc] → capture sink
//
// as an ordered node arena plus an edge list. Every append links the new node
// to the previous one before the next node is created; the first failure
// aborts the build and no graph is returned.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/e7canasta/still-capture/internal/media"
)

var (
	// ErrLinkFailure matches every *LinkError.
	ErrLinkFailure = errors.New("pipeline: link failed")

	// ErrSinkMismatch is returned when the sink's payload kind disagrees with
	// the encode flag.
	ErrSinkMismatch = errors.New("pipeline: sink payload does not match encoder setting")

	// ErrInvalidResolution is returned for non-positive dimensions.
	ErrInvalidResolution = errors.New("pipeline: invalid resolution")
)

// Kind is a node's capability tag.
type Kind int

const (
	KindSource Kind = iota
	KindFormatConstraint
	KindConvert
	KindEncode
	KindSink
)

// String returns the node kind in upper case, as used in logs.
func (k Kind) String() string {
	switch k {
	case KindSource:
		return "SOURCE"
	case KindFormatConstraint:
		return "FORMAT_CONSTRAINT"
	case KindConvert:
		return "CONVERT"
	case KindEncode:
		return "ENCODE"
	case KindSink:
		return "SINK"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Node is a named stage of the chain.
type Node struct {
	Name    string
	Kind    Kind
	Element media.Element
}

// Link is an edge between two adjacent nodes.
type Link struct {
	From string
	To   string
}

// LinkError reports which pair of nodes failed to link.
type LinkError struct {
	From string
	To   string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("pipeline: failed to link %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

func (e *LinkError) Is(target error) bool { return target == ErrLinkFailure }

// Resolution is the fixed output size of a pipeline instance.
type Resolution struct {
	Width  int
	Height int
}

// Validate checks both dimensions are positive.
func (r Resolution) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidResolution, r.Width, r.Height)
	}
	return nil
}

// String returns the size as WxH.
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Caps returns the raw-video caps pinning this resolution. Pixel format is
// left free for negotiation.
func (r Resolution) Caps() media.Caps {
	return media.Caps(fmt.Sprintf("video/x-raw,width=%d,height=%d", r.Width, r.Height))
}

// Sink is the terminal capture stage.
type Sink interface {
	Element() media.Element
	// Raw reports whether the sink expects raw frames rather than JPEG.
	Raw() bool
}

// Spec describes a chain to build.
type Spec struct {
	// Name of the media pipeline; empty lets the runtime choose.
	Name       string
	Source     Node
	Resolution Resolution
	// Encode inserts a JPEG encoder before the sink.
	Encode bool
	Sink   Sink
}

// Graph is a fully linked chain.
type Graph struct {
	pipeline   media.Pipeline
	nodes      []Node
	links      []Link
	resolution Resolution
	encoded    bool
}

// Pipeline returns the underlying media pipeline.
func (g *Graph) Pipeline() media.Pipeline { return g.pipeline }

// Resolution returns the pinned output size.
func (g *Graph) Resolution() Resolution { return g.resolution }

// Encoded reports whether the chain ends in JPEG.
func (g *Graph) Encoded() bool { return g.encoded }

// Nodes returns the node arena in chain order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Links returns the edges in chain order.
func (g *Graph) Links() []Link {
	out := make([]Link, len(g.links))
	copy(out, g.links)
	return out
}

// Node returns the first node of the given kind.
func (g *Graph) Node(kind Kind) (Node, bool) {
	for _, n := range g.nodes {
		if n.Kind == kind {
			return n, true
		}
	}
	return Node{}, false
}

// String renders the chain in gst-launch syntax.
func (g *Graph) String() string {
	parts := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		parts[i] = n.Element.Factory() + " name=" + n.Name
	}
	return strings.Join(parts, " ! ")
}

// Build creates the pipeline and appends every node of spec in order.
//
// On failure the partially populated media pipeline is set to NULL and
// dropped; callers must rebuild from scratch.
func Build(rt media.Runtime, spec Spec) (*Graph, error) {
	if err := spec.Resolution.Validate(); err != nil {
		return nil, err
	}
	if spec.Source.Element == nil {
		return nil, fmt.Errorf("pipeline: source node is required")
	}
	if spec.Sink == nil || spec.Sink.Element() == nil {
		return nil, fmt.Errorf("pipeline: sink is required")
	}
	if spec.Sink.Raw() == spec.Encode {
		return nil, fmt.Errorf("%w: encode=%t raw=%t", ErrSinkMismatch, spec.Encode, spec.Sink.Raw())
	}

	p, err := rt.NewPipeline(spec.Name)
	if err != nil {
		return nil, err
	}

	b := &builder{
		rt: rt,
		g: &Graph{
			pipeline:   p,
			resolution: spec.Resolution,
			encoded:    spec.Encode,
		},
	}

	b.append(spec.Source)
	b.appendNew(KindFormatConstraint, "capsfilter", "raw_capsfilter", func(el media.Element) error {
		return el.SetProperty("caps", spec.Resolution.Caps())
	})
	b.appendNew(KindConvert, "videoconvert", "videoconvert", nil)
	if spec.Encode {
		b.appendNew(KindEncode, "jpegenc", "jpegenc", nil)
	}
	b.append(Node{Name: spec.Sink.Element().Name(), Kind: KindSink, Element: spec.Sink.Element()})

	if b.err != nil {
		if err := p.SetState(media.StateNull); err != nil {
			slog.Warn("pipeline: failed to reset discarded pipeline", "error", err)
		}
		return nil, b.err
	}

	slog.Info("pipeline: graph built",
		"pipeline", p.Name(),
		"runtime", rt.Name(),
		"resolution", spec.Resolution.String(),
		"encode", spec.Encode,
		"graph", b.g.String(),
	)
	return b.g, nil
}

// builder accumulates nodes and stops at the first error.
type builder struct {
	rt  media.Runtime
	g   *Graph
	err error
}

func (b *builder) appendNew(kind Kind, factory, name string, configure func(media.Element) error) {
	if b.err != nil {
		return
	}
	el, err := b.rt.NewElement(factory, name)
	if err != nil {
		b.err = fmt.Errorf("pipeline: failed to create %s: %w", factory, err)
		return
	}
	if configure != nil {
		if err := configure(el); err != nil {
			b.err = fmt.Errorf("pipeline: failed to configure %s: %w", name, err)
			return
		}
	}
	b.append(Node{Name: el.Name(), Kind: kind, Element: el})
}

func (b *builder) append(n Node) {
	if b.err != nil {
		return
	}
	if err := b.g.pipeline.Add(n.Element); err != nil {
		b.err = fmt.Errorf("pipeline: failed to add %s: %w", n.Name, err)
		return
	}

	if len(b.g.nodes) > 0 {
		prev := b.g.nodes[len(b.g.nodes)-1]
		if err := prev.Element.Link(n.Element); err != nil {
			b.err = &LinkError{From: prev.Name, To: n.Name, Err: err}
			return
		}
		b.g.links = append(b.g.links, Link{From: prev.Name, To: n.Name})
	}

	b.g.nodes = append(b.g.nodes, n)
}
