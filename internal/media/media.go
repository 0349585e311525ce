// Package media is the seam between the capture core and the media framework
// that actually moves frames.
//
// The capture core only needs a small slice of a media framework: named
// elements that can be configured and linked, a pipeline with a run state,
// a message bus, and a terminal sink that hands frame payloads back to Go.
// Two runtimes implement it: gstreamer (production, cgo) and synthetic
// (pure Go, used by tests and by hosts without GStreamer installed).
package media

import (
	"errors"
	"fmt"
	"time"
)

// ErrElementUnavailable is returned when a runtime cannot instantiate an
// element factory (plugin missing, driver absent).
var ErrElementUnavailable = errors.New("media: element unavailable")

// Caps is a caps description string, e.g. "video/x-raw,width=640,height=480".
// Runtimes convert it to their native caps type when it is set as a property.
type Caps string

// MediaType returns the media type prefix of the caps ("video/x-raw", "image/jpeg").
func (c Caps) MediaType() string {
	s := string(c)
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			return s[:i]
		}
	}
	return s
}

// State is the run state of a pipeline.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

// String returns the state in GStreamer's upper-case notation.
func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MessageType classifies bus messages.
type MessageType int

const (
	MessageEOS MessageType = iota
	MessageError
	MessageStateChanged
	// MessageElement carries a named structure posted by an element, such as
	// the "prepare-window-handle" request of video overlay sinks.
	MessageElement
	MessageOther
)

// String returns a short name for logs.
func (t MessageType) String() string {
	switch t {
	case MessageEOS:
		return "eos"
	case MessageError:
		return "error"
	case MessageStateChanged:
		return "state-changed"
	case MessageElement:
		return "element"
	default:
		return "other"
	}
}

// Message is a bus notification.
type Message struct {
	Type MessageType
	// Source is the name of the posting object.
	Source string

	// Error payload (MessageError).
	Text  string
	Debug string

	// State transition (MessageStateChanged).
	OldState State
	NewState State

	// Structure name (MessageElement).
	Structure string
}

// Element is a named processing stage.
type Element interface {
	Name() string
	Factory() string
	SetProperty(name string, value any) error
	// Link connects this element's output to next's input.
	Link(next Element) error
}

// Bus delivers pipeline messages in emission order.
type Bus interface {
	// TimedPop returns the next message, or nil if none arrives within timeout.
	TimedPop(timeout time.Duration) *Message
}

// Pipeline is a container of linked elements with a run state.
type Pipeline interface {
	Name() string
	Add(el Element) error
	SetState(state State) error
	Bus() Bus
}

// SinkConfig describes the terminal capture sink.
type SinkConfig struct {
	Name   string
	Width  int
	Height int
	// Raw selects packed RGB input; otherwise the sink accepts image/jpeg.
	Raw bool
}

// Caps returns the caps the sink accepts.
func (c SinkConfig) Caps() Caps {
	if c.Raw {
		return Caps(fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", c.Width, c.Height))
	}
	return Caps(fmt.Sprintf("image/jpeg,width=%d,height=%d", c.Width, c.Height))
}

// SampleFunc receives a copy of each payload reaching the sink. It runs on the
// runtime's streaming thread and must not block.
type SampleFunc func(data []byte)

// Runtime creates pipelines and elements.
type Runtime interface {
	Name() string
	// EnsureInitialized performs process-wide framework initialization. Idempotent.
	EnsureInitialized() error
	NewPipeline(name string) (Pipeline, error)
	// NewElement instantiates factory. An empty name lets the runtime pick one.
	NewElement(factory, name string) (Element, error)
	NewAppSink(cfg SinkConfig, onSample SampleFunc) (Element, error)
}
