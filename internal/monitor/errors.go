package monitor

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/e7canasta/still-capture/internal/media"
)

var (
	// ErrEndOfStream is the stop cause for an end-of-stream notification.
	ErrEndOfStream = errors.New("monitor: end of stream")

	// ErrStopped is the stop cause when the host stops the pipeline.
	ErrStopped = errors.New("monitor: stopped by host")

	// ErrInvalidTransition is returned by Start outside the IDLE state.
	ErrInvalidTransition = errors.New("monitor: invalid state transition")
)

// PipelineError is the stop cause for an error notification.
type PipelineError struct {
	Source   string
	Message  string
	Debug    string
	Category ErrorCategory
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("monitor: pipeline error [%s] from %s: %s", e.Category, e.Source, e.Message)
}

// ErrorCategory classifies pipeline errors for telemetry.
type ErrorCategory int

const (
	// ErrCategoryDevice covers camera and driver failures (busy, missing, permissions).
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryNegotiation covers caps negotiation failures, usually a
	// resolution the source cannot produce.
	ErrCategoryNegotiation
	// ErrCategoryPlugin covers missing or broken elements.
	ErrCategoryPlugin
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the category.
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryNegotiation:
		return "negotiation"
	case ErrCategoryPlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

var (
	pluginKeywords = []string{
		"missing plugin",
		"no such element",
		"no element",
		"could not load",
		"plugin",
	}
	negotiationKeywords = []string{
		"not negotiated",
		"not-negotiated",
		"negotiation",
		"caps",
		"format",
	}
	deviceKeywords = []string{
		"device",
		"/dev/",
		"v4l2",
		"toupcam",
		"busy",
		"permission denied",
		"could not open",
		"cannot identify",
		"no such file",
		"resource",
	}
)

// Classify categorizes an error notification by its message and debug text.
// Plugin problems are checked first, then negotiation, then device.
func Classify(msg *media.Message) ErrorCategory {
	if msg == nil {
		return ErrCategoryUnknown
	}

	combined := strings.ToLower(msg.Text + " " + msg.Debug)
	switch {
	case containsAny(combined, pluginKeywords):
		return ErrCategoryPlugin
	case containsAny(combined, negotiationKeywords):
		return ErrCategoryNegotiation
	case containsAny(combined, deviceKeywords):
		return ErrCategoryDevice
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// ErrorCounters counts error notifications per category.
type ErrorCounters struct {
	Device      atomic.Uint64
	Negotiation atomic.Uint64
	Plugin      atomic.Uint64
	Unknown     atomic.Uint64
}

func (c *ErrorCounters) add(cat ErrorCategory) {
	switch cat {
	case ErrCategoryDevice:
		c.Device.Add(1)
	case ErrCategoryNegotiation:
		c.Negotiation.Add(1)
	case ErrCategoryPlugin:
		c.Plugin.Add(1)
	default:
		c.Unknown.Add(1)
	}
}

// ErrorStats is a snapshot of ErrorCounters.
type ErrorStats struct {
	Device      uint64
	Negotiation uint64
	Plugin      uint64
	Unknown     uint64
}
