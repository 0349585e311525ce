package stillcapture

import (
	"errors"

	"github.com/e7canasta/still-capture/internal/capture"
	"github.com/e7canasta/still-capture/internal/media"
	"github.com/e7canasta/still-capture/internal/monitor"
	"github.com/e7canasta/still-capture/internal/pipeline"
	"github.com/e7canasta/still-capture/internal/sink"
	"github.com/e7canasta/still-capture/internal/source"
)

// Construction errors. All abort New; nothing is left running.
var (
	ErrUnsupportedBackend = source.ErrUnsupportedBackend
	ErrBackendUnavailable = source.ErrBackendUnavailable
	ErrElementUnavailable = media.ErrElementUnavailable
	ErrLinkFailure        = pipeline.ErrLinkFailure
	ErrInvalidResolution  = pipeline.ErrInvalidResolution
)

// Request errors returned by CaptureOne.
var (
	ErrPipelineNotRunning    = capture.ErrPipelineNotRunning
	ErrRequestAlreadyPending = capture.ErrRequestAlreadyPending
	ErrPipelineStopped       = capture.ErrPipelineStopped
	ErrUnknownIdentifier     = sink.ErrUnknownIdentifier
)

// Stop causes, carried by ErrPipelineStopped and passed to TransitionFunc.
var (
	ErrEndOfStream = monitor.ErrEndOfStream
	ErrStopped     = monitor.ErrStopped
)

// ErrClosed is returned when starting an Imager after Close.
var ErrClosed = errors.New("still-capture: imager closed")
