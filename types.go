package stillcapture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/e7canasta/still-capture/internal/media"
	"github.com/e7canasta/still-capture/internal/monitor"
	"github.com/e7canasta/still-capture/internal/pipeline"
	"github.com/e7canasta/still-capture/internal/sink"
)

// Frame is a captured still image. The caller owns it.
type Frame struct {
	// ID is unique for the lifetime of the Imager ("0", "1", ...).
	ID string
	// Seq is the numeric form of ID
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	// Data is JPEG when Compressed, packed 24-bit RGB otherwise.
	Data       []byte
	Compressed bool
	// TraceID is a unique identifier for log correlation
	TraceID string
}

func newFrame(f *sink.Frame) *Frame {
	return &Frame{
		ID:         f.ID,
		Seq:        f.Seq,
		Timestamp:  f.Timestamp,
		Width:      f.Width,
		Height:     f.Height,
		Data:       f.Data,
		Compressed: f.Compressed,
		TraceID:    f.TraceID,
	}
}

// Image decodes the payload.
func (f *Frame) Image() (image.Image, error) {
	if f.Compressed {
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("still-capture: frame %s: %w", f.ID, err)
		}
		return img, nil
	}

	if want := f.Width * f.Height * 3; len(f.Data) != want {
		return nil, fmt.Errorf("still-capture: frame %s: got %d bytes of RGB, want %d (%dx%d)",
			f.ID, len(f.Data), want, f.Width, f.Height)
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Data); i, j = i+3, j+4 {
		img.Pix[j] = f.Data[i]
		img.Pix[j+1] = f.Data[i+1]
		img.Pix[j+2] = f.Data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// RunState is the lifecycle state of the pipeline.
type RunState = monitor.RunState

const (
	StateIdle         = monitor.StateIdle
	StateRunning      = monitor.StateRunning
	StateStoppedEOS   = monitor.StateStoppedEOS
	StateStoppedError = monitor.StateStoppedError
)

// Resolution is a frame size in pixels.
type Resolution = pipeline.Resolution

// Runtime is the media framework the pipeline runs on.
type Runtime = media.Runtime

// TransitionFunc observes RunState changes. cause is nil when entering
// RUNNING; for STOPPED_ERROR it is a *PipelineError.
type TransitionFunc = monitor.TransitionFunc

// PipelineError describes the error notification that stopped a pipeline.
type PipelineError = monitor.PipelineError

// Stats contains imager statistics.
type Stats struct {
	State      RunState
	Resolution string
	Compressed bool

	// Capture requests
	Captured  uint64
	Rejected  uint64
	Cancelled uint64
	Stopped   uint64

	// Sink
	FramesDelivered uint64
	FramesDropped   uint64 // produced while no request was outstanding

	// Request to frame latency over the last captures
	LatencyMeanMS float64
	LatencyP95MS  float64
	LatencyMaxMS  float64

	// Pipeline error notifications by category
	ErrorsDevice      uint64
	ErrorsNegotiation uint64
	ErrorsPlugin      uint64
	ErrorsUnknown     uint64
}
