package stillcapture

import (
	"time"

	"github.com/e7canasta/still-capture/internal/media/gstreamer"
	"github.com/e7canasta/still-capture/internal/media/synthetic"
)

// DefaultPipelineName names the pipeline when Config.PipelineName is empty.
const DefaultPipelineName = "player"

// Config configures an Imager.
type Config struct {
	// Source is the backend name: videotestsrc, v4l2src, toupcamsrc, or the
	// aliases test, device, vendor. Empty selects the test pattern.
	Source string

	Width  int
	Height int

	// EncodeToCompressed selects JPEG frames; otherwise frames are packed RGB.
	EncodeToCompressed bool

	// DevicePath is the V4L2 device (v4l2src). Default /dev/video0.
	DevicePath string
	// VendorPreset is the toupcamsrc resolution preset (esize). nil leaves the
	// camera on its automatic choice.
	VendorPreset *int
	// TestPattern selects the videotestsrc pattern by name (smpte, ball, ...).
	TestPattern string
	// SourceProperties are set on the source element after the backend's own
	// settings, e.g. exposure controls.
	SourceProperties map[string]any

	// Runtime defaults to GStreamer.
	Runtime Runtime
	// PipelineName defaults to DefaultPipelineName.
	PipelineName string

	// OnTransition is called on every RunState change, after the imager has
	// updated its own state.
	OnTransition TransitionFunc
	// OnPrepareWindowHandle receives the name of the element asking for a
	// window handle. Only relevant when a preview sink is in the pipeline.
	OnPrepareWindowHandle func(source string)
}

// DefaultConfig returns the test pattern at 640x480 with JPEG output.
func DefaultConfig() Config {
	return Config{
		Source:             "videotestsrc",
		Width:              640,
		Height:             480,
		EncodeToCompressed: true,
	}
}

// NewGStreamerRuntime returns the GStreamer runtime. GStreamer is initialized
// on first use; call ShutdownGStreamer before exit to release it.
func NewGStreamerRuntime() Runtime {
	return gstreamer.New()
}

// ShutdownGStreamer deinitializes GStreamer. No pipeline may be used after.
func ShutdownGStreamer() {
	gstreamer.Shutdown()
}

// NewSyntheticRuntime returns a pure-Go runtime producing a test pattern
// every interval (0 for the default of about 30 fps). Every backend renders
// the test pattern on it.
func NewSyntheticRuntime(interval time.Duration) Runtime {
	return synthetic.New(synthetic.WithInterval(interval))
}
