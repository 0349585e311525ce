package stillcapture

import "context"

// Provider defines the contract for on-demand still image acquisition.
//
// Implementations must guarantee:
//   - Start() returns once the switch to PLAYING has been requested; the
//     media runtime may finish it asynchronously
//   - frames are never queued for a caller that has not asked for one
//   - CaptureOne() returns only frames produced after the call
//   - at most one CaptureOne() is in flight
//   - Close() is idempotent and wakes a blocked CaptureOne()
//   - Stats() and State() are safe from any goroutine
type Provider interface {
	// Start requests the PLAYING state and begins watching the bus.
	//
	// Example:
	//   im, _ := stillcapture.New(cfg)
	//   if err := im.Start(ctx); err != nil {
	//       log.Fatal(err)
	//   }
	//   defer im.Close()
	Start(ctx context.Context) error

	// CaptureOne blocks until the next frame and returns it. ctx bounds the
	// wait; a cancelled request leaves the pipeline RUNNING.
	CaptureOne(ctx context.Context) (*Frame, error)

	// Get is CaptureOne keyed by sensor index ("0" for a single camera).
	Get(ctx context.Context) (map[string]*Frame, error)

	// WH returns the configured frame width and height.
	WH() (width, height int)

	State() RunState

	Stats() Stats

	// Close stops the pipeline and releases it.
	Close() error
}

// Compile-time check that Imager implements Provider
var _ Provider = (*Imager)(nil)
