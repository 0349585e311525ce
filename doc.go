// Package stillcapture captures still images on demand from a continuously
// running camera pipeline.
//
// A pipeline is assembled once per Imager: a camera source (test pattern,
// V4L2 device or ToupTek camera), a capsfilter pinning the resolution, a
// converter, an optional JPEG encoder and a capture sink. While it plays,
// CaptureOne blocks until the next frame produced after the call and hands it
// to the caller. Errors and end-of-stream on the pipeline bus halt the
// pipeline without crashing the host; a caller blocked in CaptureOne at that
// moment is woken with ErrPipelineStopped.
//
// # Quick Start
//
//	cfg := stillcapture.DefaultConfig()
//	cfg.Source = "v4l2src"
//	cfg.DevicePath = "/dev/video0"
//
//	im, err := stillcapture.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer im.Close()
//
//	if err := im.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	frame, err := im.CaptureOne(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("capture.jpg", frame.Data, 0o644)
//
// Run wraps Start, a caller-supplied loop and Close:
//
//	err := im.Run(ctx, func(ctx context.Context) error {
//	    for i := 0; i < 10; i++ {
//	        if _, err := im.CaptureOne(ctx); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
//
// # Backends
//
//   - videotestsrc (alias test): generated test pattern, useful without hardware
//   - v4l2src (aliases v4l2src-mu800, device): V4L2 capture device, default /dev/video0
//   - toupcamsrc (alias vendor): ToupTek camera SDK, optional resolution preset
//
// # Run States
//
//	IDLE --Start--> RUNNING --EOS--> STOPPED_EOS
//	                        --ERROR--> STOPPED_ERROR
//
// States only move forward. A stopped Imager cannot be restarted; build a new
// one.
//
// # Requirements
//
// The default runtime uses GStreamer 1.x through cgo (gstreamer1.0 with the
// base and good plugin sets; toupcamsrc needs the vendor plugin). The
// synthetic runtime (NewSyntheticRuntime) needs nothing and renders a test
// pattern for any backend.
package stillcapture
