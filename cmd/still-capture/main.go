package main

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	stillcapture "github.com/e7canasta/still-capture"
	"github.com/e7canasta/still-capture/internal/config"
	"github.com/e7canasta/still-capture/internal/emitter"
)

// Version information
const version = "v0.1.0"

type options struct {
	configPath  string
	source      string
	wh          string
	jpg         bool
	device      string
	esize       int
	count       int
	output      string
	runtime     string
	mqttBroker  string
	metricsAddr string
	debug       bool
}

func main() {
	if err := newRootCmd(&options{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "still-capture",
		Short:   "Capture still images from a camera pipeline",
		Long:    "Assemble a camera pipeline (test pattern, V4L2 device or ToupTek camera), start it and save on-demand captures.",
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(o.debug)

			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, o)
		},
	}
	cmd.SilenceUsage = true

	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "YAML configuration file")
	f.StringVar(&o.source, "gst-source", "videotestsrc", "Source backend: videotestsrc, v4l2src, toupcamsrc")
	f.StringVar(&o.wh, "gst-wh", "640,480", "Image width,height")
	f.BoolVar(&o.jpg, "gst-jpg", true, "Capture jpg (as opposed to raw) using the pipeline encoder")
	f.StringVar(&o.device, "v4l2src-device", "", "V4L2 video device")
	f.IntVar(&o.esize, "toupcamsrc-esize", 0, "ToupTek esize; must match width/height")
	f.IntVar(&o.count, "count", 1, "Frames to capture (0 = until interrupted)")
	f.StringVar(&o.output, "output", "", "Directory to save captured frames (optional)")
	f.StringVar(&o.runtime, "runtime", "", "Media runtime: gstreamer, synthetic")
	f.StringVar(&o.mqttBroker, "mqtt-broker", "", "MQTT broker for run state updates (optional)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Listen address for Prometheus /metrics (optional)")
	f.BoolVar(&o.debug, "debug", false, "Enable debug logging")

	return cmd
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

// loadConfig reads --config if given and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command, o *options) (*config.Config, error) {
	cfg := &config.Config{}
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("gst-source") || o.configPath == "" {
		cfg.Source = o.source
	}
	if flags.Changed("gst-wh") || o.configPath == "" {
		w, h, err := config.ParseWH(o.wh)
		if err != nil {
			return nil, err
		}
		cfg.Width, cfg.Height = w, h
	}
	if flags.Changed("gst-jpg") {
		jpg := o.jpg
		cfg.EncodeToCompressed = &jpg
	}
	if flags.Changed("v4l2src-device") {
		cfg.Device.Path = o.device
	}
	if flags.Changed("toupcamsrc-esize") {
		esize := o.esize
		cfg.Vendor.Preset = &esize
	}
	if flags.Changed("runtime") {
		cfg.Runtime = o.runtime
	}
	if flags.Changed("mqtt-broker") {
		cfg.MQTT.Broker = o.mqttBroker
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Listen = o.metricsAddr
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// imagerConfig maps the file configuration onto the library's.
func imagerConfig(cfg *config.Config) stillcapture.Config {
	ic := stillcapture.Config{
		Source:             cfg.Source,
		Width:              cfg.Width,
		Height:             cfg.Height,
		EncodeToCompressed: cfg.Encode(),
		DevicePath:         cfg.Device.Path,
		VendorPreset:       cfg.Vendor.Preset,
		TestPattern:        cfg.Test.Pattern,
		SourceProperties:   cfg.Properties,
	}
	if cfg.Runtime == config.RuntimeSynthetic {
		ic.Runtime = stillcapture.NewSyntheticRuntime(0)
	} else {
		ic.Runtime = stillcapture.NewGStreamerRuntime()
	}
	return ic
}

func run(ctx context.Context, cfg *config.Config, o *options) error {
	if o.output != "" {
		if err := os.MkdirAll(o.output, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	ic := imagerConfig(cfg)
	if cfg.Runtime == config.RuntimeGStreamer {
		defer stillcapture.ShutdownGStreamer()
	}

	if cfg.Metrics.Listen != "" {
		srv := startMetricsServer(cfg.Metrics.Listen)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("metrics server shutdown failed", "error", err)
			}
		}()
	}

	if cfg.MQTT.Broker != "" {
		em := emitter.NewMQTTEmitter(cfg.MQTT)
		if err := em.Connect(ctx); err != nil {
			// Captures do not depend on the broker.
			slog.Warn("mqtt unavailable, run state updates disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			defer em.Disconnect()
			ic.OnTransition = em.TransitionHandler(stillcapture.DefaultPipelineName)
		}
	}

	im, err := stillcapture.New(ic)
	if err != nil {
		return err
	}
	slog.Info("pipeline ready", "graph", im.Describe())

	err = im.Run(ctx, func(ctx context.Context) error {
		for i := 0; o.count == 0 || i < o.count; i++ {
			frame, err := im.CaptureOne(ctx)
			if err != nil {
				return err
			}
			slog.Info("frame captured",
				"id", frame.ID,
				"size_bytes", len(frame.Data),
				"compressed", frame.Compressed,
				"trace_id", frame.TraceID,
			)
			if o.output != "" {
				path, err := saveFrame(o.output, frame)
				if err != nil {
					return err
				}
				slog.Info("frame saved", "path", path)
			}
		}
		return nil
	})

	stats := im.Stats()
	slog.Info("capture finished",
		"state", stats.State.String(),
		"captured", stats.Captured,
		"frames_dropped", stats.FramesDropped,
		"latency_mean_ms", stats.LatencyMeanMS,
		"latency_p95_ms", stats.LatencyP95MS,
	)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("metrics server started", "addr", addr)
	return srv
}

// saveFrame writes JPEG payloads as is and raw frames as PNG.
func saveFrame(dir string, frame *stillcapture.Frame) (string, error) {
	if frame.Compressed {
		path := filepath.Join(dir, fmt.Sprintf("frame_%s.jpg", frame.ID))
		if err := os.WriteFile(path, frame.Data, 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		return path, nil
	}

	img, err := frame.Image()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("frame_%s.png", frame.ID))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return path, nil
}
