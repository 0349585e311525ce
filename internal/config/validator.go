package config

import (
	"fmt"
	"regexp"

	"github.com/e7canasta/still-capture/internal/source"
)

// Runtimes accepted in Config.Runtime.
const (
	RuntimeGStreamer = "gstreamer"
	RuntimeSynthetic = "synthetic"
)

const (
	defaultWidth       = 640
	defaultHeight      = 480
	defaultTopicPrefix = "still-capture"
	defaultClientID    = "still-capture"
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Validate checks cfg and fills in defaults.
func Validate(cfg *Config) error {
	if cfg.Source == "" {
		cfg.Source = source.KindTest.String()
	}
	if _, err := source.ParseKind(cfg.Source); err != nil {
		return err
	}

	if cfg.Width == 0 && cfg.Height == 0 {
		cfg.Width, cfg.Height = defaultWidth, defaultHeight
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("width and height must be > 0, got %dx%d", cfg.Width, cfg.Height)
	}

	if cfg.EncodeToCompressed == nil {
		encode := true
		cfg.EncodeToCompressed = &encode
	}

	if cfg.Device.Path == "" {
		cfg.Device.Path = source.DefaultDevicePath
	}
	if cfg.Vendor.Preset != nil && *cfg.Vendor.Preset < 0 {
		return fmt.Errorf("vendor.preset must be >= 0, got %d", *cfg.Vendor.Preset)
	}

	switch cfg.Runtime {
	case "":
		cfg.Runtime = RuntimeGStreamer
	case RuntimeGStreamer, RuntimeSynthetic:
	default:
		return fmt.Errorf("runtime must be %q or %q, got %q", RuntimeGStreamer, RuntimeSynthetic, cfg.Runtime)
	}

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = defaultTopicPrefix
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = defaultClientID
	}
	if !clientIDPattern.MatchString(cfg.MQTT.ClientID) {
		return fmt.Errorf("mqtt.client_id must match pattern [A-Za-z0-9_-]+")
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}

	return nil
}
