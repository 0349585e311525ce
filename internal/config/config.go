// Package config loads the still-capture YAML configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete still-capture configuration.
type Config struct {
	Source             string         `yaml:"source"`               // videotestsrc, v4l2src, toupcamsrc (or test, device, vendor)
	Width              int            `yaml:"width"`                // default 640
	Height             int            `yaml:"height"`               // default 480
	EncodeToCompressed *bool          `yaml:"encode_to_compressed"` // default true
	Device             DeviceConfig   `yaml:"device"`
	Vendor             VendorConfig   `yaml:"vendor"`
	Test               TestConfig     `yaml:"test"`
	Properties         map[string]any `yaml:"properties"` // extra source element properties
	Runtime            string         `yaml:"runtime"`    // gstreamer, synthetic
	MQTT               MQTTConfig     `yaml:"mqtt"`
	Metrics            MetricsConfig  `yaml:"metrics"`
}

// DeviceConfig configures the V4L2 backend.
type DeviceConfig struct {
	Path string `yaml:"path"`
}

// VendorConfig configures the ToupTek backend.
type VendorConfig struct {
	Preset *int `yaml:"preset"` // esize; unset lets the camera choose
}

// TestConfig configures the test pattern backend.
type TestConfig struct {
	Pattern string `yaml:"pattern"`
}

// MQTTConfig configures the run state emitter. An empty broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	QoS         byte   `yaml:"qos"`
}

// MetricsConfig configures the Prometheus endpoint. An empty listen address
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Encode reports whether frames are JPEG encoded.
func (c *Config) Encode() bool {
	return c.EncodeToCompressed == nil || *c.EncodeToCompressed
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("config: defaults invalid: %v", err))
	}
	return cfg
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ParseWH parses a "W,H" (or "WxH") resolution.
func ParseWH(s string) (width, height int, err error) {
	sep := ","
	if !strings.Contains(s, sep) {
		sep = "x"
	}
	ws, hs, ok := strings.Cut(strings.TrimSpace(s), sep)
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q: expected W,H", s)
	}

	width, err = strconv.Atoi(strings.TrimSpace(ws))
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: bad width: %w", s, err)
	}
	height, err = strconv.Atoi(strings.TrimSpace(hs))
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: bad height: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: width and height must be > 0", s)
	}
	return width, height, nil
}
