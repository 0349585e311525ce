// Package source creates the capture-source node for a camera backend.
package source

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/e7canasta/still-capture/internal/media"
	"github.com/e7canasta/still-capture/internal/pipeline"
)

// DefaultDevicePath is used by the device backend when no path is configured.
const DefaultDevicePath = "/dev/video0"

var (
	// ErrUnsupportedBackend is returned for unknown backend identifiers.
	ErrUnsupportedBackend = errors.New("source: unsupported backend")

	// ErrBackendUnavailable is returned when the backend's element cannot be
	// instantiated (plugin or driver missing).
	ErrBackendUnavailable = errors.New("source: backend unavailable")
)

// Kind identifies a backend.
type Kind int

const (
	// KindTest is the videotestsrc pattern generator.
	KindTest Kind = iota
	// KindDevice is a V4L2 capture device.
	KindDevice
	// KindVendor is the ToupTek camera SDK source.
	KindVendor
)

// String returns the backend's element factory name.
func (k Kind) String() string {
	switch k {
	case KindTest:
		return "videotestsrc"
	case KindDevice:
		return "v4l2src"
	case KindVendor:
		return "toupcamsrc"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var kindNames = map[string]Kind{
	"videotestsrc":  KindTest,
	"test":          KindTest,
	"v4l2src":       KindDevice,
	"v4l2src-mu800": KindDevice,
	"device":        KindDevice,
	"toupcamsrc":    KindVendor,
	"vendor":        KindVendor,
}

// ParseKind maps a configured source name to a Kind. Empty selects the test
// source.
func ParseKind(name string) (Kind, error) {
	if name == "" {
		return KindTest, nil
	}
	k, ok := kindNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q (known: %s)", ErrUnsupportedBackend, name, strings.Join(Names(), ", "))
	}
	return k, nil
}

// Names returns the accepted backend names, sorted.
func Names() []string {
	names := make([]string, 0, len(kindNames))
	for n := range kindNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Options are the backend-specific settings. Fields not used by the selected
// backend are ignored.
type Options struct {
	// DevicePath is the V4L2 device node (device backend).
	DevicePath string
	// Preset is the vendor resolution preset ("esize"); nil leaves the camera
	// on its automatic choice.
	Preset *int
	// Pattern selects the videotestsrc pattern (test backend).
	Pattern string
	// Properties are applied verbatim to the source element after the
	// backend's own configuration.
	Properties map[string]any
}

// Backend is a configured source variant.
type Backend interface {
	Kind() Kind
	// Factory is the media element factory to instantiate.
	Factory() string
	// Configure applies the backend's settings to a fresh element.
	Configure(el media.Element) error
}

// New returns the backend for kind with defaults filled in.
func New(kind Kind, opts Options) (Backend, error) {
	switch kind {
	case KindTest:
		return &TestPattern{Pattern: opts.Pattern, Properties: opts.Properties}, nil
	case KindDevice:
		path := opts.DevicePath
		if path == "" {
			path = DefaultDevicePath
		}
		return &Device{Path: path, Properties: opts.Properties}, nil
	case KindVendor:
		return &Vendor{Preset: opts.Preset, Properties: opts.Properties}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, kind)
	}
}

// Create instantiates and configures the source node for b. The node is not
// added to any pipeline.
func Create(rt media.Runtime, b Backend) (pipeline.Node, error) {
	el, err := rt.NewElement(b.Factory(), "")
	if err != nil {
		return pipeline.Node{}, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, b.Factory(), err)
	}
	if err := b.Configure(el); err != nil {
		return pipeline.Node{}, fmt.Errorf("source: failed to configure %s: %w", b.Factory(), err)
	}

	slog.Debug("source: created", "backend", b.Kind().String(), "element", el.Name())
	return pipeline.Node{Name: el.Name(), Kind: pipeline.KindSource, Element: el}, nil
}

// testPatterns maps names to videotestsrc's GstVideoTestSrcPattern values.
var testPatterns = map[string]int{
	"smpte":      0,
	"snow":       1,
	"black":      2,
	"white":      3,
	"red":        4,
	"green":      5,
	"blue":       6,
	"checkers-1": 7,
	"checkers-2": 8,
	"checkers-4": 9,
	"checkers-8": 10,
	"circular":   11,
	"blink":      12,
	"smpte75":    13,
	"zone-plate": 14,
	"gamut":      15,
	"ball":       18,
}

// TestPattern is the videotestsrc backend.
type TestPattern struct {
	Pattern    string
	Properties map[string]any
}

func (t *TestPattern) Kind() Kind      { return KindTest }
func (t *TestPattern) Factory() string { return "videotestsrc" }

func (t *TestPattern) Configure(el media.Element) error {
	slog.Warn("source: using test source")

	// Without is-live the generator runs as fast as the sink accepts buffers.
	if err := el.SetProperty("is-live", true); err != nil {
		return err
	}
	if t.Pattern != "" {
		code, ok := testPatterns[t.Pattern]
		if !ok {
			return fmt.Errorf("source: unknown test pattern %q", t.Pattern)
		}
		if err := el.SetProperty("pattern", code); err != nil {
			return err
		}
	}
	return applyProperties(el, t.Properties)
}

// Device is the V4L2 backend.
type Device struct {
	Path       string
	Properties map[string]any
}

func (d *Device) Kind() Kind      { return KindDevice }
func (d *Device) Factory() string { return "v4l2src" }

func (d *Device) Configure(el media.Element) error {
	if err := el.SetProperty("device", d.Path); err != nil {
		return err
	}
	return applyProperties(el, d.Properties)
}

// Vendor is the ToupTek SDK backend.
type Vendor struct {
	Preset     *int
	Properties map[string]any
}

func (v *Vendor) Kind() Kind      { return KindVendor }
func (v *Vendor) Factory() string { return "toupcamsrc" }

func (v *Vendor) Configure(el media.Element) error {
	if v.Preset != nil {
		// esize must agree with the configured width/height.
		if err := el.SetProperty("esize", *v.Preset); err != nil {
			return err
		}
	}
	return applyProperties(el, v.Properties)
}

func applyProperties(el media.Element, props map[string]any) error {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		slog.Debug("source: set property", "element", el.Name(), "property", k, "value", props[k])
		if err := el.SetProperty(k, props[k]); err != nil {
			return err
		}
	}
	return nil
}
