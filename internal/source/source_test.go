package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/still-capture/internal/media"
	"github.com/e7canasta/still-capture/internal/media/synthetic"
	"github.com/e7canasta/still-capture/internal/pipeline"
)

// recordingElement captures the properties a backend sets, in order.
type recordingElement struct {
	name  string
	props map[string]any
	order []string
	fail  string
}

func newRecordingElement() *recordingElement {
	return &recordingElement{name: "src", props: make(map[string]any)}
}

func (e *recordingElement) Name() string             { return e.name }
func (e *recordingElement) Factory() string          { return "recording" }
func (e *recordingElement) Link(media.Element) error { return nil }

func (e *recordingElement) SetProperty(name string, value any) error {
	if name == e.fail {
		return errors.New("no such property")
	}
	e.props[name] = value
	e.order = append(e.order, name)
	return nil
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"", KindTest},
		{"videotestsrc", KindTest},
		{"test", KindTest},
		{"v4l2src", KindDevice},
		{"v4l2src-mu800", KindDevice},
		{"device", KindDevice},
		{" V4L2SRC ", KindDevice},
		{"toupcamsrc", KindVendor},
		{"vendor", KindVendor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKind(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKind_Unsupported(t *testing.T) {
	_, err := ParseKind("unknown-source")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
	assert.Contains(t, err.Error(), "unknown-source")
}

func TestNames_Sorted(t *testing.T) {
	names := Names()
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "videotestsrc")
	assert.Contains(t, names, "toupcamsrc")
}

func TestNew_Defaults(t *testing.T) {
	b, err := New(KindDevice, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDevicePath, b.(*Device).Path)

	b, err = New(KindVendor, Options{})
	require.NoError(t, err)
	assert.Nil(t, b.(*Vendor).Preset)

	_, err = New(Kind(99), Options{})
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}

func TestConfigure(t *testing.T) {
	preset := 2

	tests := []struct {
		name string
		kind Kind
		opts Options
		want map[string]any
	}{
		{
			name: "test pattern",
			kind: KindTest,
			opts: Options{Pattern: "ball"},
			want: map[string]any{"is-live": true, "pattern": 18},
		},
		{
			name: "device",
			kind: KindDevice,
			opts: Options{DevicePath: "/dev/video2"},
			want: map[string]any{"device": "/dev/video2"},
		},
		{
			name: "vendor without preset",
			kind: KindVendor,
			want: map[string]any{},
		},
		{
			name: "vendor with preset",
			kind: KindVendor,
			opts: Options{Preset: &preset},
			want: map[string]any{"esize": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.kind, tt.opts)
			require.NoError(t, err)

			el := newRecordingElement()
			require.NoError(t, b.Configure(el))
			assert.Equal(t, tt.want, el.props)
		})
	}
}

func TestConfigure_PropertiesAppliedAfterBackendInSortedOrder(t *testing.T) {
	b, err := New(KindDevice, Options{
		Properties: map[string]any{"io-mode": 2, "do-timestamp": true},
	})
	require.NoError(t, err)

	el := newRecordingElement()
	require.NoError(t, b.Configure(el))
	assert.Equal(t, []string{"device", "do-timestamp", "io-mode"}, el.order)
}

func TestConfigure_UnknownPattern(t *testing.T) {
	b, err := New(KindTest, Options{Pattern: "plaid"})
	require.NoError(t, err)

	err = b.Configure(newRecordingElement())
	assert.ErrorContains(t, err, "plaid")
}

func TestConfigure_PropertyError(t *testing.T) {
	b, err := New(KindDevice, Options{})
	require.NoError(t, err)

	el := newRecordingElement()
	el.fail = "device"
	assert.Error(t, b.Configure(el))
}

func TestCreate(t *testing.T) {
	rt := synthetic.New()
	b, err := New(KindTest, Options{})
	require.NoError(t, err)

	n, err := Create(rt, b)
	require.NoError(t, err)
	assert.Equal(t, pipeline.KindSource, n.Kind)
	assert.Equal(t, "videotestsrc", n.Element.Factory())
	assert.Equal(t, n.Element.Name(), n.Name)
}

func TestCreate_BackendUnavailable(t *testing.T) {
	rt := synthetic.New(synthetic.WithUnavailable("toupcamsrc"))
	b, err := New(KindVendor, Options{})
	require.NoError(t, err)

	_, err = Create(rt, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "toupcamsrc")
}
