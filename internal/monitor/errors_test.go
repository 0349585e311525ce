package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/e7canasta/still-capture/internal/media"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		debug string
		want  ErrorCategory
	}{
		{
			name:  "not negotiated",
			text:  "Internal data stream error.",
			debug: "streaming stopped, reason not-negotiated (-4)",
			want:  ErrCategoryNegotiation,
		},
		{
			name: "device busy",
			text: "Could not open device '/dev/video0' for reading and writing.",
			want: ErrCategoryDevice,
		},
		{
			name:  "v4l2 ioctl",
			text:  "Failed to allocate required memory.",
			debug: "gstv4l2src.c(659): Buffer pool activation failed",
			want:  ErrCategoryDevice,
		},
		{
			name:  "missing plugin",
			text:  "Your GStreamer installation is missing a plug-in.",
			debug: "missing plugin: toupcamsrc",
			want:  ErrCategoryPlugin,
		},
		{
			name: "unclassified",
			text: "Something went wrong.",
			want: ErrCategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(&media.Message{Type: media.MessageError, Text: tt.text, Debug: tt.debug})
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, ErrCategoryUnknown, Classify(nil))
}

func TestErrorCounters(t *testing.T) {
	var c ErrorCounters
	c.add(ErrCategoryDevice)
	c.add(ErrCategoryDevice)
	c.add(ErrCategoryPlugin)
	c.add(ErrCategoryUnknown)

	assert.Equal(t, uint64(2), c.Device.Load())
	assert.Equal(t, uint64(0), c.Negotiation.Load())
	assert.Equal(t, uint64(1), c.Plugin.Load())
	assert.Equal(t, uint64(1), c.Unknown.Load())
}

func TestPipelineError(t *testing.T) {
	err := &PipelineError{Source: "src", Message: "boom", Category: ErrCategoryDevice}
	assert.Equal(t, "monitor: pipeline error [device] from src: boom", err.Error())
}
