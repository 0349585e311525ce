package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaps_MediaType(t *testing.T) {
	tests := []struct {
		caps Caps
		want string
	}{
		{"video/x-raw,width=640,height=480", "video/x-raw"},
		{"image/jpeg", "image/jpeg"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.caps.MediaType(), "caps %q", tt.caps)
	}
}

func TestSinkConfig_Caps(t *testing.T) {
	compressed := SinkConfig{Width: 1280, Height: 720}
	assert.Equal(t, Caps("image/jpeg,width=1280,height=720"), compressed.Caps())

	raw := SinkConfig{Width: 320, Height: 240, Raw: true}
	assert.Equal(t, Caps("video/x-raw,format=RGB,width=320,height=240"), raw.Caps())
	assert.Equal(t, "video/x-raw", raw.Caps().MediaType())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "NULL", StateNull.String())
	assert.Equal(t, "PLAYING", StatePlaying.String())
	assert.Equal(t, "State(9)", State(9).String())
}
