package synthetic

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/still-capture/internal/media"
)

// chain builds src ! capsfilter ! videoconvert [! jpegenc] ! appsink and returns
// the pipeline plus a channel receiving sink payloads.
func chain(t *testing.T, rt *Runtime, width, height int, encode bool) (*Pipeline, <-chan []byte) {
	t.Helper()

	mp, err := rt.NewPipeline("")
	require.NoError(t, err)
	p := mp.(*Pipeline)

	src, err := rt.NewElement("videotestsrc", "src")
	require.NoError(t, err)
	caps, err := rt.NewElement("capsfilter", "caps")
	require.NoError(t, err)
	require.NoError(t, caps.SetProperty("caps", media.Caps(fmt.Sprintf("video/x-raw,width=%d,height=%d", width, height))))
	conv, err := rt.NewElement("videoconvert", "conv")
	require.NoError(t, err)

	out := make(chan []byte, 16)
	sink, err := rt.NewAppSink(media.SinkConfig{Name: "sink", Width: width, Height: height, Raw: !encode}, func(data []byte) {
		out <- data
	})
	require.NoError(t, err)

	els := []media.Element{src, caps, conv}
	if encode {
		enc, err := rt.NewElement("jpegenc", "enc")
		require.NoError(t, err)
		els = append(els, enc)
	}
	els = append(els, sink)

	for _, el := range els {
		require.NoError(t, p.Add(el))
	}
	for i := 1; i < len(els); i++ {
		require.NoError(t, els[i-1].Link(els[i]))
	}
	return p, out
}

func TestNewElement_Unavailable(t *testing.T) {
	rt := New(WithUnavailable("toupcamsrc"))

	_, err := rt.NewElement("toupcamsrc", "")
	assert.ErrorIs(t, err, media.ErrElementUnavailable)

	_, err = rt.NewElement("no-such-factory", "")
	assert.ErrorIs(t, err, media.ErrElementUnavailable)

	el, err := rt.NewElement("videotestsrc", "")
	require.NoError(t, err)
	assert.Equal(t, "videotestsrc0", el.Name())
}

func TestLink_NegotiatesMediaType(t *testing.T) {
	rt := New()
	mp, _ := rt.NewPipeline("p")

	conv, _ := rt.NewElement("videoconvert", "conv")
	jpegSink, err := rt.NewAppSink(media.SinkConfig{Name: "sink", Width: 64, Height: 48, Raw: false}, nil)
	require.NoError(t, err)
	require.NoError(t, mp.Add(conv))
	require.NoError(t, mp.Add(jpegSink))

	err = conv.Link(jpegSink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not negotiated")
}

func TestLink_InjectedFailure(t *testing.T) {
	rt := New(WithLinkFailure("a", "b"))
	mp, _ := rt.NewPipeline("p")
	a, _ := rt.NewElement("videotestsrc", "a")
	b, _ := rt.NewElement("capsfilter", "b")
	require.NoError(t, mp.Add(a))
	require.NoError(t, mp.Add(b))

	assert.Error(t, a.Link(b))
}

func TestLink_RequiresSamePipeline(t *testing.T) {
	rt := New()
	a, _ := rt.NewElement("videotestsrc", "a")
	b, _ := rt.NewElement("capsfilter", "b")

	assert.Error(t, a.Link(b))
}

func TestStream_RawFramesMatchCaps(t *testing.T) {
	ticks := make(chan time.Time, 4)
	rt := New(WithTicks(ticks))
	p, out := chain(t, rt, 64, 48, false)

	require.NoError(t, p.SetState(media.StatePlaying))
	defer p.SetState(media.StateNull)

	ticks <- time.Now()
	ticks <- time.Now()

	for i := 0; i < 2; i++ {
		select {
		case data := <-out:
			assert.Len(t, data, 64*48*3)
		case <-time.After(2 * time.Second):
			t.Fatal("no frame produced")
		}
	}
	assert.Equal(t, uint64(2), p.Produced())
}

func TestStream_EncodesJPEG(t *testing.T) {
	ticks := make(chan time.Time, 1)
	rt := New(WithTicks(ticks))
	p, out := chain(t, rt, 80, 60, true)

	require.NoError(t, p.SetState(media.StatePlaying))
	defer p.SetState(media.StateNull)
	ticks <- time.Now()

	select {
	case data := <-out:
		img, err := jpeg.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 80, img.Bounds().Dx())
		assert.Equal(t, 60, img.Bounds().Dy())
	case <-time.After(2 * time.Second):
		t.Fatal("no frame produced")
	}
}

func TestStream_NumBuffersPostsEOS(t *testing.T) {
	rt := New(WithInterval(time.Millisecond))
	p, out := chain(t, rt, 32, 24, false)

	src := p.elements[0]
	require.NoError(t, src.SetProperty("num-buffers", 3))
	require.NoError(t, p.SetState(media.StatePlaying))
	defer p.SetState(media.StateNull)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := p.Bus().TimedPop(50 * time.Millisecond)
		if msg != nil && msg.Type == media.MessageEOS {
			assert.Len(t, out, 3)
			return
		}
	}
	t.Fatal("EOS not posted")
}

func TestBus_PreservesOrder(t *testing.T) {
	rt := New()
	mp, _ := rt.NewPipeline("p")
	p := mp.(*Pipeline)

	p.Post(media.Message{Type: media.MessageStateChanged})
	p.Post(media.Message{Type: media.MessageError, Text: "boom"})
	p.Post(media.Message{Type: media.MessageEOS})

	var got []media.MessageType
	for msg := p.Bus().TimedPop(10 * time.Millisecond); msg != nil; msg = p.Bus().TimedPop(10 * time.Millisecond) {
		got = append(got, msg.Type)
	}
	assert.Equal(t, []media.MessageType{media.MessageStateChanged, media.MessageError, media.MessageEOS}, got)
}

func TestParseSize(t *testing.T) {
	w, h, ok := parseSize("video/x-raw,width=(int)640,height=(int)480")
	require.True(t, ok)
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	_, _, ok = parseSize("video/x-raw")
	assert.False(t, ok)
}
