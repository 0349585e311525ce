package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/still-capture/internal/media/synthetic"
)

func newTestSink(t *testing.T, raw bool) *CaptureSink {
	t.Helper()
	s, err := New(synthetic.New(), Config{Width: 4, Height: 2, Raw: raw})
	require.NoError(t, err)
	return s
}

func TestNew_InvalidSize(t *testing.T) {
	_, err := New(synthetic.New(), Config{Width: 0, Height: 480})
	assert.Error(t, err)
}

func TestNew_ElementCaps(t *testing.T) {
	s := newTestSink(t, false)
	assert.Equal(t, "capture_sink", s.Element().Name())
	assert.Equal(t, "appsink", s.Element().Factory())
	assert.False(t, s.Raw())

	w, h := s.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 2, h)
}

func TestRequestDeliverPop(t *testing.T) {
	s := newTestSink(t, false)

	var got []string
	s.RequestImage(func(id string) { got = append(got, id) })
	s.deliver([]byte{0xff, 0xd8})

	require.Equal(t, []string{"0"}, got)

	f, err := s.PopImage("0")
	require.NoError(t, err)
	assert.Equal(t, "0", f.ID)
	assert.True(t, f.Compressed)
	assert.Equal(t, []byte{0xff, 0xd8}, f.Data)
	assert.Equal(t, 4, f.Width)
	assert.Equal(t, 2, f.Height)
	assert.NotEmpty(t, f.TraceID)

	_, err = s.PopImage("0")
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
}

func TestDeliver_WithoutRequestIsDropped(t *testing.T) {
	s := newTestSink(t, true)

	s.deliver(make([]byte, 24))
	s.deliver(make([]byte, 24))

	stats := s.Stats()
	assert.Equal(t, uint64(0), stats.Delivered)
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, 0, stats.Buffered)
}

func TestRequests_ServedInOrderWithFreshIdentifiers(t *testing.T) {
	s := newTestSink(t, true)

	var first, second []string
	s.RequestImage(func(id string) { first = append(first, id) })
	s.RequestImage(func(id string) { second = append(second, id) })

	s.deliver(make([]byte, 24))
	s.deliver(make([]byte, 24))
	s.deliver(make([]byte, 24))

	assert.Equal(t, []string{"0"}, first)
	assert.Equal(t, []string{"1"}, second)

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Delivered)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 2, stats.Buffered)
	assert.Equal(t, 0, stats.Pending)
}

func TestHalt_StopsServingRequests(t *testing.T) {
	s := newTestSink(t, false)

	called := false
	s.RequestImage(func(string) { called = true })
	s.Halt()
	s.Halt()

	s.RequestImage(func(string) { called = true })
	s.deliver([]byte{1})

	assert.False(t, called)
	assert.Equal(t, uint64(1), s.Stats().Dropped)
}

func TestPopImage_NeverIssued(t *testing.T) {
	s := newTestSink(t, false)
	_, err := s.PopImage("42")
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
}

func TestRequestImage_Cancel(t *testing.T) {
	s := newTestSink(t, false)

	var first, second []string
	cancelFirst := s.RequestImage(func(id string) { first = append(first, id) })
	s.RequestImage(func(id string) { second = append(second, id) })
	require.Equal(t, 2, s.Stats().Pending)

	assert.True(t, cancelFirst())
	assert.False(t, cancelFirst(), "second cancel is a no-op")
	assert.Equal(t, 1, s.Stats().Pending)

	s.deliver([]byte{1})
	assert.Empty(t, first)
	assert.Equal(t, []string{"0"}, second)
}

func TestRequestImage_CancelAfterDelivery(t *testing.T) {
	s := newTestSink(t, false)

	cancel := s.RequestImage(func(string) {})
	s.deliver([]byte{1})

	assert.False(t, cancel())
	assert.Equal(t, 1, s.Stats().Buffered)
}

func TestRequestImage_CancelWhenHalted(t *testing.T) {
	s := newTestSink(t, false)
	s.Halt()

	cancel := s.RequestImage(func(string) {})
	assert.False(t, cancel())
}
