package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ringio/sessionkit/ringbuf"
)

func mustWrite(t *testing.T, rb *ringbuf.RingBuffer, b []byte) {
	t.Helper()
	require.NoError(t, rb.Write(b))
}

func TestTryFrameNeedMoreOnEmpty(t *testing.T) {
	rb := ringbuf.New(64)
	_, v, err := TryFrame(rb)
	require.NoError(t, err)
	require.Equal(t, NeedMore, v)
}

func TestTryFrameSingleFrame(t *testing.T) {
	rb := ringbuf.New(64)
	mustWrite(t, rb, []byte{0x00, 0x09, 0x00, 0x64, 'H', 'e', 'l', 'l', 'o'})

	pkt, v, err := TryFrame(rb)
	require.NoError(t, err)
	require.Equal(t, Ready, v)
	require.Equal(t, uint16(100), pkt.ID)
	require.Equal(t, []byte("Hello"), pkt.Payload)
	require.Equal(t, 0, rb.Occupancy())
	pkt.Release()
}

func TestTryFrameTwoFramesOneSegment(t *testing.T) {
	rb := ringbuf.New(64)
	mustWrite(t, rb, []byte{0x00, 0x05, 0x00, 0x0A, 'A'})
	mustWrite(t, rb, []byte{0x00, 0x06, 0x00, 0x14, 'B', 'B'})

	pkt1, v1, err := TryFrame(rb)
	require.NoError(t, err)
	require.Equal(t, Ready, v1)
	require.Equal(t, uint16(10), pkt1.ID)
	require.Equal(t, []byte("A"), pkt1.Payload)
	pkt1.Release()

	pkt2, v2, err := TryFrame(rb)
	require.NoError(t, err)
	require.Equal(t, Ready, v2)
	require.Equal(t, uint16(20), pkt2.ID)
	require.Equal(t, []byte("BB"), pkt2.Payload)
	pkt2.Release()

	_, v3, err := TryFrame(rb)
	require.NoError(t, err)
	require.Equal(t, NeedMore, v3)
	require.Equal(t, 0, rb.Occupancy())
}

func TestTryFrameSplitHeaderAcrossWrites(t *testing.T) {
	rb := ringbuf.New(64)
	mustWrite(t, rb, []byte{0x00})

	_, v, err := TryFrame(rb)
	require.NoError(t, err)
	require.Equal(t, NeedMore, v)

	mustWrite(t, rb, []byte{0x09, 0x00, 0x64, 'H', 'e', 'l', 'l', 'o'})
	pkt, v, err := TryFrame(rb)
	require.NoError(t, err)
	require.Equal(t, Ready, v)
	require.Equal(t, uint16(100), pkt.ID)
	require.Equal(t, []byte("Hello"), pkt.Payload)
	pkt.Release()

	_, v, err = TryFrame(rb)
	require.NoError(t, err)
	require.Equal(t, NeedMore, v)
}

func TestTryFrameInvalidLength(t *testing.T) {
	rb := ringbuf.New(64)
	mustWrite(t, rb, []byte{0x00, 0x03, 0xFF, 0xFF})

	_, v, err := TryFrame(rb)
	require.Error(t, err)
	require.Equal(t, Invalid, v)
}

func TestTryFrameWrapAround(t *testing.T) {
	rb := ringbuf.New(100)
	require.NoError(t, rb.Write(make([]byte, 95)))
	require.NoError(t, rb.Consume(95))

	frame := []byte{0x00, 0x0A, 0x00, 0x01, '1', '2', '3', '4', '5', '6'}
	mustWrite(t, rb, frame)

	pkt, v, err := TryFrame(rb)
	require.NoError(t, err)
	require.Equal(t, Ready, v)
	require.Equal(t, uint16(1), pkt.ID)
	require.Equal(t, []byte("123456"), pkt.Payload)
	pkt.Release()
}

func TestEncodeThenFrameRoundTrip(t *testing.T) {
	payload := make([]byte, 65531)
	for i := range payload {
		payload[i] = byte(i)
	}
	encoded, err := Encode(42, payload)
	require.NoError(t, err)

	rb := ringbuf.New(len(encoded) + 8)
	mustWrite(t, rb, encoded)

	pkt, v, err := TryFrame(rb)
	require.NoError(t, err)
	require.Equal(t, Ready, v)
	require.Equal(t, uint16(42), pkt.ID)
	require.Equal(t, payload, pkt.Payload)
	pkt.Release()
}

func TestWriteFrameAcrossWrappedSpans(t *testing.T) {
	rb := ringbuf.New(10)
	require.NoError(t, rb.Write(make([]byte, 8)))
	require.NoError(t, rb.Consume(8))

	first, second := rb.WritableSpans()
	require.NoError(t, WriteFrame(first, second, 7, []byte{1, 2}))
	require.NoError(t, rb.CommitWrite(6))

	pkt, v, err := TryFrame(rb)
	require.NoError(t, err)
	require.Equal(t, Ready, v)
	require.Equal(t, uint16(7), pkt.ID)
	require.Equal(t, []byte{1, 2}, pkt.Payload)
	pkt.Release()
}
