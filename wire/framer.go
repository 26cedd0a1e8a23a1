package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/ringio/sessionkit/ringbuf"
)

// Verdict is the result of one TryFrame call.
type Verdict int

const (
	// Ready means a full Packet was extracted and consumed from the ring.
	Ready Verdict = iota
	// NeedMore means the ring does not yet hold a complete frame; the
	// caller should stop looping and wait for more bytes.
	NeedMore
	// Invalid means the ring's head declares an impossible frame length;
	// this is fatal and the caller must disconnect.
	Invalid
)

// TryFrame is a pure function: it inspects (and, on success, consumes) the
// front of buf without ever copying across the ring's wrap point. It must be
// called in a loop by the caller until it returns NeedMore.
func TryFrame(buf *ringbuf.RingBuffer) (Packet, Verdict, error) {
	occ := buf.Occupancy()
	if occ < HeaderSize {
		return Packet{}, NeedMore, nil
	}

	first, second := buf.ReadableSpans()

	var hdr [HeaderSize]byte
	readSpan(first, second, 0, hdr[:])
	total := binary.BigEndian.Uint16(hdr[0:2])

	if total < HeaderSize {
		return Packet{}, Invalid, fmt.Errorf("%w: total_length=%d", ErrInvalidFrame, total)
	}
	if occ < int(total) {
		return Packet{}, NeedMore, nil
	}

	id := binary.BigEndian.Uint16(hdr[2:4])
	payloadLen := int(total) - HeaderSize

	var payload []byte
	if payloadLen > 0 {
		payload = mcache.Malloc(payloadLen)
		readSpan(first, second, HeaderSize, payload)
	}

	if err := buf.Consume(int(total)); err != nil {
		// occupancy was already verified >= total; this would be an
		// invariant violation in the ring, not a framing error.
		panic(fmt.Sprintf("wire: consume(%d) failed after occupancy check: %v", total, err))
	}

	return Packet{ID: id, Payload: payload}, Ready, nil
}
