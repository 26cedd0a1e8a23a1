// Package wire implements the length-prefixed, id-tagged framing protocol
// described in the session engine's wire format: each frame is
// [total_length:u16 BE][packet_id:u16 BE][payload], where total_length
// counts the whole frame including its four header bytes.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/bytedance/gopkg/lang/mcache"
)

// HeaderSize is the number of bytes in a frame header (length + id).
const HeaderSize = 4

// MaxFrameSize is the largest value total_length may take, fixed by the
// 16-bit length field.
const MaxFrameSize = 0xFFFF

// MaxPayloadSize is the largest payload a single frame can carry.
const MaxPayloadSize = MaxFrameSize - HeaderSize

// ErrInvalidFrame is returned (and wrapped) when a frame declares a
// total_length smaller than the header itself.
var ErrInvalidFrame = errors.New("wire: invalid frame length")

// ErrPayloadTooLarge is returned when a payload does not fit in a single frame.
var ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum frame size")

// Packet is the decoded, in-process representation of one frame.
type Packet struct {
	ID      uint16
	Payload []byte
}

// Release returns the packet's payload buffer to the pool it was allocated
// from. Callers that keep a Packet beyond the scope of their OnPacket
// callback must not call Release until they are done with Payload.
func (p *Packet) Release() {
	if p.Payload != nil {
		mcache.Free(p.Payload)
		p.Payload = nil
	}
}

// Encode returns the on-wire bytes for a single frame. It is a convenience
// path for callers that are not writing directly into a ring buffer's spans.
func Encode(id uint16, payload []byte) ([]byte, error) {
	total := HeaderSize + len(payload)
	if total > MaxFrameSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(total))
	binary.BigEndian.PutUint16(buf[2:4], id)
	copy(buf[4:], payload)
	return buf, nil
}

// WriteFrame writes the on-wire bytes for one frame across up to two
// destination spans (in physical order, as returned by a ring buffer's
// WritableSpans), without an intermediate heap allocation when both spans
// together have room. The caller must have already verified that
// len(first)+len(second) >= HeaderSize+len(payload).
func WriteFrame(first, second []byte, id uint16, payload []byte) error {
	total := HeaderSize + len(payload)
	if total > MaxFrameSize {
		return ErrPayloadTooLarge
	}
	if len(first)+len(second) < total {
		return ErrInsufficientSpans
	}
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(total))
	binary.BigEndian.PutUint16(hdr[2:4], id)

	w := spanCursor{first: first, second: second}
	w.write(hdr[:])
	if len(payload) > 0 {
		w.write(payload)
	}
	return nil
}

// ErrInsufficientSpans is returned by WriteFrame when the destination spans
// together are too small for the frame.
var ErrInsufficientSpans = errors.New("wire: destination spans too small")

// spanCursor writes sequentially into two spans treated as one logical
// buffer, in physical order.
type spanCursor struct {
	first, second []byte
	off           int // bytes already written, counted across both spans
}

func (c *spanCursor) write(p []byte) {
	if c.off < len(c.first) {
		n := copy(c.first[c.off:], p)
		c.off += n
		if n < len(p) {
			copy(c.second, p[n:])
			c.off += len(p) - n
		}
		return
	}
	copy(c.second[c.off-len(c.first):], p)
	c.off += len(p)
}

// readSpan copies n bytes starting at logical offset `offset` out of the two
// spans (as returned by a ring buffer's ReadableSpans), which together must
// hold at least offset+n bytes.
func readSpan(first, second []byte, offset int, dst []byte) {
	n := len(dst)
	if offset < len(first) {
		c := copy(dst, first[offset:])
		if c < n {
			copy(dst[c:], second[:n-c])
		}
		return
	}
	copy(dst, second[offset-len(first):])
}
