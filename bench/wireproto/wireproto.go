// Package wireproto defines the benchmark driver's three fixed packet
// payloads and hand-written protobuf-wire-format (de)serializers for them,
// in the spirit of the teacher's thrift FastCodec: a small interface plus
// direct encode/decode against a byte buffer, no reflection.
package wireproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Packet ids, fixed contracts between benchmark client and echo server.
const (
	RequestID    uint16 = 0x1001
	ResponseID   uint16 = 0x1002
	EchoID       uint16 = 0x1003
	EchoResultID uint16 = 0x1003 // EchoResult answers on the same id as Echo.
)

// Message is implemented by every wireproto payload.
type Message interface {
	// Size returns the exact encoded length, so callers can size a buffer
	// once instead of growing it.
	Size() int
	// AppendTo appends the encoded message to buf and returns the result.
	AppendTo(buf []byte) []byte
	// Unmarshal decodes buf into the receiver, overwriting its fields.
	Unmarshal(buf []byte) error
}

// Marshal is a convenience wrapper equivalent to msg.AppendTo(make([]byte, 0, msg.Size())).
func Marshal(msg Message) []byte {
	return msg.AppendTo(make([]byte, 0, msg.Size()))
}

// Request carries one round-trip's worth of client-side state: field 1 is
// the send timestamp, field 2 the sequence number, field 3 the opaque
// payload whose size the CLI's --payload flag controls.
type Request struct {
	ClientTSNanos int64
	Seq           uint64
	Payload       []byte
}

func (r *Request) Size() int {
	n := protowire.SizeTag(1) + protowire.SizeVarint(uint64(r.ClientTSNanos))
	n += protowire.SizeTag(2) + protowire.SizeVarint(r.Seq)
	n += protowire.SizeTag(3) + protowire.SizeBytes(len(r.Payload))
	return n
}

func (r *Request) AppendTo(buf []byte) []byte {
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.ClientTSNanos))
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, r.Seq)
	buf = protowire.AppendTag(buf, 3, protowire.BytesType)
	buf = protowire.AppendBytes(buf, r.Payload)
	return buf
}

func (r *Request) Unmarshal(buf []byte) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fmt.Errorf("wireproto: Request: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return fmt.Errorf("wireproto: Request.client_ts_ns: %w", protowire.ParseError(n))
			}
			r.ClientTSNanos = int64(v)
			buf = buf[n:]
		case 2:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return fmt.Errorf("wireproto: Request.seq: %w", protowire.ParseError(n))
			}
			r.Seq = v
			buf = buf[n:]
		case 3:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return fmt.Errorf("wireproto: Request.payload: %w", protowire.ParseError(n))
			}
			r.Payload = append([]byte(nil), v...)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return fmt.Errorf("wireproto: Request: unknown field %d: %w", num, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	return nil
}

// Response answers a Request: it echoes the sequence and client timestamp,
// and adds the server's recv/send timestamps so the client can account for
// server-side processing time separately from wire latency.
type Response struct {
	Seq               uint64
	ClientTSNanos     int64
	ServerRecvTSNanos int64
	ServerSendTSNanos int64
}

func (r *Response) Size() int {
	n := protowire.SizeTag(1) + protowire.SizeVarint(r.Seq)
	n += protowire.SizeTag(2) + protowire.SizeVarint(uint64(r.ClientTSNanos))
	n += protowire.SizeTag(3) + protowire.SizeVarint(uint64(r.ServerRecvTSNanos))
	n += protowire.SizeTag(4) + protowire.SizeVarint(uint64(r.ServerSendTSNanos))
	return n
}

func (r *Response) AppendTo(buf []byte) []byte {
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, r.Seq)
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.ClientTSNanos))
	buf = protowire.AppendTag(buf, 3, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.ServerRecvTSNanos))
	buf = protowire.AppendTag(buf, 4, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.ServerSendTSNanos))
	return buf
}

func (r *Response) Unmarshal(buf []byte) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fmt.Errorf("wireproto: Response: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch num {
		case 1, 2, 3, 4:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return fmt.Errorf("wireproto: Response: field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case 1:
				r.Seq = v
			case 2:
				r.ClientTSNanos = int64(v)
			case 3:
				r.ServerRecvTSNanos = int64(v)
			case 4:
				r.ServerSendTSNanos = int64(v)
			}
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return fmt.Errorf("wireproto: Response: unknown field %d: %w", num, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	return nil
}

// Echo carries an arbitrary string for the echo scenario.
type Echo struct {
	Text string
}

func (e *Echo) Size() int {
	return protowire.SizeTag(1) + protowire.SizeBytes(len(e.Text))
}

func (e *Echo) AppendTo(buf []byte) []byte {
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendString(buf, e.Text)
	return buf
}

func (e *Echo) Unmarshal(buf []byte) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fmt.Errorf("wireproto: Echo: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		if num == 1 {
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return fmt.Errorf("wireproto: Echo.text: %w", protowire.ParseError(n))
			}
			e.Text = string(v)
			buf = buf[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, buf)
		if n < 0 {
			return fmt.Errorf("wireproto: Echo: unknown field %d: %w", num, protowire.ParseError(n))
		}
		buf = buf[n:]
	}
	return nil
}

// EchoResult answers an Echo with the same text and a result code (0 = ok).
type EchoResult struct {
	Text       string
	ResultCode int32
}

func (e *EchoResult) Size() int {
	n := protowire.SizeTag(1) + protowire.SizeBytes(len(e.Text))
	n += protowire.SizeTag(2) + protowire.SizeVarint(uint64(uint32(e.ResultCode)))
	return n
}

func (e *EchoResult) AppendTo(buf []byte) []byte {
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendString(buf, e.Text)
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(uint32(e.ResultCode)))
	return buf
}

func (e *EchoResult) Unmarshal(buf []byte) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fmt.Errorf("wireproto: EchoResult: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return fmt.Errorf("wireproto: EchoResult.text: %w", protowire.ParseError(n))
			}
			e.Text = string(v)
			buf = buf[n:]
		case 2:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return fmt.Errorf("wireproto: EchoResult.result_code: %w", protowire.ParseError(n))
			}
			e.ResultCode = int32(uint32(v))
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return fmt.Errorf("wireproto: EchoResult: unknown field %d: %w", num, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	return nil
}
