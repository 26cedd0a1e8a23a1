package wireproto

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequestRoundTrip(t *testing.T) {
	req := &Request{ClientTSNanos: 123456789, Seq: 42, Payload: []byte("abcdefgh")}
	buf := Marshal(req)
	require.Equal(t, req.Size(), len(buf))

	got := &Request{}
	require.NoError(t, got.Unmarshal(buf))
	require.Equal(t, req.ClientTSNanos, got.ClientTSNanos)
	require.Equal(t, req.Seq, got.Seq)
	require.Equal(t, req.Payload, got.Payload)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &Response{Seq: 7, ClientTSNanos: 1, ServerRecvTSNanos: 2, ServerSendTSNanos: 3}
	buf := Marshal(resp)
	require.Equal(t, resp.Size(), len(buf))

	got := &Response{}
	require.NoError(t, got.Unmarshal(buf))
	require.Equal(t, *resp, *got)
}

func TestEchoRoundTrip(t *testing.T) {
	e := &Echo{Text: "hello world"}
	buf := Marshal(e)
	got := &Echo{}
	require.NoError(t, got.Unmarshal(buf))
	require.Equal(t, e.Text, got.Text)
}

func TestEchoResultRoundTrip(t *testing.T) {
	e := &EchoResult{Text: "hello world", ResultCode: -1}
	buf := Marshal(e)
	got := &EchoResult{}
	require.NoError(t, got.Unmarshal(buf))
	require.Equal(t, *e, *got)
}

func TestRequestUnmarshalSkipsUnknownFields(t *testing.T) {
	req := &Request{ClientTSNanos: 1, Seq: 2, Payload: []byte("x")}
	buf := Marshal(req)

	// Append a field 99 varint the decoder should silently skip.
	buf = protowire.AppendTag(buf, 99, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 5)

	got := &Request{}
	require.NoError(t, got.Unmarshal(buf))
	require.Equal(t, req.Payload, got.Payload)
}
