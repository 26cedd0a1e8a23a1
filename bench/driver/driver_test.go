package driver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ringio/sessionkit/bench/wireproto"
	"github.com/ringio/sessionkit/iosock"
	"github.com/ringio/sessionkit/reactor"
	"github.com/ringio/sessionkit/session"
	"github.com/ringio/sessionkit/wire"
)

func newLoopbackPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var server net.Conn
	accepted := make(chan struct{})
	go func() {
		server, _ = ln.Accept()
		close(accepted)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	<-accepted
	return server, client
}

// serverEcho answers every Request with a Response carrying the same seq.
func serverEcho(s *session.Session, pkt wire.Packet) {
	defer pkt.Release()
	if pkt.ID != wireproto.RequestID {
		return
	}
	req := &wireproto.Request{}
	if err := req.Unmarshal(pkt.Payload); err != nil {
		return
	}
	now := time.Now().UnixNano()
	resp := &wireproto.Response{
		Seq:               req.Seq,
		ClientTSNanos:     req.ClientTSNanos,
		ServerRecvTSNanos: now,
		ServerSendTSNanos: now,
	}
	_ = s.SendPacket(wireproto.ResponseID, wireproto.Marshal(resp))
}

func TestDriverRunAgainstEchoServer(t *testing.T) {
	serverConn, clientConn := newLoopbackPair(t)

	r := reactor.New()
	require.NoError(t, r.Start(4))
	defer r.Stop()

	serverSess := session.New(iosock.Wrap(serverConn), r, session.Callbacks{OnPacket: serverEcho}, nil)
	serverSess.Establish()

	d := New(Options{
		TestName:    "test-run",
		Iterations:  20,
		Warmup:      5,
		PayloadSize: 16,
		Timeout:     2 * time.Second,
	}, nil)

	clientSess := session.New(iosock.Wrap(clientConn), r, session.Callbacks{OnPacket: d.OnPacket}, nil)
	clientSess.Establish()
	d.Attach(clientSess)

	summary, err := d.Run()
	require.NoError(t, err)
	require.Equal(t, 20, summary.Iterations)
	require.Greater(t, summary.AvgLatencyNs, 0.0)
}

func TestDriverTimesOutWithoutResponder(t *testing.T) {
	serverConn, clientConn := newLoopbackPair(t)
	defer serverConn.Close()

	r := reactor.New()
	require.NoError(t, r.Start(2))
	defer r.Stop()

	d := New(Options{
		TestName:    "no-responder",
		Iterations:  1,
		Warmup:      0,
		PayloadSize: 8,
		Timeout:     50 * time.Millisecond,
	}, nil)

	clientSess := session.New(iosock.Wrap(clientConn), r, session.Callbacks{OnPacket: d.OnPacket}, nil)
	clientSess.Establish()
	d.Attach(clientSess)

	_, err := d.Run()
	require.ErrorIs(t, err, ErrTimeout)
}
