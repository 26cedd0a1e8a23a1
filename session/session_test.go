package session

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ringio/sessionkit/iosock"
	"github.com/ringio/sessionkit/neterr"
	"github.com/ringio/sessionkit/reactor"
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
	require.NotNil(t, server)
	return server, client
}

type testHooks struct {
	mu             sync.Mutex
	packets        []wire.Packet
	disconnected   int32
	errors         []neterr.Kind
	packetsCh      chan wire.Packet
	disconnectedCh chan struct{}
}

func newTestHooks() *testHooks {
	return &testHooks{
		packetsCh:      make(chan wire.Packet, 16),
		disconnectedCh: make(chan struct{}),
	}
}

func (h *testHooks) callbacks() Callbacks {
	return Callbacks{
		OnPacket: func(s *Session, pkt wire.Packet) {
			h.mu.Lock()
			h.packets = append(h.packets, pkt)
			h.mu.Unlock()
			h.packetsCh <- pkt
		},
		OnDisconnected: func(s *Session) {
			if atomic.CompareAndSwapInt32(&h.disconnected, 0, 1) {
				close(h.disconnectedCh)
			} else {
				panic("OnDisconnected fired more than once")
			}
		},
		OnError: func(s *Session, kind neterr.Kind, detail error) {
			h.mu.Lock()
			h.errors = append(h.errors, kind)
			h.mu.Unlock()
		},
	}
}

func newReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r := reactor.New()
	require.NoError(t, r.Start(4))
	t.Cleanup(r.Stop)
	return r
}

func TestEchoSingleFrame(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer client.Close()

	r := newReactor(t)
	hooks := newTestHooks()
	sess := New(iosock.Wrap(server), r, hooks.callbacks(), nil)
	sess.Establish()

	_, err := client.Write([]byte{0x00, 0x09, 0x00, 0x64, 'H', 'e', 'l', 'l', 'o'})
	require.NoError(t, err)

	select {
	case pkt := <-hooks.packetsCh:
		require.Equal(t, uint16(100), pkt.ID)
		require.Equal(t, []byte("Hello"), pkt.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("packet never delivered")
	}

	client.Close()
	select {
	case <-hooks.disconnectedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never fired")
	}
}

func TestTwoFramesOneSegment(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer client.Close()

	r := newReactor(t)
	hooks := newTestHooks()
	sess := New(iosock.Wrap(server), r, hooks.callbacks(), nil)
	sess.Establish()

	_, err := client.Write([]byte{
		0x00, 0x05, 0x00, 0x0A, 'A',
		0x00, 0x06, 0x00, 0x14, 'B', 'B',
	})
	require.NoError(t, err)

	pkt1 := <-hooks.packetsCh
	pkt2 := <-hooks.packetsCh
	require.Equal(t, uint16(10), pkt1.ID)
	require.Equal(t, []byte("A"), pkt1.Payload)
	require.Equal(t, uint16(20), pkt2.ID)
	require.Equal(t, []byte("BB"), pkt2.Payload)
}

func TestSendPacketRoundTrip(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer server.Close()
	defer client.Close()

	r := newReactor(t)
	hooks := newTestHooks()
	sess := New(iosock.Wrap(server), r, hooks.callbacks(), nil)
	sess.Establish()

	require.NoError(t, sess.SendPacket(42, []byte("payload")))

	buf := make([]byte, 64)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 11)

	expected, err := wire.Encode(42, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, expected, buf[:n])
}

func TestBufferOverflowDisconnects(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer client.Close()

	r := newReactor(t)
	hooks := newTestHooks()
	opts := &Options{RecvBufferSize: 64, SendBufferSize: 8}
	sess := New(iosock.Wrap(server), r, hooks.callbacks(), opts)
	sess.Establish()

	err := sess.SendPacket(1, make([]byte, 12))
	require.Error(t, err)

	select {
	case <-hooks.disconnectedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never fired after buffer overflow")
	}

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	require.Contains(t, hooks.errors, neterr.BufferOverflow)
}

func TestSessionUsesSuppliedRingBackingSlices(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer client.Close()

	r := newReactor(t)
	hooks := newTestHooks()
	recvBuf := make([]byte, 64)
	sendBuf := make([]byte, 64)
	opts := &Options{RecvBuf: recvBuf, SendBuf: sendBuf}
	sess := New(iosock.Wrap(server), r, hooks.callbacks(), opts)
	sess.Establish()

	require.NoError(t, sess.SendPacket(1, []byte("hi")))
	buf := make([]byte, wire.HeaderSize+2)
	_, err := client.Read(buf)
	require.NoError(t, err)

	// The frame bytes must have landed inside sendBuf, not a privately
	// allocated array, confirming the ring wraps the supplied slice.
	require.Contains(t, string(sendBuf), "hi")
}

func TestRequestDisconnectIsIdempotent(t *testing.T) {
	server, client := newLoopbackPair(t)
	defer client.Close()

	r := newReactor(t)
	hooks := newTestHooks()
	sess := New(iosock.Wrap(server), r, hooks.callbacks(), nil)
	sess.Establish()

	for i := 0; i < 5; i++ {
		sess.RequestDisconnect()
	}

	select {
	case <-hooks.disconnectedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never fired")
	}
	require.Equal(t, State(StateClosed), sess.State())
}

func TestPeerCloseTriggersDisconnect(t *testing.T) {
	server, client := newLoopbackPair(t)

	r := newReactor(t)
	hooks := newTestHooks()
	sess := New(iosock.Wrap(server), r, hooks.callbacks(), nil)
	sess.Establish()

	require.NoError(t, client.Close())

	select {
	case <-hooks.disconnectedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never fired on peer close")
	}
}
