// Package iosock provides a thin owning wrapper over an OS stream socket,
// tracking the coarse connection state a Session needs (open / remote
// closed / closed) without depending on a platform poller.
//
// The teacher's connstate package learns of a half-close by registering the
// fd with an OS-level poller (epoll/kqueue) and watching for readiness
// events out of band. A Session built on the completion reactor already
// observes every recv/send outcome directly -- a 0-byte recv is exactly a
// remote close -- so Socket exposes State() as a plain atomic set by the
// session's completion handlers rather than wiring a second, redundant
// poller.
package iosock

import (
	"net"
	"sync/atomic"
	"time"
)

// ConnState mirrors the three states the teacher's connstate.ConnState enum
// tracks for a connection.
type ConnState uint32

const (
	// StateOK means the connection is open in both directions.
	StateOK ConnState = iota
	// StateRemoteClosed means the remote side sent FIN (observed as a
	// 0-byte recv completion).
	StateRemoteClosed
	// StateClosed means the local side has closed the socket.
	StateClosed
)

// Socket owns a net.Conn (almost always a *net.TCPConn) and its options.
type Socket struct {
	conn  net.Conn
	state atomic.Uint32
}

// Wrap takes ownership of an already-established net.Conn.
func Wrap(conn net.Conn) *Socket {
	return &Socket{conn: conn}
}

// Conn returns the underlying net.Conn for use by the reactor's submission
// helpers.
func (s *Socket) Conn() net.Conn { return s.conn }

// Read implements io.Reader by delegating to the underlying conn; used as
// the target of SubmitRecv.
func (s *Socket) Read(p []byte) (int, error) { return s.conn.Read(p) }

// SetNoDelay disables/enables Nagle's algorithm, when the underlying conn
// supports it (a *net.TCPConn in practice).
func (s *Socket) SetNoDelay(enabled bool) error {
	if tc, ok := s.conn.(*net.TCPConn); ok {
		return tc.SetNoDelay(enabled)
	}
	return nil
}

// SetKeepAlive enables/disables TCP keepalive probes.
func (s *Socket) SetKeepAlive(enabled bool) error {
	if tc, ok := s.conn.(*net.TCPConn); ok {
		return tc.SetKeepAlive(enabled)
	}
	return nil
}

// SetKeepAlivePeriod sets the keepalive probe interval.
func (s *Socket) SetKeepAlivePeriod(d time.Duration) error {
	if tc, ok := s.conn.(*net.TCPConn); ok {
		return tc.SetKeepAlivePeriod(d)
	}
	return nil
}

// LocalAddr and RemoteAddr expose the endpoint addresses.
func (s *Socket) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Socket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// MarkRemoteClosed records that the peer has shut down its write side. It
// does not close the local socket.
func (s *Socket) MarkRemoteClosed() {
	s.state.CompareAndSwap(uint32(StateOK), uint32(StateRemoteClosed))
}

// CloseRead half-closes the read direction, if supported.
func (s *Socket) CloseRead() error {
	if tc, ok := s.conn.(*net.TCPConn); ok {
		return tc.CloseRead()
	}
	return nil
}

// CloseWrite half-closes the write direction, if supported.
func (s *Socket) CloseWrite() error {
	if tc, ok := s.conn.(*net.TCPConn); ok {
		return tc.CloseWrite()
	}
	return nil
}

// Close closes the socket outright. Any operation blocked in Read/Write on
// this conn will unblock with an error, which the reactor surfaces as a
// completion.
func (s *Socket) Close() error {
	s.state.Store(uint32(StateClosed))
	return s.conn.Close()
}

// State returns the socket's current coarse connection state.
func (s *Socket) State() ConnState {
	return ConnState(s.state.Load())
}
