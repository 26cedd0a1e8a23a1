// Package session implements the per-connection state machine: it owns one
// Socket and two RingBuffers, drives asynchronous recv/send through a
// CompletionReactor, frames inbound bytes with the wire package, and
// enforces strict single-in-flight ordering for sends.
package session

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ringio/sessionkit/iosock"
	"github.com/ringio/sessionkit/neterr"
	"github.com/ringio/sessionkit/reactor"
	"github.com/ringio/sessionkit/ringbuf"
	"github.com/ringio/sessionkit/wire"
)

// State is one of the session lifecycle states from Idle through Closed.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAccepting
	StateEstablished
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateAccepting:
		return "Accepting"
	case StateEstablished:
		return "Established"
	case StateDisconnecting:
		return "Disconnecting"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Callbacks are the user-supplied hooks a Session invokes over its lifetime.
// Every field is optional.
type Callbacks struct {
	OnEstablished  func(s *Session)
	OnPacket       func(s *Session, pkt wire.Packet)
	OnSent         func(s *Session, n int)
	OnDisconnected func(s *Session)
	OnError        func(s *Session, kind neterr.Kind, detail error)
}

// Options configures a Session at construction.
type Options struct {
	RecvBufferSize int
	SendBufferSize int
	// RecvBuf and SendBuf, when non-nil, back the recv/send rings directly
	// via ringbuf.NewFromSlice instead of a privately allocated array --
	// the RIO fast path, where the slices are carved from a
	// ringbuf/riopool.RioBufferPool region. RecvBufferSize/SendBufferSize
	// are ignored for whichever direction has a non-nil slice supplied.
	RecvBuf []byte
	SendBuf []byte
	Logger  *zap.SugaredLogger
}

// DefaultOptions returns the Options used when none are supplied.
func DefaultOptions() *Options {
	return &Options{
		RecvBufferSize: 64 * 1024,
		SendBufferSize: 64 * 1024,
	}
}

var nextSessionID atomic.Uint64

// Session is the per-connection state machine. At most one recv op and one
// send op are ever outstanding, enforced by recvInFlight/sendInFlight.
type Session struct {
	id    uint64
	sock  *iosock.Socket
	recv  *ringbuf.RingBuffer
	send  *ringbuf.RingBuffer
	rct   *reactor.Reactor
	token reactor.Token
	cb    Callbacks
	log   *zap.SugaredLogger

	state State32

	recvInFlight atomic.Bool
	sendInFlight atomic.Bool

	disconnecting     atomic.Bool
	disconnectedFired atomic.Bool
	sendMu            sync.Mutex
}

// State32 is an atomic wrapper around State, since atomic.Int32 has no named
// type parameter for user enums.
type State32 struct{ v atomic.Int32 }

func (s *State32) Load() State   { return State(s.v.Load()) }
func (s *State32) Store(v State) { s.v.Store(int32(v)) }

// New constructs a Session over an established socket. The caller is
// responsible for calling Establish once the socket is actually ready
// (immediately for an already-connected socket, or from an accept/connect
// completion).
func New(sock *iosock.Socket, rct *reactor.Reactor, cb Callbacks, opts *Options) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var recv, send *ringbuf.RingBuffer
	if opts.RecvBuf != nil {
		recv = ringbuf.NewFromSlice(opts.RecvBuf)
	} else {
		recv = ringbuf.New(opts.RecvBufferSize)
	}
	if opts.SendBuf != nil {
		send = ringbuf.NewFromSlice(opts.SendBuf)
	} else {
		send = ringbuf.New(opts.SendBufferSize)
	}

	s := &Session{
		id:   nextSessionID.Add(1),
		sock: sock,
		recv: recv,
		send: send,
		rct:  rct,
		cb:   cb,
		log:  log,
	}
	s.token = rct.Register(s)
	return s
}

// ID returns the session's 64-bit identifier.
func (s *Session) ID() uint64 { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state.Load() }

// Socket returns the underlying socket.
func (s *Session) Socket() *iosock.Socket { return s.sock }

// Establish transitions Idle -> Established: it fires OnEstablished and
// posts the first recv.
func (s *Session) Establish() {
	s.state.Store(StateEstablished)
	if s.cb.OnEstablished != nil {
		s.cb.OnEstablished(s)
	}
	s.postRecv()
}

// OnCompletion implements reactor.Consumer.
func (s *Session) OnCompletion(c reactor.Completion) {
	switch c.Op {
	case reactor.OpRecv:
		s.onRecvComplete(c)
	case reactor.OpSend:
		s.onSendComplete(c)
	default:
		// Accept/Connect completions are handled by acceptor/connector,
		// which register their own transient consumers; a Session never
		// sees them directly.
	}
}

func (s *Session) postRecv() {
	if !s.recvInFlight.CompareAndSwap(false, true) {
		return
	}
	first, _ := s.recv.WritableSpans()
	if len(first) == 0 {
		s.recvInFlight.Store(false)
		s.fail(neterr.BufferFull, errors.New("recv ring full"))
		return
	}
	s.rct.SubmitRecv(s.token, s.sock, first)
}

// onRecvComplete keeps recvInFlight set for the duration of framing and
// packet delivery: clearing it only once processing is fully done ensures a
// concurrent disconnect (observed from the send side) cannot declare the
// session closed while OnPacket callbacks are still in flight here.
func (s *Session) onRecvComplete(c reactor.Completion) {
	// A peer FIN surfaces from net.Conn.Read as (0, io.EOF); treat it as the
	// 0-byte completion below rather than as a recv failure.
	if !c.Success && !(c.N == 0 && errors.Is(c.Err, io.EOF)) {
		s.recvInFlight.Store(false)
		s.fail(neterr.RecvFailed, c.Err)
		return
	}
	if c.N == 0 {
		s.recvInFlight.Store(false)
		s.sock.MarkRemoteClosed()
		s.RequestDisconnect()
		return
	}
	if err := s.recv.CommitWrite(c.N); err != nil {
		panic("session: recv completion exceeded writable span: " + err.Error())
	}

	for {
		pkt, verdict, err := wire.TryFrame(s.recv)
		switch verdict {
		case wire.Ready:
			if s.cb.OnPacket != nil {
				s.cb.OnPacket(s, pkt)
			}
		case wire.NeedMore:
			s.recvInFlight.Store(false)
			s.postRecv()
			s.checkDisconnectComplete()
			return
		case wire.Invalid:
			s.recvInFlight.Store(false)
			s.fail(neterr.InvalidFrame, err)
			return
		}
	}
}

// SendPacket serializes [len:u16 BE][id:u16 BE][payload] directly into the
// send ring's writable spans, avoiding a heap scratch buffer whenever the
// spans together have room, then attempts to post a send. Concurrent
// callers are serialized by sendMu, the "simplest conformant choice" for
// ordering writes from multiple goroutines.
func (s *Session) SendPacket(id uint16, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	total := wire.HeaderSize + len(payload)
	if total > wire.MaxFrameSize {
		return wire.ErrPayloadTooLarge
	}

	first, second := s.send.WritableSpans()
	if len(first)+len(second) < total {
		err := errors.New("send ring cannot hold frame")
		s.fail(neterr.BufferOverflow, err)
		return err
	}
	if err := wire.WriteFrame(first, second, id, payload); err != nil {
		return err
	}
	if err := s.send.CommitWrite(total); err != nil {
		panic("session: send commit exceeded span size: " + err.Error())
	}
	s.tryPostSend()
	return nil
}

func (s *Session) tryPostSend() {
	if !s.sendInFlight.CompareAndSwap(false, true) {
		return
	}
	first, second := s.send.ReadableSpans()
	if len(first) == 0 && len(second) == 0 {
		s.sendInFlight.Store(false)
		return
	}
	spans := make([][]byte, 0, 2)
	if len(first) > 0 {
		spans = append(spans, first)
	}
	if len(second) > 0 {
		spans = append(spans, second)
	}
	s.rct.SubmitSend(s.token, s.sock.Conn(), spans)
}

// onSendComplete mirrors onRecvComplete's care around when sendInFlight is
// cleared: it stays true through the OnSent callback so a concurrent
// disconnect observed from the recv side cannot fire OnDisconnected while
// OnSent is still running.
func (s *Session) onSendComplete(c reactor.Completion) {
	if !c.Success {
		s.sendInFlight.Store(false)
		s.fail(neterr.SendFailed, c.Err)
		return
	}
	// sendMu serializes this consume against SendPacket's commits to the
	// same ring; it is not held across OnSent, which may call SendPacket.
	s.sendMu.Lock()
	err := s.send.Consume(c.N)
	s.sendMu.Unlock()
	if err != nil {
		panic("session: send completion exceeded occupancy: " + err.Error())
	}
	if s.cb.OnSent != nil {
		s.cb.OnSent(s, c.N)
	}
	s.sendMu.Lock()
	moreData := s.send.Occupancy() > 0
	s.sendInFlight.Store(false)
	if moreData {
		s.tryPostSend()
	}
	s.sendMu.Unlock()
	s.checkDisconnectComplete()
}

func (s *Session) fail(kind neterr.Kind, detail error) {
	if s.cb.OnError != nil {
		s.cb.OnError(s, kind, detail)
	}
	s.RequestDisconnect()
}

// RequestDisconnect is idempotent: only the first caller performs the
// shutdown sequence. It shuts down both directions, closes the socket
// (causing any outstanding op to complete with an error), and -- once both
// recv and send guards are observed cleared -- clears both rings and fires
// OnDisconnected exactly once.
func (s *Session) RequestDisconnect() {
	if !s.disconnecting.CompareAndSwap(false, true) {
		s.checkDisconnectComplete()
		return
	}
	s.state.Store(StateDisconnecting)
	_ = s.sock.CloseRead()
	_ = s.sock.CloseWrite()
	_ = s.sock.Close()
	s.checkDisconnectComplete()
}

func (s *Session) checkDisconnectComplete() {
	if !s.disconnecting.Load() {
		return
	}
	if s.recvInFlight.Load() || s.sendInFlight.Load() {
		return
	}
	if !s.disconnectedFired.CompareAndSwap(false, true) {
		return
	}
	s.recv.Clear()
	s.send.Clear()
	s.rct.Unregister(s.token)
	s.state.Store(StateClosed)
	if s.cb.OnDisconnected != nil {
		s.cb.OnDisconnected(s)
	}
}
