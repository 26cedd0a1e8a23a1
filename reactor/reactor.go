// Package reactor implements the completion-driven I/O multiplexer: a fixed
// pool of worker goroutines blocked on a completion queue, dispatching
// completions to consumers resolved through a token registry.
//
// Go's standard networking stack exposes no IOCP/io_uring-style completion
// primitive without cgo, so "the OS performing an operation asynchronously"
// is modeled here the way the teacher's internal/iouring event loop models
// a single io_uring instance: a submission side that issues exactly one
// blocking operation per call, and a completion side -- a channel -- that a
// fixed pool of dispatch workers drains and routes to the token's consumer.
// Every ordering and single-outstanding-op guarantee the session relies on
// holds regardless of how the underlying operation is actually carried out.
package reactor

import (
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ringio/sessionkit/sessiontoken"
)

// Token re-exports sessiontoken.Token so callers need not import both packages.
type Token = sessiontoken.Token

// ShutdownToken is the reserved token that causes a worker to exit.
const ShutdownToken = sessiontoken.Shutdown

// OpKind tags the kind of operation a Completion reports on, replacing the
// source's overloaded OVERLAPPED/completion context with an explicit enum.
type OpKind uint8

const (
	OpRecv OpKind = iota
	OpSend
	OpAccept
	OpConnect
	OpUserPost
)

func (k OpKind) String() string {
	switch k {
	case OpRecv:
		return "Recv"
	case OpSend:
		return "Send"
	case OpAccept:
		return "Accept"
	case OpConnect:
		return "Connect"
	case OpUserPost:
		return "UserPost"
	default:
		return "Unknown"
	}
}

// Completion is the event a worker dispatches to a consumer.
type Completion struct {
	Op      OpKind
	Success bool
	N       int
	Err     error
	// Context carries the op-specific payload a consumer needs to finish
	// handling the event (e.g. the accepted net.Conn for OpAccept).
	Context any
}

// Consumer is implemented by anything registered with the Reactor (in
// practice, *session.Session).
type Consumer interface {
	OnCompletion(c Completion)
}

// ErrNotRunning reports that the reactor is not running. Post and the
// SubmitX calls do not return it: made before Start or after Stop, they
// drop the operation without reporting anything.
var ErrNotRunning = errors.New("reactor: not running")

// ErrAlreadyRunning is returned by a second call to Start.
var ErrAlreadyRunning = errors.New("reactor: already running")

type event struct {
	token Token
	c     Completion
}

// Reactor is a thread pool blocked on a completion queue, dispatching
// completions to consumers identified by a token.
type Reactor struct {
	registry    *sessiontoken.Registry
	queue       chan event
	wg          sync.WaitGroup
	running     atomic.Bool
	workerCount atomic.Int32
	log         *zap.SugaredLogger
}

// Option configures a Reactor at construction.
type Option func(*Reactor)

// WithLogger attaches a logger; nil is equivalent to not calling this option.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Reactor) {
		if log != nil {
			r.log = log
		}
	}
}

// New constructs a Reactor. It does not start any workers; call Start.
func New(opts ...Option) *Reactor {
	r := &Reactor{
		registry: sessiontoken.NewRegistry(),
		queue:    make(chan event, 1024),
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches n worker goroutines, each blocking in dequeue and
// dispatching completions until Stop is called.
func (r *Reactor) Start(n int) error {
	if n <= 0 {
		n = 1
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	r.workerCount.Store(int32(n))
	r.wg.Add(n)
	for i := 0; i < n; i++ {
		go r.worker()
	}
	return nil
}

func (r *Reactor) worker() {
	defer r.wg.Done()
	for ev := range r.queue {
		if ev.token == ShutdownToken {
			return
		}
		consumer, ok := r.registry.Resolve(ev.token)
		if !ok {
			// Session already gone; drop the stale completion.
			continue
		}
		c, ok := consumer.(Consumer)
		if !ok {
			continue
		}
		c.OnCompletion(ev.c)
	}
}

// Register assigns a fresh token to consumer.
func (r *Reactor) Register(consumer Consumer) Token {
	return r.registry.Allocate(consumer)
}

// Unregister removes a consumer from the registry. Completions already
// queued for it will be dropped by the worker that dequeues them.
func (r *Reactor) Unregister(token Token) {
	r.registry.Release(token)
}

// Post enqueues a completion for dispatch to token's consumer. It is also
// how user-injected (OpUserPost) events enter the queue.
func (r *Reactor) Post(token Token, c Completion) {
	if !r.running.Load() {
		return
	}
	r.queue <- event{token: token, c: c}
}

// Stop enqueues one shutdown sentinel per worker and returns once they have
// all been accepted into the queue; it does not block for workers to drain.
// Call WaitUntilStopped to block until all workers have actually exited.
func (r *Reactor) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	n := int(r.workerCount.Load())
	for i := 0; i < n; i++ {
		r.queue <- event{token: ShutdownToken}
	}
}

// WaitUntilStopped blocks until every worker goroutine has exited.
func (r *Reactor) WaitUntilStopped() {
	r.wg.Wait()
}

// submit runs fn on its own goroutine, recovering any panic so that one bad
// blocking operation cannot bring down a worker it has nothing to do with.
// Every SubmitX call below is a one-shot blocking op, not a reusable task,
// so there is no pool of idle workers to size or age out here -- just the
// panic boundary.
func (r *Reactor) submit(fn func()) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Errorw("panic in submitted op", "panic", rec, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}

// Submission side: exactly one blocking operation per call, run on its own
// goroutine, completing onto the queue.

// SubmitRecv issues one Read into buf and posts an OpRecv completion.
func (r *Reactor) SubmitRecv(token Token, conn io.Reader, buf []byte) {
	if !r.running.Load() {
		return
	}
	r.submit(func() {
		n, err := conn.Read(buf)
		r.Post(token, Completion{Op: OpRecv, Success: err == nil, N: n, Err: err})
	})
}

// SubmitSend issues one scatter-write of spans (via net.Buffers, which uses
// writev when the underlying conn supports it) and posts an OpSend
// completion. spans is consumed; do not reuse the slice afterward.
func (r *Reactor) SubmitSend(token Token, conn net.Conn, spans [][]byte) {
	if !r.running.Load() {
		return
	}
	r.submit(func() {
		bufs := net.Buffers(spans)
		written, err := bufs.WriteTo(conn)
		r.Post(token, Completion{Op: OpSend, Success: err == nil, N: int(written), Err: err})
	})
}

// SubmitAccept issues one Accept on listener and posts an OpAccept
// completion whose Context is the accepted net.Conn (nil on error).
func (r *Reactor) SubmitAccept(token Token, listener net.Listener) {
	if !r.running.Load() {
		return
	}
	r.submit(func() {
		conn, err := listener.Accept()
		r.Post(token, Completion{Op: OpAccept, Success: err == nil, Err: err, Context: conn})
	})
}

// SubmitConnect issues one Dial and posts an OpConnect completion whose
// Context is the connected net.Conn (nil on error).
func (r *Reactor) SubmitConnect(token Token, dialer *net.Dialer, network, addr string) {
	if !r.running.Load() {
		return
	}
	r.submit(func() {
		conn, err := dialer.Dial(network, addr)
		r.Post(token, Completion{Op: OpConnect, Success: err == nil, Err: err, Context: conn})
	})
}
