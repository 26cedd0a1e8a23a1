// Package rio exposes the RIO transport variant's two process-wide seams: a
// single shared CompletionReactor instance rather than one per connection,
// and a single shared RioBufferPool region that session recv/send rings are
// carved from rather than each privately allocating its own backing array.
// Both mirror the teacher's internal/iouring event loop (one ring, one
// registered buffer region, shared by every connection rather than set up
// per connection). session.Session is constructed identically against
// either reactor.New() or rio.Shared() -- RIO differs only at this seam,
// plus the recv/send buffers it's handed via rio.Pool.
package rio

import (
	"runtime"
	"sync"

	"github.com/ringio/sessionkit/reactor"
	"github.com/ringio/sessionkit/ringbuf/riopool"
)

var (
	once   sync.Once
	shared *reactor.Reactor

	poolOnce   sync.Once
	sharedPool *riopool.RioBufferPool
)

// Shared returns the process-wide reactor, starting it on first use with a
// worker pool sized at 2x GOMAXPROCS, matching spec.md's "Reactor owns a
// fixed pool (typically 2x hardware concurrency)".
func Shared(opts ...reactor.Option) *reactor.Reactor {
	once.Do(func() {
		shared = reactor.New(opts...)
		_ = shared.Start(2 * runtime.GOMAXPROCS(0))
	})
	return shared
}

// Pool returns the process-wide RIO buffer region, sized to regionSize on
// first use; later calls ignore regionSize and return the same region.
func Pool(regionSize int) *riopool.RioBufferPool {
	poolOnce.Do(func() {
		sharedPool = riopool.New(regionSize)
	})
	return sharedPool
}
