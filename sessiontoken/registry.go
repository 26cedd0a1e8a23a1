// Package sessiontoken implements the opaque-token registry the Reactor
// uses to route a completion to its consumer without holding an owning
// reference to it: tokens are weak back-references, so a completion
// arriving after a consumer has unregistered resolves to "gone" and is
// dropped rather than dereferencing freed state.
package sessiontoken

import (
	"sync"
	"sync/atomic"
)

// Token is an opaque identifier the Reactor uses to route a completion to
// its consumer.
type Token uint64

// None is never issued by Allocate; it is safe to use as a zero value.
const None Token = 0

// Shutdown is the reserved token value that causes a reactor worker to exit.
const Shutdown Token = ^Token(0)

// Registry maps tokens to consumers. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	next atomic.Uint64
	m    map[Token]any
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[Token]any)}
}

// Allocate assigns a fresh token to consumer and registers it.
func (r *Registry) Allocate(consumer any) Token {
	for {
		t := Token(r.next.Add(1))
		if t == None || t == Shutdown {
			continue
		}
		r.mu.Lock()
		r.m[t] = consumer
		r.mu.Unlock()
		return t
	}
}

// Resolve looks up the consumer for a token. ok is false if the token is
// unknown (never issued, or already released) -- the fail-safe path for a
// completion that arrives after the consumer has gone away.
func (r *Registry) Resolve(t Token) (consumer any, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	consumer, ok = r.m[t]
	return
}

// Release removes a token from the registry. Safe to call more than once.
func (r *Registry) Release(t Token) {
	r.mu.Lock()
	delete(r.m, t)
	r.mu.Unlock()
}

// Len returns the number of currently registered tokens.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
