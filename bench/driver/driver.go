// Package driver implements the benchmark driver: a sequential
// request/response loop over an established Session, with a warmup phase,
// a per-iteration response timeout driven by waiter.Waiter, and latency
// samples fed into stats.Collector.
package driver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ringio/sessionkit/bench/stats"
	"github.com/ringio/sessionkit/bench/waiter"
	"github.com/ringio/sessionkit/bench/wireproto"
	"github.com/ringio/sessionkit/session"
	"github.com/ringio/sessionkit/wire"
)

// ErrTimeout is returned when a response does not arrive within the
// configured per-iteration timeout.
var ErrTimeout = errors.New("driver: response timeout")

// Options configures a benchmark run.
type Options struct {
	TestName    string
	Iterations  int
	Warmup      int
	PayloadSize int
	Timeout     time.Duration
}

// DefaultOptions mirrors the CLI's default flag values.
func DefaultOptions() Options {
	return Options{
		TestName:    "iocp-benchmark",
		Iterations:  10000,
		Warmup:      100,
		PayloadSize: 64,
		Timeout:     5 * time.Second,
	}
}

// Driver drives one benchmark run against an attached Session. It does not
// own the Session's lifecycle; the caller constructs and establishes it
// (via connector.Dial) and attaches it here.
type Driver struct {
	opts    Options
	payload []byte
	w       *waiter.Waiter
	log     *zap.SugaredLogger

	sess *session.Session

	mu       sync.Mutex
	lastSeq  uint64
	lastResp *wireproto.Response
}

// New constructs a Driver. The caller must call Attach before Run.
func New(opts Options, logger *zap.SugaredLogger) *Driver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Driver{
		opts:    opts,
		payload: make([]byte, opts.PayloadSize),
		w:       waiter.New(),
		log:     logger,
	}
}

// Attach binds the Session this driver will drive requests over. Attach
// must be called once, before Run, after the Session is established.
func (d *Driver) Attach(sess *session.Session) {
	d.sess = sess
}

// OnPacket should be wired as the Session's Callbacks.OnPacket. It ignores
// every packet id except wireproto.ResponseID, and every response whose
// sequence does not match the iteration currently in flight (a response
// racing in after the driver already gave up on a prior timeout).
func (d *Driver) OnPacket(_ *session.Session, pkt wire.Packet) {
	defer pkt.Release()
	if pkt.ID != wireproto.ResponseID {
		return
	}
	resp := &wireproto.Response{}
	if err := resp.Unmarshal(pkt.Payload); err != nil {
		d.log.Warnw("driver: malformed response", "err", err)
		return
	}

	d.mu.Lock()
	match := resp.Seq == d.lastSeq
	if match {
		d.lastResp = resp
	}
	d.mu.Unlock()

	if match {
		d.w.Signal()
	}
}

// Run executes the warmup phase followed by the measured iterations,
// returning the reduced Summary. It stops and returns an error on the
// first send failure or response timeout.
func (d *Driver) Run() (stats.Summary, error) {
	if d.sess == nil {
		return stats.Summary{}, errors.New("driver: Attach was never called")
	}

	for i := 0; i < d.opts.Warmup; i++ {
		if _, err := d.roundTrip(uint64(i)); err != nil {
			return stats.Summary{}, fmt.Errorf("driver: warmup: %w", err)
		}
	}

	collector := stats.NewCollector(d.opts.Iterations)
	for i := 0; i < d.opts.Iterations; i++ {
		latencyNs, err := d.roundTrip(uint64(i))
		if err != nil {
			return stats.Summary{}, err
		}
		collector.AddSample(latencyNs)
	}

	return collector.Calculate(d.opts.TestName, d.opts.PayloadSize), nil
}

func (d *Driver) roundTrip(seq uint64) (uint64, error) {
	d.mu.Lock()
	d.lastSeq = seq
	d.lastResp = nil
	d.mu.Unlock()
	d.w.Reset()

	sendTS := time.Now().UnixNano()
	req := &wireproto.Request{ClientTSNanos: sendTS, Seq: seq, Payload: d.payload}
	if err := d.sess.SendPacket(wireproto.RequestID, wireproto.Marshal(req)); err != nil {
		return 0, fmt.Errorf("iteration %d: send: %w", seq, err)
	}

	if !d.w.WaitTimeout(d.opts.Timeout) {
		return 0, fmt.Errorf("iteration %d: %w", seq, ErrTimeout)
	}
	recvTS := time.Now().UnixNano()

	d.mu.Lock()
	resp := d.lastResp
	d.mu.Unlock()
	if resp == nil {
		return 0, fmt.Errorf("iteration %d: response sequence mismatch", seq)
	}

	return uint64(recvTS - sendTS), nil
}
