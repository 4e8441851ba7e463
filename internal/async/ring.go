// Package async implements the async completion context (C3): a
// device completion queue wrapped in a single-threaded cooperative
// completion model. No reaper goroutine runs by default — the owning
// write/read worker calls Poke to advance completions.
//
// Grounded on the teacher's internal/uring Ring/Result/Config interface
// shape (internal/uring/interface.go), but the completion model is
// redesigned: the teacher's real-ring implementation
// (internal/uring/iouring.go) blocks per-submission on a channel and
// imports a package (iceber/iouring-go) that doesn't match its own
// go.mod-declared giouring dependency, and its "minimal" pure-Go ring
// (internal/uring/minimal.go) exists only to route around that gap. ZTL's
// real ring instead submits batches to github.com/pawelgaczynski/giouring
// directly and reaps completions on Poke, matching spec.md §4.3's
// cooperative model.
package async

import (
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/ztl/internal/zerr"
)

// Op identifies the media operation an SQE represents.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpAppend
	OpFinish
	OpReset
)

// Request is one submission queue entry's worth of work.
type Request struct {
	Op       Op
	FD       int
	Offset   uint64
	Buf      []byte
	UserData uint64

	// ZoneIndex is set by the media layer on OpFinish/OpReset requests so
	// the ring can dispatch to ZoneBackend without having to recover a
	// zone index from a raw byte offset.
	ZoneIndex int
}

// ZoneBackend is the minimal zone-management surface a Ring needs to
// make OpFinish/OpReset real device operations instead of a local
// always-succeeds no-op. backend/nullzns.Backend satisfies this
// directly; backends with no notion of explicit zone state (e.g. a
// plain loopback file via backend/file) simply don't implement it, and
// Config.ZoneBackend is left nil.
type ZoneBackend interface {
	Reset(zoneIdx int) error
	Finish(zoneIdx int) error
}

// Completion reports the outcome of a previously submitted Request.
type Completion struct {
	UserData uint64
	Res      int32 // >=0 bytes transferred, <0 negative errno
}

// Ring is the minimal submission/completion surface the async Context
// needs. Two implementations exist: a real ring backed by
// pawelgaczynski/giouring (build tag "giouring") and a synchronous stub
// used on platforms without io_uring and in the test suite.
type Ring interface {
	// Prepare stages a request. Returns ErrRingFull if the submission
	// queue has no free slots until the caller pokes.
	Prepare(req Request) error
	// Poke submits any staged requests and reaps available completions.
	Poke() ([]Completion, error)
	// Close releases ring resources. Callers must drain first.
	Close() error
}

// ErrRingFull is returned by Prepare when the submission queue is full.
var ErrRingFull = zerr.New("ASYNC_PREPARE", zerr.CodeIOError, "submission queue full")

// Config configures a Context's underlying ring.
type Config struct {
	Depth uint32
	FD    int

	// ZoneBackend, if set, is where OpFinish/OpReset requests are
	// actually dispatched (spec.md §4.7's zone FINISH/RESET). Only the
	// management worker's ring needs this; the write/read engines never
	// submit zone-management ops.
	ZoneBackend ZoneBackend
}

// Context wraps a completion queue of a pre-configured depth. Lifecycle:
// Init allocates the queue, Term waits for drain then releases
// (spec.md §4.3).
type Context struct {
	ring     Ring
	inflight atomic.Int64
	running  atomic.Bool

	mu        sync.Mutex
	callbacks map[uint64]func(Completion)
}

// NewContext allocates a ring of the given configuration and wraps it in
// a cooperative completion context.
func NewContext(cfg Config) (*Context, error) {
	ring, err := newRing(cfg)
	if err != nil {
		return nil, zerr.Wrap("ASYNC_INIT", err)
	}
	ctx := &Context{ring: ring, callbacks: make(map[uint64]func(Completion))}
	ctx.running.Store(true)
	return ctx, nil
}

// Submit stages a request and registers the callback invoked for its
// completion once Poke observes it. The media layer is responsible for
// mapping user data back to an MCmd and driving that mcmd's retry policy;
// Context only dispatches by user-data key.
func (c *Context) Submit(req Request, onComplete func(Completion)) error {
	if !c.running.Load() {
		return zerr.New("ASYNC_SUBMIT", zerr.CodeInvalid, "context is shutting down")
	}

	c.mu.Lock()
	c.callbacks[req.UserData] = onComplete
	c.mu.Unlock()

	if err := c.ring.Prepare(req); err != nil {
		c.mu.Lock()
		delete(c.callbacks, req.UserData)
		c.mu.Unlock()
		return err
	}

	c.inflight.Add(1)
	return nil
}

// Poke advances completions: it submits any staged SQEs and invokes the
// registered callback for each reaped completion. Workers call this
// periodically (e.g. after every SubmitBatchSize submissions) instead of
// a dedicated reaper goroutine running.
func (c *Context) Poke() (int, error) {
	completions, err := c.ring.Poke()
	if err != nil {
		return 0, zerr.Wrap("ASYNC_POKE", err)
	}

	for _, comp := range completions {
		c.mu.Lock()
		cb, ok := c.callbacks[comp.UserData]
		if ok {
			delete(c.callbacks, comp.UserData)
		}
		c.mu.Unlock()

		if ok && cb != nil {
			cb(comp)
		}
		c.inflight.Add(-1)
	}
	return len(completions), nil
}

// Inflight reports the number of submitted-but-not-yet-completed requests.
func (c *Context) Inflight() int64 { return c.inflight.Load() }

// Stop marks the context as no longer accepting new submissions.
// Cancellation is cooperative (spec.md §4.3): workers check Running and
// stop dequeuing, then drain outstanding mcmds before calling Term.
func (c *Context) Stop() { c.running.Store(false) }

// Running reports whether the context still accepts submissions.
func (c *Context) Running() bool { return c.running.Load() }

// Term waits for all outstanding requests to drain, calling Poke until
// Inflight reaches zero, then releases the ring.
func (c *Context) Term() error {
	for c.inflight.Load() > 0 {
		if _, err := c.Poke(); err != nil {
			return err
		}
	}
	return c.ring.Close()
}
