// Package pool implements the bounded, typed, per-thread memory pool (C2)
// used for DMA-aligned buffers and command descriptors on the hot path.
// Grounded on the teacher's internal/queue/pool.go size-bucketed
// sync.Pool buffers, generalized to a lock-free singly-linked free list
// with explicit allocator/free callbacks and compile-time type/thread
// bounds, per spec.md §4.2.
package pool

import (
	"sync/atomic"

	"github.com/ehrlich-b/ztl/internal/constants"
	"github.com/ehrlich-b/ztl/internal/zerr"
)

// MaxTypes and MaxThreads bound the pool's type/thread index space. A
// typed, per-thread pool is addressed by (typeID, threadID); indices
// beyond these limits fail creation with OutOfBounds.
const (
	MaxTypes   = 16
	MaxThreads = 256
)

// entry is one node of the lock-free singly-linked free list.
type entry struct {
	next *entry
	data any
}

// Pool is a single typed, per-thread bounded free list. get/put are
// contention-free on the common path: get pops the head via CAS, and put
// also pushes onto the head via CAS, so the free list is LIFO (the most
// recently returned entry is handed out next); in_count/out_count are separate atomics so a
// concurrent producer and consumer never block each other (spec.md §8,
// "two-counter lock-free pool").
type Pool struct {
	head     atomic.Pointer[entry]
	inCount  atomic.Uint64
	outCount atomic.Uint64
	capacity uint64
	free     func(any)
}

// New builds a pool of count entries, each created by alloc() at build
// time. free is called on every entry still resident in the pool at
// Destroy time. Returns Invalid for a zero or oversized count.
func New(count int, alloc func() any, free func(any)) (*Pool, error) {
	if count <= 0 {
		return nil, zerr.New("POOL_CREATE", zerr.CodeInvalid, "entry count must be positive")
	}
	if count > constants.MaxMCmd {
		return nil, zerr.New("POOL_CREATE", zerr.CodeInvalid, "entry count exceeds compile-time limit")
	}

	p := &Pool{capacity: uint64(count), free: free}
	for i := 0; i < count; i++ {
		e := &entry{data: alloc()}
		p.pushFront(e)
	}
	p.inCount.Store(uint64(count))
	return p, nil
}

func (p *Pool) pushFront(e *entry) {
	for {
		head := p.head.Load()
		e.next = head
		if p.head.CompareAndSwap(head, e) {
			return
		}
	}
}

// Get pops an entry off the free list. Returns nil when the pool is
// exhausted; callers treat this as a Resource-class failure.
func (p *Pool) Get() any {
	for {
		head := p.head.Load()
		if head == nil {
			return nil
		}
		if p.head.CompareAndSwap(head, head.next) {
			p.outCount.Add(1)
			return head.data
		}
	}
}

// Put returns an entry to the free list.
func (p *Pool) Put(data any) {
	e := &entry{data: data}
	p.pushFront(e)
	p.inCount.Add(1)
}

// InFlight returns the number of entries currently checked out.
func (p *Pool) InFlight() uint64 {
	return p.outCount.Load() - (p.inCount.Load() - p.capacity)
}

// Destroy frees every entry still resident in the pool. Entries held by
// callers at the time of Destroy are not freed (spec.md §4.2: "destruction
// frees only entries still in the pool").
func (p *Pool) Destroy() {
	for {
		head := p.head.Load()
		if head == nil {
			return
		}
		if p.head.CompareAndSwap(head, head.next) {
			if p.free != nil {
				p.free(head.data)
			}
		}
	}
}

// Registry indexes pools by (typeID, threadID), matching the teacher's
// per-queue-runner pool wiring but generalized across the compile-time
// type/thread bound.
type Registry struct {
	pools [MaxTypes][MaxThreads]*Pool
}

// NewRegistry allocates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register installs a pool at (typeID, threadID). Returns OutOfBounds if
// either index exceeds the compile-time limit.
func (r *Registry) Register(typeID, threadID int, p *Pool) error {
	if typeID < 0 || typeID >= MaxTypes || threadID < 0 || threadID >= MaxThreads {
		return zerr.New("POOL_REGISTER", zerr.CodeOutOfBounds, "type/thread index exceeds compile-time limit")
	}
	r.pools[typeID][threadID] = p
	return nil
}

// Get returns the pool registered at (typeID, threadID), or nil.
func (r *Registry) Get(typeID, threadID int) *Pool {
	if typeID < 0 || typeID >= MaxTypes || threadID < 0 || threadID >= MaxThreads {
		return nil
	}
	return r.pools[typeID][threadID]
}
