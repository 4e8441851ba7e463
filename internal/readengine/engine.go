// Package readengine implements the read engine (C9): a bounded pool of
// read resources, each owning a dedicated async context and pre-allocated
// per-mcmd DMA bounce buffers, translating a (node, offset, size) read
// into per-zone aligned mcmds gathered into the caller's buffer.
//
// Grounded on the teacher's internal/queue/pool.go size-bucketed buffer
// pool (bounded count, mutex-serialized acquire/release) generalized
// from raw byte-slice buffers to read-resource descriptors that each
// bundle their own async.Context.
package readengine

import (
	"sync"

	"github.com/ehrlich-b/ztl/internal/async"
	"github.com/ehrlich-b/ztl/internal/constants"
	"github.com/ehrlich-b/ztl/internal/media"
	"github.com/ehrlich-b/ztl/internal/provisioner"
	"github.com/ehrlich-b/ztl/internal/zerr"
)

// Config parameterizes the read engine (spec.md §4.9).
type Config struct {
	SectorBytes  int
	MinReadUnits int
	ZonesPerNode int
	MaxMCmds     int // bounce buffers preallocated per resource
	MaxRetry     int
}

// DefaultConfig fills in the spec's named constants.
func DefaultConfig() Config {
	return Config{
		SectorBytes:  constants.DefaultSectorBytes,
		MinReadUnits: constants.DefaultMinReadUnits,
		ZonesPerNode: constants.DefaultZonesPerNode,
		MaxMCmds:     constants.DefaultZonesPerNode,
		MaxRetry:     constants.MaxCallbackErrCnt,
	}
}

// resource is one pool slot: a dedicated async context plus pre-sized
// bounce buffers, sized to the media minimum read unit.
type resource struct {
	ring    *async.Context
	bounces [][]byte
}

// Pool is the bounded set of read resources, acquired/released under a
// single mutex (spec.md §4.9: "acquisition is serialized by a mutex").
type Pool struct {
	mu        sync.Mutex
	resources []*resource
	free      []int // indices into resources currently unacquired
}

// NewPool preallocates n read resources, each with its own async context
// against the given device fd and maxMCmds bounce buffers of minReadUnits
// sectors each.
func NewPool(n int, fd int, ringDepth uint32, maxMCmds, minReadUnits, sectorBytes int) (*Pool, error) {
	p := &Pool{resources: make([]*resource, n), free: make([]int, n)}
	for i := 0; i < n; i++ {
		ring, err := async.NewContext(async.Config{Depth: ringDepth, FD: fd})
		if err != nil {
			return nil, zerr.Wrap("READENGINE_POOL_INIT", err)
		}
		bounces := make([][]byte, maxMCmds)
		for j := range bounces {
			bounces[j] = make([]byte, minReadUnits*sectorBytes)
		}
		p.resources[i] = &resource{ring: ring, bounces: bounces}
		p.free[i] = i
	}
	return p, nil
}

// Acquire pops a free resource index, or returns an error if the pool is
// exhausted (callers retry or block upstream; the pool itself never
// blocks, matching spec.md §4.9's bounded-pool phrasing).
func (p *Pool) Acquire() (*resource, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, -1, zerr.New("READENGINE_ACQUIRE", zerr.CodeNoSpace, "read resource pool exhausted")
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return p.resources[idx], idx, nil
}

// Release returns a resource to the free list.
func (p *Pool) Release(idx int) {
	p.mu.Lock()
	p.free = append(p.free, idx)
	p.mu.Unlock()
}

// Engine resolves (node, offset, size) reads against a device, through
// the bounded resource pool.
type Engine struct {
	cfg    Config
	device *media.Device
	nodes  *provisioner.Table
	pool   *Pool
}

// NewEngine builds a read engine bound to the node table, media device,
// and resource pool.
func NewEngine(cfg Config, nodes *provisioner.Table, device *media.Device, pool *Pool) *Engine {
	return &Engine{cfg: cfg, nodes: nodes, device: device, pool: pool}
}

// mcmd is one planned read command.
type mcmd struct {
	ZoneIdx  int
	Addr     uint64
	Sequence int // misalign for the first mcmd of a read, 0 thereafter
	BufOff   int
	CPSize   int
	NSec     uint64
}

// plan implements spec.md §4.9's plan algorithm for a (node, offset,
// size) read, given the node's zone base sector addresses.
func plan(zoneBases []uint64, minReadUnits, sectorBytes int, offset uint64, size int) []mcmd {
	n := uint64(len(zoneBases))
	mru := uint64(minReadUnits)
	sb := uint64(sectorBytes)

	misalign := offset % sb
	secCount := (uint64(size) + misalign + sb - 1) / sb
	secStart := offset / sb

	level := secStart / (n * mru)
	zoneIdx := (secStart % (n * mru)) / mru
	offsetInStripe := secStart % mru

	var out []mcmd
	remainingSectors := secCount
	remainingBytes := size
	bufOff := 0
	first := true

	for remainingSectors > 0 {
		var nsec uint64
		var zoneSecOff uint64
		if first {
			nsec = mru - offsetInStripe
			zoneSecOff = level*mru + offsetInStripe
		} else {
			nsec = mru
			zoneSecOff = level * mru
		}
		if nsec > remainingSectors {
			nsec = remainingSectors
		}

		cpsize := int(nsec * sb)
		if first {
			cpsize -= int(misalign)
		}
		if cpsize > remainingBytes {
			cpsize = remainingBytes
		}

		seq := 0
		if first {
			seq = int(misalign)
		}

		out = append(out, mcmd{
			ZoneIdx:  int(zoneIdx),
			Addr:     zoneBases[zoneIdx] + zoneSecOff,
			Sequence: seq,
			BufOff:   bufOff,
			CPSize:   cpsize,
			NSec:     nsec,
		})

		bufOff += cpsize
		remainingBytes -= cpsize
		remainingSectors -= nsec
		first = false

		zoneIdx++
		if zoneIdx == n {
			zoneIdx = 0
			level++
		}
	}
	return out
}

// Read implements spec.md §4.9's submit-and-gather step: every mcmd,
// a lone one included, is submitted to the resource's async context, and
// the context is poked until nothing (retries included) is in flight.
// There is no separate synchronous path for a single-mcmd read.
func (e *Engine) Read(nodeID uint32, offset uint64, buf []byte) error {
	var node *provisioner.Node
	for _, n := range e.nodes.Nodes() {
		if n.ID == nodeID {
			node = n
			break
		}
	}
	if node == nil {
		return zerr.New("READENGINE_READ", zerr.CodeInvalid, "unknown node id")
	}

	zoneBases := make([]uint64, len(node.Zones))
	for i, z := range node.Zones {
		zoneBases[i] = z.Base
	}

	cmds := plan(zoneBases, e.cfg.MinReadUnits, e.cfg.SectorBytes, offset, len(buf))
	if len(cmds) > e.cfg.MaxMCmds {
		return zerr.New("READENGINE_READ", zerr.CodeInvalid, "read spans more mcmds than the resource pool supports")
	}

	res, idx, err := e.pool.Acquire()
	if err != nil {
		return err
	}
	defer e.pool.Release(idx)

	var firstErr error
	for i, c := range cmds {
		bounce := res.bounces[i][:c.NSec*uint64(e.cfg.SectorBytes)]
		cmd := c
		if err := e.submitWithRetry(res.ring, cmd, bounce, buf, 0, &firstErr); err != nil {
			return err
		}
	}
	for res.ring.Inflight() > 0 {
		if _, err := res.ring.Poke(); err != nil {
			return zerr.Wrap("READENGINE_READ", err)
		}
	}
	return firstErr
}

// submitWithRetry submits one read mcmd, retrying up to cfg.MaxRetry
// times on failure before recording the error (mirrors the write
// engine's callback retry policy, per spec.md §4.9).
func (e *Engine) submitWithRetry(ring *async.Context, c mcmd, bounce []byte, userBuf []byte, retries int, firstErr *error) error {
	var attempt func(retries int) error
	attempt = func(retries int) error {
		userData := uint64(c.ZoneIdx)<<32 | uint64(c.BufOff)
		return e.device.SubmitIO(ring, async.OpRead, c.Addr, bounce, userData, func(n int, err error) {
			if err == nil {
				copy(userBuf[c.BufOff:c.BufOff+c.CPSize], bounce[c.Sequence:c.Sequence+c.CPSize])
				return
			}
			if retries < e.cfg.MaxRetry {
				if resubErr := attempt(retries + 1); resubErr != nil && *firstErr == nil {
					*firstErr = resubErr
				}
				return
			}
			if *firstErr == nil {
				*firstErr = err
			}
		})
	}
	return attempt(retries)
}
