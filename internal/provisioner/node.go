// Package provisioner implements the node/zone provisioner (C5): it
// groups zones into fixed-size striping units ("nodes"), hands out the
// per-level "current node" to write workers, and computes round-robin
// sector reservations across a node's zones.
package provisioner

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/ehrlich-b/ztl/internal/zmd"
)

// ErrNoSpace is returned by GetNode when the free list is exhausted.
var ErrNoSpace = errors.New("provisioner: no free node available")

// Status is a node's lifecycle state.
type Status uint8

const (
	StatusFree Status = iota
	StatusUsed
	StatusFull
)

// Node is a fixed-size striping unit of N zones.
type Node struct {
	ID     uint32
	Zones  []*zmd.Zone // length N
	Status Status

	Left    uint64 // capacity left, in chunks of UnitSectors sectors each
	Used    uint64 // capacity used, in chunks of UnitSectors sectors each
	NrValid atomic.Int64
	Level   int32 // -1 when unbound

	// UnitSectors is the number of raw sectors one reservation chunk
	// represents (spec.md §4.8's min_write_units). Zero is treated as 1,
	// so callers that reserve directly in sectors (most of this package's
	// own tests) need not set it. The write engine sets it to the
	// media's min_write_units on every node before striping writes.
	UnitSectors uint64

	ErrCount atomic.Uint64

	mu sync.Mutex // guards Status/Left/Used transitions
}

// Entry is one zone's share of a reservation.
type Entry struct {
	ZoneIndex int    // index into Node.Zones
	Addr      uint64 // absolute sector address to write at
	NSec      uint64 // units assigned to this zone, in min_write_units
}

// Table owns the full set of nodes and the free/used lists.
type Table struct {
	mu           sync.Mutex
	nodes        []*Node
	free         []*Node
	used         []*Node
	zonesPerNode int
}

// Build groups zones into nodes of n zones each, in index order, skipping
// zones flagged RSVD (spec.md §4.5: "skipping M reserved metadata zones").
// Any trailing partial group (fewer than n non-reserved zones) is dropped;
// a real device is sized so this does not happen.
func Build(zones []*zmd.Zone, n int) *Table {
	t := &Table{zonesPerNode: n}

	usable := make([]*zmd.Zone, 0, len(zones))
	for _, z := range zones {
		if z.Flags.Has(zmd.FlagRsvd) {
			continue
		}
		usable = append(usable, z)
	}

	var id uint32
	for i := 0; i+n <= len(usable); i += n {
		node := &Node{
			ID:     id,
			Zones:  usable[i : i+n],
			Status: StatusFree,
			Level:  -1,
		}
		t.nodes = append(t.nodes, node)
		t.free = append(t.free, node)
		id++
	}
	return t
}

// Nodes returns every node in id order.
func (t *Table) Nodes() []*Node { return t.nodes }

// SetUnitSectors stamps every node with the reservation chunk size (in
// raw sectors) the write engine will reserve in. Called by every
// writeengine.NewWorker (once per level, always with the same value),
// before any GetNode/Reserve traffic.
func (t *Table) SetUnitSectors(sectors uint64) {
	for _, n := range t.nodes {
		n.UnitSectors = sectors
	}
}

// FreeCount returns the number of nodes currently on the free list.
func (t *Table) FreeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.free)
}

// QueueState is per-level write-worker state: the node currently bound to
// this level's queue, if any.
type QueueState struct {
	mu    sync.Mutex
	node  *Node
	level int
}

// NewQueueState creates write-worker state for the given level.
func NewQueueState(level int) *QueueState {
	return &QueueState{level: level}
}

// GetNode implements get_node(queue_state) (spec.md §4.5): reuse the
// queue's bound node while it has capacity left, otherwise pop the free
// list head and bind it. Returns ErrNoSpace if no free node exists.
func (t *Table) GetNode(qs *QueueState) (*Node, error) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	if qs.node != nil {
		qs.node.mu.Lock()
		left := qs.node.Left
		qs.node.mu.Unlock()
		if left > 0 {
			return qs.node, nil
		}
	}

	t.mu.Lock()
	if len(t.free) == 0 {
		t.mu.Unlock()
		return nil, ErrNoSpace
	}
	node := t.free[0]
	t.free = t.free[1:]
	t.used = append(t.used, node)
	t.mu.Unlock()

	node.mu.Lock()
	node.Status = StatusUsed
	if node.Level < 0 {
		node.Level = int32(qs.level) // first reservation stamps the level
	}
	if node.Left == 0 {
		node.Left = uint64(len(node.Zones)) * zoneCapacityUnits(node.Zones[0], node.unitSectorsOrDefault())
	}
	node.mu.Unlock()

	qs.node = node
	return node, nil
}

// unitSectorsOrDefault returns UnitSectors, or 1 if unset — letting
// callers that reserve directly in sectors (no chunking) skip setting it.
func (n *Node) unitSectorsOrDefault() uint64 {
	if n.UnitSectors == 0 {
		return 1
	}
	return n.UnitSectors
}

func zoneCapacityUnits(z *zmd.Zone, unitSectors uint64) uint64 {
	return z.Capacity / unitSectors
}

// Reserve implements reserve(node, nsec) (spec.md §4.5): nsec chunks
// (each UnitSectors sectors, see unitSectorsOrDefault) are distributed
// round-robin across the node's zones starting at zone Used%N, the zone
// the node's stripe continues on. full_rounds = nsec/N, remainder =
// nsec%N; the j-th zone of that rotation gets full_rounds +
// (j < remainder ? 1 : 0) chunks, and entries are returned in rotation
// order. Each participating
// zone's inflight write pointer is advanced atomically, in real sectors,
// by its assigned chunk count; Entry.Addr is therefore already a real
// device sector address, and Entry.NSec stays in chunks for the write
// engine's mcmd-splitting loop.
func (n *Node) Reserve(nsec uint64) []Entry {
	count := len(n.Zones)
	if count == 0 || nsec == 0 {
		return nil
	}
	unitSectors := n.unitSectorsOrDefault()

	fullRounds := nsec / uint64(count)
	remainder := nsec % uint64(count)

	n.mu.Lock()
	first := int(n.Used % uint64(count))
	n.mu.Unlock()

	entries := make([]Entry, 0, count)
	for j := 0; j < count; j++ {
		units := fullRounds
		if uint64(j) < remainder {
			units++
		}
		if units == 0 {
			continue
		}
		i := (first + j) % count
		zone := n.Zones[i]
		addr := zone.AdvanceInflight(units * unitSectors)
		entries = append(entries, Entry{ZoneIndex: i, Addr: addr, NSec: units})
	}

	n.mu.Lock()
	n.Used += nsec
	if n.Left >= nsec {
		n.Left -= nsec
	} else {
		n.Left = 0
	}
	if n.Left == 0 {
		n.Status = StatusFull
	}
	n.mu.Unlock()

	return entries
}

// Invalidate implements the portion of the management worker's
// invalidation policy (spec.md §4.7) that belongs to the node itself:
// subtract length from nr_valid and report whether the node just became
// eligible for reset (nr_valid hit zero while FULL).
func (n *Node) Invalidate(length int64) (eligibleForReset bool) {
	remaining := n.NrValid.Add(-length)
	n.mu.Lock()
	full := n.Status == StatusFull
	n.mu.Unlock()
	return remaining == 0 && full
}

// Reset returns a FULL or USED node to the free list after a successful
// full-node media reset, per spec.md §4.7's post-reset node state.
func (t *Table) Reset(n *Node) {
	n.mu.Lock()
	n.Status = StatusFree
	n.Left = uint64(len(n.Zones)) * zoneCapacityUnits(n.Zones[0], n.unitSectorsOrDefault())
	n.Used = 0
	n.Level = -1
	n.mu.Unlock()
	n.NrValid.Store(0)

	t.mu.Lock()
	defer t.mu.Unlock()
	if i := slices.Index(t.used, n); i >= 0 {
		t.used = slices.Delete(t.used, i, i+1)
	}
	t.free = append(t.free, n)
}
