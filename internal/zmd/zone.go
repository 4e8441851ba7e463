// Package zmd implements the zone metadata table (C4): a per-zone
// descriptor table seeded from a device zone report, tracking state,
// write pointer, and flags.
package zmd

import "sync/atomic"

// State mirrors the device-reported zone state (spec.md §3).
type State uint8

const (
	StateEmpty State = iota
	StateEOpen       // explicitly opened
	StateIOpen       // implicitly opened
	StateClosed
	StateFull
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateEOpen:
		return "EOPEN"
	case StateIOpen:
		return "IOPEN"
	case StateClosed:
		return "CLOSED"
	case StateFull:
		return "FULL"
	default:
		return "UNKNOWN"
	}
}

// Flags is a bitmask over the flag set in spec.md §3.
type Flags uint8

const (
	FlagUsed Flags = 1 << iota
	FlagOpen
	FlagRsvd
	FlagAvlb
	FlagCold
	FlagMeta
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Zone is a fixed-size contiguous LBA range on the device.
type Zone struct {
	Index    uint32
	Base     uint64 // absolute base sector
	Capacity uint64 // sectors

	wp         atomic.Uint64 // durable write pointer
	wpInflight atomic.Uint64 // reservation beyond the durable wp

	State State
	Flags Flags
}

// WP returns the durable write pointer.
func (z *Zone) WP() uint64 { return z.wp.Load() }

// WPInflight returns the reservation pointer (wp + outstanding reservations).
func (z *Zone) WPInflight() uint64 { return z.wpInflight.Load() }

// SetWP sets the durable write pointer (management worker, after reset/finish).
func (z *Zone) SetWP(v uint64) { z.wp.Store(v) }

// SetWPInflight sets the inflight pointer directly (used on reset).
func (z *Zone) SetWPInflight(v uint64) { z.wpInflight.Store(v) }

// AdvanceInflight atomically advances the inflight pointer by n sectors and
// returns the address the reservation starts at.
func (z *Zone) AdvanceInflight(n uint64) uint64 {
	return z.wpInflight.Add(n) - n
}

// AdvanceWP atomically advances the durable write pointer by n sectors.
// The write engine's completion callback does not call it.
func (z *Zone) AdvanceWP(n uint64) {
	z.wp.Add(n)
}

// CheckInvariant reports whether base <= wp <= wp_inflight <= base+capacity
// holds (spec.md §5 / §8 invariant 1).
func (z *Zone) CheckInvariant() bool {
	wp := z.WP()
	wpi := z.WPInflight()
	end := z.Base + z.Capacity
	return z.Base <= wp && wp <= wpi && wpi <= end
}

// Report is the device-reported record consumed to seed a Zone (spec.md §4.4).
type Report struct {
	Index    uint32
	Base     uint64
	Capacity uint64
	State    State
	WP       uint64 // device-reported write pointer; ignored for empty zones
}

// Table is the in-memory per-zone descriptor table, keyed by zone index.
type Table struct {
	zones []*Zone
}

// NewTable builds the zone table from a full device report. Empty zones
// have their write pointer set to the zone base; non-empty zones inherit
// the device-reported write pointer (spec.md §4.4).
func NewTable(reports []Report) *Table {
	t := &Table{zones: make([]*Zone, len(reports))}
	for _, r := range reports {
		z := &Zone{
			Index:    r.Index,
			Base:     r.Base,
			Capacity: r.Capacity,
			State:    r.State,
		}
		wp := r.Base
		if r.State != StateEmpty {
			wp = r.WP
		}
		z.wp.Store(wp)
		z.wpInflight.Store(wp)
		t.zones[r.Index] = z
	}
	return t
}

// Zone returns the zone at the given index.
func (t *Table) Zone(index uint32) *Zone {
	if int(index) >= len(t.zones) {
		return nil
	}
	return t.zones[index]
}

// Len returns the number of zones in the table.
func (t *Table) Len() int { return len(t.zones) }

// All returns every zone in index order.
func (t *Table) All() []*Zone { return t.zones }

// MarkReserved sets the RSVD flag and excludes the zone from the
// provisioner's pool by construction (the provisioner filters on this flag
// when grouping into nodes).
func (z *Zone) MarkReserved() { z.Flags |= FlagRsvd }
