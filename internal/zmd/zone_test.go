package zmd

import "testing"

func TestNewTableSeedsEmptyZonesAtBase(t *testing.T) {
	reports := []Report{
		{Index: 0, Base: 0, Capacity: 1024, State: StateEmpty, WP: 999},
		{Index: 1, Base: 1024, Capacity: 1024, State: StateClosed, WP: 1100},
	}
	table := NewTable(reports)

	empty := table.Zone(0)
	if empty.WP() != empty.Base {
		t.Errorf("empty zone WP = %d, want base %d", empty.WP(), empty.Base)
	}
	if empty.WPInflight() != empty.Base {
		t.Errorf("empty zone WPInflight = %d, want base %d", empty.WPInflight(), empty.Base)
	}

	closed := table.Zone(1)
	if closed.WP() != 1100 {
		t.Errorf("closed zone WP = %d, want device-reported 1100", closed.WP())
	}
}

func TestZoneLookupOutOfRange(t *testing.T) {
	table := NewTable([]Report{{Index: 0, Base: 0, Capacity: 64, State: StateEmpty}})
	if z := table.Zone(5); z != nil {
		t.Errorf("Zone(5) = %v, want nil", z)
	}
}

func TestAdvanceInflightReturnsPriorValue(t *testing.T) {
	z := &Zone{Base: 0, Capacity: 1024}
	start := z.AdvanceInflight(8)
	if start != 0 {
		t.Errorf("first AdvanceInflight(8) start = %d, want 0", start)
	}
	start = z.AdvanceInflight(8)
	if start != 8 {
		t.Errorf("second AdvanceInflight(8) start = %d, want 8", start)
	}
	if z.WPInflight() != 16 {
		t.Errorf("WPInflight = %d, want 16", z.WPInflight())
	}
}

func TestAdvanceWPAfterCompletion(t *testing.T) {
	z := &Zone{Base: 0, Capacity: 1024}
	z.AdvanceInflight(8)
	z.AdvanceWP(8)
	if z.WP() != 8 {
		t.Errorf("WP = %d, want 8", z.WP())
	}
	if !z.CheckInvariant() {
		t.Error("expected invariant to hold after matched advance")
	}
}

func TestCheckInvariantCatchesViolation(t *testing.T) {
	z := &Zone{Base: 0, Capacity: 64}
	z.SetWP(32)
	z.SetWPInflight(16) // wp > wp_inflight violates base <= wp <= wp_inflight <= end
	if z.CheckInvariant() {
		t.Error("expected invariant violation to be detected")
	}
}

func TestFlagsHas(t *testing.T) {
	f := FlagUsed | FlagCold
	if !f.Has(FlagUsed) {
		t.Error("expected FlagUsed to be set")
	}
	if f.Has(FlagMeta) {
		t.Error("did not expect FlagMeta to be set")
	}
}

func TestMarkReserved(t *testing.T) {
	z := &Zone{}
	z.MarkReserved()
	if !z.Flags.Has(FlagRsvd) {
		t.Error("expected RSVD flag after MarkReserved")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateEmpty:  "EMPTY",
		StateEOpen:  "EOPEN",
		StateIOpen:  "IOPEN",
		StateClosed: "CLOSED",
		StateFull:   "FULL",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %s, want %s", state, got, want)
		}
	}
}
