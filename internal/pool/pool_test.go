package pool

import (
	"testing"

	"github.com/ehrlich-b/ztl/internal/zerr"
)

func TestNewRejectsZeroCount(t *testing.T) {
	_, err := New(0, func() any { return make([]byte, 4096) }, func(any) {})
	if !zerr.IsCode(err, zerr.CodeInvalid) {
		t.Fatalf("expected CodeInvalid, got %v", err)
	}
}

func TestNewRejectsOversizedCount(t *testing.T) {
	_, err := New(1<<20, func() any { return make([]byte, 4096) }, func(any) {})
	if !zerr.IsCode(err, zerr.CodeInvalid) {
		t.Fatalf("expected CodeInvalid, got %v", err)
	}
}

func TestGetPutRoundTrip(t *testing.T) {
	p, err := New(4, func() any { return make([]byte, 4096) }, func(any) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got []any
	for i := 0; i < 4; i++ {
		v := p.Get()
		if v == nil {
			t.Fatalf("Get() returned nil on iteration %d", i)
		}
		got = append(got, v)
	}
	if v := p.Get(); v != nil {
		t.Fatal("expected pool to be exhausted after 4 gets")
	}

	for _, v := range got {
		p.Put(v)
	}
	if v := p.Get(); v == nil {
		t.Fatal("expected entry to be available after Put")
	}
}

func TestDestroyFreesOnlyResidentEntries(t *testing.T) {
	freed := 0
	p, err := New(3, func() any { return make([]byte, 4096) }, func(any) { freed++ })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	held := p.Get() // not returned before Destroy
	_ = held

	p.Destroy()
	if freed != 2 {
		t.Errorf("freed = %d, want 2 (3 entries minus 1 checked out)", freed)
	}
}

func TestRegistryRejectsOutOfBoundsIndices(t *testing.T) {
	r := NewRegistry()
	p, _ := New(1, func() any { return 1 }, func(any) {})

	if err := r.Register(MaxTypes, 0, p); !zerr.IsCode(err, zerr.CodeOutOfBounds) {
		t.Errorf("expected CodeOutOfBounds for typeID, got %v", err)
	}
	if err := r.Register(0, MaxThreads, p); !zerr.IsCode(err, zerr.CodeOutOfBounds) {
		t.Errorf("expected CodeOutOfBounds for threadID, got %v", err)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	p, _ := New(1, func() any { return 1 }, func(any) {})

	if err := r.Register(2, 3, p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := r.Get(2, 3); got != p {
		t.Error("Get did not return the registered pool")
	}
	if got := r.Get(5, 5); got != nil {
		t.Error("Get on an unregistered slot should return nil")
	}
}
