//go:build giouring

package async

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

// newRing builds the real ring on top of github.com/pawelgaczynski/giouring,
// the dependency the teacher's go.mod declares but whose real-ring path
// (internal/uring/iouring.go) never actually imports — it imports
// iceber/iouring-go instead, under the same "giouring" build tag, and is
// never called from NewRing. That mismatch is fixed here: this file is
// the one giouring-tagged build actually wired to the declared dependency.
func newRing(cfg Config) (Ring, error) {
	ring, err := giouring.CreateRing(cfg.Depth)
	if err != nil {
		return nil, fmt.Errorf("create io_uring: %w", err)
	}
	return &realRing{ring: ring, fd: cfg.FD, zoneBackend: cfg.ZoneBackend, failed: make(map[uint64]struct{})}, nil
}

type realRing struct {
	ring        *giouring.Ring
	fd          int
	zoneBackend ZoneBackend

	mu     sync.Mutex
	staged int
	// failed records UserData keys whose OpFinish/OpReset dispatch to
	// ZoneBackend errored, since a NOP sqe always completes with Res==0
	// and has no other way to carry that failure to Poke.
	failed map[uint64]struct{}
}

func (r *realRing) Prepare(req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sqe := r.ring.GetSQE()
	if sqe == nil {
		return ErrRingFull
	}

	switch req.Op {
	case OpRead:
		sqe.PrepRead(int32(r.fd), uintptr(unsafe.Pointer(&req.Buf[0])), uint32(len(req.Buf)), req.Offset)
	case OpWrite, OpAppend:
		sqe.PrepWrite(int32(r.fd), uintptr(unsafe.Pointer(&req.Buf[0])), uint32(len(req.Buf)), req.Offset)
	case OpFinish, OpReset:
		sqe.PrepNop()
		if err := r.submitZoneOp(req); err != nil {
			r.failed[req.UserData] = struct{}{}
		}
	}
	sqe.UserData = req.UserData
	r.staged++
	return nil
}

// submitZoneOp dispatches OpFinish/OpReset to the configured
// ZoneBackend. There is no io_uring opcode for ZNS zone management this
// ring issues, so the op runs synchronously here and its result is
// carried to Poke via r.failed rather than the (always successful) NOP
// CQE.
func (r *realRing) submitZoneOp(req Request) error {
	if r.zoneBackend == nil {
		return nil
	}
	if req.Op == OpFinish {
		return r.zoneBackend.Finish(req.ZoneIndex)
	}
	return r.zoneBackend.Reset(req.ZoneIndex)
}

func (r *realRing) Poke() ([]Completion, error) {
	r.mu.Lock()
	staged := r.staged
	r.staged = 0
	r.mu.Unlock()

	if staged > 0 {
		if _, err := r.ring.Submit(); err != nil {
			return nil, fmt.Errorf("submit io_uring sqes: %w", err)
		}
	}

	var completions []Completion
	for {
		cqe, err := r.ring.PeekCQE()
		if err != nil || cqe == nil {
			break
		}
		res := cqe.Res
		r.mu.Lock()
		if _, ok := r.failed[cqe.UserData]; ok {
			res = -int32(syscall.EIO)
			delete(r.failed, cqe.UserData)
		}
		r.mu.Unlock()
		completions = append(completions, Completion{UserData: cqe.UserData, Res: res})
		r.ring.CQESeen(cqe)
	}
	return completions, nil
}

func (r *realRing) Close() error {
	r.ring.QueueExit()
	return nil
}
