//go:build !giouring

package async

import (
	"sync"
	"syscall"
)

// newRing builds the default ring: a synchronous stub that executes each
// request immediately via pread/pwrite on Prepare and hands the result
// back on the next Poke. Used on platforms without io_uring and by the
// test suite, matching the teacher's internal/uring/iouring_stub.go
// fallback-on-missing-build-tag pattern.
func newRing(cfg Config) (Ring, error) {
	return &stubRing{fd: cfg.FD, zoneBackend: cfg.ZoneBackend}, nil
}

type stubRing struct {
	fd          int
	zoneBackend ZoneBackend

	mu      sync.Mutex
	pending []Completion
}

func (r *stubRing) Prepare(req Request) error {
	var res int32

	switch req.Op {
	case OpRead:
		n, err := syscall.Pread(r.fd, req.Buf, int64(req.Offset))
		if err != nil {
			res = -int32(errnoOf(err))
		} else {
			res = int32(n)
		}
	case OpWrite, OpAppend:
		n, err := syscall.Pwrite(r.fd, req.Buf, int64(req.Offset))
		if err != nil {
			res = -int32(errnoOf(err))
		} else {
			res = int32(n)
		}
	case OpFinish, OpReset:
		res = r.submitZoneOp(req)
	default:
		res = -int32(syscall.EINVAL)
	}

	r.mu.Lock()
	r.pending = append(r.pending, Completion{UserData: req.UserData, Res: res})
	r.mu.Unlock()
	return nil
}

// submitZoneOp dispatches OpFinish/OpReset to the configured
// ZoneBackend, so the stub ring actually finishes/resets zone state on
// the simulated device rather than fabricating success.
func (r *stubRing) submitZoneOp(req Request) int32 {
	if r.zoneBackend == nil {
		return 0
	}
	var err error
	if req.Op == OpFinish {
		err = r.zoneBackend.Finish(req.ZoneIndex)
	} else {
		err = r.zoneBackend.Reset(req.ZoneIndex)
	}
	if err != nil {
		return -int32(syscall.EIO)
	}
	return 0
}

func (r *stubRing) Poke() ([]Completion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out, nil
}

func (r *stubRing) Close() error { return nil }

func errnoOf(err error) syscall.Errno {
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return syscall.EIO
}
