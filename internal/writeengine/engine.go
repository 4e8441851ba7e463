// Package writeengine implements the write engine (C8): one queue and
// worker per level, consuming UCmds, striping each across a node's
// zones, and issuing write mcmds with per-zone gating.
//
// Grounded on the teacher's internal/queue/runner.go per-tag worker loop
// (pop a command, submit its mcmds, poke to drain, mark complete)
// generalized from a single ublk I/O queue to ZTL's per-level write path.
package writeengine

import (
	"sync/atomic"

	"github.com/ehrlich-b/ztl/internal/async"
	"github.com/ehrlich-b/ztl/internal/constants"
	"github.com/ehrlich-b/ztl/internal/mapping"
	"github.com/ehrlich-b/ztl/internal/media"
	"github.com/ehrlich-b/ztl/internal/provisioner"
	"github.com/ehrlich-b/ztl/internal/zerr"
)

// Config parameterizes a level's worker (spec.md §4.8).
type Config struct {
	SectorBytes         int
	MinWriteUnits       int
	BurstSize           int
	MaxCallbackErrCount int
	QueueDepth          int
}

// DefaultConfig fills in the spec's named constants.
func DefaultConfig() Config {
	return Config{
		SectorBytes:         constants.DefaultSectorBytes,
		MinWriteUnits:       constants.DefaultMinWriteUnits,
		BurstSize:           constants.SubmitBatchSize,
		MaxCallbackErrCount: constants.MaxCallbackErrCnt,
		QueueDepth:          256,
	}
}

// UCmd is one user write request: a buffer, the level it targets, and
// the mapping pieces it resolves to once complete.
type UCmd struct {
	Buf    []byte
	Level  int
	Pieces []mapping.Piece
	Err    error
	done   chan struct{}
}

// NewUCmd wraps buf for submission to a level's worker.
func NewUCmd(buf []byte, level int) *UCmd {
	return &UCmd{Buf: buf, Level: level, done: make(chan struct{})}
}

// Wait blocks until the worker has marked the command complete
// (spec.md §4.10's write is synchronous from the caller's perspective).
func (u *UCmd) Wait() { <-u.done }

func (u *UCmd) complete() { close(u.done) }

// Worker services one level's FIFO of UCmds.
type Worker struct {
	level  int
	cfg    Config
	nodes  *provisioner.Table
	qs     *provisioner.QueueState
	device *media.Device
	ring   *async.Context

	jobs chan *UCmd
	seq  atomic.Uint64
}

// NewWorker builds a level's write worker bound to the shared node
// table, media device, and async context.
func NewWorker(level int, cfg Config, nodes *provisioner.Table, device *media.Device, ring *async.Context) *Worker {
	nodes.SetUnitSectors(uint64(cfg.MinWriteUnits))
	return &Worker{
		level:  level,
		cfg:    cfg,
		nodes:  nodes,
		qs:     provisioner.NewQueueState(level),
		device: device,
		ring:   ring,
		jobs:   make(chan *UCmd, cfg.QueueDepth),
	}
}

// Enqueue submits a UCmd for processing; callers then call Wait on it.
func (w *Worker) Enqueue(u *UCmd) error {
	select {
	case w.jobs <- u:
		return nil
	default:
		return zerr.New("WRITEENGINE_ENQUEUE", zerr.CodeIOError, "write queue full")
	}
}

// Run drains the job queue until closed. One UCmd is processed fully
// (including all its mcmds) before the next is popped, matching
// spec.md §5's per-level FIFO ordering guarantee.
func (w *Worker) Run() {
	for u := range w.jobs {
		w.process(u)
	}
}

// Close stops accepting new jobs after the queue drains.
func (w *Worker) Close() { close(w.jobs) }

// QueueDepth returns the number of UCmds currently buffered, for the
// façade's queue-depth metric sampling.
func (w *Worker) QueueDepth() int { return len(w.jobs) }

// process implements the per-level worker loop of spec.md §4.8.
func (w *Worker) process(u *UCmd) {
	unitBytes := w.cfg.MinWriteUnits * w.cfg.SectorBytes
	if unitBytes == 0 || len(u.Buf)%unitBytes != 0 {
		u.Err = zerr.New("WRITEENGINE_SIZE", zerr.CodeInvalid, "size not aligned to sector_bytes * min_write_units")
		u.complete()
		return
	}

	ncmd := len(u.Buf) / unitBytes
	if ncmd > constants.MaxMCmd {
		u.Err = zerr.New("WRITEENGINE_SIZE", zerr.CodeInvalid, "write exceeds MAX_MCMD")
		u.complete()
		return
	}

	remaining := uint64(ncmd)
	bufOff := 0
	for remaining > 0 {
		node, err := w.nodes.GetNode(w.qs)
		if err != nil {
			u.Err = zerr.Wrap("WRITEENGINE_GETNODE", err)
			u.complete()
			return
		}

		take := node.Left
		if remaining < take {
			take = remaining
		}
		unit := uint32(w.cfg.MinWriteUnits)
		piece := mapping.Piece{NodeID: node.ID, Start: uint32(node.Used) * unit, Num: uint32(take) * unit}

		entries := node.Reserve(take)
		if err := w.submitStripe(entries, u.Buf, bufOff); err != nil {
			u.Err = err
			u.complete()
			return
		}
		node.NrValid.Add(int64(take))

		u.Pieces = append(u.Pieces, piece)
		if len(u.Pieces) > constants.MaxPieces {
			u.Err = zerr.New("WRITEENGINE_PIECES", zerr.CodeInvalid, "write produced more pieces than MAX_PIECES")
			u.complete()
			return
		}

		bufOff += int(take) * unitBytes
		remaining -= take
	}

	u.complete()
}

// submitStripe implements steps 4-6 of spec.md §4.8: mcmds of exactly
// min_write_units sectors each, round-robin across entries in the order
// Reserve returned them (so zone i is tagged sequence_zn = i), with
// per-zone gating (minflight) and periodic poking to drain completions.
func (w *Worker) submitStripe(entries []provisioner.Entry, buf []byte, bufOffBase int) error {
	if len(entries) == 0 {
		return nil
	}

	maxRounds := uint64(0)
	for _, e := range entries {
		if e.NSec > maxRounds {
			maxRounds = e.NSec
		}
	}
	unitBytes := w.cfg.MinWriteUnits * w.cfg.SectorBytes

	minflight := make(map[int]bool, len(entries))
	var firstErr error
	submitted := 0
	cursor := bufOffBase

	for round := uint64(0); round < maxRounds; round++ {
		for _, e := range entries {
			if round >= e.NSec {
				continue
			}
			for minflight[e.ZoneIndex] {
				if _, err := w.ring.Poke(); err != nil {
					return zerr.Wrap("WRITEENGINE_SUBMIT", err)
				}
			}

			addr := e.Addr + round*uint64(w.cfg.MinWriteUnits)
			dma := buf[cursor : cursor+unitBytes]
			zoneIdx := e.ZoneIndex
			minflight[zoneIdx] = true

			if err := w.submitWithRetry(addr, dma, zoneIdx, minflight, &firstErr); err != nil {
				return err
			}

			cursor += unitBytes
			submitted++
			if submitted%w.cfg.BurstSize == 0 {
				if _, err := w.ring.Poke(); err != nil {
					return zerr.Wrap("WRITEENGINE_SUBMIT", err)
				}
			}
		}
	}

	for anyInflight(minflight) {
		if _, err := w.ring.Poke(); err != nil {
			return zerr.Wrap("WRITEENGINE_SUBMIT", err)
		}
	}
	return firstErr
}

// submitWithRetry submits one mcmd, resubmitting on failure up to
// MaxCallbackErrCount before recording the error on the stripe
// (spec.md §4.8's write callback retry policy).
func (w *Worker) submitWithRetry(addr uint64, dma []byte, zoneIdx int, minflight map[int]bool, firstErr *error) error {
	var attempt func(retries int) error
	attempt = func(retries int) error {
		userData := w.seq.Add(1)
		return w.device.SubmitIO(w.ring, async.OpWrite, addr, dma, userData, func(n int, err error) {
			if err == nil {
				minflight[zoneIdx] = false
				return
			}
			if retries < w.cfg.MaxCallbackErrCount {
				if resubErr := attempt(retries + 1); resubErr != nil && *firstErr == nil {
					*firstErr = resubErr
				}
				return
			}
			minflight[zoneIdx] = false
			if *firstErr == nil {
				*firstErr = err
			}
		})
	}
	return attempt(0)
}

func anyInflight(minflight map[int]bool) bool {
	for _, v := range minflight {
		if v {
			return true
		}
	}
	return false
}
