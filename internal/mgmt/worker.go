// Package mgmt implements the management worker (C7): a single thread
// servicing a FIFO of zone FINISH/RESET jobs, plus the invalidation
// policy that enqueues a ResetZone once a FULL node's valid count drops
// to zero.
//
// Grounded on the teacher's internal/queue/runner.go single-goroutine
// state-machine loop (one goroutine draining a channel of work items,
// retrying on failure up to a bounded count) generalized from per-tag
// ublk I/O states to zone management jobs.
package mgmt

import (
	"github.com/ehrlich-b/ztl/internal/provisioner"
	"github.com/ehrlich-b/ztl/internal/zerr"
	"github.com/ehrlich-b/ztl/internal/zmd"
)

// JobOp identifies a management job's operation.
type JobOp uint8

const (
	JobFinishZone JobOp = iota
	JobResetZone
)

// Job is one {grp, node, opcode} FIFO entry (spec.md §4.7). Group is
// carried through for multi-group deployments even though the reference
// geometry in this implementation treats all nodes as one group.
type Job struct {
	Group JobOp // unused placeholder slot kept for wire-compat with multi-group geometries; always 0 here
	Node  *provisioner.Node
	Op    JobOp

	// Done, if non-nil, receives the job's outcome once processed: nil on
	// success, an error if a zone's retries were exhausted. Producers that
	// don't need to wait (the trim-triggered reset path) leave it nil.
	Done chan error
}

// ZoneSubmitter issues a single-zone FINISH or RESET and reports success
// or failure; internal/media.Device.SubmitZn satisfies this via a small
// adapter in the façade wiring.
type ZoneSubmitter interface {
	SubmitZoneOp(op JobOp, zone *zmd.Zone) error
}

// Worker services the FIFO, serially, on whatever goroutine calls Run —
// the teacher's runner.go likewise dedicates one goroutine per queue
// rather than a pool, since FINISH/RESET must be strictly serialized
// against zone write-pointer mutation.
type Worker struct {
	jobs      chan Job
	submitter ZoneSubmitter
	nodes     *provisioner.Table
	maxRetry  int
}

// NewWorker creates a management worker with a bounded job queue.
func NewWorker(submitter ZoneSubmitter, nodes *provisioner.Table, queueDepth, maxRetry int) *Worker {
	return &Worker{
		jobs:      make(chan Job, queueDepth),
		submitter: submitter,
		nodes:     nodes,
		maxRetry:  maxRetry,
	}
}

// Enqueue submits a job and returns immediately; producers (the trim
// path, an explicit finish request) never block on the worker itself.
func (w *Worker) Enqueue(job Job) error {
	select {
	case w.jobs <- job:
		return nil
	default:
		return zerr.New("MGMT_ENQUEUE", zerr.CodeIOError, "management queue full")
	}
}

// Run drains the job queue until it is closed, issuing each zone's
// FINISH/RESET serially and retrying up to maxRetry times on failure.
// On a successful RESET of every zone in a node, the node is returned to
// the free list (spec.md §4.7's post-reset node state).
func (w *Worker) Run() {
	for job := range w.jobs {
		w.process(job)
	}
}

// Close stops accepting jobs after the current queue drains.
func (w *Worker) Close() { close(w.jobs) }

func (w *Worker) process(job Job) {
	ok := true
	for _, zone := range job.Node.Zones {
		if !w.submitZoneWithRetry(job.Op, zone) {
			ok = false
			job.Node.ErrCount.Add(1)
		}
	}
	if !ok {
		if job.Done != nil {
			job.Done <- zerr.New("MGMT_PROCESS", zerr.CodeIOError, "zone management retries exhausted")
		}
		return
	}

	switch job.Op {
	case JobResetZone:
		for _, zone := range job.Node.Zones {
			zone.SetWP(zone.Base)
			zone.SetWPInflight(zone.Base)
		}
		w.nodes.Reset(job.Node)
	case JobFinishZone:
		for _, zone := range job.Node.Zones {
			zone.SetWP(zone.Base + zone.Capacity)
			zone.SetWPInflight(zone.Base + zone.Capacity)
		}
	}

	if job.Done != nil {
		job.Done <- nil
	}
}

func (w *Worker) submitZoneWithRetry(op JobOp, zone *zmd.Zone) bool {
	for attempt := 0; attempt <= w.maxRetry; attempt++ {
		if err := w.submitter.SubmitZoneOp(op, zone); err == nil {
			return true
		}
	}
	return false
}

// Invalidate implements the invalidation policy consumed by trim
// (spec.md §4.7): subtracts length from the owning node's nr_valid, and
// if that reaches zero on a FULL node, enqueues a ResetZone.
func (w *Worker) Invalidate(node *provisioner.Node, length int64) error {
	if node.Invalidate(length) {
		return w.Enqueue(Job{Node: node, Op: JobResetZone})
	}
	return nil
}
