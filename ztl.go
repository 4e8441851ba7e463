// Package ztl is the public façade (C10): it wires the media backend,
// zone metadata table, node/zone provisioner, write/read engines,
// management worker, and FS-metadata log into the handful of calls an
// application actually makes (Open/Write/Read/Trim/NodeFinish/Close plus
// the metadata-log entry points), matching spec.md §4.10/§6.
//
// Grounded on the teacher's backend.go Device/CreateAndServe lifecycle
// (parse parameters, stand up the worker goroutines, tear them down on
// Close) generalized from a single ublk block-device goroutine to ZTL's
// per-level write workers, read-resource pool, and management worker.
package ztl

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/ztl/backend/file"
	"github.com/ehrlich-b/ztl/backend/nullzns"
	"github.com/ehrlich-b/ztl/internal/async"
	"github.com/ehrlich-b/ztl/internal/config"
	"github.com/ehrlich-b/ztl/internal/constants"
	"github.com/ehrlich-b/ztl/internal/logging"
	"github.com/ehrlich-b/ztl/internal/media"
	"github.com/ehrlich-b/ztl/internal/metalog"
	"github.com/ehrlich-b/ztl/internal/mgmt"
	"github.com/ehrlich-b/ztl/internal/pool"
	"github.com/ehrlich-b/ztl/internal/provisioner"
	"github.com/ehrlich-b/ztl/internal/readengine"
	"github.com/ehrlich-b/ztl/internal/writeengine"
	"github.com/ehrlich-b/ztl/internal/zerr"
	"github.com/ehrlich-b/ztl/internal/zmd"
)

// Config is the engine's enumerated configuration (spec.md §6).
type Config = config.Config

// DefaultConfig returns the reference parameterization (N=64, L=5).
func DefaultConfig() Config { return config.Default() }

// mediaBackend is the minimal surface Open needs from either backend
// package; both backend/nullzns.Backend and backend/file.Backend satisfy
// it with an ordinary fd-owning Close.
type mediaBackend interface {
	FD() int
	Close() error
}

// Engine is a single open device: the zone table, node table, write/read
// engines, management worker, and FS-metadata log all bound to one
// backend fd.
type Engine struct {
	id      uuid.UUID
	log     *logging.Logger
	cfg     Config
	backend mediaBackend
	device  *media.Device
	zones   *zmd.Table
	nodes   *provisioner.Table

	writers    []*writeengine.Worker
	writeRings []*async.Context
	workersWG  sync.WaitGroup

	readPool *readengine.Pool
	reader   *readengine.Engine

	mgmtRing   *async.Context
	mgmtWorker *mgmt.Worker
	mgmtWG     sync.WaitGroup

	metaIO     *blockIO
	metaMu     sync.Mutex
	metaWriter *metalog.Writer
	fileTable  *metalog.FileTable

	metrics  *Metrics
	observer Observer

	bufPool   *pool.Pool
	unitBytes int

	closeOnce sync.Once
}

// Open parses uri, opens the selected backend, seeds the zone table from
// its (real or synthesized) zone report, and stands up every worker
// goroutine the façade's calls dispatch to (spec.md §4.10).
func Open(ctx context.Context, uri string, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, zerr.Wrap("ENGINE_OPEN", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, zerr.Wrap("ENGINE_OPEN", err)
	}

	be, reports, fd, err := openBackend(uri, cfg)
	if err != nil {
		return nil, err
	}

	geom := media.Geometry{
		Groups: 1, PUsPerGroup: 1, ZonesPerPU: cfg.TotalZones,
		SectorsPerZone: cfg.SectorsPerZone, BytesPerSector: cfg.SectorBytes,
	}
	dev, err := media.Open(uri, fd, geom)
	if err != nil {
		be.Close()
		return nil, err
	}

	zones := zmd.NewTable(reports)
	for i := 0; i < cfg.ReservedZones; i++ {
		zones.Zone(uint32(i)).MarkReserved()
	}
	nodes := provisioner.Build(zones.All(), cfg.ZonesPerNode)

	id := uuid.New()
	e := &Engine{id: id, cfg: cfg, backend: be, device: dev, zones: zones, nodes: nodes}
	e.unitBytes = cfg.MinWriteUnits * cfg.SectorBytes
	e.log = logging.Default().With(logrus.Fields{"engine": e.id.String(), "uri": uri})
	e.log.Infof("opening device")

	e.metrics = NewMetrics()
	e.observer = NewMetricsObserver(e.metrics)

	if err := e.startWriteEngine(fd); err != nil {
		be.Close()
		return nil, err
	}
	if err := e.startReadEngine(fd); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.startMgmt(fd); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.startMetaLog(); err != nil {
		e.Close()
		return nil, err
	}

	e.bufPool, err = pool.New(cfg.ReadResourceCount, func() any {
		buf, allocErr := media.DMAAlloc(e.unitBytes)
		if allocErr != nil {
			return make([]byte, e.unitBytes)
		}
		return buf
	}, func(any) {})
	if err != nil {
		e.Close()
		return nil, zerr.Wrap("ENGINE_OPEN", err)
	}

	e.log.Infof("device open")
	return e, nil
}

// ID returns the engine instance's unique identifier, assigned at Open
// and attached to every log line it emits. Callers can use it to
// correlate this process's log output with a specific open device
// across restarts.
func (e *Engine) ID() uuid.UUID { return e.id }

// Metrics returns the engine's running metrics counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// MetricsSnapshot returns a point-in-time snapshot of the engine's metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e.metrics == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// FileNames returns the names the FS-metadata log recovered at Open,
// in no particular order.
func (e *Engine) FileNames() []string { return e.fileTable.Names() }

// openBackend dispatches on the device URI scheme: "nullzns:" selects
// the in-process simulated device, anything else is a regular file or
// block device path opened through backend/file (spec.md §4.1).
func openBackend(uri string, cfg Config) (mediaBackend, []zmd.Report, int, error) {
	if strings.HasPrefix(uri, "nullzns:") {
		nz, err := nullzns.New(cfg.TotalZones, cfg.SectorsPerZone, cfg.SectorBytes)
		if err != nil {
			return nil, nil, -1, zerr.Wrap("ENGINE_OPEN", err)
		}
		return nz, nz.Report(), nz.FD(), nil
	}

	path := uri
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		path = uri[:idx]
	}
	need := int64(cfg.TotalZones) * int64(cfg.SectorsPerZone) * int64(cfg.SectorBytes)
	fb, err := file.Open(path, file.Options{Create: true, Size: need})
	if err != nil {
		return nil, nil, -1, zerr.Wrap("ENGINE_OPEN", err)
	}
	reports, err := fb.Report(cfg.TotalZones, cfg.SectorsPerZone)
	if err != nil {
		fb.Close()
		return nil, nil, -1, zerr.Wrap("ENGINE_OPEN", err)
	}
	return fb, reports, fb.FD(), nil
}

func (e *Engine) startWriteEngine(fd int) error {
	wcfg := writeengine.Config{
		SectorBytes:         e.cfg.SectorBytes,
		MinWriteUnits:       e.cfg.MinWriteUnits,
		BurstSize:           constants.SubmitBatchSize,
		MaxCallbackErrCount: e.cfg.WriteRetryMax,
		QueueDepth:          256,
	}

	e.writers = make([]*writeengine.Worker, e.cfg.LevelCount)
	e.writeRings = make([]*async.Context, e.cfg.LevelCount)
	for lvl := 0; lvl < e.cfg.LevelCount; lvl++ {
		ring, err := async.NewContext(async.Config{Depth: uint32(e.cfg.RingDepth), FD: fd})
		if err != nil {
			return zerr.Wrap("ENGINE_OPEN", err)
		}
		w := writeengine.NewWorker(lvl, wcfg, e.nodes, e.device, ring)
		e.writers[lvl] = w
		e.writeRings[lvl] = ring

		e.workersWG.Add(1)
		go func(w *writeengine.Worker) {
			defer e.workersWG.Done()
			w.Run()
		}(w)
	}
	return nil
}

func (e *Engine) startReadEngine(fd int) error {
	readPool, err := readengine.NewPool(e.cfg.ReadResourceCount, fd, uint32(e.cfg.RingDepth), e.cfg.ZonesPerNode, e.cfg.MinReadUnits, e.cfg.SectorBytes)
	if err != nil {
		return zerr.Wrap("ENGINE_OPEN", err)
	}
	rcfg := readengine.Config{
		SectorBytes:  e.cfg.SectorBytes,
		MinReadUnits: e.cfg.MinReadUnits,
		ZonesPerNode: e.cfg.ZonesPerNode,
		MaxMCmds:     e.cfg.ZonesPerNode,
		MaxRetry:     e.cfg.ReadRetryMax,
	}
	e.readPool = readPool
	e.reader = readengine.NewEngine(rcfg, e.nodes, e.device, readPool)
	return nil
}

func (e *Engine) startMgmt(fd int) error {
	// Only the management worker ever submits OpFinish/OpReset, so only
	// its ring is given a ZoneBackend: when the backend behind fd tracks
	// explicit zone state (backend/nullzns.Backend), FINISH/RESET become
	// real device operations instead of an always-succeeds no-op.
	zb, _ := e.backend.(async.ZoneBackend)
	ring, err := async.NewContext(async.Config{Depth: uint32(e.cfg.RingDepth), FD: fd, ZoneBackend: zb})
	if err != nil {
		return zerr.Wrap("ENGINE_OPEN", err)
	}
	e.mgmtRing = ring

	submitter := &zoneSubmitter{device: e.device, ring: ring}
	e.mgmtWorker = mgmt.NewWorker(submitter, e.nodes, e.cfg.NodeMgmtPoolSize, e.cfg.MgmtRetryMax)

	e.mgmtWG.Add(1)
	go func() {
		defer e.mgmtWG.Done()
		e.mgmtWorker.Run()
	}()
	return nil
}

func (e *Engine) startMetaLog() error {
	z0, z1 := e.zones.Zone(0), e.zones.Zone(1)
	metaZones := [2]metalog.ZoneDesc{
		{Index: int(z0.Index), Base: z0.Base, Capacity: z0.Capacity},
		{Index: int(z1.Index), Base: z1.Base, Capacity: z1.Capacity},
	}
	e.metaIO = &blockIO{fd: e.device.FD(), sectorBytes: e.cfg.SectorBytes}

	// The log's two reserved zones live on the same backend as every data
	// zone, so switching the log to its other zone can reuse the same
	// ZoneBackend.Reset the management worker uses (nil on backends with
	// no notion of explicit zone state, e.g. backend/file).
	zb, _ := e.backend.(async.ZoneBackend)

	result, err := metalog.Replay(e.metaIO, metaZones, e.cfg.SectorBytes)
	if err != nil {
		return zerr.Wrap("ENGINE_OPEN", err)
	}
	e.fileTable = result.Table

	if result.Fresh {
		w, err := metalog.NewWriter(e.metaIO, metaZones, e.cfg.SectorBytes, e.cfg.MetaWriteRetryMax, e.cfg.CompressBaseSnapshots, zb)
		if err != nil {
			return zerr.Wrap("ENGINE_OPEN", err)
		}
		e.metaWriter = w
		return nil
	}
	e.metaWriter = metalog.OpenWriter(e.metaIO, metaZones, e.cfg.SectorBytes, e.cfg.MetaWriteRetryMax, e.cfg.CompressBaseSnapshots, zb, result.ZoneIndex, result.WritePointer, result.Sequence)
	return nil
}

// Close drains and stops every worker goroutine, then closes the
// backend. Safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		for _, w := range e.writers {
			if w != nil {
				w.Close()
			}
		}
		e.workersWG.Wait()
		for _, ring := range e.writeRings {
			if ring != nil {
				ring.Term()
			}
		}

		if e.mgmtWorker != nil {
			e.mgmtWorker.Close()
		}
		e.mgmtWG.Wait()
		if e.mgmtRing != nil {
			e.mgmtRing.Term()
		}

		if e.bufPool != nil {
			e.bufPool.Destroy()
		}

		if e.backend != nil {
			err = e.backend.Close()
		}
		if e.metrics != nil {
			e.metrics.Stop()
		}
		if e.log != nil {
			e.log.Infof("device closed")
		}
	})
	return err
}

// Alloc returns a DMA-aligned buffer of size bytes (spec.md §4.2). A
// size matching exactly one write unit is served from the pool's free
// list when available; any other size, or an exhausted pool, falls back
// to a fresh aligned allocation.
func (e *Engine) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, zerr.New("ENGINE_ALLOC", zerr.CodeInvalid, "size must be positive")
	}
	if size == e.unitBytes && e.bufPool != nil {
		if v := e.bufPool.Get(); v != nil {
			return v.([]byte)[:size], nil
		}
	}
	return media.DMAAlloc(size)
}

// Free returns buf to the pool if it matches the pooled unit size,
// otherwise it is a no-op (spec.md §4.2's alloc/free pairing, left to
// the garbage collector for non-pooled sizes).
func (e *Engine) Free(buf []byte) {
	if cap(buf) == e.unitBytes && e.bufPool != nil {
		e.bufPool.Put(buf[:cap(buf)])
		return
	}
	media.DMAFree(buf)
}

// Write stripes buf across level's current node and returns the
// resulting mapping pieces (spec.md §4.8).
func (e *Engine) Write(ctx context.Context, buf []byte, level int) ([]Piece, error) {
	if err := ctx.Err(); err != nil {
		return nil, zerr.Wrap("ENGINE_WRITE", err)
	}
	if level < 0 || level >= len(e.writers) {
		return nil, zerr.New("ENGINE_WRITE", zerr.CodeInvalid, "level out of range")
	}

	u := writeengine.NewUCmd(buf, level)
	start := time.Now()
	if err := e.writers[level].Enqueue(u); err != nil {
		return nil, zerr.Wrap("ENGINE_WRITE", err)
	}
	e.observer.ObserveQueueDepth(uint32(e.writers[level].QueueDepth()))
	u.Wait()
	e.observer.ObserveWrite(uint64(len(buf)), uint64(time.Since(start).Nanoseconds()), u.Err == nil)
	return u.Pieces, u.Err
}

// Read resolves a (node, offset, size) read against the device
// (spec.md §4.9).
func (e *Engine) Read(ctx context.Context, nodeID uint32, offset uint64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return zerr.Wrap("ENGINE_READ", err)
	}
	start := time.Now()
	err := e.reader.Read(nodeID, offset, buf)
	e.observer.ObserveRead(uint64(len(buf)), uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

// Trim implements the GC-driven invalidation entry point (spec.md §4.7):
// piece.Num is in sectors and must be a multiple of min_write_units; it
// is converted to min_write_units chunks and subtracted from the owning
// node's nr_valid, enqueuing a RESET job once that node is
// both FULL and fully invalid.
func (e *Engine) Trim(piece Piece) error {
	node := e.findNode(piece.NodeID)
	if node == nil {
		return zerr.New("ENGINE_TRIM", zerr.CodeInvalid, "unknown node id")
	}
	unit := uint32(e.cfg.MinWriteUnits)
	if unit == 0 || piece.Num%unit != 0 {
		return zerr.New("ENGINE_TRIM", zerr.CodeInvalid, "piece length not aligned to min_write_units")
	}
	units := int64(piece.Num / unit)
	start := time.Now()
	err := e.mgmtWorker.Invalidate(node, units)
	e.observer.ObserveTrim(uint64(piece.Num)*uint64(e.cfg.SectorBytes), uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return zerr.Wrap("ENGINE_TRIM", err)
	}
	return nil
}

// NodeFinish explicitly FINISHes every zone of nodeID and blocks until
// the management worker has processed it (spec.md §4.7's explicit-finish
// path, e.g. a file close on a node that will receive no more writes).
func (e *Engine) NodeFinish(nodeID uint32) error {
	node := e.findNode(nodeID)
	if node == nil {
		return zerr.New("ENGINE_NODE_FINISH", zerr.CodeInvalid, "unknown node id")
	}
	done := make(chan error, 1)
	start := time.Now()
	if err := e.mgmtWorker.Enqueue(mgmt.Job{Node: node, Op: mgmt.JobFinishZone, Done: done}); err != nil {
		e.observer.ObserveFinish(uint64(time.Since(start).Nanoseconds()), false)
		return zerr.Wrap("ENGINE_NODE_FINISH", err)
	}
	err := <-done
	e.observer.ObserveFinish(uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

// ReadMetadata reads raw sectors starting at slba directly from the
// device, bypassing record parsing (for diagnostics).
func (e *Engine) ReadMetadata(slba uint64, buf []byte) error {
	return e.metaIO.ReadSectors(slba, buf)
}

// WriteFileMetadata appends buf as a Base snapshot record to the
// FS-metadata log. If the current zone is full, the log switches zones
// and the caller's snapshot is retried once into the fresh zone
// (spec.md §4.6's "caller retries with a fresh Base snapshot" policy).
func (e *Engine) WriteFileMetadata(buf []byte) error {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()

	err := e.metaWriter.Append(metalog.TagBase, buf)
	if zerr.IsCode(err, zerr.CodeWriteFull) {
		err = e.metaWriter.Append(metalog.TagBase, buf)
	}
	return err
}

func (e *Engine) findNode(nodeID uint32) *provisioner.Node {
	for _, n := range e.nodes.Nodes() {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

// zoneSubmitter adapts internal/media.Device.SubmitZn to the
// mgmt.ZoneSubmitter interface, blocking the calling (management
// worker) goroutine until the submitted mcmd completes by poking its
// own async context in a loop — the same cooperative model the write
// and read engines use, just driven synchronously since only one
// zone-management job is ever in flight on this context at a time.
type zoneSubmitter struct {
	device *media.Device
	ring   *async.Context
	seq    atomic.Uint64
}

func (s *zoneSubmitter) SubmitZoneOp(op mgmt.JobOp, zone *zmd.Zone) error {
	var target media.ZnOp
	switch op {
	case mgmt.JobFinishZone:
		target = media.ZnFinish
	case mgmt.JobResetZone:
		target = media.ZnReset
	default:
		return zerr.New("ENGINE_ZONE_SUBMIT", zerr.CodeInvalidOpcode, "unsupported management job op")
	}

	done := make(chan error, 1)
	userData := s.seq.Add(1)
	if err := s.device.SubmitZn(s.ring, target, media.ZnTarget{Index: zone.Index}, userData, func(err error) {
		done <- err
	}); err != nil {
		return err
	}

	for {
		select {
		case err := <-done:
			return err
		default:
			if _, err := s.ring.Poke(); err != nil {
				return err
			}
		}
	}
}

// blockIO adapts a raw device fd to metalog.BlockIO's synchronous
// pread/pwrite contract. The FS-metadata log bypasses internal/async
// entirely: xztl's C counterpart issues a blocking xnvme_nvm_write per
// metadata record (spec.md §4.6), and a single mutex already serializes
// every Writer.Append, so there is nothing for a cooperative completion
// queue to buy here.
type blockIO struct {
	fd          int
	sectorBytes int
}

func (b *blockIO) ReadSectors(addr uint64, buf []byte) error {
	n, err := unix.Pread(b.fd, buf, int64(addr)*int64(b.sectorBytes))
	if err != nil {
		return zerr.Wrap("METALOG_IO_READ", err)
	}
	if n != len(buf) {
		return zerr.New("METALOG_IO_READ", zerr.CodeMetaIOError, "short read")
	}
	return nil
}

func (b *blockIO) WriteSectors(addr uint64, buf []byte) error {
	n, err := unix.Pwrite(b.fd, buf, int64(addr)*int64(b.sectorBytes))
	if err != nil {
		return zerr.Wrap("METALOG_IO_WRITE", err)
	}
	if n != len(buf) {
		return zerr.New("METALOG_IO_WRITE", zerr.CodeMetaIOError, "short write")
	}
	return nil
}
