// Package media implements the media abstraction (C1): a uniform submit
// surface for read, write, append, and zone-management operations, plus
// device URI parsing and geometry exposure.
//
// Grounded on the teacher's internal/ctrl + internal/uring split (a
// control-plane command submission path and a data-plane queue), adapted
// from ublk's ioctl/URING_CMD surface to ZNS read/write/append/zone-mgmt
// mcmds riding on internal/async.
package media

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ehrlich-b/ztl/internal/async"
	"github.com/ehrlich-b/ztl/internal/zerr"
	"github.com/ehrlich-b/ztl/internal/zmd"
)

// Backend names accepted in a block-path URI's ?be= query parameter.
// Only the shape is meaningful (spec.md §4.1) — ZTL's own async context
// always drives completions cooperatively regardless of which name is
// requested; the parsed value is surfaced for logging/diagnostics.
const (
	BackendThreadPool = "thrpool"
	BackendIOUring    = "io_uring"
	BackendIOUringCmd = "io_uring_cmd"
	BackendLibAIO     = "libaio"
)

// Geometry describes device layout, exposed by the media abstraction.
type Geometry struct {
	Groups         int
	PUsPerGroup    int
	ZonesPerPU     int
	SectorsPerZone uint64
	BytesPerSector int

	TotalZones   int
	TotalSectors uint64
}

// URI is the parsed form of a device URI (spec.md §4.1): either a
// block/char path with an optional backend hint, or a "pci:<bbdf>?nsid=<n>"
// form addressing an NVMe controller directly.
type URI struct {
	Raw       string
	IsPCI     bool
	Path      string // block/char path form
	Backend   string // be= query value, block/char form only
	BDF       string // bus:device.function, pci form
	Namespace int    // nsid, pci form
}

// ParseURI parses a device URI per spec.md §4.1's two accepted shapes.
func ParseURI(raw string) (URI, error) {
	if strings.HasPrefix(raw, "pci:") {
		rest := strings.TrimPrefix(raw, "pci:")
		bdf, query, _ := strings.Cut(rest, "?")
		if bdf == "" {
			return URI{}, zerr.New("MEDIA_PARSE_URI", zerr.CodeInvalid, "pci uri missing bus:device.function")
		}
		values, err := url.ParseQuery(query)
		if err != nil {
			return URI{}, zerr.Wrap("MEDIA_PARSE_URI", err)
		}
		nsid := 1
		if v := values.Get("nsid"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return URI{}, zerr.New("MEDIA_PARSE_URI", zerr.CodeInvalid, "nsid is not an integer")
			}
			nsid = n
		}
		return URI{Raw: raw, IsPCI: true, BDF: bdf, Namespace: nsid}, nil
	}

	path, query, _ := strings.Cut(raw, "?")
	if path == "" {
		return URI{}, zerr.New("MEDIA_PARSE_URI", zerr.CodeInvalid, "empty device path")
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return URI{}, zerr.Wrap("MEDIA_PARSE_URI", err)
	}
	backend := values.Get("be")
	if backend == "" {
		backend = BackendThreadPool
	}
	return URI{Raw: raw, Path: path, Backend: backend}, nil
}

// ZnOp identifies a zone-management submission (spec.md §4.1 submit_zn).
type ZnOp uint8

const (
	ZnOpen ZnOp = iota
	ZnClose
	ZnFinish
	ZnReset
	ZnReport
)

// ZnTarget names the zone a zone-management command acts on. SubmitZn
// uses Index only; the All flag is carried but not acted on.
type ZnTarget struct {
	All   bool
	Index uint32
}

// Device is the media abstraction's concrete implementation: it owns a
// backend file descriptor, the parsed URI and geometry, and submits
// mcmds through a caller-supplied async.Context.
type Device struct {
	uri      URI
	geometry Geometry
	fd       int
}

// Open parses uri, opens the backend (delegated to the backend package
// the caller selects, e.g. backend/nullzns or backend/file), and wraps
// the resulting fd with the reported geometry.
func Open(uri string, fd int, geom Geometry) (*Device, error) {
	parsed, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	geom.TotalZones = geom.Groups * geom.PUsPerGroup * geom.ZonesPerPU
	geom.TotalSectors = uint64(geom.TotalZones) * geom.SectorsPerZone
	return &Device{uri: parsed, geometry: geom, fd: fd}, nil
}

// Geometry returns the device's reported geometry.
func (d *Device) Geometry() Geometry { return d.geometry }

// URI returns the parsed device URI.
func (d *Device) URI() URI { return d.uri }

// FD returns the backend file descriptor mcmds are submitted against.
func (d *Device) FD() int { return d.fd }

// SubmitIO implements submit_io(mcmd): dispatches READ, WRITE, or APPEND
// asynchronously through ctx, invoking cb on completion with the number
// of bytes transferred (or a negative errno via err). Opcode validation
// happens in the caller (internal/writeengine / internal/readengine),
// which builds async.Request values with the right Op; SubmitIO here
// only rejects an async.Op outside the read/write/append range.
func (d *Device) SubmitIO(ctx *async.Context, op async.Op, addr uint64, dma []byte, userData uint64, cb func(n int, err error)) error {
	if op != async.OpRead && op != async.OpWrite && op != async.OpAppend {
		return zerr.New("MEDIA_SUBMIT_IO", zerr.CodeInvalidOpcode, "opcode is not READ/WRITE/APPEND")
	}

	req := async.Request{
		Op:       op,
		FD:       d.fd,
		Offset:   addr * uint64(d.geometry.BytesPerSector),
		Buf:      dma,
		UserData: userData,
	}

	err := ctx.Submit(req, func(c async.Completion) {
		if c.Res < 0 {
			cb(0, zerr.New("MEDIA_SUBMIT_IO", zerr.CodeMediaError, fmt.Sprintf("media submit failed, res=%d", c.Res)))
			return
		}
		cb(int(c.Res), nil)
	})
	if err != nil {
		return zerr.Wrap("MEDIA_SUBMIT_IO", err)
	}
	return nil
}

// SubmitZn implements submit_zn(zn_mcmd) for OPEN/CLOSE/FINISH/RESET.
// FINISH and RESET are routed through the async context like data-plane
// mcmds so the management worker (C7) shares the same cooperative
// completion model. They act on the single zone at target.Index only;
// target.All is not read, so there is no device-wide form. ZnReport is
// rejected with InvalidOpcode; zone reports are built by Report.
func (d *Device) SubmitZn(ctx *async.Context, op ZnOp, target ZnTarget, userData uint64, cb func(err error)) error {
	switch op {
	case ZnFinish, ZnReset:
		rop := async.OpFinish
		if op == ZnReset {
			rop = async.OpReset
		}
		req := async.Request{
			Op:        rop,
			FD:        d.fd,
			Offset:    uint64(target.Index) * d.geometry.SectorsPerZone * uint64(d.geometry.BytesPerSector),
			UserData:  userData,
			ZoneIndex: int(target.Index),
		}
		if err := ctx.Submit(req, func(c async.Completion) {
			if c.Res < 0 {
				cb(zerr.New("MEDIA_SUBMIT_ZN", zerr.CodeMediaError, fmt.Sprintf("zone management submit failed, res=%d", c.Res)))
				return
			}
			cb(nil)
		}); err != nil {
			return zerr.Wrap("MEDIA_SUBMIT_ZN", err)
		}
		return nil
	case ZnOpen, ZnClose:
		cb(nil) // ZNS open/close has no durable side effect the façade depends on
		return nil
	default:
		return zerr.New("MEDIA_SUBMIT_ZN", zerr.CodeInvalidOpcode, "use Report for ZnReport")
	}
}

// Report builds a device zone report (spec.md §4.4) from the backend's
// reported zone states. The returned slice is caller-owned, matching
// spec.md §4.1's "REPORT returns a newly-allocated descriptor vector
// owned by the caller" contract — there is no separate free call in Go,
// the slice is simply garbage collected.
func (d *Device) Report(states []zmd.Report) []zmd.Report {
	out := make([]zmd.Report, len(states))
	copy(out, states)
	return out
}
