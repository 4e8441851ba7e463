// Package constants holds engine-wide limits shared across ztl's internal
// packages, mirroring spec.md's enumerated configuration and named retry
// bounds (MAX_MCMD, MAX_CALLBACK_ERR_CNT, META_WRITE_MAX_RETRY, ...).
package constants

const (
	// DefaultSectorBytes is the media's minimum addressable unit.
	DefaultSectorBytes = 4096

	// DefaultZonesPerNode is N, the striping width of a node.
	DefaultZonesPerNode = 64

	// DefaultLevelCount is L, the number of per-level write queues.
	DefaultLevelCount = 5

	// DefaultMinWriteUnits/DefaultMinReadUnits are the media's minimum
	// multi-sector write/read granularity.
	DefaultMinWriteUnits = 8
	DefaultMinReadUnits  = 8

	// MaxMCmd bounds how many media commands a single UCmd may split into
	// (ncmd in spec.md §4.8's write-engine loop).
	MaxMCmd = 4096

	// MaxCallbackErrCnt bounds per-mcmd retry attempts inside a completion
	// callback before the error is surfaced to the owning UCmd.
	MaxCallbackErrCnt = 3

	// MetaWriteMaxRetry bounds FS-metadata log write retries on submit error.
	MetaWriteMaxRetry = 3

	// MgmtMaxRetry bounds management-worker FINISH/RESET retries.
	MgmtMaxRetry = 3

	// ReadMaxRetry is the reference read-retry bound. Engine.Read does not
	// consult it and does not retry; per-mcmd read retries in
	// internal/readengine are bounded by Config.ReadRetryMax instead.
	ReadMaxRetry = 3

	// SubmitBatchSize is how many media submissions the write engine
	// accumulates before poking the async context to drain completions.
	SubmitBatchSize = 8

	// RingDepth is the default per-level/per-read-resource async context depth.
	RingDepth = 128

	// MaxPieces is the maximum number of mapping pieces a single write can
	// return (spec.md §3, UCmd's per-piece mapping output array).
	MaxPieces = 2
)
