package ztl

import "github.com/ehrlich-b/ztl/internal/constants"

// Re-exported engine-wide limits (see internal/constants for rationale).
const (
	DefaultSectorBytes   = constants.DefaultSectorBytes
	DefaultZonesPerNode  = constants.DefaultZonesPerNode
	DefaultLevelCount    = constants.DefaultLevelCount
	DefaultMinWriteUnits = constants.DefaultMinWriteUnits
	DefaultMinReadUnits  = constants.DefaultMinReadUnits
	MaxMCmd              = constants.MaxMCmd
	MaxCallbackErrCnt    = constants.MaxCallbackErrCnt
	MetaWriteMaxRetry    = constants.MetaWriteMaxRetry
	MgmtMaxRetry         = constants.MgmtMaxRetry
	ReadMaxRetry         = constants.ReadMaxRetry
	MaxPieces            = constants.MaxPieces
)
