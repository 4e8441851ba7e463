package ztl

import (
	"syscall"

	"github.com/ehrlich-b/ztl/internal/zerr"
)

// Error is the structured error type returned across the public façade.
// See internal/zerr for the implementation shared with every internal
// package, so a *ztl.Error returned from the public API and one returned
// from deep inside the write engine are the same concrete type.
type Error = zerr.Error

// ErrorCode represents high-level error categories from spec.md §7's taxonomy.
type ErrorCode = zerr.ErrorCode

const (
	CodeNoDevice       = zerr.CodeNoDevice
	CodeNoGeo          = zerr.CodeNoGeo
	CodeInvalid        = zerr.CodeInvalid
	CodeMem            = zerr.CodeMem
	CodeNoSpace        = zerr.CodeNoSpace
	CodeIOError        = zerr.CodeIOError
	CodeTimeout        = zerr.CodeTimeout
	CodeWriteFull      = zerr.CodeWriteFull
	CodeMetaIOError    = zerr.CodeMetaIOError
	CodeInvalidOpcode  = zerr.CodeInvalidOpcode
	CodeMediaError     = zerr.CodeMediaError
	CodeOutOfBounds    = zerr.CodeOutOfBounds
	CodeNotImplemented = zerr.CodeNotImplemented
)

// Sentinel errors usable with errors.Is directly.
var (
	ErrNoSpace   = zerr.ErrNoSpace
	ErrWriteFull = zerr.ErrWriteFull
	ErrInvalid   = zerr.ErrInvalid
)

// NewError creates a new structured error with no node/level context.
func NewError(op string, code ErrorCode, msg string) *Error { return zerr.New(op, code, msg) }

// NewErrorWithErrno creates a new structured error carrying a kernel errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return zerr.NewWithErrno(op, code, errno)
}

// NewNodeError creates a node-scoped error (e.g. reservation/reclaim failures).
func NewNodeError(op string, node uint32, code ErrorCode, msg string) *Error {
	return zerr.NewNodeError(op, node, code, msg)
}

// NewLevelError creates a level-scoped error (e.g. write-engine failures).
func NewLevelError(op string, level int, code ErrorCode, msg string) *Error {
	return zerr.NewLevelError(op, level, code, msg)
}

// WrapError wraps an existing error with ztl context, mapping syscall
// errnos to the taxonomy in spec.md §7.
func WrapError(op string, inner error) *Error { return zerr.Wrap(op, inner) }

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool { return zerr.IsCode(err, code) }

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool { return zerr.IsErrno(err, errno) }

// mapErrnoToCode maps a syscall errno to the error taxonomy in spec.md §7.
func mapErrnoToCode(errno syscall.Errno) ErrorCode { return zerr.MapErrno(errno) }
