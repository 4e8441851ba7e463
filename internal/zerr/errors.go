// Package zerr holds the structured error type shared by every ztl
// package, internal and public alike. It lives under internal so that
// internal packages (pool, media, metalog, mgmt, writeengine,
// readengine, ...) can return the same structured error the root ztl
// package re-exports, without an import cycle back through the façade.
package zerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured ztl error with context and errno mapping.
type Error struct {
	Op     string // operation that failed (e.g. "WRITE", "RESERVE", "METALOG_WRITE")
	Node   uint32 // node id (ignored if NoNode)
	NoNode bool   // true when Node does not apply
	Level  int    // level (-1 if not applicable)
	Code   ErrorCode
	Errno  syscall.Errno
	Msg    string
	Inner  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if !e.NoNode {
		parts = append(parts, fmt.Sprintf("node=%d", e.Node))
	}
	if e.Level >= 0 {
		parts = append(parts, fmt.Sprintf("level=%d", e.Level))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("ztl: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("ztl: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support, comparing by Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories from spec.md §7's taxonomy.
type ErrorCode string

const (
	CodeNoDevice       ErrorCode = "no device"
	CodeNoGeo          ErrorCode = "no geometry"
	CodeInvalid        ErrorCode = "invalid parameters"
	CodeMem            ErrorCode = "insufficient memory"
	CodeNoSpace        ErrorCode = "no space"
	CodeIOError        ErrorCode = "I/O error"
	CodeTimeout        ErrorCode = "timeout"
	CodeWriteFull      ErrorCode = "metadata zone full"
	CodeMetaIOError    ErrorCode = "metadata I/O error"
	CodeInvalidOpcode  ErrorCode = "invalid opcode"
	CodeMediaError     ErrorCode = "media submit error"
	CodeOutOfBounds    ErrorCode = "out of bounds"
	CodeNotImplemented ErrorCode = "not implemented"
)

// Sentinel errors usable with errors.Is directly.
var (
	ErrNoSpace   = &Error{Code: CodeNoSpace, NoNode: true, Level: -1, Msg: "no free node available"}
	ErrWriteFull = &Error{Code: CodeWriteFull, NoNode: true, Level: -1, Msg: "metadata log zone full"}
	ErrInvalid   = &Error{Code: CodeInvalid, NoNode: true, Level: -1, Msg: "invalid parameters"}
)

// New creates a new structured error with no node/level context.
func New(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg, NoNode: true, Level: -1}
}

// NewWithErrno creates a new structured error carrying a kernel errno.
func NewWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error(), NoNode: true, Level: -1}
}

// NewNodeError creates a node-scoped error (e.g. reservation/reclaim failures).
func NewNodeError(op string, node uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Node: node, Code: code, Msg: msg, Level: -1}
}

// NewLevelError creates a level-scoped error (e.g. write-engine failures).
func NewLevelError(op string, level int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Level: level, Code: code, Msg: msg, NoNode: true}
}

// Wrap wraps an existing error with ztl context, mapping syscall errnos to
// the taxonomy in spec.md §7.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ue, ok := inner.(*Error); ok {
		return &Error{
			Op: op, Node: ue.Node, NoNode: ue.NoNode, Level: ue.Level,
			Code: ue.Code, Errno: ue.Errno, Msg: ue.Msg, Inner: ue.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op: op, NoNode: true, Level: -1,
			Code: MapErrno(errno), Errno: errno, Msg: errno.Error(), Inner: inner,
		}
	}

	return &Error{Op: op, NoNode: true, Level: -1, Code: CodeIOError, Msg: inner.Error(), Inner: inner}
}

// MapErrno maps a syscall errno to the error taxonomy in spec.md §7.
func MapErrno(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return CodeNoDevice
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalid
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return CodeNotImplemented
	case syscall.ENOMEM, syscall.ENOSPC:
		return CodeMem
	case syscall.ETIMEDOUT:
		return CodeTimeout
	default:
		return CodeIOError
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var zerr *Error
	if errors.As(err, &zerr) {
		return zerr.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var zerr *Error
	if errors.As(err, &zerr) {
		return zerr.Errno == errno
	}
	return false
}
