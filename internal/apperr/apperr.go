// Package apperr defines the error kinds surfaced by the lifecycle engine.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

// Kind classifies an error for callers that decide on retry or reporting.
type Kind string

const (
	KindUnknown     Kind = "unknown"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindIO          Kind = "io"
	KindIntegrity   Kind = "integrity"
	KindLockTimeout Kind = "lock_timeout"
	KindCancelled   Kind = "cancelled"
	KindInvalid     Kind = "invalid"
	KindForbidden   Kind = "forbidden"
)

// Error carries a kind, the failing operation and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
	// Transient is only meaningful for KindIO: true when the failure is
	// likely to clear on its own (share unreachable), false for disk full etc.
	Transient bool
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. A nil err yields nil.
func Wrap(err error, kind Kind, op, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

func Conflict(op, format string, args ...any) *Error {
	return New(KindConflict, op, format, args...)
}

func Integrity(op, format string, args ...any) *Error {
	return New(KindIntegrity, op, format, args...)
}

func Invalid(op, format string, args ...any) *Error {
	return New(KindInvalid, op, format, args...)
}

func Forbidden(op, format string, args ...any) *Error {
	return New(KindForbidden, op, format, args...)
}

func LockTimeout(op, format string, args ...any) *Error {
	return New(KindLockTimeout, op, format, args...)
}

// Cancelled wraps the context error that stopped op.
func Cancelled(op string, err error) *Error {
	if err == nil {
		err = context.Canceled
	}
	return &Error{Kind: KindCancelled, Op: op, Err: err}
}

// IO wraps a filesystem error and records whether it looks transient.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindIO, Op: op, Err: err, Transient: isTransientIO(err)}
}

var permanentErrnos = []syscall.Errno{
	syscall.ENOSPC,
	syscall.EDQUOT,
	syscall.EROFS,
	syscall.EACCES,
	syscall.EPERM,
	syscall.ENOENT,
	syscall.ENOTDIR,
	syscall.EISDIR,
	syscall.ENAMETOOLONG,
	syscall.EFBIG,
}

var transientErrnos = []syscall.Errno{
	syscall.EAGAIN,
	syscall.EBUSY,
	syscall.EINTR,
	syscall.ETIMEDOUT,
	syscall.EHOSTDOWN,
	syscall.EHOSTUNREACH,
	syscall.ENETDOWN,
	syscall.ENETUNREACH,
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ESTALE,
	syscall.EIO,
}

func isTransientIO(err error) bool {
	for _, errno := range permanentErrnos {
		if errors.Is(err, errno) {
			return false
		}
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether a caller may retry the same operation.
func IsRetryable(err error) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Kind {
	case KindConflict, KindLockTimeout:
		return true
	case KindIO:
		return ae.Transient
	}
	return false
}
