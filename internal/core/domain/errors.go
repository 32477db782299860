package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Closed taxonomy surfaced to callers. Every error leaving the engine wraps
// exactly one of these.
var (
	ErrNotFound            = errors.New("not found")
	ErrDecoding            = errors.New("decoding error")
	ErrWriteFailed         = errors.New("write failed")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrTransport           = errors.New("transport error")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrBatchTooLarge       = errors.New("batch too large")
)

var kinds = []error{
	ErrNotFound,
	ErrDecoding,
	ErrWriteFailed,
	ErrPermissionDenied,
	ErrTransport,
	ErrTransactionConflict,
	ErrBatchTooLarge,
}

// SyncError wraps a transport or codec failure with operation context.
type SyncError struct {
	Op        string       // "get", "set", "delete", "query", "watch", "batch", "transact"
	Path      ResourcePath // may be zero for batch
	Kind      error        // one of the taxonomy sentinels
	Transient bool         // safe to retry with backoff; only meaningful for ErrTransport
	Err       error        // underlying cause, may be nil
}

func (e *SyncError) Error() string {
	where := e.Op
	if e.Path.Collection != "" {
		where += " " + e.Path.Key()
	}
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("%s: %v", where, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", where, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName is the stable wire name of the taxonomy member.
func (e *SyncError) KindName() string {
	switch e.Kind {
	case ErrNotFound:
		return "not_found"
	case ErrDecoding:
		return "decoding_error"
	case ErrWriteFailed:
		return "write_failed"
	case ErrPermissionDenied:
		return "permission_denied"
	case ErrTransport:
		return "transport_error"
	case ErrTransactionConflict:
		return "transaction_conflict"
	case ErrBatchTooLarge:
		return "batch_too_large"
	}
	return "unknown"
}

// Transient returns true if err is a transport failure marked safe to retry.
func Transient(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind == ErrTransport && se.Transient
	}
	return false
}

// NewError builds a SyncError of the given kind.
func NewError(op string, path ResourcePath, kind error, cause error) *SyncError {
	return &SyncError{Op: op, Path: path, Kind: kind, Err: cause}
}

// ErrUnavailable marks a connectivity failure reported by a store plugin as retryable.
var ErrUnavailable = errors.New("store unavailable")

func isWriteOp(op string) bool {
	switch op {
	case "create", "update", "set", "delete", "batch", "transact":
		return true
	}
	return false
}

// Classify translates any error into the closed taxonomy. It is idempotent:
// a *SyncError passes through untouched.
func Classify(op string, path ResourcePath, err error) error {
	if err == nil {
		return nil
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	out := &SyncError{Op: op, Path: path, Err: err}
	for _, k := range kinds {
		if errors.Is(err, k) {
			out.Kind = k
			out.Transient = k == ErrTransport && errors.Is(err, ErrUnavailable)
			return out
		}
	}
	switch {
	case errors.Is(err, ErrInvalidPath):
		out.Kind = ErrWriteFailed
		if !isWriteOp(op) {
			out.Kind = ErrNotFound
		}
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		out.Kind, out.Transient = ErrTransport, true
	case errors.Is(err, context.Canceled):
		out.Kind = ErrTransport
	default:
		var ne net.Error
		if errors.As(err, &ne) {
			out.Kind, out.Transient = ErrTransport, true
		} else if isWriteOp(op) {
			out.Kind = ErrWriteFailed
		} else {
			out.Kind = ErrTransport
		}
	}
	return out
}
