package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	path := DocumentPath("menu_items", "latte")
	tests := []struct {
		name      string
		op        string
		err       error
		kind      error
		transient bool
	}{
		{"not found sentinel", "get", fmt.Errorf("lookup: %w", ErrNotFound), ErrNotFound, false},
		{"decoding sentinel", "get", ErrDecoding, ErrDecoding, false},
		{"conflict", "transact", ErrTransactionConflict, ErrTransactionConflict, false},
		{"batch too large", "batch", ErrBatchTooLarge, ErrBatchTooLarge, false},
		{"transport unavailable", "get", fmt.Errorf("%w: %w", ErrTransport, ErrUnavailable), ErrTransport, true},
		{"invalid path on write", "set", ErrInvalidPath, ErrWriteFailed, false},
		{"invalid path on read", "get", ErrInvalidPath, ErrNotFound, false},
		{"deadline", "get", context.DeadlineExceeded, ErrTransport, true},
		{"cancel", "set", context.Canceled, ErrTransport, false},
		{"eof", "query", io.EOF, ErrTransport, true},
		{"refused", "set", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), ErrTransport, true},
		{"net error", "set", timeoutErr{}, ErrTransport, true},
		{"unknown on write", "delete", errors.New("boom"), ErrWriteFailed, false},
		{"unknown on read", "watch", errors.New("boom"), ErrTransport, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(tt.op, path, tt.err)
			var se *SyncError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SyncError, got %T", err)
			}
			if se.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", se.Kind, tt.kind)
			}
			if se.Transient != tt.transient {
				t.Fatalf("transient = %v, want %v", se.Transient, tt.transient)
			}
			if !errors.Is(err, tt.kind) {
				t.Fatal("errors.Is does not reach the kind")
			}
			if !errors.Is(err, tt.err) {
				t.Fatal("errors.Is does not reach the cause")
			}
			if Transient(err) != tt.transient {
				t.Fatalf("Transient() = %v", Transient(err))
			}
		})
	}
}

func TestClassifyIdempotent(t *testing.T) {
	first := Classify("set", DocumentPath("staff", "a"), errors.New("boom"))
	second := Classify("get", ResourcePath{}, first)
	if first != second {
		t.Fatal("classifying a SyncError must return it unchanged")
	}
	if Classify("get", ResourcePath{}, nil) != nil {
		t.Fatal("nil stays nil")
	}
}

func TestSyncErrorMessage(t *testing.T) {
	err := NewError("get", DocumentPath("staff", "a"), ErrNotFound, nil)
	if got, want := err.Error(), "get staff/a: not found"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if err.KindName() != "not_found" {
		t.Fatalf("kind name %q", err.KindName())
	}
	wrapped := NewError("batch", ResourcePath{}, ErrBatchTooLarge, errors.New("501 writes"))
	if got, want := wrapped.Error(), "batch: batch too large: 501 writes"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
