package services

import (
	"testing"
	"time"

	"possync/internal/core/domain"
	"possync/internal/plugins/memory"
	"possync/pkg/logging"
)

func newTestEngine(t *testing.T, opts Options, storeOpts ...memory.Option) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New(storeOpts...)
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
	}
	e := NewEngine(logging.Discard(), store, opts)
	t.Cleanup(func() { _ = e.Close() })
	return e, store
}

// next waits for a delivery whose items satisfy ok. Intermediate snapshots
// may be coalesced away, so earlier states are skipped.
func next[T any](t *testing.T, s *Stream[T], ok func(Result[T]) bool) Result[T] {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case res, open := <-s.C():
			if !open {
				t.Fatal("stream closed")
			}
			if ok(res) {
				return res
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func kindOf(t *testing.T, err error) error {
	t.Helper()
	se, ok := err.(*domain.SyncError)
	if !ok {
		t.Fatalf("expected *domain.SyncError, got %T (%v)", err, err)
	}
	return se.Kind
}
