package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"possync/internal/core/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapErr(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      error
		transient bool
	}{
		{"no rows", sql.ErrNoRows, domain.ErrNotFound, false},
		{"insufficient privilege", &pgconn.PgError{Code: "42501"}, domain.ErrPermissionDenied, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, domain.ErrTransactionConflict, false},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, domain.ErrTransactionConflict, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, domain.ErrWriteFailed, false},
		{"invalid json", &pgconn.PgError{Code: "22P02"}, domain.ErrWriteFailed, false},
		{"connection failure", &pgconn.PgError{Code: "08006"}, domain.ErrTransport, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, domain.ErrTransport, true},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), domain.ErrTransport, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.Classify("set", domain.DocumentPath("staff", "x"), mapErr(tt.err))
			if !errors.Is(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			if domain.Transient(got) != tt.transient {
				t.Fatalf("transient = %v, want %v", domain.Transient(got), tt.transient)
			}
			var pgErr *pgconn.PgError
			if _, isPg := tt.err.(*pgconn.PgError); isPg && !errors.As(got, &pgErr) {
				t.Fatal("driver error no longer reachable through errors.As")
			}
		})
	}
}

func TestMapErrPassesContextErrors(t *testing.T) {
	if got := mapErr(context.Canceled); !errors.Is(got, context.Canceled) {
		t.Fatalf("got %v", got)
	}
	if mapErr(nil) != nil {
		t.Fatal("nil should stay nil")
	}
}
