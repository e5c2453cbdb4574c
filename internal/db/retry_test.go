package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: true},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, want: true},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "plain", err: errors.New("syntax"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient()=%v want %v", got, tc.want)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "questions_content_hash_key"})
	if !IsUniqueViolation(err, "questions_content_hash_key") {
		t.Fatalf("expected content hash violation")
	}
	if IsUniqueViolation(err, "questions_custom_id_key") {
		t.Fatalf("constraint name must match")
	}
	if !IsUniqueViolation(err, "") {
		t.Fatalf("empty constraint matches any unique violation")
	}
}

func TestRetrierRetriesTransientThenSucceeds(t *testing.T) {
	r := Retrier{Attempts: 3, Timeout: time.Second, Backoff: time.Millisecond}
	calls := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetrierSurfacesStoreUnavailable(t *testing.T) {
	r := Retrier{Attempts: 2, Timeout: time.Second, Backoff: time.Millisecond}
	calls := 0
	err := r.Do(context.Background(), "list questions", func(ctx context.Context) error {
		calls++
		return &pgconn.PgError{Code: "08006"}
	})
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetrierNeverRetriesBusinessErrors(t *testing.T) {
	r := Retrier{Attempts: 5, Timeout: time.Second, Backoff: time.Millisecond}
	calls := 0
	err := r.Do(context.Background(), "create", func(ctx context.Context) error {
		calls++
		return &apperr.DuplicateContentError{ExistingID: 4}
	})
	if !errors.Is(err, apperr.ErrDuplicateContent) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("business errors must not be retried, got %d calls", calls)
	}
}

type unsentErr struct{}

func (unsentErr) Error() string { return "connection refused before send" }
func (unsentErr) SafeToRetry() bool { return true }

func TestIsSafeToRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline after send", err: fmt.Errorf("insert: %w", context.DeadlineExceeded), want: false},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "never sent", err: fmt.Errorf("insert: %w", unsentErr{}), want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsSafeToRetry(tc.err); got != tc.want {
				t.Fatalf("IsSafeToRetry()=%v want %v", got, tc.want)
			}
		})
	}
}

func TestRetrierDoWriteDoesNotRepeatAmbiguousWrites(t *testing.T) {
	r := Retrier{Attempts: 3, Timeout: time.Second, Backoff: time.Millisecond}
	calls := 0
	err := r.DoWrite(context.Background(), "create question", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("insert: %w", context.DeadlineExceeded)
	})
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("a write that may have committed must not be repeated, got %d calls", calls)
	}
}

func TestRetrierDoWriteRetriesRejectedWrites(t *testing.T) {
	r := Retrier{Attempts: 3, Timeout: time.Second, Backoff: time.Millisecond}
	calls := 0
	err := r.DoWrite(context.Background(), "create paper", func(ctx context.Context) error {
		calls++
		switch calls {
		case 1:
			return &pgconn.PgError{Code: "40P01"}
		case 2:
			return unsentErr{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}
