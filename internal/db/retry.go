package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation = "23505"
	foreignKeyError = "23503"
)

// Retrier bounds every store call with a timeout and retries transient failures with backoff.
type Retrier struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

func DefaultRetrier() Retrier {
	return Retrier{Attempts: 3, Timeout: 5 * time.Second, Backoff: 50 * time.Millisecond}
}

// Do runs fn until it succeeds, returns a non-transient error, or attempts run out.
// Exhausted transient failures surface as apperr.ErrStoreUnavailable.
func (r Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return r.run(ctx, op, fn, IsTransient)
}

// DoWrite is Do for writes that must not be applied twice, such as an INSERT.
// Only failures where the statement provably did not take effect are retried.
// Timeouts and connections lost mid-statement may hide a committed write, so
// they surface as apperr.ErrStoreUnavailable after the first attempt.
func (r Retrier) DoWrite(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return r.run(ctx, op, fn, IsSafeToRetry)
}

func (r Retrier) run(ctx context.Context, op string, fn func(ctx context.Context) error, retryable func(error) bool) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := r.Backoff << (i - 1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %v", apperr.ErrStoreUnavailable, op, ctx.Err())
			case <-time.After(wait):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if apperr.IsBusiness(err) {
			return err
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %s: %v", apperr.ErrStoreUnavailable, op, lastErr)
}

// IsSafeToRetry reports transient failures after which the statement is known
// not to have been applied: the server rejected it, or it was never sent.
func IsSafeToRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return IsTransient(err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// IsTransient reports connection loss, serialization conflicts, deadlocks and timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		case pgErr.Code == "53300", pgErr.Code == "57P01", pgErr.Code == "57P03":
			return true
		}
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUniqueViolation reports a unique constraint failure, optionally on a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyError
}
