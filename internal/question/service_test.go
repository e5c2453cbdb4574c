package question

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/db"
	"github.com/Adam5421/SmartAIExam/internal/db/dbtest"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestCreateDoesNotRepeatInsertAfterAmbiguousFailure(t *testing.T) {
	store := dbtest.New()
	store.On("SELECT id FROM questions WHERE content_hash", func(int, []driver.NamedValue) dbtest.Result {
		return dbtest.Result{Columns: []string{"id"}}
	})
	store.On("SELECT content_hash, id FROM questions", func(int, []driver.NamedValue) dbtest.Result {
		return dbtest.Result{Columns: []string{"content_hash", "id"}}
	})
	// The first insert may have committed before its reply was lost; a replay
	// would collide with that row.
	store.On("INSERT INTO questions", func(n int, _ []driver.NamedValue) dbtest.Result {
		if n == 1 {
			return dbtest.Result{Err: context.DeadlineExceeded}
		}
		return dbtest.Result{Err: &pgconn.PgError{Code: "23505", ConstraintName: contentHashConstraint}}
	})

	retry := db.Retrier{Attempts: 3, Timeout: time.Second, Backoff: time.Millisecond}
	svc := NewService(store.DB(), retry, nil, nil, nil, ServiceConfig{})

	_, err := svc.Create(context.Background(), Payload{
		Content: strPtr("Explain how the scheduler parks goroutines"),
		QType:   strPtr("essay"),
	}, "tester")

	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, apperr.ErrDuplicateContent) {
		t.Fatalf("the caller's own write must not be reported as a duplicate: %v", err)
	}
	if got := store.Calls("INSERT INTO questions"); got != 1 {
		t.Fatalf("expected exactly one insert, got %d", got)
	}
}

func TestCreateRetriesInsertRejectedByServer(t *testing.T) {
	store := dbtest.New()
	store.On("SELECT id FROM questions WHERE content_hash", func(int, []driver.NamedValue) dbtest.Result {
		return dbtest.Result{Columns: []string{"id"}}
	})
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	store.On("INSERT INTO questions", func(n int, args []driver.NamedValue) dbtest.Result {
		if n == 1 {
			return dbtest.Result{Err: &pgconn.PgError{Code: "40001"}}
		}
		return dbtest.Result{
			Columns: []string{"id", "content", "q_type", "options", "answer", "analysis", "difficulty", "tags", "score",
				"source_doc", "page_num", "chapter_num", "clause_num", "knowledge_points", "status", "custom_id",
				"reviewer", "review_comment", "reviewed_at", "created_at", "updated_at"},
			Rows: [][]driver.Value{{
				int64(42), args[0].Value, "essay", nil, nil, nil, int64(1), "[]", float64(1),
				nil, nil, nil, nil, "[]", StatusDraft, args[15].Value,
				nil, nil, nil, now, now,
			}},
		}
	})

	retry := db.Retrier{Attempts: 3, Timeout: time.Second, Backoff: time.Millisecond}
	svc := NewService(store.DB(), retry, nil, nil, nil, ServiceConfig{})

	q, err := svc.Create(context.Background(), Payload{
		Content: strPtr("Explain how the scheduler parks goroutines"),
		QType:   strPtr("essay"),
	}, "tester")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.ID != 42 || q.CustomID == nil {
		t.Fatalf("unexpected question %+v", q)
	}
	if got := store.Calls("INSERT INTO questions"); got != 2 {
		t.Fatalf("a serialization failure rolls back and must be retried, got %d inserts", got)
	}
}
