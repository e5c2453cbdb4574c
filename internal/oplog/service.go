package oplog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/db"
	"github.com/Adam5421/SmartAIExam/internal/logger"
)

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailure = "failure"
)

type Entry struct {
	ID           int64          `json:"id"`
	UserID       string         `json:"user_id"`
	Action       string         `json:"action"`
	TargetType   string         `json:"target_type"`
	TargetIDs    []int64        `json:"target_ids"`
	Details      map[string]any `json:"details,omitempty"`
	Status       string         `json:"status"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Recorder is implemented by Service; mutating components depend on it.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

type Service struct {
	db    *sql.DB
	retry db.Retrier
	log   *logger.Logger
}

func NewService(sqlDB *sql.DB, retry db.Retrier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{db: sqlDB, retry: retry, log: log.With("component", "oplog")}
}

// StatusFor derives the entry status from per-item outcome counts.
func StatusFor(succeeded, failed int) string {
	switch {
	case failed == 0:
		return StatusSuccess
	case succeeded == 0:
		return StatusFailure
	default:
		return StatusPartial
	}
}

// Record appends one entry. It runs detached from request cancellation and
// never fails the caller: audit write errors are logged.
func (s *Service) Record(ctx context.Context, e Entry) {
	ctx = context.WithoutCancel(ctx)
	if err := s.Append(ctx, e); err != nil {
		s.log.Error("operation log write failed", "action", e.Action, "target_type", e.TargetType, "error", err)
	}
}

func (s *Service) Append(ctx context.Context, e Entry) error {
	if e.UserID == "" {
		e.UserID = "anonymous"
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}
	targets := e.TargetIDs
	if targets == nil {
		targets = []int64{}
	}
	targetsJSON, err := json.Marshal(targets)
	if err != nil {
		return fmt.Errorf("marshal target ids: %w", err)
	}
	var detailsJSON any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		detailsJSON = string(b)
	}

	return s.retry.DoWrite(ctx, "append operation log", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO operation_logs (user_id, action, target_type, target_ids, details, status, error_message, created_at)
			VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, now())
		`, e.UserID, e.Action, e.TargetType, string(targetsJSON), detailsJSON, e.Status, e.ErrorMessage)
		if err != nil {
			return fmt.Errorf("insert operation log: %w", err)
		}
		return nil
	})
}

func (s *Service) List(ctx context.Context, skip, limit int) ([]Entry, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []Entry
	err := s.retry.Do(ctx, "list operation logs", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user_id, action, target_type, target_ids, details, status, error_message, created_at
			FROM operation_logs
			ORDER BY created_at DESC, id DESC
			OFFSET $1 LIMIT $2
		`, skip, limit)
		if err != nil {
			return fmt.Errorf("query operation logs: %w", err)
		}
		defer rows.Close()

		out = make([]Entry, 0, limit)
		for rows.Next() {
			var e Entry
			var targets []byte
			var details []byte
			var errMsg sql.NullString
			if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.TargetType, &targets, &details, &e.Status, &errMsg, &e.CreatedAt); err != nil {
				return fmt.Errorf("scan operation log: %w", err)
			}
			if len(targets) > 0 {
				_ = json.Unmarshal(targets, &e.TargetIDs)
			}
			if len(details) > 0 {
				_ = json.Unmarshal(details, &e.Details)
			}
			if e.TargetIDs == nil {
				e.TargetIDs = []int64{}
			}
			if errMsg.Valid {
				e.ErrorMessage = &errMsg.String
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
