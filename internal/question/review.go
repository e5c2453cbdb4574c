package question

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
)

type ReviewInput struct {
	Status   string
	Comment  string
	Reviewer string
}

// checkReviewTarget rejects targets the review transition can never reach.
func checkReviewTarget(target string) error {
	if target != StatusPublished && target != StatusDisabled {
		return fmt.Errorf("%w: review status must be published or disabled", apperr.ErrValidation)
	}
	return nil
}

// checkReviewTransition guards a review of a question currently in status current.
func checkReviewTransition(current, target, comment string) error {
	if err := checkReviewTarget(target); err != nil {
		return err
	}
	if current != StatusReview {
		return fmt.Errorf("%w: question is %s, only questions in review can be reviewed", apperr.ErrInvalidStateTransition, current)
	}
	if target == StatusDisabled && strings.TrimSpace(comment) == "" {
		return fmt.Errorf("%w: a comment is required when disabling a question", apperr.ErrValidation)
	}
	return nil
}

// Review moves a question out of review and stamps reviewer, reviewed_at and review_comment.
func (s *Service) Review(ctx context.Context, id int64, in ReviewInput, actor string) (*Question, error) {
	target := strings.ToLower(strings.TrimSpace(in.Status))
	comment := strings.TrimSpace(in.Comment)
	reviewer := strings.TrimSpace(in.Reviewer)
	if reviewer == "" {
		reviewer = actor
	}

	details := map[string]any{"status": target, "reviewer": reviewer}
	if comment != "" {
		details["comment"] = comment
	}

	if err := checkReviewTarget(target); err != nil {
		s.record(ctx, actor, "review", []int64{id}, details, err)
		return nil, err
	}

	var out *Question
	err := s.retry.Do(ctx, "review question", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var current string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM questions WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
			if isNoRows(err) {
				return fmt.Errorf("%w: question %d", apperr.ErrNotFound, id)
			}
			return fmt.Errorf("load question status: %w", err)
		}
		if err := checkReviewTransition(current, target, comment); err != nil {
			return err
		}

		updated, err := scanQuestion(tx.QueryRowContext(ctx, `
			UPDATE questions
			SET status = $2, reviewer = $3, review_comment = NULLIF($4, ''), reviewed_at = now(), updated_at = now()
			WHERE id = $1
			RETURNING `+questionColumns,
			id, target, reviewer, comment,
		))
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		out = updated
		return nil
	})

	s.record(ctx, actor, "review", []int64{id}, details, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}
