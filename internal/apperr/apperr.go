package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrDuplicateContent       = errors.New("duplicate content")
	ErrInsufficientQuestions  = errors.New("insufficient questions")
	ErrInvalidRule            = errors.New("invalid rule")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrUnsupported            = errors.New("unsupported")
)

// DuplicateContentError carries the id of the question already holding the content hash.
type DuplicateContentError struct {
	ExistingID int64
}

func (e *DuplicateContentError) Error() string {
	if e.ExistingID > 0 {
		return fmt.Sprintf("duplicate content: question %d has identical content", e.ExistingID)
	}
	return "duplicate content: identical question already exists"
}

func (e *DuplicateContentError) Is(target error) bool {
	return target == ErrDuplicateContent
}

type Shortfall struct {
	Type       string `json:"type"`
	Difficulty string `json:"difficulty"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
}

// InsufficientQuestionsError lists every under-supplied (type, difficulty) bucket.
type InsufficientQuestionsError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientQuestionsError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s/difficulty %s: requested %d, available %d", s.Type, s.Difficulty, s.Requested, s.Available))
	}
	return "insufficient questions: " + strings.Join(parts, "; ")
}

func (e *InsufficientQuestionsError) Is(target error) bool {
	return target == ErrInsufficientQuestions
}

// Kind returns the machine-readable error kind exposed to API clients.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDuplicateContent):
		return "duplicate_content"
	case errors.Is(err, ErrInsufficientQuestions):
		return "insufficient_questions"
	case errors.Is(err, ErrInvalidRule):
		return "invalid_rule"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	default:
		return "internal"
	}
}

// IsBusiness reports whether err is a domain outcome that must never be retried.
func IsBusiness(err error) bool {
	switch Kind(err) {
	case "", "internal", "store_unavailable":
		return false
	}
	return true
}
