package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "wrapped validation", err: fmt.Errorf("%w: difficulty must be 1..5", ErrValidation), want: "validation"},
		{name: "duplicate struct", err: &DuplicateContentError{ExistingID: 7}, want: "duplicate_content"},
		{name: "insufficient struct", err: &InsufficientQuestionsError{}, want: "insufficient_questions"},
		{name: "store", err: fmt.Errorf("list: %w", ErrStoreUnavailable), want: "store_unavailable"},
		{name: "plain", err: errors.New("boom"), want: "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Kind(tc.err); got != tc.want {
				t.Fatalf("Kind()=%q want %q", got, tc.want)
			}
		})
	}
}

func TestInsufficientQuestionsMessageListsBuckets(t *testing.T) {
	err := &InsufficientQuestionsError{Shortfalls: []Shortfall{
		{Type: "multi", Difficulty: "*", Requested: 1, Available: 0},
		{Type: "single", Difficulty: "3", Requested: 4, Available: 2},
	}}
	want := "insufficient questions: multi/difficulty *: requested 1, available 0; single/difficulty 3: requested 4, available 2"
	if err.Error() != want {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if !errors.Is(fmt.Errorf("generate: %w", err), ErrInsufficientQuestions) {
		t.Fatalf("expected wrapped error to match sentinel")
	}
}

func TestIsBusiness(t *testing.T) {
	if IsBusiness(ErrStoreUnavailable) {
		t.Fatalf("store errors are retryable")
	}
	if !IsBusiness(&DuplicateContentError{ExistingID: 1}) {
		t.Fatalf("duplicate content is a business error")
	}
	if IsBusiness(errors.New("io")) {
		t.Fatalf("unknown errors are not business errors")
	}
}
