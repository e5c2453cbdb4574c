package question

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
)

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }

func TestNormalizeType(t *testing.T) {
	tests := map[string]string{
		" Single ": TypeSingle,
		"单选":       TypeSingle,
		"多选题":      TypeMulti,
		"判断":       TypeJudge,
		"简答":       TypeEssay,
		"essay":    TypeEssay,
		"matching": "matching",
	}
	for in, want := range tests {
		if got := NormalizeType(in); got != want {
			t.Fatalf("NormalizeType(%q)=%q want %q", in, got, want)
		}
	}
}

func TestViolationsListsEveryRule(t *testing.T) {
	q := Question{Content: "  ", QType: "", Difficulty: 9}
	got := Violations(q)
	if len(got) != 3 {
		t.Fatalf("expected 3 violations, got %v", got)
	}
	joined := strings.Join(got, "|")
	for _, want := range []string{"content", "q_type", "difficulty"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected a violation mentioning %s, got %v", want, got)
		}
	}
}

func TestViolationsOptionsRequiredForChoiceTypes(t *testing.T) {
	single := Question{Content: "pick one", QType: TypeSingle, Difficulty: 2}
	if v := Violations(single); len(v) != 1 || !strings.Contains(v[0], "options") {
		t.Fatalf("expected options violation, got %v", v)
	}
	judge := Question{Content: "true?", QType: TypeJudge, Difficulty: 2}
	if v := Violations(judge); len(v) != 0 {
		t.Fatalf("judge questions need no options, got %v", v)
	}
}

func TestValidateWrapsValidationError(t *testing.T) {
	err := Validate(Question{Content: "x", QType: "bogus", Difficulty: 1})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "q_type") {
		t.Fatalf("expected message to mention q_type: %v", err)
	}
}

func TestNewFromPayloadDefaultsAndDropsOptions(t *testing.T) {
	opts := []string{"A", " ", "B"}
	q := NewFromPayload(Payload{
		Content: strPtr("  Is the sky blue? "),
		QType:   strPtr("判断"),
		Options: &opts,
	})
	if q.Content != "Is the sky blue?" {
		t.Fatalf("content not trimmed: %q", q.Content)
	}
	if q.QType != TypeJudge || q.Options != nil {
		t.Fatalf("judge question must drop options: %+v", q)
	}
	if q.Difficulty != 1 || q.Score != 1 || q.Status != StatusDraft {
		t.Fatalf("unexpected defaults: %+v", q)
	}
	if q.Tags == nil || q.KnowledgePoints == nil {
		t.Fatalf("lists must be non-nil")
	}
}

func TestApplyToMergesPartialUpdate(t *testing.T) {
	q := NewFromPayload(Payload{
		Content:    strPtr("Pick one"),
		QType:      strPtr("single"),
		Options:    &[]string{"A", "B"},
		Difficulty: intPtr(2),
		Tags:       &[]string{"math", "math", "algebra"},
	})
	if len(q.Tags) != 2 {
		t.Fatalf("tags must be deduplicated: %v", q.Tags)
	}
	Payload{Difficulty: intPtr(4)}.ApplyTo(&q)
	if q.Difficulty != 4 || q.Content != "Pick one" || len(q.Options) != 2 {
		t.Fatalf("partial update clobbered fields: %+v", q)
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	q := Question{Options: []string{"A"}, Tags: []string{"t"}, Answer: strPtr("A"), ReviewedAt: &now}
	c := q.Clone()
	c.Options[0] = "Z"
	c.Tags[0] = "z"
	*c.Answer = "Z"
	if q.Options[0] != "A" || q.Tags[0] != "t" || *q.Answer != "A" {
		t.Fatalf("clone shares memory with original: %+v", q)
	}
}

func TestNewCustomIDFormat(t *testing.T) {
	now := time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)
	id := newCustomID(TypeMulti, now)
	if !strings.HasPrefix(id, "M-20240131-") || len(id) != len("M-20240131-1234") {
		t.Fatalf("unexpected custom id: %s", id)
	}
}

func TestValidateEditableStatus(t *testing.T) {
	if err := validateEditableStatus(StatusReview); err != nil {
		t.Fatalf("review must be settable: %v", err)
	}
	if err := validateEditableStatus(StatusPublished); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("published must go through review, got %v", err)
	}
}
