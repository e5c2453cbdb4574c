package paper

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/question"
)

func published(id int64, qType string, difficulty int, tags ...string) question.Question {
	q := question.Question{
		ID:         id,
		Content:    "q",
		QType:      qType,
		Difficulty: difficulty,
		Tags:       tags,
		Status:     question.StatusPublished,
	}
	if question.RequiresOptions(qType) {
		q.Options = []string{"A", "B"}
	}
	return q
}

func mustConfig(t *testing.T, raw string) RuleConfig {
	t.Helper()
	cfg, err := DecodeRuleConfig([]byte(raw))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	return cfg
}

func testRand() Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestSelectOrdersByTypeAndNumbers(t *testing.T) {
	pool := []question.Question{
		published(3, question.TypeMulti, 2),
		published(1, question.TypeSingle, 1),
		published(2, question.TypeSingle, 4),
	}
	cfg := mustConfig(t, `{"type_distribution":{"multi":1,"single":2}}`)

	got, err := Select(pool, cfg, testRand())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(got))
	}
	wantTypes := []string{question.TypeSingle, question.TypeSingle, question.TypeMulti}
	seen := map[int64]bool{}
	for i, q := range got {
		if q.QType != wantTypes[i] {
			t.Fatalf("position %d: got %s want %s", i, q.QType, wantTypes[i])
		}
		if q.Number != i+1 {
			t.Fatalf("position %d numbered %d", i, q.Number)
		}
		if seen[q.ID] {
			t.Fatalf("question %d selected twice", q.ID)
		}
		seen[q.ID] = true
	}
}

func TestSelectReportsShortBucket(t *testing.T) {
	pool := []question.Question{
		published(1, question.TypeSingle, 1),
		published(2, question.TypeSingle, 2),
	}
	cfg := mustConfig(t, `{"type_distribution":{"single":2,"multi":1}}`)

	_, err := Select(pool, cfg, testRand())
	var insufficient *apperr.InsufficientQuestionsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected insufficient questions, got %v", err)
	}
	want := apperr.Shortfall{Type: question.TypeMulti, Difficulty: "*", Requested: 1, Available: 0}
	if len(insufficient.Shortfalls) != 1 || insufficient.Shortfalls[0] != want {
		t.Fatalf("unexpected shortfalls: %+v", insufficient.Shortfalls)
	}
}

func TestSelectReportsEveryShortDifficultyBucket(t *testing.T) {
	pool := []question.Question{
		published(1, question.TypeSingle, 1),
		published(2, question.TypeSingle, 1),
		published(3, question.TypeSingle, 2),
		published(4, question.TypeJudge, 5),
	}
	cfg := mustConfig(t, `{"type_distribution":{"single":4,"judge":2},"difficulty_distribution":{"1":0.5,"2":0.5}}`)

	_, err := Select(pool, cfg, testRand())
	var insufficient *apperr.InsufficientQuestionsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected insufficient questions, got %v", err)
	}
	want := []apperr.Shortfall{
		{Type: question.TypeSingle, Difficulty: "2", Requested: 2, Available: 1},
		{Type: question.TypeJudge, Difficulty: "1", Requested: 1, Available: 0},
		{Type: question.TypeJudge, Difficulty: "2", Requested: 1, Available: 0},
	}
	if len(insufficient.Shortfalls) != len(want) {
		t.Fatalf("unexpected shortfalls: %+v", insufficient.Shortfalls)
	}
	for i := range want {
		if insufficient.Shortfalls[i] != want[i] {
			t.Fatalf("shortfall %d: got %+v want %+v", i, insufficient.Shortfalls[i], want[i])
		}
	}
}

func TestSelectFiltersStatusAndTags(t *testing.T) {
	draft := published(1, question.TypeEssay, 3, "math")
	draft.Status = question.StatusDraft
	pool := []question.Question{
		draft,
		published(2, question.TypeEssay, 3, "history"),
		published(3, question.TypeEssay, 3, "math", "algebra"),
	}
	cfg := mustConfig(t, `{"type_distribution":{"essay":1},"tags":["math"]}`)

	got, err := Select(pool, cfg, testRand())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got[0].ID != 3 {
		t.Fatalf("expected the only published math question, got %d", got[0].ID)
	}

	cfg = mustConfig(t, `{"type_distribution":{"essay":2},"tags":["math"]}`)
	if _, err := Select(pool, cfg, testRand()); !errors.Is(err, apperr.ErrInsufficientQuestions) {
		t.Fatalf("draft questions must not count as available, got %v", err)
	}
}

func TestSelectSnapshotIsDeepCopy(t *testing.T) {
	pool := []question.Question{published(1, question.TypeSingle, 1)}
	cfg := mustConfig(t, `{"type_distribution":{"single":1}}`)

	got, err := Select(pool, cfg, testRand())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	pool[0].Options[0] = "changed"
	if got[0].Options[0] != "A" {
		t.Fatalf("snapshot shares memory with the live question")
	}
}

func TestSelectDrawsAcrossWholeBucket(t *testing.T) {
	pool := []question.Question{
		published(1, question.TypeJudge, 1),
		published(2, question.TypeJudge, 2),
		published(3, question.TypeJudge, 3),
		published(4, question.TypeJudge, 4),
	}
	cfg := mustConfig(t, `{"type_distribution":{"judge":1}}`)
	rng := rand.New(rand.NewPCG(42, 99))

	hits := map[int64]int{}
	for i := 0; i < 400; i++ {
		got, err := Select(pool, cfg, rng)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		hits[got[0].ID]++
	}
	for id := int64(1); id <= 4; id++ {
		if hits[id] < 50 {
			t.Fatalf("question %d drawn %d times out of 400", id, hits[id])
		}
	}
}
