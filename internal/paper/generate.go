package paper

import (
	"sort"
	"strconv"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/question"
)

// anyDifficulty marks a bucket that spans every difficulty of its type.
const anyDifficulty = 0

// Rand is the randomness a draw needs; *math/rand/v2.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

// SnapshotQuestion is a question frozen into a paper at generation time.
type SnapshotQuestion struct {
	Number int `json:"number"`
	question.Question
}

type bucket struct {
	qType      string
	difficulty int
	count      int
}

func (b bucket) label() string {
	if b.difficulty == anyDifficulty {
		return "*"
	}
	return strconv.Itoa(b.difficulty)
}

// planBuckets expands a rule into per (type, difficulty) requests in paper order.
func planBuckets(cfg RuleConfig) []bucket {
	weights := cfg.difficultyWeights()
	var out []bucket
	for _, t := range cfg.requestedTypes() {
		n := cfg.TypeDistribution[t]
		if weights == nil {
			out = append(out, bucket{qType: t, difficulty: anyDifficulty, count: n})
			continue
		}
		split := Apportion(n, weights)
		levels := make([]int, 0, len(split))
		for level := range split {
			levels = append(levels, level)
		}
		sort.Ints(levels)
		for _, level := range levels {
			if split[level] > 0 {
				out = append(out, bucket{qType: t, difficulty: level, count: split[level]})
			}
		}
	}
	return out
}

// Select draws the questions a rule asks for from pool. Every bucket is
// checked before anything is drawn; any shortfall fails the whole selection.
// The pool is filtered to published questions matching the rule's tags.
func Select(pool []question.Question, cfg RuleConfig, rng Rand) ([]SnapshotQuestion, error) {
	eligible := eligibleByBucket(pool, cfg.Tags)
	plan := planBuckets(cfg)

	var shortfalls []apperr.Shortfall
	for _, b := range plan {
		if available := len(eligible[bucketKey(b.qType, b.difficulty)]); available < b.count {
			shortfalls = append(shortfalls, apperr.Shortfall{
				Type:       b.qType,
				Difficulty: b.label(),
				Requested:  b.count,
				Available:  available,
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, &apperr.InsufficientQuestionsError{Shortfalls: shortfalls}
	}

	out := make([]SnapshotQuestion, 0)
	for _, b := range plan {
		for _, q := range draw(eligible[bucketKey(b.qType, b.difficulty)], b.count, rng) {
			out = append(out, SnapshotQuestion{Number: len(out) + 1, Question: q.Clone()})
		}
	}
	return out, nil
}

func bucketKey(qType string, difficulty int) string {
	return qType + "/" + strconv.Itoa(difficulty)
}

// eligibleByBucket indexes eligible questions both by exact difficulty and
// under anyDifficulty, each list ordered by id.
func eligibleByBucket(pool []question.Question, tags []string) map[string][]question.Question {
	wanted := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		wanted[t] = struct{}{}
	}
	sorted := append([]question.Question(nil), pool...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	out := make(map[string][]question.Question)
	seen := make(map[int64]struct{}, len(sorted))
	for _, q := range sorted {
		if q.Status != question.StatusPublished {
			continue
		}
		if _, dup := seen[q.ID]; dup {
			continue
		}
		if len(wanted) > 0 && !hasAnyTag(q.Tags, wanted) {
			continue
		}
		seen[q.ID] = struct{}{}
		out[bucketKey(q.QType, q.Difficulty)] = append(out[bucketKey(q.QType, q.Difficulty)], q)
		out[bucketKey(q.QType, anyDifficulty)] = append(out[bucketKey(q.QType, anyDifficulty)], q)
	}
	return out
}

func hasAnyTag(tags []string, wanted map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := wanted[t]; ok {
			return true
		}
	}
	return false
}

// draw picks n distinct items uniformly with a partial Fisher-Yates shuffle.
func draw(items []question.Question, n int, rng Rand) []question.Question {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	out := make([]question.Question, 0, n)
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
		out = append(out, items[idx[i]])
	}
	return out
}
