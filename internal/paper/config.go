package paper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/question"
)

const weightTolerance = 1e-6

// RuleConfig is the typed generation configuration stored with a rule.
// TotalCount is informational and never enforced.
type RuleConfig struct {
	TypeDistribution       map[string]int     `json:"type_distribution"`
	DifficultyDistribution map[string]float64 `json:"difficulty_distribution,omitempty"`
	Tags                   []string           `json:"tags,omitempty"`
	TotalCount             *int               `json:"total_count,omitempty"`
}

// DecodeRuleConfig parses raw JSON, rejecting unknown keys, and validates the result.
func DecodeRuleConfig(raw json.RawMessage) (RuleConfig, error) {
	var cfg RuleConfig
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return cfg, fmt.Errorf("%w: rule config is required", apperr.ErrInvalidRule)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", apperr.ErrInvalidRule, err)
	}
	if err := cfg.Normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Normalize canonicalizes type keys and tag names and validates the config in place.
func (c *RuleConfig) Normalize() error {
	types := make(map[string]int, len(c.TypeDistribution))
	requested := 0
	for key, n := range c.TypeDistribution {
		t := question.NormalizeType(key)
		if !question.IsValidType(t) {
			return fmt.Errorf("%w: unknown question type %q", apperr.ErrInvalidRule, key)
		}
		if _, dup := types[t]; dup {
			return fmt.Errorf("%w: question type %q listed twice", apperr.ErrInvalidRule, t)
		}
		if n < 0 {
			return fmt.Errorf("%w: count for %s must be non-negative", apperr.ErrInvalidRule, t)
		}
		types[t] = n
		requested += n
	}
	if requested == 0 {
		return fmt.Errorf("%w: type_distribution must request at least one question", apperr.ErrInvalidRule)
	}
	c.TypeDistribution = types

	if len(c.DifficultyDistribution) > 0 {
		weights := make(map[string]float64, len(c.DifficultyDistribution))
		sum := 0.0
		for key, w := range c.DifficultyDistribution {
			d, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil || d < 1 || d > 5 {
				return fmt.Errorf("%w: unknown difficulty %q", apperr.ErrInvalidRule, key)
			}
			if math.IsNaN(w) || w < 0 || w > 1 {
				return fmt.Errorf("%w: weight for difficulty %d must be within [0,1]", apperr.ErrInvalidRule, d)
			}
			canonical := strconv.Itoa(d)
			if _, dup := weights[canonical]; dup {
				return fmt.Errorf("%w: difficulty %d listed twice", apperr.ErrInvalidRule, d)
			}
			weights[canonical] = w
			sum += w
		}
		if math.Abs(sum-1) > weightTolerance {
			return fmt.Errorf("%w: difficulty weights sum to %g, want 1", apperr.ErrInvalidRule, sum)
		}
		c.DifficultyDistribution = weights
	}

	if c.TotalCount != nil && *c.TotalCount < 0 {
		return fmt.Errorf("%w: total_count must be non-negative", apperr.ErrInvalidRule)
	}
	c.Tags = cleanTags(c.Tags)
	return nil
}

// requestedTypes lists types with a positive count in paper order.
func (c RuleConfig) requestedTypes() []string {
	out := make([]string, 0, len(c.TypeDistribution))
	for _, t := range question.Types {
		if c.TypeDistribution[t] > 0 {
			out = append(out, t)
		}
	}
	return out
}

// difficultyWeights returns weights keyed by level, or nil when unconstrained.
func (c RuleConfig) difficultyWeights() map[int]float64 {
	if len(c.DifficultyDistribution) == 0 {
		return nil
	}
	out := make(map[int]float64, len(c.DifficultyDistribution))
	for key, w := range c.DifficultyDistribution {
		d, _ := strconv.Atoi(key)
		out[d] = w
	}
	return out
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
