package paper

import (
	"errors"
	"testing"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
)

func TestDecodeRuleConfig(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "types only", raw: `{"type_distribution":{"single":2,"multi":1}}`},
		{name: "with weights and tags", raw: `{"type_distribution":{"judge":3},"difficulty_distribution":{"1":0.2,"2":0.5,"3":0.3},"tags":["math"]}`},
		{name: "informational total", raw: `{"total_count":3,"type_distribution":{"essay":3}}`},
		{name: "chinese type label", raw: `{"type_distribution":{"单选":1}}`},
		{name: "unknown key", raw: `{"type_distribution":{"single":1},"shuffle":true}`, wantErr: true},
		{name: "unknown type", raw: `{"type_distribution":{"matching":1}}`, wantErr: true},
		{name: "negative count", raw: `{"type_distribution":{"single":-1,"multi":2}}`, wantErr: true},
		{name: "nothing requested", raw: `{"type_distribution":{"single":0}}`, wantErr: true},
		{name: "weights do not sum to one", raw: `{"type_distribution":{"single":1},"difficulty_distribution":{"1":0.5,"2":0.4}}`, wantErr: true},
		{name: "difficulty out of range", raw: `{"type_distribution":{"single":1},"difficulty_distribution":{"6":1}}`, wantErr: true},
		{name: "weight above one", raw: `{"type_distribution":{"single":1},"difficulty_distribution":{"1":1.5,"2":-0.5}}`, wantErr: true},
		{name: "same type twice", raw: `{"type_distribution":{"single":1,"单选":1}}`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
		{name: "not an object", raw: `[1,2]`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRuleConfig([]byte(tc.raw))
			if tc.wantErr {
				if !errors.Is(err, apperr.ErrInvalidRule) {
					t.Fatalf("expected ErrInvalidRule, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecodeRuleConfigCanonicalizes(t *testing.T) {
	cfg, err := DecodeRuleConfig([]byte(`{"type_distribution":{"多选":2},"difficulty_distribution":{" 3 ":1},"tags":[" b","a","b",""]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.TypeDistribution["multi"] != 2 {
		t.Fatalf("expected canonical type key, got %v", cfg.TypeDistribution)
	}
	if cfg.DifficultyDistribution["3"] != 1 {
		t.Fatalf("expected canonical difficulty key, got %v", cfg.DifficultyDistribution)
	}
	if len(cfg.Tags) != 2 || cfg.Tags[0] != "a" || cfg.Tags[1] != "b" {
		t.Fatalf("unexpected tags: %v", cfg.Tags)
	}
}
