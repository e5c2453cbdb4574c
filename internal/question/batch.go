package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/oplog"

	"golang.org/x/sync/errgroup"
)

const (
	ActionDelete           = "delete"
	ActionUpdateStatus     = "update_status"
	ActionUpdateDifficulty = "update_difficulty"
	ActionUpdateTags       = "update_tags"
)

type ItemError struct {
	Index      int    `json:"index"`
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	ExistingID *int64 `json:"existing_id,omitempty"`
}

type BatchCreateResult struct {
	Created []Question  `json:"created"`
	Failed  []ItemError `json:"failed"`
}

// BatchItem carries a per-id value, used by update_status requests that review items individually.
type BatchItem struct {
	ID      int64           `json:"id"`
	Value   json.RawMessage `json:"value,omitempty"`
	Comment string          `json:"comment,omitempty"`
}

type BatchRequest struct {
	IDs     []int64         `json:"ids"`
	Action  string          `json:"action"`
	Value   json.RawMessage `json:"value,omitempty"`
	Comment string          `json:"comment,omitempty"`
	Items   []BatchItem     `json:"items,omitempty"`
}

type BatchFailure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type BatchResult struct {
	Msg       string         `json:"msg"`
	Succeeded []int64        `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// BatchCreate creates each payload independently; one failure never blocks its siblings.
func (s *Service) BatchCreate(ctx context.Context, items []Payload, actor string) (*BatchCreateResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: questions must not be empty", apperr.ErrValidation)
	}

	out := &BatchCreateResult{Created: make([]Question, 0, len(items)), Failed: []ItemError{}}
	for i, p := range items {
		q, err := s.create(ctx, NewFromPayload(p))
		if err != nil {
			out.Failed = append(out.Failed, itemError(i, err))
			continue
		}
		out.Created = append(out.Created, *q)
	}

	ids := make([]int64, 0, len(out.Created))
	for _, q := range out.Created {
		ids = append(ids, q.ID)
	}
	details := map[string]any{"requested": len(items), "created": len(out.Created), "failed": len(out.Failed)}
	status := oplog.StatusFor(len(out.Created), len(out.Failed))
	var logErr error
	if len(out.Failed) > 0 {
		logErr = fmt.Errorf("%d of %d items failed", len(out.Failed), len(items))
	}
	s.recordStatus(ctx, actor, "batch_create", ids, details, status, logErr)
	return out, nil
}

func itemError(index int, err error) ItemError {
	out := ItemError{Index: index, Error: err.Error(), Kind: apperr.Kind(err)}
	var dup *apperr.DuplicateContentError
	if errors.As(err, &dup) && dup.ExistingID > 0 {
		id := dup.ExistingID
		out.ExistingID = &id
	}
	return out
}

type batchOp struct {
	id    int64
	apply func(ctx context.Context, id int64) error
}

// BatchOperate applies one action to every id. Per-id failures are reported
// in the result; only a structurally invalid request returns an error.
func (s *Service) BatchOperate(ctx context.Context, req BatchRequest, actor string) (*BatchResult, error) {
	action := strings.ToLower(strings.TrimSpace(req.Action))
	ops, rejected, details, err := s.planBatch(action, req)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Succeeded: []int64{}, Failed: rejected}
	if len(ops) == 0 && len(rejected) == 0 {
		result.Msg = fmt.Sprintf("No questions selected for %s", action)
		return result, nil
	}

	outcomes := make([]error, len(ops))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, op := range ops {
		g.Go(func() error {
			outcomes[i] = op.apply(gctx, op.id)
			return nil
		})
	}
	_ = g.Wait()

	for i, op := range ops {
		if outcomes[i] != nil {
			result.Failed = append(result.Failed, BatchFailure{ID: op.id, Error: outcomes[i].Error(), Kind: apperr.Kind(outcomes[i])})
			continue
		}
		result.Succeeded = append(result.Succeeded, op.id)
	}
	result.Msg = fmt.Sprintf("Batch %s completed: %d succeeded, %d failed", action, len(result.Succeeded), len(result.Failed))

	targets := make([]int64, 0, len(ops)+len(rejected))
	for _, op := range ops {
		targets = append(targets, op.id)
	}
	for _, r := range rejected {
		targets = append(targets, r.ID)
	}
	details["succeeded"] = len(result.Succeeded)
	details["failed"] = len(result.Failed)
	var logErr error
	if len(result.Failed) > 0 {
		logErr = fmt.Errorf("%d of %d ids failed", len(result.Failed), len(targets))
	}
	s.recordStatus(ctx, actor, "batch_"+action, targets, details, oplog.StatusFor(len(result.Succeeded), len(result.Failed)), logErr)
	return result, nil
}

// planBatch validates the request and builds one operation per distinct id.
func (s *Service) planBatch(action string, req BatchRequest) ([]batchOp, []BatchFailure, map[string]any, error) {
	details := map[string]any{}
	if req.Comment != "" {
		details["comment"] = req.Comment
	}

	type entry struct {
		id    int64
		value json.RawMessage
	}
	var entries []entry
	if len(req.Items) > 0 {
		if action != ActionUpdateStatus {
			return nil, nil, nil, fmt.Errorf("%w: items are only supported for update_status", apperr.ErrValidation)
		}
		for _, it := range req.Items {
			v := it.Value
			if len(v) == 0 {
				v = req.Value
			}
			entries = append(entries, entry{id: it.ID, value: v})
		}
	} else {
		for _, id := range req.IDs {
			entries = append(entries, entry{id: id, value: req.Value})
		}
	}

	var build func(raw json.RawMessage) (func(ctx context.Context, id int64) error, any, error)
	switch action {
	case "":
		return nil, nil, nil, fmt.Errorf("%w: action is required", apperr.ErrValidation)
	case ActionDelete:
		build = func(json.RawMessage) (func(ctx context.Context, id int64) error, any, error) {
			return s.deleteOne, nil, nil
		}
	case ActionUpdateDifficulty:
		build = func(raw json.RawMessage) (func(ctx context.Context, id int64) error, any, error) {
			d, err := parseDifficultyValue(raw)
			if err != nil {
				return nil, nil, err
			}
			return func(ctx context.Context, id int64) error { return s.setDifficulty(ctx, id, d) }, d, nil
		}
	case ActionUpdateTags:
		build = func(raw json.RawMessage) (func(ctx context.Context, id int64) error, any, error) {
			tags, err := parseTagsValue(raw)
			if err != nil {
				return nil, nil, err
			}
			return func(ctx context.Context, id int64) error { return s.setTags(ctx, id, tags) }, tags, nil
		}
	case ActionUpdateStatus:
		build = func(raw json.RawMessage) (func(ctx context.Context, id int64) error, any, error) {
			st, err := parseStatusValue(raw)
			if err != nil {
				return nil, nil, err
			}
			return func(ctx context.Context, id int64) error { return s.setStatus(ctx, id, st) }, st, nil
		}
	default:
		return nil, nil, nil, fmt.Errorf("%w: unknown action %q", apperr.ErrValidation, action)
	}

	// With a shared value, a bad value is a request error rather than a per-id one.
	if len(req.Items) == 0 && len(entries) > 0 {
		_, v, err := build(req.Value)
		if err != nil {
			return nil, nil, nil, err
		}
		if v != nil {
			details["value"] = v
		}
	}

	ops := make([]batchOp, 0, len(entries))
	var rejected []BatchFailure
	seen := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.id]; ok {
			continue
		}
		seen[e.id] = struct{}{}
		if e.id <= 0 {
			rejected = append(rejected, BatchFailure{ID: e.id, Error: "invalid id", Kind: "validation"})
			continue
		}
		apply, _, err := build(e.value)
		if err != nil {
			rejected = append(rejected, BatchFailure{ID: e.id, Error: err.Error(), Kind: apperr.Kind(err)})
			continue
		}
		ops = append(ops, batchOp{id: e.id, apply: apply})
	}
	if rejected == nil {
		rejected = []BatchFailure{}
	}
	return ops, rejected, details, nil
}

func (s *Service) deleteOne(ctx context.Context, id int64) error {
	return s.execOne(ctx, "batch delete question", `DELETE FROM questions WHERE id = $1`, id)
}

func (s *Service) setDifficulty(ctx context.Context, id int64, difficulty int) error {
	return s.execOne(ctx, "batch update difficulty", `UPDATE questions SET difficulty = $2, updated_at = now() WHERE id = $1`, id, difficulty)
}

func (s *Service) setTags(ctx context.Context, id int64, tags []string) error {
	b, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	return s.execOne(ctx, "batch update tags", `UPDATE questions SET tags = $2::jsonb, updated_at = now() WHERE id = $1`, id, string(b))
}

// setStatus is the administrative override; it never stamps review fields.
func (s *Service) setStatus(ctx context.Context, id int64, status string) error {
	return s.execOne(ctx, "batch update status", `UPDATE questions SET status = $2, updated_at = now() WHERE id = $1`, id, status)
}

func (s *Service) execOne(ctx context.Context, op, query string, id int64, args ...any) error {
	return s.retry.Do(ctx, op, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, append([]any{id}, args...)...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s rows affected: %w", op, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: question %d", apperr.ErrNotFound, id)
		}
		return nil
	})
}

// parseDifficultyValue accepts a JSON number or numeric string in 1..5.
func parseDifficultyValue(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: value is required for update_difficulty", apperr.ErrValidation)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, fmt.Errorf("%w: difficulty must be a number", apperr.ErrValidation)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: difficulty must be a number", apperr.ErrValidation)
		}
		n = parsed
	}
	if n != float64(int(n)) || n < 1 || n > 5 {
		return 0, fmt.Errorf("%w: difficulty must be an integer between 1 and 5", apperr.ErrValidation)
	}
	return int(n), nil
}

// parseTagsValue accepts a JSON string list or a comma separated string.
func parseTagsValue(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: value is required for update_tags", apperr.ErrValidation)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, fmt.Errorf("%w: tags must be a list of strings", apperr.ErrValidation)
		}
		list = strings.FieldsFunc(str, func(r rune) bool { return r == ',' || r == '，' })
	}
	return dedupList(list), nil
}

func parseStatusValue(raw json.RawMessage) (string, error) {
	var st string
	if err := json.Unmarshal(raw, &st); err != nil {
		return "", fmt.Errorf("%w: status must be a string", apperr.ErrValidation)
	}
	st = strings.ToLower(strings.TrimSpace(st))
	if !IsValidStatus(st) {
		return "", fmt.Errorf("%w: status %q is not recognized", apperr.ErrValidation, st)
	}
	return st, nil
}
