package paper

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/db"
	"github.com/Adam5421/SmartAIExam/internal/logger"
	"github.com/Adam5421/SmartAIExam/internal/oplog"
	"github.com/Adam5421/SmartAIExam/internal/question"
)

const (
	ruleColumns  = `id, name, total_score, config, created_at, updated_at`
	paperColumns = `id, title, rule_id, questions_snapshot, created_at`
)

type Rule struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	TotalScore float64    `json:"total_score"`
	Config     RuleConfig `json:"config"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RuleInput is a create or partial update. Config stays raw so unknown keys can be rejected.
type RuleInput struct {
	Name       *string         `json:"name"`
	TotalScore *float64        `json:"total_score"`
	Config     json.RawMessage `json:"config"`
}

type Paper struct {
	ID                int64              `json:"id"`
	Title             string             `json:"title"`
	RuleID            *int64             `json:"rule_id"`
	QuestionsSnapshot []SnapshotQuestion `json:"questions_snapshot"`
	CreatedAt         time.Time          `json:"created_at"`
}

type GenerateInput struct {
	Title      string          `json:"title"`
	RuleID     *int64          `json:"rule_id"`
	RuleConfig json.RawMessage `json:"rule_config"`
}

type poolReader interface {
	PublishedPool(ctx context.Context, types, tags []string) ([]question.Question, error)
}

// Observer receives the outcome of every generation attempt.
type Observer interface {
	PaperGenerated(outcome string)
}

type Service struct {
	db      *sql.DB
	retry   db.Retrier
	pool    poolReader
	audit   oplog.Recorder
	obs     Observer
	log     *logger.Logger
	newRand func() Rand
}

func NewService(sqlDB *sql.DB, retry db.Retrier, pool poolReader, audit oplog.Recorder, obs Observer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		db:    sqlDB,
		retry: retry,
		pool:  pool,
		audit: audit,
		obs:   obs,
		log:   log.With("component", "paper"),
		newRand: func() Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
	}
}

func (s *Service) ListRules(ctx context.Context, skip, limit int) ([]Rule, error) {
	skip, limit = clampPage(skip, limit)
	var out []Rule
	err := s.retry.Do(ctx, "list rules", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM exam_rules ORDER BY id OFFSET $1 LIMIT $2`, skip, limit)
		if err != nil {
			return fmt.Errorf("query rules: %w", err)
		}
		defer rows.Close()
		out = make([]Rule, 0)
		for rows.Next() {
			r, err := scanRule(rows)
			if err != nil {
				return err
			}
			out = append(out, *r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetRule(ctx context.Context, id int64) (*Rule, error) {
	var out *Rule
	err := s.retry.Do(ctx, "get rule", func(ctx context.Context) error {
		r, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM exam_rules WHERE id = $1`, id))
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (s *Service) CreateRule(ctx context.Context, in RuleInput, actor string) (*Rule, error) {
	out, err := s.createRule(ctx, in)
	s.record(ctx, actor, "create", "rule", ruleIDs(out), nil, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) createRule(ctx context.Context, in RuleInput) (*Rule, error) {
	name := ""
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: rule name is required", apperr.ErrValidation)
	}
	totalScore := 100.0
	if in.TotalScore != nil {
		totalScore = *in.TotalScore
	}
	if totalScore < 0 {
		return nil, fmt.Errorf("%w: total_score must be non-negative", apperr.ErrValidation)
	}
	cfg, err := DecodeRuleConfig(in.Config)
	if err != nil {
		return nil, err
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal rule config: %w", err)
	}

	var out *Rule
	err = s.retry.DoWrite(ctx, "create rule", func(ctx context.Context) error {
		r, err := scanRule(s.db.QueryRowContext(ctx, `
			INSERT INTO exam_rules (name, total_score, config, created_at, updated_at)
			VALUES ($1, $2, $3::jsonb, now(), now())
			RETURNING `+ruleColumns, name, totalScore, string(cfgJSON)))
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// UpdateRule applies a partial update. Rules already referenced by a paper are immutable.
func (s *Service) UpdateRule(ctx context.Context, id int64, in RuleInput, actor string) (*Rule, error) {
	var cfgJSON []byte
	if len(in.Config) > 0 {
		cfg, err := DecodeRuleConfig(in.Config)
		if err != nil {
			s.record(ctx, actor, "update", "rule", []int64{id}, nil, err)
			return nil, err
		}
		if cfgJSON, err = json.Marshal(cfg); err != nil {
			return nil, fmt.Errorf("marshal rule config: %w", err)
		}
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		err := fmt.Errorf("%w: rule name must not be empty", apperr.ErrValidation)
		s.record(ctx, actor, "update", "rule", []int64{id}, nil, err)
		return nil, err
	}
	if in.TotalScore != nil && *in.TotalScore < 0 {
		err := fmt.Errorf("%w: total_score must be non-negative", apperr.ErrValidation)
		s.record(ctx, actor, "update", "rule", []int64{id}, nil, err)
		return nil, err
	}

	var out *Rule
	err := s.retry.Do(ctx, "update rule", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		current, err := scanRule(tx.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM exam_rules WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		var referenced bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM exam_papers WHERE rule_id = $1)`, id).Scan(&referenced); err != nil {
			return fmt.Errorf("check rule references: %w", err)
		}
		if referenced {
			return fmt.Errorf("%w: rule %d is referenced by existing papers", apperr.ErrConflict, id)
		}

		name := current.Name
		if in.Name != nil {
			name = strings.TrimSpace(*in.Name)
		}
		totalScore := current.TotalScore
		if in.TotalScore != nil {
			totalScore = *in.TotalScore
		}
		if cfgJSON == nil {
			if cfgJSON, err = json.Marshal(current.Config); err != nil {
				return fmt.Errorf("marshal rule config: %w", err)
			}
		}

		updated, err := scanRule(tx.QueryRowContext(ctx, `
			UPDATE exam_rules SET name = $2, total_score = $3, config = $4::jsonb, updated_at = now()
			WHERE id = $1
			RETURNING `+ruleColumns, id, name, totalScore, string(cfgJSON)))
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		out = updated
		return nil
	})

	s.record(ctx, actor, "update", "rule", []int64{id}, nil, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRule removes a rule. Papers keep their rule_id even when it dangles.
func (s *Service) DeleteRule(ctx context.Context, id int64, actor string) (*Rule, error) {
	var out *Rule
	err := s.retry.DoWrite(ctx, "delete rule", func(ctx context.Context) error {
		r, err := scanRule(s.db.QueryRowContext(ctx, `DELETE FROM exam_rules WHERE id = $1 RETURNING `+ruleColumns, id))
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	s.record(ctx, actor, "delete", "rule", []int64{id}, nil, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Generate assembles and persists a paper. Rule problems are reported before
// the pool is read; nothing is written unless every bucket can be filled.
func (s *Service) Generate(ctx context.Context, in GenerateInput, actor string) (*Paper, error) {
	out, err := s.generate(ctx, in)
	details := map[string]any{"title": strings.TrimSpace(in.Title)}
	if in.RuleID != nil {
		details["rule_id"] = *in.RuleID
	}
	var ids []int64
	if out != nil {
		ids = []int64{out.ID}
		details["questions"] = len(out.QuestionsSnapshot)
	}
	s.observe(err)
	s.record(ctx, actor, "generate", "paper", ids, details, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) generate(ctx context.Context, in GenerateInput) (*Paper, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", apperr.ErrValidation)
	}

	var cfg RuleConfig
	// pinned is the version of the rule the config was read from; the insert
	// only proceeds while the rule still carries it.
	var pinned *time.Time
	switch raw := strings.TrimSpace(string(in.RuleConfig)); {
	case raw != "" && raw != "null":
		var err error
		if cfg, err = DecodeRuleConfig(in.RuleConfig); err != nil {
			return nil, err
		}
	case in.RuleID != nil:
		rule, err := s.GetRule(ctx, *in.RuleID)
		if err != nil {
			return nil, err
		}
		cfg = rule.Config
		if err := cfg.Normalize(); err != nil {
			return nil, err
		}
		pinned = &rule.UpdatedAt
	default:
		return nil, fmt.Errorf("%w: rule_config or rule_id is required", apperr.ErrInvalidRule)
	}

	pool, err := s.pool.PublishedPool(ctx, cfg.requestedTypes(), cfg.Tags)
	if err != nil {
		return nil, err
	}
	snapshot, err := Select(pool, cfg, s.newRand())
	if err != nil {
		return nil, err
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	var out *Paper
	err = s.retry.DoWrite(ctx, "create paper", func(ctx context.Context) error {
		p, err := s.insertPaper(ctx, title, in.RuleID, pinned, snapshotJSON)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// insertPaper writes the paper. When pinned is set the rule row is share-locked
// first so UpdateRule cannot change it underneath, and a rule edited since it
// was read fails with ErrConflict.
func (s *Service) insertPaper(ctx context.Context, title string, ruleID *int64, pinned *time.Time, snapshotJSON []byte) (*Paper, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if pinned != nil && ruleID != nil {
		var updatedAt time.Time
		err := tx.QueryRowContext(ctx, `SELECT updated_at FROM exam_rules WHERE id = $1 FOR SHARE`, *ruleID).Scan(&updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: rule %d was deleted during generation", apperr.ErrNotFound, *ruleID)
		}
		if err != nil {
			return nil, fmt.Errorf("lock rule: %w", err)
		}
		if !updatedAt.Equal(*pinned) {
			return nil, fmt.Errorf("%w: rule %d changed during generation", apperr.ErrConflict, *ruleID)
		}
	}

	p, err := scanPaper(tx.QueryRowContext(ctx, `
		INSERT INTO exam_papers (title, rule_id, questions_snapshot, created_at)
		VALUES ($1, $2, $3::jsonb, now())
		RETURNING `+paperColumns, title, nullInt64Ptr(ruleID), string(snapshotJSON)))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return p, nil
}

func (s *Service) ListPapers(ctx context.Context, skip, limit int) ([]Paper, error) {
	skip, limit = clampPage(skip, limit)
	var out []Paper
	err := s.retry.Do(ctx, "list papers", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT `+paperColumns+` FROM exam_papers ORDER BY created_at DESC, id DESC OFFSET $1 LIMIT $2`, skip, limit)
		if err != nil {
			return fmt.Errorf("query papers: %w", err)
		}
		defer rows.Close()
		out = make([]Paper, 0)
		for rows.Next() {
			p, err := scanPaper(rows)
			if err != nil {
				return err
			}
			out = append(out, *p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetPaper(ctx context.Context, id int64) (*Paper, error) {
	var out *Paper
	err := s.retry.Do(ctx, "get paper", func(ctx context.Context) error {
		p, err := scanPaper(s.db.QueryRowContext(ctx, `SELECT `+paperColumns+` FROM exam_papers WHERE id = $1`, id))
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// Export renders a stored paper from its snapshot.
func (s *Service) Export(ctx context.Context, id int64, format string, includeAnswers bool) (*Document, error) {
	p, err := s.GetPaper(ctx, id)
	if err != nil {
		return nil, err
	}
	return Render(p, format, includeAnswers)
}

func (s *Service) observe(err error) {
	if s.obs == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = apperr.Kind(err)
	}
	s.obs.PaperGenerated(outcome)
}

func (s *Service) record(ctx context.Context, actor, action, target string, ids []int64, details map[string]any, err error) {
	status := oplog.StatusSuccess
	var errMsg *string
	if err != nil {
		status = oplog.StatusFailure
		msg := err.Error()
		errMsg = &msg
		if apperr.IsBusiness(err) {
			s.log.Warn("paper operation rejected", "action", action, "target", target, "ids", ids, "kind", apperr.Kind(err), "error", err)
		} else {
			s.log.Error("paper operation failed", "action", action, "target", target, "ids", ids, "error", err)
		}
	}
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, oplog.Entry{
		UserID:       actor,
		Action:       action,
		TargetType:   target,
		TargetIDs:    ids,
		Details:      details,
		Status:       status,
		ErrorMessage: errMsg,
	})
}

func scanRule(scanner interface{ Scan(dest ...any) error }) (*Rule, error) {
	var r Rule
	var cfg []byte
	if err := scanner.Scan(&r.ID, &r.Name, &r.TotalScore, &cfg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: rule", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	if err := json.Unmarshal(cfg, &r.Config); err != nil {
		return nil, fmt.Errorf("decode rule config: %w", err)
	}
	return &r, nil
}

func scanPaper(scanner interface{ Scan(dest ...any) error }) (*Paper, error) {
	var p Paper
	var ruleID sql.NullInt64
	var snapshot []byte
	if err := scanner.Scan(&p.ID, &p.Title, &ruleID, &snapshot, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: paper", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("scan paper: %w", err)
	}
	if ruleID.Valid {
		p.RuleID = &ruleID.Int64
	}
	if err := json.Unmarshal(snapshot, &p.QuestionsSnapshot); err != nil {
		return nil, fmt.Errorf("decode questions snapshot: %w", err)
	}
	if p.QuestionsSnapshot == nil {
		p.QuestionsSnapshot = []SnapshotQuestion{}
	}
	return &p, nil
}

func clampPage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return skip, limit
}

func ruleIDs(r *Rule) []int64 {
	if r == nil {
		return nil
	}
	return []int64{r.ID}
}

func nullInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
