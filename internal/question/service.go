package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/db"
	"github.com/Adam5421/SmartAIExam/internal/dedup"
	"github.com/Adam5421/SmartAIExam/internal/logger"
	"github.com/Adam5421/SmartAIExam/internal/oplog"
)

const (
	contentHashConstraint = "questions_content_hash_key"
	customIDConstraint    = "questions_custom_id_key"

	questionColumns = `id, content, q_type, options, answer, analysis, difficulty, tags, score,
		source_doc, page_num, chapter_num, clause_num, knowledge_points, status, custom_id,
		reviewer, review_comment, reviewed_at, created_at, updated_at`
)

// TagExpander resolves tag names to themselves plus their descendants.
type TagExpander interface {
	Expand(ctx context.Context, names []string) ([]string, error)
}

type ServiceConfig struct {
	BatchConcurrency    int
	SimilarityThreshold float64
}

type Service struct {
	db    *sql.DB
	retry db.Retrier
	audit oplog.Recorder
	tags  TagExpander
	log   *logger.Logger
	cfg   ServiceConfig
	now   func() time.Time
}

func NewService(sqlDB *sql.DB, retry db.Retrier, audit oplog.Recorder, tags TagExpander, log *logger.Logger, cfg ServiceConfig) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = dedup.DefaultThreshold
	}
	return &Service{
		db:    sqlDB,
		retry: retry,
		audit: audit,
		tags:  tags,
		log:   log.With("component", "question"),
		cfg:   cfg,
		now:   time.Now,
	}
}

type ListFilter struct {
	Skip       int
	Limit      int
	QType      string
	Difficulty *int
	Tag        string
	Search     string
	Status     string
	SourceDoc  string
}

type ListResult struct {
	Items []Question `json:"items"`
	Total int        `json:"total"`
}

func (s *Service) Get(ctx context.Context, id int64) (*Question, error) {
	var out *Question
	err := s.retry.Do(ctx, "get question", func(ctx context.Context) error {
		q, err := scanQuestion(s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
		if err != nil {
			return err
		}
		out = q
		return nil
	})
	return out, err
}

func (s *Service) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	if f.Skip < 0 {
		f.Skip = 0
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}

	tagNames, err := s.expandTag(ctx, f.Tag)
	if err != nil {
		return nil, err
	}
	where, args := buildWhere(f, tagNames)

	out := &ListResult{Items: []Question{}}
	err = s.retry.Do(ctx, "list questions", func(ctx context.Context) error {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`+where, args...).Scan(&out.Total); err != nil {
			return fmt.Errorf("count questions: %w", err)
		}
		pageArgs := append(append([]any{}, args...), f.Skip, f.Limit)
		query := fmt.Sprintf(`SELECT %s FROM questions%s ORDER BY id DESC OFFSET $%d LIMIT $%d`,
			questionColumns, where, len(args)+1, len(args)+2)
		items, err := s.queryQuestions(ctx, query, pageArgs...)
		if err != nil {
			return err
		}
		out.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// listAll returns every question matching f, ignoring pagination.
func (s *Service) listAll(ctx context.Context, f ListFilter) ([]Question, error) {
	tagNames, err := s.expandTag(ctx, f.Tag)
	if err != nil {
		return nil, err
	}
	where, args := buildWhere(f, tagNames)
	var out []Question
	err = s.retry.Do(ctx, "list questions for export", func(ctx context.Context) error {
		items, err := s.queryQuestions(ctx, `SELECT `+questionColumns+` FROM questions`+where+` ORDER BY id`, args...)
		if err != nil {
			return err
		}
		out = items
		return nil
	})
	return out, err
}

func (s *Service) expandTag(ctx context.Context, tag string) ([]string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, nil
	}
	if s.tags == nil {
		return []string{tag}, nil
	}
	names, err := s.tags.Expand(ctx, []string{tag})
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []string{tag}, nil
	}
	return names, nil
}

// buildWhere renders the list filter into a WHERE clause with positional args.
func buildWhere(f ListFilter, tagNames []string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "@", "$"+strconv.Itoa(len(args))))
	}

	if v := NormalizeType(f.QType); v != "" {
		add("q_type = @", v)
	}
	if f.Difficulty != nil {
		add("difficulty = @", *f.Difficulty)
	}
	if v := strings.ToLower(strings.TrimSpace(f.Status)); v != "" {
		add("status = @", v)
	}
	if v := strings.TrimSpace(f.SourceDoc); v != "" {
		add(`source_doc ILIKE @ ESCAPE '\'`, "%"+escapeLike(v)+"%")
	}
	if v := strings.TrimSpace(f.Search); v != "" {
		add(`content ILIKE @ ESCAPE '\'`, "%"+escapeLike(v)+"%")
	}
	if len(tagNames) > 0 {
		add("tags ?| @::text[]", tagNames)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}

func (s *Service) Create(ctx context.Context, p Payload, actor string) (*Question, error) {
	q := NewFromPayload(p)
	out, err := s.create(ctx, q)
	s.record(ctx, actor, "create", idsOf(out), map[string]any{"q_type": q.QType}, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) create(ctx context.Context, q Question) (*Question, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}
	if err := validateEditableStatus(q.Status); err != nil {
		return nil, err
	}
	hash := dedup.HashOf(q.Content)
	if id, found, err := s.CheckStrict(ctx, q.Content); err != nil {
		return nil, err
	} else if found {
		return nil, &apperr.DuplicateContentError{ExistingID: id}
	}

	var out *Question
	err := s.retry.DoWrite(ctx, "create question", func(ctx context.Context) error {
		for attempt := 0; attempt < 5; attempt++ {
			created, err := s.insert(ctx, q, hash, newCustomID(q.QType, s.now()))
			if err == nil {
				out = created
				return nil
			}
			if db.IsUniqueViolation(err, customIDConstraint) {
				continue
			}
			return err
		}
		return fmt.Errorf("%w: could not allocate a unique custom_id", apperr.ErrConflict)
	})
	if err != nil {
		return nil, s.mapDuplicate(ctx, err, hash)
	}
	return out, nil
}

func (s *Service) insert(ctx context.Context, q Question, hash, customID string) (*Question, error) {
	optionsJSON, tagsJSON, kpJSON, err := encodeLists(q)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO questions (
			content, content_hash, q_type, options, answer, analysis, difficulty, tags, score,
			source_doc, page_num, chapter_num, clause_num, knowledge_points, status, custom_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8::jsonb, $9, $10, $11, $12, $13, $14::jsonb, $15, $16, now(), now())
		RETURNING `+questionColumns,
		q.Content, hash, q.QType, optionsJSON, q.Answer, q.Analysis, q.Difficulty, tagsJSON, q.Score,
		q.SourceDoc, q.PageNum, q.ChapterNum, q.ClauseNum, kpJSON, q.Status, customID,
	)
	out, err := scanQuestion(row)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update merges a partial payload into the stored question and re-checks
// validation and strict uniqueness against the merged record.
func (s *Service) Update(ctx context.Context, id int64, p Payload, actor string) (*Question, error) {
	var out *Question
	var hash string
	err := s.retry.Do(ctx, "update question", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		current, err := scanQuestion(tx.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		merged := current.Clone()
		p.ApplyTo(&merged)
		if err := Validate(merged); err != nil {
			return err
		}
		if merged.Status != current.Status {
			if err := validateEditableStatus(merged.Status); err != nil {
				return err
			}
		}

		hash = dedup.HashOf(merged.Content)
		var holder int64
		err = tx.QueryRowContext(ctx, `SELECT id FROM questions WHERE content_hash = $1 AND id <> $2`, hash, id).Scan(&holder)
		switch {
		case err == nil:
			return &apperr.DuplicateContentError{ExistingID: holder}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check content hash: %w", err)
		}

		optionsJSON, tagsJSON, kpJSON, err := encodeLists(merged)
		if err != nil {
			return err
		}
		updated, err := scanQuestion(tx.QueryRowContext(ctx, `
			UPDATE questions SET
				content = $2, content_hash = $3, q_type = $4, options = $5::jsonb, answer = $6, analysis = $7,
				difficulty = $8, tags = $9::jsonb, score = $10, source_doc = $11, page_num = $12,
				chapter_num = $13, clause_num = $14, knowledge_points = $15::jsonb, status = $16, updated_at = now()
			WHERE id = $1
			RETURNING `+questionColumns,
			id, merged.Content, hash, merged.QType, optionsJSON, merged.Answer, merged.Analysis,
			merged.Difficulty, tagsJSON, merged.Score, merged.SourceDoc, merged.PageNum,
			merged.ChapterNum, merged.ClauseNum, kpJSON, merged.Status,
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
	if err != nil {
		err = s.mapDuplicate(ctx, err, hash)
	}
	s.record(ctx, actor, "update", []int64{id}, nil, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete hard-deletes a question and returns it as it was. Paper snapshots are untouched.
func (s *Service) Delete(ctx context.Context, id int64, actor string) (*Question, error) {
	var out *Question
	err := s.retry.DoWrite(ctx, "delete question", func(ctx context.Context) error {
		q, err := scanQuestion(s.db.QueryRowContext(ctx, `DELETE FROM questions WHERE id = $1 RETURNING `+questionColumns, id))
		if err != nil {
			return err
		}
		out = q
		return nil
	})
	s.record(ctx, actor, "delete", []int64{id}, nil, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CheckStrict looks up the question holding content's normalized hash.
func (s *Service) CheckStrict(ctx context.Context, content string) (int64, bool, error) {
	hash := dedup.HashOf(content)
	var id int64
	found := false
	err := s.retry.Do(ctx, "check content hash", func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx, `SELECT id FROM questions WHERE content_hash = $1`, hash).Scan(&id)
		switch {
		case err == nil:
			found = true
			return nil
		case errors.Is(err, sql.ErrNoRows):
			found = false
			return nil
		default:
			return fmt.Errorf("lookup content hash: %w", err)
		}
	})
	if err != nil {
		return 0, false, err
	}
	return id, found, nil
}

// LookupHashes maps each known hash to the id of the question holding it.
func (s *Service) LookupHashes(ctx context.Context, hashes []string) (map[string]int64, error) {
	out := make(map[string]int64, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	err := s.retry.Do(ctx, "lookup content hashes", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT content_hash, id FROM questions WHERE content_hash = ANY($1)`, hashes)
		if err != nil {
			return fmt.Errorf("query content hashes: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var h string
			var id int64
			if err := rows.Scan(&h, &id); err != nil {
				return fmt.Errorf("scan content hash: %w", err)
			}
			out[h] = id
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindSimilar returns advisory near-duplicates of content. excludeID skips
// the question whose own content is being checked.
func (s *Service) FindSimilar(ctx context.Context, content string, threshold float64, limit int, excludeID int64) ([]dedup.Match, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is required", apperr.ErrValidation)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be between 0 and 1", apperr.ErrValidation)
	}
	if threshold == 0 {
		threshold = s.cfg.SimilarityThreshold
	}

	var candidates []dedup.Candidate
	err := s.retry.Do(ctx, "load similarity candidates", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT id, content, content_hash FROM questions`)
		if err != nil {
			return fmt.Errorf("query candidates: %w", err)
		}
		defer rows.Close()
		candidates = candidates[:0]
		for rows.Next() {
			var c dedup.Candidate
			if err := rows.Scan(&c.ID, &c.Content, &c.Hash); err != nil {
				return fmt.Errorf("scan candidate: %w", err)
			}
			candidates = append(candidates, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	matches := dedup.FindSimilar(content, candidates, threshold, limit, excludeID)
	if matches == nil {
		matches = []dedup.Match{}
	}
	return matches, nil
}

// PublishedPool returns the published questions of the given types, ordered
// by id. A non-empty tags list keeps only questions carrying any of them.
func (s *Service) PublishedPool(ctx context.Context, types, tags []string) ([]Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE status = $1 AND q_type = ANY($2)`
	args := []any{StatusPublished, types}
	if len(tags) > 0 {
		query += ` AND tags ?| $3::text[]`
		args = append(args, tags)
	}
	query += ` ORDER BY id`

	var out []Question
	err := s.retry.Do(ctx, "load published pool", func(ctx context.Context) error {
		items, err := s.queryQuestions(ctx, query, args...)
		if err != nil {
			return err
		}
		out = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) mapDuplicate(ctx context.Context, err error, hash string) error {
	if !db.IsUniqueViolation(err, contentHashConstraint) {
		return err
	}
	dup := &apperr.DuplicateContentError{}
	if hash != "" {
		if ids, lookupErr := s.LookupHashes(ctx, []string{hash}); lookupErr == nil {
			dup.ExistingID = ids[hash]
		}
	}
	return dup
}

func (s *Service) record(ctx context.Context, actor, action string, ids []int64, details map[string]any, err error) {
	s.recordStatus(ctx, actor, action, ids, details, statusOf(err), err)
}

func (s *Service) recordStatus(ctx context.Context, actor, action string, ids []int64, details map[string]any, status string, err error) {
	if err != nil {
		if apperr.IsBusiness(err) {
			s.log.Warn("question operation rejected", "action", action, "ids", ids, "kind", apperr.Kind(err), "error", err)
		} else {
			s.log.Error("question operation failed", "action", action, "ids", ids, "error", err)
		}
	}
	if s.audit == nil {
		return
	}
	e := oplog.Entry{
		UserID:     actor,
		Action:     action,
		TargetType: "question",
		TargetIDs:  ids,
		Details:    details,
		Status:     status,
	}
	if err != nil {
		msg := err.Error()
		e.ErrorMessage = &msg
	}
	s.audit.Record(ctx, e)
}

func statusOf(err error) string {
	if err != nil {
		return oplog.StatusFailure
	}
	return oplog.StatusSuccess
}

func (s *Service) queryQuestions(ctx context.Context, query string, args ...any) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

func encodeLists(q Question) (options any, tags string, knowledgePoints string, err error) {
	if q.Options != nil {
		b, err := json.Marshal(q.Options)
		if err != nil {
			return nil, "", "", fmt.Errorf("marshal options: %w", err)
		}
		options = string(b)
	}
	t := q.Tags
	if t == nil {
		t = []string{}
	}
	tb, err := json.Marshal(t)
	if err != nil {
		return nil, "", "", fmt.Errorf("marshal tags: %w", err)
	}
	kp := q.KnowledgePoints
	if kp == nil {
		kp = []string{}
	}
	kb, err := json.Marshal(kp)
	if err != nil {
		return nil, "", "", fmt.Errorf("marshal knowledge points: %w", err)
	}
	return options, string(tb), string(kb), nil
}

func scanQuestion(scanner interface{ Scan(dest ...any) error }) (*Question, error) {
	var q Question
	var options, tags, kp []byte
	var answer, analysis, sourceDoc, chapterNum, clauseNum, customID, reviewer, reviewComment sql.NullString
	var pageNum sql.NullInt64
	var reviewedAt sql.NullTime

	err := scanner.Scan(
		&q.ID, &q.Content, &q.QType, &options, &answer, &analysis, &q.Difficulty, &tags, &q.Score,
		&sourceDoc, &pageNum, &chapterNum, &clauseNum, &kp, &q.Status, &customID,
		&reviewer, &reviewComment, &reviewedAt, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: question", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("scan question: %w", err)
	}

	if len(options) > 0 && string(options) != "null" {
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	q.Tags = []string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &q.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	q.KnowledgePoints = []string{}
	if len(kp) > 0 {
		if err := json.Unmarshal(kp, &q.KnowledgePoints); err != nil {
			return nil, fmt.Errorf("decode knowledge points: %w", err)
		}
	}
	q.Answer = nullStringPtr(answer)
	q.Analysis = nullStringPtr(analysis)
	q.SourceDoc = nullStringPtr(sourceDoc)
	q.ChapterNum = nullStringPtr(chapterNum)
	q.ClauseNum = nullStringPtr(clauseNum)
	q.CustomID = nullStringPtr(customID)
	q.Reviewer = nullStringPtr(reviewer)
	q.ReviewComment = nullStringPtr(reviewComment)
	if pageNum.Valid {
		v := int(pageNum.Int64)
		q.PageNum = &v
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		q.ReviewedAt = &t
	}
	return &q, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func idsOf(q *Question) []int64 {
	if q == nil {
		return nil
	}
	return []int64{q.ID}
}
