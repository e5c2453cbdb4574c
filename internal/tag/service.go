package tag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/db"
	"github.com/Adam5421/SmartAIExam/internal/logger"
	"github.com/Adam5421/SmartAIExam/internal/oplog"
)

type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Input struct {
	Name     string
	ParentID *int64
	// ParentSet marks ParentID as supplied on update; a nil ParentID with
	// ParentSet makes the tag a root, without it the parent is kept.
	ParentSet bool
	Actor     string
}

type Service struct {
	db    *sql.DB
	retry db.Retrier
	audit oplog.Recorder
	log   *logger.Logger
}

func NewService(sqlDB *sql.DB, retry db.Retrier, audit oplog.Recorder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{db: sqlDB, retry: retry, audit: audit, log: log.With("component", "tag")}
}

func (s *Service) List(ctx context.Context) ([]Tag, error) {
	var out []Tag
	err := s.retry.Do(ctx, "list tags", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT id, name, parent_id, created_at FROM tags ORDER BY id`)
		if err != nil {
			return fmt.Errorf("query tags: %w", err)
		}
		defer rows.Close()
		out = make([]Tag, 0)
		for rows.Next() {
			t, err := scanTag(rows)
			if err != nil {
				return err
			}
			out = append(out, *t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Tag, error) {
	var out *Tag
	err := s.retry.Do(ctx, "get tag", func(ctx context.Context) error {
		t, err := scanTag(s.db.QueryRowContext(ctx, `SELECT id, name, parent_id, created_at FROM tags WHERE id = $1`, id))
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (s *Service) Create(ctx context.Context, in Input) (*Tag, error) {
	name, err := validateName(in.Name)
	if err != nil {
		s.record(ctx, in.Actor, "create", nil, map[string]any{"name": in.Name}, err)
		return nil, err
	}

	var out *Tag
	err = s.retry.DoWrite(ctx, "create tag", func(ctx context.Context) error {
		if in.ParentID != nil {
			if err := s.ensureExists(ctx, s.db, *in.ParentID); err != nil {
				return err
			}
		}
		t, err := scanTag(s.db.QueryRowContext(ctx, `
			INSERT INTO tags (name, parent_id, created_at)
			VALUES ($1, $2, now())
			RETURNING id, name, parent_id, created_at
		`, name, nullInt64Ptr(in.ParentID)))
		if err != nil {
			return mapWriteErr(err, name)
		}
		out = t
		return nil
	})

	s.record(ctx, in.Actor, "create", idOf(out), map[string]any{"name": name}, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update renames or re-parents a tag. A blank name keeps the current one and
// an absent parent keeps the current parent.
// Questions labelled with the old name are relabelled in the same transaction.
func (s *Service) Update(ctx context.Context, id int64, in Input) (*Tag, error) {
	name := strings.TrimSpace(in.Name)
	details := map[string]any{"name": name}
	if in.ParentSet {
		details["parent_id"] = in.ParentID
	}
	if name != "" {
		var err error
		if name, err = validateName(name); err != nil {
			s.record(ctx, in.Actor, "update", []int64{id}, details, err)
			return nil, err
		}
	}
	if in.ParentSet && in.ParentID != nil && *in.ParentID == id {
		err := fmt.Errorf("%w: a tag cannot be its own parent", apperr.ErrValidation)
		s.record(ctx, in.Actor, "update", []int64{id}, details, err)
		return nil, err
	}
	moving := in.ParentSet && in.ParentID != nil

	var out *Tag
	err := s.retry.Do(ctx, "update tag", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		// Re-parenting checks the whole forest, so concurrent moves must not
		// interleave; the lock is taken before any row lock.
		if moving {
			if _, err := tx.ExecContext(ctx, `LOCK TABLE tags IN SHARE ROW EXCLUSIVE MODE`); err != nil {
				return fmt.Errorf("lock tags: %w", err)
			}
		}

		current, err := scanTag(tx.QueryRowContext(ctx, `SELECT id, name, parent_id, created_at FROM tags WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		newName := name
		if newName == "" {
			newName = current.Name
		}
		parent := resolveParent(current.ParentID, in)

		if moving {
			parents, err := loadParents(ctx, tx)
			if err != nil {
				return err
			}
			if _, ok := parents[*in.ParentID]; !ok {
				return fmt.Errorf("%w: parent tag %d", apperr.ErrNotFound, *in.ParentID)
			}
			if wouldCycle(parents, id, *in.ParentID) {
				return fmt.Errorf("%w: moving tag %d under %d creates a cycle", apperr.ErrValidation, id, *in.ParentID)
			}
		}

		updated, err := scanTag(tx.QueryRowContext(ctx, `
			UPDATE tags SET name = $2, parent_id = $3
			WHERE id = $1
			RETURNING id, name, parent_id, created_at
		`, id, newName, nullInt64Ptr(parent)))
		if err != nil {
			return mapWriteErr(err, newName)
		}

		if current.Name != newName {
			if _, err := tx.ExecContext(ctx, `
				UPDATE questions
				SET tags = (
					SELECT COALESCE(jsonb_agg(CASE WHEN t = $1 THEN $2 ELSE t END), '[]'::jsonb)
					FROM jsonb_array_elements_text(tags) AS t
				), updated_at = now()
				WHERE tags ? $1
			`, current.Name, newName); err != nil {
				return fmt.Errorf("relabel questions: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		out = updated
		return nil
	})

	s.record(ctx, in.Actor, "update", []int64{id}, details, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a leaf tag. Tags with children are refused.
func (s *Service) Delete(ctx context.Context, id int64, actor string) (*Tag, error) {
	var out *Tag
	err := s.retry.DoWrite(ctx, "delete tag", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		current, err := scanTag(tx.QueryRowContext(ctx, `SELECT id, name, parent_id, created_at FROM tags WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		var children int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags WHERE parent_id = $1`, id).Scan(&children); err != nil {
			return fmt.Errorf("count child tags: %w", err)
		}
		if children > 0 {
			return fmt.Errorf("%w: cannot delete tag with sub-tags", apperr.ErrConflict)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = $1`, id); err != nil {
			if db.IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: cannot delete tag with sub-tags", apperr.ErrConflict)
			}
			return fmt.Errorf("delete tag: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		out = current
		return nil
	})

	s.record(ctx, actor, "delete", []int64{id}, nil, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Expand returns the given tag names plus the names of all their descendants.
// Unknown names are kept so free-form labels still filter.
func (s *Service) Expand(ctx context.Context, names []string) ([]string, error) {
	names = cleanNames(names)
	if len(names) == 0 {
		return nil, nil
	}

	var found []string
	err := s.retry.Do(ctx, "expand tags", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			WITH RECURSIVE sub AS (
				SELECT id, name FROM tags WHERE name = ANY($1)
				UNION
				SELECT t.id, t.name FROM tags t JOIN sub ON t.parent_id = sub.id
			)
			SELECT name FROM sub
		`, names)
		if err != nil {
			return fmt.Errorf("query tag descendants: %w", err)
		}
		defer rows.Close()
		found = found[:0]
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				return fmt.Errorf("scan tag name: %w", err)
			}
			found = append(found, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return mergeNames(names, found), nil
}

func (s *Service) ensureExists(ctx context.Context, q queryer, id int64) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tags WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check parent tag: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: parent tag %d", apperr.ErrNotFound, id)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor, action string, ids []int64, details map[string]any, err error) {
	if s.audit == nil {
		return
	}
	e := oplog.Entry{
		UserID:     actor,
		Action:     action,
		TargetType: "tag",
		TargetIDs:  ids,
		Details:    details,
		Status:     oplog.StatusSuccess,
	}
	if err != nil {
		msg := err.Error()
		e.Status = oplog.StatusFailure
		e.ErrorMessage = &msg
		s.log.Warn("tag mutation failed", "action", action, "ids", ids, "error", err)
	}
	s.audit.Record(ctx, e)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadParents(ctx context.Context, q rowQueryer) (map[int64]*int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, parent_id FROM tags`)
	if err != nil {
		return nil, fmt.Errorf("load tag parents: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]*int64)
	for rows.Next() {
		var id int64
		var parent sql.NullInt64
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, fmt.Errorf("scan tag parent: %w", err)
		}
		if parent.Valid {
			p := parent.Int64
			out[id] = &p
		} else {
			out[id] = nil
		}
	}
	return out, rows.Err()
}

// resolveParent picks the parent an update writes: the supplied one when
// present, otherwise the current one.
func resolveParent(current *int64, in Input) *int64 {
	if in.ParentSet {
		return in.ParentID
	}
	return current
}

// wouldCycle reports whether giving id the parent newParent makes id its own ancestor.
func wouldCycle(parents map[int64]*int64, id, newParent int64) bool {
	seen := make(map[int64]struct{}, len(parents))
	cur := newParent
	for {
		if cur == id {
			return true
		}
		if _, ok := seen[cur]; ok {
			return true
		}
		seen[cur] = struct{}{}
		p, ok := parents[cur]
		if !ok || p == nil {
			return false
		}
		cur = *p
	}
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: tag name is required", apperr.ErrValidation)
	}
	if len([]rune(name)) > 64 {
		return "", fmt.Errorf("%w: tag name must be at most 64 characters", apperr.ErrValidation)
	}
	return name, nil
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func mergeNames(a, b []string) []string {
	return cleanNames(append(append([]string{}, a...), b...))
}

func mapWriteErr(err error, name string) error {
	if db.IsUniqueViolation(err, "tags_name_key") {
		return fmt.Errorf("%w: tag %q already exists", apperr.ErrConflict, name)
	}
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: parent tag", apperr.ErrNotFound)
	}
	return fmt.Errorf("write tag: %w", err)
}

func scanTag(scanner interface{ Scan(dest ...any) error }) (*Tag, error) {
	var t Tag
	var parent sql.NullInt64
	if err := scanner.Scan(&t.ID, &t.Name, &parent, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: tag", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("scan tag: %w", err)
	}
	if parent.Valid {
		t.ParentID = &parent.Int64
	}
	return &t, nil
}

func idOf(t *Tag) []int64 {
	if t == nil {
		return nil
	}
	return []int64{t.ID}
}

func nullInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
