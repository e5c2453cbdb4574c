package question

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
)

const (
	TypeSingle = "single"
	TypeMulti  = "multi"
	TypeJudge  = "judge"
	TypeEssay  = "essay"
)

const (
	StatusDraft             = "draft"
	StatusReview            = "review"
	StatusPublished         = "published"
	StatusDisabled          = "disabled"
	StatusNeedsModification = "needs_modification"
	StatusArchived          = "archived"
)

// Types lists question types in paper order.
var Types = []string{TypeSingle, TypeMulti, TypeJudge, TypeEssay}

var validStatuses = map[string]struct{}{
	StatusDraft:             {},
	StatusReview:            {},
	StatusPublished:         {},
	StatusDisabled:          {},
	StatusNeedsModification: {},
	StatusArchived:          {},
}

// editableStatuses may be set through create or edit; published and
// disabled are reached through review or the batch override.
var editableStatuses = map[string]struct{}{
	StatusDraft:             {},
	StatusReview:            {},
	StatusNeedsModification: {},
	StatusArchived:          {},
}

type Question struct {
	ID              int64      `json:"id"`
	Content         string     `json:"content"`
	QType           string     `json:"q_type"`
	Options         []string   `json:"options"`
	Answer          *string    `json:"answer"`
	Analysis        *string    `json:"analysis"`
	Difficulty      int        `json:"difficulty"`
	Tags            []string   `json:"tags"`
	Score           float64    `json:"score"`
	SourceDoc       *string    `json:"source_doc"`
	PageNum         *int       `json:"page_num"`
	ChapterNum      *string    `json:"chapter_num"`
	ClauseNum       *string    `json:"clause_num"`
	KnowledgePoints []string   `json:"knowledge_points"`
	Status          string     `json:"status"`
	CustomID        *string    `json:"custom_id"`
	Reviewer        *string    `json:"reviewer"`
	ReviewComment   *string    `json:"review_comment"`
	ReviewedAt      *time.Time `json:"reviewed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Clone returns a deep copy that shares no slices or pointers with q.
func (q Question) Clone() Question {
	out := q
	out.Options = cloneStrings(q.Options)
	out.Tags = cloneStrings(q.Tags)
	out.KnowledgePoints = cloneStrings(q.KnowledgePoints)
	out.Answer = cloneString(q.Answer)
	out.Analysis = cloneString(q.Analysis)
	out.SourceDoc = cloneString(q.SourceDoc)
	out.ChapterNum = cloneString(q.ChapterNum)
	out.ClauseNum = cloneString(q.ClauseNum)
	out.CustomID = cloneString(q.CustomID)
	out.Reviewer = cloneString(q.Reviewer)
	out.ReviewComment = cloneString(q.ReviewComment)
	if q.PageNum != nil {
		v := *q.PageNum
		out.PageNum = &v
	}
	if q.ReviewedAt != nil {
		v := *q.ReviewedAt
		out.ReviewedAt = &v
	}
	return out
}

// Payload is the create and partial-update body. Absent fields are nil.
type Payload struct {
	Content         *string   `json:"content,omitempty"`
	QType           *string   `json:"q_type,omitempty"`
	Options         *[]string `json:"options,omitempty"`
	Answer          *string   `json:"answer,omitempty"`
	Analysis        *string   `json:"analysis,omitempty"`
	Difficulty      *int      `json:"difficulty,omitempty"`
	Tags            *[]string `json:"tags,omitempty"`
	Score           *float64  `json:"score,omitempty"`
	SourceDoc       *string   `json:"source_doc,omitempty"`
	PageNum         *int      `json:"page_num,omitempty"`
	ChapterNum      *string   `json:"chapter_num,omitempty"`
	ClauseNum       *string   `json:"clause_num,omitempty"`
	KnowledgePoints *[]string `json:"knowledge_points,omitempty"`
	Status          *string   `json:"status,omitempty"`
}

// NewFromPayload builds a question from a create payload with defaults applied.
func NewFromPayload(p Payload) Question {
	q := Question{
		Difficulty: 1,
		Score:      1,
		Status:     StatusDraft,
	}
	p.ApplyTo(&q)
	return q
}

// ApplyTo merges the present payload fields into q.
func (p Payload) ApplyTo(q *Question) {
	if p.Content != nil {
		q.Content = strings.TrimSpace(*p.Content)
	}
	if p.QType != nil {
		q.QType = NormalizeType(*p.QType)
	}
	if p.Options != nil {
		q.Options = cleanList(*p.Options)
	}
	if p.Answer != nil {
		q.Answer = trimmedOrNil(*p.Answer)
	}
	if p.Analysis != nil {
		q.Analysis = trimmedOrNil(*p.Analysis)
	}
	if p.Difficulty != nil {
		q.Difficulty = *p.Difficulty
	}
	if p.Tags != nil {
		q.Tags = dedupList(*p.Tags)
	}
	if p.Score != nil {
		q.Score = *p.Score
	}
	if p.SourceDoc != nil {
		q.SourceDoc = trimmedOrNil(*p.SourceDoc)
	}
	if p.PageNum != nil {
		v := *p.PageNum
		q.PageNum = &v
	}
	if p.ChapterNum != nil {
		q.ChapterNum = trimmedOrNil(*p.ChapterNum)
	}
	if p.ClauseNum != nil {
		q.ClauseNum = trimmedOrNil(*p.ClauseNum)
	}
	if p.KnowledgePoints != nil {
		q.KnowledgePoints = dedupList(*p.KnowledgePoints)
	}
	if p.Status != nil {
		q.Status = strings.ToLower(strings.TrimSpace(*p.Status))
	}
	if !RequiresOptions(q.QType) {
		q.Options = nil
	}
	if q.Tags == nil {
		q.Tags = []string{}
	}
	if q.KnowledgePoints == nil {
		q.KnowledgePoints = []string{}
	}
}

// NormalizeType maps type labels, including the Chinese ones, to canonical type keys.
func NormalizeType(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "single", "single_choice", "单选", "单选题":
		return TypeSingle
	case "multi", "multiple", "multi_choice", "multiple_choice", "多选", "多选题":
		return TypeMulti
	case "judge", "true_false", "truefalse", "判断", "判断题":
		return TypeJudge
	case "essay", "short_answer", "简答", "简答题", "问答", "问答题":
		return TypeEssay
	}
	return v
}

func IsValidType(v string) bool {
	switch v {
	case TypeSingle, TypeMulti, TypeJudge, TypeEssay:
		return true
	}
	return false
}

func RequiresOptions(qType string) bool {
	return qType == TypeSingle || qType == TypeMulti
}

func IsValidStatus(v string) bool {
	_, ok := validStatuses[v]
	return ok
}

// Violations lists every rule q breaks, in a fixed order.
func Violations(q Question) []string {
	var out []string
	if strings.TrimSpace(q.Content) == "" {
		out = append(out, "content is required")
	}
	switch {
	case q.QType == "":
		out = append(out, "q_type is required")
	case !IsValidType(q.QType):
		out = append(out, fmt.Sprintf("q_type %q is not one of single, multi, judge, essay", q.QType))
	}
	if q.Difficulty < 1 || q.Difficulty > 5 {
		out = append(out, fmt.Sprintf("difficulty must be between 1 and 5, got %d", q.Difficulty))
	}
	if IsValidType(q.QType) {
		if RequiresOptions(q.QType) && len(q.Options) == 0 {
			out = append(out, fmt.Sprintf("options are required for %s questions", q.QType))
		}
		if q.QType == TypeMulti && len(q.Options) == 1 {
			out = append(out, "multi questions need at least two options")
		}
	}
	if q.Score < 0 {
		out = append(out, "score must be non-negative")
	}
	if q.Status != "" && !IsValidStatus(q.Status) {
		out = append(out, fmt.Sprintf("status %q is not recognized", q.Status))
	}
	return out
}

// Validate returns a validation error naming every violation, or nil.
func Validate(q Question) error {
	v := Violations(q)
	if len(v) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", apperr.ErrValidation, strings.Join(v, "; "))
}

func validateEditableStatus(status string) error {
	if _, ok := editableStatuses[status]; ok {
		return nil
	}
	return fmt.Errorf("%w: status %q cannot be set directly; use the review transition", apperr.ErrValidation, status)
}

// newCustomID formats an external key like S-20240131-4821.
func newCustomID(qType string, now time.Time) string {
	initial := "Q"
	if qType != "" {
		initial = strings.ToUpper(qType[:1])
	}
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	suffix := int64(1000)
	if err == nil {
		suffix += n.Int64()
	}
	return fmt.Sprintf("%s-%s-%d", initial, now.Format("20060102"), suffix)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// dedupList is cleanList that also drops repeats; tags and knowledge points are sets.
func dedupList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range cleanList(in) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func trimmedOrNil(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
