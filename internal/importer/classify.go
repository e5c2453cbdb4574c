package importer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/dedup"
	"github.com/Adam5421/SmartAIExam/internal/question"
)

const (
	StatusValid     = "valid"
	StatusDuplicate = "duplicate"
	StatusInvalid   = "invalid"
	StatusError     = "error"
)

const defaultDifficulty = 3

const (
	colContent         = "content"
	colQType           = "q_type"
	colDifficulty      = "difficulty"
	colOptions         = "options"
	colAnswer          = "answer"
	colTags            = "tags"
	colAnalysis        = "analysis"
	colSourceDoc       = "source_doc"
	colKnowledgePoints = "knowledge_points"
	colScore           = "score"
	colChapterNum      = "chapter_num"
	colPageNum         = "page_num"
	colClauseNum       = "clause_num"
)

// columnAliases maps accepted header labels to canonical columns.
var columnAliases = map[string]string{
	"content":          colContent,
	"题干":               colContent,
	"q_type":           colQType,
	"type":             colQType,
	"题型":               colQType,
	"difficulty":       colDifficulty,
	"难度":               colDifficulty,
	"options":          colOptions,
	"选项":               colOptions,
	"answer":           colAnswer,
	"答案":               colAnswer,
	"tags":             colTags,
	"标签":               colTags,
	"analysis":         colAnalysis,
	"解析":               colAnalysis,
	"source_doc":       colSourceDoc,
	"来源":               colSourceDoc,
	"knowledge_points": colKnowledgePoints,
	"知识点":              colKnowledgePoints,
	"score":            colScore,
	"分值":               colScore,
	"chapter_num":      colChapterNum,
	"章节":               colChapterNum,
	"page_num":         colPageNum,
	"页码":               colPageNum,
	"clause_num":       colClauseNum,
	"条款":               colClauseNum,
}

// Item is the classification of one data row.
type Item struct {
	RowIndex   int              `json:"row_index"`
	Status     string           `json:"status"`
	Errors     []string         `json:"errors"`
	ExistingID *int64           `json:"existing_id,omitempty"`
	Data       question.Payload `json:"data"`
}

type candidate struct {
	item Item
	hash string
}

// mapColumns resolves header cells to canonical columns; the first matching cell wins.
func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		canonical, ok := columnAliases[key]
		if !ok {
			continue
		}
		if _, seen := cols[canonical]; !seen {
			cols[canonical] = i
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: header has no recognized columns", apperr.ErrValidation)
	}
	return cols, nil
}

// prepare parses and validates every non-blank record. Rows that pass carry
// their content hash for the duplicate pass.
func prepare(t *table, cols map[string]int) []candidate {
	out := make([]candidate, 0, len(t.records))
	for _, rec := range t.records {
		if rec.blank() {
			continue
		}
		c := candidate{item: Item{RowIndex: rec.index, Status: StatusValid, Errors: []string{}}}
		if rec.err != nil {
			c.item.Status = StatusError
			c.item.Errors = append(c.item.Errors, rec.err.Error())
			out = append(out, c)
			continue
		}

		payload, err := parseRecord(rec.cells, cols)
		c.item.Data = payload
		if err != nil {
			c.item.Status = StatusError
			c.item.Errors = append(c.item.Errors, err.Error())
			out = append(out, c)
			continue
		}

		q := question.NewFromPayload(payload)
		if v := question.Violations(q); len(v) > 0 {
			c.item.Status = StatusInvalid
			c.item.Errors = append(c.item.Errors, v...)
			out = append(out, c)
			continue
		}
		c.hash = dedup.HashOf(q.Content)
		out = append(out, c)
	}
	return out
}

// finalize marks valid candidates that collide with the bank or with an
// earlier valid row of the same file. Intra-file hits carry existing_id -N
// where N is the earlier row.
func finalize(cands []candidate, bank map[string]int64) []Item {
	items := make([]Item, 0, len(cands))
	firstRow := make(map[string]int, len(cands))
	for _, c := range cands {
		it := c.item
		if it.Status == StatusValid {
			if id, ok := bank[c.hash]; ok {
				existing := id
				it.Status = StatusDuplicate
				it.ExistingID = &existing
				it.Errors = append(it.Errors, "duplicate question exists")
			} else if row, ok := firstRow[c.hash]; ok {
				synthetic := -int64(row)
				it.Status = StatusDuplicate
				it.ExistingID = &synthetic
				it.Errors = append(it.Errors, fmt.Sprintf("duplicate of row %d", row))
			} else {
				firstRow[c.hash] = it.RowIndex
			}
		}
		items = append(items, it)
	}
	return items
}

func validHashes(cands []candidate) []string {
	out := make([]string, 0, len(cands))
	seen := make(map[string]struct{}, len(cands))
	for _, c := range cands {
		if c.item.Status != StatusValid {
			continue
		}
		if _, ok := seen[c.hash]; ok {
			continue
		}
		seen[c.hash] = struct{}{}
		out = append(out, c.hash)
	}
	return out
}

// parseRecord maps one record onto a create payload. On a malformed number
// the fields read so far are returned together with the error.
func parseRecord(cells []string, cols map[string]int) (question.Payload, error) {
	get := func(col string) string {
		idx, ok := cols[col]
		if !ok || idx >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[idx])
	}

	var p question.Payload
	if v := get(colContent); v != "" {
		p.Content = &v
	}
	if v := get(colQType); v != "" {
		t := question.NormalizeType(v)
		p.QType = &t
	}
	if v := get(colOptions); v != "" {
		opts := splitList(v, "\n", "|")
		p.Options = &opts
	}
	if v := get(colAnswer); v != "" {
		p.Answer = &v
	}
	if v := get(colTags); v != "" {
		tags := splitList(v, ",", "，")
		p.Tags = &tags
	}
	if v := get(colAnalysis); v != "" {
		p.Analysis = &v
	}
	if v := get(colSourceDoc); v != "" {
		p.SourceDoc = &v
	}
	if v := get(colKnowledgePoints); v != "" {
		kps := splitList(v, ",", "，")
		p.KnowledgePoints = &kps
	}
	if v := get(colChapterNum); v != "" {
		p.ChapterNum = &v
	}
	if v := get(colClauseNum); v != "" {
		p.ClauseNum = &v
	}

	difficulty := defaultDifficulty
	p.Difficulty = &difficulty
	if v := get(colDifficulty); v != "" {
		n, err := parseWholeNumber(v)
		if err != nil {
			p.Difficulty = nil
			return p, fmt.Errorf("difficulty %q is not a number", v)
		}
		difficulty = n
	}
	if v := get(colScore); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, fmt.Errorf("score %q is not a number", v)
		}
		p.Score = &f
	}
	if v := get(colPageNum); v != "" {
		n, err := parseWholeNumber(v)
		if err != nil {
			return p, fmt.Errorf("page_num %q is not a number", v)
		}
		p.PageNum = &n
	}
	return p, nil
}

// parseWholeNumber accepts "3" and spreadsheet renderings such as "3.0".
func parseWholeNumber(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int(f)) {
		return 0, strconv.ErrSyntax
	}
	return int(f), nil
}

func splitList(v string, seps ...string) []string {
	for _, sep := range seps[1:] {
		v = strings.ReplaceAll(v, sep, seps[0])
	}
	parts := strings.Split(v, seps[0])
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
