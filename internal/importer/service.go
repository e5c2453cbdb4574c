package importer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/logger"
	"github.com/Adam5421/SmartAIExam/internal/oplog"
	"github.com/Adam5421/SmartAIExam/internal/question"
)

const maxReportedErrors = 50

type questionBank interface {
	LookupHashes(ctx context.Context, hashes []string) (map[string]int64, error)
	BatchCreate(ctx context.Context, items []question.Payload, actor string) (*question.BatchCreateResult, error)
}

// Observer receives per-status row counts after each parse.
type Observer interface {
	ImportClassified(status string, n int)
}

type Result struct {
	Filename string `json:"filename"`
	Total    int    `json:"total"`
	Items    []Item `json:"items"`
}

type Summary struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

type Service struct {
	bank  questionBank
	audit oplog.Recorder
	obs   Observer
	log   *logger.Logger
}

func NewService(bank questionBank, audit oplog.Recorder, obs Observer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{bank: bank, audit: audit, obs: obs, log: log.With("component", "importer")}
}

// Parse classifies every data row of an uploaded csv or xlsx file without
// persisting anything. The result depends only on the bytes and the bank's
// current content hashes.
func (s *Service) Parse(ctx context.Context, filename string, data []byte) (*Result, error) {
	t, err := readTable(filename, data)
	if err != nil {
		return nil, err
	}
	cols, err := mapColumns(t.header)
	if err != nil {
		return nil, err
	}

	cands := prepare(t, cols)
	bank, err := s.bank.LookupHashes(ctx, validHashes(cands))
	if err != nil {
		return nil, err
	}
	items := finalize(cands, bank)
	s.observe(items)

	return &Result{Filename: filename, Total: len(items), Items: items}, nil
}

// Import parses the file and submits the valid rows through batch create.
func (s *Service) Import(ctx context.Context, filename string, data []byte, actor string) (*Summary, error) {
	res, err := s.Parse(ctx, filename, data)
	if err != nil {
		return nil, err
	}

	type rowError struct {
		row int
		msg string
	}
	var rowErrs []rowError
	payloads := make([]question.Payload, 0, len(res.Items))
	rows := make([]int, 0, len(res.Items))
	for _, it := range res.Items {
		if it.Status == StatusValid {
			payloads = append(payloads, it.Data)
			rows = append(rows, it.RowIndex)
			continue
		}
		rowErrs = append(rowErrs, rowError{row: it.RowIndex, msg: strings.Join(it.Errors, "; ")})
	}

	summary := &Summary{Errors: []string{}}
	if len(payloads) > 0 {
		created, err := s.bank.BatchCreate(ctx, payloads, actor)
		if err != nil {
			return nil, err
		}
		summary.Success = len(created.Created)
		for _, f := range created.Failed {
			rowErrs = append(rowErrs, rowError{row: rows[f.Index], msg: f.Error})
		}
	}

	sort.SliceStable(rowErrs, func(i, j int) bool { return rowErrs[i].row < rowErrs[j].row })
	summary.Failed = len(rowErrs)
	for i, e := range rowErrs {
		if i == maxReportedErrors {
			break
		}
		summary.Errors = append(summary.Errors, fmt.Sprintf("Row %d: %s", e.row, e.msg))
	}

	s.record(ctx, actor, filename, summary)
	return summary, nil
}

func (s *Service) observe(items []Item) {
	if s.obs == nil {
		return
	}
	counts := map[string]int{StatusValid: 0, StatusDuplicate: 0, StatusInvalid: 0, StatusError: 0}
	for _, it := range items {
		counts[it.Status]++
	}
	for status, n := range counts {
		if n > 0 {
			s.obs.ImportClassified(status, n)
		}
	}
}

func (s *Service) record(ctx context.Context, actor, filename string, sum *Summary) {
	if sum.Failed > 0 {
		s.log.Warn("import finished with failures", "filename", filename, "success", sum.Success, "failed", sum.Failed)
	}
	if s.audit == nil {
		return
	}
	e := oplog.Entry{
		UserID:     actor,
		Action:     "batch_import",
		TargetType: "question",
		Details:    map[string]any{"filename": filename, "success": sum.Success, "failed": sum.Failed},
		Status:     oplog.StatusFor(sum.Success, sum.Failed),
	}
	if sum.Failed > 0 {
		msg := fmt.Sprintf("%d rows failed", sum.Failed)
		e.ErrorMessage = &msg
	}
	s.audit.Record(ctx, e)
}
