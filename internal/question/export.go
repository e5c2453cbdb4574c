package question

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/apperr"

	"github.com/xuri/excelize/v2"
)

const (
	ExportCSV  = "csv"
	ExportXLSX = "xlsx"
)

var exportHeaders = []string{"ID", "Type", "Content", "Options", "Answer", "Analysis", "Difficulty", "Tags", "Status"}

type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
	Count       int
}

// Export renders every question matching f. Columns read back through the importer.
func (s *Service) Export(ctx context.Context, f ListFilter, format, actor string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportCSV
	}
	if format != ExportCSV && format != ExportXLSX {
		return nil, fmt.Errorf("%w: export format %q", apperr.ErrUnsupported, format)
	}

	items, err := s.listAll(ctx, f)
	var out *ExportFile
	if err == nil {
		out, err = renderExport(items, format)
	}

	details := map[string]any{"format": format, "filters": map[string]any{"q_type": f.QType, "tag": f.Tag, "status": f.Status, "difficulty": f.Difficulty}}
	if out != nil {
		details["count"] = out.Count
	}
	s.record(ctx, actor, "export", nil, details, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func renderExport(items []Question, format string) (*ExportFile, error) {
	rows := make([][]string, 0, len(items))
	for _, q := range items {
		rows = append(rows, exportRow(q))
	}

	switch format {
	case ExportXLSX:
		data, err := renderXLSX(rows)
		if err != nil {
			return nil, err
		}
		return &ExportFile{
			Filename:    "questions_export.xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
			Count:       len(items),
		}, nil
	default:
		data, err := renderCSV(rows)
		if err != nil {
			return nil, err
		}
		return &ExportFile{
			Filename:    "questions_export.csv",
			ContentType: "text/csv; charset=utf-8",
			Data:        data,
			Count:       len(items),
		}, nil
	}
}

func exportRow(q Question) []string {
	id := strconv.FormatInt(q.ID, 10)
	if q.CustomID != nil && *q.CustomID != "" {
		id = *q.CustomID
	}
	return []string{
		id,
		q.QType,
		q.Content,
		strings.Join(q.Options, "\n"),
		deref(q.Answer),
		deref(q.Analysis),
		strconv.Itoa(q.Difficulty),
		strings.Join(q.Tags, ","),
		q.Status,
	}
}

func renderCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	// BOM so spreadsheet tools detect UTF-8.
	buf.WriteString("\ufeff")
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeaders); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}

func renderXLSX(rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "B", 14)
	_ = f.SetColWidth(sheet, "C", "F", 40)
	_ = f.SetColWidth(sheet, "G", "I", 14)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
