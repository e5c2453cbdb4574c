package question

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/xuri/excelize/v2"
)

func sampleQuestions() []Question {
	return []Question{
		{ID: 7, CustomID: strPtr("S-20240101-1234"), QType: TypeSingle, Content: "Pick, one", Options: []string{"A", "B"}, Answer: strPtr("A"), Difficulty: 2, Tags: []string{"math", "algebra"}, Status: StatusPublished},
		{ID: 8, QType: TypeEssay, Content: "Explain", Difficulty: 4, Tags: []string{}, Status: StatusDraft},
	}
}

func TestRenderExportCSV(t *testing.T) {
	file, err := renderExport(sampleQuestions(), ExportCSV)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if file.Count != 2 || file.Filename != "questions_export.csv" {
		t.Fatalf("unexpected file meta: %+v", file)
	}
	data := bytes.TrimPrefix(file.Data, []byte("\ufeff"))
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "ID" || rows[0][3] != "Options" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	if rows[1][0] != "S-20240101-1234" || rows[1][2] != "Pick, one" || rows[1][3] != "A\nB" || rows[1][7] != "math,algebra" {
		t.Fatalf("unexpected first row: %q", rows[1])
	}
	if rows[2][0] != "8" || rows[2][4] != "" {
		t.Fatalf("unexpected second row: %q", rows[2])
	}
}

func TestRenderExportXLSX(t *testing.T) {
	file, err := renderExport(sampleQuestions(), ExportXLSX)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(file.Data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 || rows[1][1] != TypeSingle || rows[2][2] != "Explain" {
		t.Fatalf("unexpected rows: %q", rows)
	}
}
