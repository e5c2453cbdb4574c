package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/Adam5421/SmartAIExam/internal/apperr"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type table struct {
	header  []string
	records []record
}

// record is one data row. index is 1-based and excludes the header.
type record struct {
	index int
	cells []string
	err   error
}

func readTable(filename string, data []byte) (*table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return readCSV(data)
	case ".xlsx", ".xlsm":
		return readXLSX(data)
	default:
		return nil, fmt.Errorf("%w: unsupported file format %q, use .csv or .xlsx", apperr.ErrUnsupported, filepath.Ext(filename))
	}
}

// readCSV reads UTF-8 input, falling back to GBK for files saved by legacy spreadsheet tools.
func readCSV(data []byte) (*table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("%w: csv is neither utf-8 nor gbk encoded", apperr.ErrValidation)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", apperr.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", apperr.ErrValidation, err)
	}

	t := &table{header: header}
	for idx := 1; ; idx++ {
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		t.records = append(t.records, record{index: idx, cells: cells, err: err})
	}
	return t, nil
}

func readXLSX(data []byte) (*table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %v", apperr.ErrValidation, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", apperr.ErrValidation)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read rows: %v", apperr.ErrValidation, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: file is empty", apperr.ErrValidation)
	}

	t := &table{header: rows[0]}
	for i, cells := range rows[1:] {
		t.records = append(t.records, record{index: i + 1, cells: cells})
	}
	return t, nil
}

func (r record) blank() bool {
	if r.err != nil {
		return false
	}
	for _, c := range r.cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
