package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockImportService struct {
	parseFn  func(ctx context.Context, filename string, data []byte) (*Result, error)
	importFn func(ctx context.Context, filename string, data []byte, actor string) (*Summary, error)
}

func (m *mockImportService) Parse(ctx context.Context, filename string, data []byte) (*Result, error) {
	if m.parseFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.parseFn(ctx, filename, data)
}

func (m *mockImportService) Import(ctx context.Context, filename string, data []byte, actor string) (*Summary, error) {
	if m.importFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.importFn(ctx, filename, data, actor)
}

func multipartRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(content)
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestParseImportHandler(t *testing.T) {
	h := &Handler{maxBytes: DefaultMaxBytes, svc: &mockImportService{
		parseFn: func(ctx context.Context, filename string, data []byte) (*Result, error) {
			if filename != "bank.csv" || string(data) != "content\nq\n" {
				t.Fatalf("unexpected upload: %s %q", filename, data)
			}
			return &Result{Filename: filename, Total: 1, Items: []Item{{RowIndex: 1, Status: StatusValid, Errors: []string{}}}}, nil
		},
	}}

	rr := httptest.NewRecorder()
	h.ParseImport(rr, multipartRequest(t, "/questions/parse_import", "bank.csv", []byte("content\nq\n")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["filename"] != "bank.csv" || out["total"] != float64(1) {
		t.Fatalf("unexpected body: %v", out)
	}
}

func TestParseImportRequiresFile(t *testing.T) {
	h := &Handler{maxBytes: DefaultMaxBytes, svc: &mockImportService{}}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("note", "no file")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/questions/parse_import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := httptest.NewRecorder()
	h.ParseImport(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestParseImportTooLarge(t *testing.T) {
	h := &Handler{maxBytes: 64, svc: &mockImportService{}}
	rr := httptest.NewRecorder()
	h.ParseImport(rr, multipartRequest(t, "/questions/parse_import", "big.csv", bytes.Repeat([]byte("x"), 1024)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestImportHandlerReturnsSummary(t *testing.T) {
	h := &Handler{maxBytes: DefaultMaxBytes, svc: &mockImportService{
		importFn: func(ctx context.Context, filename string, data []byte, actor string) (*Summary, error) {
			return &Summary{Success: 2, Failed: 1, Errors: []string{"Row 3: duplicate question exists"}}, nil
		},
	}}
	rr := httptest.NewRecorder()
	h.Import(rr, multipartRequest(t, "/questions/import", "bank.csv", []byte("content\na\n")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Success != 2 || out.Failed != 1 || len(out.Errors) != 1 {
		t.Fatalf("unexpected summary: %+v", out)
	}
}
