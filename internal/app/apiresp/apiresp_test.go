package apiresp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("%w: content is required", apperr.ErrValidation), want: http.StatusBadRequest},
		{err: fmt.Errorf("%w: weights", apperr.ErrInvalidRule), want: http.StatusBadRequest},
		{err: &apperr.DuplicateContentError{ExistingID: 3}, want: http.StatusConflict},
		{err: apperr.ErrInvalidStateTransition, want: http.StatusConflict},
		{err: &apperr.InsufficientQuestionsError{}, want: http.StatusUnprocessableEntity},
		{err: apperr.ErrNotFound, want: http.StatusNotFound},
		{err: apperr.ErrStoreUnavailable, want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := StatusOf(tc.err); got != tc.want {
			t.Fatalf("StatusOf(%v)=%d want %d", tc.err, got, tc.want)
		}
	}
}

func TestWriteErrDuplicateCarriesExistingID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/questions/", nil)
	rr := httptest.NewRecorder()
	WriteErr(rr, req, &apperr.DuplicateContentError{ExistingID: 42})

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["kind"] != "duplicate_content" {
		t.Fatalf("unexpected kind: %v", body["kind"])
	}
	if body["existing_id"] != float64(42) {
		t.Fatalf("unexpected existing_id: %v", body["existing_id"])
	}
}

func TestWriteErrInsufficientListsShortfalls(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/papers/generate", nil)
	rr := httptest.NewRecorder()
	WriteErr(rr, req, &apperr.InsufficientQuestionsError{Shortfalls: []apperr.Shortfall{
		{Type: "multi", Difficulty: "*", Requested: 1, Available: 0},
	}})

	var body struct {
		Kind       string             `json:"kind"`
		Shortfalls []apperr.Shortfall `json:"shortfalls"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != "insufficient_questions" || len(body.Shortfalls) != 1 || body.Shortfalls[0].Type != "multi" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestWriteErrHidesInternalDetail(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/questions/", nil)
	rr := httptest.NewRecorder()
	WriteErr(rr, req, errors.New("pq: relation does not exist"))

	var body map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["detail"] != "internal error" {
		t.Fatalf("internal errors must not leak: %v", body["detail"])
	}
}

func TestWriteErrStoreUnavailableSetsRetryAfter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/questions/", nil)
	rr := httptest.NewRecorder()
	WriteErr(rr, req, fmt.Errorf("%w: list", apperr.ErrStoreUnavailable))
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}
