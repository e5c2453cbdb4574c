package apiresp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Adam5421/SmartAIExam/internal/apperr"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorBody is the error shape shared by every endpoint. Detail is the human
// message; Kind is the machine-readable error kind.
type ErrorBody struct {
	Detail     string             `json:"detail"`
	Kind       string             `json:"kind"`
	RequestID  string             `json:"request_id,omitempty"`
	ExistingID *int64             `json:"existing_id,omitempty"`
	Shortfalls []apperr.Shortfall `json:"shortfalls,omitempty"`
}

// WriteJSON writes v as the raw response body; dashboard clients read these field names directly.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	WriteJSON(w, status, ErrorBody{
		Detail:    msg,
		Kind:      codeFromStatus(status),
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// WriteErr maps a domain error onto its HTTP status and error body.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	body := ErrorBody{
		Detail:    err.Error(),
		Kind:      apperr.Kind(err),
		RequestID: middleware.GetReqID(r.Context()),
	}
	if status == http.StatusInternalServerError {
		body.Detail = "internal error"
	}

	var dup *apperr.DuplicateContentError
	if errors.As(err, &dup) && dup.ExistingID > 0 {
		id := dup.ExistingID
		body.ExistingID = &id
	}
	var insufficient *apperr.InsufficientQuestionsError
	if errors.As(err, &insufficient) {
		body.Shortfalls = insufficient.Shortfalls
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, status, body)
}

func StatusOf(err error) int {
	switch apperr.Kind(err) {
	case "validation", "invalid_rule":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "duplicate_content", "conflict", "invalid_state_transition":
		return http.StatusConflict
	case "insufficient_questions":
		return http.StatusUnprocessableEntity
	case "unsupported":
		return http.StatusUnsupportedMediaType
	case "store_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteFile sends a download with the given content type and filename.
func WriteFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusUnsupportedMediaType:
		return "unsupported"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "store_unavailable"
	case http.StatusInternalServerError:
		return "internal"
	default:
		if status >= 200 && status < 300 {
			return ""
		}
		return "error"
	}
}
