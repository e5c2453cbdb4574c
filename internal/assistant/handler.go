package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Adam5421/SmartAIExam/internal/app/apiresp"
)

const maxParseBytes = 5 << 20

type Handler struct {
	svc assistantService
}

type assistantService interface {
	Generate(ctx context.Context, req GenerateRequest) (Result, error)
	ParseFile(filename string, data []byte) (string, error)
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Generate responds with the draft list; X-AI-Source tells whether the drafts came from the model.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.Generate(r.Context(), req)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	w.Header().Set("X-AI-Source", res.Source)
	apiresp.WriteJSON(w, http.StatusOK, res.Drafts)
}

func (h *Handler) ParseFile(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > maxParseBytes {
		apiresp.WriteError(w, r, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxParseBytes)
	if err := r.ParseMultipartForm(maxParseBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiresp.WriteError(w, r, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "failed to read file")
		return
	}
	text, err := h.svc.ParseFile(hdr.Filename, data)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, map[string]string{"text": text})
}
