package importer

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Adam5421/SmartAIExam/internal/app/apiresp"
	"github.com/Adam5421/SmartAIExam/internal/auth"
)

const DefaultMaxBytes = 10 << 20

type Handler struct {
	svc      importService
	maxBytes int64
}

type importService interface {
	Parse(ctx context.Context, filename string, data []byte) (*Result, error)
	Import(ctx context.Context, filename string, data []byte, actor string) (*Summary, error)
}

func NewHandler(svc *Service, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Handler{svc: svc, maxBytes: maxBytes}
}

func (h *Handler) ParseImport(w http.ResponseWriter, r *http.Request) {
	name, data, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Parse(r.Context(), name, data)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	name, data, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	sum, err := h.svc.Import(r.Context(), name, data, auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	if r.ContentLength > h.maxBytes {
		apiresp.WriteError(w, r, http.StatusRequestEntityTooLarge, "file too large")
		return "", nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiresp.WriteError(w, r, http.StatusRequestEntityTooLarge, "file too large")
			return "", nil, false
		}
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid multipart form")
		return "", nil, false
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file field is required")
		return "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "failed to read file")
		return "", nil, false
	}
	return hdr.Filename, data, true
}
