package oplog

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/app/apiresp"
)

type Handler struct {
	svc logService
}

type logService interface {
	List(ctx context.Context, skip, limit int) ([]Entry, error)
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	items, err := h.svc.List(r.Context(), skip, limit)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, items)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
