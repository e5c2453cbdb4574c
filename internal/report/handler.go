package report

import (
	"context"
	"net/http"

	"github.com/Adam5421/SmartAIExam/internal/app/apiresp"
)

type Handler struct {
	svc reportService
}

type reportService interface {
	Availability(ctx context.Context, tags []string) (*Availability, error)
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Availability accepts tags either repeated or comma separated.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Availability(r.Context(), r.URL.Query()["tags"])
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, res)
}
