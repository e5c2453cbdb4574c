package tag

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Adam5421/SmartAIExam/internal/app/apiresp"
	"github.com/Adam5421/SmartAIExam/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc tagService
}

type tagService interface {
	List(ctx context.Context) ([]Tag, error)
	Get(ctx context.Context, id int64) (*Tag, error)
	Create(ctx context.Context, in Input) (*Tag, error)
	Update(ctx context.Context, id int64, in Input) (*Tag, error)
	Delete(ctx context.Context, id int64, actor string) (*Tag, error)
}

type tagRequest struct {
	Name     string          `json:"name"`
	ParentID json.RawMessage `json:"parent_id"`
}

// input converts the request; an absent parent_id differs from an explicit null.
func (req tagRequest) input(actor string) (Input, error) {
	in := Input{Name: req.Name, Actor: actor}
	if len(req.ParentID) == 0 {
		return in, nil
	}
	in.ParentSet = true
	if string(req.ParentID) == "null" {
		return in, nil
	}
	var parent int64
	if err := json.Unmarshal(req.ParentID, &parent); err != nil {
		return in, err
	}
	in.ParentID = &parent
	return in, nil
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.Get(r.Context(), id)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	in, err := req.input(auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid parent_id")
		return
	}
	item, err := h.svc.Create(r.Context(), in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	in, err := req.input(auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid parent_id")
		return
	}
	item, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.Delete(r.Context(), id, auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, item)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid tag id")
		return 0, false
	}
	return id, true
}
