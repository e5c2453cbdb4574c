package paper

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/app/apiresp"
	"github.com/Adam5421/SmartAIExam/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc paperService
}

type paperService interface {
	ListRules(ctx context.Context, skip, limit int) ([]Rule, error)
	GetRule(ctx context.Context, id int64) (*Rule, error)
	CreateRule(ctx context.Context, in RuleInput, actor string) (*Rule, error)
	UpdateRule(ctx context.Context, id int64, in RuleInput, actor string) (*Rule, error)
	DeleteRule(ctx context.Context, id int64, actor string) (*Rule, error)
	Generate(ctx context.Context, in GenerateInput, actor string) (*Paper, error)
	ListPapers(ctx context.Context, skip, limit int) ([]Paper, error)
	GetPaper(ctx context.Context, id int64) (*Paper, error)
	Export(ctx context.Context, id int64, format string, includeAnswers bool) (*Document, error)
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := parsePage(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListRules(r.Context(), skip, limit)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid rule id")
	if !ok {
		return
	}
	item, err := h.svc.GetRule(r.Context(), id)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.CreateRule(r.Context(), req, auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid rule id")
	if !ok {
		return
	}
	var req RuleInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.UpdateRule(r.Context(), id, req, auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid rule id")
	if !ok {
		return
	}
	item, err := h.svc.DeleteRule(r.Context(), id, auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.Generate(r.Context(), req, auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) ListPapers(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := parsePage(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListPapers(r.Context(), skip, limit)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) GetPaper(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid paper id")
	if !ok {
		return
	}
	item, err := h.svc.GetPaper(r.Context(), id)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid paper id")
	if !ok {
		return
	}
	includeAnswers := true
	if raw := strings.TrimSpace(r.URL.Query().Get("include_answers")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, "include_answers must be a boolean")
			return
		}
		includeAnswers = v
	}
	doc, err := h.svc.Export(r.Context(), id, r.URL.Query().Get("format"), includeAnswers)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteFile(w, doc.ContentType, doc.Filename, doc.Data)
}

func parseID(w http.ResponseWriter, r *http.Request, msg string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, msg)
		return 0, false
	}
	return id, true
}

func parsePage(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	skip, limit := 0, 100
	if raw := strings.TrimSpace(q.Get("skip")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apiresp.WriteError(w, r, http.StatusBadRequest, "skip must be a non-negative integer")
			return 0, 0, false
		}
		skip = n
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apiresp.WriteError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = n
	}
	return skip, limit, true
}
