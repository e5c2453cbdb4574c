package question

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/app/apiresp"
	"github.com/Adam5421/SmartAIExam/internal/auth"
	"github.com/Adam5421/SmartAIExam/internal/dedup"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc questionService
}

type questionService interface {
	Get(ctx context.Context, id int64) (*Question, error)
	List(ctx context.Context, f ListFilter) (*ListResult, error)
	Create(ctx context.Context, p Payload, actor string) (*Question, error)
	Update(ctx context.Context, id int64, p Payload, actor string) (*Question, error)
	Delete(ctx context.Context, id int64, actor string) (*Question, error)
	FindSimilar(ctx context.Context, content string, threshold float64, limit int, excludeID int64) ([]dedup.Match, error)
	BatchCreate(ctx context.Context, items []Payload, actor string) (*BatchCreateResult, error)
	BatchOperate(ctx context.Context, req BatchRequest, actor string) (*BatchResult, error)
	Review(ctx context.Context, id int64, in ReviewInput, actor string) (*Question, error)
	Export(ctx context.Context, f ListFilter, format, actor string) (*ExportFile, error)
}

type checkDuplicateRequest struct {
	Content   string  `json:"content"`
	Threshold float64 `json:"threshold"`
	Limit     int     `json:"limit"`
	ExcludeID int64   `json:"exclude_id"`
}

type checkDuplicateResponse struct {
	SimilarQuestions []dedup.Match `json:"similar_questions"`
}

type batchCreateRequest struct {
	Questions []Payload `json:"questions"`
}

type reviewRequest struct {
	Status   string `json:"status"`
	Comment  string `json:"comment"`
	Reviewer string `json:"reviewer"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f, msg := parseListFilter(r)
	if msg != "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, msg)
		return
	}
	res, err := h.svc.List(r.Context(), f)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, res)
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
	var req Payload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.Create(r.Context(), req, auth.Actor(r.Context()))
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
	var req Payload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.Update(r.Context(), id, req, auth.Actor(r.Context()))
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

func (h *Handler) CheckDuplicate(w http.ResponseWriter, r *http.Request) {
	var req checkDuplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	items, err := h.svc.FindSimilar(r.Context(), req.Content, req.Threshold, req.Limit, req.ExcludeID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, checkDuplicateResponse{SimilarQuestions: items})
}

// BatchCreate responds with the created questions. Per-index failures are
// counted in X-Batch-Failed, or returned in full with ?detailed=true.
func (h *Handler) BatchCreate(w http.ResponseWriter, r *http.Request) {
	var req batchCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.BatchCreate(r.Context(), req.Questions, auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	w.Header().Set("X-Batch-Failed", strconv.Itoa(len(res.Failed)))
	if detailed, _ := strconv.ParseBool(r.URL.Query().Get("detailed")); detailed {
		apiresp.WriteJSON(w, http.StatusOK, res)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, res.Created)
}

func (h *Handler) BatchOperate(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.BatchOperate(r.Context(), req, auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := h.svc.Review(r.Context(), id, ReviewInput{Status: req.Status, Comment: req.Comment, Reviewer: req.Reviewer}, auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	f, msg := parseListFilter(r)
	if msg != "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, msg)
		return
	}
	file, err := h.svc.Export(r.Context(), f, r.URL.Query().Get("format"), auth.Actor(r.Context()))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteFile(w, file.ContentType, file.Filename, file.Data)
}

func parseListFilter(r *http.Request) (ListFilter, string) {
	q := r.URL.Query()
	f := ListFilter{
		QType:     strings.TrimSpace(q.Get("q_type")),
		Tag:       strings.TrimSpace(q.Get("tag")),
		Search:    strings.TrimSpace(q.Get("search")),
		Status:    strings.TrimSpace(q.Get("status")),
		SourceDoc: strings.TrimSpace(q.Get("source_doc")),
		Limit:     100,
	}
	if f.Status == "" {
		f.Status = strings.TrimSpace(q.Get("review_status"))
	}
	if raw := strings.TrimSpace(q.Get("skip")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, "skip must be a non-negative integer"
		}
		f.Skip = n
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, "limit must be a positive integer"
		}
		f.Limit = n
	}
	if raw := strings.TrimSpace(q.Get("difficulty")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 5 {
			return f, "difficulty must be between 1 and 5"
		}
		f.Difficulty = &n
	}
	return f, ""
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question id")
		return 0, false
	}
	return id, true
}
