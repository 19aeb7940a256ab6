package news

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"schoolhub/internal/app/apiresp"
	"schoolhub/internal/app/validate"
	"schoolhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc newsService
}

type newsService interface {
	Create(ctx context.Context, authorID int64, in ArticleInput) (*Article, error)
	Update(ctx context.Context, id int64, in ArticleInput) (*Article, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64, publishedOnly bool) (*Article, error)
	List(ctx context.Context, publishedOnly bool, page, pageSize int) (*ArticlePage, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type articleRequest struct {
	Title       string `json:"title" validate:"required,min=3,max=300"`
	Body        string `json:"body" validate:"required,min=10"`
	IsPublished bool   `json:"is_published"`
}

func NewHandler(svc newsService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	req, ok := decodeArticle(w, r)
	if !ok {
		return
	}

	article, err := h.svc.Create(r.Context(), user.ID, ArticleInput{
		Title:       req.Title,
		Body:        req.Body,
		IsPublished: req.IsPublished,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: article})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "articleID")
	if !ok {
		return
	}
	req, ok := decodeArticle(w, r)
	if !ok {
		return
	}

	article, err := h.svc.Update(r.Context(), id, ArticleInput{
		Title:       req.Title,
		Body:        req.Body,
		IsPublished: req.IsPublished,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: article})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "articleID")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true})
}

// Get serves drafts to staff and only published articles to everyone else.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "articleID")
	if !ok {
		return
	}

	article, err := h.svc.Get(r.Context(), id, !isStaff(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: article})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	pageSize := intQuery(r, "page_size", 20)

	publishedOnly := true
	if isStaff(r) && r.URL.Query().Get("include_drafts") == "1" {
		publishedOnly = false
	}

	result, err := h.svc.List(r.Context(), publishedOnly, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: result})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func isStaff(r *http.Request) bool {
	user, ok := auth.CurrentUser(r.Context())
	return ok && (user.Role == "admin" || user.Role == "teacher")
}

func decodeArticle(w http.ResponseWriter, r *http.Request) (articleRequest, bool) {
	var req articleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return req, false
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return req, false
	}
	return req, true
}

func intQuery(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid " + name})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
