package library

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
	svc libraryService
}

type libraryService interface {
	CreateItem(ctx context.Context, in ItemInput) (*Item, error)
	SearchItems(ctx context.Context, q, category string, page, pageSize int) (*ItemPage, error)
	UpdateItem(ctx context.Context, id int64, in ItemInput) (*Item, error)
	DeleteItem(ctx context.Context, id int64) error
	Borrow(ctx context.Context, itemID, memberID int64) (*Loan, error)
	Return(ctx context.Context, loanID, memberID int64, force bool) (*Loan, error)
	ListLoans(ctx context.Context, memberID int64, openOnly bool) ([]Loan, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type itemRequest struct {
	Title       string `json:"title" validate:"required,min=1,max=300"`
	Author      string `json:"author" validate:"required,min=1,max=200"`
	ISBN        string `json:"isbn" validate:"omitempty,max=20"`
	Category    string `json:"category" validate:"omitempty,max=100"`
	TotalCopies int    `json:"total_copies" validate:"required,gte=1,lte=1000"`
}

func NewHandler(svc libraryService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	item, err := h.svc.CreateItem(r.Context(), ItemInput{
		Title:       req.Title,
		Author:      req.Author,
		ISBN:        req.ISBN,
		Category:    req.Category,
		TotalCopies: req.TotalCopies,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) SearchItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	category := r.URL.Query().Get("category")
	page := intQuery(r, "page", 1)
	pageSize := intQuery(r, "page_size", 20)

	result, err := h.svc.SearchItems(r.Context(), q, category, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: result})
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "itemID")
	if !ok {
		return
	}
	req, ok := decodeItem(w, r)
	if !ok {
		return
	}
	item, err := h.svc.UpdateItem(r.Context(), id, ItemInput{
		Title:       req.Title,
		Author:      req.Author,
		ISBN:        req.ISBN,
		Category:    req.Category,
		TotalCopies: req.TotalCopies,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "itemID")
	if !ok {
		return
	}
	if err := h.svc.DeleteItem(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true})
}

func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	itemID, ok := parseIDParam(w, r, "itemID")
	if !ok {
		return
	}

	loan, err := h.svc.Borrow(r.Context(), itemID, user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: loan})
}

func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	loanID, ok := parseIDParam(w, r, "loanID")
	if !ok {
		return
	}

	force := user.Role == "admin" || user.Role == "librarian"
	loan, err := h.svc.Return(r.Context(), loanID, user.ID, force)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: loan})
}

func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	memberID := user.ID
	if user.Role == "admin" || user.Role == "librarian" {
		memberID = 0
		if raw := strings.TrimSpace(r.URL.Query().Get("member_id")); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v <= 0 {
				writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid member_id"})
				return
			}
			memberID = v
		}
	}
	openOnly := r.URL.Query().Get("open") == "1"

	loans, err := h.svc.ListLoans(r.Context(), memberID, openOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: loans})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrLoanNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrNoCopies),
		errors.Is(err, ErrAlreadyOnLoan),
		errors.Is(err, ErrItemHasLoans),
		errors.Is(err, ErrAlreadyReturned):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrLoanNotOwned):
		writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func decodeItem(w http.ResponseWriter, r *http.Request) (itemRequest, bool) {
	var req itemRequest
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
