package club

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"schoolhub/internal/app/apiresp"
	"schoolhub/internal/app/validate"
	"schoolhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc clubService
}

type clubService interface {
	Create(ctx context.Context, in ClubInput) (*Club, error)
	List(ctx context.Context, activeOnly bool) ([]Club, error)
	Update(ctx context.Context, id int64, in ClubInput) (*Club, error)
	Deactivate(ctx context.Context, id int64) error
	Join(ctx context.Context, clubID, userID int64) error
	Leave(ctx context.Context, clubID, userID int64) error
	Members(ctx context.Context, clubID int64) ([]Member, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type clubRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Description string `json:"description" validate:"omitempty,max=2000"`
	AdvisorID   *int64 `json:"advisor_id" validate:"omitempty,gt=0"`
	MaxMembers  int    `json:"max_members" validate:"omitempty,gte=1,lte=500"`
}

func NewHandler(svc clubService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeClub(w, r)
	if !ok {
		return
	}
	club, err := h.svc.Create(r.Context(), ClubInput{
		Name:        req.Name,
		Description: req.Description,
		AdvisorID:   req.AdvisorID,
		MaxMembers:  req.MaxMembers,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: club})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("include_inactive") != "1"
	items, err := h.svc.List(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "clubID")
	if !ok {
		return
	}
	req, ok := decodeClub(w, r)
	if !ok {
		return
	}
	club, err := h.svc.Update(r.Context(), id, ClubInput{
		Name:        req.Name,
		Description: req.Description,
		AdvisorID:   req.AdvisorID,
		MaxMembers:  req.MaxMembers,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: club})
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "clubID")
	if !ok {
		return
	}
	if err := h.svc.Deactivate(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true})
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := parseIDParam(w, r, "clubID")
	if !ok {
		return
	}
	if err := h.svc.Join(r.Context(), id, user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true})
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := parseIDParam(w, r, "clubID")
	if !ok {
		return
	}
	if err := h.svc.Leave(r.Context(), id, user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true})
}

func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "clubID")
	if !ok {
		return
	}
	members, err := h.svc.Members(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: members})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrClubNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrClubFull), errors.Is(err, ErrAlreadyMember), errors.Is(err, ErrNotMember):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func decodeClub(w http.ResponseWriter, r *http.Request) (clubRequest, bool) {
	var req clubRequest
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
