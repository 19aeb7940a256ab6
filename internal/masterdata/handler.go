package masterdata

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
	svc masterdataService
}

type masterdataService interface {
	CreateSubject(ctx context.Context, actorID int64, name string) (*Subject, error)
	ListSubjects(ctx context.Context, activeOnly bool) ([]Subject, error)
	UpdateSubject(ctx context.Context, actorID, id int64, name string, isActive bool) (*Subject, error)
	DeleteSubject(ctx context.Context, actorID, id int64) error
	CreateClass(ctx context.Context, actorID int64, in ClassInput) (*Class, error)
	ListClasses(ctx context.Context, activeOnly bool) ([]Class, error)
	UpdateClass(ctx context.Context, actorID, id int64, in ClassInput) (*Class, error)
	DeleteClass(ctx context.Context, actorID, id int64) error
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type subjectRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	IsActive *bool  `json:"is_active"`
}

type classRequest struct {
	Name              string `json:"name" validate:"required,min=1,max=50"`
	GradeLevel        string `json:"grade_level" validate:"required,min=1,max=10"`
	HomeroomTeacherID *int64 `json:"homeroom_teacher_id" validate:"omitempty,gt=0"`
}

func NewHandler(svc masterdataService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	req, ok := decodeSubject(w, r)
	if !ok {
		return
	}

	subject, err := h.svc.CreateSubject(r.Context(), actor.ID, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: subject})
}

func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("include_inactive") != "1"
	items, err := h.svc.ListSubjects(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) UpdateSubject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, r, "subjectID")
	if !ok {
		return
	}
	req, ok := decodeSubject(w, r)
	if !ok {
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	subject, err := h.svc.UpdateSubject(r.Context(), actor.ID, id, req.Name, isActive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: subject})
}

func (h *Handler) DeleteSubject(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, r, "subjectID")
	if !ok {
		return
	}
	if err := h.svc.DeleteSubject(r.Context(), actor.ID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true})
}

func (h *Handler) CreateClass(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	req, ok := decodeClass(w, r)
	if !ok {
		return
	}

	class, err := h.svc.CreateClass(r.Context(), actor.ID, ClassInput{
		Name:              req.Name,
		GradeLevel:        req.GradeLevel,
		HomeroomTeacherID: req.HomeroomTeacherID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: class})
}

func (h *Handler) ListClasses(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("include_inactive") != "1"
	items, err := h.svc.ListClasses(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) UpdateClass(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, r, "classID")
	if !ok {
		return
	}
	req, ok := decodeClass(w, r)
	if !ok {
		return
	}

	class, err := h.svc.UpdateClass(r.Context(), actor.ID, id, ClassInput{
		Name:              req.Name,
		GradeLevel:        req.GradeLevel,
		HomeroomTeacherID: req.HomeroomTeacherID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: class})
}

func (h *Handler) DeleteClass(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, r, "classID")
	if !ok {
		return
	}
	if err := h.svc.DeleteClass(r.Context(), actor.ID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSubjectNotFound), errors.Is(err, ErrClassNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSubjectInUse), errors.Is(err, ErrClassNotEmpty):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return nil, false
	}
	return user, true
}

func decodeSubject(w http.ResponseWriter, r *http.Request) (subjectRequest, bool) {
	var req subjectRequest
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

func decodeClass(w http.ResponseWriter, r *http.Request) (classRequest, bool) {
	var req classRequest
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
