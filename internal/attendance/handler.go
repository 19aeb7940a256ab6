package attendance

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
	svc attendanceService
}

type attendanceService interface {
	Record(ctx context.Context, classID int64, date string, recordedBy int64, entries []Entry) (*Sheet, error)
	Sheet(ctx context.Context, classID int64, date string) (*Sheet, error)
	StudentSummary(ctx context.Context, studentID int64, from, to string) (*Summary, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type entryRequest struct {
	StudentID int64  `json:"student_id" validate:"required,gt=0"`
	Status    string `json:"status" validate:"required,oneof=present absent late excused"`
	Note      string `json:"note" validate:"omitempty,max=500"`
}

type recordRequest struct {
	Date    string         `json:"date" validate:"required,datetime=2006-01-02"`
	Entries []entryRequest `json:"entries" validate:"required,min=1,max=100,dive"`
}

func NewHandler(svc attendanceService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	classID, ok := parseIDParam(w, r, "classID")
	if !ok {
		return
	}

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return
	}

	entries := make([]Entry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, Entry{StudentID: e.StudentID, Status: e.Status, Note: e.Note})
	}

	sheet, err := h.svc.Record(r.Context(), classID, req.Date, user.ID, entries)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: sheet})
}

func (h *Handler) Sheet(w http.ResponseWriter, r *http.Request) {
	classID, ok := parseIDParam(w, r, "classID")
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "date is required"})
		return
	}

	sheet, err := h.svc.Sheet(r.Context(), classID, date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: sheet})
}

// StudentSummary lets a student read their own counts; staff may read any
// student's.
func (h *Handler) StudentSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	studentID, ok := parseIDParam(w, r, "studentID")
	if !ok {
		return
	}
	if user.Role == "student" && user.ID != studentID {
		writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "forbidden"})
		return
	}

	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "from and to are required"})
		return
	}

	summary, err := h.svc.StudentSummary(r.Context(), studentID, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: summary})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrBadStatus):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrClassNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
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
