package report

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"schoolhub/internal/app/apiresp"
	"schoolhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc reportService
}

type reportService interface {
	QuizResults(ctx context.Context, quizID int64) (*QuizReport, error)
	StudentTranscript(ctx context.Context, studentID int64) ([]TranscriptEntry, error)
	ExportQuizResultsExcel(ctx context.Context, quizID int64) ([]byte, string, error)
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) QuizResults(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "quizID")
	if !ok {
		return
	}
	report, err := h.svc.QuizResults(r.Context(), quizID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, report)
}

func (h *Handler) ExportQuizResults(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "quizID")
	if !ok {
		return
	}
	data, filename, err := h.svc.ExportQuizResultsExcel(r.Context(), quizID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// StudentTranscript serves a student's own history; staff may read any
// student's.
func (h *Handler) StudentTranscript(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	studentID, ok := parseIDParam(w, r, "studentID")
	if !ok {
		return
	}
	if user.Role == "student" && user.ID != studentID {
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	entries, err := h.svc.StudentTranscript(r.Context(), studentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, entries)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrQuizNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
