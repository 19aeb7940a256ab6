package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"schoolhub/internal/app/apiresp"
	"schoolhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc attemptService
}

type attemptService interface {
	StartAttempt(ctx context.Context, quizID, studentID int64) (*Attempt, error)
	GetAttemptSummary(ctx context.Context, publicID string) (*AttemptSummary, error)
	CurrentQuestion(ctx context.Context, publicID string) (*AttemptQuestion, error)
	SubmitAnswer(ctx context.Context, publicID string, questionID int64, selectedOptionID *int64) (*AnswerVerdict, error)
	Complete(ctx context.Context, publicID string) (*AttemptSummary, error)
	GetAttemptResult(ctx context.Context, publicID string) (*Result, error)
	GetAttemptOwner(ctx context.Context, publicID string) (int64, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type startAttemptRequest struct {
	QuizID    int64 `json:"quiz_id"`
	StudentID int64 `json:"student_id"`
}

type submitAnswerRequest struct {
	SelectedOptionID *int64 `json:"selected_option_id"`
}

func NewHandler(svc attemptService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if req.QuizID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "quiz_id is required"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	isPrivileged := user.Role == "admin" || user.Role == "teacher"
	if isPrivileged {
		if req.StudentID <= 0 {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "student_id is required for admin/teacher"})
			return
		}
	} else {
		if req.StudentID > 0 && req.StudentID != user.ID {
			writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
			return
		}
		req.StudentID = user.ID
	}

	attempt, err := h.svc.StartAttempt(r.Context(), req.QuizID, req.StudentID)
	if err != nil {
		switch {
		case errors.Is(err, ErrQuizNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrQuizEmpty):
			writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrAttemptInProgress):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: attempt})
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	publicID, ok := h.authorizeAttempt(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.GetAttemptSummary(r.Context(), publicID)
	if err != nil {
		h.writeAttemptError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: summary})
}

func (h *Handler) CurrentQuestion(w http.ResponseWriter, r *http.Request) {
	publicID, ok := h.authorizeAttempt(w, r)
	if !ok {
		return
	}
	question, err := h.svc.CurrentQuestion(r.Context(), publicID)
	if err != nil {
		h.writeAttemptError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: question})
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	publicID, ok := h.authorizeAttempt(w, r)
	if !ok {
		return
	}
	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil || questionID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid question id"})
		return
	}

	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	verdict, err := h.svc.SubmitAnswer(r.Context(), publicID, questionID, req.SelectedOptionID)
	if err != nil {
		h.writeAttemptError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: verdict})
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	publicID, ok := h.authorizeAttempt(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.Complete(r.Context(), publicID)
	if err != nil {
		h.writeAttemptError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: summary})
}

func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	publicID, ok := h.authorizeAttempt(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetAttemptResult(r.Context(), publicID)
	if err != nil {
		h.writeAttemptError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: result})
}

// authorizeAttempt checks that the caller owns the attempt in the URL, or is
// privileged. It writes the error response itself when the check fails.
func (h *Handler) authorizeAttempt(w http.ResponseWriter, r *http.Request) (string, bool) {
	publicID := chi.URLParam(r, "id")
	if publicID == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid attempt id"})
		return "", false
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return "", false
	}
	if user.Role == "admin" || user.Role == "teacher" {
		return publicID, true
	}

	ownerID, err := h.svc.GetAttemptOwner(r.Context(), publicID)
	if err != nil {
		h.writeAttemptError(w, r, err)
		return "", false
	}
	if ownerID != user.ID {
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
		return "", false
	}
	return publicID, true
}

func (h *Handler) writeAttemptError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAttemptNotFound), errors.Is(err, ErrQuizNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAttemptCompleted),
		errors.Is(err, ErrAttemptNotFinal),
		errors.Is(err, ErrOutOfOrderSubmission),
		errors.Is(err, ErrNoMoreQuestions):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrOptionNotInQuestion):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAttemptForbidden):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAnswerKeyIntegrity):
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "question answer key is invalid"})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
