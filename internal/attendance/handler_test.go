package attendance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"schoolhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockAttendanceService struct {
	recordFn  func(ctx context.Context, classID int64, date string, recordedBy int64, entries []Entry) (*Sheet, error)
	sheetFn   func(ctx context.Context, classID int64, date string) (*Sheet, error)
	summaryFn func(ctx context.Context, studentID int64, from, to string) (*Summary, error)
}

func (m *mockAttendanceService) Record(ctx context.Context, classID int64, date string, recordedBy int64, entries []Entry) (*Sheet, error) {
	return m.recordFn(ctx, classID, date, recordedBy, entries)
}

func (m *mockAttendanceService) Sheet(ctx context.Context, classID int64, date string) (*Sheet, error) {
	return m.sheetFn(ctx, classID, date)
}

func (m *mockAttendanceService) StudentSummary(ctx context.Context, studentID int64, from, to string) (*Summary, error) {
	return m.summaryFn(ctx, studentID, from, to)
}

func newAttendanceRouter(svc attendanceService) *chi.Mux {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Post("/classes/{classID}/attendance", h.Record)
	r.Get("/classes/{classID}/attendance", h.Sheet)
	r.Get("/students/{studentID}/attendance/summary", h.StudentSummary)
	return r
}

func TestRecordAttendance(t *testing.T) {
	var gotClassID, gotRecordedBy int64
	var gotEntries []Entry
	router := newAttendanceRouter(&mockAttendanceService{
		recordFn: func(ctx context.Context, classID int64, date string, recordedBy int64, entries []Entry) (*Sheet, error) {
			gotClassID, gotRecordedBy, gotEntries = classID, recordedBy, entries
			return &Sheet{ClassID: classID, Date: date, RecordedBy: recordedBy, Entries: entries}, nil
		},
	})

	body := `{"date":"2026-03-02","entries":[{"student_id":9,"status":"present"},{"student_id":10,"status":"late","note":"bus"}]}`
	req := httptest.NewRequest(http.MethodPost, "/classes/4/attendance", strings.NewReader(body))
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 3, Role: "teacher"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotClassID != 4 || gotRecordedBy != 3 || len(gotEntries) != 2 {
		t.Fatalf("unexpected call: class=%d by=%d entries=%d", gotClassID, gotRecordedBy, len(gotEntries))
	}
}

func TestRecordAttendanceRejectsBadStatus(t *testing.T) {
	router := newAttendanceRouter(&mockAttendanceService{
		recordFn: func(ctx context.Context, classID int64, date string, recordedBy int64, entries []Entry) (*Sheet, error) {
			t.Fatal("service must not be called for invalid status")
			return nil, nil
		},
	})

	body := `{"date":"2026-03-02","entries":[{"student_id":9,"status":"vacationing"}]}`
	req := httptest.NewRequest(http.MethodPost, "/classes/4/attendance", strings.NewReader(body))
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 3, Role: "teacher"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStudentSummaryOwnOnly(t *testing.T) {
	router := newAttendanceRouter(&mockAttendanceService{
		summaryFn: func(ctx context.Context, studentID int64, from, to string) (*Summary, error) {
			return &Summary{StudentID: studentID, From: from, To: to}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/students/42/attendance/summary?from=2026-01-01&to=2026-01-31", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 9, Role: "student"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStudentSummaryStaffAccess(t *testing.T) {
	var gotStudentID int64
	router := newAttendanceRouter(&mockAttendanceService{
		summaryFn: func(ctx context.Context, studentID int64, from, to string) (*Summary, error) {
			gotStudentID = studentID
			return &Summary{StudentID: studentID, From: from, To: to, Present: 18, Total: 20}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/students/42/attendance/summary?from=2026-01-01&to=2026-01-31", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 3, Role: "teacher"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotStudentID != 42 {
		t.Fatalf("expected student 42, got %d", gotStudentID)
	}
}
