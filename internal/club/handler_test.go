package club

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"schoolhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockClubService struct {
	createFn     func(ctx context.Context, in ClubInput) (*Club, error)
	listFn       func(ctx context.Context, activeOnly bool) ([]Club, error)
	updateFn     func(ctx context.Context, id int64, in ClubInput) (*Club, error)
	deactivateFn func(ctx context.Context, id int64) error
	joinFn       func(ctx context.Context, clubID, userID int64) error
	leaveFn      func(ctx context.Context, clubID, userID int64) error
	membersFn    func(ctx context.Context, clubID int64) ([]Member, error)
}

func (m *mockClubService) Create(ctx context.Context, in ClubInput) (*Club, error) {
	return m.createFn(ctx, in)
}

func (m *mockClubService) List(ctx context.Context, activeOnly bool) ([]Club, error) {
	return m.listFn(ctx, activeOnly)
}

func (m *mockClubService) Update(ctx context.Context, id int64, in ClubInput) (*Club, error) {
	return m.updateFn(ctx, id, in)
}

func (m *mockClubService) Deactivate(ctx context.Context, id int64) error {
	return m.deactivateFn(ctx, id)
}

func (m *mockClubService) Join(ctx context.Context, clubID, userID int64) error {
	return m.joinFn(ctx, clubID, userID)
}

func (m *mockClubService) Leave(ctx context.Context, clubID, userID int64) error {
	return m.leaveFn(ctx, clubID, userID)
}

func (m *mockClubService) Members(ctx context.Context, clubID int64) ([]Member, error) {
	return m.membersFn(ctx, clubID)
}

func newClubRouter(svc clubService) *chi.Mux {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Post("/clubs", h.Create)
	r.Get("/clubs", h.List)
	r.Put("/clubs/{clubID}", h.Update)
	r.Delete("/clubs/{clubID}", h.Deactivate)
	r.Post("/clubs/{clubID}/join", h.Join)
	r.Post("/clubs/{clubID}/leave", h.Leave)
	r.Get("/clubs/{clubID}/members", h.Members)
	return r
}

func TestJoinClub(t *testing.T) {
	var gotClubID, gotUserID int64
	router := newClubRouter(&mockClubService{
		joinFn: func(ctx context.Context, clubID, userID int64) error {
			gotClubID, gotUserID = clubID, userID
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/clubs/2/join", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 9, Role: "student"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotClubID != 2 || gotUserID != 9 {
		t.Fatalf("expected club=2 user=9, got club=%d user=%d", gotClubID, gotUserID)
	}
}

func TestJoinClubDuplicate(t *testing.T) {
	router := newClubRouter(&mockClubService{
		joinFn: func(ctx context.Context, clubID, userID int64) error { return ErrAlreadyMember },
	})

	req := httptest.NewRequest(http.MethodPost, "/clubs/2/join", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 9, Role: "student"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestJoinFullClub(t *testing.T) {
	router := newClubRouter(&mockClubService{
		joinFn: func(ctx context.Context, clubID, userID int64) error { return ErrClubFull },
	})

	req := httptest.NewRequest(http.MethodPost, "/clubs/2/join", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 9, Role: "student"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLeaveWithoutMembership(t *testing.T) {
	router := newClubRouter(&mockClubService{
		leaveFn: func(ctx context.Context, clubID, userID int64) error { return ErrNotMember },
	})

	req := httptest.NewRequest(http.MethodPost, "/clubs/2/leave", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 9, Role: "student"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateClubValidation(t *testing.T) {
	router := newClubRouter(&mockClubService{
		createFn: func(ctx context.Context, in ClubInput) (*Club, error) {
			t.Fatal("service must not be called for invalid input")
			return nil, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/clubs", strings.NewReader(`{"name":"x"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
