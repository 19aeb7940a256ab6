package library

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"schoolhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockLibraryService struct {
	createFn    func(ctx context.Context, in ItemInput) (*Item, error)
	searchFn    func(ctx context.Context, q, category string, page, pageSize int) (*ItemPage, error)
	updateFn    func(ctx context.Context, id int64, in ItemInput) (*Item, error)
	deleteFn    func(ctx context.Context, id int64) error
	borrowFn    func(ctx context.Context, itemID, memberID int64) (*Loan, error)
	returnFn    func(ctx context.Context, loanID, memberID int64, force bool) (*Loan, error)
	listLoansFn func(ctx context.Context, memberID int64, openOnly bool) ([]Loan, error)
}

func (m *mockLibraryService) CreateItem(ctx context.Context, in ItemInput) (*Item, error) {
	return m.createFn(ctx, in)
}

func (m *mockLibraryService) SearchItems(ctx context.Context, q, category string, page, pageSize int) (*ItemPage, error) {
	return m.searchFn(ctx, q, category, page, pageSize)
}

func (m *mockLibraryService) UpdateItem(ctx context.Context, id int64, in ItemInput) (*Item, error) {
	return m.updateFn(ctx, id, in)
}

func (m *mockLibraryService) DeleteItem(ctx context.Context, id int64) error {
	return m.deleteFn(ctx, id)
}

func (m *mockLibraryService) Borrow(ctx context.Context, itemID, memberID int64) (*Loan, error) {
	return m.borrowFn(ctx, itemID, memberID)
}

func (m *mockLibraryService) Return(ctx context.Context, loanID, memberID int64, force bool) (*Loan, error) {
	return m.returnFn(ctx, loanID, memberID, force)
}

func (m *mockLibraryService) ListLoans(ctx context.Context, memberID int64, openOnly bool) ([]Loan, error) {
	return m.listLoansFn(ctx, memberID, openOnly)
}

func newLibraryRouter(svc libraryService) *chi.Mux {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Post("/library/items", h.CreateItem)
	r.Get("/library/items", h.SearchItems)
	r.Put("/library/items/{itemID}", h.UpdateItem)
	r.Delete("/library/items/{itemID}", h.DeleteItem)
	r.Post("/library/items/{itemID}/borrow", h.Borrow)
	r.Post("/library/loans/{loanID}/return", h.Return)
	r.Get("/library/loans", h.ListLoans)
	return r
}

func asUser(req *http.Request, user *auth.User) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), user))
}

func student() *auth.User {
	return &auth.User{ID: 9, Username: "siti", Role: "student", IsActive: true}
}

func librarian() *auth.User {
	return &auth.User{ID: 4, Username: "bu.rina", Role: "librarian", IsActive: true}
}

func TestBorrowUsesSessionUser(t *testing.T) {
	var gotItemID, gotMemberID int64
	router := newLibraryRouter(&mockLibraryService{
		borrowFn: func(ctx context.Context, itemID, memberID int64) (*Loan, error) {
			gotItemID, gotMemberID = itemID, memberID
			return &Loan{ID: 1, ItemID: itemID, MemberID: memberID, BorrowedAt: time.Now(), DueAt: time.Now().AddDate(0, 0, 14)}, nil
		},
	})

	req := asUser(httptest.NewRequest(http.MethodPost, "/library/items/7/borrow", nil), student())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotItemID != 7 || gotMemberID != 9 {
		t.Fatalf("expected item=7 member=9, got item=%d member=%d", gotItemID, gotMemberID)
	}
}

func TestBorrowNoCopies(t *testing.T) {
	router := newLibraryRouter(&mockLibraryService{
		borrowFn: func(ctx context.Context, itemID, memberID int64) (*Loan, error) {
			return nil, ErrNoCopies
		},
	})

	req := asUser(httptest.NewRequest(http.MethodPost, "/library/items/7/borrow", nil), student())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReturnForceForLibrarian(t *testing.T) {
	var gotForce bool
	router := newLibraryRouter(&mockLibraryService{
		returnFn: func(ctx context.Context, loanID, memberID int64, force bool) (*Loan, error) {
			gotForce = force
			now := time.Now()
			return &Loan{ID: loanID, MemberID: memberID, ReturnedAt: &now}, nil
		},
	})

	req := asUser(httptest.NewRequest(http.MethodPost, "/library/loans/3/return", nil), librarian())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !gotForce {
		t.Fatal("librarian return should pass force=true")
	}
}

func TestReturnNotOwned(t *testing.T) {
	router := newLibraryRouter(&mockLibraryService{
		returnFn: func(ctx context.Context, loanID, memberID int64, force bool) (*Loan, error) {
			return nil, ErrLoanNotOwned
		},
	})

	req := asUser(httptest.NewRequest(http.MethodPost, "/library/loans/3/return", nil), student())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListLoansScopedToStudent(t *testing.T) {
	var gotMemberID int64
	router := newLibraryRouter(&mockLibraryService{
		listLoansFn: func(ctx context.Context, memberID int64, openOnly bool) ([]Loan, error) {
			gotMemberID = memberID
			return []Loan{}, nil
		},
	})

	// A student asking for someone else's loans still only sees their own.
	req := asUser(httptest.NewRequest(http.MethodGet, "/library/loans?member_id=42", nil), student())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotMemberID != 9 {
		t.Fatalf("expected member scope 9, got %d", gotMemberID)
	}
}

func TestCreateItemValidation(t *testing.T) {
	router := newLibraryRouter(&mockLibraryService{
		createFn: func(ctx context.Context, in ItemInput) (*Item, error) {
			t.Fatal("service must not be called for invalid input")
			return nil, nil
		},
	})

	req := asUser(httptest.NewRequest(http.MethodPost, "/library/items", strings.NewReader(`{"title":"Laskar Pelangi"}`)), librarian())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
