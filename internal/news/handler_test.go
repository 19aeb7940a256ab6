package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"schoolhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockNewsService struct {
	createFn func(ctx context.Context, authorID int64, in ArticleInput) (*Article, error)
	updateFn func(ctx context.Context, id int64, in ArticleInput) (*Article, error)
	deleteFn func(ctx context.Context, id int64) error
	getFn    func(ctx context.Context, id int64, publishedOnly bool) (*Article, error)
	listFn   func(ctx context.Context, publishedOnly bool, page, pageSize int) (*ArticlePage, error)
}

func (m *mockNewsService) Create(ctx context.Context, authorID int64, in ArticleInput) (*Article, error) {
	return m.createFn(ctx, authorID, in)
}

func (m *mockNewsService) Update(ctx context.Context, id int64, in ArticleInput) (*Article, error) {
	return m.updateFn(ctx, id, in)
}

func (m *mockNewsService) Delete(ctx context.Context, id int64) error {
	return m.deleteFn(ctx, id)
}

func (m *mockNewsService) Get(ctx context.Context, id int64, publishedOnly bool) (*Article, error) {
	return m.getFn(ctx, id, publishedOnly)
}

func (m *mockNewsService) List(ctx context.Context, publishedOnly bool, page, pageSize int) (*ArticlePage, error) {
	return m.listFn(ctx, publishedOnly, page, pageSize)
}

func newNewsRouter(svc newsService) *chi.Mux {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Post("/news", h.Create)
	r.Get("/news", h.List)
	r.Get("/news/{articleID}", h.Get)
	r.Put("/news/{articleID}", h.Update)
	r.Delete("/news/{articleID}", h.Delete)
	return r
}

func TestCreateArticle(t *testing.T) {
	var gotAuthorID int64
	router := newNewsRouter(&mockNewsService{
		createFn: func(ctx context.Context, authorID int64, in ArticleInput) (*Article, error) {
			gotAuthorID = authorID
			return &Article{ID: 1, Title: in.Title, Body: in.Body, AuthorID: authorID, IsPublished: in.IsPublished}, nil
		},
	})

	body := `{"title":"Libur semester","body":"Sekolah libur mulai tanggal 20 Desember.","is_published":true}`
	req := httptest.NewRequest(http.MethodPost, "/news", strings.NewReader(body))
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 3, Role: "teacher"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotAuthorID != 3 {
		t.Fatalf("expected author 3, got %d", gotAuthorID)
	}
}

func TestCreateArticleValidation(t *testing.T) {
	router := newNewsRouter(&mockNewsService{
		createFn: func(ctx context.Context, authorID int64, in ArticleInput) (*Article, error) {
			t.Fatal("service must not be called for invalid input")
			return nil, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/news", strings.NewReader(`{"title":"x","body":"short"}`))
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 3, Role: "teacher"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListHidesDraftsFromStudents(t *testing.T) {
	var gotPublishedOnly bool
	router := newNewsRouter(&mockNewsService{
		listFn: func(ctx context.Context, publishedOnly bool, page, pageSize int) (*ArticlePage, error) {
			gotPublishedOnly = publishedOnly
			return &ArticlePage{Items: []Article{}, Page: page, PageSize: pageSize}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/news?include_drafts=1", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 9, Role: "student"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !gotPublishedOnly {
		t.Fatal("student listing must be limited to published articles")
	}
}

func TestListIncludesDraftsForStaff(t *testing.T) {
	var gotPublishedOnly bool
	router := newNewsRouter(&mockNewsService{
		listFn: func(ctx context.Context, publishedOnly bool, page, pageSize int) (*ArticlePage, error) {
			gotPublishedOnly = publishedOnly
			return &ArticlePage{Items: []Article{}, Page: page, PageSize: pageSize}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/news?include_drafts=1", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 3, Role: "teacher"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotPublishedOnly {
		t.Fatal("staff may list drafts")
	}
}

func TestDeleteArticleNotFound(t *testing.T) {
	router := newNewsRouter(&mockNewsService{
		deleteFn: func(ctx context.Context, id int64) error { return ErrNotFound },
	})

	req := httptest.NewRequest(http.MethodDelete, "/news/99", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
