package news

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("article not found")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type Article struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	AuthorID    int64      `json:"author_id"`
	AuthorName  string     `json:"author_name,omitempty"`
	IsPublished bool       `json:"is_published"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ArticleInput struct {
	Title       string
	Body        string
	IsPublished bool
}

type ArticlePage struct {
	Items      []Article `json:"items"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
}

func (s *Service) Create(ctx context.Context, authorID int64, in ArticleInput) (*Article, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Body = strings.TrimSpace(in.Body)
	if authorID <= 0 || in.Title == "" || in.Body == "" {
		return nil, ErrInvalidInput
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO news_articles (title, body, author_id, is_published, published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, CASE WHEN $4 THEN now() END, now(), now())
		RETURNING id, title, body, author_id, is_published, published_at, created_at, updated_at
	`, in.Title, in.Body, authorID, in.IsPublished)

	return scanArticle(row)
}

func (s *Service) Update(ctx context.Context, id int64, in ArticleInput) (*Article, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Body = strings.TrimSpace(in.Body)
	if id <= 0 || in.Title == "" || in.Body == "" {
		return nil, ErrInvalidInput
	}

	// published_at is stamped on the first publish and survives
	// unpublish/republish cycles.
	row := s.db.QueryRowContext(ctx, `
		UPDATE news_articles
		SET title = $2, body = $3, is_published = $4,
			published_at = CASE WHEN $4 AND published_at IS NULL THEN now() ELSE published_at END,
			updated_at = now()
		WHERE id = $1
		RETURNING id, title, body, author_id, is_published, published_at, created_at, updated_at
	`, id, in.Title, in.Body, in.IsPublished)

	article, err := scanArticle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return article, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM news_articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id int64, publishedOnly bool) (*Article, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}

	query := `
		SELECT a.id, a.title, a.body, a.author_id, a.is_published, a.published_at, a.created_at, a.updated_at, u.full_name
		FROM news_articles a
		JOIN users u ON u.id = a.author_id
		WHERE a.id = $1
	`
	if publishedOnly {
		query += ` AND a.is_published = TRUE`
	}

	var article Article
	var publishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&article.ID, &article.Title, &article.Body, &article.AuthorID,
		&article.IsPublished, &publishedAt, &article.CreatedAt, &article.UpdatedAt, &article.AuthorName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load article: %w", err)
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		article.PublishedAt = &t
	}
	return &article, nil
}

func (s *Service) List(ctx context.Context, publishedOnly bool, page, pageSize int) (*ArticlePage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	where := ""
	if publishedOnly {
		where = ` WHERE a.is_published = TRUE`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM news_articles a`+where).Scan(&total); err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT a.id, a.title, a.body, a.author_id, a.is_published, a.published_at, a.created_at, a.updated_at, u.full_name
		FROM news_articles a
		JOIN users u ON u.id = a.author_id
		%s
		ORDER BY COALESCE(a.published_at, a.created_at) DESC
		LIMIT $1 OFFSET $2
	`, where), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		var article Article
		var publishedAt sql.NullTime
		if err := rows.Scan(&article.ID, &article.Title, &article.Body, &article.AuthorID,
			&article.IsPublished, &publishedAt, &article.CreatedAt, &article.UpdatedAt, &article.AuthorName); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			article.PublishedAt = &t
		}
		items = append(items, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}

	totalPages := (total + pageSize - 1) / pageSize
	return &ArticlePage{Items: items, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages}, nil
}

func scanArticle(row *sql.Row) (*Article, error) {
	var article Article
	var publishedAt sql.NullTime
	if err := row.Scan(&article.ID, &article.Title, &article.Body, &article.AuthorID,
		&article.IsPublished, &publishedAt, &article.CreatedAt, &article.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan article: %w", err)
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		article.PublishedAt = &t
	}
	return &article, nil
}
