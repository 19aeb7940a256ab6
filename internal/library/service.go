package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrItemNotFound    = errors.New("library item not found")
	ErrLoanNotFound    = errors.New("loan not found")
	ErrNoCopies        = errors.New("no copies available")
	ErrAlreadyOnLoan   = errors.New("member already has this item on loan")
	ErrItemHasLoans    = errors.New("item has open loans")
	ErrLoanNotOwned    = errors.New("loan belongs to another member")
	ErrAlreadyReturned = errors.New("loan already returned")
)

type Service struct {
	db       *sql.DB
	loanDays int
}

func NewService(db *sql.DB, loanDays int) *Service {
	if loanDays <= 0 {
		loanDays = 14
	}
	return &Service{db: db, loanDays: loanDays}
}

type Item struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn,omitempty"`
	Category        string    `json:"category,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ItemInput struct {
	Title       string
	Author      string
	ISBN        string
	Category    string
	TotalCopies int
}

type Loan struct {
	ID         int64      `json:"id"`
	ItemID     int64      `json:"item_id"`
	ItemTitle  string     `json:"item_title,omitempty"`
	MemberID   int64      `json:"member_id"`
	MemberName string     `json:"member_name,omitempty"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
}

type ItemPage struct {
	Items      []Item `json:"items"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
}

func (s *Service) CreateItem(ctx context.Context, in ItemInput) (*Item, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Category = strings.TrimSpace(in.Category)
	if in.Title == "" || in.Author == "" || in.TotalCopies <= 0 {
		return nil, ErrInvalidInput
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO library_items (title, author, isbn, category, total_copies, available_copies, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, $5, now(), now())
		RETURNING id, title, author, COALESCE(isbn,''), COALESCE(category,''), total_copies, available_copies, created_at, updated_at
	`, in.Title, in.Author, in.ISBN, in.Category, in.TotalCopies)

	var out Item
	if err := row.Scan(&out.ID, &out.Title, &out.Author, &out.ISBN, &out.Category,
		&out.TotalCopies, &out.AvailableCopies, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	return &out, nil
}

func (s *Service) SearchItems(ctx context.Context, q, category string, page, pageSize int) (*ItemPage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	q = strings.TrimSpace(q)
	category = strings.TrimSpace(category)

	where := ` WHERE 1=1`
	args := make([]any, 0, 4)
	if q != "" {
		args = append(args, "%"+q+"%")
		n := len(args)
		where += fmt.Sprintf(` AND (title ILIKE $%d OR author ILIKE $%d OR COALESCE(isbn,'') ILIKE $%d)`, n, n, n)
	}
	if category != "" {
		args = append(args, category)
		where += fmt.Sprintf(` AND category = $%d`, len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM library_items`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, title, author, COALESCE(isbn,''), COALESCE(category,''), total_copies, available_copies, created_at, updated_at
		FROM library_items
		%s
		ORDER BY title ASC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Title, &item.Author, &item.ISBN, &item.Category,
			&item.TotalCopies, &item.AvailableCopies, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	totalPages := (total + pageSize - 1) / pageSize
	return &ItemPage{Items: items, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages}, nil
}

func (s *Service) UpdateItem(ctx context.Context, id int64, in ItemInput) (*Item, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Category = strings.TrimSpace(in.Category)
	if id <= 0 || in.Title == "" || in.Author == "" || in.TotalCopies <= 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var openLoans int
	err = tx.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM library_loans WHERE item_id = $1 AND returned_at IS NULL)
		FROM library_items WHERE id = $1
		FOR UPDATE
	`, id).Scan(&openLoans)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("lock item: %w", err)
	}
	if in.TotalCopies < openLoans {
		return nil, fmt.Errorf("%w: %d copies on loan", ErrInvalidInput, openLoans)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE library_items
		SET title = $2, author = $3, isbn = NULLIF($4,''), category = NULLIF($5,''),
			total_copies = $6, available_copies = $6 - $7, updated_at = now()
		WHERE id = $1
		RETURNING id, title, author, COALESCE(isbn,''), COALESCE(category,''), total_copies, available_copies, created_at, updated_at
	`, id, in.Title, in.Author, in.ISBN, in.Category, in.TotalCopies, openLoans)

	var out Item
	if err := row.Scan(&out.ID, &out.Title, &out.Author, &out.ISBN, &out.Category,
		&out.TotalCopies, &out.AvailableCopies, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &out, nil
}

func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	var openLoans bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM library_loans WHERE item_id = $1 AND returned_at IS NULL)
	`, id).Scan(&openLoans); err != nil {
		return fmt.Errorf("check open loans: %w", err)
	}
	if openLoans {
		return ErrItemHasLoans
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM library_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Borrow opens a loan and decrements availability in one transaction. A
// member can hold at most one open loan per item.
func (s *Service) Borrow(ctx context.Context, itemID, memberID int64) (*Loan, error) {
	if itemID <= 0 || memberID <= 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var available int
	var title string
	err = tx.QueryRowContext(ctx, `
		SELECT available_copies, title FROM library_items WHERE id = $1 FOR UPDATE
	`, itemID).Scan(&available, &title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("lock item: %w", err)
	}
	if available <= 0 {
		return nil, ErrNoCopies
	}

	var hasOpen bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM library_loans
			WHERE item_id = $1 AND member_id = $2 AND returned_at IS NULL
		)
	`, itemID, memberID).Scan(&hasOpen); err != nil {
		return nil, fmt.Errorf("check open loan: %w", err)
	}
	if hasOpen {
		return nil, ErrAlreadyOnLoan
	}

	loan := &Loan{ItemID: itemID, ItemTitle: title, MemberID: memberID}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO library_loans (item_id, member_id, borrowed_at, due_at)
		VALUES ($1, $2, now(), now() + make_interval(days => $3))
		RETURNING id, borrowed_at, due_at
	`, itemID, memberID, s.loanDays).Scan(&loan.ID, &loan.BorrowedAt, &loan.DueAt)
	if err != nil {
		return nil, fmt.Errorf("insert loan: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE library_items SET available_copies = available_copies - 1, updated_at = now()
		WHERE id = $1
	`, itemID); err != nil {
		return nil, fmt.Errorf("decrement availability: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return loan, nil
}

// Return closes a loan. Students may only return their own loans; librarians
// and admins pass force=true to return on a member's behalf.
func (s *Service) Return(ctx context.Context, loanID, memberID int64, force bool) (*Loan, error) {
	if loanID <= 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	loan := &Loan{ID: loanID}
	var returnedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT item_id, member_id, borrowed_at, due_at, returned_at
		FROM library_loans
		WHERE id = $1
		FOR UPDATE
	`, loanID).Scan(&loan.ItemID, &loan.MemberID, &loan.BorrowedAt, &loan.DueAt, &returnedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("lock loan: %w", err)
	}
	if !force && loan.MemberID != memberID {
		return nil, ErrLoanNotOwned
	}
	if returnedAt.Valid {
		return nil, ErrAlreadyReturned
	}

	var closedAt time.Time
	if err := tx.QueryRowContext(ctx, `
		UPDATE library_loans SET returned_at = now() WHERE id = $1
		RETURNING returned_at
	`, loanID).Scan(&closedAt); err != nil {
		return nil, fmt.Errorf("close loan: %w", err)
	}
	loan.ReturnedAt = &closedAt

	if _, err := tx.ExecContext(ctx, `
		UPDATE library_items
		SET available_copies = LEAST(available_copies + 1, total_copies), updated_at = now()
		WHERE id = $1
	`, loan.ItemID); err != nil {
		return nil, fmt.Errorf("increment availability: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return loan, nil
}

func (s *Service) ListLoans(ctx context.Context, memberID int64, openOnly bool) ([]Loan, error) {
	query := `
		SELECT l.id, l.item_id, i.title, l.member_id, u.full_name, l.borrowed_at, l.due_at, l.returned_at
		FROM library_loans l
		JOIN library_items i ON i.id = l.item_id
		JOIN users u ON u.id = l.member_id
		WHERE 1=1
	`
	args := make([]any, 0, 1)
	if memberID > 0 {
		args = append(args, memberID)
		query += fmt.Sprintf(` AND l.member_id = $%d`, len(args))
	}
	if openOnly {
		query += ` AND l.returned_at IS NULL`
	}
	query += ` ORDER BY l.borrowed_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer rows.Close()

	items := make([]Loan, 0)
	for rows.Next() {
		var loan Loan
		var returnedAt sql.NullTime
		if err := rows.Scan(&loan.ID, &loan.ItemID, &loan.ItemTitle, &loan.MemberID, &loan.MemberName,
			&loan.BorrowedAt, &loan.DueAt, &returnedAt); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		if returnedAt.Valid {
			t := returnedAt.Time
			loan.ReturnedAt = &t
		}
		items = append(items, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}
	return items, nil
}
