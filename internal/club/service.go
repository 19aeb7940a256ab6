package club

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrClubNotFound  = errors.New("club not found")
	ErrClubFull      = errors.New("club is full")
	ErrAlreadyMember = errors.New("already a member")
	ErrNotMember     = errors.New("not a member")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type Club struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	AdvisorID   *int64    `json:"advisor_id,omitempty"`
	MaxMembers  int       `json:"max_members"`
	MemberCount int       `json:"member_count"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type ClubInput struct {
	Name        string
	Description string
	AdvisorID   *int64
	MaxMembers  int
}

type Member struct {
	UserID   int64     `json:"user_id"`
	FullName string    `json:"full_name"`
	ClassID  *int64    `json:"class_id,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

func (s *Service) Create(ctx context.Context, in ClubInput) (*Club, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return nil, ErrInvalidInput
	}
	if in.MaxMembers <= 0 {
		in.MaxMembers = 30
	}

	var out Club
	var advisor sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO clubs (name, description, advisor_id, max_members, is_active, created_at)
		VALUES ($1, NULLIF($2,''), $3, $4, TRUE, now())
		RETURNING id, name, COALESCE(description,''), advisor_id, max_members, is_active, created_at
	`, in.Name, in.Description, nullInt64(in.AdvisorID), in.MaxMembers).Scan(
		&out.ID, &out.Name, &out.Description, &advisor, &out.MaxMembers, &out.IsActive, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert club: %w", err)
	}
	if advisor.Valid {
		out.AdvisorID = &advisor.Int64
	}
	return &out, nil
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]Club, error) {
	query := `
		SELECT c.id, c.name, COALESCE(c.description,''), c.advisor_id, c.max_members, c.is_active, c.created_at,
			(SELECT COUNT(*) FROM club_members m WHERE m.club_id = c.id)
		FROM clubs c
	`
	if activeOnly {
		query += ` WHERE c.is_active = TRUE`
	}
	query += ` ORDER BY c.name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query clubs: %w", err)
	}
	defer rows.Close()

	items := make([]Club, 0)
	for rows.Next() {
		var club Club
		var advisor sql.NullInt64
		if err := rows.Scan(&club.ID, &club.Name, &club.Description, &advisor, &club.MaxMembers,
			&club.IsActive, &club.CreatedAt, &club.MemberCount); err != nil {
			return nil, fmt.Errorf("scan club: %w", err)
		}
		if advisor.Valid {
			club.AdvisorID = &advisor.Int64
		}
		items = append(items, club)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clubs: %w", err)
	}
	return items, nil
}

func (s *Service) Update(ctx context.Context, id int64, in ClubInput) (*Club, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if id <= 0 || in.Name == "" || in.MaxMembers <= 0 {
		return nil, ErrInvalidInput
	}

	var out Club
	var advisor sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		UPDATE clubs
		SET name = $2, description = NULLIF($3,''), advisor_id = $4, max_members = $5
		WHERE id = $1
		RETURNING id, name, COALESCE(description,''), advisor_id, max_members, is_active, created_at
	`, id, in.Name, in.Description, nullInt64(in.AdvisorID), in.MaxMembers).Scan(
		&out.ID, &out.Name, &out.Description, &advisor, &out.MaxMembers, &out.IsActive, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClubNotFound
		}
		return nil, fmt.Errorf("update club: %w", err)
	}
	if advisor.Valid {
		out.AdvisorID = &advisor.Int64
	}
	return &out, nil
}

func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE clubs SET is_active = FALSE WHERE id = $1 RETURNING id
	`, id).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrClubNotFound
		}
		return fmt.Errorf("deactivate club: %w", err)
	}
	return nil
}

// Join adds a student to a club. The member count check runs under a row
// lock so a full club cannot be oversubscribed by concurrent joins.
func (s *Service) Join(ctx context.Context, clubID, userID int64) error {
	if clubID <= 0 || userID <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxMembers int
	var isActive bool
	err = tx.QueryRowContext(ctx, `
		SELECT max_members, is_active FROM clubs WHERE id = $1 FOR UPDATE
	`, clubID).Scan(&maxMembers, &isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrClubNotFound
		}
		return fmt.Errorf("lock club: %w", err)
	}
	if !isActive {
		return ErrClubNotFound
	}

	var isMember bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM club_members WHERE club_id = $1 AND user_id = $2)
	`, clubID, userID).Scan(&isMember); err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if isMember {
		return ErrAlreadyMember
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM club_members WHERE club_id = $1
	`, clubID).Scan(&count); err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	if count >= maxMembers {
		return ErrClubFull
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO club_members (club_id, user_id, joined_at)
		VALUES ($1, $2, now())
	`, clubID, userID); err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Service) Leave(ctx context.Context, clubID, userID int64) error {
	if clubID <= 0 || userID <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM club_members WHERE club_id = $1 AND user_id = $2
	`, clubID, userID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotMember
	}
	return nil
}

func (s *Service) Members(ctx context.Context, clubID int64) ([]Member, error) {
	if clubID <= 0 {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM clubs WHERE id = $1)
	`, clubID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check club: %w", err)
	}
	if !exists {
		return nil, ErrClubNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, u.full_name, u.class_id, m.joined_at
		FROM club_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.club_id = $1
		ORDER BY m.joined_at ASC
	`, clubID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var member Member
		var classID sql.NullInt64
		if err := rows.Scan(&member.UserID, &member.FullName, &classID, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if classID.Valid {
			member.ClassID = &classID.Int64
		}
		items = append(items, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func nullInt64(v *int64) any {
	if v == nil || *v <= 0 {
		return nil
	}
	return *v
}
