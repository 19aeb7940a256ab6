package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate limited")
	ErrSessionNotFound    = errors.New("session not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidInput       = errors.New("invalid input")
	ErrBootstrapDenied    = errors.New("bootstrap denied")
)

var validRoles = map[string]bool{
	"admin":     true,
	"teacher":   true,
	"student":   true,
	"librarian": true,
}

type User struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    *string `json:"email,omitempty"`
	FullName string  `json:"full_name"`
	Role     string  `json:"role"`
	IsActive bool    `json:"is_active"`
	ClassID  *int64  `json:"class_id,omitempty"`
}

type UserRecord struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	ClassID   *int64    `json:"class_id,omitempty"`
	ClassName *string   `json:"class_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ServiceConfig struct {
	BootstrapToken string
	BcryptCost     int
	SessionTTL     time.Duration
	MaxFailures    int
	LockDuration   time.Duration
}

type Service struct {
	db             *sql.DB
	bootstrapToken string
	bcryptCost     int
	sessionTTL     time.Duration
	maxFailures    int
	lockDuration   time.Duration
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 15 * time.Minute
	}
	return &Service{
		db:             db,
		bootstrapToken: strings.TrimSpace(cfg.BootstrapToken),
		bcryptCost:     cfg.BcryptCost,
		sessionTTL:     cfg.SessionTTL,
		maxFailures:    cfg.MaxFailures,
		lockDuration:   cfg.LockDuration,
	}
}

func (s *Service) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	locked, _, err := s.isGuardLocked(ctx, "login", identifier)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrRateLimited
	}

	var (
		user         User
		passwordHash string
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, is_active, class_id, password_hash
		FROM users
		WHERE username = $1 OR lower(email) = $1
	`, identifier).Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName,
		&user.Role, &user.IsActive, &user.ClassID, &passwordHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = s.registerFailure(ctx, "login", identifier)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		_ = s.registerFailure(ctx, "login", identifier)
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrForbidden
	}

	_ = s.clearGuard(ctx, "login", identifier)
	return &user, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	expiresAt := time.Now().Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, token_hash, ip_address, user_agent, expires_at, created_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, now())
	`, userID, hashToken(token), strings.TrimSpace(ipAddress), strings.TrimSpace(userAgent), expiresAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionNotFound
	}

	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.role, u.is_active, u.class_id
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
	`, hashToken(token)).Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName,
		&user.Role, &user.IsActive, &user.ClassID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrForbidden
	}
	return &user, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = now()
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

type BootstrapInput struct {
	Token         string
	AdminUsername string
	AdminEmail    string
	AdminPassword string
	AdminFullName string
}

// BootstrapAdmin seeds the first admin account. It only works while no admin
// exists and the configured bootstrap token matches.
func (s *Service) BootstrapAdmin(ctx context.Context, in BootstrapInput) error {
	if s.bootstrapToken == "" || !secureEqual(in.Token, s.bootstrapToken) {
		return ErrBootstrapDenied
	}

	username := normalizeUsername(in.AdminUsername)
	email := strings.ToLower(strings.TrimSpace(in.AdminEmail))
	if username == "" || len(in.AdminPassword) < 8 {
		return ErrInvalidInput
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return ErrInvalidInput
		}
	}
	fullName := strings.TrimSpace(in.AdminFullName)
	if fullName == "" {
		fullName = username
	}

	var adminCount int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE role = 'admin' AND is_active = TRUE
	`).Scan(&adminCount); err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if adminCount > 0 {
		return ErrBootstrapDenied
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.AdminPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, full_name, role, is_active, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), $3, $4, 'admin', TRUE, now(), now())
		ON CONFLICT (username)
		DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = 'admin',
			is_active = TRUE,
			updated_at = now()
	`, username, email, string(hash), fullName)
	if err != nil {
		return fmt.Errorf("upsert bootstrap admin: %w", err)
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, role, q string, limit, offset int) ([]UserRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	role = strings.ToLower(strings.TrimSpace(role))
	q = strings.TrimSpace(q)

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.role, u.is_active,
		       u.class_id, c.name, u.created_at
		FROM users u
		LEFT JOIN classes c ON c.id = u.class_id
		WHERE ($1 = '' OR u.role = $1)
		  AND ($2 = '' OR u.username ILIKE '%'||$2||'%' OR u.full_name ILIKE '%'||$2||'%')
		ORDER BY u.created_at DESC, u.id DESC
		LIMIT $3 OFFSET $4
	`, role, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := make([]UserRecord, 0)
	for rows.Next() {
		var rec UserRecord
		if err := rows.Scan(
			&rec.ID, &rec.Username, &rec.Email, &rec.FullName, &rec.Role,
			&rec.IsActive, &rec.ClassID, &rec.ClassName, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

type CreateUserInput struct {
	Username string
	Email    string
	Password string
	FullName string
	Role     string
	ClassID  *int64
}

func (s *Service) CreateUser(ctx context.Context, actorID int64, in CreateUserInput) (*UserRecord, error) {
	username := normalizeUsername(in.Username)
	fullName := strings.TrimSpace(in.FullName)
	role := strings.ToLower(strings.TrimSpace(in.Role))
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if username == "" || fullName == "" || !isValidRole(role) {
		return nil, ErrInvalidInput
	}
	if len(in.Password) < 8 {
		return nil, ErrInvalidInput
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, ErrInvalidInput
		}
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)
	`, username).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var rec UserRecord
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, full_name, role, is_active, class_id, created_by, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, TRUE, $6, $7, now(), now())
		RETURNING id, username, email, full_name, role, is_active, class_id, created_at
	`, username, email, string(hash), fullName, role, in.ClassID, actorID).Scan(
		&rec.ID, &rec.Username, &rec.Email, &rec.FullName, &rec.Role,
		&rec.IsActive, &rec.ClassID, &rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &rec, nil
}

type UpdateUserInput struct {
	Email    string
	Password string
	FullName string
	Role     string
	ClassID  *int64
}

func (s *Service) UpdateUser(ctx context.Context, actorID, userID int64, in UpdateUserInput) (*UserRecord, error) {
	fullName := strings.TrimSpace(in.FullName)
	role := strings.ToLower(strings.TrimSpace(in.Role))
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if fullName == "" || !isValidRole(role) {
		return nil, ErrInvalidInput
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, ErrInvalidInput
		}
	}

	var passwordHash string
	if in.Password != "" {
		if len(in.Password) < 8 {
			return nil, ErrInvalidInput
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = string(hash)
	}

	var rec UserRecord
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET email = NULLIF($2,''),
			full_name = $3,
			role = $4,
			class_id = $5,
			password_hash = COALESCE(NULLIF($6,''), password_hash),
			updated_at = now()
		WHERE id = $1
		RETURNING id, username, email, full_name, role, is_active, class_id, created_at
	`, userID, email, fullName, role, in.ClassID, passwordHash).Scan(
		&rec.ID, &rec.Username, &rec.Email, &rec.FullName, &rec.Role,
		&rec.IsActive, &rec.ClassID, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	_ = actorID
	return &rec, nil
}

func (s *Service) DeactivateUser(ctx context.Context, actorID, userID int64) error {
	if actorID == userID {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_active = FALSE, updated_at = now()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrUserNotFound
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

func (s *Service) isGuardLocked(ctx context.Context, purpose, subjectKey string) (bool, time.Time, error) {
	var lockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT locked_until
		FROM auth_guards
		WHERE purpose = $1 AND subject_key = $2
	`, purpose, normalizeGuardKey(subjectKey)).Scan(&lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("load guard: %w", err)
	}
	if lockedUntil.Valid && time.Now().Before(lockedUntil.Time) {
		return true, lockedUntil.Time, nil
	}
	return false, time.Time{}, nil
}

func (s *Service) registerFailure(ctx context.Context, purpose, subjectKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_guards (purpose, subject_key, failure_count, locked_until, updated_at)
		VALUES ($1, $2, 1, NULL, now())
		ON CONFLICT (purpose, subject_key)
		DO UPDATE SET
			failure_count = auth_guards.failure_count + 1,
			locked_until = CASE
				WHEN auth_guards.failure_count + 1 >= $3 THEN now() + $4::interval
				ELSE auth_guards.locked_until
			END,
			updated_at = now()
	`, purpose, normalizeGuardKey(subjectKey), s.maxFailures, fmt.Sprintf("%d minutes", int(s.lockDuration.Minutes())))
	if err != nil {
		return fmt.Errorf("register guard failure: %w", err)
	}
	return nil
}

func (s *Service) clearGuard(ctx context.Context, purpose, subjectKey string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_guards
		WHERE purpose = $1 AND subject_key = $2
	`, purpose, normalizeGuardKey(subjectKey))
	if err != nil {
		return fmt.Errorf("clear guard: %w", err)
	}
	return nil
}

func isValidRole(role string) bool {
	return validRoles[role]
}

func normalizeUsername(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var sb strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

func normalizeGuardKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
