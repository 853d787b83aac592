package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/piavik/PhotoShare/internal/models"
)

var (
	// ErrNotFound is returned when no user row matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned when a write violates a unique constraint
	// (username or email already taken).
	ErrDuplicate = errors.New("duplicate user value")
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// UserRepository is the user directory: persistent principal records. The
// auth core reads and writes single fields through it but does not own the
// storage engine.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateRefreshToken(ctx context.Context, userID int64, token string) error
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
	ConfirmEmail(ctx context.Context, email string) error
	UpdateRole(ctx context.Context, userID int64, role models.Role) error
	SetBanned(ctx context.Context, userID int64, banned bool) error
	UpdateAvatar(ctx context.Context, userID int64, url string) error
	UpdateUsername(ctx context.Context, userID int64, username string) error
	UpdateEmail(ctx context.Context, userID int64, email string) error
}

type userRepository struct {
	db  *sqlx.DB
	log *logrus.Logger
}

// NewUserRepository creates the sqlx-backed user directory.
func NewUserRepository(db *sqlx.DB, log *logrus.Logger) UserRepository {
	return &userRepository{db: db, log: log}
}

const userColumns = `id, username, email, password_hash, role, refresh_token, confirmed, banned, avatar, created_at, updated_at`

func (r *userRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorf("user lookup failed: %v", err)
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (username, email, password_hash, role, confirmed, banned, avatar)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING id, created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, query,
		user.Username, user.Email, user.PasswordHash, user.Role,
		user.Confirmed, user.Banned, user.Avatar,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		// The existence pre-check cannot catch a concurrent signup; the
		// constraint is the authority.
		return ErrDuplicate
	}
	return err
}

func (r *userRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		r.log.Errorf("user update failed: %v", err)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRefreshToken overwrites the single live refresh token stored on the
// principal. An empty token clears it, invalidating any outstanding refresh
// token immediately.
func (r *userRepository) UpdateRefreshToken(ctx context.Context, userID int64, token string) error {
	value := sql.NullString{String: token, Valid: token != ""}
	return r.exec(ctx, `UPDATE users SET refresh_token = $1, updated_at = now() WHERE id = $2`, value, userID)
}

func (r *userRepository) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	return r.exec(ctx, `UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, hash, userID)
}

// ConfirmEmail marks the email confirmed. The very first registered user is
// promoted to admin on confirmation; this is how the deployment gets its
// initial administrator.
func (r *userRepository) ConfirmEmail(ctx context.Context, email string) error {
	query := `UPDATE users
	          SET confirmed = TRUE,
	              role = CASE WHEN id = 1 THEN 'admin' ELSE role END,
	              updated_at = now()
	          WHERE email = $1`
	return r.exec(ctx, query, email)
}

func (r *userRepository) UpdateRole(ctx context.Context, userID int64, role models.Role) error {
	return r.exec(ctx, `UPDATE users SET role = $1, updated_at = now() WHERE id = $2`, role, userID)
}

func (r *userRepository) SetBanned(ctx context.Context, userID int64, banned bool) error {
	return r.exec(ctx, `UPDATE users SET banned = $1, updated_at = now() WHERE id = $2`, banned, userID)
}

func (r *userRepository) UpdateAvatar(ctx context.Context, userID int64, url string) error {
	value := sql.NullString{String: url, Valid: url != ""}
	return r.exec(ctx, `UPDATE users SET avatar = $1, updated_at = now() WHERE id = $2`, value, userID)
}

func (r *userRepository) UpdateUsername(ctx context.Context, userID int64, username string) error {
	return r.exec(ctx, `UPDATE users SET username = $1, updated_at = now() WHERE id = $2`, username, userID)
}

// UpdateEmail changes the address and drops the confirmed flag: the new
// address has to be verified again before the next login.
func (r *userRepository) UpdateEmail(ctx context.Context, userID int64, email string) error {
	return r.exec(ctx, `UPDATE users SET email = $1, confirmed = FALSE, updated_at = now() WHERE id = $2`, email, userID)
}
