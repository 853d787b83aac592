package models

import (
	"database/sql"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the fixed three-level role hierarchy. Higher roles satisfy lower
// floors; the ordering is total, not a general ACL.
type Role string

const (
	RoleUser  Role = "user"
	RoleModer Role = "moder"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModer, RoleAdmin:
		return true
	}
	return false
}

// User is a principal row in the users table.
type User struct {
	ID           int64          `db:"id"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	PasswordHash string         `db:"password_hash"`
	Role         Role           `db:"role"`
	RefreshToken sql.NullString `db:"refresh_token"`
	Confirmed    bool           `db:"confirmed"`
	Banned       bool           `db:"banned"`
	Avatar       sql.NullString `db:"avatar"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// PublicUser is the response shape for a user. It never carries the password
// hash or the stored refresh token.
type PublicUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Confirmed bool      `json:"confirmed"`
	Banned    bool      `json:"banned"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
}

// Public converts the row to its response shape.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Confirmed: u.Confirmed,
		Banned:    u.Banned,
		Avatar:    u.Avatar.String,
		CreatedAt: u.CreatedAt,
	}
}

// UserSnapshot is the serialization-safe view of a principal kept in the
// short-lived user cache. It is detached from any storage session and safe to
// marshal/unmarshal independently of the row's lifecycle.
type UserSnapshot struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	Confirmed bool   `json:"confirmed"`
	Banned    bool   `json:"banned"`
	Avatar    string `json:"avatar"`
}

// Snapshot builds the cacheable view of the user.
func (u *User) Snapshot() *UserSnapshot {
	return &UserSnapshot{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Confirmed: u.Confirmed,
		Banned:    u.Banned,
		Avatar:    u.Avatar.String,
	}
}

// Claims defines the structure of the JWT claims. The scope tag constrains
// which endpoint accepts the token; Pass is only present on password reset
// tokens.
type Claims struct {
	Scope string `json:"scope"`
	Pass  string `json:"pass,omitempty"`
	jwt.RegisteredClaims
}
