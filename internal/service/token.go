package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/piavik/PhotoShare/internal/config"
	"github.com/piavik/PhotoShare/internal/models"
)

// Token scopes. The scope tag on a token constrains which endpoint accepts
// it: access tokens for resource access, refresh tokens for rotation, email
// tokens for confirmation and password-reset links.
const (
	ScopeAccess  = "access_token"
	ScopeRefresh = "refresh_token"
	ScopeEmail   = "email_token"
)

// TokenManager encodes and decodes signed, expiring claim sets. The signing
// secret and algorithm are process-wide immutable configuration.
type TokenManager struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	emailTTL   time.Duration
	resetTTL   time.Duration
}

// NewTokenManager builds a manager from the validated configuration.
func NewTokenManager(cfg *config.Config) *TokenManager {
	method := jwt.SigningMethodHS256
	if cfg.JWT.Algorithm == "HS512" {
		method = jwt.SigningMethodHS512
	}
	return &TokenManager{
		secret:     []byte(cfg.JWT.Secret),
		method:     method,
		accessTTL:  cfg.AccessTTL(),
		refreshTTL: cfg.RefreshTTL(),
		emailTTL:   cfg.EmailTTL(),
		resetTTL:   cfg.ResetTTL(),
	}
}

func (m *TokenManager) newToken(email, scope, pass string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := models.Claims{
		Scope: scope,
		Pass:  pass,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(m.method, claims).SignedString(m.secret)
}

// NewAccessToken issues an access-scoped token for the principal.
func (m *TokenManager) NewAccessToken(email string) (string, error) {
	return m.newToken(email, ScopeAccess, "", m.accessTTL)
}

// NewRefreshToken issues a refresh-scoped token for the principal.
func (m *TokenManager) NewRefreshToken(email string) (string, error) {
	return m.newToken(email, ScopeRefresh, "", m.refreshTTL)
}

// NewEmailToken issues an email-scoped token used in confirmation links.
// A non-positive ttl falls back to the configured email token lifetime.
func (m *TokenManager) NewEmailToken(email string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = m.emailTTL
	}
	return m.newToken(email, ScopeEmail, "", ttl)
}

// NewResetToken issues a short-lived email-scoped token carrying the
// requested new password in the pass claim.
func (m *TokenManager) NewResetToken(email, newPassword string) (string, error) {
	return m.newToken(email, ScopeEmail, newPassword, m.resetTTL)
}

// Parse verifies the signature and expiry and returns the claims. It does not
// check the scope; that is the caller's decision (the email endpoints
// deliberately accept any validly signed token, see DESIGN.md).
func (m *TokenManager) Parse(tokenStr string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{m.method.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
