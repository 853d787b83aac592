package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/piavik/PhotoShare/internal/cache"
	"github.com/piavik/PhotoShare/internal/config"
	"github.com/piavik/PhotoShare/internal/models"
	"github.com/piavik/PhotoShare/internal/repository"
)

// TokenPair is the response of login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// AuthService owns the bearer-token lifecycle and the principal mutations
// that interact with it. Every profile-mutating method invalidates the user
// cache before returning, so no subsequent resolution observes stale state.
type AuthService interface {
	Signup(ctx context.Context, username, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	Authenticate(ctx context.Context, accessToken string) (*models.UserSnapshot, error)
	Logout(ctx context.Context, accessToken string) error
	ConfirmEmail(ctx context.Context, token string) (string, error)
	RequestEmail(ctx context.Context, email string) (string, error)
	ForgotPassword(ctx context.Context, email, newPassword string) (string, error)
	ResetPassword(ctx context.Context, token string) (string, error)
	UpdatePassword(ctx context.Context, user *models.UserSnapshot, newPassword string) error
	UpdateAvatar(ctx context.Context, email, url string) (*models.User, error)
	ChangeUsername(ctx context.Context, email, username string) (*models.User, error)
	ChangeEmail(ctx context.Context, oldEmail, newEmail string) (*models.User, error)
	ChangeRole(ctx context.Context, userID int64, role models.Role) (*models.User, error)
	SetBanned(ctx context.Context, userID int64, banned bool) (string, error)
}

type authService struct {
	repo        repository.UserRepository
	revocations *cache.RevocationStore
	users       *cache.UserCache
	tokens      *TokenManager
	mail        EmailSender
	logger      *zap.Logger
	denylistTTL time.Duration
	cacheTTL    time.Duration
}

// NewAuthService wires the session service. The mail sender may be nil, in
// which case outbound email is skipped (and logged).
func NewAuthService(
	repo repository.UserRepository,
	revocations *cache.RevocationStore,
	users *cache.UserCache,
	tokens *TokenManager,
	mail EmailSender,
	logger *zap.Logger,
	cfg *config.Config,
) AuthService {
	return &authService{
		repo:        repo,
		revocations: revocations,
		users:       users,
		tokens:      tokens,
		mail:        mail,
		logger:      logger,
		denylistTTL: cfg.DenylistTTL(),
		cacheTTL:    cfg.CacheTTL(),
	}
}

func (s *authService) Signup(ctx context.Context, username, email, password string) (*models.User, error) {
	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return nil, ErrUserExists
	}
	if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("Failed to check existing user", zap.Error(err))
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("Failed to check existing user", zap.Error(err))
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		s.logger.Error("Failed to hash password", zap.Error(err))
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Avatar:       sql.NullString{String: GravatarURL(email), Valid: true},
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a race with a concurrent signup for the same identity.
			return nil, ErrUserExists
		}
		s.logger.Error("Failed to create user", zap.Error(err))
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.sendConfirmationAsync(user.Email, user.Username)
	return user, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidEmail
		}
		s.logger.Error("Failed to get user by email", zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve user: %w", err)
	}
	if !user.Confirmed {
		return nil, ErrEmailNotConfirmed
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidPassword
	}

	// A banned principal passes the credential check; resolution is where
	// the ban takes effect.
	return s.issuePair(ctx, user)
}

// issuePair creates a fresh access/refresh pair and persists the refresh
// token on the principal. The directory write is the serialization point:
// the previously stored refresh token is invalid from here on.
func (s *authService) issuePair(ctx context.Context, user *models.User) (*TokenPair, error) {
	access, err := s.tokens.NewAccessToken(user.Email)
	if err != nil {
		s.logger.Error("Failed to issue access token", zap.Error(err))
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, err := s.tokens.NewRefreshToken(user.Email)
	if err != nil {
		s.logger.Error("Failed to issue refresh token", zap.Error(err))
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}
	if err := s.repo.UpdateRefreshToken(ctx, user.ID, refresh); err != nil {
		s.logger.Error("Failed to store refresh token", zap.Error(err))
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Parse(refreshToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if claims.Scope != ScopeRefresh {
		return nil, ErrInvalidScope
	}

	user, err := s.repo.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		s.logger.Error("Failed to get user by email", zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve user: %w", err)
	}

	if !user.RefreshToken.Valid || user.RefreshToken.String != refreshToken {
		// Replayed or superseded refresh token: clear the stored one so the
		// principal has to log in again.
		if err := s.repo.UpdateRefreshToken(ctx, user.ID, ""); err != nil {
			s.logger.Error("Failed to clear refresh token", zap.Error(err))
		}
		return nil, ErrInvalidRefreshToken
	}

	return s.issuePair(ctx, user)
}

// Authenticate resolves a bearer token to a principal snapshot:
// denylist check, decode, scope check, cache-then-directory resolution,
// ban check. The denylist fails closed; the user cache fails open to a
// directory read.
func (s *authService) Authenticate(ctx context.Context, accessToken string) (*models.UserSnapshot, error) {
	denied, err := s.revocations.IsDenied(ctx, accessToken)
	if err != nil {
		s.logger.Warn("Denylist check failed, rejecting token", zap.Error(err))
		return nil, ErrUnauthorized
	}
	if denied {
		return nil, ErrUnauthorized
	}

	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if claims.Scope != ScopeAccess || claims.Subject == "" {
		return nil, ErrUnauthorized
	}

	snap, err := s.users.Get(ctx, claims.Subject)
	if err != nil {
		s.logger.Warn("User cache read failed, falling back to directory", zap.Error(err))
	}
	if snap == nil {
		user, err := s.repo.GetByEmail(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrUnauthorized
			}
			s.logger.Error("Failed to get user by email", zap.Error(err))
			return nil, fmt.Errorf("failed to retrieve user: %w", err)
		}
		if user.Banned {
			return nil, ErrBanned
		}
		snap = user.Snapshot()
		if err := s.users.Set(ctx, claims.Subject, snap, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to cache user snapshot", zap.Error(err))
		}
		return snap, nil
	}

	if snap.Banned {
		return nil, ErrBanned
	}
	return snap, nil
}

// Logout denylists the presented token for the denylist TTL, which covers
// the remaining lifetime of any access token. Idempotent.
func (s *authService) Logout(ctx context.Context, accessToken string) error {
	return s.revocations.Deny(ctx, accessToken, s.denylistTTL)
}

func (s *authService) ConfirmEmail(ctx context.Context, token string) (string, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return "", err
	}

	user, err := s.repo.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrVerification
		}
		s.logger.Error("Failed to get user by email", zap.Error(err))
		return "", fmt.Errorf("failed to retrieve user: %w", err)
	}
	if user.Confirmed {
		return "Your email is already confirmed", nil
	}

	if err := s.repo.ConfirmEmail(ctx, user.Email); err != nil {
		s.logger.Error("Failed to confirm email", zap.Error(err))
		return "", fmt.Errorf("failed to confirm email: %w", err)
	}
	// Confirmation may also promote the first user to admin; drop any
	// cached snapshot either way.
	if err := s.users.Invalidate(ctx, user.Email); err != nil {
		s.logger.Warn("Failed to invalidate user cache", zap.Error(err))
	}
	return "Email confirmed", nil
}

func (s *authService) RequestEmail(ctx context.Context, email string) (string, error) {
	const accepted = "Check your email for confirmation."

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Do not disclose whether the address is registered.
			return accepted, nil
		}
		s.logger.Error("Failed to get user by email", zap.Error(err))
		return "", fmt.Errorf("failed to retrieve user: %w", err)
	}
	if user.Confirmed {
		return "Your email is already confirmed", nil
	}

	s.sendConfirmationAsync(user.Email, user.Username)
	return accepted, nil
}

func (s *authService) ForgotPassword(ctx context.Context, email, newPassword string) (string, error) {
	const accepted = "Check your email for password reset instructions."

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return accepted, nil
		}
		s.logger.Error("Failed to get user by email", zap.Error(err))
		return "", fmt.Errorf("failed to retrieve user: %w", err)
	}

	token, err := s.tokens.NewResetToken(user.Email, newPassword)
	if err != nil {
		s.logger.Error("Failed to issue reset token", zap.Error(err))
		return "", fmt.Errorf("failed to issue reset token: %w", err)
	}
	s.sendAsync("password reset email", user.Email, func(mail EmailSender) error {
		return mail.SendPasswordReset(user.Email, user.Username, token)
	})
	return accepted, nil
}

func (s *authService) ResetPassword(ctx context.Context, token string) (string, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return "", err
	}
	if claims.Pass == "" {
		return "", ErrTokenInvalid
	}

	user, err := s.repo.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrVerification
		}
		s.logger.Error("Failed to get user by email", zap.Error(err))
		return "", fmt.Errorf("failed to retrieve user: %w", err)
	}

	if err := s.setPassword(ctx, user.ID, user.Email, claims.Pass); err != nil {
		return "", err
	}
	return "Password has been reset", nil
}

func (s *authService) UpdatePassword(ctx context.Context, user *models.UserSnapshot, newPassword string) error {
	return s.setPassword(ctx, user.ID, user.Email, newPassword)
}

// setPassword persists a new password hash and forces re-login everywhere:
// the stored refresh token is cleared and the cached snapshot dropped before
// the call returns.
func (s *authService) setPassword(ctx context.Context, userID int64, email, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		s.logger.Error("Failed to hash password", zap.Error(err))
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.UpdatePasswordHash(ctx, userID, hash); err != nil {
		s.logger.Error("Failed to update password hash", zap.Error(err))
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.repo.UpdateRefreshToken(ctx, userID, ""); err != nil {
		s.logger.Error("Failed to clear refresh token", zap.Error(err))
		return fmt.Errorf("failed to clear refresh token: %w", err)
	}
	if err := s.users.Invalidate(ctx, email); err != nil {
		s.logger.Warn("Failed to invalidate user cache", zap.Error(err))
	}
	return nil
}

func (s *authService) UpdateAvatar(ctx context.Context, email, url string) (*models.User, error) {
	return s.mutate(ctx, email, func(user *models.User) error {
		if err := s.repo.UpdateAvatar(ctx, user.ID, url); err != nil {
			return err
		}
		user.Avatar = sql.NullString{String: url, Valid: url != ""}
		return nil
	})
}

func (s *authService) ChangeUsername(ctx context.Context, email, username string) (*models.User, error) {
	return s.mutate(ctx, email, func(user *models.User) error {
		if err := s.repo.UpdateUsername(ctx, user.ID, username); err != nil {
			return err
		}
		user.Username = username
		return nil
	})
}

func (s *authService) ChangeEmail(ctx context.Context, oldEmail, newEmail string) (*models.User, error) {
	user, err := s.mutate(ctx, oldEmail, func(user *models.User) error {
		if err := s.repo.UpdateEmail(ctx, user.ID, newEmail); err != nil {
			return err
		}
		user.Email = newEmail
		user.Confirmed = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	// The new address must be confirmed before the next login.
	s.sendConfirmationAsync(newEmail, user.Username)
	return user, nil
}

func (s *authService) ChangeRole(ctx context.Context, userID int64, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	user, err := s.getByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateRole(ctx, userID, role); err != nil {
		s.logger.Error("Failed to update role", zap.Error(err))
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	user.Role = role
	s.invalidate(ctx, user.Email)
	return user, nil
}

func (s *authService) SetBanned(ctx context.Context, userID int64, banned bool) (string, error) {
	user, err := s.getByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetBanned(ctx, userID, banned); err != nil {
		s.logger.Error("Failed to update ban flag", zap.Error(err))
		return "", fmt.Errorf("failed to update ban flag: %w", err)
	}
	s.invalidate(ctx, user.Email)
	if banned {
		return fmt.Sprintf("User %s has been banned", user.Username), nil
	}
	return fmt.Sprintf("User %s has been unbanned", user.Username), nil
}

// mutate loads the principal by email, applies the change, and invalidates
// the cache entry before returning.
func (s *authService) mutate(ctx context.Context, email string, fn func(*models.User) error) (*models.User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		s.logger.Error("Failed to get user by email", zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve user: %w", err)
	}
	if err := fn(user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserExists
		}
		s.logger.Error("Failed to update user", zap.Error(err))
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	s.invalidate(ctx, email)
	return user, nil
}

func (s *authService) getByID(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		s.logger.Error("Failed to get user by id", zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve user: %w", err)
	}
	return user, nil
}

func (s *authService) invalidate(ctx context.Context, email string) {
	if err := s.users.Invalidate(ctx, email); err != nil {
		s.logger.Warn("Failed to invalidate user cache", zap.Error(err))
	}
}

func (s *authService) sendConfirmationAsync(email, username string) {
	token, err := s.tokens.NewEmailToken(email, 0)
	if err != nil {
		s.logger.Error("Failed to issue email token", zap.Error(err))
		return
	}
	s.sendAsync("confirmation email", email, func(mail EmailSender) error {
		return mail.SendConfirmation(email, username, token)
	})
}

// sendAsync dispatches mail in the background; the request path never waits
// for or fails on delivery.
func (s *authService) sendAsync(kind, to string, fn func(EmailSender) error) {
	if s.mail == nil {
		s.logger.Debug("Mail sender not configured, skipping", zap.String("kind", kind))
		return
	}
	mail := s.mail
	go func() {
		if err := fn(mail); err != nil {
			s.logger.Warn("Failed to send "+kind, zap.String("to", to), zap.Error(err))
		}
	}()
}
