package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piavik/PhotoShare/internal/cache"
	"github.com/piavik/PhotoShare/internal/models"
	"github.com/piavik/PhotoShare/internal/repository"
)

// fakeUserRepo is an in-memory UserRepository mirroring the SQL semantics:
// unique username/email constraints, email confirmation promoting user 1 to
// admin, an empty refresh token clearing the stored one, and an email change
// dropping the confirmed flag. beforeCreate, when set, runs ahead of the
// insert so tests can interleave a competing write.
type fakeUserRepo struct {
	mu           sync.Mutex
	users        map[int64]*models.User
	nextID       int64
	beforeCreate func()
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[int64]*models.User{}, nextID: 1}
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	if r.beforeCreate != nil {
		r.beforeCreate()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email || u.Username == user.Username {
			return repository.ErrDuplicate
		}
	}
	user.ID = r.nextID
	r.nextID++
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) update(id int64, fn func(*models.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	return nil
}

func (r *fakeUserRepo) UpdateRefreshToken(_ context.Context, userID int64, token string) error {
	return r.update(userID, func(u *models.User) {
		u.RefreshToken = sql.NullString{String: token, Valid: token != ""}
	})
}

func (r *fakeUserRepo) UpdatePasswordHash(_ context.Context, userID int64, hash string) error {
	return r.update(userID, func(u *models.User) { u.PasswordHash = hash })
}

func (r *fakeUserRepo) ConfirmEmail(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			u.Confirmed = true
			if u.ID == 1 {
				u.Role = models.RoleAdmin
			}
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeUserRepo) UpdateRole(_ context.Context, userID int64, role models.Role) error {
	return r.update(userID, func(u *models.User) { u.Role = role })
}

func (r *fakeUserRepo) SetBanned(_ context.Context, userID int64, banned bool) error {
	return r.update(userID, func(u *models.User) { u.Banned = banned })
}

func (r *fakeUserRepo) UpdateAvatar(_ context.Context, userID int64, url string) error {
	return r.update(userID, func(u *models.User) {
		u.Avatar = sql.NullString{String: url, Valid: url != ""}
	})
}

func (r *fakeUserRepo) UpdateUsername(_ context.Context, userID int64, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username && u.ID != userID {
			return repository.ErrDuplicate
		}
	}
	u, ok := r.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.Username = username
	return nil
}

func (r *fakeUserRepo) UpdateEmail(_ context.Context, userID int64, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email && u.ID != userID {
			return repository.ErrDuplicate
		}
	}
	u, ok := r.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.Email = email
	u.Confirmed = false
	return nil
}

type authFixture struct {
	repo    *fakeUserRepo
	svc     AuthService
	tokens  *TokenManager
	mr      *miniredis.Miniredis
	cacheMR *miniredis.Miniredis
}

// newAuthFixture builds the service over two miniredis instances so the
// denylist and the user cache can fail independently in tests.
func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	cacheMR := miniredis.RunT(t)

	repo := newFakeUserRepo()
	cfg := testConfig()
	tokens := NewTokenManager(cfg)
	revocations := cache.NewRevocationStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	users := cache.NewUserCache(redis.NewClient(&redis.Options{Addr: cacheMR.Addr()}))

	svc := NewAuthService(repo, revocations, users, tokens, nil, zap.NewNop(), cfg)
	return &authFixture{repo: repo, svc: svc, tokens: tokens, mr: mr, cacheMR: cacheMR}
}

func (f *authFixture) signupConfirmed(t *testing.T, username, email, password string) *models.User {
	t.Helper()
	user, err := f.svc.Signup(context.Background(), username, email, password)
	require.NoError(t, err)
	require.NoError(t, f.repo.ConfirmEmail(context.Background(), email))
	user.Confirmed = true
	return user
}

func TestSignup(t *testing.T) {
	f := newAuthFixture(t)

	user, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.False(t, user.Confirmed)
	assert.Contains(t, user.Avatar.String, "gravatar.com/avatar/")
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	_, err = f.svc.Signup(context.Background(), "alice2", "alice@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = f.svc.Signup(context.Background(), "alice", "other@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestSignup_ConcurrentDuplicateSignup(t *testing.T) {
	f := newAuthFixture(t)

	// A competing signup for the same identity lands between the existence
	// pre-check and the insert; the unique constraint decides, and the loser
	// still gets the duplicate-account error rather than a storage failure.
	f.repo.beforeCreate = func() {
		f.repo.beforeCreate = nil
		_, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "s3cret")
		require.NoError(t, err)
	}

	_, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestChangeUsername_Taken(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")
	f.signupConfirmed(t, "bob", "bob@example.com", "s3cret")

	_, err := f.svc.ChangeUsername(context.Background(), "bob@example.com", "alice")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestChangeEmail_Taken(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")
	f.signupConfirmed(t, "bob", "bob@example.com", "s3cret")

	_, err := f.svc.ChangeEmail(context.Background(), "bob@example.com", "alice@example.com")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestLogin(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	// Refresh token is persisted on the principal.
	stored, err := f.repo.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, stored.RefreshToken.String)
}

func TestLogin_Failures(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")
	_, err := f.svc.Signup(context.Background(), "bob", "bob@example.com", "s3cret")
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), "nobody@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = f.svc.Login(context.Background(), "bob@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)

	_, err = f.svc.Login(context.Background(), "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestLogin_BannedStillGetsTokens(t *testing.T) {
	f := newAuthFixture(t)
	user := f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")
	require.NoError(t, f.repo.SetBanned(context.Background(), user.ID, true))

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)

	// The ban takes effect at resolution, not at login.
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrBanned)
}

func TestRefresh_Rotation(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)

	rotated, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.AccessToken)

	// Replaying the superseded refresh token fails and clears the stored one.
	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	stored, err := f.repo.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.False(t, stored.RefreshToken.Valid)

	// The rotated token was invalidated by the clear as well.
	_, err = f.svc.Refresh(context.Background(), rotated.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_Failures(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)

	// Access token presented to the refresh endpoint.
	_, err = f.svc.Refresh(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidScope)

	_, err = f.svc.Refresh(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Valid signature but unknown principal.
	orphan, err := f.tokens.NewRefreshToken("ghost@example.com")
	require.NoError(t, err)
	_, err = f.svc.Refresh(context.Background(), orphan)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticate(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)

	snap, err := f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", snap.Email)
	assert.Equal(t, models.RoleUser, snap.Role)

	// Wrong scope on a resource request.
	_, err = f.svc.Authenticate(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Authenticate(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticate_CacheReadThrough(t *testing.T) {
	f := newAuthFixture(t)
	user := f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, f.cacheMR.Exists("user:alice@example.com"))

	// A direct directory write is invisible while the snapshot is cached.
	require.NoError(t, f.repo.UpdateUsername(context.Background(), user.ID, "renamed"))
	snap, err := f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Username)

	// A service-level mutation invalidates the entry before returning.
	_, err = f.svc.ChangeUsername(context.Background(), "alice@example.com", "renamed")
	require.NoError(t, err)
	assert.False(t, f.cacheMR.Exists("user:alice@example.com"))

	snap, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "renamed", snap.Username)
}

func TestAuthenticate_DenylistFailsClosed(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)

	f.mr.SetError("denylist down")
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticate_CacheFailsOpen(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)

	f.cacheMR.SetError("cache down")
	snap, err := f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", snap.Email)
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), pair.AccessToken))
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Idempotent.
	require.NoError(t, f.svc.Logout(context.Background(), pair.AccessToken))
}

func TestConfirmEmail(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "s3cret")
	require.NoError(t, err)

	token, err := f.tokens.NewEmailToken("alice@example.com", 0)
	require.NoError(t, err)

	msg, err := f.svc.ConfirmEmail(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Email confirmed", msg)

	user, err := f.repo.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.True(t, user.Confirmed)
	// The first confirmed account becomes the admin.
	assert.Equal(t, models.RoleAdmin, user.Role)

	msg, err = f.svc.ConfirmEmail(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Your email is already confirmed", msg)
}

func TestConfirmEmail_Failures(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.ConfirmEmail(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	token, err := f.tokens.NewEmailToken("ghost@example.com", 0)
	require.NoError(t, err)
	_, err = f.svc.ConfirmEmail(context.Background(), token)
	assert.ErrorIs(t, err, ErrVerification)
}

func TestRequestEmail_DoesNotDiscloseAccounts(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "s3cret")
	require.NoError(t, err)

	known, err := f.svc.RequestEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	unknown, err := f.svc.RequestEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, known, unknown)
}

func TestResetPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)

	token, err := f.tokens.NewResetToken("alice@example.com", "n3wpass")
	require.NoError(t, err)

	msg, err := f.svc.ResetPassword(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Password has been reset", msg)

	_, err = f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidPassword)
	_, err = f.svc.Login(context.Background(), "alice@example.com", "n3wpass")
	require.NoError(t, err)

	// The old session's refresh token was cleared by the reset.
	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestResetPassword_RequiresPassClaim(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	// A plain email token carries no pass claim.
	token, err := f.tokens.NewEmailToken("alice@example.com", 0)
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestUpdatePassword_ForcesRelogin(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)
	snap, err := f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdatePassword(context.Background(), snap, "n3wpass"))

	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	_, err = f.svc.Login(context.Background(), "alice@example.com", "n3wpass")
	require.NoError(t, err)
}

func TestChangeEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	user, err := f.svc.ChangeEmail(context.Background(), "alice@example.com", "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.False(t, user.Confirmed)

	// The new address must be confirmed before login works again.
	_, err = f.svc.Login(context.Background(), "new@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)
}

func TestChangeRole(t *testing.T) {
	f := newAuthFixture(t)
	user := f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	updated, err := f.svc.ChangeRole(context.Background(), user.ID, models.RoleModer)
	require.NoError(t, err)
	assert.Equal(t, models.RoleModer, updated.Role)

	_, err = f.svc.ChangeRole(context.Background(), user.ID, models.Role("root"))
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = f.svc.ChangeRole(context.Background(), 999, models.RoleModer)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSetBanned(t *testing.T) {
	f := newAuthFixture(t)
	user := f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	msg, err := f.svc.SetBanned(context.Background(), user.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "User alice has been banned", msg)

	msg, err = f.svc.SetBanned(context.Background(), user.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "User alice has been unbanned", msg)

	_, err = f.svc.SetBanned(context.Background(), 999, true)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestBanVisibleAfterCachedSession(t *testing.T) {
	f := newAuthFixture(t)
	user := f.signupConfirmed(t, "alice", "alice@example.com", "s3cret")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret")
	require.NoError(t, err)

	// Warm the cache with an unbanned snapshot.
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)

	// Ban through the service: the invalidation happens before SetBanned
	// returns, so the very next resolution sees the ban.
	_, err = f.svc.SetBanned(context.Background(), user.ID, true)
	require.NoError(t, err)

	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrBanned)
}

func TestGravatarURL(t *testing.T) {
	a := GravatarURL("Alice@Example.com ")
	b := GravatarURL("alice@example.com")
	assert.Equal(t, a, b)
	assert.Contains(t, a, "d=identicon")
}

func TestErrorsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrInvalidEmail, ErrInvalidPassword))
	assert.False(t, errors.Is(ErrUnauthorized, ErrBanned))
}
