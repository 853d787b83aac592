package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/piavik/PhotoShare/internal/models"
	"github.com/piavik/PhotoShare/internal/service"
)

// Context keys under which the middleware stores the resolved principal and
// the raw bearer token for downstream handlers.
const (
	ContextUserKey  = "user"
	ContextTokenKey = "token"
)

type AuthMiddleware struct {
	auth   service.AuthService
	logger *zap.Logger
}

func NewAuthMiddleware(auth service.AuthService, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{auth: auth, logger: logger}
}

// Authenticate resolves the Authorization bearer token to a principal and
// aborts with 401 on any token problem, 403 if the principal is banned.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}

		user, err := m.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrBanned) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "User is banned"})
				return
			}
			if !errors.Is(err, service.ErrUnauthorized) {
				m.logger.Error("Failed to authenticate request", zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextTokenKey, token)
		c.Next()
	}
}

// RequireRole gates a route group behind a minimum role. Must run after
// Authenticate.
func (m *AuthMiddleware) RequireRole(minimum models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}
		if !service.CheckRole(user.Role, minimum) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "You don't have enough permissions"})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the principal stored by Authenticate, or nil.
func CurrentUser(c *gin.Context) *models.UserSnapshot {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, ok := v.(*models.UserSnapshot)
	if !ok {
		return nil
	}
	return user
}

// CurrentToken returns the raw bearer token stored by Authenticate.
func CurrentToken(c *gin.Context) string {
	v, ok := c.Get(ContextTokenKey)
	if !ok {
		return ""
	}
	token, _ := v.(string)
	return token
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
