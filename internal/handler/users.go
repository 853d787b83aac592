package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/piavik/PhotoShare/internal/middleware"
	"github.com/piavik/PhotoShare/internal/models"
	"github.com/piavik/PhotoShare/internal/service"
)

type UsersHandler struct {
	auth   service.AuthService
	logger *logrus.Logger
}

func NewUsersHandler(auth service.AuthService, logger *logrus.Logger) *UsersHandler {
	return &UsersHandler{auth: auth, logger: logger}
}

type updateAvatarRequest struct {
	AvatarURL string `json:"avatar_url" binding:"required,url"`
}

type updateUsernameRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
}

type updateEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type updatePasswordRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type updateRoleRequest struct {
	Role models.Role `json:"role" binding:"required"`
}

type banRequest struct {
	Banned *bool `json:"banned" binding:"required"`
}

// Me returns the authenticated principal.
func (h *UsersHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.CurrentUser(c))
}

// UpdateAvatar stores a new avatar URL for the authenticated principal.
func (h *UsersHandler) UpdateAvatar(c *gin.Context) {
	var req updateAvatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	me := middleware.CurrentUser(c)
	user, err := h.auth.UpdateAvatar(c.Request.Context(), me.Email, req.AvatarURL)
	if err != nil {
		h.respondUserError(c, "avatar update", err)
		return
	}
	c.JSON(http.StatusOK, user.Public())
}

// UpdateUsername changes the authenticated principal's username.
func (h *UsersHandler) UpdateUsername(c *gin.Context) {
	var req updateUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	me := middleware.CurrentUser(c)
	user, err := h.auth.ChangeUsername(c.Request.Context(), me.Email, req.Username)
	if err != nil {
		h.respondUserError(c, "username update", err)
		return
	}
	c.JSON(http.StatusOK, user.Public())
}

// UpdateEmail changes the login email. The new address is unconfirmed until
// the principal follows the confirmation link sent to it.
func (h *UsersHandler) UpdateEmail(c *gin.Context) {
	var req updateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	me := middleware.CurrentUser(c)
	user, err := h.auth.ChangeEmail(c.Request.Context(), me.Email, req.Email)
	if err != nil {
		h.respondUserError(c, "email update", err)
		return
	}
	c.JSON(http.StatusOK, user.Public())
}

// UpdatePassword changes the password and forces re-login everywhere else.
func (h *UsersHandler) UpdatePassword(c *gin.Context) {
	var req updatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	me := middleware.CurrentUser(c)
	if err := h.auth.UpdatePassword(c.Request.Context(), me, req.Password); err != nil {
		h.respondUserError(c, "password update", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password has been updated"})
}

// UpdateRole sets a user's role. Admin only.
func (h *UsersHandler) UpdateRole(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid user id"})
		return
	}

	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	user, err := h.auth.ChangeRole(c.Request.Context(), userID, req.Role)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRole) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid role"})
			return
		}
		h.respondUserError(c, "role update", err)
		return
	}
	c.JSON(http.StatusOK, user.Public())
}

// Ban sets or clears the ban flag on a user. Admin only.
func (h *UsersHandler) Ban(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid user id"})
		return
	}

	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	msg, err := h.auth.SetBanned(c.Request.Context(), userID, *req.Banned)
	if err != nil {
		h.respondUserError(c, "ban update", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *UsersHandler) respondUserError(c *gin.Context, op string, err error) {
	if errors.Is(err, service.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
		return
	}
	if errors.Is(err, service.ErrUserExists) {
		c.JSON(http.StatusConflict, gin.H{"detail": "Account already exists"})
		return
	}
	h.logger.Errorf("%s failed: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
}
