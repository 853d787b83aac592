package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/piavik/PhotoShare/internal/middleware"
	"github.com/piavik/PhotoShare/internal/service"
)

type AuthHandler struct {
	auth   service.AuthService
	logger *logrus.Logger
}

func NewAuthHandler(auth service.AuthService, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type signupRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type forgotPasswordRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// Signup registers a new account and sends the confirmation email.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	user, err := h.auth.Signup(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"detail": "Account already exists"})
			return
		}
		h.logger.Errorf("signup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":   user.Public(),
		"detail": "User created successfully",
	})
}

// Login checks credentials and returns a fresh token pair. A banned account
// still gets tokens; the ban is enforced when the token is presented.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	pair, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidEmail):
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid email"})
		case errors.Is(err, service.ErrEmailNotConfirmed):
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Email not confirmed"})
		case errors.Is(err, service.ErrInvalidPassword):
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid password"})
		default:
			h.logger.Errorf("login failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, pair)
}

// Refresh rotates a refresh token into a new token pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidScope):
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid scope for token"})
		case errors.Is(err, service.ErrInvalidRefreshToken):
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid refresh token"})
		case errors.Is(err, service.ErrUnauthorized):
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
		default:
			h.logger.Errorf("refresh failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, pair)
}

// Logout denylists the presented access token.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.CurrentToken(c)
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		h.logger.Errorf("logout failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// ConfirmEmail handles the confirmation link from the signup email.
func (h *AuthHandler) ConfirmEmail(c *gin.Context) {
	msg, err := h.auth.ConfirmEmail(c.Request.Context(), c.Param("token"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenExpired), errors.Is(err, service.ErrTokenInvalid):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid token for email verification"})
		case errors.Is(err, service.ErrVerification):
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Verification error"})
		default:
			h.logger.Errorf("email confirmation failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// RequestEmail re-sends the confirmation email. The response does not reveal
// whether the address is registered.
func (h *AuthHandler) RequestEmail(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	msg, err := h.auth.RequestEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Errorf("email request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// ForgotPassword mails a reset link carrying the requested new password.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	msg, err := h.auth.ForgotPassword(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Errorf("password reset request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// ResetPassword handles the reset link and applies the new password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	msg, err := h.auth.ResetPassword(c.Request.Context(), c.Param("token"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenExpired), errors.Is(err, service.ErrTokenInvalid):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid token for password reset"})
		case errors.Is(err, service.ErrVerification):
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Verification error"})
		default:
			h.logger.Errorf("password reset failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}
