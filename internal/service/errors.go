package service

import "errors"

var ( // Define custom errors
	ErrUserExists          = errors.New("account already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrInvalidPassword     = errors.New("invalid password")
	ErrEmailNotConfirmed   = errors.New("email not confirmed")
	ErrBanned              = errors.New("user is banned")
	ErrUnauthorized        = errors.New("could not validate credentials")
	ErrInvalidScope        = errors.New("invalid scope for token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidRole         = errors.New("invalid role")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenInvalid        = errors.New("invalid token")
	ErrVerification        = errors.New("verification error")
)
