package service

import (
	"errors"
	"fmt"
	"net/smtp"

	"github.com/piavik/PhotoShare/internal/config"
)

// EmailSender delivers outbound mail. Delivery is fire-and-forget from the
// request path: failures are logged, never surfaced to the caller.
type EmailSender interface {
	SendConfirmation(to, username, token string) error
	SendPasswordReset(to, username, token string) error
}

type smtpSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
	baseURL  string
}

// NewSMTPSender creates an SMTP-backed sender from the mail configuration.
func NewSMTPSender(cfg *config.Config) (EmailSender, error) {
	if cfg.Mail.Host == "" {
		return nil, errors.New("mail host is not configured")
	}
	return &smtpSender{
		host:     cfg.Mail.Host,
		port:     cfg.Mail.Port,
		username: cfg.Mail.Username,
		password: cfg.Mail.Password,
		from:     cfg.Mail.From,
		fromName: cfg.Mail.FromName,
		baseURL:  cfg.Server.BaseURL,
	}, nil
}

func (s *smtpSender) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		s.fromName, s.from, to, subject, body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)
	return smtp.SendMail(addr, auth, s.from, []string{to}, []byte(msg))
}

func (s *smtpSender) SendConfirmation(to, username, token string) error {
	body := fmt.Sprintf("Hi %s,\n\nPlease confirm your email:\n%s/api/auth/confirmed_email/%s\n",
		username, s.baseURL, token)
	return s.send(to, "Confirm your email", body)
}

func (s *smtpSender) SendPasswordReset(to, username, token string) error {
	body := fmt.Sprintf("Hi %s,\n\nTo reset your password follow the link:\n%s/api/auth/reset_password/%s\n\nIf you did not request this, ignore this message.\n",
		username, s.baseURL, token)
	return s.send(to, "Reset password", body)
}
