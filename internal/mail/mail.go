// Package mail delivers the verification and reset links the recovery
// flow hands out. Delivery is best effort: a lost mail is recovered by
// asking again, so senders log failures instead of returning them.
package mail

import (
	"context"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// Config mirrors the mail block of the application config.
type Config struct {
	SMTPAddr string
	From     string
	Username string
	Password string
	BaseURL  string
}

// SMTP sends real mail through a relay.
type SMTP struct {
	cfg Config
	log zerolog.Logger
}

func NewSMTP(cfg Config, log zerolog.Logger) *SMTP {
	return &SMTP{cfg: cfg, log: log}
}

func (m *SMTP) SendVerification(ctx context.Context, email, token string) {
	link := m.cfg.BaseURL + "/verify?token=" + token
	m.send(email, "Confirm your account", "Open this link to activate your account:\r\n\r\n"+link)
}

func (m *SMTP) SendPasswordReset(ctx context.Context, email, token string) {
	link := m.cfg.BaseURL + "/reset?token=" + token
	m.send(email, "Password reset", "Open this link to continue resetting your password:\r\n\r\n"+link)
}

func (m *SMTP) send(to, subject, body string) {
	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.cfg.Username != "" {
		host := m.cfg.SMTPAddr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}
	if err := smtp.SendMail(m.cfg.SMTPAddr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		m.log.Error().Err(err).Str("to", to).Msg("send mail failed")
	}
}

// Log writes the links to the application log instead of sending mail.
// Used in development when no relay is configured.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

func (m *Log) SendVerification(ctx context.Context, email, token string) {
	m.log.Info().Str("email", email).Str("token", token).Msg("verification mail (dev)")
}

func (m *Log) SendPasswordReset(ctx context.Context, email, token string) {
	m.log.Info().Str("email", email).Str("token", token).Msg("password reset mail (dev)")
}
