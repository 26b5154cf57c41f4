// Package mailer delivers the passwordless sign-in link.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MagicLink is the message handed to a Mailer.
type MagicLink struct {
	To        string
	URL       string
	ExpiresAt time.Time
}

// Mailer sends magic-link emails.
type Mailer interface {
	SendMagicLink(ctx context.Context, msg MagicLink) error
}

// LogMailer writes the link to the log instead of sending it. Local development only.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendMagicLink(_ context.Context, msg MagicLink) error {
	m.logger.Info("magic link issued",
		zap.String("to", msg.To),
		zap.String("url", msg.URL),
		zap.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// SMTPMailer sends plain-text mail through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp mailer: host and from are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}, nil
}

func (m *SMTPMailer) SendMagicLink(ctx context.Context, msg MagicLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") {
		return fmt.Errorf("smtp mailer: invalid recipient")
	}

	body := fmt.Sprintf("Hola,\r\n\r\nUsa este enlace para iniciar sesión:\r\n\r\n%s\r\n\r\nEl enlace vence el %s (UTC) y solo puede usarse una vez.\r\nSi no solicitaste este acceso, ignora este mensaje.\r\n",
		msg.URL, msg.ExpiresAt.UTC().Format("02/01/2006 15:04"))

	return m.sendMail(msg.To, "Tu enlace de acceso", body)
}

func (m *SMTPMailer) sendMail(to, subject, body string) error {
	from := m.cfg.From
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.From)
	}

	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body)

	var a smtp.Auth
	if m.cfg.User != "" {
		a = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if err := m.send(addr, a, m.cfg.From, []string{to}, []byte(raw)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
