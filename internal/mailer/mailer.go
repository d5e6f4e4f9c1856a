// Package mailer delivers one-time codes by email.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"math"
	"net/url"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/basego/server/internal/config"
	"github.com/basego/server/internal/logger"
	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// linkToken is the payload of the ?token= query parameter of email links.
type linkToken struct {
	ID    int64  `json:"otpID"`
	Key   string `json:"otpKey"`
	Code  string `json:"otpCode"`
	Email string `json:"email"`
}

type message struct {
	Subject string
	Body    string
}

type templateData struct {
	Title, Name, Code, Link string
	TTLHours                int
}

// SMTPMailer sends codes through an SMTP relay.
type SMTPMailer struct {
	cfg         config.SMTPConfig
	frontendURL string
	accounts    repo.AccountRepo
	dialer      *gomail.Dialer
	log         *zap.Logger
}

// NewSMTPMailer creates a mailer; accounts is used to address the recipient by name.
func NewSMTPMailer(cfg config.SMTPConfig, frontendURL string, accounts repo.AccountRepo, log *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:         cfg,
		frontendURL: frontendURL,
		accounts:    accounts,
		dialer:      gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		log:         logger.WithComponent(log, "mailer"),
	}
}

// SendCode emails code to the challenge target.
func (m *SMTPMailer) SendCode(ctx context.Context, c model.OTPChallenge, code string) error {
	name := "there"
	if c.AccountID != 0 {
		if a, err := m.accounts.GetByID(ctx, c.AccountID); err == nil && a.FullName != "" {
			name = a.FullName
		}
	}

	msg, err := render(m.frontendURL, c, code, name)
	if err != nil {
		return err
	}

	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", m.cfg.FromEmail, m.cfg.FromName)
	gm.SetHeader("To", c.Target)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/html", msg.Body)

	if err := m.dialer.DialAndSend(gm); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	m.log.Info("verification email sent",
		zap.Int64("challenge_id", c.ID),
		zap.String("to", logger.MaskEmail(c.Target)))
	return nil
}

func render(frontendURL string, c model.OTPChallenge, code, name string) (message, error) {
	var file, path, title string
	switch c.Purpose {
	case model.OTPPurposeRegistration, model.OTPPurposeEmailVerification:
		file, path, title = "verify-email.html", "/verify/email", "Please verify your email address"
	case model.OTPPurposePasswordReset:
		file, path, title = "reset-password.html", "/reset-password", "Reset your password"
	default:
		return message{}, fmt.Errorf("no email template for purpose %q", c.Purpose)
	}

	link, err := buildLink(frontendURL+path, linkToken{ID: c.ID, Key: c.Key, Code: code, Email: c.Target})
	if err != nil {
		return message{}, err
	}

	var buf bytes.Buffer
	err = templates.ExecuteTemplate(&buf, file, templateData{
		Title:    title,
		Name:     name,
		Code:     code,
		Link:     link,
		TTLHours: int(math.Ceil(c.ExpiresAt.Sub(c.CreatedAt).Hours())),
	})
	if err != nil {
		return message{}, fmt.Errorf("render %s: %w", file, err)
	}
	return message{Subject: title, Body: buf.String()}, nil
}

func buildLink(base string, tok linkToken) (string, error) {
	raw, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("encode link token: %w", err)
	}
	q := url.Values{"token": []string{base64.StdEncoding.EncodeToString(raw)}}
	return base + "?" + q.Encode(), nil
}

// LogSender writes codes to the log instead of sending them. Dev mode only.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: logger.WithComponent(log, "mailer")}
}

// SendCode logs the code.
func (s *LogSender) SendCode(_ context.Context, c model.OTPChallenge, code string) error {
	s.log.Info("verification code (dev mode, not sent)",
		zap.Int64("challenge_id", c.ID),
		zap.String("purpose", string(c.Purpose)),
		zap.String("to", logger.MaskEmail(c.Target)),
		zap.String("code", code))
	return nil
}
