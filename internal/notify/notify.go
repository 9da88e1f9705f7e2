// Package notify delivers human-facing notifications: email over SMTP and
// Slack over an incoming webhook. Agents use it to tell a tenant's owner
// that something needs attention.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"time"
)

// Notifier sends notifications through every configured channel.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendSlack(ctx context.Context, text string) error

	// Alert sends through all configured channels and reports whether at
	// least one delivery succeeded.
	Alert(ctx context.Context, to, subject, body string) bool
}

// Config holds delivery settings. Empty SMTPHost or SlackWebhookURL
// disables the respective channel.
type Config struct {
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	SMTPFrom        string
	SlackWebhookURL string
}

// Service is the default Notifier.
type Service struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	// sendMail is swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New creates a notification service.
func New(cfg Config, logger *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		sendMail: smtp.SendMail,
	}
}

// SendEmail delivers a plain-text email. Without SMTP configured it logs
// the message and succeeds, which keeps dev setups working.
func (s *Service) SendEmail(_ context.Context, to, subject, body string) error {
	if s.cfg.SMTPHost == "" {
		s.logger.Info("notify: email logged, SMTP not configured",
			"to", to, "subject", subject)
		return nil
	}

	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		s.cfg.SMTPFrom, to, subject, body,
	)

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}

	if err := s.sendMail(addr, auth, s.cfg.SMTPFrom, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}
	return nil
}

// SendSlack posts a message to the configured incoming webhook.
func (s *Service) SendSlack(ctx context.Context, text string) error {
	if s.cfg.SlackWebhookURL == "" {
		s.logger.Info("notify: slack message logged, webhook not configured", "text", text)
		return nil
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("notify: marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.SlackWebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Alert fans out to email and Slack. Each channel failure is logged; the
// return value tells the caller whether anyone was reached.
func (s *Service) Alert(ctx context.Context, to, subject, body string) bool {
	delivered := false

	if err := s.SendEmail(ctx, to, subject, body); err != nil {
		s.logger.Error("notify: email delivery failed", "to", to, "error", err)
	} else {
		delivered = true
	}

	if err := s.SendSlack(ctx, fmt.Sprintf("*%s*\n%s", subject, body)); err != nil {
		s.logger.Error("notify: slack delivery failed", "error", err)
	} else {
		delivered = true
	}

	return delivered
}
