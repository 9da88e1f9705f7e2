package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSendEmailDevModeSucceedsWithoutSMTP(t *testing.T) {
	s := New(Config{}, testLogger())
	assert.NoError(t, s.SendEmail(context.Background(), "owner@acme.test", "subject", "body"))
}

func TestSendEmailBuildsMessage(t *testing.T) {
	s := New(Config{
		SMTPHost: "mail.test", SMTPPort: 587,
		SMTPUser: "user", SMTPPassword: "pass",
		SMTPFrom: "noreply@kuria.dev",
	}, testLogger())

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := s.SendEmail(context.Background(), "owner@acme.test", "Invoice overdue", "Please review.")
	require.NoError(t, err)

	assert.Equal(t, "mail.test:587", gotAddr)
	assert.Equal(t, "noreply@kuria.dev", gotFrom)
	assert.Equal(t, []string{"owner@acme.test"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Invoice overdue")
	assert.Contains(t, string(gotMsg), "Please review.")
}

func TestSendSlackPostsWebhook(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(Config{SlackWebhookURL: srv.URL}, testLogger())
	require.NoError(t, s.SendSlack(context.Background(), "2 invoices overdue at Acme"))
	assert.Equal(t, "2 invoices overdue at Acme", got["text"])
}

func TestSendSlackNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(Config{SlackWebhookURL: srv.URL}, testLogger())
	assert.Error(t, s.SendSlack(context.Background(), "x"))
}

func TestAlertReportsPartialDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(Config{SMTPHost: "mail.test", SMTPPort: 587, SlackWebhookURL: srv.URL}, testLogger())
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("smtp down")
	}

	// Email fails, Slack succeeds: still delivered.
	assert.True(t, s.Alert(context.Background(), "owner@acme.test", "subject", "body"))
}

func TestAlertAllChannelsFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New(Config{SMTPHost: "mail.test", SMTPPort: 587, SlackWebhookURL: srv.URL}, testLogger())
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("smtp down")
	}

	assert.False(t, s.Alert(context.Background(), "owner@acme.test", "subject", "body"))
}
