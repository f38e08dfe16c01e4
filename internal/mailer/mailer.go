// Package mailer delivers transactional email through Resend.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers one message. Failures are returned, never retried.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ResendSender delivers messages through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

var _ Sender = (*ResendSender)(nil)

// NewResendSender builds a sender for apiKey. baseURL overrides the API
// root, empty means Resend's default.
func NewResendSender(baseURL, apiKey, from string) (*ResendSender, error) {
	client := resend.NewCustomClient(&http.Client{Timeout: 30 * time.Second}, apiKey)
	if baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid mail API URL %q: %w", baseURL, err)
		}
		client.BaseURL = u
	}
	return &ResendSender{client: client, from: from}, nil
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("message has no recipients")
	}
	sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	slog.DebugContext(ctx, "mail sent", "mail_id", sent.Id, "to", msg.To)
	return nil
}

// LogSender only logs. It is used when no mail API key is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "mail not sent, no mail API configured", "to", msg.To, "subject", msg.Subject)
	return nil
}
