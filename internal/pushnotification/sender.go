package pushnotification

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/volunteerhub/volunteerhub/internal/config"
	"github.com/volunteerhub/volunteerhub/internal/pushsubscription"
)

type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type SenderOption func(*Sender)

// WithHTTPClient replaces the client used to reach push services.
func WithHTTPClient(c webpush.HTTPClient) SenderOption {
	return func(s *Sender) { s.client = c }
}

type Sender struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	client   webpush.HTTPClient
}

func NewSender(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, opts ...SenderOption) *Sender {
	s := &Sender{
		vapidEnv: vapidEnv,
		repo:     repo,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) Configured() bool {
	return s.vapidEnv.VAPIDPrivateKey != "" && s.vapidEnv.VAPIDPublicKey != ""
}

// SendToAll returns the number of subscriptions the push service accepted.
func (s *Sender) SendToAll(ctx context.Context, payload *NotificationPayload) int {
	if !s.Configured() {
		slog.WarnContext(ctx, "push notification: VAPID keys not configured, skipping")
		return 0
	}
	subs, err := s.repo.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "push notification: failed to list subscriptions", "error", err)
		return 0
	}
	return s.send(ctx, subs, payload)
}

// SendToUsers pushes to every browser registered by the given users.
func (s *Sender) SendToUsers(ctx context.Context, userIDs []string, payload *NotificationPayload) int {
	if !s.Configured() {
		slog.WarnContext(ctx, "push notification: VAPID keys not configured, skipping")
		return 0
	}
	var subs []*pushsubscription.Subscription
	for _, id := range userIDs {
		userSubs, err := s.repo.ListByUser(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "push notification: failed to list subscriptions", "user_id", id, "error", err)
			continue
		}
		subs = append(subs, userSubs...)
	}
	return s.send(ctx, subs, payload)
}

func (s *Sender) send(ctx context.Context, subs []*pushsubscription.Subscription, payload *NotificationPayload) int {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "push notification: failed to marshal payload", "error", err)
		return 0
	}
	delivered := 0
	for _, sub := range subs {
		if s.sendToSubscription(ctx, sub, data) {
			delivered++
		}
	}
	return delivered
}

func (s *Sender) sendToSubscription(ctx context.Context, sub *pushsubscription.Subscription, data []byte) bool {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, wpSub, &webpush.Options{
		HTTPClient:      s.client,
		VAPIDPublicKey:  s.vapidEnv.VAPIDPublicKey,
		VAPIDPrivateKey: s.vapidEnv.VAPIDPrivateKey,
		Subscriber:      s.vapidEnv.VAPIDContact,
		TTL:             86400,
	})
	if err != nil {
		slog.ErrorContext(ctx, "push notification: failed to send", "endpoint", sub.Endpoint, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		slog.InfoContext(ctx, "push notification: subscription expired, removing", "endpoint", sub.Endpoint)
		if err := s.repo.Delete(ctx, sub.ID); err != nil {
			slog.ErrorContext(ctx, "push notification: failed to delete expired subscription", "id", sub.ID, "error", err)
		}
		return false
	}
	if resp.StatusCode >= 400 {
		slog.WarnContext(ctx, "push notification: unexpected status", "endpoint", sub.Endpoint, "status", resp.StatusCode)
		return false
	}
	return true
}
