package pushnotification

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/oklog/ulid/v2"

	"github.com/volunteerhub/volunteerhub/internal/config"
	"github.com/volunteerhub/volunteerhub/internal/pushsubscription"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/connectjson"
)

const ServiceName = "volunteerhub.v1.PushNotificationService"

type GetVapidPublicKeyRequest struct{}

type GetVapidPublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

type RegisterPushSubscriptionRequest struct {
	UserID    string `json:"user_id"`
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

type RegisterPushSubscriptionResponse struct {
	Subscription *pushsubscription.Subscription `json:"subscription"`
}

type UnregisterPushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
}

type UnregisterPushSubscriptionResponse struct{}

type SendTestNotificationRequest struct {
	// UserID limits the test to one user's browsers. Empty sends to all.
	UserID string `json:"user_id,omitempty"`
}

type SendTestNotificationResponse struct {
	Delivered int `json:"delivered"`
}

type Server struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	sender   *Sender
}

func NewServer(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, sender *Sender) *Server {
	return &Server{
		vapidEnv: vapidEnv,
		repo:     repo,
		sender:   sender,
	}
}

func (s *Server) GetVapidPublicKey(_ context.Context, _ *connect.Request[GetVapidPublicKeyRequest]) (*connect.Response[GetVapidPublicKeyResponse], error) {
	if s.vapidEnv.VAPIDPublicKey == "" {
		return nil, cerr.NewError(cerr.FailedPrecondition, "VAPID keys not configured", nil)
	}
	return connect.NewResponse(&GetVapidPublicKeyResponse{
		PublicKey: s.vapidEnv.VAPIDPublicKey,
	}), nil
}

func (s *Server) RegisterPushSubscription(ctx context.Context, req *connect.Request[RegisterPushSubscriptionRequest]) (*connect.Response[RegisterPushSubscriptionResponse], error) {
	var vs []cerr.Violation
	for _, f := range []struct{ name, value string }{
		{"user_id", req.Msg.UserID},
		{"endpoint", req.Msg.Endpoint},
		{"p256dh_key", req.Msg.P256dhKey},
		{"auth_key", req.Msg.AuthKey},
	} {
		if f.value == "" {
			vs = append(vs, cerr.Violation{Field: f.name, Rule: "required", Message: f.name + " is required"})
		}
	}
	if len(vs) > 0 {
		return nil, cerr.NewValidationError("invalid push subscription", vs...)
	}

	// Idempotent: re-registering an endpoint replaces its keys and owner.
	sub := &pushsubscription.Subscription{
		ID:        ulid.Make().String(),
		CreatedAt: time.Now(),
	}
	existing, err := s.repo.FindByEndpoint(ctx, req.Msg.Endpoint)
	switch {
	case err == nil:
		sub = existing
		if err := s.repo.Delete(ctx, existing.ID); err != nil {
			return nil, err
		}
	case !cerr.IsCode(err, cerr.NotFound):
		return nil, err
	}
	sub.UserID = req.Msg.UserID
	sub.Endpoint = req.Msg.Endpoint
	sub.P256dhKey = req.Msg.P256dhKey
	sub.AuthKey = req.Msg.AuthKey
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	return connect.NewResponse(&RegisterPushSubscriptionResponse{Subscription: sub}), nil
}

func (s *Server) UnregisterPushSubscription(ctx context.Context, req *connect.Request[UnregisterPushSubscriptionRequest]) (*connect.Response[UnregisterPushSubscriptionResponse], error) {
	if req.Msg.Endpoint == "" {
		return nil, cerr.NewValidationError("invalid request", cerr.Violation{Field: "endpoint", Rule: "required", Message: "endpoint is required"})
	}
	if err := s.repo.DeleteByEndpoint(ctx, req.Msg.Endpoint); err != nil {
		return nil, err
	}
	return connect.NewResponse(&UnregisterPushSubscriptionResponse{}), nil
}

func (s *Server) SendTestNotification(ctx context.Context, req *connect.Request[SendTestNotificationRequest]) (*connect.Response[SendTestNotificationResponse], error) {
	if !s.sender.Configured() {
		return nil, cerr.NewError(cerr.FailedPrecondition, "VAPID keys not configured", nil)
	}
	payload := &NotificationPayload{
		Title: "VolunteerHub Test",
		Body:  "Push notifications are working!",
	}
	var delivered int
	if req.Msg.UserID != "" {
		delivered = s.sender.SendToUsers(ctx, []string{req.Msg.UserID}, payload)
	} else {
		delivered = s.sender.SendToAll(ctx, payload)
	}
	return connect.NewResponse(&SendTestNotificationResponse{Delivered: delivered}), nil
}

func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	svc.Handle("GetVapidPublicKey", connect.NewUnaryHandler(svc.Procedure("GetVapidPublicKey"), s.GetVapidPublicKey, svc.Options()...))
	svc.Handle("RegisterPushSubscription", connect.NewUnaryHandler(svc.Procedure("RegisterPushSubscription"), s.RegisterPushSubscription, svc.Options()...))
	svc.Handle("UnregisterPushSubscription", connect.NewUnaryHandler(svc.Procedure("UnregisterPushSubscription"), s.UnregisterPushSubscription, svc.Options()...))
	svc.Handle("SendTestNotification", connect.NewUnaryHandler(svc.Procedure("SendTestNotification"), s.SendTestNotification, svc.Options()...))
	return svc.Handler()
}
