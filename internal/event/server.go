package event

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/volunteerhub/volunteerhub/internal/eventbus"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/connectjson"
)

const ServiceName = "volunteerhub.v1.EventService"

// Publisher hands an event to every matching event trigger.
type Publisher interface {
	TriggerEvent(name string, payload map[string]any) *eventbus.Event
}

type PublishEventRequest struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Validate is run by the connect interceptor before PublishEvent.
func (r *PublishEventRequest) Validate() error {
	return ValidateName(r.Name)
}

type PublishEventResponse struct {
	Event *eventbus.Event `json:"event"`
}

type SubscribeEventsRequest struct {
	// Names limits the stream to these event names. Empty means all.
	Names []string `json:"names,omitempty"`
}

type Server struct {
	publisher Publisher
	eventBus  *eventbus.Bus
}

func NewServer(publisher Publisher, eventBus *eventbus.Bus) *Server {
	return &Server{publisher: publisher, eventBus: eventBus}
}

// ValidateName rejects empty names and names the service publishes itself.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return cerr.NewValidationError("invalid event", cerr.Violation{Field: "name", Rule: "required", Message: "event name is required"})
	}
	if eventbus.IsInternal(name) {
		return cerr.NewValidationError("invalid event", cerr.Violation{Field: "name", Rule: "event.reserved", Message: name + " is reserved"})
	}
	return nil
}

func (s *Server) PublishEvent(_ context.Context, req *connect.Request[PublishEventRequest]) (*connect.Response[PublishEventResponse], error) {
	ev := s.publisher.TriggerEvent(req.Msg.Name, req.Msg.Payload)
	return connect.NewResponse(&PublishEventResponse{Event: ev}), nil
}

func (s *Server) SubscribeEvents(ctx context.Context, req *connect.Request[SubscribeEventsRequest], stream *connect.ServerStream[eventbus.Event]) error {
	subID, ch := s.eventBus.Subscribe(64)
	defer s.eventBus.Unsubscribe(subID)

	names := make(map[string]struct{}, len(req.Msg.Names))
	for _, n := range req.Msg.Names {
		names[n] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if len(names) > 0 {
				if _, match := names[ev.Name]; !match {
					continue
				}
			}
			if err := stream.Send(ev); err != nil {
				return err
			}
		}
	}
}

func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	svc.Handle("PublishEvent", connect.NewUnaryHandler(svc.Procedure("PublishEvent"), s.PublishEvent, svc.Options()...))
	svc.Handle("SubscribeEvents", connect.NewServerStreamHandler(svc.Procedure("SubscribeEvents"), s.SubscribeEvents, svc.Options()...))
	return svc.Handler()
}
