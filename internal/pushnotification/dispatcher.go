package pushnotification

import (
	"context"
	"log/slog"

	"github.com/volunteerhub/volunteerhub/internal/eventbus"
)

// Dispatcher mirrors in-app notifications created by workflows to the
// recipients' browsers.
type Dispatcher struct {
	eventBus *eventbus.Bus
	sender   *Sender
}

func NewDispatcher(eventBus *eventbus.Bus, sender *Sender) *Dispatcher {
	return &Dispatcher{
		eventBus: eventBus,
		sender:   sender,
	}
}

// Start blocks until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Name == eventbus.NotificationCreated {
				d.handleNotificationCreated(ctx, event)
			}
		}
	}
}

func (d *Dispatcher) handleNotificationCreated(ctx context.Context, event *eventbus.Event) {
	userID, _ := event.Payload["user_id"].(string)
	if userID == "" {
		return
	}
	message, _ := event.Payload["message"].(string)
	url, _ := event.Payload["action_url"].(string)
	tag, _ := event.Payload["notification_id"].(string)

	title := "VolunteerHub"
	switch event.Payload["type"] {
	case "warning":
		title = "VolunteerHub: action needed"
	case "error":
		title = "VolunteerHub: problem"
	}

	d.sender.SendToUsers(ctx, []string{userID}, &NotificationPayload{
		Title: title,
		Body:  message,
		URL:   url,
		Tag:   tag,
	})
}
