package event

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volunteerhub/volunteerhub/internal/eventbus"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/connectjson"
)

type busPublisher struct {
	bus *eventbus.Bus
}

func (p busPublisher) TriggerEvent(name string, payload map[string]any) *eventbus.Event {
	return p.bus.PublishNew(name, payload)
}

func TestPublishEvent(t *testing.T) {
	bus := eventbus.New()
	s := NewServer(busPublisher{bus: bus}, bus)
	mux := http.NewServeMux()
	mux.Handle(s.Handler(connect.WithInterceptors(cerr.NewConvertConnectErrorInterceptor())))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	client := connect.NewClient[PublishEventRequest, PublishEventResponse](
		srv.Client(), srv.URL+"/"+ServiceName+"/PublishEvent", connectjson.WithCodec(),
	)

	resp, err := client.CallUnary(ctx, connect.NewRequest(&PublishEventRequest{
		Name:    "shift.cancelled",
		Payload: map[string]any{"shift_id": "s-9"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "shift.cancelled", resp.Msg.Event.Name)
	assert.NotEmpty(t, resp.Msg.Event.ID)

	for _, name := range []string{"", "  ", eventbus.WorkflowChanged} {
		_, err := client.CallUnary(ctx, connect.NewRequest(&PublishEventRequest{Name: name}))
		require.Error(t, err, "name %q", name)
		assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err), "name %q", name)
	}
}

func TestSubscribeEventsFiltersByName(t *testing.T) {
	bus := eventbus.New()
	s := NewServer(busPublisher{bus: bus}, bus)
	mux := http.NewServeMux()
	mux.Handle(s.Handler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := connect.NewClient[SubscribeEventsRequest, eventbus.Event](
		srv.Client(), srv.URL+"/"+ServiceName+"/SubscribeEvents", connectjson.WithCodec(),
	)
	stream, err := client.CallServerStream(ctx, connect.NewRequest(&SubscribeEventsRequest{Names: []string{"volunteer.signed_up"}}))
	require.NoError(t, err)
	defer stream.Close()

	// The subscription is registered asynchronously, so keep publishing
	// until the first event comes through.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.PublishNew("shift.cancelled", nil)
				bus.PublishNew("volunteer.signed_up", map[string]any{"name": "Ada"})
			}
		}
	}()

	require.True(t, stream.Receive(), "stream ended: %v", stream.Err())
	assert.Equal(t, "volunteer.signed_up", stream.Msg().Name)
	assert.Equal(t, "Ada", stream.Msg().Payload["name"])
}
