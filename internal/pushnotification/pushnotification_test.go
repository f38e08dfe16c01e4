package pushnotification

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volunteerhub/volunteerhub/internal/config"
	"github.com/volunteerhub/volunteerhub/internal/eventbus"
	"github.com/volunteerhub/volunteerhub/internal/pushsubscription"
	"github.com/volunteerhub/volunteerhub/internal/pushsubscription/repositoryimpl"
	"github.com/volunteerhub/volunteerhub/pkg/cerr"
	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

// Browser keys from a real subscription.
const (
	testP256dh = "BNNL5ZaTfK81qhXOx23-wewhigUeFb632jN6LvRWCFH1ubQr77FE_9qV1FuojuRmHP42zmf34rXgW80OvUVDgTk"
	testAuth   = "zqbxT6JKstKSY9JKibZLSQ"
)

type pushService struct {
	mu       sync.Mutex
	status   map[string]int
	received []string
}

func (p *pushService) Do(req *http.Request) (*http.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	url := req.URL.String()
	p.received = append(p.received, url)
	code, ok := p.status[url]
	if !ok {
		code = http.StatusCreated
	}
	return &http.Response{StatusCode: code, Body: http.NoBody}, nil
}

func (p *pushService) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

func newFixture(t *testing.T, configured bool) (*repositoryimpl.YAMLRepository, *pushService, *Sender, *config.VAPIDEnv) {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repositoryimpl.NewYAMLRepository(s)

	env := &config.VAPIDEnv{VAPIDContact: "mailto:ops@example.org"}
	if configured {
		env.VAPIDPrivateKey, env.VAPIDPublicKey, err = webpush.GenerateVAPIDKeys()
		require.NoError(t, err)
	}
	svc := &pushService{status: map[string]int{}}
	return repo, svc, NewSender(env, repo, WithHTTPClient(svc)), env
}

func addSub(t *testing.T, repo pushsubscription.Repository, id, userID, endpoint string) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &pushsubscription.Subscription{
		ID: id, UserID: userID, Endpoint: endpoint, P256dhKey: testP256dh, AuthKey: testAuth,
	}))
}

func TestSendToUsersRemovesExpired(t *testing.T) {
	ctx := context.Background()
	repo, svc, sender, _ := newFixture(t, true)
	addSub(t, repo, "s1", "u1", "https://push.example/live")
	addSub(t, repo, "s2", "u1", "https://push.example/gone")
	addSub(t, repo, "s3", "u2", "https://push.example/other")
	svc.status["https://push.example/gone"] = http.StatusGone

	delivered := sender.SendToUsers(ctx, []string{"u1"}, &NotificationPayload{Title: "Shift tomorrow", Body: "08:00 at the food bank"})
	assert.Equal(t, 1, delivered)
	assert.ElementsMatch(t, []string{"https://push.example/live", "https://push.example/gone"}, svc.calls())

	_, err := repo.Get(ctx, "s2")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	_, err = repo.Get(ctx, "s1")
	assert.NoError(t, err)
}

func TestSendSkipsWithoutVAPIDKeys(t *testing.T) {
	repo, svc, sender, _ := newFixture(t, false)
	addSub(t, repo, "s1", "u1", "https://push.example/live")

	assert.Zero(t, sender.SendToAll(context.Background(), &NotificationPayload{Title: "x"}))
	assert.Empty(t, svc.calls())
}

func TestDispatcherForwardsNotifications(t *testing.T) {
	repo, svc, sender, _ := newFixture(t, true)
	addSub(t, repo, "s1", "u1", "https://push.example/u1")
	addSub(t, repo, "s2", "u2", "https://push.example/u2")

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		NewDispatcher(bus, sender).Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.PublishNew(eventbus.NotificationCreated, map[string]any{
			"user_id": "u2",
			"message": "New incident reported",
			"type":    "warning",
		})
		return len(svc.calls()) > 0
	}, 3*time.Second, 50*time.Millisecond)
	assert.Contains(t, svc.calls(), "https://push.example/u2")
	assert.NotContains(t, svc.calls(), "https://push.example/u1")

	cancel()
	<-done
}

func TestServerRegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, _, sender, env := newFixture(t, true)
	srv := NewServer(env, repo, sender)

	req := &RegisterPushSubscriptionRequest{UserID: "u1", Endpoint: "https://push.example/a", P256dhKey: testP256dh, AuthKey: testAuth}
	first, err := srv.RegisterPushSubscription(ctx, connect.NewRequest(req))
	require.NoError(t, err)

	req.UserID = "u9"
	second, err := srv.RegisterPushSubscription(ctx, connect.NewRequest(req))
	require.NoError(t, err)
	assert.Equal(t, first.Msg.Subscription.ID, second.Msg.Subscription.ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "u9", all[0].UserID)

	_, err = srv.RegisterPushSubscription(ctx, connect.NewRequest(&RegisterPushSubscriptionRequest{Endpoint: "https://push.example/b"}))
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	_, err = srv.UnregisterPushSubscription(ctx, connect.NewRequest(&UnregisterPushSubscriptionRequest{Endpoint: "https://push.example/a"}))
	require.NoError(t, err)
	all, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestServerVapidKey(t *testing.T) {
	ctx := context.Background()
	repo, _, sender, env := newFixture(t, true)
	resp, err := NewServer(env, repo, sender).GetVapidPublicKey(ctx, connect.NewRequest(&GetVapidPublicKeyRequest{}))
	require.NoError(t, err)
	assert.Equal(t, env.VAPIDPublicKey, resp.Msg.PublicKey)

	repo, _, sender, env = newFixture(t, false)
	_, err = NewServer(env, repo, sender).GetVapidPublicKey(ctx, connect.NewRequest(&GetVapidPublicKeyRequest{}))
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}
