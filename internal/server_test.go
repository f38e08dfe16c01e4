package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volunteerhub/volunteerhub/internal/config"
	"github.com/volunteerhub/volunteerhub/internal/event"
	"github.com/volunteerhub/volunteerhub/internal/eventbus"
	"github.com/volunteerhub/volunteerhub/internal/execution"
	execrepo "github.com/volunteerhub/volunteerhub/internal/execution/repositoryimpl"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
	wfrepo "github.com/volunteerhub/volunteerhub/internal/workflow/repositoryimpl"
	"github.com/volunteerhub/volunteerhub/pkg/connectjson"
	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

const testAPIKey = "secret"

type recordingPublisher struct {
	bus   *eventbus.Bus
	names []string
}

func (p *recordingPublisher) TriggerEvent(name string, payload map[string]any) *eventbus.Event {
	p.names = append(p.names, name)
	return p.bus.PublishNew(name, payload)
}

func newTestServer(t *testing.T) (*httptest.Server, *recordingPublisher) {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	bus := eventbus.New()
	pub := &recordingPublisher{bus: bus}

	env := &config.Env{}
	env.APIKey = testAPIKey
	srv := NewServer(env, pub,
		workflow.NewServer(wfrepo.NewYAMLRepository(s), nil, bus, time.UTC),
		execution.NewServer(execrepo.NewYAMLRepository(s)),
		event.NewServer(pub, bus),
		nil,
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, pub
}

func post(t *testing.T, url, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebhook(t *testing.T) {
	ts, pub := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/events", testAPIKey, `{"name":"form.submitted","payload":{"form_id":"f1"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, []string{"form.submitted"}, pub.names)

	resp = post(t, ts.URL+"/api/v1/events", testAPIKey, `{"name":"workflow.changed"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/events", testAPIKey, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/events", "", `{"name":"form.submitted"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Len(t, pub.names, 1)
}

func TestHealthSkipsAPIKey(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConnectServiceMounted(t *testing.T) {
	ts, _ := newTestServer(t)

	client := connect.NewClient[workflow.ListWorkflowsRequest, workflow.ListWorkflowsResponse](
		ts.Client(), ts.URL+"/"+workflow.ServiceName+"/ListWorkflows", connectjson.WithCodec(),
	)
	req := connect.NewRequest(&workflow.ListWorkflowsRequest{Limit: 10})
	req.Header().Set("X-API-Key", testAPIKey)
	resp, err := client.CallUnary(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, resp.Msg.Total)

	getClient := connect.NewClient[workflow.GetWorkflowRequest, workflow.GetWorkflowResponse](
		ts.Client(), ts.URL+"/"+workflow.ServiceName+"/GetWorkflow", connectjson.WithCodec(),
	)
	getReq := connect.NewRequest(&workflow.GetWorkflowRequest{ID: "missing"})
	getReq.Header().Set("X-API-Key", testAPIKey)
	_, err = getClient.CallUnary(context.Background(), getReq)
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}
