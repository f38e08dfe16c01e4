package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResendSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"em_1"}`))
	}))
	defer srv.Close()

	s, err := NewResendSender(srv.URL, "key", "Hub <noreply@example.org>")
	require.NoError(t, err)
	err = s.Send(context.Background(), Message{To: []string{"a@example.org"}, Subject: "Hi", HTML: "<p>x</p>"})
	require.NoError(t, err)
	assert.Equal(t, "Hub <noreply@example.org>", got["from"])
	assert.Equal(t, []any{"a@example.org"}, got["to"])
	assert.Equal(t, "Hi", got["subject"])
	assert.Equal(t, "<p>x</p>", got["html"])
}

func TestResendSenderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"statusCode":422,"name":"validation_error","message":"invalid from"}`))
	}))
	defer srv.Close()

	s, err := NewResendSender(srv.URL+"/", "key", "x")
	require.NoError(t, err)
	err = s.Send(context.Background(), Message{To: []string{"a@example.org"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send mail")

	err = s.Send(context.Background(), Message{})
	assert.EqualError(t, err, "message has no recipients")
}

func TestRender(t *testing.T) {
	subject, html, err := Render("shift_reminder", map[string]any{
		"name":     "Ana",
		"shift":    "Food bank",
		"date":     "2026-10-20",
		"location": "Main St <3>",
	})
	require.NoError(t, err)
	assert.Equal(t, "Reminder: Food bank on 2026-10-20", subject)
	assert.Contains(t, html, "Hi Ana")
	assert.Contains(t, html, "Main St &lt;3&gt;")

	subject, html, err = Render("custom", map[string]any{"subject": "Closed Monday", "custom_message": "See you Tuesday"})
	require.NoError(t, err)
	assert.Equal(t, "Closed Monday", subject)
	assert.Contains(t, html, "See you Tuesday")

	for _, id := range TemplateIDs() {
		_, _, err := Render(id, nil)
		assert.NoError(t, err, id)
	}

	_, _, err = Render("nope", nil)
	assert.Error(t, err)
}
