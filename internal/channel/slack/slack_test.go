package slack

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platoba/OmniMessage-Gateway/internal/config"
	"github.com/platoba/OmniMessage-Gateway/internal/model"
)

func TestSend_OK(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	s := New(config.SlackConfig{WebhookURL: srv.URL})
	msg := model.NewMessage(model.Webhook, model.Slack, "deploy done", "#ops")

	res := s.Send(context.Background(), msg)
	require.True(t, res.Success, "error: %s", res.Error)

	var payload map[string]any
	require.NoError(t, sonic.Unmarshal(gotBody, &payload))
	assert.Equal(t, "deploy done", payload["text"])
}

func TestSend_NonOKBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "invalid_payload")
	}))
	defer srv.Close()

	s := New(config.SlackConfig{WebhookURL: srv.URL})
	msg := model.NewMessage(model.Webhook, model.Slack, "x", "#ops")

	res := s.Send(context.Background(), msg)
	assert.False(t, res.Success)
	assert.Equal(t, "invalid_payload", res.Error)
}

func TestSend_BlocksAndChannel(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	s := New(config.SlackConfig{WebhookURL: srv.URL})
	msg := model.NewMessage(model.Webhook, model.Slack, "x", "#ops")
	msg.Metadata = map[string]any{
		"blocks":  []any{map[string]any{"type": "divider"}},
		"channel": "#alerts",
	}

	res := s.Send(context.Background(), msg)
	require.True(t, res.Success)

	var payload map[string]any
	require.NoError(t, sonic.Unmarshal(gotBody, &payload))
	assert.Equal(t, "#alerts", payload["channel"])
	assert.NotNil(t, payload["blocks"])
}

func TestSend_PerCallWebhookOverride(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	s := New(config.SlackConfig{WebhookURL: "http://configured.invalid"})
	msg := model.NewMessage(model.Webhook, model.Slack, "x", "#ops")
	msg.Metadata = map[string]any{"webhook_url": srv.URL}

	res := s.Send(context.Background(), msg)
	require.True(t, res.Success)
	assert.True(t, hit)
}

func TestNotConfigured(t *testing.T) {
	s := New(config.SlackConfig{})
	assert.False(t, s.Enabled())

	msg := model.NewMessage(model.Webhook, model.Slack, "x", "#ops")
	res := s.Send(context.Background(), msg)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not_configured")
}
