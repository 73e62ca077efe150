package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

func TestSend_HappyPath(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := New(config.WebhookConfig{Timeout: 5})
	msg := model.NewMessage(model.Webhook, model.Webhook, "hi", srv.URL)

	res := wh.Send(context.Background(), msg)
	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, msg.ID, res.MessageID)
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "OmniMessage-Gateway/2.0", gotHeader.Get("User-Agent"))
	assert.Empty(t, gotHeader.Get("X-Signature-256"))

	var payload map[string]any
	require.NoError(t, sonic.Unmarshal(gotBody, &payload))
	assert.Equal(t, "message", payload["event"])
	assert.Equal(t, "hi", payload["content"])
	assert.Equal(t, msg.ID, payload["message_id"])
}

func TestSend_SignsExactBodyBytes(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature-256")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := New(config.WebhookConfig{Secret: "k", Timeout: 5})
	msg := model.NewMessage(model.Webhook, model.Webhook, "signed", srv.URL)

	res := wh.Send(context.Background(), msg)
	require.True(t, res.Success)

	mac := hmac.New(sha256.New, []byte("k"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, gotSig)
}

func TestSend_CustomHeadersAndEvent(t *testing.T) {
	var gotHeader http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh := New(config.WebhookConfig{Timeout: 5})
	msg := model.NewMessage(model.Webhook, model.Webhook, "x", srv.URL)
	msg.Metadata = map[string]any{
		"event":   "deploy.finished",
		"headers": map[string]any{"X-Trace": "abc"},
	}

	res := wh.Send(context.Background(), msg)
	require.True(t, res.Success)
	assert.Equal(t, "abc", gotHeader.Get("X-Trace"))

	var payload map[string]any
	require.NoError(t, sonic.Unmarshal(gotBody, &payload))
	assert.Equal(t, "deploy.finished", payload["event"])
}

func TestSend_GETMethod(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := New(config.WebhookConfig{Timeout: 5})
	msg := model.NewMessage(model.Webhook, model.Webhook, "x", srv.URL)
	msg.Metadata = map[string]any{"method": "GET"}

	res := wh.Send(context.Background(), msg)
	require.True(t, res.Success)
	assert.Equal(t, http.MethodGet, gotMethod)
}

func TestSend_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := New(config.WebhookConfig{Timeout: 5})
	msg := model.NewMessage(model.Webhook, model.Webhook, "x", srv.URL)

	res := wh.Send(context.Background(), msg)
	assert.False(t, res.Success)
	assert.Equal(t, "HTTP 502", res.Error)
}

func TestSend_MissingTarget(t *testing.T) {
	wh := New(config.WebhookConfig{})
	msg := model.NewMessage(model.Webhook, model.Webhook, "x", "")

	res := wh.Send(context.Background(), msg)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid_input")
}

func TestAlwaysEnabled(t *testing.T) {
	wh := New(config.WebhookConfig{})
	assert.True(t, wh.Enabled())
	assert.True(t, wh.Validate(context.Background()))
}
