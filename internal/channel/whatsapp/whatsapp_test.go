package whatsapp

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

func newTestAdapter(srvURL string) *WhatsApp {
	w := New(config.WhatsAppConfig{Token: "tok", PhoneID: "123", APIVersion: "v19.0"})
	w.SetBaseURL(srvURL)
	return w
}

func TestSend_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"messages":[{"id":"wamid.X"}]}`)
	}))
	defer srv.Close()

	wa := newTestAdapter(srv.URL)
	msg := model.NewMessage(model.Webhook, model.WhatsApp, "hola", "+34600000000")

	res := wa.Send(context.Background(), msg)
	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, "/v19.0/123/messages", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)

	var payload map[string]any
	require.NoError(t, sonic.Unmarshal(gotBody, &payload))
	assert.Equal(t, "whatsapp", payload["messaging_product"])
	assert.Equal(t, "text", payload["type"])
	assert.Equal(t, "+34600000000", payload["to"])
}

func TestSend_TemplateMessage(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"messages":[{"id":"wamid.Y"}]}`)
	}))
	defer srv.Close()

	wa := newTestAdapter(srv.URL)
	msg := model.NewMessage(model.Webhook, model.WhatsApp, "ignored", "+34600000000")
	msg.Metadata = map[string]any{
		"wa_template": map[string]any{"name": "order_update", "language": map[string]any{"code": "en"}},
	}

	res := wa.Send(context.Background(), msg)
	require.True(t, res.Success)

	var payload map[string]any
	require.NoError(t, sonic.Unmarshal(gotBody, &payload))
	assert.Equal(t, "template", payload["type"])
	assert.NotNil(t, payload["template"])
	assert.Nil(t, payload["text"])
}

func TestSend_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Invalid OAuth access token"}}`)
	}))
	defer srv.Close()

	wa := newTestAdapter(srv.URL)
	msg := model.NewMessage(model.Webhook, model.WhatsApp, "x", "+34600000000")

	res := wa.Send(context.Background(), msg)
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid OAuth access token", res.Error)
}

func TestNotConfigured(t *testing.T) {
	wa := New(config.WhatsAppConfig{Token: "tok"}) // no phone_id
	assert.False(t, wa.Enabled())

	msg := model.NewMessage(model.Webhook, model.WhatsApp, "x", "+34600000000")
	res := wa.Send(context.Background(), msg)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not_configured")
}
