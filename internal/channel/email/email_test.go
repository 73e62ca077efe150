package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platoba/OmniMessage-Gateway/internal/config"
	"github.com/platoba/OmniMessage-Gateway/internal/model"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	body string
}

func newTestAdapter(captured *capturedMail, sendErr error) *Email {
	e := New(config.EmailConfig{
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		SMTPUser: "bot@example.com",
		SMTPPass: "pw",
		SMTPFrom: "noreply@example.com",
	})
	e.SetSendFunc(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		if captured != nil {
			*captured = capturedMail{addr: addr, from: from, to: to, body: string(msg)}
		}
		return sendErr
	})
	return e
}

func TestSend_PlainText(t *testing.T) {
	var got capturedMail
	e := newTestAdapter(&got, nil)

	msg := model.NewMessage(model.Webhook, model.Email, "server is down", "ops@example.com")
	msg.Metadata = map[string]any{"subject": "ALERT"}

	res := e.Send(context.Background(), msg)
	require.True(t, res.Success, "error: %s", res.Error)

	assert.Equal(t, "smtp.example.com:587", got.addr)
	assert.Equal(t, "noreply@example.com", got.from)
	assert.Equal(t, []string{"ops@example.com"}, got.to)
	assert.Contains(t, got.body, "Subject: ALERT")
	assert.Contains(t, got.body, "Content-Type: text/plain")
	assert.Contains(t, got.body, "server is down")
}

func TestSend_HTML(t *testing.T) {
	var got capturedMail
	e := newTestAdapter(&got, nil)

	msg := model.NewMessage(model.Webhook, model.Email, "<h1>hi</h1>", "ops@example.com")
	msg.Metadata = map[string]any{"html": true}

	res := e.Send(context.Background(), msg)
	require.True(t, res.Success)
	assert.Contains(t, got.body, "Content-Type: text/html")
}

func TestSend_Attachments(t *testing.T) {
	var got capturedMail
	e := newTestAdapter(&got, nil)

	msg := model.NewMessage(model.Webhook, model.Email, "see attached", "ops@example.com")
	msg.Attachments = []model.Attachment{
		{Filename: "report.csv", ContentType: "text/csv", Data: []byte("a,b\n1,2\n")},
		{Filename: "remote.png", ContentType: "image/png", URL: "https://x/y.png"}, // no inline bytes, skipped
	}

	res := e.Send(context.Background(), msg)
	require.True(t, res.Success)

	assert.Contains(t, got.body, "multipart/mixed")
	assert.Contains(t, got.body, `filename="report.csv"`)
	assert.Equal(t, 1, strings.Count(got.body, "Content-Disposition: attachment"))
}

func TestSend_FromFallsBackToUser(t *testing.T) {
	var got capturedMail
	e := New(config.EmailConfig{SMTPHost: "h", SMTPPort: 25, SMTPUser: "u@example.com", SMTPPass: "p"})
	e.SetSendFunc(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		got = capturedMail{addr: addr, from: from, to: to, body: string(msg)}
		return nil
	})

	msg := model.NewMessage(model.Webhook, model.Email, "x", "ops@example.com")
	res := e.Send(context.Background(), msg)
	require.True(t, res.Success)
	assert.Equal(t, "u@example.com", got.from)
}

func TestSend_SMTPFailure(t *testing.T) {
	e := newTestAdapter(nil, errors.New("550 mailbox unavailable"))
	msg := model.NewMessage(model.Webhook, model.Email, "x", "ops@example.com")

	res := e.Send(context.Background(), msg)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "550")
}

func TestNotConfigured(t *testing.T) {
	e := New(config.EmailConfig{})
	assert.False(t, e.Enabled())

	msg := model.NewMessage(model.Webhook, model.Email, "x", "ops@example.com")
	res := e.Send(context.Background(), msg)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not_configured")
}
