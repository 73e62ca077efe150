package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    Channel
		wantErr bool
	}{
		{"telegram", Telegram, false},
		{"whatsapp", WhatsApp, false},
		{"webhook", Webhook, false},
		{"sms", "", true},
		{"", "", true},
		{"TELEGRAM", "", true},
	}
	for _, tt := range tests {
		got, err := ParseChannel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseChannel(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseChannel(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseChannel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseStatus_Invalid(t *testing.T) {
	_, err := ParseStatus("exploded")
	if err == nil {
		t.Fatal("expected invalid_field error")
	}
}

func TestParsePriority(t *testing.T) {
	for _, n := range []int{0, 5, 8, 10} {
		if _, err := ParsePriority(n); err != nil {
			t.Errorf("ParsePriority(%d): %v", n, err)
		}
	}
	if _, err := ParsePriority(7); err == nil {
		t.Error("ParsePriority(7): expected error")
	}
}

func TestNewMessage_Defaults(t *testing.T) {
	msg := NewMessage(Webhook, Telegram, "hi", "12345")

	if msg.ID == "" {
		t.Fatal("id must be assigned at creation")
	}
	if msg.Status != StatusPending {
		t.Errorf("status = %q, want pending", msg.Status)
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("priority = %d, want 5", msg.Priority)
	}
	if msg.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", msg.MaxRetries)
	}
}

func TestMessage_RoundTrip(t *testing.T) {
	sentAt := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)
	msg := NewMessage(Webhook, Slack, "deploy done", "#ops")
	msg.Template = "alert"
	msg.TemplateVars = map[string]any{"level": "WARN"}
	msg.Metadata = map[string]any{"channel": "#ops"}
	msg.Priority = PriorityHigh
	msg.Status = StatusSent
	msg.SentAt = &sentAt
	msg.RetryCount = 2
	msg.MaxRetries = 5
	msg.LastError = "HTTP 500"
	msg.Attachments = []Attachment{{Filename: "report.pdf", ContentType: "application/pdf", Size: 2048}}

	got, err := FromMap(msg.ToMap())
	require.NoError(t, err)

	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.FromChannel, got.FromChannel)
	assert.Equal(t, msg.ToChannel, got.ToChannel)
	assert.Equal(t, msg.Content, got.Content)
	assert.Equal(t, msg.Target, got.Target)
	assert.Equal(t, msg.Template, got.Template)
	assert.Equal(t, msg.TemplateVars, got.TemplateVars)
	assert.Equal(t, msg.Metadata, got.Metadata)
	assert.Equal(t, msg.Priority, got.Priority)
	assert.Equal(t, msg.Status, got.Status)
	assert.Equal(t, msg.RetryCount, got.RetryCount)
	assert.Equal(t, msg.MaxRetries, got.MaxRetries)
	assert.Equal(t, msg.LastError, got.LastError)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(sentAt))
	assert.True(t, got.CreatedAt.Equal(msg.CreatedAt))
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "report.pdf", got.Attachments[0].Filename)
	assert.Equal(t, int64(2048), got.Attachments[0].Size)
}

func TestFromMap_UnknownChannel(t *testing.T) {
	_, err := FromMap(map[string]any{
		"from_channel": "webhook",
		"to_channel":   "pigeon",
		"target":       "x",
	})
	if err == nil {
		t.Fatal("expected invalid_field error for unknown channel")
	}
}

func TestClone_TargetOverride(t *testing.T) {
	msg := NewMessage(Webhook, Telegram, "broadcast", "default-target")
	msg.Metadata = map[string]any{"target:slack": "#alerts"}

	slackCopy := msg.Clone(Slack)
	if slackCopy.Target != "#alerts" {
		t.Errorf("slack target = %q, want #alerts", slackCopy.Target)
	}
	if slackCopy.ID == msg.ID {
		t.Error("clone must get a fresh id")
	}

	tgCopy := msg.Clone(Telegram)
	if tgCopy.Target != "default-target" {
		t.Errorf("telegram target = %q, want default-target", tgCopy.Target)
	}
}

func TestMessage_Equal(t *testing.T) {
	a := NewMessage(Webhook, Telegram, "x", "t")
	b := NewMessage(Webhook, Telegram, "x", "t")
	if a.Equal(b) {
		t.Error("distinct ids must not be equal")
	}
	b.ID = a.ID
	if !a.Equal(b) {
		t.Error("same id must be equal")
	}
	if a.Equal(nil) {
		t.Error("nil is never equal")
	}
}
