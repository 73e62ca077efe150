package model

import (
	"fmt"
	"time"

	"github.com/bytedance/gg/gconv"
	"github.com/google/uuid"
)

// Channel identifies a delivery backend.
type Channel string

const (
	Telegram Channel = "telegram"
	WhatsApp Channel = "whatsapp"
	Discord  Channel = "discord"
	Slack    Channel = "slack"
	Email    Channel = "email"
	Webhook  Channel = "webhook"
)

var SupportedChannels = []Channel{
	Telegram,
	WhatsApp,
	Discord,
	Slack,
	Email,
	Webhook,
}

// ParseChannel validates a channel name coming from an ingress DTO.
func ParseChannel(s string) (Channel, error) {
	for _, ch := range SupportedChannels {
		if string(ch) == s {
			return ch, nil
		}
	}
	return "", fmt.Errorf("invalid_field: unknown channel %q", s)
}

// Status is the per-message lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
	StatusDead      Status = "dead"
)

var statuses = []Status{
	StatusPending,
	StatusSending,
	StatusSent,
	StatusDelivered,
	StatusFailed,
	StatusRetrying,
	StatusDead,
}

func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid_field: unknown status %q", s)
}

// Priority classifies a message. Currently informational; reserved for
// future queue ordering.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 8
	PriorityCritical Priority = 10
)

func ParsePriority(n int) (Priority, error) {
	switch Priority(n) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return Priority(n), nil
	}
	return 0, fmt.Errorf("invalid_field: unknown priority %d", n)
}

// Attachment is a file carried alongside a message. Data holds inline bytes;
// URL points at remote content. Adapters that cannot carry attachments
// ignore them.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	URL         string `json:"url,omitempty"`
	Data        []byte `json:"-"`
	Size        int64  `json:"size"`
}

func (a Attachment) ToMap() map[string]any {
	return map[string]any{
		"filename":     a.Filename,
		"content_type": a.ContentType,
		"url":          a.URL,
		"size":         a.Size,
	}
}

// Message is the normalized envelope every channel shares. Its Status field
// is mutated exclusively by the routing engine (router.Engine).
type Message struct {
	ID          string
	FromChannel Channel
	ToChannel   Channel
	Content     string
	Target      string

	Attachments  []Attachment
	Metadata     map[string]any
	Priority     Priority
	Status       Status
	Template     string
	TemplateVars map[string]any

	CreatedAt time.Time
	SentAt    *time.Time

	RetryCount int
	MaxRetries int
	LastError  string
}

// NewMessage builds a pending message with defaults filled in.
func NewMessage(from, to Channel, content, target string) *Message {
	return &Message{
		ID:           uuid.New().String(),
		FromChannel:  from,
		ToChannel:    to,
		Content:      content,
		Target:       target,
		Metadata:     map[string]any{},
		TemplateVars: map[string]any{},
		Priority:     PriorityNormal,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
		MaxRetries:   3,
	}
}

// Equal compares messages by identity.
func (m *Message) Equal(other *Message) bool {
	return other != nil && m.ID == other.ID
}

// MetaString returns a metadata value as a string, or def when absent.
func (m *Message) MetaString(key, def string) string {
	if v, ok := m.Metadata[key]; ok {
		if s := gconv.To[string](v); s != "" {
			return s
		}
	}
	return def
}

// Clone produces the per-channel copy used by broadcast. The target may be
// overridden with a "target:<channel>" metadata key.
func (m *Message) Clone(to Channel) *Message {
	target := m.Target
	if override := m.MetaString("target:"+string(to), ""); override != "" {
		target = override
	}
	return &Message{
		ID:           uuid.New().String(),
		FromChannel:  m.FromChannel,
		ToChannel:    to,
		Content:      m.Content,
		Target:       target,
		Attachments:  m.Attachments,
		Metadata:     m.Metadata,
		Priority:     m.Priority,
		Status:       StatusPending,
		Template:     m.Template,
		TemplateVars: m.TemplateVars,
		CreatedAt:    time.Now().UTC(),
		MaxRetries:   m.MaxRetries,
	}
}

// ToMap serializes the message for persistence and audit payloads.
func (m *Message) ToMap() map[string]any {
	attachments := make([]map[string]any, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, a.ToMap())
	}

	var sentAt any
	if m.SentAt != nil {
		sentAt = m.SentAt.UTC().Format(time.RFC3339Nano)
	}

	return map[string]any{
		"id":            m.ID,
		"from_channel":  string(m.FromChannel),
		"to_channel":    string(m.ToChannel),
		"content":       m.Content,
		"target":        m.Target,
		"attachments":   attachments,
		"metadata":      m.Metadata,
		"priority":      int(m.Priority),
		"status":        string(m.Status),
		"template":      m.Template,
		"template_vars": m.TemplateVars,
		"created_at":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"sent_at":       sentAt,
		"retry_count":   m.RetryCount,
		"max_retries":   m.MaxRetries,
		"last_error":    m.LastError,
	}
}

// FromMap rebuilds a message from an ingress DTO or a persisted row.
// Enum-valued fields are validated; unknown values fail with invalid_field.
func FromMap(data map[string]any) (*Message, error) {
	from, err := ParseChannel(gconv.To[string](data["from_channel"]))
	if err != nil {
		return nil, err
	}
	to, err := ParseChannel(gconv.To[string](data["to_channel"]))
	if err != nil {
		return nil, err
	}

	msg := NewMessage(from, to, gconv.To[string](data["content"]), gconv.To[string](data["target"]))

	if id := gconv.To[string](data["id"]); id != "" {
		msg.ID = id
	}
	if raw, ok := data["status"]; ok {
		st, err := ParseStatus(gconv.To[string](raw))
		if err != nil {
			return nil, err
		}
		msg.Status = st
	}
	if raw, ok := data["priority"]; ok {
		p, err := ParsePriority(gconv.To[int](raw))
		if err != nil {
			return nil, err
		}
		msg.Priority = p
	}
	if meta, ok := data["metadata"].(map[string]any); ok {
		msg.Metadata = meta
	}
	if vars, ok := data["template_vars"].(map[string]any); ok {
		msg.TemplateVars = vars
	}
	msg.Template = gconv.To[string](data["template"])
	if raw, ok := data["retry_count"]; ok {
		msg.RetryCount = gconv.To[int](raw)
	}
	if raw, ok := data["max_retries"]; ok {
		msg.MaxRetries = gconv.To[int](raw)
	}
	msg.LastError = gconv.To[string](data["last_error"])

	if raw := gconv.To[string](data["created_at"]); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid_field: bad created_at %q: %w", raw, err)
		}
		msg.CreatedAt = t
	}
	if raw := gconv.To[string](data["sent_at"]); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid_field: bad sent_at %q: %w", raw, err)
		}
		msg.SentAt = &t
	}

	if rawList, ok := data["attachments"].([]any); ok {
		for _, raw := range rawList {
			am, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    gconv.To[string](am["filename"]),
				ContentType: gconv.To[string](am["content_type"]),
				URL:         gconv.To[string](am["url"]),
				Size:        gconv.To[int64](am["size"]),
			})
		}
	}

	return msg, nil
}

// SendResult is the value every adapter invocation returns.
type SendResult struct {
	Success    bool
	MessageID  string
	Channel    Channel
	Response   map[string]any
	Error      string
	RetryCount int
}

func (r *SendResult) ToMap() map[string]any {
	return map[string]any{
		"success":     r.Success,
		"message_id":  r.MessageID,
		"channel":     string(r.Channel),
		"response":    r.Response,
		"error":       r.Error,
		"retry_count": r.RetryCount,
	}
}

// Failure builds an unsuccessful result for the given message.
func Failure(msg *Message, ch Channel, err string) *SendResult {
	return &SendResult{
		Success:   false,
		MessageID: msg.ID,
		Channel:   ch,
		Error:     err,
	}
}
