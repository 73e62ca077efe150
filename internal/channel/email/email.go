package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"

	"github.com/platoba/OmniMessage-Gateway/internal/channel"
	"github.com/platoba/OmniMessage-Gateway/internal/config"
	"github.com/platoba/OmniMessage-Gateway/internal/model"
)

const defaultSubject = "OmniMessage Notification"

var _ channel.Adapter = (*Email)(nil)

// SendFunc matches smtp.SendMail; injectable so tests capture the wire bytes.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email delivers messages over an SMTP relay. The target is the recipient
// address. Attachments with inline bytes are carried as a multipart body.
type Email struct {
	cfg     config.EmailConfig
	send    SendFunc
	enabled bool
}

func New(cfg config.EmailConfig) *Email {
	e := &Email{send: smtp.SendMail}
	e.Configure(cfg)
	return e
}

func (e *Email) Configure(cfg config.EmailConfig) {
	e.cfg = cfg
	e.enabled = cfg.SMTPHost != "" && cfg.SMTPUser != ""
}

// SetSendFunc swaps the SMTP transport; used by tests.
func (e *Email) SetSendFunc(fn SendFunc) { e.send = fn }

func (e *Email) Type() model.Channel { return model.Email }

func (e *Email) Enabled() bool { return e.enabled }

func (e *Email) Validate(_ context.Context) bool { return e.enabled }

func (e *Email) Send(_ context.Context, msg *model.Message) *model.SendResult {
	if !e.enabled {
		return model.Failure(msg, model.Email, "not_configured: missing SMTP settings")
	}

	from := e.cfg.SMTPFrom
	if from == "" {
		from = e.cfg.SMTPUser
	}

	subject := msg.MetaString("subject", defaultSubject)
	html := false
	if v, ok := msg.Metadata["html"].(bool); ok {
		html = v
	}

	body := buildMIME(from, msg.Target, subject, msg.Content, html, msg.Attachments)

	var auth smtp.Auth
	if e.cfg.SMTPUser != "" && e.cfg.SMTPPass != "" {
		auth = smtp.PlainAuth("", e.cfg.SMTPUser, e.cfg.SMTPPass, e.cfg.SMTPHost)
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)
	if err := e.send(addr, auth, from, []string{msg.Target}, body); err != nil {
		return model.Failure(msg, model.Email, err.Error())
	}

	return &model.SendResult{
		Success:   true,
		MessageID: msg.ID,
		Channel:   model.Email,
		Response:  map[string]any{"smtp_host": e.cfg.SMTPHost, "to": msg.Target},
	}
}

const mixedBoundary = "omni-mixed-9a1f0c"

func buildMIME(from, to, subject, content string, html bool, attachments []model.Attachment) []byte {
	contentType := "text/plain; charset=utf-8"
	if html {
		contentType = "text/html; charset=utf-8"
	}

	var inline []model.Attachment
	for _, a := range attachments {
		if len(a.Data) > 0 {
			inline = append(inline, a)
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(inline) == 0 {
		fmt.Fprintf(&buf, "Content-Type: %s\r\n\r\n", contentType)
		buf.WriteString(content)
		return buf.Bytes()
	}

	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixedBoundary)

	fmt.Fprintf(&buf, "--%s\r\n", mixedBoundary)
	fmt.Fprintf(&buf, "Content-Type: %s\r\n\r\n", contentType)
	buf.WriteString(content)
	buf.WriteString("\r\n")

	for _, a := range inline {
		fmt.Fprintf(&buf, "--%s\r\n", mixedBoundary)
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", ct)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", a.Filename)

		encoded := base64.StdEncoding.EncodeToString(a.Data)
		for len(encoded) > 76 {
			buf.WriteString(encoded[:76])
			buf.WriteString("\r\n")
			encoded = encoded[76:]
		}
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", mixedBoundary)

	return buf.Bytes()
}
