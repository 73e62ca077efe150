package slack

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/platoba/OmniMessage-Gateway/internal/channel"
	"github.com/platoba/OmniMessage-Gateway/internal/config"
	"github.com/platoba/OmniMessage-Gateway/internal/model"
)

var _ channel.Adapter = (*Slack)(nil)

// Slack delivers messages through an incoming webhook. Slack signals success
// with the literal response body "ok".
type Slack struct {
	cfg     config.SlackConfig
	client  *http.Client
	enabled bool
}

func New(cfg config.SlackConfig) *Slack {
	s := &Slack{client: channel.NewHTTPClient(channel.DefaultTimeout)}
	s.Configure(cfg)
	return s
}

func (s *Slack) Configure(cfg config.SlackConfig) {
	s.cfg = cfg
	s.enabled = cfg.WebhookURL != ""
}

func (s *Slack) Type() model.Channel { return model.Slack }

func (s *Slack) Enabled() bool { return s.enabled }

func (s *Slack) Validate(_ context.Context) bool { return s.enabled }

func (s *Slack) Send(ctx context.Context, msg *model.Message) *model.SendResult {
	url := msg.MetaString("webhook_url", s.cfg.WebhookURL)
	if url == "" {
		return model.Failure(msg, model.Slack, "not_configured: missing slack webhook URL")
	}

	payload := map[string]any{"text": msg.Content}
	if blocks, ok := msg.Metadata["blocks"]; ok {
		payload["blocks"] = blocks
	}
	if ch := msg.MetaString("channel", ""); ch != "" {
		payload["channel"] = ch
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return model.Failure(msg, model.Slack, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return model.Failure(msg, model.Slack, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return model.Failure(msg, model.Slack, err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	text := string(respBody)
	if text != "ok" {
		return model.Failure(msg, model.Slack, text)
	}

	return &model.SendResult{
		Success:   true,
		MessageID: msg.ID,
		Channel:   model.Slack,
		Response:  map[string]any{"text": text, "status_code": resp.StatusCode},
	}
}
