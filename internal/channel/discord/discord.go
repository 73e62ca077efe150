package discord

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/platoba/OmniMessage-Gateway/internal/channel"
	"github.com/platoba/OmniMessage-Gateway/internal/config"
	"github.com/platoba/OmniMessage-Gateway/internal/model"
)

const defaultUsername = "OmniMessage"

var _ channel.Adapter = (*Discord)(nil)

// Discord delivers messages through an incoming webhook. The configured URL
// is the default; a webhook_url metadata key overrides it per call.
type Discord struct {
	cfg     config.DiscordConfig
	client  *http.Client
	enabled bool
}

func New(cfg config.DiscordConfig) *Discord {
	d := &Discord{client: channel.NewHTTPClient(channel.DefaultTimeout)}
	d.Configure(cfg)
	return d
}

func (d *Discord) Configure(cfg config.DiscordConfig) {
	d.cfg = cfg
	d.enabled = cfg.WebhookURL != ""
}

func (d *Discord) Type() model.Channel { return model.Discord }

func (d *Discord) Enabled() bool { return d.enabled }

func (d *Discord) Validate(_ context.Context) bool { return d.enabled }

func (d *Discord) Send(ctx context.Context, msg *model.Message) *model.SendResult {
	url := msg.MetaString("webhook_url", d.cfg.WebhookURL)
	if url == "" {
		return model.Failure(msg, model.Discord, "not_configured: missing discord webhook URL")
	}

	payload := map[string]any{
		"content":  msg.Content,
		"username": msg.MetaString("username", defaultUsername),
	}
	if embed, ok := msg.Metadata["embed"]; ok {
		payload["embeds"] = []any{embed}
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return model.Failure(msg, model.Discord, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return model.Failure(msg, model.Discord, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return model.Failure(msg, model.Discord, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return model.Failure(msg, model.Discord, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	return &model.SendResult{
		Success:   true,
		MessageID: msg.ID,
		Channel:   model.Discord,
		Response:  map[string]any{"status_code": resp.StatusCode},
	}
}
