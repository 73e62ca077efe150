package whatsapp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/platoba/OmniMessage-Gateway/internal/channel"
	"github.com/platoba/OmniMessage-Gateway/internal/config"
	"github.com/platoba/OmniMessage-Gateway/internal/model"
)

const defaultBaseURL = "https://graph.facebook.com"

var _ channel.Adapter = (*WhatsApp)(nil)

// WhatsApp delivers messages through the Meta Cloud API. The target is a
// phone number in international format.
type WhatsApp struct {
	cfg     config.WhatsAppConfig
	baseURL string
	client  *http.Client
	enabled bool
}

func New(cfg config.WhatsAppConfig) *WhatsApp {
	w := &WhatsApp{
		baseURL: defaultBaseURL,
		client:  channel.NewHTTPClient(channel.DefaultTimeout),
	}
	w.Configure(cfg)
	return w
}

func (w *WhatsApp) Configure(cfg config.WhatsAppConfig) {
	w.cfg = cfg
	if w.cfg.APIVersion == "" {
		w.cfg.APIVersion = "v19.0"
	}
	w.enabled = cfg.Token != "" && cfg.PhoneID != ""
}

// SetBaseURL overrides the Graph API endpoint; tests point it at a stub.
func (w *WhatsApp) SetBaseURL(u string) { w.baseURL = u }

func (w *WhatsApp) Type() model.Channel { return model.WhatsApp }

func (w *WhatsApp) Enabled() bool { return w.enabled }

func (w *WhatsApp) Validate(_ context.Context) bool { return w.enabled }

func (w *WhatsApp) Send(ctx context.Context, msg *model.Message) *model.SendResult {
	if !w.enabled {
		return model.Failure(msg, model.WhatsApp, "not_configured: missing whatsapp token or phone_id")
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.Target,
		"type":              "text",
		"text":              map[string]any{"body": msg.Content},
	}
	// A wa_template metadata block switches to a template message, which is
	// required outside the 24-hour customer service window.
	if tpl, ok := msg.Metadata["wa_template"]; ok {
		payload = map[string]any{
			"messaging_product": "whatsapp",
			"to":                msg.Target,
			"type":              "template",
			"template":          tpl,
		}
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return model.Failure(msg, model.WhatsApp, err.Error())
	}

	url := fmt.Sprintf("%s/%s/%s/messages", w.baseURL, w.cfg.APIVersion, w.cfg.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return model.Failure(msg, model.WhatsApp, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return model.Failure(msg, model.WhatsApp, err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var data map[string]any
	if err := sonic.Unmarshal(respBody, &data); err != nil {
		return model.Failure(msg, model.WhatsApp, fmt.Sprintf("bad response (HTTP %d): %v", resp.StatusCode, err))
	}

	if _, ok := data["messages"]; !ok {
		errMsg := "Unknown error"
		if apiErr, ok := data["error"].(map[string]any); ok {
			if m, ok := apiErr["message"].(string); ok {
				errMsg = m
			}
		}
		return model.Failure(msg, model.WhatsApp, errMsg)
	}

	return &model.SendResult{
		Success:   true,
		MessageID: msg.ID,
		Channel:   model.WhatsApp,
		Response:  data,
	}
}
