package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/gg/gconv"
	"github.com/bytedance/sonic"

	"github.com/platoba/OmniMessage-Gateway/internal/channel"
	"github.com/platoba/OmniMessage-Gateway/internal/config"
	"github.com/platoba/OmniMessage-Gateway/internal/model"
)

const userAgent = "OmniMessage-Gateway/2.0"

var _ channel.Adapter = (*Webhook)(nil)

// Webhook posts messages to an arbitrary HTTP endpoint; the target is the
// URL. Always enabled. When a shared secret is configured the exact body
// bytes are signed with HMAC-SHA256.
type Webhook struct {
	cfg    config.WebhookConfig
	client *http.Client
}

func New(cfg config.WebhookConfig) *Webhook {
	w := &Webhook{}
	w.Configure(cfg)
	return w
}

func (w *Webhook) Configure(cfg config.WebhookConfig) {
	w.cfg = cfg
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 || timeout > 30*time.Second {
		timeout = 30 * time.Second
	}
	w.client = channel.NewHTTPClient(timeout)
}

func (w *Webhook) Type() model.Channel { return model.Webhook }

func (w *Webhook) Enabled() bool { return true }

func (w *Webhook) Validate(_ context.Context) bool { return true }

func (w *Webhook) sign(body []byte) string {
	if w.cfg.Secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(w.cfg.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (w *Webhook) Send(ctx context.Context, msg *model.Message) *model.SendResult {
	url := msg.Target
	if url == "" {
		return model.Failure(msg, model.Webhook, "invalid_input: webhook target URL is required")
	}

	payload := map[string]any{
		"event":      msg.MetaString("event", "message"),
		"content":    msg.Content,
		"message_id": msg.ID,
		"metadata":   msg.Metadata,
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return model.Failure(msg, model.Webhook, err.Error())
	}

	method := strings.ToUpper(msg.MetaString("method", http.MethodPost))
	var req *http.Request
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	}
	if err != nil {
		return model.Failure(msg, model.Webhook, err.Error())
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if sig := w.sign(body); sig != "" {
		req.Header.Set("X-Signature-256", "sha256="+sig)
	}
	if extra, ok := msg.Metadata["headers"].(map[string]any); ok {
		for k, v := range extra {
			req.Header.Set(k, gconv.To[string](v))
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return model.Failure(msg, model.Webhook, err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Failure(msg, model.Webhook, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	return &model.SendResult{
		Success:   true,
		MessageID: msg.ID,
		Channel:   model.Webhook,
		Response:  map[string]any{"status_code": resp.StatusCode, "body": string(respBody)},
	}
}
