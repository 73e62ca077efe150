package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/platoba/OmniMessage-Gateway/internal/channel"
	"github.com/platoba/OmniMessage-Gateway/internal/config"
	"github.com/platoba/OmniMessage-Gateway/internal/model"
	"github.com/platoba/OmniMessage-Gateway/internal/pkg/logs"
)

var _ channel.Adapter = (*Telegram)(nil)

// Telegram delivers messages through the Bot API. The target is a chat ID or
// @channel username.
type Telegram struct {
	cfg     config.TelegramConfig
	bot     *bot.Bot
	enabled bool
}

// Option customizes bot construction; tests use it to point at a stub server.
type Option = bot.Option

func New(cfg config.TelegramConfig, opts ...Option) *Telegram {
	t := &Telegram{}
	t.Configure(cfg, opts...)
	return t
}

// Configure swaps in new credentials. A bad token is surfaced on send rather
// than at boot, so construction never fails.
func (t *Telegram) Configure(cfg config.TelegramConfig, opts ...Option) {
	t.cfg = cfg
	t.enabled = cfg.Token != ""
	t.bot = nil

	if !t.enabled {
		return
	}

	botOpts := append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(cfg.Token, botOpts...)
	if err != nil {
		logs.Warn("[channel:telegram] create bot: %v", err)
		t.enabled = false
		return
	}
	t.bot = b
}

func (t *Telegram) Type() model.Channel { return model.Telegram }

func (t *Telegram) Enabled() bool { return t.enabled }

func (t *Telegram) Validate(ctx context.Context) bool {
	if !t.enabled {
		return false
	}
	me, err := t.bot.GetMe(ctx)
	return err == nil && me != nil
}

func (t *Telegram) Send(ctx context.Context, msg *model.Message) *model.SendResult {
	if !t.enabled {
		return model.Failure(msg, model.Telegram, "not_configured: missing telegram token")
	}

	params := &bot.SendMessageParams{
		ChatID: msg.Target,
		Text:   msg.Content,
	}

	if mode := msg.MetaString("parse_mode", t.cfg.ParseMode); mode != "" {
		params.ParseMode = models.ParseMode(mode)
	}
	if t.cfg.DisablePreview {
		params.LinkPreviewOptions = &models.LinkPreviewOptions{IsDisabled: bot.True()}
	}

	sent, err := t.bot.SendMessage(ctx, params)
	if err != nil {
		return model.Failure(msg, model.Telegram, err.Error())
	}

	return &model.SendResult{
		Success:   true,
		MessageID: msg.ID,
		Channel:   model.Telegram,
		Response: map[string]any{
			"ok":         true,
			"message_id": sent.ID,
			"chat_id":    fmt.Sprint(sent.Chat.ID),
		},
	}
}
