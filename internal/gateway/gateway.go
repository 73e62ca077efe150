package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/gg/gconv"

	"github.com/platoba/OmniMessage-Gateway/internal/analytics"
	"github.com/platoba/OmniMessage-Gateway/internal/channel"
	"github.com/platoba/OmniMessage-Gateway/internal/channel/discord"
	"github.com/platoba/OmniMessage-Gateway/internal/channel/email"
	"github.com/platoba/OmniMessage-Gateway/internal/channel/slack"
	"github.com/platoba/OmniMessage-Gateway/internal/channel/telegram"
	"github.com/platoba/OmniMessage-Gateway/internal/channel/webhook"
	"github.com/platoba/OmniMessage-Gateway/internal/channel/whatsapp"
	"github.com/platoba/OmniMessage-Gateway/internal/config"
	"github.com/platoba/OmniMessage-Gateway/internal/model"
	"github.com/platoba/OmniMessage-Gateway/internal/pkg/logs"
	"github.com/platoba/OmniMessage-Gateway/internal/ratelimit"
	"github.com/platoba/OmniMessage-Gateway/internal/router"
	"github.com/platoba/OmniMessage-Gateway/internal/scheduler"
	"github.com/platoba/OmniMessage-Gateway/internal/store"
	"github.com/platoba/OmniMessage-Gateway/internal/template"
)

// Version identifies the gateway build in health and stats payloads.
const Version = "2.0.0"

// Gateway assembles the dispatch pipeline behind a single Send call:
// template rendering, routing with retries and DLQ, rate limiting,
// analytics, persistence, and the scheduler.
type Gateway struct {
	cfg       *config.Config
	engine    *router.Engine
	templates *template.Engine
	limiter   *ratelimit.Limiter
	collector *analytics.Collector
	store     *store.Store
	scheduler *scheduler.Scheduler
	adapters  map[model.Channel]channel.Adapter

	stopOnce sync.Once
}

// New wires every component from config. The store is optional: an empty
// DBPath runs the gateway memory-only.
func New(cfg *config.Config) (*Gateway, error) {
	gw := &Gateway{
		cfg:       cfg,
		templates: template.NewEngine(cfg.TemplateDir),
		collector: analytics.NewCollector(0),
		adapters:  make(map[model.Channel]channel.Adapter),
	}

	if cfg.DBPath != "" {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		gw.store = st
	}

	if cfg.RateLimitOn() {
		gw.limiter = ratelimit.NewLimiter(nil)
	}

	opts := router.Options{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: time.Duration(cfg.RetryDelay * float64(time.Second)),
		Recorder:   gw.collector,
	}
	if gw.limiter != nil {
		opts.Limiter = gw.limiter
		if cfg.RateLimitTimeout > 0 {
			opts.RateLimitTimeout = time.Duration(cfg.RateLimitTimeout * float64(time.Second))
		}
	}
	if gw.store != nil {
		opts.Store = gw.store
	}
	gw.engine = router.NewEngine(opts)

	gw.setupChannels()
	gw.rehydrateDeadLetters()

	gw.scheduler = scheduler.New(gw.scheduledSend, cfg.SchedulerPollInterval())
	if gw.store != nil {
		gw.scheduler.SetMirror(gw.store)
		gw.rehydrateScheduled()
	}

	return gw, nil
}

// rehydrateScheduled loads pending store entries (for example ones created
// by the CLI while no server was running) into the in-memory scheduler.
func (gw *Gateway) rehydrateScheduled() {
	rows, err := gw.store.GetScheduled(context.Background(), "pending", 1000)
	if err != nil {
		logs.Warn("[gateway] rehydrate scheduled: %v", err)
		return
	}
	for _, row := range rows {
		data, _ := row["message_data"].(map[string]any)
		at, err := time.Parse(time.RFC3339Nano, gconv.To[string](row["scheduled_at"]))
		if err != nil {
			logs.Warn("[gateway] skip scheduled %v: bad scheduled_at: %v", row["id"], err)
			continue
		}
		gw.scheduler.ScheduleAt(data, at, gconv.To[string](row["id"]))
	}
	if len(rows) > 0 {
		logs.Info("[gateway] rehydrated %d scheduled entries", len(rows))
	}
}

func (gw *Gateway) setupChannels() {
	adapters := []channel.Adapter{
		telegram.New(gw.cfg.Telegram),
		whatsapp.New(gw.cfg.WhatsApp),
		discord.New(gw.cfg.Discord),
		slack.New(gw.cfg.Slack),
		email.New(gw.cfg.Email),
		webhook.New(gw.cfg.Webhook),
	}
	for _, a := range adapters {
		gw.RegisterAdapter(a)
		state := "disabled"
		if a.Enabled() {
			state = "enabled"
		}
		logs.Info("[gateway] channel %s: %s", a.Type(), state)
	}
}

// RegisterAdapter wires a (possibly custom) adapter into the pipeline.
func (gw *Gateway) RegisterAdapter(a channel.Adapter) {
	gw.adapters[a.Type()] = a
	gw.engine.RegisterAdapter(a)
}

func (gw *Gateway) rehydrateDeadLetters() {
	if gw.store == nil {
		return
	}
	rows, err := gw.store.LoadDeadLetters(context.Background(), 0)
	if err != nil {
		logs.Warn("[gateway] rehydrate dead letters: %v", err)
		return
	}

	var entries []*router.DeadLetterEntry
	for _, row := range rows {
		data, _ := row["message_data"].(map[string]any)
		msg, err := model.FromMap(data)
		if err != nil {
			logs.Warn("[gateway] skip unparseable dead letter %v: %v", row["message_id"], err)
			continue
		}
		failedAt, _ := time.Parse(time.RFC3339Nano, gconv.To[string](row["failed_at"]))
		entries = append(entries, &router.DeadLetterEntry{
			Message:  msg,
			Error:    gconv.To[string](row["error"]),
			FailedAt: failedAt,
			Attempts: gconv.To[int](row["attempts"]),
		})
	}
	if len(entries) > 0 {
		gw.engine.Rehydrate(entries)
		logs.Info("[gateway] rehydrated %d dead letters", len(entries))
	}
}

// Send renders the message's template when one is named, then routes it.
// Template failures are terminal; they never consume retry budget.
func (gw *Gateway) Send(ctx context.Context, msg *model.Message) *model.SendResult {
	if msg.Template != "" {
		rendered, err := gw.templates.Render(msg.Template, msg.TemplateVars)
		if err != nil {
			logs.CtxError(ctx, "[gateway] template render failed: %v", err)
			kind := "template_render_failed"
			if errors.Is(err, template.ErrTemplateNotFound) {
				kind = "template_not_found"
			}
			return model.Failure(msg, msg.ToChannel, fmt.Sprintf("%s: %v", kind, err))
		}
		if rendered == "" {
			return model.Failure(msg, msg.ToChannel, fmt.Sprintf("template_error: template %q rendered empty content", msg.Template))
		}
		msg.Content = rendered
	}

	return gw.engine.Route(ctx, msg)
}

// Broadcast fans content out to several channels at once. targets maps
// channel name to address; channels without a target are skipped. Results
// are positional with respect to the channels actually dispatched.
func (gw *Gateway) Broadcast(ctx context.Context, content string, channels []model.Channel, targets map[string]string, metadata map[string]any, priority model.Priority) []*model.SendResult {
	type job struct {
		index int
		msg   *model.Message
	}

	var jobs []job
	for _, ch := range channels {
		target := targets[string(ch)]
		if target == "" {
			continue
		}
		msg := model.NewMessage(model.Webhook, ch, content, target)
		if metadata != nil {
			msg.Metadata = metadata
		}
		msg.Priority = priority
		jobs = append(jobs, job{index: len(jobs), msg: msg})
	}

	results := make([]*model.SendResult, len(jobs))
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			results[j.index] = gw.Send(ctx, j.msg)
		}(j)
	}
	wg.Wait()
	return results
}

// scheduledSend adapts the dispatch pipeline to the scheduler's SendFunc.
func (gw *Gateway) scheduledSend(ctx context.Context, messageData map[string]any) (map[string]any, error) {
	msg, err := MessageFromRequest(messageData)
	if err != nil {
		return nil, err
	}
	result := gw.Send(ctx, msg)
	return result.ToMap(), nil
}

// MessageFromRequest builds a message from the loose {channel, target, text,
// ...} shape used by the REST body, the CLI, and scheduled entries.
func MessageFromRequest(data map[string]any) (*model.Message, error) {
	ch, err := model.ParseChannel(gconv.To[string](data["channel"]))
	if err != nil {
		return nil, err
	}
	target := gconv.To[string](data["target"])
	if target == "" {
		return nil, errors.New("invalid_input: target is required")
	}

	text := gconv.To[string](data["text"])
	if text == "" {
		text = gconv.To[string](data["message"])
	}
	tmpl := gconv.To[string](data["template"])
	if text == "" && tmpl == "" {
		return nil, errors.New("invalid_input: text or template is required")
	}

	msg := model.NewMessage(model.Webhook, ch, text, target)
	msg.Template = tmpl
	if vars, ok := data["template_vars"].(map[string]any); ok {
		msg.TemplateVars = vars
	}
	if meta, ok := data["metadata"].(map[string]any); ok {
		msg.Metadata = meta
	}
	if raw, ok := data["priority"]; ok {
		p, err := model.ParsePriority(gconv.To[int](raw))
		if err != nil {
			return nil, err
		}
		msg.Priority = p
	}
	if raw, ok := data["max_retries"]; ok {
		msg.MaxRetries = gconv.To[int](raw)
	}
	return msg, nil
}

// Engine exposes the routing engine for rule registration and DLQ access.
func (gw *Gateway) Engine() *router.Engine { return gw.engine }

// Templates exposes the template engine.
func (gw *Gateway) Templates() *template.Engine { return gw.templates }

// Scheduler exposes the message scheduler.
func (gw *Gateway) Scheduler() *scheduler.Scheduler { return gw.scheduler }

// Store exposes the persistent store; nil when running memory-only.
func (gw *Gateway) Store() *store.Store { return gw.store }

// Analytics exposes the in-memory collector.
func (gw *Gateway) Analytics() *analytics.Collector { return gw.collector }

// AddRule registers a routing rule.
func (gw *Gateway) AddRule(r *router.Rule) { gw.engine.AddRule(r) }

// RegisterTemplate registers a memory template; idempotent by name.
func (gw *Gateway) RegisterTemplate(name, source string) {
	gw.templates.Register(name, source)
}

// ActiveChannels lists the channels whose adapters are configured.
func (gw *Gateway) ActiveChannels() []string {
	var out []string
	for _, ch := range gw.engine.Channels() {
		if gw.adapters[ch].Enabled() {
			out = append(out, string(ch))
		}
	}
	return out
}

// ChannelStates maps every channel to its enabled flag.
func (gw *Gateway) ChannelStates() map[string]bool {
	out := make(map[string]bool, len(gw.adapters))
	for ch, a := range gw.adapters {
		out[string(ch)] = a.Enabled()
	}
	return out
}

// Stats aggregates component stats for the REST surface.
func (gw *Gateway) Stats() map[string]any {
	out := map[string]any{
		"version":         Version,
		"active_channels": gw.ActiveChannels(),
		"routing":         gw.engine.Stats(),
		"templates":       gw.templates.List(),
		"analytics":       gw.collector.Summary(),
		"scheduler":       gw.scheduler.Stats(),
	}
	if gw.limiter != nil {
		out["rate_limiter"] = gw.limiter.Stats()
	}
	return out
}

// Start launches the scheduler worker.
func (gw *Gateway) Start(ctx context.Context) {
	gw.scheduler.Start(ctx)
}

// Stop shuts the pipeline down: scheduler first so no new dispatches start,
// then the store.
func (gw *Gateway) Stop() {
	gw.stopOnce.Do(func() {
		gw.scheduler.Stop()
		if gw.store != nil {
			if err := gw.store.Close(); err != nil {
				logs.Warn("[gateway] close store: %v", err)
			}
		}
		logs.Info("[gateway] stopped")
	})
}
