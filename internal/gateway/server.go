package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	hertzprom "github.com/hertz-contrib/monitor-prometheus"

	"github.com/platoba/OmniMessage-Gateway/internal/model"
	"github.com/platoba/OmniMessage-Gateway/internal/pkg/logs"
	"github.com/platoba/OmniMessage-Gateway/internal/pkg/metrics"
	"github.com/platoba/OmniMessage-Gateway/internal/store"
)

// Server is the REST ingress over a Gateway.
type Server struct {
	gw  *Gateway
	hz  *hzServer.Hertz
	key string
}

// NewServer builds the hertz server and registers every route.
func NewServer(gw *Gateway) *Server {
	hlog.SetLogger(logs.NewHlogLogger(logs.DefaultLogger()))

	opts := []config.Option{
		hzServer.WithHostPorts(gw.cfg.Bind()),
		hzServer.WithReadTimeout(60 * time.Second),
		hzServer.WithWriteTimeout(60 * time.Second),
		hzServer.WithExitWaitTime(5 * time.Second),
	}
	if gw.cfg.MetricsAddr != "" {
		opts = append(opts, hzServer.WithTracer(hertzprom.NewServerTracer(
			gw.cfg.MetricsAddr, "/metrics",
			hertzprom.WithRegistry(metrics.Registry()),
		)))
	}

	s := &Server{
		gw:  gw,
		hz:  hzServer.Default(opts...),
		key: gw.cfg.APIKey,
	}
	s.routes()
	return s
}

// Run starts the gateway pipeline and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.gw.Start(ctx)
	go s.hz.Spin()

	<-ctx.Done()
	return s.Shutdown(context.Background())
}

// Shutdown stops the HTTP server and the pipeline.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.hz.Shutdown(ctx)
	s.gw.Stop()
	return err
}

func (s *Server) routes() {
	h := s.hz

	h.GET("/health", s.handleHealth)
	h.GET("/channels", s.handleChannels)

	h.POST("/webhook/:channel", s.handleInboundWebhook)
	h.POST("/webhook", s.handleGenericWebhook)

	h.POST("/send", s.auth(s.handleSend))
	h.POST("/broadcast", s.auth(s.handleBroadcast))

	h.GET("/templates", s.auth(s.handleListTemplates))
	h.POST("/templates", s.auth(s.handleRegisterTemplate))
	h.DELETE("/templates/:name", s.auth(s.handleDeleteTemplate))

	h.GET("/dlq", s.auth(s.handleListDLQ))
	h.POST("/dlq/:index/retry", s.auth(s.handleRetryDLQ))
	h.DELETE("/dlq", s.auth(s.handleClearDLQ))

	h.GET("/stats", s.auth(s.handleStats))
	h.GET("/analytics", s.auth(s.handleAnalytics))
	h.GET("/messages", s.auth(s.handleQueryMessages))
}

// auth guards a handler with the X-API-Key header check.
func (s *Server) auth(next app.HandlerFunc) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if string(c.GetHeader("X-API-Key")) != s.key {
			c.JSON(consts.StatusUnauthorized, utils.H{"error": "Invalid API key"})
			return
		}
		next(ctx, c)
	}
}

func (s *Server) handleHealth(_ context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{
		"status":   "ok",
		"version":  Version,
		"channels": s.gw.ChannelStates(),
		"stats":    s.gw.Stats(),
	})
}

func (s *Server) handleChannels(_ context.Context, c *app.RequestContext) {
	states := s.gw.ChannelStates()
	channels := make([]utils.H, 0, len(states))
	for _, ch := range s.gw.engine.Channels() {
		channels = append(channels, utils.H{"name": string(ch), "enabled": states[string(ch)]})
	}
	c.JSON(consts.StatusOK, utils.H{"channels": channels})
}

type sendRequest struct {
	Channel      string         `json:"channel"`
	Target       string         `json:"target"`
	Text         string         `json:"text"`
	Message      string         `json:"message"`
	Template     string         `json:"template"`
	TemplateVars map[string]any `json:"template_vars"`
	Metadata     map[string]any `json:"metadata"`
	Priority     *int           `json:"priority"`
	MaxRetries   *int           `json:"max_retries"`
	Subject      string         `json:"subject"`
	ParseMode    string         `json:"parse_mode"`
	Username     string         `json:"username"`
}

func (r *sendRequest) toRequestMap() map[string]any {
	metadata := map[string]any{}
	for k, v := range r.Metadata {
		metadata[k] = v
	}
	if r.Subject != "" {
		metadata["subject"] = r.Subject
	}
	if r.ParseMode != "" {
		metadata["parse_mode"] = r.ParseMode
	}
	if r.Username != "" {
		metadata["username"] = r.Username
	}

	data := map[string]any{
		"channel":  r.Channel,
		"target":   r.Target,
		"text":     r.Text,
		"message":  r.Message,
		"template": r.Template,
		"metadata": metadata,
	}
	if r.TemplateVars != nil {
		data["template_vars"] = r.TemplateVars
	}
	if r.Priority != nil {
		data["priority"] = *r.Priority
	}
	if r.MaxRetries != nil {
		data["max_retries"] = *r.MaxRetries
	}
	return data
}

func (s *Server) handleSend(ctx context.Context, c *app.RequestContext) {
	var req sendRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		c.JSON(consts.StatusUnprocessableEntity, utils.H{"error": "malformed request body"})
		return
	}

	msg, err := MessageFromRequest(req.toRequestMap())
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}

	// Delivery failures still return 200; the body carries success=false so
	// clients can tell transport errors from delivery errors.
	result := s.gw.Send(ctx, msg)
	c.JSON(consts.StatusOK, result.ToMap())
}

type broadcastRequest struct {
	Targets      []map[string]string `json:"targets"`
	Text         string              `json:"text"`
	Message      string              `json:"message"`
	Template     string              `json:"template"`
	TemplateVars map[string]any      `json:"template_vars"`
	Metadata     map[string]any      `json:"metadata"`
}

func (s *Server) handleBroadcast(ctx context.Context, c *app.RequestContext) {
	var req broadcastRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		c.JSON(consts.StatusUnprocessableEntity, utils.H{"error": "malformed request body"})
		return
	}

	text := req.Text
	if text == "" {
		text = req.Message
	}
	if text == "" && req.Template == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid_input: text or template is required"})
		return
	}

	results := make([]map[string]any, 0, len(req.Targets))
	for _, t := range req.Targets {
		ch, err := model.ParseChannel(t["channel"])
		if err != nil {
			results = append(results, map[string]any{
				"success": false,
				"error":   err.Error(),
				"target":  t["target"],
			})
			continue
		}
		msg := model.NewMessage(model.Webhook, ch, text, t["target"])
		msg.Template = req.Template
		if req.TemplateVars != nil {
			msg.TemplateVars = req.TemplateVars
		}
		if req.Metadata != nil {
			msg.Metadata = req.Metadata
		}
		results = append(results, s.gw.Send(ctx, msg).ToMap())
	}

	c.JSON(consts.StatusOK, utils.H{"results": results})
}

// handleInboundWebhook accepts per-channel callbacks. They are logged only;
// delivery-receipt reconciliation is out of scope.
func (s *Server) handleInboundWebhook(ctx context.Context, c *app.RequestContext) {
	channelName := c.Param("channel")

	var body map[string]any
	_ = sonic.Unmarshal(c.GetRequest().Body(), &body)

	logs.CtxInfo(ctx, "[api] webhook received from %s: %d bytes", channelName, len(c.GetRequest().Body()))

	event := "unknown"
	if e, ok := body["event"].(string); ok {
		event = e
	}
	c.JSON(consts.StatusOK, utils.H{"status": "received", "channel": channelName, "event": event})
}

func (s *Server) handleGenericWebhook(ctx context.Context, c *app.RequestContext) {
	var payload struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := sonic.Unmarshal(c.GetRequest().Body(), &payload); err != nil {
		c.JSON(consts.StatusUnprocessableEntity, utils.H{"error": "malformed request body"})
		return
	}
	if payload.Event == "" {
		payload.Event = "message"
	}
	logs.CtxInfo(ctx, "[api] generic webhook: %s", payload.Event)
	c.JSON(consts.StatusOK, utils.H{"status": "received", "event": payload.Event})
}

func (s *Server) handleListTemplates(_ context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, s.gw.templates.List())
}

func (s *Server) handleRegisterTemplate(_ context.Context, c *app.RequestContext) {
	var req struct {
		Name     string `json:"name"`
		Template string `json:"template"`
	}
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		c.JSON(consts.StatusUnprocessableEntity, utils.H{"error": "malformed request body"})
		return
	}
	if req.Name == "" || req.Template == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid_input: name and template are required"})
		return
	}
	s.gw.templates.Register(req.Name, req.Template)
	c.JSON(consts.StatusOK, utils.H{"status": "registered", "name": req.Name})
}

func (s *Server) handleDeleteTemplate(_ context.Context, c *app.RequestContext) {
	name := c.Param("name")
	if !s.gw.templates.Unregister(name) {
		c.JSON(consts.StatusNotFound, utils.H{"error": "Template not found: " + name})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"status": "removed", "name": name})
}

func (s *Server) handleListDLQ(_ context.Context, c *app.RequestContext) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(consts.StatusOK, utils.H{
		"count":    s.gw.engine.DeadLetterCount(),
		"messages": s.gw.engine.DeadLetters(limit),
	})
}

func (s *Server) handleRetryDLQ(ctx context.Context, c *app.RequestContext) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid_input: index must be an integer"})
		return
	}
	result := s.gw.engine.RetryDeadLetter(ctx, index)
	if result == nil {
		c.JSON(consts.StatusNotFound, utils.H{"error": "Dead letter not found"})
		return
	}
	c.JSON(consts.StatusOK, result.ToMap())
}

func (s *Server) handleClearDLQ(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"cleared": s.gw.engine.ClearDeadLetters(ctx)})
}

func (s *Server) handleStats(_ context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, s.gw.Stats())
}

func (s *Server) handleAnalytics(_ context.Context, c *app.RequestContext) {
	summary := s.gw.collector.Summary()
	if minutes := c.Query("trend"); minutes != "" {
		if n, err := strconv.Atoi(minutes); err == nil && n > 0 {
			summary["trend"] = s.gw.collector.Trend(n)
		}
	}
	c.JSON(consts.StatusOK, summary)
}

func (s *Server) handleQueryMessages(ctx context.Context, c *app.RequestContext) {
	if s.gw.store == nil {
		c.JSON(consts.StatusOK, utils.H{"messages": []any{}, "count": 0})
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	filter := store.QueryFilter{
		Channel: c.Query("channel"),
		Status:  c.Query("status"),
		Target:  c.Query("target"),
		Since:   c.Query("since"),
		Until:   c.Query("until"),
		Limit:   limit,
		Offset:  offset,
	}

	rows, err := s.gw.store.QueryMessages(ctx, filter)
	if err != nil {
		logs.CtxError(ctx, "[api] query messages: %v", err)
		c.JSON(consts.StatusOK, utils.H{"messages": []any{}, "count": 0})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"messages": rows, "count": len(rows)})
}
