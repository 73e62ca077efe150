package router

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/platoba/OmniMessage-Gateway/internal/channel"
	"github.com/platoba/OmniMessage-Gateway/internal/model"
	"github.com/platoba/OmniMessage-Gateway/internal/pkg/logs"
)

const defaultRateLimitTimeout = 30 * time.Second

// Middleware runs before rule matching and may mutate or replace the
// message. An error aborts the dispatch.
type Middleware func(ctx context.Context, msg *model.Message) (*model.Message, error)

// Admission gates dispatch on the rate limiter.
type Admission interface {
	Wait(ctx context.Context, channel, target string, timeout time.Duration) bool
}

// Recorder receives delivery outcomes for analytics.
type Recorder interface {
	RecordSent(channel string, latencyMS float64, target string)
	RecordFailed(channel, errText, target string)
	RecordRetry(channel string)
}

// AuditStore receives best-effort persistence writes. Write failures are
// logged, never surfaced to the caller.
type AuditStore interface {
	SaveMessage(ctx context.Context, msg map[string]any) error
	UpdateStatus(ctx context.Context, messageID, status, errText string) error
	LogEvent(ctx context.Context, messageID, event, channel, details string) error
	SaveDeadLetter(ctx context.Context, messageID string, messageData map[string]any, errText string, failedAt time.Time, attempts int) error
	MarkDeadLetterReplayed(ctx context.Context, messageID string) error
	ClearDeadLetters(ctx context.Context) (int, error)
}

// Options tunes an Engine. Zero values take the documented defaults.
type Options struct {
	MaxRetries       int           // default 3
	RetryDelay       time.Duration // base backoff, default 1s
	Limiter          Admission     // nil disables the admission gate
	RateLimitTimeout time.Duration
	Recorder         Recorder   // optional
	Store            AuditStore // optional
}

// Engine routes messages: middleware, rule matching, admission, adapter
// invocation with exponential-backoff retries, and a dead-letter queue for
// exhausted messages.
type Engine struct {
	maxRetries       int
	retryDelay       time.Duration
	limiter          Admission
	rateLimitTimeout time.Duration
	recorder         Recorder
	store            AuditStore

	ruleMu sync.Mutex
	rules  []*Rule // sorted, copy-on-write: readers grab the slice header

	adapterMu sync.RWMutex
	adapters  map[model.Channel]channel.Adapter

	mwMu       sync.Mutex
	middleware []Middleware

	dlqMu sync.Mutex
	dlq   []*DeadLetterEntry

	statsMu sync.Mutex
	stats   map[string]int64

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewEngine(opts Options) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.RateLimitTimeout <= 0 {
		opts.RateLimitTimeout = defaultRateLimitTimeout
	}
	return &Engine{
		maxRetries:       opts.MaxRetries,
		retryDelay:       opts.RetryDelay,
		limiter:          opts.Limiter,
		rateLimitTimeout: opts.RateLimitTimeout,
		recorder:         opts.Recorder,
		store:            opts.Store,
		adapters:         make(map[model.Channel]channel.Adapter),
		stats:            make(map[string]int64),
		sleep:            sleepCtx,
		now:              time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RegisterAdapter wires a channel to its adapter. Re-registration replaces.
func (e *Engine) RegisterAdapter(a channel.Adapter) {
	e.adapterMu.Lock()
	defer e.adapterMu.Unlock()
	e.adapters[a.Type()] = a
	logs.Info("[router] registered channel: %s", a.Type())
}

func (e *Engine) adapter(ch model.Channel) channel.Adapter {
	e.adapterMu.RLock()
	defer e.adapterMu.RUnlock()
	return e.adapters[ch]
}

// Channels lists the registered channel names.
func (e *Engine) Channels() []model.Channel {
	e.adapterMu.RLock()
	defer e.adapterMu.RUnlock()
	out := make([]model.Channel, 0, len(e.adapters))
	for ch := range e.adapters {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AddRule inserts a rule and re-sorts by priority descending. The sort is
// stable so equal priorities keep insertion order.
func (e *Engine) AddRule(r *Rule) {
	e.ruleMu.Lock()
	defer e.ruleMu.Unlock()

	next := make([]*Rule, 0, len(e.rules)+1)
	next = append(next, e.rules...)
	next = append(next, r)
	sort.SliceStable(next, func(i, j int) bool { return next[i].Priority > next[j].Priority })
	e.rules = next
	logs.Info("[router] added routing rule: %s (priority=%d)", r.Name, r.Priority)
}

// RemoveRule deletes every rule with the given name.
func (e *Engine) RemoveRule(name string) bool {
	e.ruleMu.Lock()
	defer e.ruleMu.Unlock()

	next := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Name != name {
			next = append(next, r)
		}
	}
	removed := len(next) < len(e.rules)
	e.rules = next
	return removed
}

func (e *Engine) snapshotRules() []*Rule {
	e.ruleMu.Lock()
	defer e.ruleMu.Unlock()
	return e.rules
}

// MatchRule returns the winning rule for msg, or nil.
func (e *Engine) MatchRule(msg *model.Message) *Rule {
	for _, r := range e.snapshotRules() {
		if r.Matches(msg) {
			return r
		}
	}
	return nil
}

// Use appends a middleware to the pre-dispatch chain.
func (e *Engine) Use(mw Middleware) {
	e.mwMu.Lock()
	defer e.mwMu.Unlock()
	e.middleware = append(e.middleware, mw)
}

func (e *Engine) applyMiddleware(ctx context.Context, msg *model.Message) (*model.Message, error) {
	e.mwMu.Lock()
	chain := e.middleware
	e.mwMu.Unlock()

	for _, mw := range chain {
		next, err := mw(ctx, msg)
		if err != nil {
			return nil, err
		}
		if next != nil {
			msg = next
		}
	}
	return msg, nil
}

func (e *Engine) incr(key string) {
	e.statsMu.Lock()
	e.stats[key]++
	e.statsMu.Unlock()
}

// Route dispatches one message: middleware, rule match, admission, then the
// retry loop. Apart from RetryDeadLetter's reset to pending, this is the
// only place a message's status is mutated.
func (e *Engine) Route(ctx context.Context, msg *model.Message) *model.SendResult {
	e.incr("total")

	transformed, err := e.applyMiddleware(ctx, msg)
	if err != nil {
		e.incr("errors")
		return model.Failure(msg, msg.ToChannel, fmt.Sprintf("middleware: %v", err))
	}
	msg = transformed

	target := msg.ToChannel
	if rule := e.MatchRule(msg); rule != nil {
		logs.CtxInfo(ctx, "[router] message %s matched rule: %s", msg.ID, rule.Name)
		if rule.Transform != nil {
			if next := rule.Transform(msg); next != nil {
				msg = next
			}
		}
		target = rule.Target
	}

	adapter := e.adapter(target)
	if adapter == nil {
		errText := fmt.Sprintf("no_handler: no handler for channel %s", target)
		logs.CtxError(ctx, "[router] %s", errText)
		e.incr("errors")
		if e.recorder != nil {
			e.recorder.RecordFailed(string(target), errText, msg.Target)
		}
		return model.Failure(msg, target, errText)
	}

	if e.limiter != nil {
		if !e.limiter.Wait(ctx, string(target), msg.Target, e.rateLimitTimeout) {
			msg.Status = model.StatusFailed
			msg.LastError = "rate_limited"
			e.incr("errors")
			e.writeStatus(ctx, msg, model.StatusFailed, "rate_limited")
			if e.recorder != nil {
				e.recorder.RecordFailed(string(target), "rate_limited", msg.Target)
			}
			return model.Failure(msg, target, "rate_limited")
		}
	}

	e.saveSnapshot(ctx, msg)
	return e.sendWithRetry(ctx, adapter, msg, target)
}

// invoke shields the engine from panicking adapters; a panic is one failed
// attempt like any other.
func invoke(ctx context.Context, adapter channel.Adapter, msg *model.Message) (res *model.SendResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.Failure(msg, adapter.Type(), fmt.Sprintf("panic: %v", r))
		}
	}()
	res = adapter.Send(ctx, msg)
	if res == nil {
		res = model.Failure(msg, adapter.Type(), "adapter returned no result")
	}
	return res
}

func (e *Engine) sendWithRetry(ctx context.Context, adapter channel.Adapter, msg *model.Message, target model.Channel) *model.SendResult {
	maxAttempts := msg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = e.maxRetries
	}
	lastErr := ""

	for attempt := 0; attempt <= maxAttempts; attempt++ {
		msg.RetryCount = attempt
		if attempt == 0 {
			msg.Status = model.StatusSending
		} else {
			msg.Status = model.StatusRetrying
			if e.recorder != nil {
				e.recorder.RecordRetry(string(target))
			}
		}
		e.writeStatus(ctx, msg, msg.Status, "")

		result := invoke(ctx, adapter, msg)
		if result.Success {
			now := e.now().UTC()
			msg.Status = model.StatusSent
			msg.SentAt = &now
			e.incr("sent")
			e.incr("sent:" + string(target))
			e.writeStatus(ctx, msg, model.StatusSent, "")
			e.logEvent(ctx, msg.ID, "sent", string(target), fmt.Sprintf("attempt=%d", attempt))
			if e.recorder != nil {
				latency := float64(now.Sub(msg.CreatedAt).Milliseconds())
				e.recorder.RecordSent(string(target), latency, msg.Target)
			}
			result.RetryCount = attempt
			return result
		}

		lastErr = result.Error
		if lastErr == "" {
			lastErr = "Unknown error"
		}
		logs.CtxWarn(ctx, "[router] send failed (attempt %d/%d): %s", attempt+1, maxAttempts+1, lastErr)

		if attempt < maxAttempts {
			delay := time.Duration(float64(e.retryDelay) * math.Pow(2, float64(attempt)))
			if err := e.sleep(ctx, delay); err != nil {
				// Shutdown mid-retry: report failure, skip the DLQ.
				msg.Status = model.StatusFailed
				msg.LastError = lastErr
				e.incr("errors")
				return model.Failure(msg, target, fmt.Sprintf("dispatch aborted: %v", err))
			}
		}
	}

	msg.Status = model.StatusDead
	msg.LastError = lastErr
	e.incr("dead")
	e.incr("errors")

	entry := &DeadLetterEntry{
		Message:  msg,
		Error:    lastErr,
		FailedAt: e.now().UTC(),
		Attempts: maxAttempts,
	}
	e.dlqMu.Lock()
	e.dlq = append(e.dlq, entry)
	e.dlqMu.Unlock()

	e.writeStatus(ctx, msg, model.StatusDead, lastErr)
	e.logEvent(ctx, msg.ID, "dead_letter", string(target), lastErr)
	if e.store != nil {
		if err := e.store.SaveDeadLetter(ctx, msg.ID, msg.ToMap(), lastErr, entry.FailedAt, maxAttempts); err != nil {
			logs.CtxWarn(ctx, "[router] persist dead letter %s: %v", msg.ID, err)
		}
	}
	if e.recorder != nil {
		e.recorder.RecordFailed(string(target), lastErr, msg.Target)
	}

	logs.CtxError(ctx, "[router] message %s moved to DLQ after %d attempts", msg.ID, maxAttempts+1)
	return &model.SendResult{
		Success:    false,
		MessageID:  msg.ID,
		Channel:    target,
		Error:      fmt.Sprintf("All %d attempts failed: %s", maxAttempts+1, lastErr),
		RetryCount: maxAttempts,
	}
}

// Broadcast dispatches per-channel copies of msg concurrently. Results are
// positional: result i belongs to channels[i].
func (e *Engine) Broadcast(ctx context.Context, msg *model.Message, channels []model.Channel) []*model.SendResult {
	results := make([]*model.SendResult, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch model.Channel) {
			defer wg.Done()
			results[i] = e.Route(ctx, msg.Clone(ch))
		}(i, ch)
	}
	wg.Wait()
	return results
}

// DeadLetters returns the newest limit entries as audit maps.
func (e *Engine) DeadLetters(limit int) []map[string]any {
	e.dlqMu.Lock()
	defer e.dlqMu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	start := 0
	if len(e.dlq) > limit {
		start = len(e.dlq) - limit
	}
	out := make([]map[string]any, 0, len(e.dlq)-start)
	for _, entry := range e.dlq[start:] {
		out = append(out, entry.ToMap())
	}
	return out
}

// DeadLetterCount returns the DLQ length.
func (e *Engine) DeadLetterCount() int {
	e.dlqMu.Lock()
	defer e.dlqMu.Unlock()
	return len(e.dlq)
}

// ClearDeadLetters empties the DLQ and returns how many entries it held.
func (e *Engine) ClearDeadLetters(ctx context.Context) int {
	e.dlqMu.Lock()
	count := len(e.dlq)
	e.dlq = nil
	e.dlqMu.Unlock()

	if e.store != nil {
		if _, err := e.store.ClearDeadLetters(ctx); err != nil {
			logs.CtxWarn(ctx, "[router] clear persisted dead letters: %v", err)
		}
	}
	return count
}

// RetryDeadLetter pops the entry at index and re-routes it as a fresh
// dispatch; previous attempts are not counted again. Out-of-range indexes
// return nil.
func (e *Engine) RetryDeadLetter(ctx context.Context, index int) *model.SendResult {
	e.dlqMu.Lock()
	if index < 0 || index >= len(e.dlq) {
		e.dlqMu.Unlock()
		return nil
	}
	entry := e.dlq[index]
	e.dlq = append(e.dlq[:index], e.dlq[index+1:]...)
	e.dlqMu.Unlock()

	entry.Message.Status = model.StatusPending
	entry.Message.RetryCount = 0
	entry.Message.LastError = ""

	if e.store != nil {
		if err := e.store.MarkDeadLetterReplayed(ctx, entry.Message.ID); err != nil {
			logs.CtxWarn(ctx, "[router] mark dead letter replayed %s: %v", entry.Message.ID, err)
		}
	}
	return e.Route(ctx, entry.Message)
}

// Rehydrate seeds the DLQ from persisted entries at startup.
func (e *Engine) Rehydrate(entries []*DeadLetterEntry) {
	e.dlqMu.Lock()
	defer e.dlqMu.Unlock()
	e.dlq = append(e.dlq, entries...)
}

// Stats summarizes the engine's counters.
func (e *Engine) Stats() map[string]any {
	e.statsMu.Lock()
	byChannel := make(map[string]int64)
	for k, v := range e.stats {
		if len(k) > 5 && k[:5] == "sent:" {
			byChannel[k[5:]] = v
		}
	}
	total := e.stats["total"]
	sent := e.stats["sent"]
	errors := e.stats["errors"]
	e.statsMu.Unlock()

	e.ruleMu.Lock()
	rulesCount := len(e.rules)
	e.ruleMu.Unlock()

	channels := e.Channels()
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = string(ch)
	}

	return map[string]any{
		"total":        total,
		"sent":         sent,
		"errors":       errors,
		"dead_letters": e.DeadLetterCount(),
		"rules_count":  rulesCount,
		"channels":     names,
		"by_channel":   byChannel,
	}
}

func (e *Engine) saveSnapshot(ctx context.Context, msg *model.Message) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveMessage(ctx, msg.ToMap()); err != nil {
		logs.CtxWarn(ctx, "[router] save message %s: %v", msg.ID, err)
	}
}

func (e *Engine) writeStatus(ctx context.Context, msg *model.Message, status model.Status, errText string) {
	if e.store == nil {
		return
	}
	if err := e.store.UpdateStatus(ctx, msg.ID, string(status), errText); err != nil {
		logs.CtxWarn(ctx, "[router] update status %s=%s: %v", msg.ID, status, err)
	}
}

func (e *Engine) logEvent(ctx context.Context, messageID, event, ch, details string) {
	if e.store == nil {
		return
	}
	if err := e.store.LogEvent(ctx, messageID, event, ch, details); err != nil {
		logs.CtxWarn(ctx, "[router] log event %s for %s: %v", event, messageID, err)
	}
}
