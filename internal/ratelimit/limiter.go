package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultLimits carries the per-channel bucket parameters the public APIs
// tolerate. Keys are channel names; targets inherit their channel's config.
var DefaultLimits = map[string]BucketConfig{
	"telegram": {Capacity: 30, RefillRate: 1.0, Burst: 5, CooldownMS: 35},
	"whatsapp": {Capacity: 80, RefillRate: 2.0, Burst: 10, CooldownMS: 50},
	"discord":  {Capacity: 5, RefillRate: 0.2, Burst: 2, CooldownMS: 500},
	"slack":    {Capacity: 1, RefillRate: 1.0, Burst: 1, CooldownMS: 1000},
	"email":    {Capacity: 10, RefillRate: 0.5, Burst: 3, CooldownMS: 200},
	"webhook":  {Capacity: 100, RefillRate: 10.0, Burst: 20, CooldownMS: 10},
}

var globalConfig = BucketConfig{Capacity: 200, RefillRate: 20.0, Burst: 50, CooldownMS: 0}

// Limiter enforces admission across three dimensions checked in order:
// global, per-channel, and optionally per-target. Buckets are created lazily
// on first use and keyed "channel" or "channel:target".
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	limits  map[string]BucketConfig
	global  *TokenBucket
	now     func() time.Time
}

// NewLimiter builds a limiter. customLimits entries override the defaults
// for their channel.
func NewLimiter(customLimits map[string]BucketConfig) *Limiter {
	return newLimiter(customLimits, time.Now)
}

func newLimiter(customLimits map[string]BucketConfig, now func() time.Time) *Limiter {
	limits := make(map[string]BucketConfig, len(DefaultLimits)+len(customLimits))
	for k, v := range DefaultLimits {
		limits[k] = v
	}
	for k, v := range customLimits {
		limits[k] = v
	}
	return &Limiter{
		buckets: make(map[string]*TokenBucket),
		limits:  limits,
		global:  newTokenBucket(globalConfig, now),
		now:     now,
	}
}

func (l *Limiter) bucket(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}

	channel := key
	if idx := strings.Index(key, ":"); idx >= 0 {
		channel = key[:idx]
	}
	cfg, ok := l.limits[channel]
	if !ok {
		cfg = DefaultBucketConfig()
	}

	b := newTokenBucket(cfg, l.now)
	l.buckets[key] = b
	return b
}

// Check is the non-blocking admission test. target may be empty to skip the
// per-target dimension.
func (l *Limiter) Check(channel, target string) bool {
	if !l.global.TryConsume(1) {
		return false
	}
	if !l.bucket(channel).TryConsume(1) {
		return false
	}
	if target != "" {
		if !l.bucket(channel + ":" + target).TryConsume(1) {
			return false
		}
	}
	return true
}

// Wait blocks until every dimension admits or the timeout expires.
func (l *Limiter) Wait(ctx context.Context, channel, target string, timeout time.Duration) bool {
	if !l.global.Consume(ctx, 1, timeout) {
		return false
	}
	if !l.bucket(channel).Consume(ctx, 1, timeout) {
		return false
	}
	if target != "" {
		if !l.bucket(channel+":"+target).Consume(ctx, 1, timeout) {
			return false
		}
	}
	return true
}

// EstimatedWait projects the worst-case delay before channel admits.
func (l *Limiter) EstimatedWait(channel string) time.Duration {
	g := l.global.WaitTime(1)
	c := l.bucket(channel).WaitTime(1)
	if g > c {
		return g
	}
	return c
}

// Stats returns per-channel bucket stats plus the global bucket. Target-level
// buckets are omitted from the listing.
func (l *Limiter) Stats() map[string]any {
	l.mu.Lock()
	channels := make(map[string]BucketStats)
	for key, b := range l.buckets {
		if !strings.Contains(key, ":") {
			channels[key] = b.Stats()
		}
	}
	l.mu.Unlock()

	return map[string]any{
		"global":   l.global.Stats(),
		"channels": channels,
	}
}

// Reset drops the buckets for one channel (including its target sub-keys),
// or every bucket when channel is empty.
func (l *Limiter) Reset(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if channel == "" {
		l.buckets = make(map[string]*TokenBucket)
		return
	}
	for key := range l.buckets {
		if key == channel || strings.HasPrefix(key, channel+":") {
			delete(l.buckets, key)
		}
	}
}
