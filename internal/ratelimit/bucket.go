package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

const pollInterval = 50 * time.Millisecond

// BucketConfig parameterizes one token bucket. Burst is extra headroom above
// capacity reachable only by idle accumulation; fresh buckets start at
// capacity. CooldownMS is a minimum wall-clock gap between consumes
// regardless of available tokens.
type BucketConfig struct {
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"` // tokens per second
	Burst      float64 `yaml:"burst"`
	CooldownMS int     `yaml:"cooldown_ms"`
}

// DefaultBucketConfig applies to channels without an explicit entry.
func DefaultBucketConfig() BucketConfig {
	return BucketConfig{Capacity: 30, RefillRate: 1.0, Burst: 10, CooldownMS: 100}
}

// BucketStats is a point-in-time snapshot of one bucket.
type BucketStats struct {
	AvailableTokens float64 `json:"available_tokens"`
	Capacity        float64 `json:"capacity"`
	RefillRate      float64 `json:"refill_rate"`
	TotalConsumed   int64   `json:"total_consumed"`
	TotalRejected   int64   `json:"total_rejected"`
	TotalWaitedMS   float64 `json:"total_waited_ms"`
	RejectionRate   float64 `json:"rejection_rate"`
}

// TokenBucket is a thread-safe token bucket with refill, burst headroom, and
// a consume cooldown.
type TokenBucket struct {
	cfg BucketConfig
	now func() time.Time

	mu          sync.Mutex
	tokens      float64
	lastRefill  time.Time
	lastConsume time.Time
	consumed    int64
	rejected    int64
	waitedMS    float64
}

func NewTokenBucket(cfg BucketConfig) *TokenBucket {
	return newTokenBucket(cfg, time.Now)
}

func newTokenBucket(cfg BucketConfig, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		cfg:        cfg,
		now:        now,
		tokens:     cfg.Capacity,
		lastRefill: now(),
	}
}

// refill must be called with the lock held.
func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(b.cfg.Capacity+b.cfg.Burst, b.tokens+elapsed*b.cfg.RefillRate)
	b.lastRefill = now
}

// TryConsume takes n tokens without blocking.
func (b *TokenBucket) TryConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	now := b.now()
	if !b.lastConsume.IsZero() && b.cfg.CooldownMS > 0 {
		if now.Sub(b.lastConsume) < time.Duration(b.cfg.CooldownMS)*time.Millisecond {
			b.rejected++
			return false
		}
	}

	if b.tokens >= n {
		b.tokens -= n
		b.lastConsume = now
		b.consumed++
		return true
	}

	b.rejected++
	return false
}

// Consume polls TryConsume until success, the timeout elapses, or ctx is
// canceled.
func (b *TokenBucket) Consume(ctx context.Context, n float64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	start := time.Now()

	for time.Now().Before(deadline) {
		if b.TryConsume(n) {
			waited := float64(time.Since(start).Milliseconds())
			b.mu.Lock()
			b.waitedMS += waited
			b.mu.Unlock()
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
	return false
}

// WaitTime projects how long until n tokens are available at the current
// refill rate.
func (b *TokenBucket) WaitTime(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= n {
		return 0
	}
	if b.cfg.RefillRate <= 0 {
		return time.Duration(math.MaxInt64)
	}
	deficit := n - b.tokens
	return time.Duration(deficit / b.cfg.RefillRate * float64(time.Second))
}

// Available returns the current token count after refill.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

func (b *TokenBucket) Stats() BucketStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()

	total := b.consumed + b.rejected
	if total == 0 {
		total = 1
	}
	return BucketStats{
		AvailableTokens: round2(b.tokens),
		Capacity:        b.cfg.Capacity,
		RefillRate:      b.cfg.RefillRate,
		TotalConsumed:   b.consumed,
		TotalRejected:   b.rejected,
		TotalWaitedMS:   round2(b.waitedMS),
		RejectionRate:   round2(float64(b.rejected) / float64(total) * 100),
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
