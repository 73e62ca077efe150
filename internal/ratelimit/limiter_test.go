package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestBucket_StartsAtCapacityNotBurst(t *testing.T) {
	clock := newFakeClock()
	b := newTokenBucket(BucketConfig{Capacity: 2, RefillRate: 0, Burst: 5, CooldownMS: 0}, clock.Now)

	assert.Equal(t, 2.0, b.Available())
	assert.True(t, b.TryConsume(1))
	assert.True(t, b.TryConsume(1))
	assert.False(t, b.TryConsume(1), "burst headroom must not be granted on a fresh bucket")
}

func TestBucket_RefillAccumulatesToBurst(t *testing.T) {
	clock := newFakeClock()
	b := newTokenBucket(BucketConfig{Capacity: 2, RefillRate: 1.0, Burst: 3, CooldownMS: 0}, clock.Now)

	clock.Advance(time.Hour)
	assert.Equal(t, 5.0, b.Available(), "accumulation is capped at capacity+burst")
}

func TestBucket_Cooldown(t *testing.T) {
	clock := newFakeClock()
	b := newTokenBucket(BucketConfig{Capacity: 10, RefillRate: 0, Burst: 0, CooldownMS: 100}, clock.Now)

	require.True(t, b.TryConsume(1))
	assert.False(t, b.TryConsume(1), "cooldown must reject even with tokens available")
	clock.Advance(150 * time.Millisecond)
	assert.True(t, b.TryConsume(1))
}

func TestBucket_WaitTime(t *testing.T) {
	clock := newFakeClock()
	b := newTokenBucket(BucketConfig{Capacity: 1, RefillRate: 2.0, Burst: 0, CooldownMS: 0}, clock.Now)

	assert.Equal(t, time.Duration(0), b.WaitTime(1))
	require.True(t, b.TryConsume(1))
	// One token at 2/s takes 500ms.
	assert.InDelta(t, float64(500*time.Millisecond), float64(b.WaitTime(1)), float64(time.Millisecond))
}

func TestBucket_Stats(t *testing.T) {
	clock := newFakeClock()
	b := newTokenBucket(BucketConfig{Capacity: 1, RefillRate: 0, Burst: 0, CooldownMS: 0}, clock.Now)

	require.True(t, b.TryConsume(1))
	require.False(t, b.TryConsume(1))
	require.False(t, b.TryConsume(1))

	s := b.Stats()
	assert.Equal(t, int64(1), s.TotalConsumed)
	assert.Equal(t, int64(2), s.TotalRejected)
	assert.InDelta(t, 66.67, s.RejectionRate, 0.01)
}

func TestBucket_NeverExceedsCapacityPlusBurst_Concurrent(t *testing.T) {
	clock := newFakeClock()
	b := newTokenBucket(BucketConfig{Capacity: 5, RefillRate: 0, Burst: 2, CooldownMS: 0}, clock.Now)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.TryConsume(1) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, admitted.Load(), int64(7), "zero-refill window must admit at most capacity+burst")
}

func TestLimiter_Saturation(t *testing.T) {
	clock := newFakeClock()
	l := newLimiter(map[string]BucketConfig{
		"test": {Capacity: 2, RefillRate: 0, Burst: 0, CooldownMS: 0},
	}, clock.Now)

	results := []bool{l.Check("test", ""), l.Check("test", ""), l.Check("test", "")}
	assert.Equal(t, []bool{true, true, false}, results)
}

func TestLimiter_PerTargetDimension(t *testing.T) {
	clock := newFakeClock()
	l := newLimiter(map[string]BucketConfig{
		"wide": {Capacity: 100, RefillRate: 0, Burst: 0, CooldownMS: 0},
	}, clock.Now)

	// Each target gets its own bucket (inheriting the channel config); two
	// distinct targets on the same channel are each admitted.
	assert.True(t, l.Check("wide", "a"))
	assert.True(t, l.Check("wide", "b"))
}

func TestLimiter_DefaultsTable(t *testing.T) {
	tests := []struct {
		channel  string
		capacity float64
		refill   float64
		burst    float64
		cooldown int
	}{
		{"telegram", 30, 1.0, 5, 35},
		{"whatsapp", 80, 2.0, 10, 50},
		{"discord", 5, 0.2, 2, 500},
		{"slack", 1, 1.0, 1, 1000},
		{"email", 10, 0.5, 3, 200},
		{"webhook", 100, 10.0, 20, 10},
	}
	for _, tt := range tests {
		cfg, ok := DefaultLimits[tt.channel]
		if !ok {
			t.Fatalf("missing default for %s", tt.channel)
		}
		if cfg.Capacity != tt.capacity || cfg.RefillRate != tt.refill || cfg.Burst != tt.burst || cfg.CooldownMS != tt.cooldown {
			t.Errorf("%s config = %+v", tt.channel, cfg)
		}
	}
}

func TestLimiter_Reset(t *testing.T) {
	clock := newFakeClock()
	l := newLimiter(map[string]BucketConfig{
		"x": {Capacity: 1, RefillRate: 0, Burst: 0, CooldownMS: 0},
	}, clock.Now)

	require.True(t, l.Check("x", "t1"))
	require.False(t, l.Check("x", ""))

	l.Reset("x")
	assert.True(t, l.Check("x", ""), "reset must restore the channel bucket")

	l.Reset("")
	stats := l.Stats()
	channels := stats["channels"].(map[string]BucketStats)
	assert.Empty(t, channels)
}

func TestLimiter_ConsumeTimeout(t *testing.T) {
	clock := newFakeClock()
	l := newLimiter(map[string]BucketConfig{
		"slow": {Capacity: 1, RefillRate: 0, Burst: 0, CooldownMS: 0},
	}, clock.Now)

	require.True(t, l.Wait(context.Background(), "slow", "", 100*time.Millisecond))

	start := time.Now()
	ok := l.Wait(context.Background(), "slow", "", 120*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_StatsShape(t *testing.T) {
	l := NewLimiter(nil)
	require.True(t, l.Check("webhook", "http://x"))

	stats := l.Stats()
	require.Contains(t, stats, "global")
	channels := stats["channels"].(map[string]BucketStats)
	require.Contains(t, channels, "webhook")
	assert.NotContains(t, channels, "webhook:http://x")
}
