package analytics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platoba/OmniMessage-Gateway/internal/pkg/metrics"
)

// DefaultWindow bounds how long latency samples are retained.
const DefaultWindow = 3600 * time.Second

type latencySample struct {
	at        time.Time
	latencyMS float64
}

// ChannelStats summarizes one channel's delivery record.
type ChannelStats struct {
	Sent        int     `json:"sent"`
	Failed      int     `json:"failed"`
	Total       int     `json:"total"`
	SuccessRate float64 `json:"success_rate"`
}

// LatencyStats summarizes the retained latency window. Percentile p is
// sorted[floor(n*p)], with p99 clamped to the last sample.
type LatencyStats struct {
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
	MaxMS   float64 `json:"max_ms"`
	Samples int     `json:"samples"`
}

// TrendPoint is one minute bucket in a trend series.
type TrendPoint struct {
	Time   string `json:"time"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

// TargetCount pairs a target with its send count.
type TargetCount struct {
	Target string `json:"target"`
	Count  int    `json:"count"`
}

// Collector accumulates delivery outcomes in memory. All methods are safe
// for concurrent use; one lock covers each multi-field update. Counts also
// feed the prometheus registry, but the collector remains the source of
// truth for the stats API.
type Collector struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time

	totalSent    int
	totalFailed  int
	totalRetried int

	channelSent   map[string]int
	channelFailed map[string]int

	latencies []latencySample

	errorCounts map[string]int

	minuteSent   map[string]int
	minuteFailed map[string]int

	targetCounts map[string]int
}

func NewCollector(window time.Duration) *Collector {
	return newCollector(window, time.Now)
}

func newCollector(window time.Duration, now func() time.Time) *Collector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Collector{
		window:        window,
		now:           now,
		channelSent:   make(map[string]int),
		channelFailed: make(map[string]int),
		errorCounts:   make(map[string]int),
		minuteSent:    make(map[string]int),
		minuteFailed:  make(map[string]int),
		targetCounts:  make(map[string]int),
	}
}

func minuteKey(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

// RecordSent registers a delivery. latencyMS <= 0 skips the latency sample.
func (c *Collector) RecordSent(channel string, latencyMS float64, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalSent++
	c.channelSent[channel]++

	if latencyMS > 0 {
		c.latencies = append(c.latencies, latencySample{at: c.now(), latencyMS: latencyMS})
		metrics.SendLatency.WithLabelValues(channel).Observe(latencyMS)
	}

	c.minuteSent[minuteKey(c.now())]++
	if target != "" {
		c.targetCounts[target]++
	}

	metrics.SentTotal.WithLabelValues(channel).Inc()
}

// RecordFailed registers a terminal delivery failure. Failed sends do not
// count toward target totals.
func (c *Collector) RecordFailed(channel, errText, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalFailed++
	c.channelFailed[channel]++

	if errText != "" {
		c.errorCounts[ClassifyError(errText)]++
	}
	c.minuteFailed[minuteKey(c.now())]++

	metrics.FailedTotal.WithLabelValues(channel).Inc()
}

// RecordRetry registers one retry attempt.
func (c *Collector) RecordRetry(channel string) {
	c.mu.Lock()
	c.totalRetried++
	c.mu.Unlock()

	metrics.RetriesTotal.WithLabelValues(channel).Inc()
}

// ClassifyError maps an error string to the taxonomy bucket. Rules are
// substring matches on the lowercased text; first match wins.
func ClassifyError(errText string) string {
	e := strings.ToLower(errText)
	switch {
	case strings.Contains(e, "timeout"):
		return "timeout"
	case strings.Contains(e, "rate") || strings.Contains(e, "limit") || strings.Contains(e, "429"):
		return "rate_limited"
	case strings.Contains(e, "auth") || strings.Contains(e, "401") || strings.Contains(e, "403"):
		return "auth_error"
	case strings.Contains(e, "not found") || strings.Contains(e, "404"):
		return "not_found"
	case strings.Contains(e, "connection") || strings.Contains(e, "connect"):
		return "connection_error"
	case strings.Contains(e, "500") || strings.Contains(e, "502") || strings.Contains(e, "503"):
		return "server_error"
	default:
		return "other"
	}
}

// pruneLatencies must be called with the lock held.
func (c *Collector) pruneLatencies() {
	cutoff := c.now().Add(-c.window)
	kept := c.latencies[:0]
	for _, s := range c.latencies {
		if !s.at.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	c.latencies = kept
}

// SuccessRate returns the delivery percentage, two-decimal rounded. An empty
// channel aggregates everything. Zero activity yields 0.
func (c *Collector) SuccessRate(channel string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sent, failed int
	if channel != "" {
		sent, failed = c.channelSent[channel], c.channelFailed[channel]
	} else {
		sent, failed = c.totalSent, c.totalFailed
	}
	total := sent + failed
	if total == 0 {
		return 0
	}
	return round2(float64(sent) / float64(total) * 100)
}

// LatencyStats computes window stats; stale samples are pruned first.
func (c *Collector) LatencyStats() LatencyStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLatencies()
	n := len(c.latencies)
	if n == 0 {
		return LatencyStats{}
	}

	values := make([]float64, n)
	var sum float64
	for i, s := range c.latencies {
		values[i] = s.latencyMS
		sum += s.latencyMS
	}
	sort.Float64s(values)

	p99 := int(float64(n) * 0.99)
	if p99 > n-1 {
		p99 = n - 1
	}

	return LatencyStats{
		AvgMS:   round2(sum / float64(n)),
		P50MS:   round2(values[int(float64(n)*0.5)]),
		P95MS:   round2(values[int(float64(n)*0.95)]),
		P99MS:   round2(values[p99]),
		MaxMS:   round2(values[n-1]),
		Samples: n,
	}
}

// ChannelStats returns per-channel sent/failed/total/success-rate.
func (c *Collector) ChannelStats() map[string]ChannelStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]ChannelStats)
	for ch := range c.channelSent {
		result[ch] = ChannelStats{}
	}
	for ch := range c.channelFailed {
		result[ch] = ChannelStats{}
	}
	for ch := range result {
		sent := c.channelSent[ch]
		failed := c.channelFailed[ch]
		total := sent + failed
		rate := 0.0
		if total > 0 {
			rate = round2(float64(sent) / float64(total) * 100)
		}
		result[ch] = ChannelStats{Sent: sent, Failed: failed, Total: total, SuccessRate: rate}
	}
	return result
}

// ErrorBreakdown returns counts per taxonomy bucket.
func (c *Collector) ErrorBreakdown() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.errorCounts))
	for k, v := range c.errorCounts {
		out[k] = v
	}
	return out
}

// Trend returns minutes+1 consecutive minute buckets ending now.
func (c *Collector) Trend(minutes int) []TrendPoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now().Add(-time.Duration(minutes) * time.Minute)
	points := make([]TrendPoint, 0, minutes+1)
	for i := 0; i <= minutes; i++ {
		key := minuteKey(start.Add(time.Duration(i) * time.Minute))
		points = append(points, TrendPoint{
			Time:   key,
			Sent:   c.minuteSent[key],
			Failed: c.minuteFailed[key],
		})
	}
	return points
}

// TopTargets returns the most-messaged targets, descending by count.
func (c *Collector) TopTargets(limit int) []TargetCount {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TargetCount, 0, len(c.targetCounts))
	for target, count := range c.targetCounts {
		out = append(out, TargetCount{Target: target, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Target < out[j].Target
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Summary aggregates everything the stats API exposes.
func (c *Collector) Summary() map[string]any {
	c.mu.Lock()
	sent, failed, retried := c.totalSent, c.totalFailed, c.totalRetried
	c.mu.Unlock()

	return map[string]any{
		"total_sent":    sent,
		"total_failed":  failed,
		"total_retried": retried,
		"success_rate":  c.SuccessRate(""),
		"latency":       c.LatencyStats(),
		"by_channel":    c.ChannelStats(),
		"errors":        c.ErrorBreakdown(),
		"top_targets":   c.TopTargets(5),
	}
}

// Reset zeroes every counter and sample.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalSent = 0
	c.totalFailed = 0
	c.totalRetried = 0
	c.channelSent = make(map[string]int)
	c.channelFailed = make(map[string]int)
	c.latencies = nil
	c.errorCounts = make(map[string]int)
	c.minuteSent = make(map[string]int)
	c.minuteFailed = make(map[string]int)
	c.targetCounts = make(map[string]int)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
