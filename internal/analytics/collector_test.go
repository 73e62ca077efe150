package analytics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
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

func TestSuccessRate(t *testing.T) {
	c := NewCollector(0)
	assert.Equal(t, 0.0, c.SuccessRate(""), "no data yields 0")

	c.RecordSent("webhook", 0, "")
	c.RecordSent("webhook", 0, "")
	c.RecordFailed("webhook", "HTTP 500", "")

	assert.InDelta(t, 66.67, c.SuccessRate(""), 0.01)
	assert.InDelta(t, 66.67, c.SuccessRate("webhook"), 0.01)
	assert.Equal(t, 0.0, c.SuccessRate("slack"))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  string
		want string
	}{
		{"request timeout after 15s", "timeout"},
		{"Too Many Requests: 429", "rate_limited"},
		{"rate exceeded", "rate_limited"},
		{"limit reached", "rate_limited"},
		{"Unauthorized 401", "auth_error"},
		{"403 forbidden", "auth_error"},
		{"auth failure", "auth_error"},
		{"chat not found", "not_found"},
		{"HTTP 404", "not_found"},
		{"connection refused", "connection_error"},
		{"could not connect", "connection_error"},
		{"HTTP 500", "server_error"},
		{"HTTP 502", "server_error"},
		{"HTTP 503", "server_error"},
		{"something odd", "other"},
		// Order matters: "timeout" wins before "connection".
		{"connection timeout", "timeout"},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%q) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestLatencyStats(t *testing.T) {
	clock := newFakeClock()
	c := newCollector(time.Hour, clock.Now)

	for i := 1; i <= 100; i++ {
		c.RecordSent("webhook", float64(i), "")
	}

	stats := c.LatencyStats()
	assert.Equal(t, 100, stats.Samples)
	assert.Equal(t, 50.5, stats.AvgMS)
	assert.Equal(t, 51.0, stats.P50MS) // sorted[floor(100*0.5)] = sorted[50]
	assert.Equal(t, 96.0, stats.P95MS)
	assert.Equal(t, 100.0, stats.P99MS) // sorted[99]
	assert.Equal(t, 100.0, stats.MaxMS)
}

func TestLatencyStats_P99ClampSmallN(t *testing.T) {
	clock := newFakeClock()
	c := newCollector(time.Hour, clock.Now)
	c.RecordSent("webhook", 10, "")
	c.RecordSent("webhook", 20, "")

	stats := c.LatencyStats()
	// int(2*0.99)=1, already in range; the clamp only matters at n*0.99>=n.
	assert.Equal(t, 20.0, stats.P99MS)
}

func TestLatencyWindowPruning(t *testing.T) {
	clock := newFakeClock()
	c := newCollector(time.Hour, clock.Now)

	c.RecordSent("webhook", 5, "")
	clock.Advance(2 * time.Hour)
	c.RecordSent("webhook", 7, "")

	stats := c.LatencyStats()
	assert.Equal(t, 1, stats.Samples, "samples older than the window are pruned on read")
	assert.Equal(t, 7.0, stats.MaxMS)
}

func TestChannelStats(t *testing.T) {
	c := NewCollector(0)
	c.RecordSent("slack", 0, "")
	c.RecordFailed("slack", "", "")
	c.RecordFailed("discord", "HTTP 429", "")

	stats := c.ChannelStats()
	require.Contains(t, stats, "slack")
	require.Contains(t, stats, "discord")
	assert.Equal(t, ChannelStats{Sent: 1, Failed: 1, Total: 2, SuccessRate: 50}, stats["slack"])
	assert.Equal(t, ChannelStats{Sent: 0, Failed: 1, Total: 1, SuccessRate: 0}, stats["discord"])
}

func TestTrend(t *testing.T) {
	clock := newFakeClock()
	c := newCollector(time.Hour, clock.Now)

	c.RecordSent("webhook", 0, "")
	c.RecordFailed("webhook", "", "")
	clock.Advance(time.Minute)
	c.RecordSent("webhook", 0, "")

	points := c.Trend(5)
	require.Len(t, points, 6)

	last := points[len(points)-1]
	assert.Equal(t, 1, last.Sent)
	assert.Equal(t, 0, last.Failed)

	prev := points[len(points)-2]
	assert.Equal(t, 1, prev.Sent)
	assert.Equal(t, 1, prev.Failed)
}

func TestTopTargets(t *testing.T) {
	c := NewCollector(0)
	for i := 0; i < 3; i++ {
		c.RecordSent("webhook", 0, "http://a")
	}
	c.RecordSent("webhook", 0, "http://b")

	top := c.TopTargets(10)
	require.Len(t, top, 2)
	assert.Equal(t, TargetCount{Target: "http://a", Count: 3}, top[0])

	top = c.TopTargets(1)
	require.Len(t, top, 1)
}

func TestReset(t *testing.T) {
	c := NewCollector(0)
	c.RecordSent("webhook", 9, "t")
	c.RecordFailed("webhook", "timeout", "t")
	c.RecordRetry("webhook")

	c.Reset()

	s := c.Summary()
	assert.Equal(t, 0, s["total_sent"])
	assert.Equal(t, 0, s["total_failed"])
	assert.Equal(t, 0, s["total_retried"])
	assert.Empty(t, c.ErrorBreakdown())
	assert.Equal(t, 0, c.LatencyStats().Samples)
}

func TestExporters(t *testing.T) {
	c := NewCollector(0)
	c.RecordSent("slack", 12, "#ops")
	c.RecordFailed("discord", "HTTP 429", "")

	jsonOut, err := ToJSON(c)
	require.NoError(t, err)
	assert.Contains(t, jsonOut, "total_sent")

	csvOut := ToCSV(c)
	lines := strings.Split(csvOut, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "channel,sent,failed,total,success_rate", lines[0])
	assert.Equal(t, "discord,0,1,1,0", lines[1])
	assert.Equal(t, "slack,1,0,1,100", lines[2])

	report := ToReport(c)
	assert.Contains(t, report, "OmniMessage Analytics Report")
	assert.Contains(t, report, "rate_limited: 1")
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector(0)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.RecordSent("webhook", 1, "t")
				c.RecordRetry("webhook")
			}
		}()
	}
	wg.Wait()

	s := c.Summary()
	assert.Equal(t, 1000, s["total_sent"])
	assert.Equal(t, 1000, s["total_retried"])
}
