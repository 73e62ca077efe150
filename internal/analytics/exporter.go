package analytics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
)

// ToJSON renders the summary as indented JSON.
func ToJSON(c *Collector) (string, error) {
	out, err := sonic.MarshalIndent(c.Summary(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal analytics summary: %w", err)
	}
	return string(out), nil
}

// ToCSV renders the channel breakdown as CSV.
func ToCSV(c *Collector) string {
	lines := []string{"channel,sent,failed,total,success_rate"}

	stats := c.ChannelStats()
	channels := make([]string, 0, len(stats))
	for ch := range stats {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	for _, ch := range channels {
		s := stats[ch]
		lines = append(lines, fmt.Sprintf("%s,%d,%d,%d,%g", ch, s.Sent, s.Failed, s.Total, s.SuccessRate))
	}
	return strings.Join(lines, "\n")
}

// ToReport renders a plain-text report.
func ToReport(c *Collector) string {
	s := c.Summary()
	lat := s["latency"].(LatencyStats)

	lines := []string{
		"═══════════════════════════════════",
		"  OmniMessage Analytics Report",
		"═══════════════════════════════════",
		fmt.Sprintf("  Total Sent:    %d", s["total_sent"]),
		fmt.Sprintf("  Total Failed:  %d", s["total_failed"]),
		fmt.Sprintf("  Total Retried: %d", s["total_retried"]),
		fmt.Sprintf("  Success Rate:  %g%%", s["success_rate"]),
		"",
		"── Latency ──────────────────────",
	}

	if lat.AvgMS > 0 {
		lines = append(lines,
			fmt.Sprintf("  Average:  %gms", lat.AvgMS),
			fmt.Sprintf("  P50:      %gms", lat.P50MS),
			fmt.Sprintf("  P95:      %gms", lat.P95MS),
			fmt.Sprintf("  P99:      %gms", lat.P99MS),
		)
	} else {
		lines = append(lines, "  No latency data")
	}

	lines = append(lines, "", "── Channels ─────────────────────")
	byChannel := s["by_channel"].(map[string]ChannelStats)
	channels := make([]string, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	for _, ch := range channels {
		cs := byChannel[ch]
		lines = append(lines, fmt.Sprintf("  %s: %d/%d (%g%%)", ch, cs.Sent, cs.Total, cs.SuccessRate))
	}

	errs := s["errors"].(map[string]int)
	if len(errs) > 0 {
		lines = append(lines, "", "── Errors ───────────────────────")
		kinds := make([]string, 0, len(errs))
		for kind := range errs {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			lines = append(lines, fmt.Sprintf("  %s: %d", kind, errs[kind]))
		}
	}

	lines = append(lines, "═══════════════════════════════════")
	return strings.Join(lines, "\n")
}
