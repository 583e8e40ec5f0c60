package mesh

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Event is one line of the raw mesh-event JSONL stream.
type Event struct {
	TS            time.Time `json:"ts"`
	Stream        string    `json:"stream"`
	Service       string    `json:"service"`
	Upstream      string    `json:"upstream"`
	LatencyMs     float64   `json:"latency_ms"`
	RetryCount    int       `json:"retry_count"`
	ResponseCode  int       `json:"response_code"`
	Policy        string    `json:"policy"`
	CorrelationID string    `json:"correlation_id"`
}

// baselineWindow is how far before the incident start the latency baseline
// looks.
const baselineWindow = 30 * time.Minute

// Degradation thresholds for the raw-event fallback.
const (
	degradedErrRate    = 0.10
	degradedAvgRetry   = 3.0
	degradedLatencyMs  = 500.0
	baselineMultiplier = 2.0
)

// Finding summarises one upstream's behaviour around the incident window.
type Finding struct {
	Upstream     string
	ErrRate      float64
	AvgLatencyMs float64
	AvgRetry     float64
	BaselineMs   float64
	Degraded     bool
}

// ParseEvents decodes a JSONL mesh-event blob. Unparseable lines are
// skipped; the stream is best-effort evidence, not a contract.
func ParseEvents(jsonl string) []Event {
	var events []Event
	for _, line := range strings.Split(jsonl, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events
}

// AnalyzeFallback inspects raw events for calls made by the incident service
// and marks each upstream degraded when any threshold trips: err_rate >= 0.10,
// avg_retry >= 3, avg latency at least double a positive pre-incident
// baseline, or avg latency >= 500ms. The baseline is the median latency in
// the 30 minutes before the incident started.
func AnalyzeFallback(events []Event, service string, startedAt time.Time) []Finding {
	type window struct {
		baseline []float64
		latency  []float64
		retries  float64
		errors   int
		total    int
	}
	byUpstream := map[string]*window{}

	baselineStart := startedAt.Add(-baselineWindow)
	for _, ev := range events {
		if ev.Service != service || ev.Upstream == "" {
			continue
		}
		w := byUpstream[ev.Upstream]
		if w == nil {
			w = &window{}
			byUpstream[ev.Upstream] = w
		}
		if ev.TS.Before(startedAt) {
			if !ev.TS.Before(baselineStart) {
				w.baseline = append(w.baseline, ev.LatencyMs)
			}
			continue
		}
		w.total++
		w.latency = append(w.latency, ev.LatencyMs)
		w.retries += float64(ev.RetryCount)
		if ev.ResponseCode >= 500 {
			w.errors++
		}
	}

	var findings []Finding
	for upstream, w := range byUpstream {
		if w.total == 0 {
			continue
		}
		f := Finding{
			Upstream:     upstream,
			ErrRate:      float64(w.errors) / float64(w.total),
			AvgLatencyMs: mean(w.latency),
			AvgRetry:     w.retries / float64(w.total),
			BaselineMs:   median(w.baseline),
		}
		f.Degraded = f.ErrRate >= degradedErrRate ||
			f.AvgRetry >= degradedAvgRetry ||
			(f.BaselineMs > 0 && f.AvgLatencyMs >= baselineMultiplier*f.BaselineMs) ||
			f.AvgLatencyMs >= degradedLatencyMs
		findings = append(findings, f)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].ErrRate != findings[j].ErrRate {
			return findings[i].ErrRate > findings[j].ErrRate
		}
		if findings[i].AvgLatencyMs != findings[j].AvgLatencyMs {
			return findings[i].AvgLatencyMs > findings[j].AvgLatencyMs
		}
		return findings[i].Upstream < findings[j].Upstream
	})
	return findings
}

// Describe renders a finding for human-readable summaries.
func (f Finding) Describe() string {
	state := "healthy"
	if f.Degraded {
		state = "degraded"
	}
	return fmt.Sprintf("%s: %s (err_rate=%.2f, avg_latency=%.0fms, avg_retry=%.1f, baseline=%.0fms)",
		f.Upstream, state, f.ErrRate, f.AvgLatencyMs, f.AvgRetry, f.BaselineMs)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
