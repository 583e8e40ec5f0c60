package mesh

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDegradationScore(t *testing.T) {
	assert.Equal(t, 0.0, DegradationScore(CallStats{}))

	// err_rate 0.5 -> 5.0, latency 200ms -> 2.0
	s := CallStats{CallCount: 100, ErrorCount: 50, AvgLatencyMs: 200}
	assert.InDelta(t, 7.0, DegradationScore(s), 1e-9)
}

func TestMemoryTopology_DepthAndObservation(t *testing.T) {
	ctx := context.Background()
	topo := NewMemoryTopology()
	topo.AddDependency("checkout-api", "payment-api")
	topo.AddDependency("payment-api", "fraud-api")
	topo.AddDependency("fraud-api", "ledger-api") // depth 3, out of reach
	topo.AddObservedCall("checkout-api", "payment-api", CallStats{CallCount: 10, ErrorCount: 5, AvgLatencyMs: 300})

	deps, err := topo.UpstreamDependencies(ctx, "checkout-api", 2)
	require.NoError(t, err)
	require.Len(t, deps, 2)

	assert.Equal(t, "payment-api", deps[0].Service)
	assert.Equal(t, 1, deps[0].Depth)
	assert.True(t, deps[0].Observed)
	assert.Equal(t, int64(10), deps[0].Stats.CallCount)

	assert.Equal(t, "fraud-api", deps[1].Service)
	assert.Equal(t, 2, deps[1].Depth)
	assert.False(t, deps[1].Observed)
}

func TestParseEvents_SkipsGarbage(t *testing.T) {
	jsonl := `{"ts":"2026-02-22T10:01:00Z","service":"checkout-api","upstream":"payment-api","latency_ms":900,"retry_count":6,"response_code":503}
not json
{"ts":"2026-02-22T10:02:00Z","service":"checkout-api","upstream":"payment-api","latency_ms":850,"retry_count":5,"response_code":500}`

	events := ParseEvents(jsonl)
	require.Len(t, events, 2)
	assert.Equal(t, "payment-api", events[0].Upstream)
	assert.Equal(t, 503, events[0].ResponseCode)
}

func eventLine(ts time.Time, service, upstream string, latency float64, retries, code int) Event {
	return Event{TS: ts, Stream: "mesh", Service: service, Upstream: upstream,
		LatencyMs: latency, RetryCount: retries, ResponseCode: code}
}

func TestAnalyzeFallback_ErrorRateTripsDegradation(t *testing.T) {
	start := time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)
	var events []Event
	// Healthy baseline 20 minutes before.
	for i := 0; i < 4; i++ {
		events = append(events, eventLine(start.Add(-20*time.Minute), "checkout-api", "payment-api", 40, 0, 200))
	}
	// Incident window: total failure with retries.
	for i := 0; i < 5; i++ {
		events = append(events, eventLine(start.Add(time.Duration(i)*time.Minute), "checkout-api", "payment-api", 900, 6, 503))
	}

	findings := AnalyzeFallback(events, "checkout-api", start)
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "payment-api", f.Upstream)
	assert.Equal(t, 1.0, f.ErrRate)
	assert.Equal(t, 6.0, f.AvgRetry)
	assert.Equal(t, 40.0, f.BaselineMs)
	assert.True(t, f.Degraded)
}

func TestAnalyzeFallback_LatencyDoublingTripsDegradation(t *testing.T) {
	start := time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)
	var events []Event
	for i := 0; i < 3; i++ {
		events = append(events, eventLine(start.Add(-10*time.Minute), "checkout-api", "inventory-api", 100, 0, 200))
	}
	for i := 0; i < 3; i++ {
		events = append(events, eventLine(start.Add(time.Minute), "checkout-api", "inventory-api", 250, 0, 200))
	}

	findings := AnalyzeFallback(events, "checkout-api", start)
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Degraded, "2.5x baseline latency with clean responses")
	assert.Equal(t, 0.0, findings[0].ErrRate)
}

func TestAnalyzeFallback_HealthyUpstreamNotDegraded(t *testing.T) {
	start := time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)
	var events []Event
	for i := 0; i < 5; i++ {
		events = append(events, eventLine(start.Add(-5*time.Minute), "checkout-api", "user-api", 50, 0, 200))
		events = append(events, eventLine(start.Add(time.Minute), "checkout-api", "user-api", 55, 0, 200))
	}
	findings := AnalyzeFallback(events, "checkout-api", start)
	require.Len(t, findings, 1)
	assert.False(t, findings[0].Degraded)
}

func TestAnalyzeFallback_IgnoresOtherCallers(t *testing.T) {
	start := time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)
	events := []Event{
		eventLine(start.Add(time.Minute), "other-api", "payment-api", 900, 6, 503),
	}
	assert.Empty(t, AnalyzeFallback(events, "checkout-api", start))
}

func TestAnalyzeFallback_RanksByErrorRate(t *testing.T) {
	start := time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)
	var events []Event
	for i := 0; i < 4; i++ {
		code := 200
		if i < 2 {
			code = 500
		}
		events = append(events, eventLine(start.Add(time.Minute), "checkout-api", "half-broken", 100, 0, code))
	}
	for i := 0; i < 4; i++ {
		events = append(events, eventLine(start.Add(time.Minute), "checkout-api", "fully-broken", 100, 0, 503))
	}

	findings := AnalyzeFallback(events, "checkout-api", start)
	require.Len(t, findings, 2)
	assert.Equal(t, "fully-broken", findings[0].Upstream)
	assert.Equal(t, "half-broken", findings[1].Upstream)
}

func TestFindingDescribe(t *testing.T) {
	f := Finding{Upstream: "payment-api", ErrRate: 1, AvgLatencyMs: 900, AvgRetry: 6, BaselineMs: 40, Degraded: true}
	desc := f.Describe()
	assert.Contains(t, desc, "payment-api")
	assert.Contains(t, desc, "degraded")
	assert.Contains(t, desc, fmt.Sprintf("err_rate=%.2f", 1.0))
}
