// Package mesh models the service-mesh neighbourhood of an incident:
// architectural DEPENDS_ON edges, OBSERVED_CALL telemetry, and the raw
// mesh-event fallback used when no mesh graph is available.
package mesh

import "context"

// CallStats aggregates OBSERVED_CALL telemetry for one edge.
type CallStats struct {
	CallCount    int64
	ErrorCount   int64
	AvgLatencyMs float64
	P99LatencyMs float64
}

// Dependency is an upstream service reachable from the incident service.
type Dependency struct {
	Service  string
	Depth    int
	Observed bool
	Stats    CallStats
}

// Topology is the mesh-graph port: upstream dependencies of a service via
// DEPENDS_ON up to maxDepth, joined with observed call telemetry.
type Topology interface {
	UpstreamDependencies(ctx context.Context, service string, maxDepth int) ([]Dependency, error)
}

// DegradationScore ranks an observed dependency: error rate dominates,
// latency breaks ties.
func DegradationScore(s CallStats) float64 {
	if s.CallCount == 0 {
		return 0
	}
	errorRate := float64(s.ErrorCount) / float64(s.CallCount)
	return errorRate*10 + s.AvgLatencyMs/100
}
