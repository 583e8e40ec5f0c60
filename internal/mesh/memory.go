package mesh

import (
	"context"
	"sync"
)

// MemoryTopology is an in-memory Topology for tests and stub runs.
type MemoryTopology struct {
	mu       sync.RWMutex
	depends  map[string][]string
	observed map[string]map[string]CallStats
}

// NewMemoryTopology creates an empty topology.
func NewMemoryTopology() *MemoryTopology {
	return &MemoryTopology{
		depends:  make(map[string][]string),
		observed: make(map[string]map[string]CallStats),
	}
}

// AddDependency records a DEPENDS_ON edge.
func (m *MemoryTopology) AddDependency(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.depends[from] {
		if existing == to {
			return
		}
	}
	m.depends[from] = append(m.depends[from], to)
}

// AddObservedCall records OBSERVED_CALL telemetry for an edge.
func (m *MemoryTopology) AddObservedCall(from, to string, stats CallStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.observed[from] == nil {
		m.observed[from] = make(map[string]CallStats)
	}
	m.observed[from][to] = stats
}

// UpstreamDependencies walks DEPENDS_ON breadth-first up to maxDepth and
// joins telemetry observed on the edge from the walk parent.
func (m *MemoryTopology) UpstreamDependencies(ctx context.Context, service string, maxDepth int) ([]Dependency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Dependency
	seen := map[string]bool{service: true}

	type frontierEntry struct {
		service string
		parent  string
		depth   int
	}
	frontier := []frontierEntry{}
	for _, up := range m.depends[service] {
		frontier = append(frontier, frontierEntry{service: up, parent: service, depth: 1})
	}

	for len(frontier) > 0 {
		entry := frontier[0]
		frontier = frontier[1:]
		if seen[entry.service] || entry.depth > maxDepth {
			continue
		}
		seen[entry.service] = true

		dep := Dependency{Service: entry.service, Depth: entry.depth}
		if stats, ok := m.observed[entry.parent][entry.service]; ok {
			dep.Observed = true
			dep.Stats = stats
		}
		out = append(out, dep)

		for _, up := range m.depends[entry.service] {
			frontier = append(frontier, frontierEntry{service: up, parent: entry.service, depth: entry.depth + 1})
		}
	}
	return out, nil
}
