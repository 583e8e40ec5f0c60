package brain

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/meshrca/meshrca/internal/mesh"
	"github.com/meshrca/meshrca/internal/models"
)

// meshEventsKey is where incident intake places the raw JSONL stream.
const meshEventsKey = "mesh_events"

// MeshScout ranks upstream dependencies of the incident service by observed
// degradation. The mesh graph is the primary source; a raw mesh-event
// stream from extra context is the fallback.
type MeshScout struct {
	topology mesh.Topology
}

// NewMeshScout creates the stage. A nil topology forces the fallback.
func NewMeshScout(topology mesh.Topology) *MeshScout {
	return &MeshScout{topology: topology}
}

func (s *MeshScout) Name() string { return StageMeshScout }

func (s *MeshScout) Run(ctx context.Context, state *models.BrainState) error {
	service := state.Incident.Service

	// The incident service anchors the suspect list at index 0.
	suspects := []string{service}
	for _, svc := range state.SuspectServices {
		if svc != service {
			suspects = append(suspects, svc)
		}
	}
	state.SuspectServices = suspects

	var summary []string
	found := false

	if s.topology != nil {
		deps, err := s.topology.UpstreamDependencies(ctx, service, 2)
		if err != nil {
			state.AddError(fmt.Sprintf("mesh_scout_error: %v", err))
		} else if len(deps) > 0 {
			found = true
			summary = s.rankGraphDependencies(state, deps)
		}
	}

	if !found {
		summary = s.analyzeRawEvents(state)
	}

	if len(summary) == 0 {
		summary = []string{fmt.Sprintf("No mesh data available for %s; downstream stages rely on code and metric evidence.", service)}
	}
	state.MeshSummary = strings.Join(summary, "\n")
	return nil
}

// rankGraphDependencies orders observed dependencies by degradation score
// and appends arch-only dependencies at lower priority.
func (s *MeshScout) rankGraphDependencies(state *models.BrainState, deps []mesh.Dependency) []string {
	var observed, archOnly []mesh.Dependency
	for _, dep := range deps {
		if dep.Observed {
			observed = append(observed, dep)
		} else {
			archOnly = append(archOnly, dep)
		}
	}
	sort.SliceStable(observed, func(i, j int) bool {
		return mesh.DegradationScore(observed[i].Stats) > mesh.DegradationScore(observed[j].Stats)
	})

	service := state.Incident.Service
	summary := []string{fmt.Sprintf("Mesh graph neighbourhood of %s (depth 2):", service)}

	for _, dep := range observed {
		state.AddSuspect(dep.Service)
		state.AddSuspectEdge(service + "->" + dep.Service)
		state.AddEvidence("mesh:observed:" + dep.Service)
		errRate := 0.0
		if dep.Stats.CallCount > 0 {
			errRate = float64(dep.Stats.ErrorCount) / float64(dep.Stats.CallCount)
		}
		summary = append(summary, fmt.Sprintf(
			"  %s score=%.2f (err_rate=%.2f, avg=%.0fms, p99=%.0fms, calls=%d)",
			dep.Service, mesh.DegradationScore(dep.Stats), errRate,
			dep.Stats.AvgLatencyMs, dep.Stats.P99LatencyMs, dep.Stats.CallCount))
	}
	for _, dep := range archOnly {
		state.AddSuspect(dep.Service)
		state.AddSuspectEdge(service + "->" + dep.Service)
		state.AddEvidence("mesh:depends_on:" + dep.Service)
		summary = append(summary, fmt.Sprintf("  %s (architectural dependency, no observed calls)", dep.Service))
	}
	return summary
}

// analyzeRawEvents runs the JSONL fallback over extra context.
func (s *MeshScout) analyzeRawEvents(state *models.BrainState) []string {
	raw := state.Incident.ExtraContext[meshEventsKey]
	if raw == "" {
		return nil
	}
	events := mesh.ParseEvents(raw)
	findings := mesh.AnalyzeFallback(events, state.Incident.Service, state.Incident.StartedAt)
	if len(findings) == 0 {
		return nil
	}

	summary := []string{fmt.Sprintf("Raw mesh events for %s around incident start:", state.Incident.Service)}
	for _, f := range findings {
		summary = append(summary, "  "+f.Describe())
		if !f.Degraded {
			continue
		}
		state.AddSuspect(f.Upstream)
		state.AddSuspectEdge(state.Incident.Service + "->" + f.Upstream)
		state.AddEvidence("mesh-suspect:" + f.Upstream)
	}
	return summary
}

func (s *MeshScout) Validate(state *models.BrainState) error {
	if err := requireNonEmpty(StageMeshScout, "mesh_summary", state.MeshSummary); err != nil {
		return err
	}
	if len(state.SuspectServices) > 0 && state.SuspectServices[0] != state.Incident.Service {
		return validationError(StageMeshScout, "suspect_services[0] must be the incident service")
	}
	return nil
}
