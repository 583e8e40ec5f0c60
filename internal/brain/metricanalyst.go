package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/meshrca/meshrca/internal/mesh"
	"github.com/meshrca/meshrca/internal/models"
)

// MetricAnalyst frames the metric evidence: the p99 reference for the
// incident service, a log reference per suspect, and a raw-event merge when
// the mesh scout came up empty.
type MetricAnalyst struct{}

// NewMetricAnalyst creates the stage.
func NewMetricAnalyst() *MetricAnalyst {
	return &MetricAnalyst{}
}

func (s *MetricAnalyst) Name() string { return StageMetricAnalyst }

func (s *MetricAnalyst) Run(ctx context.Context, state *models.BrainState) error {
	service := state.Incident.Service
	state.AddEvidence("metric:" + service + ":p99")

	// If the mesh scout found nothing beyond the incident service, mine the
	// raw events here and merge the results.
	if len(state.SuspectServices) <= 1 {
		if raw := state.Incident.ExtraContext[meshEventsKey]; raw != "" {
			events := mesh.ParseEvents(raw)
			for _, f := range mesh.AnalyzeFallback(events, service, state.Incident.StartedAt) {
				if !f.Degraded {
					continue
				}
				state.AddSuspect(f.Upstream)
				state.AddSuspectEdge(service + "->" + f.Upstream)
				state.AddEvidence("mesh-suspect:" + f.Upstream)
			}
		}
	}

	for _, svc := range state.SuspectServices {
		if svc == service {
			continue
		}
		state.AddEvidence("logs:" + svc)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Inspect RED metrics for %s: request rate for traffic shifts, error rate against the "+
		"pre-incident baseline, and p99 latency for saturation.", service)
	fmt.Fprintf(&b, " Check CPU, memory and connection-pool saturation on the serving pods.")
	if len(state.SuspectServices) > 1 {
		fmt.Fprintf(&b, " Downstream dependencies to inspect: %s.",
			strings.Join(state.SuspectServices[1:], ", "))
	} else {
		fmt.Fprintf(&b, " No degraded downstream dependency identified so far.")
	}
	state.MetricsSummary = b.String()
	return nil
}

func (s *MetricAnalyst) Validate(state *models.BrainState) error {
	return requireNonEmpty(StageMetricAnalyst, "metrics_summary", state.MetricsSummary)
}
