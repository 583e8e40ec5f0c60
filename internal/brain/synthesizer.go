package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/meshrca/meshrca/internal/llm"
	"github.com/meshrca/meshrca/internal/models"
)

// Stub hypothesis constants. With a deployment in play a rollout regression
// is by far the likeliest cause; without one the signal is much weaker.
const (
	deployHypothesisTitle       = "Recent rollout regression"
	deployHypothesisConfidence  = 0.86
	genericHypothesisTitle      = "Traffic or dependency instability"
	genericHypothesisConfidence = 0.62

	fallbackHypothesisTitle      = "Unknown root cause"
	fallbackHypothesisConfidence = 0.30
)

// Synthesizer turns the collected evidence into 2-3 ranked hypotheses. LLM
// output that fails to parse degrades to a single low-confidence fallback
// hypothesis so the pipeline stays total.
type Synthesizer struct {
	llm llm.Client
}

// NewSynthesizer creates the stage. A nil client selects the deterministic
// stub.
func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{llm: client}
}

func (s *Synthesizer) Name() string { return StageSynthesizer }

func (s *Synthesizer) Run(ctx context.Context, state *models.BrainState) error {
	if s.llm == nil {
		state.Hypotheses = s.stubHypotheses(state)
		return nil
	}

	doc, err := s.llm.GenerateJSON(ctx, s.prompt(state))
	if err != nil {
		state.AddError(fmt.Sprintf("synthesizer_parse_error: %v", err))
		state.Hypotheses = s.fallbackHypotheses(state)
		return nil
	}

	hypotheses, err := parseHypotheses(doc, state.EvidenceRefs)
	if err != nil {
		state.AddError(fmt.Sprintf("synthesizer_parse_error: %v", err))
		state.Hypotheses = s.fallbackHypotheses(state)
		return nil
	}

	sort.SliceStable(hypotheses, func(i, j int) bool {
		return hypotheses[i].Confidence > hypotheses[j].Confidence
	})
	if len(hypotheses) > 3 {
		hypotheses = hypotheses[:3]
	}
	state.Hypotheses = hypotheses
	return nil
}

// parseHypotheses decodes the {"hypotheses": [...]} document. An empty list
// counts as a parse failure: the synthesizer contract requires at least one
// hypothesis.
func parseHypotheses(doc map[string]any, defaultRefs []string) ([]models.Hypothesis, error) {
	raw, ok := doc["hypotheses"]
	if !ok {
		return nil, fmt.Errorf("missing hypotheses field")
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("unreadable hypotheses field: %w", err)
	}
	var hypotheses []models.Hypothesis
	if err := json.Unmarshal(encoded, &hypotheses); err != nil {
		return nil, fmt.Errorf("malformed hypotheses field: %w", err)
	}
	if len(hypotheses) == 0 {
		return nil, fmt.Errorf("empty hypotheses list")
	}
	for i := range hypotheses {
		hypotheses[i].Confidence = models.Clamp(hypotheses[i].Confidence)
		if len(hypotheses[i].EvidenceRefs) == 0 {
			hypotheses[i].EvidenceRefs = append([]string(nil), defaultRefs...)
		}
	}
	return hypotheses, nil
}

func (s *Synthesizer) stubHypotheses(state *models.BrainState) []models.Hypothesis {
	refs := append([]string(nil), state.EvidenceRefs...)
	if state.Incident.DeploymentID != "" {
		return []models.Hypothesis{{
			Title: deployHypothesisTitle,
			Summary: fmt.Sprintf(
				"Deployment %s landed shortly before the incident on %s. The timing and the absence "+
					"of stronger external signals point at the rollout itself.",
				state.Incident.DeploymentID, state.Incident.Service),
			Confidence:   deployHypothesisConfidence,
			EvidenceRefs: refs,
		}}
	}
	return []models.Hypothesis{{
		Title: genericHypothesisTitle,
		Summary: fmt.Sprintf(
			"No deployment is associated with the incident on %s. A traffic shift or a degraded "+
				"dependency is the most plausible trigger given the available evidence.",
			state.Incident.Service),
		Confidence:   genericHypothesisConfidence,
		EvidenceRefs: refs,
	}}
}

func (s *Synthesizer) fallbackHypotheses(state *models.BrainState) []models.Hypothesis {
	return []models.Hypothesis{{
		Title: fallbackHypothesisTitle,
		Summary: fmt.Sprintf(
			"The synthesizer could not produce structured hypotheses for the incident on %s. "+
				"Manual review of the collected evidence is required.",
			state.Incident.Service),
		Confidence:   fallbackHypothesisConfidence,
		EvidenceRefs: append([]string(nil), state.EvidenceRefs...),
	}}
}

func (s *Synthesizer) prompt(state *models.BrainState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synthesize root-cause hypotheses for incident %s on %s.\n\n",
		state.Incident.IncidentID, state.Incident.Service)
	fmt.Fprintf(&b, "Task plan: %s\n", state.TaskPlan)
	fmt.Fprintf(&b, "Mesh findings:\n%s\n", state.MeshSummary)
	fmt.Fprintf(&b, "Code findings:\n%s\n", state.GitSummary)
	fmt.Fprintf(&b, "Metric guidance:\n%s\n", state.MetricsSummary)
	fmt.Fprintf(&b, "Evidence refs: %s\n", strings.Join(state.EvidenceRefs, ", "))
	if state.Iteration > 1 && state.CriticReasoning != "" {
		fmt.Fprintf(&b, "\nThe critic challenged the previous hypotheses: %s\n", state.CriticReasoning)
		b.WriteString("Prefer strengthening the prior hypotheses over inventing new ones, " +
			"unless the critic has explicitly ruled them out.\n")
	}
	b.WriteString("\nRespond with JSON: {\"hypotheses\": [{\"title\": str, \"summary\": str (2-3 sentences), " +
		"\"confidence\": float in [0,1], \"evidence_refs\": [str]}]} with 2-3 entries ranked by confidence.")
	return b.String()
}

func (s *Synthesizer) Validate(state *models.BrainState) error {
	if len(state.Hypotheses) == 0 {
		return validationError(StageSynthesizer, "at least one hypothesis is required")
	}
	for i, h := range state.Hypotheses {
		if err := requireNonEmpty(StageSynthesizer, fmt.Sprintf("hypotheses[%d].title", i), h.Title); err != nil {
			return err
		}
		if err := requireNonEmpty(StageSynthesizer, fmt.Sprintf("hypotheses[%d].summary", i), h.Summary); err != nil {
			return err
		}
		if err := requireBounded(StageSynthesizer, fmt.Sprintf("hypotheses[%d].confidence", i), h.Confidence); err != nil {
			return err
		}
	}
	return nil
}
