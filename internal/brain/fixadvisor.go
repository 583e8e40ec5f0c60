package brain

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/meshrca/meshrca/internal/llm"
	"github.com/meshrca/meshrca/internal/models"
)

// FixAdvisor recommends one intervention that is valid across all plausible
// causes, with a bounded confidence.
type FixAdvisor struct {
	llm llm.Client
}

// NewFixAdvisor creates the stage. A nil client selects the deterministic
// stub.
func NewFixAdvisor(client llm.Client) *FixAdvisor {
	return &FixAdvisor{llm: client}
}

func (f *FixAdvisor) Name() string { return StageFixAdvisor }

func (f *FixAdvisor) Run(ctx context.Context, state *models.BrainState) error {
	if len(state.Hypotheses) == 0 {
		state.SetFixConfidence(0)
		state.FixSummary = "No hypotheses were produced; no safe intervention can be recommended."
		state.FixReasoning = "An intervention needs at least one plausible cause to target."
		return nil
	}

	if f.llm != nil {
		doc, err := f.llm.GenerateJSON(ctx, f.prompt(state))
		if err == nil {
			summary, sOK := doc["summary"].(string)
			confidence, cOK := doc["confidence"].(float64)
			reasoning, rOK := doc["reasoning"].(string)
			if sOK && cOK && rOK && summary != "" && reasoning != "" {
				state.FixSummary = summary
				state.FixReasoning = reasoning
				state.SetFixConfidence(confidence)
				return nil
			}
			err = fmt.Errorf("missing summary, confidence or reasoning")
		}
		state.AddError(fmt.Sprintf("fix_advisor_parse_error: %v", err))
	}

	f.stub(state)
	return nil
}

func (f *FixAdvisor) stub(state *models.BrainState) {
	mean := 0.0
	for _, h := range state.Hypotheses {
		mean += h.Confidence
	}
	mean /= float64(len(state.Hypotheses))
	confidence := math.Round(math.Min(1.0, 0.9*mean)*100) / 100
	state.SetFixConfidence(confidence)

	top, _ := state.TopHypothesis()
	if state.Incident.DeploymentID != "" {
		state.FixSummary = fmt.Sprintf(
			"Roll back deployment %s on %s and watch error rate and p99 latency recover.",
			state.Incident.DeploymentID, state.Incident.Service)
	} else {
		state.FixSummary = fmt.Sprintf(
			"Shed load on %s and fail over away from the degraded dependency path while the "+
				"root cause is confirmed.", state.Incident.Service)
	}
	state.FixReasoning = fmt.Sprintf(
		"The intervention addresses the leading hypothesis %q and remains safe under the "+
			"alternative causes: it reduces pressure without destructive side effects.", top.Title)
}

func (f *FixAdvisor) prompt(state *models.BrainState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recommend a single intervention for incident %s on %s that is valid across "+
		"ALL of these plausible causes:\n", state.Incident.IncidentID, state.Incident.Service)
	for _, h := range state.Hypotheses {
		fmt.Fprintf(&b, "- %s (%.2f): %s\n", h.Title, h.Confidence, h.Summary)
	}
	if state.CriticReasoning != "" {
		fmt.Fprintf(&b, "Critic assessment: %s\n", state.CriticReasoning)
	}
	b.WriteString("Respond with JSON: {\"summary\": str, \"confidence\": float in [0,1], \"reasoning\": str}.")
	return b.String()
}

func (f *FixAdvisor) Validate(state *models.BrainState) error {
	if err := requireBounded(StageFixAdvisor, "fix_confidence", state.FixConfidence); err != nil {
		return err
	}
	if err := requireNonEmpty(StageFixAdvisor, "fix_summary", state.FixSummary); err != nil {
		return err
	}
	return requireNonEmpty(StageFixAdvisor, "fix_reasoning", state.FixReasoning)
}
