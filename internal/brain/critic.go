package brain

import (
	"context"
	"fmt"

	"github.com/meshrca/meshrca/internal/llm"
	"github.com/meshrca/meshrca/internal/models"
)

// DefaultCriticDecay is the per-iteration confidence decay of the critic
// stub. Without a strengthening critic the score drifts down each loop,
// which eventually drives escalation instead of an endless refinement cycle.
const DefaultCriticDecay = 0.02

// Critic challenges the leading hypothesis and scores how convincing it is.
type Critic struct {
	llm   llm.Client
	decay float64
}

// NewCritic creates the stage. A nil client selects the decaying stub;
// decay <= 0 selects the default.
func NewCritic(client llm.Client, decay float64) *Critic {
	if decay <= 0 {
		decay = DefaultCriticDecay
	}
	return &Critic{llm: client, decay: decay}
}

func (c *Critic) Name() string { return StageCritic }

func (c *Critic) Run(ctx context.Context, state *models.BrainState) error {
	top, ok := state.TopHypothesis()
	if !ok {
		// Nothing to critique.
		state.SetCriticScore(0)
		state.CriticReasoning = ""
		return nil
	}

	if c.llm != nil {
		doc, err := c.llm.GenerateJSON(ctx, c.prompt(state, top))
		if err == nil {
			score, scoreOK := doc["score"].(float64)
			reasoning, reasonOK := doc["reasoning"].(string)
			if scoreOK && reasonOK && reasoning != "" {
				state.SetCriticScore(score)
				state.CriticReasoning = reasoning
				return nil
			}
			err = fmt.Errorf("missing score or reasoning")
		}
		state.AddError(fmt.Sprintf("critic_parse_error: %v", err))
	}

	score := top.Confidence - c.decay*float64(state.Iteration-1)
	if score < 0 {
		score = 0
	}
	state.SetCriticScore(score)
	state.CriticReasoning = fmt.Sprintf(
		"Leading hypothesis %q holds at confidence %.2f on iteration %d; no contradicting "+
			"evidence surfaced, but the supporting evidence has not strengthened either.",
		top.Title, top.Confidence, state.Iteration)
	return nil
}

func (c *Critic) prompt(state *models.BrainState, top models.Hypothesis) string {
	return fmt.Sprintf(
		"Challenge this root-cause hypothesis for incident %s on %s.\n"+
			"Hypothesis: %s\nSummary: %s\nConfidence: %.2f\n"+
			"Evidence: mesh=%q code=%q metrics=%q\n"+
			"Respond with JSON: {\"score\": float in [0,1], \"reasoning\": str}. The score is your "+
			"confidence that this hypothesis is the true root cause.",
		state.Incident.IncidentID, state.Incident.Service,
		top.Title, top.Summary, top.Confidence,
		state.MeshSummary, state.GitSummary, state.MetricsSummary)
}

func (c *Critic) Validate(state *models.BrainState) error {
	if err := requireBounded(StageCritic, "critic_score", state.CriticScore); err != nil {
		return err
	}
	if len(state.Hypotheses) == 0 {
		return nil // score 0, no reasoning required
	}
	return requireNonEmpty(StageCritic, "critic_reasoning", state.CriticReasoning)
}
