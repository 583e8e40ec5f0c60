package brain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrca/meshrca/internal/graph"
	"github.com/meshrca/meshrca/internal/models"
)

type fakeLLM struct {
	text    string
	textErr error
	doc     map[string]any
	docErr  error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return f.text, f.textErr
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, prompt string) (map[string]any, error) {
	return f.doc, f.docErr
}

func newTestState(deploymentID string) *models.BrainState {
	return models.NewBrainState(models.ApprovedIncident{
		IncidentID:   "INC-T",
		Service:      "checkout-api",
		StartedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		DeploymentID: deploymentID,
	}, 3, 0.8, 0.75)
}

func TestSupervisorStubPlan(t *testing.T) {
	state := newTestState("deploy-42")
	sup := NewSupervisor(nil)

	require.NoError(t, sup.Run(context.Background(), state))
	require.NoError(t, sup.Validate(state))

	assert.Equal(t, 1, state.Iteration)
	assert.Equal(t, []string{"checkout-api"}, state.SuspectServices)
	assert.Contains(t, state.TaskPlan, "deploy-42")
	assert.Equal(t, []string{"incident:INC-T", "deploy:deploy-42"}, state.EvidenceRefs)
}

func TestSupervisorRefinementPlan(t *testing.T) {
	state := newTestState("")
	state.Iteration = 1
	state.CriticReasoning = "The timing correlation alone is weak."
	sup := NewSupervisor(nil)

	require.NoError(t, sup.Run(context.Background(), state))

	assert.Equal(t, 2, state.Iteration)
	assert.Contains(t, state.TaskPlan, "Strengthen the evidence")
	assert.Contains(t, state.TaskPlan, state.CriticReasoning)
}

func TestSupervisorLLMFailureFallsBack(t *testing.T) {
	state := newTestState("")
	sup := NewSupervisor(&fakeLLM{textErr: errors.New("rate limited")})

	require.NoError(t, sup.Run(context.Background(), state))

	assert.NotEmpty(t, state.TaskPlan)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0], "supervisor_parse_error")
}

func TestMeshScoutAnchorsSuspectList(t *testing.T) {
	state := newTestState("")
	state.SuspectServices = []string{"payment-api", "checkout-api"}
	scout := NewMeshScout(nil)

	require.NoError(t, scout.Run(context.Background(), state))
	require.NoError(t, scout.Validate(state))

	assert.Equal(t, []string{"checkout-api", "payment-api"}, state.SuspectServices)
	assert.Contains(t, state.MeshSummary, "No mesh data available")
}

func TestGitScoutRendersChangedSymbols(t *testing.T) {
	store := graph.NewMemoryStore()
	require.NoError(t, store.UpsertNodes(context.Background(), []graph.Node{
		{
			ID: "n1",
			Properties: map[string]any{
				"service":        "checkout-api",
				"status":         "MODIFIED",
				"symbol_kind":    "function",
				"name":           "charge",
				"file_path":      "svc/payment.py",
				"semantic_delta": "--- a/svc/payment.py\n+++ b/svc/payment.py\n-    timeout = 30\n+    timeout = 5",
			},
		},
		{
			ID: "n2",
			Properties: map[string]any{
				"service":     "checkout-api",
				"status":      "UNCHANGED",
				"symbol_kind": "class",
				"name":        "PaymentClient",
				"file_path":   "svc/payment.py",
			},
		},
	}))

	state := newTestState("")
	state.SuspectServices = []string{"checkout-api"}
	scout := NewGitScout(store)

	require.NoError(t, scout.Run(context.Background(), state))
	require.NoError(t, scout.Validate(state))

	assert.Contains(t, state.GitSummary, "[MODIFIED] function charge at svc/payment.py")
	assert.Contains(t, state.GitSummary, "-    timeout = 30")
	assert.NotContains(t, state.GitSummary, "PaymentClient")
	assert.NotContains(t, state.GitSummary, "+++ ")
	assert.Equal(t, []string{"graph:checkout-api"}, state.EvidenceRefs)
}

func TestGitScoutValidateRejectsDiffHeaders(t *testing.T) {
	state := newTestState("")
	state.GitSummary = "changes:\n+++ b/svc/payment.py"
	scout := NewGitScout(nil)

	err := scout.Validate(state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unified-diff file headers")
}

func TestSynthesizerLLMRankingAndCap(t *testing.T) {
	doc := map[string]any{
		"hypotheses": []any{
			map[string]any{"title": "B", "summary": "b", "confidence": 0.4},
			map[string]any{"title": "A", "summary": "a", "confidence": 1.7},
			map[string]any{"title": "C", "summary": "c", "confidence": 0.6},
			map[string]any{"title": "D", "summary": "d", "confidence": 0.1},
		},
	}
	state := newTestState("")
	state.EvidenceRefs = []string{"incident:INC-T"}
	synth := NewSynthesizer(&fakeLLM{doc: doc})

	require.NoError(t, synth.Run(context.Background(), state))
	require.NoError(t, synth.Validate(state))

	require.Len(t, state.Hypotheses, 3)
	assert.Equal(t, "A", state.Hypotheses[0].Title)
	assert.Equal(t, 1.0, state.Hypotheses[0].Confidence, "confidence is clamped")
	assert.Equal(t, "C", state.Hypotheses[1].Title)
	assert.Equal(t, "B", state.Hypotheses[2].Title)
	assert.Equal(t, []string{"incident:INC-T"}, state.Hypotheses[0].EvidenceRefs)
}

func TestSynthesizerEmptyListIsParseFailure(t *testing.T) {
	state := newTestState("")
	synth := NewSynthesizer(&fakeLLM{doc: map[string]any{"hypotheses": []any{}}})

	require.NoError(t, synth.Run(context.Background(), state))

	require.Len(t, state.Hypotheses, 1)
	assert.Equal(t, "Unknown root cause", state.Hypotheses[0].Title)
	assert.InDelta(t, 0.30, state.Hypotheses[0].Confidence, 1e-9)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0], "synthesizer_parse_error")
}

func TestSynthesizerStubWithoutDeployment(t *testing.T) {
	state := newTestState("")
	synth := NewSynthesizer(nil)

	require.NoError(t, synth.Run(context.Background(), state))

	require.Len(t, state.Hypotheses, 1)
	assert.InDelta(t, 0.62, state.Hypotheses[0].Confidence, 1e-9)
}

func TestCriticEmptyHypotheses(t *testing.T) {
	state := newTestState("")
	state.Iteration = 1
	critic := NewCritic(nil, 0)

	require.NoError(t, critic.Run(context.Background(), state))
	require.NoError(t, critic.Validate(state))

	assert.Zero(t, state.CriticScore)
	assert.Empty(t, state.CriticReasoning)
}

func TestCriticStubDecaysPerIteration(t *testing.T) {
	state := newTestState("")
	state.Iteration = 3
	state.Hypotheses = []models.Hypothesis{{Title: "H", Summary: "s", Confidence: 0.5}}
	critic := NewCritic(nil, 0)

	require.NoError(t, critic.Run(context.Background(), state))
	require.NoError(t, critic.Validate(state))

	assert.InDelta(t, 0.46, state.CriticScore, 1e-9)
	assert.NotEmpty(t, state.CriticReasoning)
}

func TestCriticParseFailureFallsBack(t *testing.T) {
	state := newTestState("")
	state.Iteration = 1
	state.Hypotheses = []models.Hypothesis{{Title: "H", Summary: "s", Confidence: 0.7}}
	critic := NewCritic(&fakeLLM{doc: map[string]any{"score": "high"}}, 0)

	require.NoError(t, critic.Run(context.Background(), state))

	assert.InDelta(t, 0.7, state.CriticScore, 1e-9)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0], "critic_parse_error")
}

func TestCriticLLMScoreClamped(t *testing.T) {
	state := newTestState("")
	state.Iteration = 1
	state.Hypotheses = []models.Hypothesis{{Title: "H", Summary: "s", Confidence: 0.7}}
	critic := NewCritic(&fakeLLM{doc: map[string]any{"score": 1.4, "reasoning": "convincing"}}, 0)

	require.NoError(t, critic.Run(context.Background(), state))
	require.NoError(t, critic.Validate(state))

	assert.Equal(t, 1.0, state.CriticScore)
	assert.Equal(t, "convincing", state.CriticReasoning)
}

func TestFixAdvisorEmptyHypotheses(t *testing.T) {
	state := newTestState("")
	advisor := NewFixAdvisor(nil)

	require.NoError(t, advisor.Run(context.Background(), state))
	require.NoError(t, advisor.Validate(state))

	assert.Zero(t, state.FixConfidence)
	assert.Contains(t, state.FixSummary, "No hypotheses")
}

func TestFixAdvisorStubConfidence(t *testing.T) {
	state := newTestState("deploy-42")
	state.Hypotheses = []models.Hypothesis{
		{Title: "A", Summary: "a", Confidence: 0.8},
		{Title: "B", Summary: "b", Confidence: 0.6},
	}
	advisor := NewFixAdvisor(nil)

	require.NoError(t, advisor.Run(context.Background(), state))
	require.NoError(t, advisor.Validate(state))

	// min(1.0, 0.9 * mean(0.8, 0.6)) = 0.63 rounded to two decimals
	assert.InDelta(t, 0.63, state.FixConfidence, 1e-9)
	assert.Contains(t, state.FixSummary, "deploy-42")
	assert.Contains(t, state.FixReasoning, `"A"`)
}

func TestFixAdvisorParseFailureFallsBack(t *testing.T) {
	state := newTestState("")
	state.Hypotheses = []models.Hypothesis{{Title: "A", Summary: "a", Confidence: 0.5}}
	advisor := NewFixAdvisor(&fakeLLM{doc: map[string]any{"summary": "do the thing"}})

	require.NoError(t, advisor.Run(context.Background(), state))

	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0], "fix_advisor_parse_error")
	assert.InDelta(t, 0.45, state.FixConfidence, 1e-9)
}

func TestFixAdvisorLLMOutput(t *testing.T) {
	state := newTestState("")
	state.Hypotheses = []models.Hypothesis{{Title: "A", Summary: "a", Confidence: 0.5}}
	advisor := NewFixAdvisor(&fakeLLM{doc: map[string]any{
		"summary":    "Roll back the last deployment.",
		"confidence": 0.82,
		"reasoning":  "Safe under every plausible cause.",
	}})

	require.NoError(t, advisor.Run(context.Background(), state))
	require.NoError(t, advisor.Validate(state))

	assert.Equal(t, "Roll back the last deployment.", state.FixSummary)
	assert.InDelta(t, 0.82, state.FixConfidence, 1e-9)
	assert.True(t, strings.HasPrefix(state.FixReasoning, "Safe"))
}
