package brain

import (
	"context"
	"fmt"

	"github.com/meshrca/meshrca/internal/llm"
	"github.com/meshrca/meshrca/internal/models"
)

// Supervisor opens each loop: it advances the iteration counter, anchors the
// suspect list on the incident service, records the incident and deployment
// evidence, and writes the task plan the downstream stages follow.
type Supervisor struct {
	llm llm.Client
}

// NewSupervisor creates the stage. A nil client selects the deterministic
// plan.
func NewSupervisor(client llm.Client) *Supervisor {
	return &Supervisor{llm: client}
}

func (s *Supervisor) Name() string { return StageSupervisor }

func (s *Supervisor) Run(ctx context.Context, state *models.BrainState) error {
	state.Iteration++

	if len(state.SuspectServices) == 0 {
		state.AddSuspect(state.Incident.Service)
	}

	state.AddEvidence("incident:" + state.Incident.IncidentID)
	if state.Incident.DeploymentID != "" {
		state.AddEvidence("deploy:" + state.Incident.DeploymentID)
	}

	refining := state.Iteration > 1 && state.CriticReasoning != ""

	if s.llm != nil {
		plan, err := s.llm.Generate(ctx, s.prompt(state, refining))
		if err == nil && plan != "" {
			state.TaskPlan = plan
			return nil
		}
		state.AddError(fmt.Sprintf("supervisor_parse_error: %v", err))
	}

	state.TaskPlan = s.stubPlan(state, refining)
	return nil
}

func (s *Supervisor) stubPlan(state *models.BrainState, refining bool) string {
	if refining {
		return fmt.Sprintf(
			"Iteration %d for incident %s on %s. The critic was not convinced: %s "+
				"Strengthen the evidence behind the current leading hypothesis rather than pivoting, "+
				"unless the critic has explicitly ruled it out.",
			state.Iteration, state.Incident.IncidentID, state.Incident.Service, state.CriticReasoning)
	}
	plan := fmt.Sprintf(
		"Investigate incident %s on %s. Rank degraded upstream dependencies, correlate recent "+
			"code changes, and check RED metrics before synthesizing root-cause hypotheses.",
		state.Incident.IncidentID, state.Incident.Service)
	if state.Incident.DeploymentID != "" {
		plan += fmt.Sprintf(" Deployment %s landed shortly before the incident and is the prime lead.",
			state.Incident.DeploymentID)
	}
	return plan
}

func (s *Supervisor) prompt(state *models.BrainState, refining bool) string {
	prompt := fmt.Sprintf(
		"You are the supervisor of an incident investigation.\n"+
			"Incident %s on service %s started at %s.\n",
		state.Incident.IncidentID, state.Incident.Service, state.Incident.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	if state.Incident.DeploymentID != "" {
		prompt += fmt.Sprintf("A deployment (%s) preceded the incident.\n", state.Incident.DeploymentID)
	}
	if refining {
		prompt += fmt.Sprintf(
			"This is iteration %d. The critic said: %s\n"+
				"Instruct the stages to strengthen evidence for the existing leading hypothesis "+
				"rather than pivot, unless the critic has explicitly ruled it out.\n",
			state.Iteration, state.CriticReasoning)
	}
	prompt += "Write a 2-3 sentence task plan for the investigator stages."
	return prompt
}

func (s *Supervisor) Validate(state *models.BrainState) error {
	if state.Iteration < 1 {
		return validationError(StageSupervisor, "iteration must be >= 1")
	}
	if err := requireNonEmpty(StageSupervisor, "task_plan", state.TaskPlan); err != nil {
		return err
	}
	for _, svc := range state.SuspectServices {
		if svc == state.Incident.Service {
			return nil
		}
	}
	return validationError(StageSupervisor, "incident service missing from suspect_services")
}
