// Package brain drives the investigation: seven cooperating stages around a
// shared state, wired into a cyclic graph with gated refinement, per-stage
// validation, and durable report emission.
package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/meshrca/meshrca/internal/models"
)

// Stage names, also used as state-machine vertices.
const (
	StageSupervisor    = "supervisor"
	StageMeshScout     = "mesh_scout"
	StageGitScout      = "git_scout"
	StageMetricAnalyst = "metric_analyst"
	StageSynthesizer   = "rca_synthesizer"
	StageCritic        = "critic"
	StageFixAdvisor    = "fix_advisor"
	stageEnd           = "end"
)

// Stage is one investigator. Run mutates the shared state; Validate is
// invoked by the dispatcher immediately after Run returns, keeping contract
// enforcement out of the stage body. A validation failure is fatal to the
// run.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *models.BrainState) error
	Validate(state *models.BrainState) error
}

func validationError(stage, violation string) error {
	return fmt.Errorf("%s output invalid: %s", stage, violation)
}

func requireNonEmpty(stage, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return validationError(stage, field+" must not be empty")
	}
	return nil
}

func requireBounded(stage, field string, value float64) error {
	if value < 0 || value > 1 {
		return validationError(stage, fmt.Sprintf("%s must be in [0,1], got %g", field, value))
	}
	return nil
}
