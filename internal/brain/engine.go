package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meshrca/meshrca/internal/graph"
	"github.com/meshrca/meshrca/internal/llm"
	"github.com/meshrca/meshrca/internal/logging"
	"github.com/meshrca/meshrca/internal/mesh"
	"github.com/meshrca/meshrca/internal/models"
)

// EngineConfig is the loop configuration of an investigation engine.
type EngineConfig struct {
	MaxIterations          int
	CriticThreshold        float64
	FixConfidenceThreshold float64
	CriticDecayPerLoop     float64

	// ReportLogPath, when set, receives one JSON line per finished report.
	ReportLogPath string

	// LLMEnabled is recorded in report metadata so a reader can tell stub
	// runs from real ones.
	LLMEnabled bool
}

// Engine dispatches investigations through the stage graph
// supervisor -> mesh_scout -> git_scout -> metric_analyst -> rca_synthesizer
// -> critic, looping back to the supervisor until the critic score clears
// the threshold or the iteration budget runs out, then fix_advisor -> end.
type Engine struct {
	cfg    EngineConfig
	stages map[string]Stage
	repo   *ReportRepository
	log    *slog.Logger

	// Serialises appends to the report log across parallel investigations.
	reportLogMu sync.Mutex
}

// NewEngine wires the seven stages. client, store and topology may each be
// nil; the affected stages fall back to their deterministic behaviour.
func NewEngine(cfg EngineConfig, client llm.Client, store graph.Store, topology mesh.Topology, repo *ReportRepository, log *slog.Logger) *Engine {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	if repo == nil {
		repo = NewReportRepository()
	}
	if log == nil {
		log = logging.Default()
	}

	stages := []Stage{
		NewSupervisor(client),
		NewMeshScout(topology),
		NewGitScout(store),
		NewMetricAnalyst(),
		NewSynthesizer(client),
		NewCritic(client, cfg.CriticDecayPerLoop),
		NewFixAdvisor(client),
	}
	byName := make(map[string]Stage, len(stages))
	for _, st := range stages {
		byName[st.Name()] = st
	}

	return &Engine{cfg: cfg, stages: byName, repo: repo, log: log}
}

// Repository exposes the report store backing this engine.
func (e *Engine) Repository() *ReportRepository { return e.repo }

// Investigate runs one incident to a terminal report. The report is always
// saved, including for failed runs, and is returned alongside any fatal
// error.
func (e *Engine) Investigate(ctx context.Context, incident models.ApprovedIncident) (models.RcaReport, error) {
	state := models.NewBrainState(incident, e.cfg.MaxIterations, e.cfg.CriticThreshold, e.cfg.FixConfidenceThreshold)
	runID := uuid.NewString()

	log := e.log.With("incident_id", incident.IncidentID, "run_id", runID)
	log.Info("investigation started", "service", incident.Service)

	var fatal error
	current := StageSupervisor
	for current != stageEnd {
		if err := ctx.Err(); err != nil {
			fatal = fmt.Errorf("investigation cancelled before %s: %w", current, err)
			break
		}

		stage, ok := e.stages[current]
		if !ok {
			fatal = fmt.Errorf("no stage registered for %q", current)
			break
		}

		if err := e.runStage(ctx, stage, state); err != nil {
			fatal = err
			break
		}
		log.Debug("stage finished", "stage", current, "iteration", state.Iteration)

		current = e.nextStage(current, state)
	}

	if fatal != nil {
		state.Status = models.StatusFailed
		state.AddError(fatal.Error())
		log.Error("investigation failed", "error", fatal)
	} else if state.CriticScore >= state.CriticThreshold || state.FixConfidence >= state.FixConfidenceThreshold {
		state.Status = models.StatusCompleted
	} else {
		state.Status = models.StatusEscalated
	}

	report := e.buildReport(state, runID)
	if err := e.repo.Save(report); err != nil {
		return report, fmt.Errorf("failed to save report: %w", err)
	}
	if e.cfg.ReportLogPath != "" {
		if err := e.appendReportLog(report); err != nil {
			log.Error("failed to append report log", "error", err)
		}
	}

	log.Info("investigation finished",
		"status", report.Status,
		"iterations", state.Iteration,
		"critic_score", report.CriticScore,
		"fix_confidence", report.FixConfidence)
	return report, fatal
}

// runStage executes Run then Validate, converting a stage panic into an
// error instead of taking down sibling investigations.
func (e *Engine) runStage(ctx context.Context, stage Stage, state *models.BrainState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", stage.Name(), r)
		}
	}()
	if err := stage.Run(ctx, state); err != nil {
		return fmt.Errorf("%s failed: %w", stage.Name(), err)
	}
	if err := stage.Validate(state); err != nil {
		return err
	}
	return nil
}

// nextStage is the transition function. The only conditional edge is after
// the critic: back to the supervisor while unconvinced and within budget.
func (e *Engine) nextStage(current string, state *models.BrainState) string {
	switch current {
	case StageSupervisor:
		return StageMeshScout
	case StageMeshScout:
		return StageGitScout
	case StageGitScout:
		return StageMetricAnalyst
	case StageMetricAnalyst:
		return StageSynthesizer
	case StageSynthesizer:
		return StageCritic
	case StageCritic:
		if state.CriticScore >= state.CriticThreshold || state.Iteration >= state.MaxIterations {
			return StageFixAdvisor
		}
		return StageSupervisor
	case StageFixAdvisor:
		return stageEnd
	default:
		return stageEnd
	}
}

func (e *Engine) buildReport(state *models.BrainState, runID string) models.RcaReport {
	return models.RcaReport{
		IncidentID:    state.Incident.IncidentID,
		Status:        state.Status,
		CriticScore:   state.CriticScore,
		FixConfidence: state.FixConfidence,
		Hypotheses:    state.Hypotheses,
		Errors:        state.Errors,
		Metadata: map[string]any{
			"run_id":                   runID,
			"service":                  state.Incident.Service,
			"iterations":               state.Iteration,
			"max_iterations":           state.MaxIterations,
			"critic_threshold":         state.CriticThreshold,
			"fix_confidence_threshold": state.FixConfidenceThreshold,
			"llm_enabled":              e.cfg.LLMEnabled,
			"task_plan":                state.TaskPlan,
			"mesh_summary":             state.MeshSummary,
			"git_summary":              state.GitSummary,
			"metrics_summary":          state.MetricsSummary,
			"critic_reasoning":         state.CriticReasoning,
			"fix_summary":              state.FixSummary,
			"fix_reasoning":            state.FixReasoning,
			"evidence_refs":            state.EvidenceRefs,
			"suspect_services":         state.SuspectServices,
			"suspect_edges":            state.SuspectEdges,
		},
	}
}

// appendReportLog appends the report as one JSON line with a save timestamp.
func (e *Engine) appendReportLog(report models.RcaReport) error {
	entry := struct {
		SavedAt string           `json:"saved_at"`
		Report  models.RcaReport `json:"report"`
	}{
		SavedAt: time.Now().UTC().Format(time.RFC3339),
		Report:  report,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	e.reportLogMu.Lock()
	defer e.reportLogMu.Unlock()

	f, err := os.OpenFile(e.cfg.ReportLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open report log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write report log: %w", err)
	}
	return nil
}

// RunAll investigates incidents in parallel, one goroutine per incident.
// Every incident produces a saved report even when some runs fail; the
// first fatal error is returned after all runs finish.
func (e *Engine) RunAll(ctx context.Context, incidents []models.ApprovedIncident) ([]models.RcaReport, error) {
	reports := make([]models.RcaReport, len(incidents))
	g := &errgroup.Group{}
	for i, incident := range incidents {
		g.Go(func() error {
			report, err := e.Investigate(ctx, incident)
			reports[i] = report
			return err
		})
	}
	err := g.Wait()
	return reports, err
}
