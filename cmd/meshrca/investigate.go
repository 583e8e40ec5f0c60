package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meshrca/meshrca/internal/brain"
	"github.com/meshrca/meshrca/internal/bundle"
	"github.com/meshrca/meshrca/internal/graph"
	"github.com/meshrca/meshrca/internal/llm"
	"github.com/meshrca/meshrca/internal/logging"
	"github.com/meshrca/meshrca/internal/mesh"
	"github.com/meshrca/meshrca/internal/models"
)

var (
	investigateReportLog string
	investigateUseNeo4j  bool
)

var investigateCmd = &cobra.Command{
	Use:   "investigate [incident-dir]...",
	Short: "Investigate one or more approved incidents",
	Long: `Run the investigation loop over incident fixture directories. Each
directory holds a manifest.json, plus optional mesh_events.jsonl, *.log
files, and ground_truth.json for replay scoring.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInvestigate,
}

func init() {
	investigateCmd.Flags().StringVar(&investigateReportLog, "report-log", "", "append finished reports to this JSONL file")
	investigateCmd.Flags().BoolVar(&investigateUseNeo4j, "neo4j", false, "read the code graph and mesh topology from Neo4j")
}

func runInvestigate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var incidents []models.ApprovedIncident
	truths := map[string]*bundle.GroundTruth{}
	for _, dir := range args {
		incident, truth, err := bundle.LoadIncidentDir(dir)
		if err != nil {
			return fmt.Errorf("failed to load incident from %s: %w", dir, err)
		}
		incidents = append(incidents, incident)
		if truth != nil {
			truths[incident.IncidentID] = truth
		}
	}

	client, err := newLLMClient(ctx)
	if err != nil {
		return err
	}

	var store graph.Store
	var topology mesh.Topology
	if investigateUseNeo4j {
		neoStore, err := graph.NewNeo4jStore(ctx, settings.Neo4jURI, settings.Neo4jUser, settings.Neo4jPassword, settings.Neo4jDatabase)
		if err != nil {
			return fmt.Errorf("failed to connect graph store: %w", err)
		}
		defer neoStore.Close(ctx)
		store = neoStore

		neoTopology, err := mesh.NewNeo4jTopology(ctx, settings.Neo4jURI, settings.Neo4jUser, settings.Neo4jPassword, settings.Neo4jDatabase)
		if err != nil {
			return fmt.Errorf("failed to connect mesh topology: %w", err)
		}
		defer neoTopology.Close(ctx)
		topology = neoTopology
	}

	reportLog := settings.ReportLogPath
	if investigateReportLog != "" {
		reportLog = investigateReportLog
	}

	engine := brain.NewEngine(brain.EngineConfig{
		MaxIterations:          settings.MaxIterations,
		CriticThreshold:        settings.CriticThreshold,
		FixConfidenceThreshold: settings.FixConfidenceThreshold,
		CriticDecayPerLoop:     settings.CriticDecayPerLoop,
		ReportLogPath:          reportLog,
		LLMEnabled:             client != nil,
	}, client, store, topology, nil, logging.Default())

	reports, runErr := engine.RunAll(ctx, incidents)
	for _, report := range reports {
		printReport(report)
		if truth, ok := truths[report.IncidentID]; ok {
			scoreAgainstTruth(report, truth)
		}
	}
	if runErr != nil {
		return fmt.Errorf("investigation failed: %w", runErr)
	}
	return nil
}

// newLLMClient builds the configured backend, or nil for stub runs.
func newLLMClient(ctx context.Context) (llm.Client, error) {
	if !settings.LLMEnabled() {
		return nil, nil
	}
	opts := llm.Options{
		APIKey:      settings.LLMAPIKey,
		Model:       settings.LLMModel,
		Temperature: settings.LLMTemperature,
		TimeoutSecs: settings.LLMTimeoutSecs,
	}
	switch settings.LLMProvider {
	case "gemini":
		return llm.NewGeminiClient(ctx, opts)
	default:
		return llm.NewOpenAIClient(opts)
	}
}

func printReport(report models.RcaReport) {
	fmt.Printf("\n=== %s: %s ===\n", report.IncidentID, report.Status)
	fmt.Printf("critic score: %.2f  fix confidence: %.2f\n", report.CriticScore, report.FixConfidence)
	for i, h := range report.Hypotheses {
		fmt.Printf("%d. [%.2f] %s\n   %s\n", i+1, h.Confidence, h.Title, h.Summary)
	}
	if fix, ok := report.Metadata["fix_summary"].(string); ok && fix != "" {
		fmt.Printf("fix: %s\n", fix)
	}
	for _, msg := range report.Errors {
		fmt.Printf("error: %s\n", msg)
	}
}

func scoreAgainstTruth(report models.RcaReport, truth *bundle.GroundTruth) {
	if len(report.Hypotheses) == 0 {
		logger.WithField("incident", report.IncidentID).Warn("No hypotheses to score against ground truth")
		return
	}
	top := report.Hypotheses[0]
	in := top.Confidence >= truth.ConfidenceTargetMin && top.Confidence <= truth.ConfidenceTargetMax
	entry := logger.WithFields(logrus.Fields{
		"incident":   report.IncidentID,
		"scenario":   truth.ScenarioID,
		"confidence": top.Confidence,
		"target_min": truth.ConfidenceTargetMin,
		"target_max": truth.ConfidenceTargetMax,
	})
	if in {
		entry.Info("Top hypothesis confidence within ground-truth target")
	} else {
		entry.Warn("Top hypothesis confidence outside ground-truth target")
	}
}
