package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/meshrca/meshrca/internal/models"
)

// logTailLines bounds how much of each log file travels as extra context.
const logTailLines = 40

// GroundTruth describes the seeded scenario behind a fixture incident, used
// to score investigation output in replay runs.
type GroundTruth struct {
	BundleID            string  `json:"bundle_id"`
	ScenarioID          string  `json:"scenario_id"`
	RootCause           string  `json:"root_cause"`
	Trigger             string  `json:"trigger"`
	BlastRadius         string  `json:"blast_radius"`
	ExpectedFirstSignal string  `json:"expected_first_signal"`
	ConfidenceTargetMin float64 `json:"confidence_target_min"`
	ConfidenceTargetMax float64 `json:"confidence_target_max"`
	ThresholdDefault    float64 `json:"threshold_default"`
	ThresholdOverride   float64 `json:"threshold_override"`
}

// LoadIncidentDir reads an incident fixture directory: manifest.json with
// the incident fields, optional ground_truth.json, optional
// mesh_events.jsonl, and any *.log files whose tails become extra context.
func LoadIncidentDir(dir string) (models.ApprovedIncident, *GroundTruth, error) {
	var incident models.ApprovedIncident

	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return incident, nil, fmt.Errorf("failed to read incident manifest: %w", err)
	}
	if err := json.Unmarshal(data, &incident); err != nil {
		return incident, nil, fmt.Errorf("failed to parse incident manifest: %w", err)
	}
	if incident.ExtraContext == nil {
		incident.ExtraContext = map[string]string{}
	}

	if events, err := os.ReadFile(filepath.Join(dir, "mesh_events.jsonl")); err == nil {
		incident.ExtraContext["mesh_events"] = string(events)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return incident, nil, fmt.Errorf("failed to list incident dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		key := "logs:" + strings.TrimSuffix(entry.Name(), ".log")
		incident.ExtraContext[key] = tail(string(content), logTailLines)
	}

	var truth *GroundTruth
	if data, err := os.ReadFile(filepath.Join(dir, "ground_truth.json")); err == nil {
		truth = &GroundTruth{}
		if err := json.Unmarshal(data, truth); err != nil {
			return incident, nil, fmt.Errorf("failed to parse ground truth: %w", err)
		}
	}

	return incident, truth, nil
}

func tail(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
