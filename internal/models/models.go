// Package models defines the shared data types for incident investigation:
// the approved incident, hypotheses, the investigator state, and the final
// RCA report.
package models

import "time"

// InvestigationStatus is the lifecycle status of an investigation run.
type InvestigationStatus string

const (
	StatusRunning   InvestigationStatus = "running"
	StatusCompleted InvestigationStatus = "completed"
	StatusEscalated InvestigationStatus = "escalated"
	StatusFailed    InvestigationStatus = "failed"
)

// ApprovedIncident is an incident that passed triage and was admitted to the
// RCA pipeline.
type ApprovedIncident struct {
	IncidentID   string            `json:"incident_id"`
	Service      string            `json:"service"`
	StartedAt    time.Time         `json:"started_at"`
	DeploymentID string            `json:"deployment_id,omitempty"`
	ExtraContext map[string]string `json:"extra_context,omitempty"`
}

// Hypothesis is a candidate root cause with a bounded confidence and the
// evidence references that support it.
type Hypothesis struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	Confidence   float64  `json:"confidence"`
	EvidenceRefs []string `json:"evidence_refs"`
}

// BrainState is the shared state the investigator stages read and write.
// One incident maps to exactly one state instance; stages run sequentially
// against it, so the state itself needs no locking.
type BrainState struct {
	Incident      ApprovedIncident
	Iteration     int
	MaxIterations int

	CriticThreshold        float64
	FixConfidenceThreshold float64

	EvidenceRefs []string
	Hypotheses   []Hypothesis

	CriticScore   float64
	FixConfidence float64

	Status InvestigationStatus
	Errors []string

	TaskPlan        string
	MeshSummary     string
	GitSummary      string
	MetricsSummary  string
	CriticReasoning string
	FixSummary      string
	FixReasoning    string

	// SuspectServices carries the incident service at index 0 once
	// populated. SuspectEdges are "caller->upstream" strings.
	SuspectServices []string
	SuspectEdges    []string
}

// NewBrainState initialises a state for an incident with the given loop
// configuration. Iteration starts at 0 and is incremented at supervisor entry.
func NewBrainState(incident ApprovedIncident, maxIterations int, criticThreshold, fixConfidenceThreshold float64) *BrainState {
	return &BrainState{
		Incident:               incident,
		MaxIterations:          maxIterations,
		CriticThreshold:        Clamp(criticThreshold),
		FixConfidenceThreshold: Clamp(fixConfidenceThreshold),
		Status:                 StatusRunning,
	}
}

// AddEvidence appends refs to the evidence sequence, skipping duplicates and
// preserving first-insertion order.
func (s *BrainState) AddEvidence(refs ...string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if !contains(s.EvidenceRefs, ref) {
			s.EvidenceRefs = append(s.EvidenceRefs, ref)
		}
	}
}

// AddError records a stage error without interrupting the run.
func (s *BrainState) AddError(msg string) {
	if msg != "" {
		s.Errors = append(s.Errors, msg)
	}
}

// AddSuspect appends a service to the suspect list if not already present.
func (s *BrainState) AddSuspect(service string) {
	if service != "" && !contains(s.SuspectServices, service) {
		s.SuspectServices = append(s.SuspectServices, service)
	}
}

// AddSuspectEdge records a "caller->upstream" edge if not already present.
func (s *BrainState) AddSuspectEdge(edge string) {
	if edge != "" && !contains(s.SuspectEdges, edge) {
		s.SuspectEdges = append(s.SuspectEdges, edge)
	}
}

// SetCriticScore assigns the critic score, clamped to [0,1].
func (s *BrainState) SetCriticScore(score float64) {
	s.CriticScore = Clamp(score)
}

// SetFixConfidence assigns the fix confidence, clamped to [0,1].
func (s *BrainState) SetFixConfidence(confidence float64) {
	s.FixConfidence = Clamp(confidence)
}

// TopHypothesis returns the highest-confidence hypothesis, or false when the
// list is empty. Ties keep the earlier (higher-ranked) hypothesis.
func (s *BrainState) TopHypothesis() (Hypothesis, bool) {
	if len(s.Hypotheses) == 0 {
		return Hypothesis{}, false
	}
	top := s.Hypotheses[0]
	for _, h := range s.Hypotheses[1:] {
		if h.Confidence > top.Confidence {
			top = h
		}
	}
	return top, true
}

// RcaReport is the immutable final record of an investigation.
type RcaReport struct {
	IncidentID    string              `json:"incident_id"`
	Status        InvestigationStatus `json:"status"`
	CriticScore   float64             `json:"critic_score"`
	FixConfidence float64             `json:"fix_confidence"`
	Hypotheses    []Hypothesis        `json:"hypotheses"`
	Errors        []string            `json:"errors"`
	Metadata      map[string]any      `json:"metadata"`
}

// Clamp bounds a confidence-like value to [0,1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
