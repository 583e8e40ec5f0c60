package brain

import (
	"fmt"
	"sync"

	"github.com/meshrca/meshrca/internal/models"
)

// ReportRepository is a thread-safe in-memory store of final reports, keyed
// by incident ID. It is the only process-wide shared object across parallel
// investigations.
type ReportRepository struct {
	mu      sync.RWMutex
	reports map[string]models.RcaReport
}

// NewReportRepository creates an empty repository.
func NewReportRepository() *ReportRepository {
	return &ReportRepository{reports: make(map[string]models.RcaReport)}
}

// Save stores a report, replacing any previous report for the incident.
func (r *ReportRepository) Save(report models.RcaReport) error {
	if report.IncidentID == "" {
		return fmt.Errorf("report is missing incident_id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report.IncidentID] = report
	return nil
}

// Get fetches a report by incident ID.
func (r *ReportRepository) Get(incidentID string) (models.RcaReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.reports[incidentID]
	return report, ok
}

// List returns all stored reports.
func (r *ReportRepository) List() []models.RcaReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.RcaReport, 0, len(r.reports))
	for _, report := range r.reports {
		out = append(out, report)
	}
	return out
}
