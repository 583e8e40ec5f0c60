package indexer

import (
	"context"
	"fmt"
	"log/slog"
)

// BackfillResult aggregates a historical replay.
type BackfillResult struct {
	CommitsProcessed int
	NodesUpserted    int
	Diagnostics      []Diagnostic
}

// BackfillRunner replays a service's recent history through the indexer.
// Batches run sequentially: upsert order matters for status propagation
// across commits.
type BackfillRunner struct {
	indexer  *DifferentialIndexer
	services ServiceRepoMap
	repo     Repository
	log      *slog.Logger
}

// NewBackfillRunner creates a runner sharing the indexer's ports.
func NewBackfillRunner(ix *DifferentialIndexer, services ServiceRepoMap, repo Repository, log *slog.Logger) *BackfillRunner {
	if log == nil {
		log = slog.Default()
	}
	return &BackfillRunner{indexer: ix, services: services, repo: repo, log: log}
}

// Run replays commits on the policy branch within max_days, newest first,
// in batch_size chunks.
func (b *BackfillRunner) Run(ctx context.Context, service string, policy BackfillPolicy) BackfillResult {
	result := BackfillResult{}

	if err := policy.Validate(); err != nil {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Severity: SeverityError, Stage: StageBackfill, Message: err.Error(),
		})
		return result
	}

	if _, ok := b.services.Resolve(service); !ok {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Severity: SeverityError, Stage: StageBackfill,
			Message: fmt.Sprintf("service %q is not registered", service),
		})
		return result
	}

	commits, err := b.repo.ListCommits(ctx, policy.Branch, policy.MaxDays)
	if err != nil {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Severity: SeverityError, Stage: StageBackfill, Message: err.Error(),
		})
		return result
	}
	if len(commits) == 0 {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Severity: SeverityWarning, Stage: StageBackfill,
			Message: fmt.Sprintf("no commits on %s within %d days", policy.Branch, policy.MaxDays),
		})
		return result
	}

	for start := 0; start < len(commits); start += policy.BatchSize {
		end := min(start+policy.BatchSize, len(commits))
		for _, sha := range commits[start:end] {
			if ctx.Err() != nil {
				result.Diagnostics = append(result.Diagnostics, Diagnostic{
					Severity: SeverityError, Stage: StageBackfill,
					Message: fmt.Sprintf("backfill cancelled: %v", ctx.Err()),
				})
				return result
			}
			nodes, diags := b.indexer.IndexCommit(ctx, Request{Service: service, CommitSHA: sha})
			result.CommitsProcessed++
			result.NodesUpserted += nodes
			result.Diagnostics = append(result.Diagnostics, diags...)
		}
		b.log.Info("backfill batch done",
			"service", service, "batch_end", end, "total", len(commits))
	}
	return result
}

// OnboardService backfills a newly registered service with the default
// policy. Unknown services surface as a caller-facing error instead of a
// diagnostic.
func (b *BackfillRunner) OnboardService(ctx context.Context, service string) (BackfillResult, error) {
	entry, ok := b.services.Resolve(service)
	if !ok {
		return BackfillResult{}, fmt.Errorf("service %q not found in service map", service)
	}

	policy := DefaultBackfillPolicy()
	if entry.DefaultBranch != "" {
		policy.Branch = entry.DefaultBranch
	}
	return b.Run(ctx, service, policy), nil
}
