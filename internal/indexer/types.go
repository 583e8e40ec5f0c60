// Package indexer maintains the differential code graph: per-commit symbol
// nodes with change status projected from unified diffs, CONTAINS edges from
// scope nesting, and tombstones for deleted files.
package indexer

import (
	"context"
	"fmt"
)

// Change status of a symbol node relative to the indexed commit.
const (
	StatusAdded     = "ADDED"
	StatusModified  = "MODIFIED"
	StatusUnchanged = "UNCHANGED"
	StatusDeleted   = "DELETED"
	StatusMoved     = "MOVED"
)

// Diagnostic severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Diagnostic stages.
const (
	StageResolve   = "resolve"
	StageListFiles = "list_files"
	StageDiff      = "diff"
	StageParse     = "parse"
	StageUpsert    = "upsert"
	StageBackfill  = "backfill"
)

// RepoEntry describes where a service's code lives.
type RepoEntry struct {
	RepoURL       string `yaml:"repo_url"`
	Language      string `yaml:"language"`
	DefaultBranch string `yaml:"default_branch"`
}

// Request asks the indexer to process one commit of one service.
type Request struct {
	Service             string
	CommitSHA           string
	FilePaths           []string // empty means all changed files
	EnableSemanticDelta bool
}

// Validate rejects requests the pipeline cannot act on.
func (r Request) Validate() error {
	if r.Service == "" {
		return fmt.Errorf("service must not be empty")
	}
	if len(r.CommitSHA) < 7 {
		return fmt.Errorf("commit_sha must be at least 7 chars, got %q", r.CommitSHA)
	}
	return nil
}

// BackfillPolicy bounds historical replay.
type BackfillPolicy struct {
	MaxDays   int
	BatchSize int
	Branch    string
}

// DefaultBackfillPolicy returns the standard replay bounds.
func DefaultBackfillPolicy() BackfillPolicy {
	return BackfillPolicy{MaxDays: 90, BatchSize: 20, Branch: "main"}
}

// Validate rejects unusable policies.
func (p BackfillPolicy) Validate() error {
	if p.MaxDays <= 0 {
		return fmt.Errorf("max_days must be > 0, got %d", p.MaxDays)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0, got %d", p.BatchSize)
	}
	return nil
}

// Diagnostic is a severity-tagged event surfaced through the pipeline
// instead of an exception.
type Diagnostic struct {
	Severity  string
	Stage     string
	Message   string
	FilePath  string
	CommitSHA string
}

func (d Diagnostic) String() string {
	out := fmt.Sprintf("[%s/%s] %s", d.Severity, d.Stage, d.Message)
	if d.FilePath != "" {
		out += " file=" + d.FilePath
	}
	if d.CommitSHA != "" {
		out += " commit=" + d.CommitSHA
	}
	return out
}

// HasErrors reports whether any diagnostic is error-severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Repository is the source-control port the indexer reads from.
type Repository interface {
	GetFile(ctx context.Context, path, commit string) (string, error)
	GetDiff(ctx context.Context, path, commit string) (string, error)
	ListChangedFiles(ctx context.Context, commit string) ([]string, error)
	// ListCommits returns shas on branch within sinceDays, newest first.
	ListCommits(ctx context.Context, branch string, sinceDays int) ([]string, error)
}
