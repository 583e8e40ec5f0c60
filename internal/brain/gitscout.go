package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/meshrca/meshrca/internal/graph"
	"github.com/meshrca/meshrca/internal/indexer"
	"github.com/meshrca/meshrca/internal/models"
)

// GitScout summarises recent code changes for every suspect service from
// the differential code graph. The summary is built from node properties
// only, never raw diff text, so diff file headers can never leak through.
type GitScout struct {
	store graph.Store
}

// NewGitScout creates the stage. A nil store selects the deployment-driven
// stub.
func NewGitScout(store graph.Store) *GitScout {
	return &GitScout{store: store}
}

func (s *GitScout) Name() string { return StageGitScout }

func (s *GitScout) Run(ctx context.Context, state *models.BrainState) error {
	var lines []string

	if s.store != nil {
		for _, svc := range state.SuspectServices {
			nodes, err := s.store.QueryByProperty(ctx, "service", svc)
			if err != nil {
				state.AddError(fmt.Sprintf("git_scout_error: %v", err))
				continue
			}
			svcLines := changedSymbolLines(nodes)
			if len(svcLines) == 0 {
				continue
			}
			state.AddEvidence("graph:" + svc)
			lines = append(lines, fmt.Sprintf("Recent changes in %s:", svc))
			lines = append(lines, svcLines...)
		}
	}

	if len(lines) == 0 {
		lines = s.stubLines(state)
	}

	state.GitSummary = strings.Join(lines, "\n")
	return nil
}

// changedSymbolLines renders MODIFIED and ADDED symbols as
// "[STATUS] kind name at path" with a single-line delta snippet.
func changedSymbolLines(nodes []graph.Node) []string {
	var lines []string
	for _, node := range nodes {
		status, _ := node.Properties["status"].(string)
		if status != indexer.StatusModified && status != indexer.StatusAdded {
			continue
		}
		kind, _ := node.Properties["symbol_kind"].(string)
		name, _ := node.Properties["name"].(string)
		path, _ := node.Properties["file_path"].(string)

		line := fmt.Sprintf("  [%s] %s %s at %s", status, kind, name, path)
		if snippet := deltaSnippet(node); snippet != "" {
			line += " | " + snippet
		}
		lines = append(lines, line)
	}
	return lines
}

// deltaSnippet picks one representative changed line from the node's
// semantic delta, skipping anything that looks like a diff file header.
func deltaSnippet(node graph.Node) string {
	delta, _ := node.Properties["semantic_delta"].(string)
	for _, line := range strings.Split(delta, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			return line
		}
	}
	return ""
}

func (s *GitScout) stubLines(state *models.BrainState) []string {
	if state.Incident.DeploymentID != "" {
		return []string{fmt.Sprintf(
			"No code graph available. Deployment %s is the most recent change to %s and "+
				"should be treated as the leading change-related lead.",
			state.Incident.DeploymentID, state.Incident.Service)}
	}
	return []string{fmt.Sprintf(
		"No code graph available and no deployment recorded for %s; "+
			"recent code change is an unlikely trigger.",
		state.Incident.Service)}
}

func (s *GitScout) Validate(state *models.BrainState) error {
	if err := requireNonEmpty(StageGitScout, "git_summary", state.GitSummary); err != nil {
		return err
	}
	for _, marker := range []string{"+++ ", "--- "} {
		if strings.Contains(state.GitSummary, marker) {
			return validationError(StageGitScout, "git_summary must not contain unified-diff file headers")
		}
	}
	return nil
}
