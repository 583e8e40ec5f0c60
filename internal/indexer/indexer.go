package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meshrca/meshrca/internal/diffproj"
	"github.com/meshrca/meshrca/internal/graph"
	"github.com/meshrca/meshrca/internal/hierarchy"
)

// semanticDeltaMaxLines caps the patch extract stored as semantic_delta.
const semanticDeltaMaxLines = 40

// DifferentialIndexer projects commits onto the code graph.
type DifferentialIndexer struct {
	services ServiceRepoMap
	repo     Repository
	store    graph.Store
	parser   hierarchy.Parser
	log      *slog.Logger
}

// New creates an indexer over the given ports.
func New(services ServiceRepoMap, repo Repository, store graph.Store, parser hierarchy.Parser, log *slog.Logger) *DifferentialIndexer {
	if log == nil {
		log = slog.Default()
	}
	return &DifferentialIndexer{
		services: services,
		repo:     repo,
		store:    store,
		parser:   parser,
		log:      log,
	}
}

// record is one symbol travelling through the per-file pipeline.
type record struct {
	sym       hierarchy.SymbolNode
	name      string
	kind      string
	startLine int
	endLine   int
	status    string
	nodeID    string
	text      string
	delta     string
}

// IndexCommit runs the differential pipeline for every changed file in a
// commit. Failures surface as diagnostics; a broken file never aborts the
// rest of the commit.
func (ix *DifferentialIndexer) IndexCommit(ctx context.Context, req Request) (int, []Diagnostic) {
	var diags []Diagnostic

	if err := req.Validate(); err != nil {
		return 0, append(diags, Diagnostic{
			Severity: SeverityError, Stage: StageResolve,
			Message: err.Error(), CommitSHA: req.CommitSHA,
		})
	}

	entry, ok := ix.services.Resolve(req.Service)
	if !ok {
		return 0, append(diags, Diagnostic{
			Severity: SeverityError, Stage: StageResolve,
			Message: fmt.Sprintf("service %q is not registered", req.Service), CommitSHA: req.CommitSHA,
		})
	}

	files := req.FilePaths
	if len(files) == 0 {
		var err error
		files, err = ix.repo.ListChangedFiles(ctx, req.CommitSHA)
		if err != nil {
			return 0, append(diags, Diagnostic{
				Severity: SeverityError, Stage: StageListFiles,
				Message: err.Error(), CommitSHA: req.CommitSHA,
			})
		}
	}

	total := 0
	for _, path := range files {
		n, fileDiags := ix.indexFile(ctx, req, entry, path)
		total += n
		diags = append(diags, fileDiags...)
	}

	ix.log.Info("indexed commit",
		"service", req.Service, "commit", req.CommitSHA,
		"files", len(files), "nodes", total, "diagnostics", len(diags))
	return total, diags
}

func (ix *DifferentialIndexer) indexFile(ctx context.Context, req Request, entry RepoEntry, path string) (int, []Diagnostic) {
	var diags []Diagnostic
	fail := func(severity, stage string, err error) (int, []Diagnostic) {
		return 0, append(diags, Diagnostic{
			Severity: severity, Stage: stage, Message: err.Error(),
			FilePath: path, CommitSHA: req.CommitSHA,
		})
	}

	diff, err := ix.repo.GetDiff(ctx, path, req.CommitSHA)
	if err != nil {
		return fail(SeverityError, StageDiff, err)
	}

	if diffproj.IsFileDeleted(diff) {
		return ix.retainDeleted(ctx, req, path)
	}
	fileAdded := diffproj.IsFileAdded(diff)

	source, err := ix.repo.GetFile(ctx, path, req.CommitSHA)
	if err != nil {
		return fail(SeverityError, StageParse, err)
	}

	language := entry.Language
	if language == "" {
		language = hierarchy.DetectLanguage(path, []byte(source))
	}

	symbols, err := ix.parser.Parse([]byte(source), language, path)
	if err != nil {
		return fail(SeverityError, StageParse, err)
	}
	if len(symbols) == 0 {
		return fail(SeverityWarning, StageParse, fmt.Errorf("no parseable hierarchy in %s", path))
	}

	records := enrich(symbols, source)

	ranges := diffproj.ParseHunks(diff)
	for _, r := range records {
		switch {
		case fileAdded:
			r.status = StatusAdded
		case diffproj.Overlaps(r.startLine, r.endLine, ranges):
			r.status = StatusModified
		default:
			r.status = StatusUnchanged
		}
	}

	for _, r := range records {
		r.nodeID = NodeID(req.Service, path, r.name, r.startLine)
		if req.EnableSemanticDelta && r.status == StatusModified {
			r.delta = capLines(diffproj.ExtractPatchText(diff, r.startLine, r.endLine), semanticDeltaMaxLines)
		}
	}

	propagateStatus(records)

	for _, r := range records {
		switch r.status {
		case StatusModified:
			r.text = diffproj.ExtractPatchText(diff, r.startLine, r.endLine)
		case StatusAdded:
			r.text = diffproj.SourceSlice(source, r.startLine, r.endLine)
		default:
			r.text = ""
		}
	}

	nodes := make([]graph.Node, 0, len(records))
	for _, r := range records {
		nodes = append(nodes, r.toGraphNode(req.Service, path, req.CommitSHA))
	}
	if err := ix.store.UpsertNodes(ctx, nodes); err != nil {
		return fail(SeverityError, StageUpsert, err)
	}

	// Edge upsert is best-effort: a failure here must not change the
	// returned node count.
	if relations := containsRelations(records); len(relations) > 0 {
		if err := ix.store.UpsertRelations(ctx, relations); err != nil {
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning, Stage: StageUpsert,
				Message: fmt.Sprintf("failed to upsert CONTAINS edges: %v", err),
				FilePath: path, CommitSHA: req.CommitSHA,
			})
		}
	}

	return len(nodes), diags
}

// retainDeleted tombstones every known node of a deleted file, or emits a
// single file-level tombstone when the file was never indexed.
func (ix *DifferentialIndexer) retainDeleted(ctx context.Context, req Request, path string) (int, []Diagnostic) {
	existing, err := ix.store.QueryByProperty(ctx, "file_path", path)
	if err != nil {
		return 0, []Diagnostic{{
			Severity: SeverityError, Stage: StageUpsert,
			Message: err.Error(), FilePath: path, CommitSHA: req.CommitSHA,
		}}
	}

	var nodes []graph.Node
	if len(existing) > 0 {
		for _, node := range existing {
			if node.Properties == nil {
				node.Properties = map[string]any{}
			}
			if priorPath, ok := node.Properties["file_path"].(string); ok {
				node.Properties["prior_path"] = priorPath
			} else {
				node.Properties["prior_path"] = path
			}
			node.Properties["status"] = StatusDeleted
			node.Properties["commit_sha"] = req.CommitSHA
			node.Text = ""
			nodes = append(nodes, node)
		}
	} else {
		nodes = append(nodes, graph.Node{
			ID: NodeID(req.Service, path, path, 0),
			Properties: map[string]any{
				"name":        path,
				"symbol_kind": "file",
				"file_path":   path,
				"prior_path":  path,
				"status":      StatusDeleted,
				"service":     req.Service,
				"commit_sha":  req.CommitSHA,
				"start_line":  0,
				"end_line":    0,
			},
		})
	}

	if err := ix.store.UpsertNodes(ctx, nodes); err != nil {
		return 0, []Diagnostic{{
			Severity: SeverityError, Stage: StageUpsert,
			Message: err.Error(), FilePath: path, CommitSHA: req.CommitSHA,
		}}
	}
	return len(nodes), nil
}

// enrich converts byte spans to 1-based lines and derives display name and
// kind from the innermost scope.
func enrich(symbols []hierarchy.SymbolNode, source string) []*record {
	records := make([]*record, 0, len(symbols))
	for _, sym := range symbols {
		r := &record{sym: sym}
		r.startLine = lineAt(source, sym.StartByte)
		r.endLine = endLineAt(source, sym.EndByte)
		if n := len(sym.InclusiveScopes); n > 0 {
			r.name = sym.InclusiveScopes[n-1].Name
			r.kind = sym.InclusiveScopes[n-1].Type
		} else {
			r.name = "(module)"
			r.kind = "module"
		}
		records = append(records, r)
	}
	return records
}

// propagateStatus upgrades UNCHANGED ancestors of MODIFIED or ADDED nodes to
// MODIFIED, per file, walking every strict prefix of the scope chain.
// ADDED, DELETED and MOVED ancestors are never demoted.
func propagateStatus(records []*record) {
	byChain := make(map[string]*record, len(records))
	for _, r := range records {
		byChain[hierarchy.ScopeChainKey(r.sym.InclusiveScopes)] = r
	}

	for _, r := range records {
		if r.status != StatusModified && r.status != StatusAdded {
			continue
		}
		chain := r.sym.InclusiveScopes
		for prefix := 0; prefix < len(chain); prefix++ {
			ancestor, ok := byChain[hierarchy.ScopeChainKey(chain[:prefix])]
			if ok && ancestor.status == StatusUnchanged {
				ancestor.status = StatusModified
			}
		}
	}
}

// containsRelations derives parent->child CONTAINS edges: the parent's scope
// chain is the child's chain minus its last element, within the same file.
func containsRelations(records []*record) []graph.Relation {
	byChain := make(map[string]*record, len(records))
	for _, r := range records {
		byChain[hierarchy.ScopeChainKey(r.sym.InclusiveScopes)] = r
	}

	var relations []graph.Relation
	for _, r := range records {
		chain := r.sym.InclusiveScopes
		if len(chain) == 0 {
			continue
		}
		parent, ok := byChain[hierarchy.ScopeChainKey(chain[:len(chain)-1])]
		if !ok {
			continue
		}
		relations = append(relations, graph.Relation{
			SourceID: parent.nodeID,
			TargetID: r.nodeID,
			Label:    "CONTAINS",
		})
	}
	return relations
}

func (r *record) toGraphNode(service, path, commitSHA string) graph.Node {
	scopes := make([]any, 0, len(r.sym.InclusiveScopes))
	for _, s := range r.sym.InclusiveScopes {
		scopes = append(scopes, map[string]any{"name": s.Name, "type": s.Type})
	}

	props := map[string]any{
		"name":             r.name,
		"symbol_kind":      r.kind,
		"file_path":        path,
		"start_line":       r.startLine,
		"end_line":         r.endLine,
		"status":           r.status,
		"service":          service,
		"commit_sha":       commitSHA,
		"inclusive_scopes": scopes,
	}
	if r.delta != "" {
		props["semantic_delta"] = r.delta
	}

	return graph.Node{
		ID:         r.nodeID,
		Text:       r.text,
		Properties: graph.SanitizeProperties(props),
	}
}

// lineAt returns the 1-based line containing the byte at offset.
func lineAt(source string, offset uint) int {
	if int(offset) > len(source) {
		offset = uint(len(source))
	}
	return 1 + strings.Count(source[:offset], "\n")
}

// endLineAt returns the 1-based line of the last content byte before the
// exclusive end offset.
func endLineAt(source string, offset uint) int {
	if int(offset) > len(source) {
		offset = uint(len(source))
	}
	line := 1 + strings.Count(source[:offset], "\n")
	if offset > 0 && source[offset-1] == '\n' {
		line--
	}
	return line
}

func capLines(text string, max int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= max {
		return text
	}
	return strings.Join(lines[:max], "\n")
}
