package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrca/meshrca/internal/graph"
	"github.com/meshrca/meshrca/internal/hierarchy"
)

// fakeRepo serves files and diffs from maps.
type fakeRepo struct {
	files   map[string]string
	diffs   map[string]string
	changed []string
	commits []string

	diffErrs map[string]error
	listErr  error
}

func (f *fakeRepo) GetFile(ctx context.Context, path, commit string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", fmt.Errorf("no such file %s", path)
	}
	return content, nil
}

func (f *fakeRepo) GetDiff(ctx context.Context, path, commit string) (string, error) {
	if err := f.diffErrs[path]; err != nil {
		return "", err
	}
	diff, ok := f.diffs[path]
	if !ok {
		return "", fmt.Errorf("no diff for %s", path)
	}
	return diff, nil
}

func (f *fakeRepo) ListChangedFiles(ctx context.Context, commit string) ([]string, error) {
	return f.changed, f.listErr
}

func (f *fakeRepo) ListCommits(ctx context.Context, branch string, sinceDays int) ([]string, error) {
	return f.commits, nil
}

// stubParser returns preset symbol nodes per path.
type stubParser struct {
	nodes map[string][]hierarchy.SymbolNode
}

func (p stubParser) Parse(code []byte, language, path string) ([]hierarchy.SymbolNode, error) {
	return p.nodes[path], nil
}

func lineStart(source string, line int) uint {
	lines := strings.Split(source, "\n")
	offset := 0
	for i := 0; i < line-1 && i < len(lines); i++ {
		offset += len(lines[i]) + 1
	}
	return uint(offset)
}

func lineEnd(source string, line int) uint {
	lines := strings.Split(source, "\n")
	return lineStart(source, line) + uint(len(lines[line-1]))
}

func numberedSource(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func registeredServices() ServiceRepoMap {
	m := NewMemoryServiceMap()
	m.Register("checkout-api", RepoEntry{RepoURL: "https://example.com/checkout.git", Language: "python", DefaultBranch: "main"})
	return m
}

func TestNodeID_DeterministicAndTruncated(t *testing.T) {
	a := NodeID("checkout-api", "src/app.py", "charge", 17)
	b := NodeID("checkout-api", "src/app.py", "charge", 17)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	assert.NotEqual(t, a, NodeID("checkout-api", "src/app.py", "charge", 18))
	assert.NotEqual(t, a, NodeID("payment-api", "src/app.py", "charge", 17))
}

func paymentClientFixture() (source string, symbols []hierarchy.SymbolNode) {
	source = numberedSource(33)
	classScope := hierarchy.Scope{Name: "PaymentClient", Type: "class"}
	symbols = []hierarchy.SymbolNode{
		{StartByte: 0, EndByte: uint(len(source))},
		{StartByte: lineStart(source, 12), EndByte: lineEnd(source, 32),
			InclusiveScopes: []hierarchy.Scope{classScope}},
		{StartByte: lineStart(source, 17), EndByte: lineEnd(source, 25),
			InclusiveScopes: []hierarchy.Scope{classScope, {Name: "charge", Type: "function"}}},
		{StartByte: lineStart(source, 27), EndByte: lineEnd(source, 31),
			InclusiveScopes: []hierarchy.Scope{classScope, {Name: "refund", Type: "function"}}},
	}
	return source, symbols
}

func newTestIndexer(repo *fakeRepo, parser hierarchy.Parser, store graph.Store) *DifferentialIndexer {
	return New(registeredServices(), repo, store, parser, slog.Default())
}

func TestIndexCommit_StatusPropagation(t *testing.T) {
	source, symbols := paymentClientFixture()
	diff := "--- a/client.py\n+++ b/client.py\n@@ -18,2 +18,2 @@\n-line 18\n+line 18 changed\n line 19\n"

	repo := &fakeRepo{
		files:   map[string]string{"client.py": source},
		diffs:   map[string]string{"client.py": diff},
		changed: []string{"client.py"},
	}
	store := graph.NewMemoryStore()
	ix := newTestIndexer(repo, stubParser{nodes: map[string][]hierarchy.SymbolNode{"client.py": symbols}}, store)

	n, diags := ix.IndexCommit(context.Background(), Request{Service: "checkout-api", CommitSHA: "abc1234"})
	require.Empty(t, diags)
	assert.Equal(t, 4, n)

	statusOf := func(name string, startLine int) string {
		node, ok := store.GetNode(NodeID("checkout-api", "client.py", name, startLine))
		require.True(t, ok, "node %s@%d", name, startLine)
		return node.Properties["status"].(string)
	}

	assert.Equal(t, StatusModified, statusOf("charge", 17))
	assert.Equal(t, StatusModified, statusOf("PaymentClient", 12))
	assert.Equal(t, StatusModified, statusOf("(module)", 1))
	assert.Equal(t, StatusUnchanged, statusOf("refund", 27))
}

func TestIndexCommit_Idempotent(t *testing.T) {
	source, symbols := paymentClientFixture()
	diff := "--- a/client.py\n+++ b/client.py\n@@ -18,2 +18,2 @@\n-line 18\n+line 18 changed\n line 19\n"

	repo := &fakeRepo{
		files:   map[string]string{"client.py": source},
		diffs:   map[string]string{"client.py": diff},
		changed: []string{"client.py"},
	}
	store := graph.NewMemoryStore()
	ix := newTestIndexer(repo, stubParser{nodes: map[string][]hierarchy.SymbolNode{"client.py": symbols}}, store)

	req := Request{Service: "checkout-api", CommitSHA: "abc1234"}
	n1, _ := ix.IndexCommit(context.Background(), req)
	count1 := store.NodeCount()
	n2, _ := ix.IndexCommit(context.Background(), req)

	assert.Equal(t, n1, n2)
	assert.Equal(t, count1, store.NodeCount(), "re-index leaves node count unchanged")
}

func TestIndexCommit_EmptyDiffAllUnchanged(t *testing.T) {
	source, symbols := paymentClientFixture()
	repo := &fakeRepo{
		files:   map[string]string{"client.py": source},
		diffs:   map[string]string{"client.py": ""},
		changed: []string{"client.py"},
	}
	store := graph.NewMemoryStore()
	ix := newTestIndexer(repo, stubParser{nodes: map[string][]hierarchy.SymbolNode{"client.py": symbols}}, store)

	n, diags := ix.IndexCommit(context.Background(), Request{Service: "checkout-api", CommitSHA: "abc1234"})
	require.Empty(t, diags)
	assert.Equal(t, 4, n)

	for _, name := range []string{"(module)", "PaymentClient", "charge", "refund"} {
		nodes, err := store.QueryByProperty(context.Background(), "name", name)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, StatusUnchanged, nodes[0].Properties["status"])
		assert.Empty(t, nodes[0].Text)
	}
}

func TestIndexCommit_TextAssignment(t *testing.T) {
	// A module-level constant changes at line 5; the class at lines 8-12
	// does not overlap the hunk and must end with empty text.
	source := strings.Join([]string{
		"import os", "", "", "", "TIMEOUT = 30", "", "",
		"class Settings:", "    def load(self):", "        pass", "", "# end",
	}, "\n")
	diff := "--- a/settings.py\n+++ b/settings.py\n@@ -5 +5 @@\n-TIMEOUT = 30\n+TIMEOUT = 5\n"

	symbols := []hierarchy.SymbolNode{
		{StartByte: 0, EndByte: uint(len(source))},
		{StartByte: lineStart(source, 8), EndByte: lineEnd(source, 12),
			InclusiveScopes: []hierarchy.Scope{{Name: "Settings", Type: "class"}}},
	}
	repo := &fakeRepo{
		files:   map[string]string{"settings.py": source},
		diffs:   map[string]string{"settings.py": diff},
		changed: []string{"settings.py"},
	}
	store := graph.NewMemoryStore()
	ix := newTestIndexer(repo, stubParser{nodes: map[string][]hierarchy.SymbolNode{"settings.py": symbols}}, store)

	_, diags := ix.IndexCommit(context.Background(), Request{Service: "checkout-api", CommitSHA: "abc1234"})
	require.Empty(t, diags)

	moduleNode, ok := store.GetNode(NodeID("checkout-api", "settings.py", "(module)", 1))
	require.True(t, ok)
	assert.Equal(t, StatusModified, moduleNode.Properties["status"])
	assert.Contains(t, moduleNode.Text, "-TIMEOUT = 30")
	assert.Contains(t, moduleNode.Text, "+TIMEOUT = 5")

	classNode, ok := store.GetNode(NodeID("checkout-api", "settings.py", "Settings", 8))
	require.True(t, ok)
	assert.Equal(t, StatusUnchanged, classNode.Properties["status"])
	assert.Empty(t, classNode.Text)
}

func TestIndexCommit_AddedFile(t *testing.T) {
	source := "def fresh():\n    return 1\n"
	diff := "--- /dev/null\n+++ b/fresh.py\n@@ -0,0 +1,2 @@\n+def fresh():\n+    return 1\n"

	symbols := []hierarchy.SymbolNode{
		{StartByte: 0, EndByte: uint(len(source))},
		{StartByte: 0, EndByte: uint(len(source)) - 1,
			InclusiveScopes: []hierarchy.Scope{{Name: "fresh", Type: "function"}}},
	}
	repo := &fakeRepo{
		files:   map[string]string{"fresh.py": source},
		diffs:   map[string]string{"fresh.py": diff},
		changed: []string{"fresh.py"},
	}
	store := graph.NewMemoryStore()
	ix := newTestIndexer(repo, stubParser{nodes: map[string][]hierarchy.SymbolNode{"fresh.py": symbols}}, store)

	n, diags := ix.IndexCommit(context.Background(), Request{Service: "checkout-api", CommitSHA: "abc1234"})
	require.Empty(t, diags)
	assert.Equal(t, 2, n)

	node, ok := store.GetNode(NodeID("checkout-api", "fresh.py", "fresh", 1))
	require.True(t, ok)
	assert.Equal(t, StatusAdded, node.Properties["status"])
	assert.Contains(t, node.Text, "def fresh():", "ADDED nodes carry the source slice")
}

func TestIndexCommit_DeletionRetention(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()

	// Two symbol nodes exist for the file from an earlier commit.
	require.NoError(t, store.UpsertNodes(ctx, []graph.Node{
		{ID: "old-1", Text: "-a\n+b", Properties: map[string]any{
			"file_path": "src/LegacyAuth.cs", "name": "Login", "status": StatusModified, "commit_sha": "prev111"}},
		{ID: "old-2", Text: "code", Properties: map[string]any{
			"file_path": "src/LegacyAuth.cs", "name": "Logout", "status": StatusUnchanged, "commit_sha": "prev111"}},
	}))

	repo := &fakeRepo{
		diffs:   map[string]string{"src/LegacyAuth.cs": "--- a/src/LegacyAuth.cs\n+++ /dev/null\n@@ -1,2 +0,0 @@\n-x\n-y\n"},
		changed: []string{"src/LegacyAuth.cs"},
	}
	ix := newTestIndexer(repo, stubParser{}, store)

	n, diags := ix.IndexCommit(ctx, Request{Service: "checkout-api", CommitSHA: "def5678"})
	require.Empty(t, diags)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, store.NodeCount(), "node count unchanged after deletion")

	for _, id := range []string{"old-1", "old-2"} {
		node, ok := store.GetNode(id)
		require.True(t, ok)
		assert.Equal(t, StatusDeleted, node.Properties["status"])
		assert.Empty(t, node.Text)
		assert.Equal(t, "src/LegacyAuth.cs", node.Properties["prior_path"])
		assert.Equal(t, "def5678", node.Properties["commit_sha"])
	}
}

func TestIndexCommit_DeletionTombstoneForUnknownFile(t *testing.T) {
	store := graph.NewMemoryStore()
	repo := &fakeRepo{
		diffs:   map[string]string{"gone.py": "--- a/gone.py\n+++ /dev/null\n@@ -1 +0,0 @@\n-x\n"},
		changed: []string{"gone.py"},
	}
	ix := newTestIndexer(repo, stubParser{}, store)

	n, diags := ix.IndexCommit(context.Background(), Request{Service: "checkout-api", CommitSHA: "abc1234"})
	require.Empty(t, diags)
	assert.Equal(t, 1, n)

	node, ok := store.GetNode(NodeID("checkout-api", "gone.py", "gone.py", 0))
	require.True(t, ok)
	assert.Equal(t, "file", node.Properties["symbol_kind"])
	assert.Equal(t, StatusDeleted, node.Properties["status"])
	assert.Equal(t, "gone.py", node.Properties["name"])
}

func TestIndexCommit_UnregisteredService(t *testing.T) {
	ix := newTestIndexer(&fakeRepo{}, stubParser{}, graph.NewMemoryStore())

	n, diags := ix.IndexCommit(context.Background(), Request{Service: "nope-api", CommitSHA: "abc1234"})
	assert.Zero(t, n)
	require.Len(t, diags, 1)
	assert.Equal(t, SeverityError, diags[0].Severity)
	assert.Equal(t, StageResolve, diags[0].Stage)
}

func TestIndexCommit_UnparseableFileWarns(t *testing.T) {
	repo := &fakeRepo{
		files:   map[string]string{"binary.dat": "\x00\x01"},
		diffs:   map[string]string{"binary.dat": "--- a/binary.dat\n+++ b/binary.dat\n@@ -1 +1 @@\n-x\n+y\n"},
		changed: []string{"binary.dat"},
	}
	ix := newTestIndexer(repo, stubParser{}, graph.NewMemoryStore())

	n, diags := ix.IndexCommit(context.Background(), Request{Service: "checkout-api", CommitSHA: "abc1234"})
	assert.Zero(t, n)
	require.Len(t, diags, 1)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
	assert.Equal(t, StageParse, diags[0].Stage)
}

func TestIndexCommit_DiffErrorSkipsFileOnly(t *testing.T) {
	source, symbols := paymentClientFixture()
	repo := &fakeRepo{
		files:    map[string]string{"client.py": source},
		diffs:    map[string]string{"client.py": ""},
		changed:  []string{"broken.py", "client.py"},
		diffErrs: map[string]error{"broken.py": fmt.Errorf("diff backend down")},
	}
	store := graph.NewMemoryStore()
	ix := newTestIndexer(repo, stubParser{nodes: map[string][]hierarchy.SymbolNode{"client.py": symbols}}, store)

	n, diags := ix.IndexCommit(context.Background(), Request{Service: "checkout-api", CommitSHA: "abc1234"})
	assert.Equal(t, 4, n, "remaining files still index")
	require.Len(t, diags, 1)
	assert.Equal(t, StageDiff, diags[0].Stage)
	assert.Equal(t, "broken.py", diags[0].FilePath)
}

func TestIndexCommit_SemanticDelta(t *testing.T) {
	source, symbols := paymentClientFixture()
	diff := "--- a/client.py\n+++ b/client.py\n@@ -18,2 +18,2 @@\n-line 18\n+line 18 changed\n line 19\n"
	repo := &fakeRepo{
		files:   map[string]string{"client.py": source},
		diffs:   map[string]string{"client.py": diff},
		changed: []string{"client.py"},
	}
	store := graph.NewMemoryStore()
	ix := newTestIndexer(repo, stubParser{nodes: map[string][]hierarchy.SymbolNode{"client.py": symbols}}, store)

	_, diags := ix.IndexCommit(context.Background(), Request{
		Service: "checkout-api", CommitSHA: "abc1234", EnableSemanticDelta: true})
	require.Empty(t, diags)

	node, ok := store.GetNode(NodeID("checkout-api", "client.py", "charge", 17))
	require.True(t, ok)
	assert.Contains(t, node.Properties["semantic_delta"], "-line 18")
}

func TestIndexCommit_ContainsEdges(t *testing.T) {
	source, symbols := paymentClientFixture()
	repo := &fakeRepo{
		files:   map[string]string{"client.py": source},
		diffs:   map[string]string{"client.py": ""},
		changed: []string{"client.py"},
	}
	store := graph.NewMemoryStore()
	ix := newTestIndexer(repo, stubParser{nodes: map[string][]hierarchy.SymbolNode{"client.py": symbols}}, store)

	_, diags := ix.IndexCommit(context.Background(), Request{Service: "checkout-api", CommitSHA: "abc1234"})
	require.Empty(t, diags)
	// module->class, class->charge, class->refund
	assert.Equal(t, 3, store.RelationCount())
}

func TestPropagateStatus_Rules(t *testing.T) {
	classScope := hierarchy.Scope{Name: "C", Type: "class"}
	mk := func(status string, scopes ...hierarchy.Scope) *record {
		return &record{status: status, sym: hierarchy.SymbolNode{InclusiveScopes: scopes}}
	}
	module := mk(StatusUnchanged)
	class := mk(StatusUnchanged, classScope)
	leaf := mk(StatusModified, classScope, hierarchy.Scope{Name: "m", Type: "function"})
	sibling := mk(StatusUnchanged, classScope, hierarchy.Scope{Name: "n", Type: "function"})
	addedClass := mk(StatusAdded, hierarchy.Scope{Name: "D", Type: "class"})
	addedLeaf := mk(StatusModified, hierarchy.Scope{Name: "D", Type: "class"}, hierarchy.Scope{Name: "x", Type: "function"})

	propagateStatus([]*record{module, class, leaf, sibling, addedClass, addedLeaf})

	assert.Equal(t, StatusModified, module.status)
	assert.Equal(t, StatusModified, class.status)
	assert.Equal(t, StatusUnchanged, sibling.status, "siblings never influence each other")
	assert.Equal(t, StatusAdded, addedClass.status, "ADDED ancestors are never demoted")
}

func TestSanitisedScopesAreEncoded(t *testing.T) {
	source, symbols := paymentClientFixture()
	repo := &fakeRepo{
		files:   map[string]string{"client.py": source},
		diffs:   map[string]string{"client.py": ""},
		changed: []string{"client.py"},
	}
	store := graph.NewMemoryStore()
	ix := newTestIndexer(repo, stubParser{nodes: map[string][]hierarchy.SymbolNode{"client.py": symbols}}, store)

	_, _ = ix.IndexCommit(context.Background(), Request{Service: "checkout-api", CommitSHA: "abc1234"})

	node, ok := store.GetNode(NodeID("checkout-api", "client.py", "charge", 17))
	require.True(t, ok)
	scopes, isString := node.Properties["inclusive_scopes"].(string)
	require.True(t, isString, "nested scope chain is JSON-encoded")
	assert.Contains(t, scopes, "PaymentClient")
}
