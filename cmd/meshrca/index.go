package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshrca/meshrca/internal/bundle"
	"github.com/meshrca/meshrca/internal/graph"
	"github.com/meshrca/meshrca/internal/hierarchy"
	"github.com/meshrca/meshrca/internal/indexer"
	"github.com/meshrca/meshrca/internal/logging"
)

var (
	indexSemanticDelta bool
	indexServiceMap    string
	indexUseNeo4j      bool
)

var indexCmd = &cobra.Command{
	Use:   "index [bundle-dir]",
	Short: "Index a diff bundle into the code graph",
	Long: `Parse the changed files of a diff bundle into symbol hierarchies,
project the unified diffs onto them, and upsert status-tagged symbol nodes
with CONTAINS edges into the code graph.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexSemanticDelta, "semantic-delta", true, "store a capped patch extract on modified symbols")
	indexCmd.Flags().StringVar(&indexServiceMap, "service-map", "", "service map YAML (default: the bundle's own service)")
	indexCmd.Flags().BoolVar(&indexUseNeo4j, "neo4j", false, "upsert into Neo4j instead of the in-memory store")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := bundle.LoadDir(args[0])
	if err != nil {
		return err
	}

	services, err := resolveServiceMap(indexServiceMap, b)
	if err != nil {
		return err
	}

	var store graph.Store = graph.NewMemoryStore()
	if indexUseNeo4j {
		neoStore, err := graph.NewNeo4jStore(ctx, settings.Neo4jURI, settings.Neo4jUser, settings.Neo4jPassword, settings.Neo4jDatabase)
		if err != nil {
			return fmt.Errorf("failed to connect graph store: %w", err)
		}
		defer neoStore.Close(ctx)
		store = neoStore
	}

	ix := indexer.New(services, b, store, hierarchy.NewTreeSitterParser(), logging.Default())
	nodes, diags := ix.IndexCommit(ctx, indexer.Request{
		Service:             b.Service,
		CommitSHA:           b.CommitSHA,
		EnableSemanticDelta: indexSemanticDelta,
	})

	for _, d := range diags {
		fmt.Println(d.String())
	}
	fmt.Printf("indexed %d nodes from bundle %s (commit %s)\n", nodes, b.BundleID, b.CommitSHA)

	if indexer.HasErrors(diags) {
		return fmt.Errorf("indexing finished with errors")
	}
	return nil
}

// resolveServiceMap loads the YAML map, or registers just the bundle's own
// service when no map is configured.
func resolveServiceMap(path string, b *bundle.DiffBundle) (indexer.ServiceRepoMap, error) {
	if path == "" {
		path = settings.ServiceMapPath
	}
	if path != "" {
		return indexer.LoadServiceMap(path)
	}

	m := indexer.NewMemoryServiceMap()
	branch := b.Branch
	if branch == "" {
		branch = "main"
	}
	m.Register(b.Service, indexer.RepoEntry{DefaultBranch: branch})
	return m, nil
}
