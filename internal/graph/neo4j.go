package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// queryableProperties whitelists the property keys QueryByProperty accepts.
// Keys are interpolated into Cypher, so only known identifiers may pass.
var queryableProperties = map[string]bool{
	"file_path":  true,
	"service":    true,
	"status":     true,
	"commit_sha": true,
	"name":       true,
	"symbol_kind": true,
}

// Neo4jStore implements Store on a Neo4j database using parameterized
// MERGE queries. Context is passed per request; the driver handles pooling.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects to Neo4j and verifies connectivity.
func NewNeo4jStore(ctx context.Context, uri, username, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
	}

	return &Neo4jStore{driver: driver, database: database}, nil
}

// Close releases the underlying driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// UpsertNodes merges symbol nodes by id using a batched UNWIND.
func (s *Neo4jStore) UpsertNodes(ctx context.Context, nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		rows = append(rows, map[string]any{
			"id":    node.ID,
			"text":  node.Text,
			"props": SanitizeProperties(node.Properties),
		})
	}

	query := `
		UNWIND $rows AS row
		MERGE (n:Symbol {id: row.id})
		SET n += row.props, n.text = row.text
	`
	_, err := neo4j.ExecuteQuery(ctx, s.driver, query,
		map[string]any{"rows": rows},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return fmt.Errorf("failed to upsert nodes: %w", err)
	}
	return nil
}

// UpsertRelations merges CONTAINS (and other labelled) edges. The label is
// validated before interpolation because Cypher cannot parameterize
// relationship types.
func (s *Neo4jStore) UpsertRelations(ctx context.Context, relations []Relation) error {
	byLabel := make(map[string][]map[string]any)
	for _, rel := range relations {
		if !isValidLabel(rel.Label) {
			return fmt.Errorf("invalid relation label %q", rel.Label)
		}
		byLabel[rel.Label] = append(byLabel[rel.Label], map[string]any{
			"source": rel.SourceID,
			"target": rel.TargetID,
		})
	}

	for label, rows := range byLabel {
		query := fmt.Sprintf(`
			UNWIND $rows AS row
			MATCH (a:Symbol {id: row.source})
			MATCH (b:Symbol {id: row.target})
			MERGE (a)-[:%s]->(b)
		`, label)
		_, err := neo4j.ExecuteQuery(ctx, s.driver, query,
			map[string]any{"rows": rows},
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(s.database))
		if err != nil {
			return fmt.Errorf("failed to upsert %s relations: %w", label, err)
		}
	}
	return nil
}

// QueryByProperty returns nodes with an exact property match.
func (s *Neo4jStore) QueryByProperty(ctx context.Context, key string, value any) ([]Node, error) {
	if !queryableProperties[key] {
		return nil, fmt.Errorf("property %q is not queryable", key)
	}

	query := fmt.Sprintf(`
		MATCH (n:Symbol)
		WHERE n.%s = $value
		RETURN n.id AS id, n.text AS text, properties(n) AS props
		ORDER BY n.id
	`, key)
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query,
		map[string]any{"value": value},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return nil, fmt.Errorf("failed to query by property %s: %w", key, err)
	}

	return recordsToNodes(result.Records), nil
}

// Retrieve performs a substring match over node text and name. Score 1.0
// for text hits, 0.5 for name-only hits; no embeddings involved.
func (s *Neo4jStore) Retrieve(ctx context.Context, queryText string) ([]ScoredNode, error) {
	query := `
		MATCH (n:Symbol)
		WHERE toLower(n.text) CONTAINS toLower($q)
		   OR toLower(coalesce(n.name, '')) CONTAINS toLower($q)
		RETURN n.id AS id, n.text AS text, properties(n) AS props,
		       CASE WHEN toLower(n.text) CONTAINS toLower($q) THEN 1.0 ELSE 0.5 END AS score
		ORDER BY score DESC, n.id
	`
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query,
		map[string]any{"q": queryText},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve: %w", err)
	}

	var out []ScoredNode
	for _, record := range result.Records {
		node := recordToNode(record.AsMap())
		score := 0.0
		if v, ok := record.Get("score"); ok {
			if f, ok := v.(float64); ok {
				score = f
			}
		}
		out = append(out, ScoredNode{Node: node, Score: score})
	}
	return out, nil
}

func recordsToNodes(records []*neo4j.Record) []Node {
	var out []Node
	for _, record := range records {
		out = append(out, recordToNode(record.AsMap()))
	}
	return out
}

func recordToNode(row map[string]any) Node {
	node := Node{Properties: map[string]any{}}
	if id, ok := row["id"].(string); ok {
		node.ID = id
	}
	if text, ok := row["text"].(string); ok {
		node.Text = text
	}
	if props, ok := row["props"].(map[string]any); ok {
		for k, v := range props {
			if k == "id" || k == "text" {
				continue
			}
			node.Properties[k] = v
		}
	}
	return node
}

func isValidLabel(label string) bool {
	if label == "" {
		return false
	}
	for _, r := range label {
		if !(r == '_' || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
