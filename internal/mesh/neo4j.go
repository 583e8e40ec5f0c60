package mesh

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jTopology reads the mesh graph (Service nodes, DEPENDS_ON and
// OBSERVED_CALL edges) populated out-of-band by mesh ingestion.
type Neo4jTopology struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jTopology connects to the mesh graph store.
func NewNeo4jTopology(ctx context.Context, uri, username, password, database string) (*Neo4jTopology, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
	}
	return &Neo4jTopology{driver: driver, database: database}, nil
}

// Close releases the underlying driver.
func (t *Neo4jTopology) Close(ctx context.Context) error {
	return t.driver.Close(ctx)
}

// UpstreamDependencies returns services reachable via DEPENDS_ON up to
// maxDepth, joined with telemetry observed on direct calls from the incident
// service. Variable-length bounds cannot be parameterized in Cypher, so
// maxDepth is clamped and interpolated.
func (t *Neo4jTopology) UpstreamDependencies(ctx context.Context, service string, maxDepth int) ([]Dependency, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if maxDepth > 4 {
		maxDepth = 4
	}

	query := fmt.Sprintf(`
		MATCH path = (s:Service {name: $service})-[:DEPENDS_ON*1..%d]->(u:Service)
		OPTIONAL MATCH (s)-[c:OBSERVED_CALL]->(u)
		RETURN DISTINCT u.name AS service,
		       length(path) AS depth,
		       c.call_count AS call_count,
		       c.error_count AS error_count,
		       c.avg_latency_ms AS avg_latency_ms,
		       c.p99_latency_ms AS p99_latency_ms
		ORDER BY depth, service
	`, maxDepth)

	result, err := neo4j.ExecuteQuery(ctx, t.driver, query,
		map[string]any{"service": service},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(t.database))
	if err != nil {
		return nil, fmt.Errorf("failed to query upstream dependencies: %w", err)
	}

	var out []Dependency
	for _, record := range result.Records {
		row := record.AsMap()
		dep := Dependency{}
		if name, ok := row["service"].(string); ok {
			dep.Service = name
		}
		if depth, ok := row["depth"].(int64); ok {
			dep.Depth = int(depth)
		}
		if calls, ok := row["call_count"].(int64); ok && calls > 0 {
			dep.Observed = true
			dep.Stats.CallCount = calls
			if errs, ok := row["error_count"].(int64); ok {
				dep.Stats.ErrorCount = errs
			}
			if avg, ok := row["avg_latency_ms"].(float64); ok {
				dep.Stats.AvgLatencyMs = avg
			}
			if p99, ok := row["p99_latency_ms"].(float64); ok {
				dep.Stats.P99LatencyMs = p99
			}
		}
		out = append(out, dep)
	}
	return out, nil
}
