// Package graph defines the property-graph port used by the indexer and the
// investigator, plus the central property sanitisation every implementation
// applies before persisting.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
)

// Node is a property-graph node keyed by a stable ID. Text carries the
// symbol's patch or source slice; Properties hold everything else.
type Node struct {
	ID         string
	Text       string
	Properties map[string]any
}

// Relation is a directed, labelled edge between two nodes.
type Relation struct {
	SourceID string
	TargetID string
	Label    string
}

// ScoredNode pairs a node with a retrieval score.
type ScoredNode struct {
	Node  Node
	Score float64
}

// Store is the graph-store port. Upserts are idempotent: nodes by ID,
// relations by (source, target, label). Implementations must be safe for
// concurrent callers.
type Store interface {
	UpsertNodes(ctx context.Context, nodes []Node) error
	UpsertRelations(ctx context.Context, relations []Relation) error
	QueryByProperty(ctx context.Context, key string, value any) ([]Node, error)
	Retrieve(ctx context.Context, query string) ([]ScoredNode, error)
}

// SanitizeProperties coerces a property map to primitive-only values:
// nils are dropped, primitives pass through, homogeneous primitive lists
// pass through, nested or mixed containers are JSON-encoded, and anything
// else is stringified.
func SanitizeProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for key, value := range props {
		if value == nil {
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

func sanitizeValue(value any) any {
	if isPrimitive(value) {
		return value
	}
	switch v := value.(type) {
	case []string:
		return v
	case []int:
		return v
	case []int64:
		return v
	case []float64:
		return v
	case []bool:
		return v
	case []any:
		homogeneous := true
		for _, item := range v {
			if !isPrimitive(item) {
				homogeneous = false
				break
			}
		}
		if homogeneous {
			return v
		}
		return jsonEncode(v)
	case map[string]any:
		return jsonEncode(v)
	default:
		return jsonEncode(value)
	}
}

func isPrimitive(value any) bool {
	switch value.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// jsonEncode preserves structure human-readably; the fmt fallback covers
// values json cannot marshal.
func jsonEncode(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
