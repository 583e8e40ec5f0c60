package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store for tests and stub runs.
type MemoryStore struct {
	mu        sync.RWMutex
	nodes     map[string]Node
	relations map[string]Relation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:     make(map[string]Node),
		relations: make(map[string]Relation),
	}
}

// UpsertNodes stores nodes by ID, overwriting properties on re-upsert.
func (m *MemoryStore) UpsertNodes(ctx context.Context, nodes []Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, node := range nodes {
		node.Properties = SanitizeProperties(node.Properties)
		m.nodes[node.ID] = node
	}
	return nil
}

// UpsertRelations stores relations keyed by (source, target, label).
func (m *MemoryStore) UpsertRelations(ctx context.Context, relations []Relation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rel := range relations {
		key := rel.SourceID + "\x00" + rel.TargetID + "\x00" + rel.Label
		m.relations[key] = rel
	}
	return nil
}

// QueryByProperty returns nodes whose property matches value exactly.
func (m *MemoryStore) QueryByProperty(ctx context.Context, key string, value any) ([]Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Node
	for _, node := range m.nodes {
		if node.Properties[key] == value {
			out = append(out, node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Retrieve ranks nodes by trivial substring matching over text and name.
func (m *MemoryStore) Retrieve(ctx context.Context, query string) ([]ScoredNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(query)
	var out []ScoredNode
	for _, node := range m.nodes {
		score := 0.0
		if q != "" {
			if strings.Contains(strings.ToLower(node.Text), q) {
				score += 1.0
			}
			if name, ok := node.Properties["name"].(string); ok && strings.Contains(strings.ToLower(name), q) {
				score += 0.5
			}
		}
		if score > 0 {
			out = append(out, ScoredNode{Node: node, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	return out, nil
}

// NodeCount reports the number of stored nodes.
func (m *MemoryStore) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// RelationCount reports the number of stored relations.
func (m *MemoryStore) RelationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relations)
}

// GetNode fetches a node by ID.
func (m *MemoryStore) GetNode(id string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[id]
	return node, ok
}
