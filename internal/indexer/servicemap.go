package indexer

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ServiceRepoMap resolves a service name to its repository entry.
type ServiceRepoMap interface {
	Resolve(service string) (RepoEntry, bool)
	Register(service string, entry RepoEntry)
}

// MemoryServiceMap is a mutex-guarded in-memory ServiceRepoMap.
type MemoryServiceMap struct {
	mu      sync.RWMutex
	entries map[string]RepoEntry
}

// NewMemoryServiceMap creates an empty map.
func NewMemoryServiceMap() *MemoryServiceMap {
	return &MemoryServiceMap{entries: make(map[string]RepoEntry)}
}

// Resolve looks up a service.
func (m *MemoryServiceMap) Resolve(service string) (RepoEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[service]
	return entry, ok
}

// Register adds or replaces a service entry.
func (m *MemoryServiceMap) Register(service string, entry RepoEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[service] = entry
}

// Services returns the registered service names.
func (m *MemoryServiceMap) Services() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries))
	for name := range m.entries {
		out = append(out, name)
	}
	return out
}

// LoadServiceMap reads a YAML file mapping service names to repo entries:
//
//	checkout-api:
//	  repo_url: https://example.com/checkout.git
//	  language: python
//	  default_branch: main
func LoadServiceMap(path string) (*MemoryServiceMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service map %s: %w", path, err)
	}

	raw := map[string]RepoEntry{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse service map %s: %w", path, err)
	}

	m := NewMemoryServiceMap()
	for service, entry := range raw {
		if entry.DefaultBranch == "" {
			entry.DefaultBranch = "main"
		}
		m.Register(service, entry)
	}
	return m, nil
}
