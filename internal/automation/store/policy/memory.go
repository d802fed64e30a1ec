// Package policy reads tenant settings documents by dotted path.
package policy

import (
	"context"
	"strings"
	"sync"

	id "taskgate/pkg/domain"
)

type InMemory struct {
	mu       sync.RWMutex
	settings map[id.TenantID]map[string]any
}

func NewInMemory() *InMemory {
	return &InMemory{settings: make(map[id.TenantID]map[string]any)}
}

// Set writes value at path, creating intermediate objects.
func (s *InMemory) Set(tenantID id.TenantID, path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.settings[tenantID]
	if !ok {
		doc = map[string]any{}
		s.settings[tenantID] = doc
	}
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func (s *InMemory) Get(_ context.Context, tenantID id.TenantID, path string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.settings[tenantID]
	if !ok {
		return nil, false, nil
	}
	v, ok := lookup(doc, path)
	return v, ok, nil
}

func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
