// Package draft persists conversation drafts.
package draft

import (
	"context"
	"sync"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/sentinel"
)

// InMemory emulates the Postgres constraints: one active draft per key and a
// version compare-and-swap on update.
type InMemory struct {
	mu     sync.Mutex
	byID   map[id.DraftID]*models.Draft
	active map[models.DraftKey]id.DraftID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[id.DraftID]*models.Draft),
		active: make(map[models.DraftKey]id.DraftID),
	}
}

func (s *InMemory) CreateIfAbsent(_ context.Context, d *models.Draft) (*models.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := d.Key()
	if existingID, ok := s.active[key]; ok {
		return s.byID[existingID].Clone(), nil
	}
	if _, ok := s.byID[d.ID]; ok {
		return nil, sentinel.ErrAlreadyExists
	}
	s.byID[d.ID] = d.Clone()
	if d.Status.IsActive() {
		s.active[key] = d.ID
	}
	return d.Clone(), nil
}

func (s *InMemory) FindActive(_ context.Context, key models.DraftKey) (*models.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draftID, ok := s.active[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.byID[draftID].Clone(), nil
}

func (s *InMemory) FindByID(_ context.Context, tenantID id.TenantID, draftID id.DraftID) (*models.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[draftID]
	if !ok || d.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *InMemory) Update(_ context.Context, d *models.Draft, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[d.ID]
	if !ok || current.TenantID != d.TenantID {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}

	d.Version = expectedVersion + 1
	s.byID[d.ID] = d.Clone()
	key := d.Key()
	if d.Status.IsActive() {
		s.active[key] = d.ID
	} else if s.active[key] == d.ID {
		delete(s.active, key)
	}
	return nil
}
