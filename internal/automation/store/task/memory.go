// Package task persists proposed tasks and their plan snapshots.
package task

import (
	"context"
	"encoding/json"
	"sync"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/sentinel"
)

type InMemory struct {
	mu    sync.RWMutex
	tasks map[id.TaskID]*models.Task
}

func NewInMemory() *InMemory {
	return &InMemory{tasks: make(map[id.TaskID]*models.Task)}
}

func (s *InMemory) Create(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	c, err := clone(t)
	if err != nil {
		return err
	}
	s.tasks[t.ID] = c
	return nil
}

// FindByID is not tenant-scoped; callers compare the tenant so a foreign task
// can be reported as forbidden rather than missing.
func (s *InMemory) FindByID(_ context.Context, taskID id.TaskID) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(t)
}

// Update is a compare-and-swap on Version. A write based on a stale read
// fails with sentinel.ErrConflict and leaves the stored task untouched.
func (s *InMemory) Update(_ context.Context, t *models.Task, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[t.ID]
	if !ok || current.TenantID != t.TenantID {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	next := *t
	next.Version = expectedVersion + 1
	c, err := clone(&next)
	if err != nil {
		return err
	}
	s.tasks[t.ID] = c
	t.Version = next.Version
	return nil
}

// clone deep-copies through JSON, matching what a Postgres round trip returns.
func clone(t *models.Task) (*models.Task, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var out models.Task
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
