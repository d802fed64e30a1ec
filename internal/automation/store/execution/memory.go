// Package execution stores idempotency claims keyed by request id.
//
// Claim is the only enforcement of at-most-once dispatch: a second claim of
// the same request id returns sentinel.ErrAlreadyExists and the caller reads
// the existing record back.
package execution

import (
	"context"
	"sync"
	"time"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/sentinel"
)

type key struct {
	tenant    id.TenantID
	requestID string
}

type InMemory struct {
	mu      sync.Mutex
	records map[key]models.Execution
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[key]models.Execution)}
}

func (s *InMemory) Claim(_ context.Context, e *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{e.TenantID, e.RequestID}
	if _, ok := s.records[k]; ok {
		return sentinel.ErrAlreadyExists
	}
	c := *e
	c.State = models.ExecutionInProgress
	c.Result = nil
	c.CompletedAt = nil
	s.records[k] = c
	return nil
}

func (s *InMemory) Get(_ context.Context, tenantID id.TenantID, requestID string) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[key{tenantID, requestID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if e.Result != nil {
		r := *e.Result
		e.Result = &r
	}
	return &e, nil
}

func (s *InMemory) Complete(_ context.Context, tenantID id.TenantID, requestID string, result models.ExecutionResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{tenantID, requestID}
	e, ok := s.records[k]
	if !ok {
		return sentinel.ErrNotFound
	}
	if e.State == models.ExecutionCompleted {
		return sentinel.ErrInvalidState
	}
	e.State = models.ExecutionCompleted
	e.Result = &result
	e.CompletedAt = &at
	s.records[k] = e
	return nil
}

// Release drops an in-progress claim so the request id can be claimed again.
// Completed records are kept; releasing one is sentinel.ErrInvalidState.
func (s *InMemory) Release(_ context.Context, tenantID id.TenantID, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{tenantID, requestID}
	e, ok := s.records[k]
	if !ok {
		return sentinel.ErrNotFound
	}
	if e.State != models.ExecutionInProgress {
		return sentinel.ErrInvalidState
	}
	delete(s.records, k)
	return nil
}
