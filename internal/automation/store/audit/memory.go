// Package audit persists append-only audit records, chained per tenant.
package audit

import (
	"context"
	"sync"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
)

type InMemory struct {
	mu      sync.Mutex
	records map[id.TenantID][]models.AuditRecord
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[id.TenantID][]models.AuditRecord)}
}

// AppendLinked calls link with the tenant's latest hash and stores rec if link
// succeeds. Appends for one tenant are serialized.
func (s *InMemory) AppendLinked(_ context.Context, rec *models.AuditRecord, link func(prevHash string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.records[rec.TenantID]
	prev := ""
	if len(chain) > 0 {
		prev = chain[len(chain)-1].Hash
	}
	if err := link(prev); err != nil {
		return err
	}
	s.records[rec.TenantID] = append(chain, *rec)
	return nil
}

// ListByTenant returns the tenant's records oldest first.
func (s *InMemory) ListByTenant(_ context.Context, tenantID id.TenantID) ([]models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditRecord(nil), s.records[tenantID]...), nil
}

// ListByCorrelation returns records sharing a correlation key (the request id).
func (s *InMemory) ListByCorrelation(_ context.Context, tenantID id.TenantID, key string) ([]models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditRecord
	for _, r := range s.records[tenantID] {
		if r.CorrelationKey == key {
			out = append(out, r)
		}
	}
	return out, nil
}
