// Package audit writes gateway audit records. The Chain sink makes each
// tenant's records tamper-evident; Kafka republishes them; FanOut combines
// sinks so one failing sink never blocks the others.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
)

// Sink accepts one audit record.
type Sink interface {
	Append(ctx context.Context, rec models.AuditRecord) error
}

// ChainStore persists records and hands the caller the tenant's chain head
// under the store's serialization.
type ChainStore interface {
	AppendLinked(ctx context.Context, rec *models.AuditRecord, link func(prevHash string) error) error
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]models.AuditRecord, error)
}

// Chain links each record to its predecessor:
// hash = hex(sha256(prev_hash || jcs(record without hash))).
type Chain struct {
	store ChainStore
}

func NewChain(store ChainStore) *Chain {
	return &Chain{store: store}
}

func (c *Chain) Append(ctx context.Context, rec models.AuditRecord) error {
	rec.OccurredAt = normalizeTime(rec.OccurredAt)
	return c.store.AppendLinked(ctx, &rec, func(prevHash string) error {
		rec.PrevHash = prevHash
		h, err := Hash(rec)
		if err != nil {
			return err
		}
		rec.Hash = h
		return nil
	})
}

// Verify re-reads the tenant's chain and checks every link.
func (c *Chain) Verify(ctx context.Context, tenantID id.TenantID) error {
	records, err := c.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list audit records: %w", err)
	}
	return Verify(records)
}

// Hash computes the record's chain hash from its PrevHash and content.
func Hash(rec models.AuditRecord) (string, error) {
	rec.Hash = ""
	rec.OccurredAt = normalizeTime(rec.OccurredAt)
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal audit record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit record: %w", err)
	}
	sum := sha256.New()
	sum.Write([]byte(rec.PrevHash))
	sum.Write(canonical)
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// BrokenLinkError reports the first record whose hash or back-link is wrong.
type BrokenLinkError struct {
	Index    int
	RecordID string
	Reason   string
}

func (e *BrokenLinkError) Error() string {
	return fmt.Sprintf("audit chain broken at record %d (%s): %s", e.Index, e.RecordID, e.Reason)
}

// Verify checks records ordered oldest first.
func Verify(records []models.AuditRecord) error {
	prev := ""
	for i, rec := range records {
		if rec.PrevHash != prev {
			return &BrokenLinkError{Index: i, RecordID: rec.ID.String(), Reason: "prev_hash mismatch"}
		}
		want, err := Hash(rec)
		if err != nil {
			return err
		}
		if rec.Hash != want {
			return &BrokenLinkError{Index: i, RecordID: rec.ID.String(), Reason: "hash mismatch"}
		}
		prev = rec.Hash
	}
	return nil
}

// normalizeTime matches what a timestamptz column returns.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
