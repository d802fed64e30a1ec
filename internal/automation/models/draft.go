// Package models holds the persisted shapes of the automation gateway:
// drafts, tasks and their plans, execution claims, audit records and the
// academy directory rows handlers touch.
package models

import (
	"maps"
	"time"

	id "taskgate/pkg/domain"
	dErrors "taskgate/pkg/domain-errors"
)

// DraftStatus is the lifecycle state of a draft.
type DraftStatus string

const (
	DraftCollecting DraftStatus = "collecting"
	DraftReady      DraftStatus = "ready"
	DraftExecuted   DraftStatus = "executed"
	DraftCancelled  DraftStatus = "cancelled"
)

// IsActive reports whether the draft may still change.
func (s DraftStatus) IsActive() bool {
	return s == DraftCollecting || s == DraftReady
}

// CanTransitionTo encodes the draft state machine:
//
//	collecting -> ready | cancelled
//	ready      -> collecting | executed | cancelled
//
// executed and cancelled are terminal.
func (s DraftStatus) CanTransitionTo(next DraftStatus) bool {
	switch s {
	case DraftCollecting:
		return next == DraftCollecting || next == DraftReady || next == DraftCancelled
	case DraftReady:
		return next == DraftReady || next == DraftCollecting || next == DraftExecuted || next == DraftCancelled
	default:
		return false
	}
}

// Draft is the per-conversation record collecting parameters for one intent.
//
// Invariants:
//   - at most one active draft per (session, tenant, user, intent)
//   - MissingRequired is empty iff Status is ready
//   - Version increases by one on every successful write
type Draft struct {
	ID              id.DraftID     `json:"id"`
	SessionID       id.SessionID   `json:"session_id"`
	TenantID        id.TenantID    `json:"tenant_id"`
	UserID          id.UserID      `json:"user_id"`
	IntentKey       string         `json:"intent_key"`
	Status          DraftStatus    `json:"status"`
	Params          map[string]any `json:"params"`
	MissingRequired []string       `json:"missing_required"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewDraft starts a collecting draft with empty params.
func NewDraft(session id.SessionID, tenant id.TenantID, user id.UserID, intentKey string, now time.Time) (*Draft, error) {
	if tenant.IsNil() || user.IsNil() || session.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "draft requires session, tenant and user")
	}
	if intentKey == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "draft requires an intent key")
	}
	return &Draft{
		ID:              id.NewDraftID(),
		SessionID:       session,
		TenantID:        tenant,
		UserID:          user,
		IntentKey:       intentKey,
		Status:          DraftCollecting,
		Params:          map[string]any{},
		MissingRequired: []string{},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// CanUpdate rejects writes to terminal drafts.
func (d *Draft) CanUpdate() error {
	if !d.Status.IsActive() {
		return dErrors.New(dErrors.CodeInvariantViolation, "draft is "+string(d.Status))
	}
	return nil
}

// ApplyParams replaces params and missing fields, deriving the status from
// what is still missing. Call CanUpdate first.
func (d *Draft) ApplyParams(params map[string]any, missing []string, now time.Time) {
	d.Params = params
	if missing == nil {
		missing = []string{}
	}
	d.MissingRequired = missing
	if len(missing) == 0 {
		d.Status = DraftReady
	} else {
		d.Status = DraftCollecting
	}
	d.UpdatedAt = now
}

// Cancel moves an active draft to cancelled. Cancelling a cancelled draft is a no-op.
func (d *Draft) Cancel(now time.Time) error {
	if d.Status == DraftCancelled {
		return nil
	}
	if !d.Status.CanTransitionTo(DraftCancelled) {
		return dErrors.New(dErrors.CodeInvariantViolation, "draft is "+string(d.Status))
	}
	d.Status = DraftCancelled
	d.UpdatedAt = now
	return nil
}

// MarkExecuted closes a ready draft once its task exists.
func (d *Draft) MarkExecuted(now time.Time) error {
	if !d.Status.CanTransitionTo(DraftExecuted) {
		return dErrors.New(dErrors.CodeInvariantViolation, "only ready drafts can be proposed")
	}
	d.Status = DraftExecuted
	d.UpdatedAt = now
	return nil
}

// Clone returns a copy whose params map can be modified independently.
func (d *Draft) Clone() *Draft {
	c := *d
	c.Params = maps.Clone(d.Params)
	if c.Params == nil {
		c.Params = map[string]any{}
	}
	c.MissingRequired = append([]string{}, d.MissingRequired...)
	return &c
}

// DraftKey identifies the active-draft slot.
type DraftKey struct {
	SessionID id.SessionID
	TenantID  id.TenantID
	UserID    id.UserID
	IntentKey string
}

func (d *Draft) Key() DraftKey {
	return DraftKey{SessionID: d.SessionID, TenantID: d.TenantID, UserID: d.UserID, IntentKey: d.IntentKey}
}
