package models

import (
	"time"

	"github.com/google/uuid"

	id "taskgate/pkg/domain"
)

// AuditStatus is the recorded outcome of an audited attempt.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailed  AuditStatus = "failed"
	AuditPartial AuditStatus = "partial"
)

// AuditRecord is one append-only entry. PrevHash and Hash chain records per
// tenant; both are set by the chaining sink, not by callers.
type AuditRecord struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       id.TenantID    `json:"tenant_id"`
	OccurredAt     time.Time      `json:"occurred_at"`
	OperationType  string         `json:"operation_type"`
	Status         AuditStatus    `json:"status"`
	Actor          string         `json:"actor"`
	Summary        string         `json:"summary"`
	Details        map[string]any `json:"details,omitempty"`
	CorrelationKey string         `json:"correlation_key"`
	TaskID         *id.TaskID     `json:"task_id,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	DurationMS     int64          `json:"duration_ms"`
	PrevHash       string         `json:"prev_hash"`
	Hash           string         `json:"hash,omitempty"`
}

// AuditStatusFor maps a result status onto an audit status.
func AuditStatusFor(s ResultStatus) AuditStatus {
	switch s {
	case ResultSuccess, ResultRequested:
		return AuditSuccess
	case ResultPartial:
		return AuditPartial
	default:
		return AuditFailed
	}
}
