package gateway

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"

	"taskgate/internal/automation/catalog"
	"taskgate/internal/automation/models"
	"taskgate/pkg/requestcontext"
)

type auditEntry struct {
	task      *models.Task
	requester requestcontext.Principal
	operation string
	status    models.AuditStatus
	errorCode string
	summary   string
	details   map[string]any
	requestID string
	duration  time.Duration
	now       time.Time
}

// auditOutcome records one executed attempt. Details pass through the
// operation's allow-list; an intent without an operation entry is recorded
// as unknown_operation and always as failed.
func (s *Service) auditOutcome(ctx context.Context, task *models.Task, requester requestcontext.Principal, res models.ExecutionResult, elapsed time.Duration, now time.Time) {
	raw := maps.Clone(task.Plan.Params)
	if raw == nil {
		raw = map[string]any{}
	}
	raw["intent_key"] = task.IntentKey
	if task.Plan.EventType != "" {
		raw["event_type"] = task.Plan.EventType
	}
	if res.AffectedCount != nil {
		raw["affected_count"] = *res.AffectedCount
	}

	status := models.AuditStatusFor(res.Status)
	errorCode := res.ErrorCode
	operation := catalog.UnknownOperation
	var details map[string]any
	if op, ok := s.catalogs.Operations.Lookup(task.IntentKey); ok {
		operation = op.OperationType
		details = op.FilterDetails(raw)
	} else {
		status = models.AuditFailed
		if errorCode == "" {
			errorCode = catalog.UnknownOperation
		}
	}

	summary := task.Plan.Summary
	if res.Message != "" {
		summary += ": " + res.Message
	}
	s.writeAudit(ctx, auditEntry{
		task:      task,
		requester: requester,
		operation: operation,
		status:    status,
		errorCode: errorCode,
		summary:   summary,
		details:   details,
		requestID: res.RequestID,
		duration:  elapsed,
		now:       now,
	})
}

// writeAudit never fails the caller. Sink errors are logged.
func (s *Service) writeAudit(ctx context.Context, e auditEntry) {
	taskID := e.task.ID
	rec := models.AuditRecord{
		ID:             uuid.New(),
		TenantID:       e.task.TenantID,
		OccurredAt:     e.now,
		OperationType:  e.operation,
		Status:         e.status,
		Actor:          e.requester.UserID.String(),
		Summary:        e.summary,
		Details:        e.details,
		CorrelationKey: e.requestID,
		TaskID:         &taskID,
		ErrorCode:      e.errorCode,
		DurationMS:     e.duration.Milliseconds(),
	}
	if err := s.audit.Append(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "audit write failed",
			"log_type", "audit",
			"request_id", e.requestID,
			"tenant_id", e.task.TenantID.String(),
			"operation_type", e.operation,
			"error", err,
		)
		return
	}
	s.logger.InfoContext(ctx, "audit recorded",
		"log_type", "audit",
		"request_id", e.requestID,
		"tenant_id", e.task.TenantID.String(),
		"operation_type", e.operation,
		"status", string(e.status),
	)
}
