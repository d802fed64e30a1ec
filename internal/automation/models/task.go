package models

import (
	"time"

	id "taskgate/pkg/domain"
	dErrors "taskgate/pkg/domain-errors"
)

// PlanSchemaVersion tags every plan snapshot.
const PlanSchemaVersion = "chatops.plan.v1"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskExecuted  TaskStatus = "executed"
	TaskCancelled TaskStatus = "cancelled"
	TaskExpired   TaskStatus = "expired"
)

func (s TaskStatus) IsTerminal() bool {
	return s != TaskPending
}

// PlanTargets lists the entities a plan touches.
type PlanTargets struct {
	StudentIDs []string `json:"student_ids,omitempty"`
	ClassIDs   []string `json:"class_ids,omitempty"`
	Count      int      `json:"count"`
}

// PlanSecurity records who asked for the plan.
type PlanSecurity struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// Plan is the immutable snapshot captured at proposal time. Execution reads
// its inputs from here and nowhere else.
type Plan struct {
	SchemaVersion   string         `json:"schema_version"`
	IntentKey       string         `json:"intent_key"`
	Params          map[string]any `json:"params"`
	AutomationLevel string         `json:"automation_level"`
	ExecutionClass  string         `json:"execution_class,omitempty"`
	EventType       string         `json:"event_type,omitempty"`
	Targets         PlanTargets    `json:"targets"`
	Security        PlanSecurity   `json:"security"`
	Samples         []string       `json:"samples"`
	Risks           []string       `json:"risks"`
	Summary         string         `json:"summary"`
}

// Task is a proposed unit of work awaiting approval and execution.
// Version increases by one on every successful write.
type Task struct {
	ID                  id.TaskID        `json:"id"`
	TenantID            id.TenantID      `json:"tenant_id"`
	IntentKey           string           `json:"intent_key"`
	Status              TaskStatus       `json:"status"`
	Plan                Plan             `json:"plan"`
	CreatedBy           id.UserID        `json:"created_by"`
	ApprovalRequestedBy *id.UserID       `json:"approval_requested_by,omitempty"`
	ApprovalRequestedAt *time.Time       `json:"approval_requested_at,omitempty"`
	ApprovedBy          *id.UserID       `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time       `json:"approved_at,omitempty"`
	ExecutedAt          *time.Time       `json:"executed_at,omitempty"`
	LastRequestID       string           `json:"last_request_id,omitempty"`
	LastResult          *ExecutionResult `json:"last_result,omitempty"`
	Version             int64            `json:"version"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// NewTask creates a pending task around plan.
func NewTask(tenant id.TenantID, createdBy id.UserID, plan Plan, now time.Time) (*Task, error) {
	if tenant.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "task requires a tenant")
	}
	if plan.IntentKey == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "task plan requires an intent key")
	}
	return &Task{
		ID:        id.NewTaskID(),
		TenantID:  tenant,
		IntentKey: plan.IntentKey,
		Status:    TaskPending,
		Plan:      plan,
		CreatedBy: createdBy,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanExecute rejects tasks that already left pending.
func (t *Task) CanExecute() error {
	if t.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "task is "+string(t.Status))
	}
	return nil
}

// ApplyApprovalRequest annotates the task; it stays pending.
func (t *Task) ApplyApprovalRequest(by id.UserID, now time.Time) {
	t.ApprovalRequestedBy = &by
	t.ApprovalRequestedAt = &now
	t.UpdatedAt = now
}

// ApplyOutcome records an execution attempt. Success and partial close the
// task; failure leaves it pending so it can be retried.
func (t *Task) ApplyOutcome(approver id.UserID, result ExecutionResult, now time.Time) {
	t.LastRequestID = result.RequestID
	r := result
	t.LastResult = &r
	t.UpdatedAt = now
	if result.Status == ResultFailed {
		return
	}
	t.Status = TaskExecuted
	t.ApprovedBy = &approver
	t.ApprovedAt = &now
	t.ExecutedAt = &now
}
