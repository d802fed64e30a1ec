package models

import (
	"time"

	id "taskgate/pkg/domain"
)

// Action is an execution request kind.
type Action string

const (
	ActionRequestApproval   Action = "request-approval"
	ActionApproveAndExecute Action = "approve-and-execute"
)

func (a Action) Valid() bool {
	return a == ActionRequestApproval || a == ActionApproveAndExecute
}

// ExecutionState is the idempotency claim state.
type ExecutionState string

const (
	ExecutionInProgress ExecutionState = "in_progress"
	ExecutionCompleted  ExecutionState = "completed"
)

// ResultStatus is the outcome of one execution attempt.
type ResultStatus string

const (
	ResultRequested ResultStatus = "requested"
	ResultSuccess   ResultStatus = "success"
	ResultPartial   ResultStatus = "partial"
	ResultFailed    ResultStatus = "failed"
)

// Result error codes reported inside ExecutionResult.
const (
	ErrorCodeExecution            = "execution_error"
	ErrorCodeHandlerNotRegistered = "HANDLER_NOT_REGISTERED"
	ErrorCodePartialSuccess       = "PARTIAL_SUCCESS"
	ErrorCodeTargetNotFound       = "TARGET_NOT_FOUND"
	ErrorCodeInvalidParams        = "INVALID_PARAMS"
)

// ExecutionResult is returned to callers and stored on the completed claim.
type ExecutionResult struct {
	RequestID     string       `json:"request_id"`
	TaskID        id.TaskID    `json:"task_id"`
	Action        Action       `json:"action"`
	Status        ResultStatus `json:"status"`
	ErrorCode     string       `json:"error_code,omitempty"`
	Message       string       `json:"message,omitempty"`
	AffectedCount *int         `json:"affected_count,omitempty"`
	Replayed      bool         `json:"replayed"`
}

// Execution is the idempotency record keyed by request id.
type Execution struct {
	RequestID   string           `json:"request_id"`
	TenantID    id.TenantID      `json:"tenant_id"`
	TaskID      id.TaskID        `json:"task_id"`
	Action      Action           `json:"action"`
	ActorID     id.UserID        `json:"actor_id"`
	ActorRole   string           `json:"actor_role"`
	State       ExecutionState   `json:"state"`
	Result      *ExecutionResult `json:"result,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}
