// Package gateway is the single path through which a proposed task gets
// approved and executed. Every attempt is re-authorized against the role,
// the catalogs and tenant policy, deduplicated by request id and audited.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taskgate/internal/automation/catalog"
	"taskgate/internal/automation/handlers"
	"taskgate/internal/automation/metrics"
	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	dErrors "taskgate/pkg/domain-errors"
	"taskgate/pkg/platform/sentinel"
	"taskgate/pkg/requestcontext"
)

// DefaultBucket is the idempotency window for approve-and-execute.
const DefaultBucket = 5 * time.Minute

// OperationApprovalRequest is the audit operation for request-approval.
const OperationApprovalRequest = "approval_request"

// outcomeAttempts bounds how often a task outcome is reapplied after losing
// a version race.
const outcomeAttempts = 3

// TaskStore.Update is a compare-and-swap on Task.Version and fails with
// sentinel.ErrConflict when the task changed since it was read.
type TaskStore interface {
	FindByID(ctx context.Context, taskID id.TaskID) (*models.Task, error)
	Update(ctx context.Context, t *models.Task, expectedVersion int64) error
}

// ExecutionStore holds idempotency claims. Claim must fail with
// sentinel.ErrAlreadyExists when the request id is taken. Release frees a
// claim that never completed.
type ExecutionStore interface {
	Claim(ctx context.Context, e *models.Execution) error
	Get(ctx context.Context, tenantID id.TenantID, requestID string) (*models.Execution, error)
	Complete(ctx context.Context, tenantID id.TenantID, requestID string, result models.ExecutionResult, at time.Time) error
	Release(ctx context.Context, tenantID id.TenantID, requestID string) error
}

type PolicyStore interface {
	Get(ctx context.Context, tenantID id.TenantID, path string) (any, bool, error)
}

type AuditSink interface {
	Append(ctx context.Context, rec models.AuditRecord) error
}

type HandlerRegistry interface {
	Get(intentKey string) (handlers.Handler, bool)
}

// Deps are the collaborators every gateway needs.
type Deps struct {
	Tasks      TaskStore
	Executions ExecutionStore
	Policies   PolicyStore
	Audit      AuditSink
	Handlers   HandlerRegistry
	Data       handlers.DataStore
	Catalogs   *catalog.Set
}

type Service struct {
	tasks      TaskStore
	executions ExecutionStore
	policies   PolicyStore
	audit      AuditSink
	handlers   HandlerRegistry
	data       handlers.DataStore
	catalogs   *catalog.Set
	schema     *jsonschema.Schema
	bucket     time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBucket sets the approve-and-execute idempotency window.
// Non-positive values are ignored.
func WithBucket(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.bucket = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(deps Deps, opts ...Option) (*Service, error) {
	if deps.Tasks == nil || deps.Executions == nil || deps.Policies == nil ||
		deps.Audit == nil || deps.Handlers == nil || deps.Data == nil || deps.Catalogs == nil {
		return nil, errors.New("gateway: missing dependency")
	}
	schema, err := compilePlanSchema()
	if err != nil {
		return nil, err
	}
	s := &Service{
		tasks:      deps.Tasks,
		executions: deps.Executions,
		policies:   deps.Policies,
		audit:      deps.Audit,
		handlers:   deps.Handlers,
		data:       deps.Data,
		catalogs:   deps.Catalogs,
		schema:     schema,
		bucket:     DefaultBucket,
		logger:     slog.Default(),
		tracer:     otel.Tracer("taskgate/gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Execute runs action against taskID on behalf of requester. Denials and
// invalid input are returned as domain errors; handler failures are a
// result with status failed.
func (s *Service) Execute(ctx context.Context, taskID id.TaskID, action models.Action, requester requestcontext.Principal) (*models.ExecutionResult, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.Execute",
		trace.WithAttributes(attribute.String("action", string(action))))
	defer span.End()

	start := time.Now()
	now := requestcontext.Now(ctx)

	if !action.Valid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown action "+strconv.Quote(string(action)))
	}

	task, err := s.loadTask(ctx, taskID, requester.TenantID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("intent_key", task.IntentKey))

	def, err := s.validatePlan(task)
	if err != nil {
		return nil, err
	}
	if err := authorize(action, requester.Role); err != nil {
		s.metrics.IncDenial(string(dErrors.CodeRoleDenied))
		return nil, err
	}
	if action == models.ActionApproveAndExecute && def.Level != catalog.LevelExecute {
		return nil, dErrors.New(dErrors.CodeInvalidPlan, "intent does not support execution")
	}

	requestID := s.requestID(task.ID, action, now)
	if res, err := s.replay(ctx, requester.TenantID, requestID); res != nil || err != nil {
		return res, err
	}
	// Checked after replay so a retried success still returns its result.
	if err := task.CanExecute(); err != nil {
		return nil, err
	}

	var res *models.ExecutionResult
	if action == models.ActionRequestApproval {
		res, err = s.requestApproval(ctx, task, requester, requestID, now)
	} else {
		res, err = s.approveAndExecute(ctx, task, def, requester, requestID, now)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("result_status", string(res.Status)))
	s.metrics.IncExecution(string(action), string(res.Status))
	s.metrics.ObserveExecution(string(action), start)
	return res, nil
}

// GetTask is a tenant-scoped read.
func (s *Service) GetTask(ctx context.Context, taskID id.TaskID, tenantID id.TenantID) (*models.Task, error) {
	return s.loadTask(ctx, taskID, tenantID)
}

func (s *Service) loadTask(ctx context.Context, taskID id.TaskID, tenantID id.TenantID) (*models.Task, error) {
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "task not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load task")
	}
	if task.TenantID != tenantID {
		return nil, dErrors.New(dErrors.CodeForbidden, "task belongs to another tenant")
	}
	return task, nil
}

func authorize(action models.Action, role string) error {
	switch role {
	case "admin", "owner":
		return nil
	case "teacher":
		if action == models.ActionRequestApproval {
			return nil
		}
	}
	return dErrors.New(dErrors.CodeRoleDenied, "role "+strconv.Quote(role)+" may not "+string(action))
}

func (s *Service) requestID(taskID id.TaskID, action models.Action, now time.Time) string {
	if action == models.ActionRequestApproval {
		return taskID.String() + ":" + string(action)
	}
	slot := now.UnixNano() / int64(s.bucket)
	return fmt.Sprintf("%s:%s:%d", taskID, action, slot)
}

// replay returns the stored result of a completed request. Both return
// values are nil when the request id is unused.
func (s *Service) replay(ctx context.Context, tenantID id.TenantID, requestID string) (*models.ExecutionResult, error) {
	exec, err := s.executions.Get(ctx, tenantID, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read execution")
	}
	if exec.State != models.ExecutionCompleted || exec.Result == nil {
		return nil, dErrors.New(dErrors.CodeExecutionInProgress, "request "+requestID+" is still running")
	}
	res := *exec.Result
	res.Replayed = true
	s.metrics.IncReplay()
	s.logger.InfoContext(ctx, "execution replayed",
		"request_id", requestID,
		"tenant_id", tenantID.String(),
		"status", string(res.Status),
	)
	return &res, nil
}

func (s *Service) claim(ctx context.Context, task *models.Task, action models.Action, requester requestcontext.Principal, requestID string, now time.Time) (*models.ExecutionResult, error) {
	err := s.executions.Claim(ctx, &models.Execution{
		RequestID: requestID,
		TenantID:  task.TenantID,
		TaskID:    task.ID,
		Action:    action,
		ActorID:   requester.UserID,
		ActorRole: requester.Role,
		State:     models.ExecutionInProgress,
		CreatedAt: now,
	})
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, sentinel.ErrAlreadyExists) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim request")
	}
	// Lost the race: the winner's record decides.
	res, err := s.replay(ctx, task.TenantID, requestID)
	if res == nil && err == nil {
		err = dErrors.New(dErrors.CodeExecutionInProgress, "request "+requestID+" is still running")
	}
	return res, err
}

// release frees a claim whose request did not complete, so a retry with the
// same request id is not stuck behind execution_in_progress.
func (s *Service) release(ctx context.Context, tenantID id.TenantID, requestID string) {
	if err := s.executions.Release(context.WithoutCancel(ctx), tenantID, requestID); err != nil {
		s.logger.ErrorContext(ctx, "failed to release claim",
			"request_id", requestID,
			"tenant_id", tenantID.String(),
			"error", err,
		)
	}
}

func (s *Service) requestApproval(ctx context.Context, task *models.Task, requester requestcontext.Principal, requestID string, now time.Time) (*models.ExecutionResult, error) {
	if res, err := s.claim(ctx, task, models.ActionRequestApproval, requester, requestID, now); res != nil || err != nil {
		return res, err
	}

	expected := task.Version
	task.ApplyApprovalRequest(requester.UserID, now)
	if err := s.tasks.Update(ctx, task, expected); err != nil {
		s.release(ctx, task.TenantID, requestID)
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "task was modified concurrently; reload and retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to annotate task")
	}

	res := models.ExecutionResult{
		RequestID: requestID,
		TaskID:    task.ID,
		Action:    models.ActionRequestApproval,
		Status:    models.ResultRequested,
		Message:   "approval requested",
	}
	if err := s.executions.Complete(ctx, task.TenantID, requestID, res, now); err != nil {
		s.release(ctx, task.TenantID, requestID)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete request")
	}

	s.writeAudit(ctx, auditEntry{
		task:      task,
		requester: requester,
		operation: OperationApprovalRequest,
		status:    models.AuditSuccess,
		summary:   "approval requested: " + task.Plan.Summary,
		details:   map[string]any{"intent_key": task.IntentKey},
		requestID: requestID,
		now:       now,
	})
	return &res, nil
}

func (s *Service) approveAndExecute(ctx context.Context, task *models.Task, def catalog.IntentDefinition, requester requestcontext.Principal, requestID string, now time.Time) (*models.ExecutionResult, error) {
	if err := s.checkGates(ctx, task, def); err != nil {
		code := dErrors.CodeOf(err)
		s.metrics.IncDenial(string(code))
		s.logger.WarnContext(ctx, "execution denied",
			"request_id", requestID,
			"tenant_id", task.TenantID.String(),
			"intent_key", task.IntentKey,
			"code", string(code),
		)
		s.writeAudit(ctx, auditEntry{
			task:      task,
			requester: requester,
			operation: s.operationType(task.IntentKey),
			status:    models.AuditFailed,
			errorCode: string(code),
			summary:   "denied: " + task.Plan.Summary,
			details:   map[string]any{"intent_key": task.IntentKey},
			requestID: requestID,
			now:       now,
		})
		return nil, err
	}

	if res, err := s.claim(ctx, task, models.ActionApproveAndExecute, requester, requestID, now); res != nil || err != nil {
		return res, err
	}

	out, elapsed := s.dispatch(ctx, task, requester, now)
	res := models.ExecutionResult{
		RequestID:     requestID,
		TaskID:        task.ID,
		Action:        models.ActionApproveAndExecute,
		Status:        out.Status,
		ErrorCode:     out.ErrorCode,
		Message:       out.Message,
		AffectedCount: out.AffectedCount,
	}
	if err := s.executions.Complete(ctx, task.TenantID, requestID, res, now); err != nil {
		// The handler already ran, so the outcome is still recorded on the
		// task. Only a failed attempt frees its request id for a retry.
		s.logger.ErrorContext(ctx, "failed to complete request",
			"request_id", requestID,
			"tenant_id", task.TenantID.String(),
			"status", string(res.Status),
			"error", err,
		)
		if res.Status == models.ResultFailed {
			s.release(ctx, task.TenantID, requestID)
		}
	}

	recorded, err := s.recordOutcome(ctx, task, requester.UserID, res, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record task outcome",
			"request_id", requestID,
			"tenant_id", task.TenantID.String(),
			"error", err,
		)
	} else {
		task = recorded
	}

	s.auditOutcome(ctx, task, requester, res, elapsed, now)
	return &res, nil
}

// recordOutcome writes res onto the task. A version conflict reloads the task
// and reapplies, except that a failure never overwrites a task another
// request already closed.
func (s *Service) recordOutcome(ctx context.Context, task *models.Task, approver id.UserID, res models.ExecutionResult, now time.Time) (*models.Task, error) {
	for attempt := 1; ; attempt++ {
		expected := task.Version
		task.ApplyOutcome(approver, res, now)
		err := s.tasks.Update(ctx, task, expected)
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) || attempt == outcomeAttempts {
			return nil, err
		}
		fresh, err := s.tasks.FindByID(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if fresh.Status.IsTerminal() && res.Status == models.ResultFailed {
			return fresh, nil
		}
		task = fresh
	}
}

// checkGates re-authorizes the plan against the catalogs and tenant policy.
// Policy read errors count as disabled.
func (s *Service) checkGates(ctx context.Context, task *models.Task, def catalog.IntentDefinition) error {
	switch def.Class {
	case catalog.ClassMutate:
		if err := s.catalogs.Actions.AssertAllowed(def.ActionKey); err != nil {
			return err
		}
		v, found, err := s.policies.Get(ctx, task.TenantID, catalog.DomainActionPolicyPath(def.ActionKey))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePolicyDenied, "domain action policy unavailable")
		}
		if b, ok := v.(bool); found && ok && !b {
			return dErrors.New(dErrors.CodePolicyDenied, "domain action "+def.ActionKey+" is disabled")
		}
	case catalog.ClassNotify:
		eventType := task.Plan.EventType
		if err := s.catalogs.Events.Assert(eventType); err != nil {
			return err
		}
		v, found, err := s.policies.Get(ctx, task.TenantID, catalog.NotificationPolicyPath(eventType, "enabled"))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePolicyDenied, "notification policy unavailable")
		}
		if b, ok := v.(bool); !found || !ok || !b {
			return dErrors.New(dErrors.CodePolicyDenied, "automatic notification for "+eventType+" is not enabled")
		}
	}
	return nil
}

func (s *Service) operationType(intentKey string) string {
	if op, ok := s.catalogs.Operations.Lookup(intentKey); ok {
		return op.OperationType
	}
	return catalog.UnknownOperation
}
