package gateway

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks TaskStore,ExecutionStore,PolicyStore,AuditSink,HandlerRegistry
//go:generate mockgen -destination=mocks/handler.go -package=mocks taskgate/internal/automation/handlers Handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"taskgate/internal/automation/catalog"
	"taskgate/internal/automation/handlers"
	"taskgate/internal/automation/models"
	"taskgate/internal/automation/service/gateway/mocks"
	"taskgate/internal/automation/store/directory"
	dErrors "taskgate/pkg/domain-errors"
	"taskgate/pkg/platform/sentinel"
	"taskgate/pkg/requestcontext"
	"taskgate/pkg/testutil"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type GatewaySuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	tasks      *mocks.MockTaskStore
	executions *mocks.MockExecutionStore
	policies   *mocks.MockPolicyStore
	audit      *mocks.MockAuditSink
	registry   *mocks.MockHandlerRegistry
	handler    *mocks.MockHandler
	catalogs   *catalog.Set
	service    *Service
	admin      requestcontext.Principal
	ctx        context.Context
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.tasks = mocks.NewMockTaskStore(s.ctrl)
	s.executions = mocks.NewMockExecutionStore(s.ctrl)
	s.policies = mocks.NewMockPolicyStore(s.ctrl)
	s.audit = mocks.NewMockAuditSink(s.ctrl)
	s.registry = mocks.NewMockHandlerRegistry(s.ctrl)
	s.handler = mocks.NewMockHandler(s.ctrl)

	var err error
	s.catalogs, err = catalog.Default()
	s.Require().NoError(err)
	s.service, err = New(Deps{
		Tasks:      s.tasks,
		Executions: s.executions,
		Policies:   s.policies,
		Audit:      s.audit,
		Handlers:   s.registry,
		Data:       directory.NewInMemory(),
		Catalogs:   s.catalogs,
	})
	s.Require().NoError(err)

	s.admin = testutil.NewPrincipal("admin")
	s.ctx = requestcontext.WithTime(context.Background(), fixedNow)
}

func (s *GatewaySuite) SetupSubTest() {
	s.SetupTest()
}

// newTask builds a pending task with a plan that passes validation for intentKey.
func (s *GatewaySuite) newTask(intentKey string) *models.Task {
	return buildTask(s.T(), s.catalogs, s.admin, intentKey)
}

func buildTask(t *testing.T, catalogs *catalog.Set, owner requestcontext.Principal, intentKey string) *models.Task {
	t.Helper()
	def, ok := catalogs.Intents.Get(intentKey)
	if !ok {
		t.Fatalf("intent %s not in catalog", intentKey)
	}
	plan := models.Plan{
		SchemaVersion:   models.PlanSchemaVersion,
		IntentKey:       intentKey,
		Params:          map[string]any{"student_id": "s1", "date": "2026-03-02", "settlement_mode": "none"},
		AutomationLevel: string(def.Level),
		ExecutionClass:  string(def.Class),
		EventType:       def.EventType,
		Targets:         models.PlanTargets{StudentIDs: []string{"s1"}, Count: 1},
		Security:        models.PlanSecurity{RequestedBy: owner.UserID.String(), RequestedAt: fixedNow},
		Samples:         []string{},
		Risks:           []string{},
		Summary:         def.Description + " (1)",
	}
	task, err := models.NewTask(owner.TenantID, owner.UserID, plan, fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	return task
}

func (s *GatewaySuite) requireCode(err error, code dErrors.Code) {
	s.T().Helper()
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), err.Error())
}

func (s *GatewaySuite) expectNoExecution() {
	s.executions.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
}

func (s *GatewaySuite) TestCatalogDeniedForEveryRoleAndPolicyState() {
	policyStates := []struct {
		name  string
		value any
		found bool
		err   error
	}{
		{name: "unset"},
		{name: "enabled", value: true, found: true},
		{name: "disabled", value: false, found: true},
		{name: "store error", err: errors.New("db down")},
	}
	for _, role := range []string{"admin", "owner"} {
		for _, ps := range policyStates {
			s.Run(role+"/"+ps.name, func() {
				requester := s.admin
				requester.Role = role
				task := s.newTask("student.exec.change_class")

				s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
				s.expectNoExecution()
				s.policies.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).Return(ps.value, ps.found, ps.err).AnyTimes()
				s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
					func(_ context.Context, rec models.AuditRecord) error {
						s.Equal(models.AuditFailed, rec.Status)
						s.Equal(string(dErrors.CodeCatalogDenied), rec.ErrorCode)
						s.Equal(catalog.UnknownOperation, rec.OperationType)
						return nil
					})

				_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, requester)
				s.requireCode(err, dErrors.CodeCatalogDenied)
			})
		}
	}
}

func (s *GatewaySuite) TestRoleGate() {
	tests := []struct {
		role   string
		action models.Action
		denied bool
	}{
		{role: "teacher", action: models.ActionRequestApproval},
		{role: "teacher", action: models.ActionApproveAndExecute, denied: true},
		{role: "staff", action: models.ActionRequestApproval, denied: true},
		{role: "", action: models.ActionApproveAndExecute, denied: true},
	}
	for _, tt := range tests {
		s.Run(tt.role+" "+string(tt.action), func() {
			requester := s.admin
			requester.Role = tt.role
			task := s.newTask("student.exec.discharge")
			s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)

			if tt.denied {
				_, err := s.service.Execute(s.ctx, task.ID, tt.action, requester)
				s.requireCode(err, dErrors.CodeRoleDenied)
				return
			}

			s.expectNoExecution()
			s.executions.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(nil)
			s.tasks.EXPECT().Update(gomock.Any(), gomock.Any(), int64(1)).Return(nil)
			s.executions.EXPECT().Complete(gomock.Any(), task.TenantID, task.ID.String()+":request-approval", gomock.Any(), fixedNow).Return(nil)
			s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

			res, err := s.service.Execute(s.ctx, task.ID, tt.action, requester)
			s.Require().NoError(err)
			s.Equal(models.ResultRequested, res.Status)
		})
	}
}

func (s *GatewaySuite) TestLoadFailures() {
	s.Run("missing task", func() {
		task := s.newTask("student.exec.discharge")
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(nil, sentinel.ErrNotFound)
		_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("task of another tenant", func() {
		task := s.newTask("student.exec.discharge")
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
		_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, testutil.NewPrincipal("owner"))
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("executed task", func() {
		task := s.newTask("student.exec.discharge")
		task.Status = models.TaskExecuted
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
		s.expectNoExecution()
		_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
		s.requireCode(err, dErrors.CodeInvariantViolation)
	})

	s.Run("unknown action", func() {
		task := s.newTask("student.exec.discharge")
		_, err := s.service.Execute(s.ctx, task.ID, models.Action("delete"), s.admin)
		s.requireCode(err, dErrors.CodeBadRequest)
	})
}

func (s *GatewaySuite) TestInvalidPlans() {
	tests := []struct {
		name   string
		intent string
		mutate func(*models.Plan)
	}{
		{name: "wrong schema version", intent: "student.exec.discharge", mutate: func(p *models.Plan) { p.SchemaVersion = "v0" }},
		{name: "unknown level", intent: "student.exec.discharge", mutate: func(p *models.Plan) { p.AutomationLevel = "Auto" }},
		{name: "nil params", intent: "student.exec.discharge", mutate: func(p *models.Plan) { p.Params = nil }},
		{name: "execute without class", intent: "student.exec.discharge", mutate: func(p *models.Plan) { p.ExecutionClass = "" }},
		{name: "class disagrees with catalog", intent: "student.exec.discharge", mutate: func(p *models.Plan) { p.ExecutionClass = "Notify"; p.EventType = "attendance_late" }},
		{name: "notify without event", intent: "attendance.exec.notify_guardians_late", mutate: func(p *models.Plan) { p.EventType = "" }},
		{name: "intent differs from task", intent: "student.exec.discharge", mutate: func(p *models.Plan) { p.IntentKey = "student.exec.pause" }},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			task := s.newTask(tt.intent)
			tt.mutate(&task.Plan)
			s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)

			_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
			s.requireCode(err, dErrors.CodeInvalidPlan)
		})
	}

	s.Run("propose level cannot execute", func() {
		task := s.newTask("attendance.task.flag_late_followup")
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)

		_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
		s.requireCode(err, dErrors.CodeInvalidPlan)
		s.Contains(err.Error(), "intent does not support execution")
	})
}

func (s *GatewaySuite) TestGates() {
	s.Run("unknown event type is rejected before policy", func() {
		task := s.newTask("attendance.exec.notify_guardians_late")
		task.Plan.EventType = "fire_drill"
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
		s.expectNoExecution()
		s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

		_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
		s.requireCode(err, dErrors.CodeInvalidEventType)
	})

	s.Run("notify needs an explicit true", func() {
		for _, v := range []any{nil, false, "true", 1} {
			task := s.newTask("attendance.exec.notify_guardians_late")
			s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
			s.expectNoExecution()
			s.policies.EXPECT().Get(gomock.Any(), task.TenantID, "auto_notification.attendance_late.enabled").Return(v, v != nil, nil)
			s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

			_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
			s.requireCode(err, dErrors.CodePolicyDenied)
		}
	})

	s.Run("mutate is denied only by an explicit false", func() {
		task := s.newTask("student.exec.discharge")
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
		s.expectNoExecution()
		s.policies.EXPECT().Get(gomock.Any(), task.TenantID, "domain_action.student.discharge.enabled").Return(false, true, nil)
		s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

		_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
		s.requireCode(err, dErrors.CodePolicyDenied)
	})

	s.Run("policy read errors fail closed", func() {
		task := s.newTask("student.exec.discharge")
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
		s.expectNoExecution()
		s.policies.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, false, errors.New("db down"))
		s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

		_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
		s.requireCode(err, dErrors.CodePolicyDenied)
	})
}

// expectExecution wires a discharge task through the gates and claim.
func (s *GatewaySuite) expectExecution(task *models.Task) {
	s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
	s.expectNoExecution()
	s.policies.EXPECT().Get(gomock.Any(), task.TenantID, "domain_action.student.discharge.enabled").Return(nil, false, nil)
	s.executions.EXPECT().Claim(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e *models.Execution) error {
			s.Equal(models.ExecutionInProgress, e.State)
			s.Equal(s.admin.UserID, e.ActorID)
			return nil
		})
}

func (s *GatewaySuite) TestHandlerOutcomes() {
	two := 2
	tests := []struct {
		name       string
		handlerOK  bool
		result     handlers.Result
		err        error
		panics     bool
		wantStatus models.ResultStatus
		wantCode   string
		wantTask   models.TaskStatus
		wantAudit  models.AuditStatus
	}{
		{
			name: "success", handlerOK: true,
			result:     handlers.Result{Status: models.ResultSuccess, AffectedCount: &two},
			wantStatus: models.ResultSuccess, wantTask: models.TaskExecuted, wantAudit: models.AuditSuccess,
		},
		{
			name: "partial", handlerOK: true,
			result:     handlers.Result{Status: models.ResultPartial, ErrorCode: models.ErrorCodePartialSuccess, AffectedCount: &two},
			wantStatus: models.ResultPartial, wantCode: models.ErrorCodePartialSuccess, wantTask: models.TaskExecuted, wantAudit: models.AuditPartial,
		},
		{
			name: "failed result", handlerOK: true,
			result:     handlers.Result{Status: models.ResultFailed, ErrorCode: models.ErrorCodeTargetNotFound},
			wantStatus: models.ResultFailed, wantCode: models.ErrorCodeTargetNotFound, wantTask: models.TaskPending, wantAudit: models.AuditFailed,
		},
		{
			name: "handler error", handlerOK: true, err: errors.New("boom"),
			wantStatus: models.ResultFailed, wantCode: models.ErrorCodeExecution, wantTask: models.TaskPending, wantAudit: models.AuditFailed,
		},
		{
			name: "handler panic", handlerOK: true, panics: true,
			wantStatus: models.ResultFailed, wantCode: models.ErrorCodeExecution, wantTask: models.TaskPending, wantAudit: models.AuditFailed,
		},
		{
			name:       "no handler registered",
			wantStatus: models.ResultFailed, wantCode: models.ErrorCodeHandlerNotRegistered, wantTask: models.TaskPending, wantAudit: models.AuditFailed,
		},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			task := s.newTask("student.exec.discharge")
			s.expectExecution(task)

			if tt.handlerOK {
				s.registry.EXPECT().Get("student.exec.discharge").Return(s.handler, true)
				call := s.handler.EXPECT().Execute(gomock.Any(), task.Plan, gomock.Any())
				if tt.panics {
					call.Do(func(context.Context, models.Plan, handlers.HandlerContext) { panic("nil map") })
				} else {
					call.DoAndReturn(func(_ context.Context, _ models.Plan, hc handlers.HandlerContext) (handlers.Result, error) {
						s.Equal(task.TenantID, hc.TenantID)
						s.Equal(fixedNow, hc.Now)
						return tt.result, tt.err
					})
				}
			} else {
				s.registry.EXPECT().Get("student.exec.discharge").Return(nil, false)
			}

			s.executions.EXPECT().Complete(gomock.Any(), task.TenantID, gomock.Any(), gomock.Any(), fixedNow).Return(nil)
			s.tasks.EXPECT().Update(gomock.Any(), gomock.Any(), int64(1)).DoAndReturn(func(_ context.Context, t *models.Task, _ int64) error {
				s.Equal(tt.wantTask, t.Status)
				s.Require().NotNil(t.LastResult)
				s.Equal(tt.wantStatus, t.LastResult.Status)
				return nil
			})
			s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec models.AuditRecord) error {
				s.Equal("student_discharge", rec.OperationType)
				s.Equal(tt.wantAudit, rec.Status)
				s.Equal(tt.wantCode, rec.ErrorCode)
				s.Contains(rec.CorrelationKey, task.ID.String()+":approve-and-execute:")
				s.NotContains(rec.Details, "student_id")
				return nil
			})

			res, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
			s.Require().NoError(err)
			s.Equal(tt.wantStatus, res.Status)
			s.Equal(tt.wantCode, res.ErrorCode)
			s.False(res.Replayed)
		})
	}
}

func (s *GatewaySuite) TestReplayAndRace() {
	s.Run("completed request replays without side effects", func() {
		task := s.newTask("student.exec.discharge")
		task.Status = models.TaskExecuted
		stored := models.ExecutionResult{RequestID: "r", TaskID: task.ID, Action: models.ActionApproveAndExecute, Status: models.ResultSuccess}
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
		s.executions.EXPECT().Get(gomock.Any(), task.TenantID, gomock.Any()).
			Return(&models.Execution{State: models.ExecutionCompleted, Result: &stored}, nil)

		res, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
		s.Require().NoError(err)
		s.True(res.Replayed)
		s.Equal(models.ResultSuccess, res.Status)
	})

	s.Run("running request conflicts", func() {
		task := s.newTask("student.exec.discharge")
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
		s.executions.EXPECT().Get(gomock.Any(), task.TenantID, gomock.Any()).
			Return(&models.Execution{State: models.ExecutionInProgress}, nil)

		_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
		s.requireCode(err, dErrors.CodeExecutionInProgress)
	})

	s.Run("losing the claim race reads the winner", func() {
		task := s.newTask("student.exec.discharge")
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
		s.policies.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, false, nil)
		gomock.InOrder(
			s.executions.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound),
			s.executions.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(sentinel.ErrAlreadyExists),
			s.executions.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).Return(&models.Execution{State: models.ExecutionInProgress}, nil),
		)

		_, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
		s.requireCode(err, dErrors.CodeExecutionInProgress)
	})
}

func (s *GatewaySuite) TestApprovalRequestReleasesUnfinishedClaims() {
	requestID := func(task *models.Task) string { return task.ID.String() + ":request-approval" }

	s.Run("task write failure frees the request id for a retry", func() {
		task := s.newTask("student.exec.discharge")
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil).Times(2)
		gomock.InOrder(
			s.executions.EXPECT().Get(gomock.Any(), task.TenantID, requestID(task)).Return(nil, sentinel.ErrNotFound),
			s.executions.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(nil),
			s.tasks.EXPECT().Update(gomock.Any(), gomock.Any(), int64(1)).Return(errors.New("transient db error")),
			s.executions.EXPECT().Release(gomock.Any(), task.TenantID, requestID(task)).Return(nil),

			s.executions.EXPECT().Get(gomock.Any(), task.TenantID, requestID(task)).Return(nil, sentinel.ErrNotFound),
			s.executions.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(nil),
			s.tasks.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),
			s.executions.EXPECT().Complete(gomock.Any(), task.TenantID, requestID(task), gomock.Any(), fixedNow).Return(nil),
		)
		s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

		_, err := s.service.Execute(s.ctx, task.ID, models.ActionRequestApproval, s.admin)
		s.requireCode(err, dErrors.CodeInternal)

		res, err := s.service.Execute(s.ctx, task.ID, models.ActionRequestApproval, s.admin)
		s.Require().NoError(err)
		s.Equal(models.ResultRequested, res.Status)
		s.False(res.Replayed)
	})

	s.Run("a concurrent task change is a conflict", func() {
		task := s.newTask("student.exec.discharge")
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
		s.expectNoExecution()
		s.executions.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(nil)
		s.tasks.EXPECT().Update(gomock.Any(), gomock.Any(), int64(1)).Return(sentinel.ErrConflict)
		s.executions.EXPECT().Release(gomock.Any(), task.TenantID, requestID(task)).Return(nil)

		_, err := s.service.Execute(s.ctx, task.ID, models.ActionRequestApproval, s.admin)
		s.requireCode(err, dErrors.CodeConflict)
	})

	s.Run("complete failure releases the claim", func() {
		task := s.newTask("student.exec.discharge")
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(task, nil)
		s.expectNoExecution()
		s.executions.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(nil)
		s.tasks.EXPECT().Update(gomock.Any(), gomock.Any(), int64(1)).Return(nil)
		s.executions.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("redis down"))
		s.executions.EXPECT().Release(gomock.Any(), task.TenantID, requestID(task)).Return(nil)

		_, err := s.service.Execute(s.ctx, task.ID, models.ActionRequestApproval, s.admin)
		s.requireCode(err, dErrors.CodeInternal)
	})
}

func (s *GatewaySuite) TestExecutionCompleteFailure() {
	s.Run("a failed attempt is released for retry", func() {
		task := s.newTask("student.exec.discharge")
		s.expectExecution(task)
		s.registry.EXPECT().Get(gomock.Any()).Return(s.handler, true)
		s.handler.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(handlers.Result{Status: models.ResultFailed, ErrorCode: models.ErrorCodeTargetNotFound}, nil)
		s.executions.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("redis down"))
		s.executions.EXPECT().Release(gomock.Any(), task.TenantID, gomock.Any()).Return(nil)
		s.tasks.EXPECT().Update(gomock.Any(), gomock.Any(), int64(1)).Return(nil)
		s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

		res, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
		s.Require().NoError(err)
		s.Equal(models.ResultFailed, res.Status)
	})

	s.Run("a success keeps its claim and still closes the task", func() {
		task := s.newTask("student.exec.discharge")
		s.expectExecution(task)
		s.registry.EXPECT().Get(gomock.Any()).Return(s.handler, true)
		s.handler.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).Return(handlers.Result{Status: models.ResultSuccess}, nil)
		s.executions.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("redis down"))
		s.tasks.EXPECT().Update(gomock.Any(), gomock.Any(), int64(1)).DoAndReturn(func(_ context.Context, t *models.Task, _ int64) error {
			s.Equal(models.TaskExecuted, t.Status)
			return nil
		})
		s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

		res, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
		s.Require().NoError(err)
		s.Equal(models.ResultSuccess, res.Status)
	})
}

func (s *GatewaySuite) TestOutcomeIsReappliedAfterVersionConflict() {
	task := s.newTask("student.exec.discharge")
	s.expectExecution(task)
	s.registry.EXPECT().Get(gomock.Any()).Return(s.handler, true)
	s.handler.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).Return(handlers.Result{Status: models.ResultSuccess}, nil)
	s.executions.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	annotated := *task
	annotated.ApplyApprovalRequest(s.admin.UserID, fixedNow)
	annotated.Version = 2
	gomock.InOrder(
		s.tasks.EXPECT().Update(gomock.Any(), gomock.Any(), int64(1)).Return(sentinel.ErrConflict),
		s.tasks.EXPECT().FindByID(gomock.Any(), task.ID).Return(&annotated, nil),
		s.tasks.EXPECT().Update(gomock.Any(), gomock.Any(), int64(2)).DoAndReturn(func(_ context.Context, t *models.Task, _ int64) error {
			s.Equal(models.TaskExecuted, t.Status)
			s.NotNil(t.ApprovalRequestedAt, "the concurrent annotation is kept")
			return nil
		}),
	)
	s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

	res, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
	s.Require().NoError(err)
	s.Equal(models.ResultSuccess, res.Status)
}

func (s *GatewaySuite) TestAuditFailureDoesNotFailExecution() {
	task := s.newTask("student.exec.discharge")
	s.expectExecution(task)
	s.registry.EXPECT().Get(gomock.Any()).Return(s.handler, true)
	s.handler.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).Return(handlers.Result{Status: models.ResultSuccess}, nil)
	s.executions.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.tasks.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.audit.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("kafka down"))

	res, err := s.service.Execute(s.ctx, task.ID, models.ActionApproveAndExecute, s.admin)
	s.Require().NoError(err)
	s.Equal(models.ResultSuccess, res.Status)
}

func (s *GatewaySuite) TestRequestID() {
	task := s.newTask("student.exec.discharge")
	a := s.service.requestID(task.ID, models.ActionApproveAndExecute, fixedNow)
	b := s.service.requestID(task.ID, models.ActionApproveAndExecute, fixedNow.Add(4*time.Minute))
	c := s.service.requestID(task.ID, models.ActionApproveAndExecute, fixedNow.Add(5*time.Minute))
	s.Equal(a, b)
	s.NotEqual(a, c)
	s.Equal(task.ID.String()+":request-approval", s.service.requestID(task.ID, models.ActionRequestApproval, fixedNow))
}
